package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/mailgate/internal/config"
	"tempmail/mailgate/internal/health"
	"tempmail/mailgate/internal/logger"
	"tempmail/mailgate/internal/monitoring"
	"tempmail/mailgate/internal/pool"
	"tempmail/mailgate/internal/service"
	"tempmail/mailgate/internal/smtp"
	"tempmail/mailgate/internal/storage"
	"tempmail/mailgate/internal/storage/memory"
	"tempmail/mailgate/internal/storage/redis"
	sqlstore "tempmail/mailgate/internal/storage/sql"
	"tempmail/mailgate/internal/sweeper"
	httptransport "tempmail/mailgate/internal/transport/http"
	"tempmail/mailgate/internal/websocket"
)

const (
	notifyWorkers   = 4
	notifyQueueSize = 256

	resubscribeDelay = 5 * time.Second
)

// main 启动同时包含 HTTP API、SMTP 收信与过期清理的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting tempmail server",
		zap.String("domain", cfg.Mailbox.Domain),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	store, err := initializeStorage(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}

	metrics := monitoring.NewMetrics()

	// 服务层
	mailboxService := service.NewMailboxService(store, cfg.Mailbox, log, service.WithMetrics(metrics))
	ingestService := service.NewIngestService(store, mailboxService, cfg.SMTP.MaxMessageBytes, log, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// 新邮件通知在协程池中异步执行，不阻塞 SMTP 会话
	notifyPool := pool.NewWorkerPool("notify", notifyWorkers, notifyQueueSize, log, metrics)
	notifyPool.Start()

	wsHub := websocket.NewHub(mailboxService, cfg.CORS.AllowedOrigins, log, metrics)

	healthChecker := health.NewHealthChecker(store, metrics.Registry(), log)

	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient, err = redis.New(cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to initialize redis", zap.Error(err))
		}
		notifier := redis.NewNotifier(redisClient, cfg.Redis.Channel, log)
		ingestService.SetNotifier(notifier, notifyPool)
		healthChecker.AddRedis(health.PingerFunc(redisClient.Ping))

		// 通知是尽力而为的，订阅断开后按固定间隔重连，不影响收信
		group.Go(func() error {
			for {
				err := notifier.Subscribe(groupCtx, wsHub)
				if groupCtx.Err() != nil {
					return nil
				}
				log.Warn("redis subscription lost, retrying", zap.Error(err), zap.Duration("backoff", resubscribeDelay))
				select {
				case <-groupCtx.Done():
					return nil
				case <-time.After(resubscribeDelay):
				}
			}
		})
	} else {
		ingestService.SetNotifier(wsHub, notifyPool)
	}

	expirySweeper := sweeper.New(store, cfg.Sweeper.Interval, log, sweeper.WithMetrics(metrics))
	healthChecker.AddSweeper(expirySweeper)

	// HTTP 服务器
	httpAddr := cfg.Server.ListenAddr()
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		MailboxService: mailboxService,
		WebSocketHub:   wsHub,
		Health:         healthChecker,
		Metrics:        metrics,
		Logger:         log,
	})
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SMTP 服务器
	limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.ConnsPerSecond)
	smtpBackend := smtp.NewBackend(mailboxService, ingestService, cfg.SMTP.MaxRecipients, limiter, log, metrics)
	smtpServer := smtp.NewServer(cfg.SMTP, smtpBackend)

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
			zap.Int("max_connections", cfg.SMTP.MaxConnections),
		)
		if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	expirySweeper.Start()

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 先停止接收新连接，再等待进行中的会话结束
		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("SMTP server did not drain in time, closing", zap.Error(err))
			_ = smtpServer.Close()
		}

		expirySweeper.Stop()
		if err := notifyPool.Stop(shutdownCtx); err != nil {
			log.Warn("pending notifications abandoned", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
	}

	if err := store.Close(); err != nil {
		log.Warn("failed to close storage", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	log.Info("server exited cleanly")
}

// initializeStorage 按配置选择存储实现，type 为 memory 时数据只保存在进程内。
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "memory" {
		log.Info("using memory storage")
		return memory.NewStore(), nil
	}

	log.Info("initializing database storage",
		zap.String("database_type", cfg.Database.Type),
		zap.Bool("auto_migrate", cfg.Database.AutoMigrate),
	)

	store, err := sqlstore.NewStore(cfg.Database.Type, cfg.Database.DSN, sqlstore.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		AutoMigrate:     cfg.Database.AutoMigrate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", cfg.Database.Type, err)
	}

	log.Info("database storage initialized successfully", zap.String("database_type", cfg.Database.Type))
	return store, nil
}
