package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tempmail/mailgate/internal/config"
	"tempmail/mailgate/internal/domain"
)

const connectTimeout = 5 * time.Second

// Client 持有新邮件通知使用的 Redis 连接。
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

// options 把配置转换为 go-redis 选项。Address 可以是 host:port，也可以是 redis:// 或 rediss:// URL。
func options(cfg config.RedisConfig) (*goredis.Options, error) {
	var opts *goredis.Options
	if strings.HasPrefix(cfg.Address, "redis://") || strings.HasPrefix(cfg.Address, "rediss://") {
		parsed, err := goredis.ParseURL(cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid redis url: %w", domain.ErrValidation, err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{Addr: cfg.Address, DB: cfg.DB}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	// 发布是尽力而为的，超时要短，不能拖慢通知协程池
	opts.DialTimeout = connectTimeout
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.PoolSize = 4
	return opts, nil
}

// New 连接 Redis 并确认可用，失败时不保留任何连接。
func New(cfg config.RedisConfig, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: connect to redis %s: %w", domain.ErrTransientIO, opts.Addr, err)
	}

	log.Info("connected to Redis",
		zap.String("address", opts.Addr),
		zap.Int("db", opts.DB),
	)
	return &Client{rdb: rdb, log: log}, nil
}

// Ping 供就绪检查使用
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.log.Warn("failed to close Redis connection", zap.Error(err))
		return err
	}
	c.log.Info("Redis connection closed")
	return nil
}
