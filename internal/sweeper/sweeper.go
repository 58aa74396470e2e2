package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/mailgate/internal/monitoring"
)

// Expirer 删除已过期的邮箱及其邮件
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweeper 定时清理过期邮箱。
//
// 启动后立即执行一次，之后按固定间隔执行。同一实例的两次清理不会重叠，
// 清理失败只记录日志，不影响后续调度。
type Sweeper struct {
	store    Expirer
	interval time.Duration
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time

	runMu sync.Mutex

	stateMu sync.RWMutex
	lastRun time.Time
	lastErr error

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// Option 定制 Sweeper
type Option func(*Sweeper)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithMetrics 启用监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// New 创建清理任务，interval 必须为正数
func New(store Expirer, interval time.Duration, logger *zap.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 在后台启动清理循环。重复调用或 Stop 之后调用不产生任何效果。
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	s.logger.Info("starting expired mailbox sweeper", zap.Duration("interval", s.interval))
	go s.loop()
}

// Stop 停止后续调度并等待正在进行的清理完成，可以重复调用。
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	close(s.stop)
	s.mu.Unlock()

	if started {
		<-s.done
		s.logger.Info("expired mailbox sweeper stopped")
	}
}

func (s *Sweeper) loop() {
	defer close(s.done)

	s.tick()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	_, _ = s.RunOnce(ctx)
}

// RunOnce 执行一次清理，返回删除的邮箱数量。
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	now := s.now()

	count, err := s.store.DeleteExpired(ctx, now)
	s.metrics.RecordSweep(count, time.Since(start), err)

	s.stateMu.Lock()
	s.lastRun = now
	s.lastErr = err
	s.stateMu.Unlock()

	if err != nil {
		s.logger.Error("failed to sweep expired mailboxes", zap.Error(err))
		return 0, err
	}
	if count > 0 {
		s.logger.Info("expired mailboxes swept", zap.Int("count", count))
	} else {
		s.logger.Debug("sweep found no expired mailboxes")
	}
	return count, nil
}

// LastRun 返回最近一次清理的时间与结果，尚未运行时时间为零值
func (s *Sweeper) LastRun() (time.Time, error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastRun, s.lastErr
}

// Interval 返回清理周期
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}
