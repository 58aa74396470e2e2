package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/mailgate/internal/config"
	"tempmail/mailgate/internal/domain"
	"tempmail/mailgate/internal/monitoring"
	"tempmail/mailgate/internal/storage"
)

// MailboxService 封装邮箱生命周期相关业务操作。
type MailboxService struct {
	store   storage.Store
	gen     AddressGenerator
	cfg     config.MailboxConfig
	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// Option 定制服务实例
type Option func(*MailboxService)

// WithClock 替换时钟，测试中用于推进时间
func WithClock(now func() time.Time) Option {
	return func(s *MailboxService) {
		s.now = now
	}
}

// WithGenerator 替换地址生成器
func WithGenerator(gen AddressGenerator) Option {
	return func(s *MailboxService) {
		s.gen = gen
	}
}

// WithMetrics 启用监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *MailboxService) {
		s.metrics = m
	}
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(store storage.Store, cfg config.MailboxConfig, logger *zap.Logger, opts ...Option) *MailboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MailboxService{
		store:  store,
		gen:    NewRandomGenerator(cfg.Domain, cfg.TokenLength),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.CreateAttempts < 1 {
		s.cfg.CreateAttempts = 1
	}
	return s
}

// Create 创建新的临时邮箱。
//
// ttlMinutes 为 nil 时使用默认值，随后限制在 [MinTTL, MaxTTL]；非正数返回 domain.ErrInvalidTTL。
// 生成的地址与已有地址冲突时重新生成，最多尝试 CreateAttempts 次。
func (s *MailboxService) Create(ctx context.Context, ttlMinutes *int) (*domain.Mailbox, error) {
	if ttlMinutes != nil && *ttlMinutes <= 0 {
		return nil, domain.ErrInvalidTTL
	}
	ttl := domain.ClampTTL(ttlMinutes, s.cfg.DefaultTTL, s.cfg.MinTTL, s.cfg.MaxTTL)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.CreateAttempts; attempt++ {
		now := s.now().UTC()
		mailbox := &domain.Mailbox{
			ID:        uuid.NewString(),
			Address:   domain.NormalizeAddress(s.gen.Generate()),
			CreatedAt: now,
			ExpiresAt: now.Add(time.Duration(ttl) * time.Minute),
		}

		err := s.store.CreateMailbox(ctx, mailbox)
		if err == nil {
			s.metrics.RecordMailboxCreated()
			s.logger.Info("mailbox created",
				zap.String("address", mailbox.Address),
				zap.Int("ttl_minutes", ttl),
				zap.Time("expires_at", mailbox.ExpiresAt),
			)
			return mailbox, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}

		lastErr = err
		s.metrics.RecordAddressCollision()
		s.logger.Warn("generated address collided, retrying",
			zap.String("address", mailbox.Address),
			zap.Int("attempt", attempt),
		)
	}

	return nil, fmt.Errorf("no unique address after %d attempts: %w", s.cfg.CreateAttempts, lastErr)
}

// Find 按地址（不区分大小写）查找邮箱。
func (s *MailboxService) Find(ctx context.Context, address string) (*domain.Mailbox, error) {
	return s.store.GetMailboxByAddress(ctx, domain.NormalizeAddress(address))
}

// IsLive 判断地址当前是否可以收信。
//
// 每次调用都重新读取存储，结果不做任何缓存。不存在的地址返回 false 且不报错，
// 只有存储故障才返回错误。
func (s *MailboxService) IsLive(ctx context.Context, address string) (bool, error) {
	mailbox, err := s.Find(ctx, address)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return mailbox.IsLive(s.now()), nil
}

// Now 返回服务使用的当前时间
func (s *MailboxService) Now() time.Time {
	return s.now().UTC()
}
