package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/mailgate/internal/domain"
	"tempmail/mailgate/internal/mime"
	"tempmail/mailgate/internal/monitoring"
	"tempmail/mailgate/internal/storage"
)

// Notifier 发布新邮件事件
type Notifier interface {
	Publish(ctx context.Context, event domain.NewMailEvent) error
}

// TaskRunner 异步执行后台任务，队列满时返回 false
type TaskRunner interface {
	TrySubmit(task func()) bool
}

// IngestService 把 SMTP DATA 阶段的原始邮件解码并写入收件邮箱。
type IngestService struct {
	store     storage.Store
	mailboxes *MailboxService
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	notifier  Notifier
	runner    TaskRunner
	maxBytes  int64
}

// NewIngestService 创建入库服务。maxBytes <= 0 表示不限制大小。
func NewIngestService(store storage.Store, mailboxes *MailboxService, maxBytes int64, logger *zap.Logger, metrics *monitoring.Metrics) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		store:     store,
		mailboxes: mailboxes,
		logger:    logger,
		metrics:   metrics,
		maxBytes:  maxBytes,
	}
}

// SetNotifier 设置新邮件通知；runner 为 nil 时在当前协程同步发送
func (s *IngestService) SetNotifier(notifier Notifier, runner TaskRunner) {
	s.notifier = notifier
	s.runner = runner
}

// Ingest 解码原始邮件并为每个收件人各保存一封。
//
// 解码失败返回 domain.ErrDecode；任一收件邮箱已不存在或已过期返回 domain.ErrMailboxNotFound；
// 两种情况下都不会保存任何邮件。
func (s *IngestService) Ingest(ctx context.Context, recipients []string, raw io.Reader) ([]*domain.Message, error) {
	start := time.Now()

	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no accepted recipients", domain.ErrValidation)
	}

	data, err := s.read(raw)
	if err != nil {
		s.metrics.RecordIngestFailure("read")
		return nil, err
	}

	parsed, err := mime.ParseBytes(data)
	if err != nil {
		s.metrics.RecordIngestFailure("decode")
		s.logger.Warn("message decode failed", zap.Strings("recipients", recipients), zap.Error(err))
		return nil, err
	}

	// RCPT 之后可能已经过期或被清理，这里重新确认
	now := s.mailboxes.Now()
	messages := make([]*domain.Message, 0, len(recipients))
	addresses := make([]string, 0, len(recipients))
	for _, rcpt := range recipients {
		mailbox, err := s.mailboxes.Find(ctx, rcpt)
		if err != nil {
			s.metrics.RecordIngestFailure(failureReason(err))
			return nil, fmt.Errorf("recipient %s: %w", rcpt, err)
		}
		if !mailbox.IsLive(now) {
			s.metrics.RecordIngestFailure("not_found")
			return nil, fmt.Errorf("recipient %s expired: %w", rcpt, domain.ErrMailboxNotFound)
		}
		messages = append(messages, newMessage(mailbox.ID, parsed, now))
		addresses = append(addresses, mailbox.Address)
	}

	if err := s.store.SaveMessages(ctx, messages...); err != nil {
		s.metrics.RecordIngestFailure(failureReason(err))
		s.logger.Warn("message store failed", zap.Strings("recipients", addresses), zap.Error(err))
		return nil, err
	}

	s.metrics.RecordMessageStored(len(messages), time.Since(start))
	for _, att := range parsed.Attachments {
		s.metrics.RecordAttachmentSize(att.Size)
	}
	for i, msg := range messages {
		s.logger.Info("message stored",
			zap.String("address", addresses[i]),
			zap.String("message_id", msg.ID),
			zap.String("from", msg.From),
			zap.Int("attachments", len(msg.Attachments)),
		)
		s.notify(addresses[i], msg)
	}
	return messages, nil
}

func (s *IngestService) read(raw io.Reader) ([]byte, error) {
	if s.maxBytes <= 0 {
		data, err := io.ReadAll(raw)
		if err != nil {
			return nil, fmt.Errorf("read message: %w", err)
		}
		return data, nil
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(raw, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	if n > s.maxBytes {
		return nil, fmt.Errorf("%w: message exceeds %d bytes", domain.ErrValidation, s.maxBytes)
	}
	return buf.Bytes(), nil
}

func (s *IngestService) notify(address string, msg *domain.Message) {
	if s.notifier == nil {
		return
	}
	event := domain.NewMailEvent{Address: address, Message: msg.Summary()}

	publish := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.Publish(ctx, event); err != nil {
			s.logger.Warn("new mail notification failed", zap.String("address", address), zap.Error(err))
		}
	}

	if s.runner == nil {
		publish()
		return
	}
	if !s.runner.TrySubmit(publish) {
		s.logger.Warn("notification queue full, dropping event", zap.String("address", address))
	}
}

func newMessage(mailboxID string, parsed *domain.ParsedEmail, receivedAt time.Time) *domain.Message {
	return &domain.Message{
		ID:          uuid.NewString(),
		MailboxID:   mailboxID,
		From:        parsed.From,
		To:          parsed.To,
		Subject:     parsed.Subject,
		TextBody:    parsed.TextBody,
		HTMLBody:    parsed.HTMLBody,
		Attachments: parsed.Attachments,
		Headers:     parsed.Headers,
		ReceivedAt:  receivedAt,
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrDecode):
		return "decode"
	default:
		return "store"
	}
}
