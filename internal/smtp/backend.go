package smtp

import (
	"context"
	"io"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempmail/mailgate/internal/domain"
	"tempmail/mailgate/internal/monitoring"
)

// LivenessChecker 判断地址当前是否可收信，每次调用都必须读取最新状态
type LivenessChecker interface {
	IsLive(ctx context.Context, address string) (bool, error)
}

// Ingester 消费 DATA 阶段的原始邮件
type Ingester interface {
	Ingest(ctx context.Context, recipients []string, raw io.Reader) ([]*domain.Message, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的 SMTP 服务器：只接受发往本系统签发且未过期地址的邮件，
// 其他收件人一律在 RCPT 阶段以 550 拒绝，因此不会成为开放中继。
type Backend struct {
	mailboxes     LivenessChecker
	ingest        Ingester
	logger        *zap.Logger
	metrics       *monitoring.Metrics
	limiter       *ConnectionLimiter
	maxRecipients int
}

// NewBackend 创建 SMTP Backend。limiter 可以为 nil。
func NewBackend(mailboxes LivenessChecker, ingest Ingester, maxRecipients int, limiter *ConnectionLimiter, logger *zap.Logger, metrics *monitoring.Metrics) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRecipients < 1 {
		maxRecipients = 1
	}
	return &Backend{
		mailboxes:     mailboxes,
		ingest:        ingest,
		logger:        logger,
		metrics:       metrics,
		limiter:       limiter,
		maxRecipients: maxRecipients,
	}
}

// NewSession 创建新的 SMTP 会话。连接建立时不做任何认证。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}

	if b.limiter != nil {
		if ok, reason := b.limiter.Acquire(); !ok {
			b.metrics.RecordRateLimitBlock(reason)
			b.logger.Warn("smtp connection refused by limiter",
				zap.String("remote", remote),
				zap.String("reason", reason),
			)
			return nil, errTooManyConnections
		}
	}

	return newSession(b, remote), nil
}

func (b *Backend) release() {
	if b.limiter != nil {
		b.limiter.Release()
	}
}
