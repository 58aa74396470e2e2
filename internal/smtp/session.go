package smtp

import (
	"context"
	"errors"
	"io"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempmail/mailgate/internal/domain"
	"tempmail/mailgate/internal/monitoring"
)

// State 是单个 SMTP 会话所处的阶段
type State int

const (
	StateConnected State = iota
	StateRecipientCheck
	StateData
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRecipientCheck:
		return "recipient_check"
	case StateData:
		return "data"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// rcptTimeout 限制单次收件人检查的存储访问时间
const rcptTimeout = 10 * time.Second

// Session 每个 SMTP 连接一个实例，按 Connected → RecipientCheck → Data → Closed 推进。
//
// DATA 结束（无论成功与否）或 RSET 后回到 Connected，可以在同一连接上开始新事务。
type Session struct {
	backend    *Backend
	logger     *zap.Logger
	state      State
	from       string
	recipients []string

	ctx    context.Context
	cancel context.CancelFunc
}

var _ gosmtp.Session = (*Session)(nil)

func newSession(b *Backend, remote string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		backend: b,
		logger:  b.logger.With(zap.String("remote", remote)),
		state:   StateConnected,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// State 返回当前阶段
func (s *Session) State() State {
	return s.state
}

// Recipients 返回当前事务已接受的收件人
func (s *Session) Recipients() []string {
	return append([]string(nil), s.recipients...)
}

// Mail 处理 MAIL 命令，开启新事务。
func (s *Session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.resetTransaction()
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 只有存在且未过期的地址会被接受；这是防止开放中继的唯一关口。
func (s *Session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.state = StateRecipientCheck

	addr := domain.NormalizeAddress(to)
	if err := domain.ValidateAddress(addr); err != nil {
		s.backend.metrics.RecordRecipient(monitoring.RecipientRejected)
		s.logger.Info("recipient rejected", zap.String("recipient", to), zap.String("reason", "malformed"))
		return errInvalidRecipient
	}

	for _, accepted := range s.recipients {
		if accepted == addr {
			return nil
		}
	}
	if len(s.recipients) >= s.backend.maxRecipients {
		return errTooManyRecipients
	}

	ctx, cancel := context.WithTimeout(s.ctx, rcptTimeout)
	defer cancel()

	live, err := s.backend.mailboxes.IsLive(ctx, addr)
	if err != nil {
		s.backend.metrics.RecordRecipient(monitoring.RecipientError)
		s.logger.Error("recipient check failed", zap.String("recipient", addr), zap.Error(err))
		return errTemporary
	}
	if !live {
		s.backend.metrics.RecordRecipient(monitoring.RecipientRejected)
		s.logger.Info("recipient rejected", zap.String("recipient", addr), zap.String("from", s.from))
		return recipientNotFound(addr)
	}

	s.backend.metrics.RecordRecipient(monitoring.RecipientAccepted)
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容：解码后为每个已接受的收件人保存一封。
func (s *Session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return errNoRecipients
	}
	s.state = StateData
	defer s.resetTransaction()

	messages, err := s.backend.ingest.Ingest(s.ctx, s.recipients, r)
	if err != nil {
		return s.dataError(err)
	}

	s.logger.Debug("transaction completed",
		zap.String("from", s.from),
		zap.Strings("recipients", s.recipients),
		zap.Int("messages", len(messages)),
	)
	return nil
}

// dataError 把入库错误翻译为 SMTP 回复
func (s *Session) dataError(err error) error {
	var smtpErr *gosmtp.SMTPError
	switch {
	case errors.As(err, &smtpErr):
		return smtpErr
	case errors.Is(err, domain.ErrDecode):
		return errUndecodable
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Info("recipient vanished before delivery", zap.Strings("recipients", s.recipients), zap.Error(err))
		return errMailboxGone
	case errors.Is(err, domain.ErrValidation):
		return errTooLarge
	default:
		s.logger.Error("message ingest failed", zap.Strings("recipients", s.recipients), zap.Error(err))
		return errTemporary
	}
}

// Reset 处理 RSET，丢弃当前事务。
func (s *Session) Reset() {
	s.resetTransaction()
}

// Logout 会话结束。
func (s *Session) Logout() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.from = ""
	s.recipients = nil
	s.cancel()
	s.backend.release()
	return nil
}

func (s *Session) resetTransaction() {
	if s.state == StateClosed {
		return
	}
	s.state = StateConnected
	s.from = ""
	s.recipients = nil
}
