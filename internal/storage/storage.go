package storage

import (
	"context"
	"time"

	"tempmail/mailgate/internal/domain"
)

// MailboxRepository 定义邮箱数据存取操作。
type MailboxRepository interface {
	// CreateMailbox 写入新邮箱，地址已存在时返回 domain.ErrAddressExists。
	CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error
	// GetMailboxByAddress 按规范化地址读取邮箱，不存在时返回 domain.ErrMailboxNotFound。
	GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error)
	// DeleteExpired 删除 expiresAt < now 的邮箱及其全部邮件，返回删除的邮箱数。
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// SaveMessages 原子地写入一批邮件：任一邮件所属邮箱不存在时整批失败并返回 domain.ErrMailboxNotFound。
	SaveMessages(ctx context.Context, messages ...*domain.Message) error
	// ListMessages 按接收时间倒序返回邮箱内的邮件。
	ListMessages(ctx context.Context, mailboxID string) ([]domain.Message, error)
	// GetMessage 按 ID 读取邮件，不存在时返回 domain.ErrMessageNotFound。
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
}

// Store 聚合所有存储接口。
type Store interface {
	MailboxRepository
	MessageRepository

	Health(ctx context.Context) error
	Close() error
}
