package service

import (
	"context"
	"errors"

	"tempmail/mailgate/internal/domain"
)

// ListMessages 返回地址下的邮件摘要，最新的在前。
//
// 从未创建或已被清理的地址返回 domain.ErrMailboxNotFound；
// 已过期但尚未清理的地址返回空列表并将 Expired 置为 true。
func (s *MailboxService) ListMessages(ctx context.Context, address string) (*domain.MailboxMessages, error) {
	mailbox, err := s.Find(ctx, address)
	if err != nil {
		return nil, err
	}

	result := &domain.MailboxMessages{
		Address:   mailbox.Address,
		Messages:  []domain.MessageSummary{},
		Expired:   mailbox.Expired(s.now()),
		ExpiresAt: mailbox.ExpiresAt,
	}
	if result.Expired {
		return result, nil
	}

	messages, err := s.store.ListMessages(ctx, mailbox.ID)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		result.Messages = append(result.Messages, messages[i].Summary())
	}
	return result, nil
}

// GetMessage 读取地址下的一封完整邮件。
//
// 邮件存在但属于其他邮箱时返回 domain.ErrForbidden。
func (s *MailboxService) GetMessage(ctx context.Context, address, messageID string) (*domain.Message, error) {
	mailbox, err := s.Find(ctx, address)
	if err != nil {
		return nil, err
	}

	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	if message.MailboxID != mailbox.ID {
		return nil, domain.ErrForbidden
	}
	return message, nil
}
