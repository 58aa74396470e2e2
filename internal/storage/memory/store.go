package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tempmail/mailgate/internal/domain"
	"tempmail/mailgate/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store 使用内存保存邮箱与邮件数据，主要用于开发验证和测试。
//
// 所有操作在整个调用期间持有同一把锁，写入邮件与清理过期邮箱互斥，
// 因此不会出现指向已删除邮箱的孤儿邮件。
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*domain.Mailbox            // mailboxID -> mailbox
	byAddress map[string]string                     // address -> mailboxID
	messages  map[string]map[string]*domain.Message // mailboxID -> messageID -> message
	byMessage map[string]string                     // messageID -> mailboxID
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[string]*domain.Mailbox),
		byAddress: make(map[string]string),
		messages:  make(map[string]map[string]*domain.Message),
		byMessage: make(map[string]string),
	}
}

// CreateMailbox 保存新邮箱，地址冲突时返回 domain.ErrAddressExists。
func (s *Store) CreateMailbox(_ context.Context, mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byAddress[mailbox.Address]; ok {
		return domain.ErrAddressExists
	}

	mb := *mailbox
	mb.Messages = nil
	s.mailboxes[mb.ID] = &mb
	s.byAddress[mb.Address] = mb.ID
	return nil
}

// GetMailboxByAddress 根据完整地址获取邮箱。
func (s *Store) GetMailboxByAddress(_ context.Context, address string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, domain.ErrMailboxNotFound
	}
	mb := *s.mailboxes[id]
	return &mb, nil
}

// DeleteExpired 删除所有 expiresAt 早于 now 的邮箱及其邮件，返回删除数量。
func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, mb := range s.mailboxes {
		if mb.ExpiresAt.Before(now) {
			s.deleteMailboxLocked(id)
			count++
		}
	}
	return count, nil
}

func (s *Store) deleteMailboxLocked(id string) {
	if mb, ok := s.mailboxes[id]; ok {
		delete(s.byAddress, mb.Address)
	}
	for msgID := range s.messages[id] {
		delete(s.byMessage, msgID)
	}
	delete(s.mailboxes, id)
	delete(s.messages, id)
}

// SaveMessages 原子地保存一批邮件。
func (s *Store) SaveMessages(_ context.Context, messages ...*domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 先全部校验再写入，保证要么全部成功要么全部不写
	for _, msg := range messages {
		if _, ok := s.mailboxes[msg.MailboxID]; !ok {
			return domain.ErrMailboxNotFound
		}
	}

	for _, msg := range messages {
		box, ok := s.messages[msg.MailboxID]
		if !ok {
			box = make(map[string]*domain.Message)
			s.messages[msg.MailboxID] = box
		}
		m := *msg
		box[m.ID] = &m
		s.byMessage[m.ID] = m.MailboxID
	}
	return nil
}

// ListMessages 返回邮箱内的邮件，按接收时间倒序。
func (s *Store) ListMessages(_ context.Context, mailboxID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	box := s.messages[mailboxID]
	out := make([]domain.Message, 0, len(box))
	for _, msg := range box {
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out, nil
}

// GetMessage 根据 ID 获取邮件。
func (s *Store) GetMessage(_ context.Context, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailboxID, ok := s.byMessage[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	msg := *s.messages[mailboxID][messageID]
	return &msg, nil
}

// Health 内存存储始终可用。
func (s *Store) Health(_ context.Context) error {
	return nil
}

// Close 清空所有数据。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mailboxes = make(map[string]*domain.Mailbox)
	s.byAddress = make(map[string]string)
	s.messages = make(map[string]map[string]*domain.Message)
	s.byMessage = make(map[string]string)
	return nil
}
