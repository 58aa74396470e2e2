package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"tempmail/mailgate/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMailbox(address string, created time.Time, ttl time.Duration) *domain.Mailbox {
	return &domain.Mailbox{
		ID:        uuid.NewString(),
		Address:   address,
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}
}

func newMessage(mailboxID string, received time.Time) *domain.Message {
	return &domain.Message{
		ID:         uuid.NewString(),
		MailboxID:  mailboxID,
		From:       "sender@example.com",
		To:         "test@temp.local",
		Subject:    "Test Message",
		TextBody:   "This is a test message",
		ReceivedAt: received,
	}
}

func TestMemoryStore_MailboxOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	mailbox := newMailbox("test@temp.local", now, 15*time.Minute)
	require.NoError(t, store.CreateMailbox(ctx, mailbox))

	t.Run("按地址读取", func(t *testing.T) {
		got, err := store.GetMailboxByAddress(ctx, "test@temp.local")
		require.NoError(t, err)
		assert.Equal(t, mailbox.ID, got.ID)
		assert.True(t, got.ExpiresAt.Equal(mailbox.ExpiresAt))
	})

	t.Run("地址重复返回冲突", func(t *testing.T) {
		dup := newMailbox("test@temp.local", now, time.Minute)
		err := store.CreateMailbox(ctx, dup)
		assert.ErrorIs(t, err, domain.ErrConflict)

		got, err := store.GetMailboxByAddress(ctx, "test@temp.local")
		require.NoError(t, err)
		assert.Equal(t, mailbox.ID, got.ID, "existing mailbox must be untouched")
	})

	t.Run("不存在的地址", func(t *testing.T) {
		_, err := store.GetMailboxByAddress(ctx, "nobody@temp.local")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("返回值不共享内部状态", func(t *testing.T) {
		got, err := store.GetMailboxByAddress(ctx, "test@temp.local")
		require.NoError(t, err)
		got.ExpiresAt = now.Add(-time.Hour)

		again, err := store.GetMailboxByAddress(ctx, "test@temp.local")
		require.NoError(t, err)
		assert.True(t, again.ExpiresAt.Equal(mailbox.ExpiresAt))
	})
}

func TestMemoryStore_MessageOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	mailbox := newMailbox("test@temp.local", now, 15*time.Minute)
	require.NoError(t, store.CreateMailbox(ctx, mailbox))

	older := newMessage(mailbox.ID, now.Add(time.Second))
	newer := newMessage(mailbox.ID, now.Add(2*time.Second))
	require.NoError(t, store.SaveMessages(ctx, older))
	require.NoError(t, store.SaveMessages(ctx, newer))

	t.Run("列表按时间倒序", func(t *testing.T) {
		messages, err := store.ListMessages(ctx, mailbox.ID)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, newer.ID, messages[0].ID)
		assert.Equal(t, older.ID, messages[1].ID)
	})

	t.Run("按ID读取", func(t *testing.T) {
		got, err := store.GetMessage(ctx, older.ID)
		require.NoError(t, err)
		assert.Equal(t, mailbox.ID, got.MailboxID)
		assert.Equal(t, "Test Message", got.Subject)
	})

	t.Run("邮件不存在", func(t *testing.T) {
		_, err := store.GetMessage(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})

	t.Run("邮箱不存在时拒绝写入", func(t *testing.T) {
		err := store.SaveMessages(ctx, newMessage(uuid.NewString(), now))
		assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
	})

	t.Run("批量写入要么全部成功要么全部失败", func(t *testing.T) {
		ok := newMessage(mailbox.ID, now.Add(3*time.Second))
		bad := newMessage(uuid.NewString(), now.Add(3*time.Second))
		err := store.SaveMessages(ctx, ok, bad)
		assert.ErrorIs(t, err, domain.ErrMailboxNotFound)

		_, err = store.GetMessage(ctx, ok.ID)
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})

	t.Run("空邮箱返回空列表", func(t *testing.T) {
		messages, err := store.ListMessages(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	expired := newMailbox("old@temp.local", base, time.Minute)
	live := newMailbox("new@temp.local", base, time.Hour)
	require.NoError(t, store.CreateMailbox(ctx, expired))
	require.NoError(t, store.CreateMailbox(ctx, live))

	oldMsg := newMessage(expired.ID, base.Add(10*time.Second))
	liveMsg := newMessage(live.ID, base.Add(10*time.Second))
	require.NoError(t, store.SaveMessages(ctx, oldMsg, liveMsg))

	t.Run("边界时刻不删除", func(t *testing.T) {
		n, err := store.DeleteExpired(ctx, expired.ExpiresAt)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("删除过期邮箱及其邮件", func(t *testing.T) {
		n, err := store.DeleteExpired(ctx, base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = store.GetMailboxByAddress(ctx, "old@temp.local")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = store.GetMessage(ctx, oldMsg.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = store.GetMessage(ctx, liveMsg.ID)
		assert.NoError(t, err)
	})

	t.Run("重复清理是幂等的", func(t *testing.T) {
		n, err := store.DeleteExpired(ctx, base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("清理后地址可以重新创建", func(t *testing.T) {
		again := newMailbox("old@temp.local", base.Add(time.Hour), time.Minute)
		assert.NoError(t, store.CreateMailbox(ctx, again))
	})
}

func TestMemoryStore_ConcurrentSaveAndSweep(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	mailboxes := make([]*domain.Mailbox, 0, 20)
	for i := 0; i < 20; i++ {
		mb := newMailbox(fmt.Sprintf("box%d@temp.local", i), base, time.Minute)
		require.NoError(t, store.CreateMailbox(ctx, mb))
		mailboxes = append(mailboxes, mb)
	}

	var wg sync.WaitGroup
	saved := make(chan *domain.Message, 20*10)
	for _, mb := range mailboxes {
		wg.Add(1)
		go func(mb *domain.Mailbox) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				msg := newMessage(mb.ID, base.Add(time.Duration(j)*time.Millisecond))
				if err := store.SaveMessages(ctx, msg); err == nil {
					saved <- msg
				} else {
					assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
				}
			}
		}(mb)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := store.DeleteExpired(ctx, base.Add(time.Hour))
		assert.NoError(t, err)
	}()
	wg.Wait()
	close(saved)

	// 清理完成后再跑一次，确保没有留下孤儿邮件
	_, err := store.DeleteExpired(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	for msg := range saved {
		_, err := store.GetMessage(ctx, msg.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Empty(t, store.byMessage)
	assert.Empty(t, store.messages)
}
