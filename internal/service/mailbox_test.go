package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/mailgate/internal/config"
	"tempmail/mailgate/internal/domain"
	"tempmail/mailgate/internal/storage/memory"
)

// MockStore 模拟存储接口
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	args := m.Called(ctx, mailbox)
	return args.Error(0)
}

func (m *MockStore) GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Mailbox), args.Error(1)
}

func (m *MockStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) SaveMessages(ctx context.Context, messages ...*domain.Message) error {
	args := m.Called(ctx, messages)
	return args.Error(0)
}

func (m *MockStore) ListMessages(ctx context.Context, mailboxID string) ([]domain.Message, error) {
	args := m.Called(ctx, mailboxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockStore) Health(ctx context.Context) error { return nil }
func (m *MockStore) Close() error                     { return nil }

// fixedGenerator 按顺序返回预设地址
type fixedGenerator struct {
	mu    sync.Mutex
	addrs []string
	i     int
}

func (g *fixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	addr := g.addrs[g.i%len(g.addrs)]
	g.i++
	return addr
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testMailboxConfig() config.MailboxConfig {
	return config.MailboxConfig{
		Domain:         "temp.local",
		DefaultTTL:     15,
		MinTTL:         1,
		MaxTTL:         60,
		TokenLength:    10,
		CreateAttempts: 5,
	}
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func intPtr(v int) *int { return &v }

func TestMailboxService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("TTL限制在区间内", func(t *testing.T) {
		clock := newClock()
		cfg := testMailboxConfig()
		cfg.MinTTL = 5
		svc := NewMailboxService(memory.NewStore(), cfg, zap.NewNop(), WithClock(clock.Now))

		cases := []struct {
			name     string
			ttl      *int
			expected time.Duration
		}{
			{"默认值", nil, 15 * time.Minute},
			{"区间内", intPtr(30), 30 * time.Minute},
			{"低于下限", intPtr(2), 5 * time.Minute},
			{"高于上限", intPtr(600), 60 * time.Minute},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				mb, err := svc.Create(ctx, tc.ttl)
				require.NoError(t, err)
				assert.Equal(t, tc.expected, mb.ExpiresAt.Sub(mb.CreatedAt))
				assert.True(t, mb.CreatedAt.Equal(clock.Now()))
			})
		}
	})

	t.Run("非正TTL返回校验错误且不写入", func(t *testing.T) {
		store := new(MockStore)
		svc := NewMailboxService(store, testMailboxConfig(), zap.NewNop())

		for _, ttl := range []int{0, -5} {
			mb, err := svc.Create(ctx, intPtr(ttl))
			assert.ErrorIs(t, err, domain.ErrInvalidTTL)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Nil(t, mb)
		}
		store.AssertNotCalled(t, "CreateMailbox", mock.Anything, mock.Anything)
	})

	t.Run("生成的地址格式正确且可以查到", func(t *testing.T) {
		svc := NewMailboxService(memory.NewStore(), testMailboxConfig(), zap.NewNop())

		mb, err := svc.Create(ctx, nil)
		require.NoError(t, err)
		assert.NoError(t, domain.ValidateAddress(mb.Address))

		found, err := svc.Find(ctx, mb.Address)
		require.NoError(t, err)
		assert.Equal(t, mb.ID, found.ID)
	})

	t.Run("地址冲突时重新生成", func(t *testing.T) {
		store := memory.NewStore()
		gen := &fixedGenerator{addrs: []string{"aaaaaaaaaa@temp.local", "aaaaaaaaaa@temp.local", "bbbbbbbbbb@temp.local"}}
		svc := NewMailboxService(store, testMailboxConfig(), zap.NewNop(), WithGenerator(gen))

		first, err := svc.Create(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "aaaaaaaaaa@temp.local", first.Address)

		second, err := svc.Create(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "bbbbbbbbbb@temp.local", second.Address)
		assert.Equal(t, 3, gen.i)
	})

	t.Run("超过尝试次数返回冲突", func(t *testing.T) {
		store := memory.NewStore()
		gen := &fixedGenerator{addrs: []string{"cccccccccc@temp.local"}}
		svc := NewMailboxService(store, testMailboxConfig(), zap.NewNop(), WithGenerator(gen))

		_, err := svc.Create(ctx, nil)
		require.NoError(t, err)

		_, err = svc.Create(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, 1+5, gen.i)
	})

	t.Run("并发创建相同地址只有一个成功", func(t *testing.T) {
		store := memory.NewStore()
		gen := &fixedGenerator{addrs: []string{"dddddddddd@temp.local", "eeeeeeeeee@temp.local"}}
		cfg := testMailboxConfig()
		cfg.CreateAttempts = 1
		svc := NewMailboxService(store, cfg, zap.NewNop(), WithGenerator(&fixedGenerator{addrs: []string{"dddddddddd@temp.local"}}))
		retrying := NewMailboxService(store, testMailboxConfig(), zap.NewNop(), WithGenerator(gen))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() { defer wg.Done(); _, errs[0] = svc.Create(ctx, nil) }()
		go func() { defer wg.Done(); _, errs[1] = retrying.Create(ctx, nil) }()
		wg.Wait()

		// 重试的一方总能成功；不重试的一方要么先拿到地址，要么得到冲突
		assert.NoError(t, errs[1])
		if errs[0] != nil {
			assert.ErrorIs(t, errs[0], domain.ErrConflict)
		}
	})

	t.Run("存储故障不重试", func(t *testing.T) {
		store := new(MockStore)
		store.On("CreateMailbox", mock.Anything, mock.Anything).
			Return(errors.Join(domain.ErrTransientIO, errors.New("connection refused"))).Once()
		svc := NewMailboxService(store, testMailboxConfig(), zap.NewNop())

		_, err := svc.Create(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrTransientIO)
		store.AssertNumberOfCalls(t, "CreateMailbox", 1)
	})
}

func TestMailboxService_IsLive(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	svc := NewMailboxService(memory.NewStore(), testMailboxConfig(), zap.NewNop(), WithClock(clock.Now))

	t.Run("从未创建", func(t *testing.T) {
		live, err := svc.IsLive(ctx, "nobody@temp.local")
		require.NoError(t, err)
		assert.False(t, live)
	})

	t.Run("创建后立即可用，到期后不可用", func(t *testing.T) {
		mb, err := svc.Create(ctx, intPtr(1))
		require.NoError(t, err)

		live, err := svc.IsLive(ctx, mb.Address)
		require.NoError(t, err)
		assert.True(t, live)

		live, err = svc.IsLive(ctx, "<"+mb.Address+">")
		require.NoError(t, err)
		assert.True(t, live, "lookup is case and bracket insensitive")

		clock.Advance(time.Minute)
		live, err = svc.IsLive(ctx, mb.Address)
		require.NoError(t, err)
		assert.False(t, live)
	})

	t.Run("存储故障返回错误", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetMailboxByAddress", mock.Anything, "x@temp.local").
			Return(nil, domain.ErrTransientIO)
		svc := NewMailboxService(store, testMailboxConfig(), zap.NewNop())

		live, err := svc.IsLive(ctx, "X@temp.local")
		assert.False(t, live)
		assert.ErrorIs(t, err, domain.ErrTransientIO)
	})
}

func TestMailboxService_Messages(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := memory.NewStore()
	svc := NewMailboxService(store, testMailboxConfig(), zap.NewNop(), WithClock(clock.Now))

	owner, err := svc.Create(ctx, intPtr(10))
	require.NoError(t, err)
	other, err := svc.Create(ctx, intPtr(10))
	require.NoError(t, err)

	msg := &domain.Message{ID: "3f1c0d9e-7a55-4c1e-9b0a-111111111111", MailboxID: owner.ID, From: "a@example.com", Subject: "hi", ReceivedAt: clock.Now()}
	require.NoError(t, store.SaveMessages(ctx, msg))

	t.Run("列出邮件摘要", func(t *testing.T) {
		list, err := svc.ListMessages(ctx, owner.Address)
		require.NoError(t, err)
		assert.False(t, list.Expired)
		require.Len(t, list.Messages, 1)
		assert.Equal(t, msg.ID, list.Messages[0].ID)
		assert.Equal(t, "hi", list.Messages[0].Subject)
	})

	t.Run("从未创建的地址", func(t *testing.T) {
		_, err := svc.ListMessages(ctx, "nobody@temp.local")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("读取自己的邮件", func(t *testing.T) {
		got, err := svc.GetMessage(ctx, owner.Address, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", got.From)
	})

	t.Run("用其他地址读取返回无权限", func(t *testing.T) {
		_, err := svc.GetMessage(ctx, other.Address, msg.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("邮件不存在", func(t *testing.T) {
		_, err := svc.GetMessage(ctx, owner.Address, "3f1c0d9e-7a55-4c1e-9b0a-222222222222")
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})

	t.Run("过期未清理返回空列表", func(t *testing.T) {
		clock.Advance(11 * time.Minute)
		list, err := svc.ListMessages(ctx, owner.Address)
		require.NoError(t, err)
		assert.True(t, list.Expired)
		assert.Empty(t, list.Messages)
		assert.Equal(t, owner.Address, list.Address)
	})

	t.Run("清理后返回不存在", func(t *testing.T) {
		_, err := store.DeleteExpired(ctx, clock.Now())
		require.NoError(t, err)

		_, err = svc.ListMessages(ctx, owner.Address)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
