package smtp

import (
	"context"
	"errors"
	"net"
	netsmtp "net/smtp"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/mailgate/internal/config"
	"tempmail/mailgate/internal/service"
	"tempmail/mailgate/internal/storage/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type gateFixture struct {
	addr      string
	store     *memory.Store
	mailboxes *service.MailboxService
	clock     *testClock
}

func startGate(t *testing.T) *gateFixture {
	t.Helper()

	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	mailboxes := service.NewMailboxService(store, config.MailboxConfig{
		Domain:         "temp.local",
		DefaultTTL:     15,
		MinTTL:         1,
		MaxTTL:         60,
		TokenLength:    10,
		CreateAttempts: 5,
	}, zap.NewNop(), service.WithClock(clock.Now))
	ingest := service.NewIngestService(store, mailboxes, 1<<20, zap.NewNop(), nil)

	backend := NewBackend(mailboxes, ingest, 1, NewConnectionLimiter(0, 0), zap.NewNop(), nil)
	srv := NewServer(config.SMTPConfig{
		Domain:          "temp.local",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		MaxMessageBytes: 1 << 20,
		MaxRecipients:   1,
	}, backend)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return &gateFixture{addr: l.Addr().String(), store: store, mailboxes: mailboxes, clock: clock}
}

func dial(t *testing.T, addr string) *netsmtp.Client {
	t.Helper()
	c, err := netsmtp.Dial(addr)
	require.NoError(t, err)
	require.NoError(t, c.Hello("client.example.com"))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func replyCode(t *testing.T, err error) int {
	t.Helper()
	var tpErr *textproto.Error
	require.True(t, errors.As(err, &tpErr), "expected protocol error, got %v", err)
	return tpErr.Code
}

const plainMessage = "From: Bob <bob@example.com>\r\n" +
	"Subject: Verify your account\r\n" +
	"\r\n" +
	"Your code is 123456\r\n"

func TestGate_EndToEnd(t *testing.T) {
	ctx := context.Background()

	t.Run("投递到存活邮箱", func(t *testing.T) {
		gate := startGate(t)
		mb, err := gate.mailboxes.Create(ctx, nil)
		require.NoError(t, err)

		c := dial(t, gate.addr)
		require.NoError(t, c.Mail("bob@example.com"))
		require.NoError(t, c.Rcpt(mb.Address))
		w, err := c.Data()
		require.NoError(t, err)
		_, err = w.Write([]byte(plainMessage))
		require.NoError(t, err)
		require.NoError(t, w.Close())
		require.NoError(t, c.Quit())

		list, err := gate.mailboxes.ListMessages(ctx, mb.Address)
		require.NoError(t, err)
		require.Len(t, list.Messages, 1)
		assert.Equal(t, "Verify your account", list.Messages[0].Subject)
		assert.Equal(t, "Bob <bob@example.com>", list.Messages[0].From)
	})

	t.Run("未签发的地址被拒绝", func(t *testing.T) {
		gate := startGate(t)

		c := dial(t, gate.addr)
		require.NoError(t, c.Mail("spammer@example.com"))
		assert.Equal(t, 550, replyCode(t, c.Rcpt("victim@elsewhere.com")))
		assert.Equal(t, 550, replyCode(t, c.Rcpt("unknown0000@temp.local")))
	})

	t.Run("过期邮箱被拒绝", func(t *testing.T) {
		gate := startGate(t)
		mb, err := gate.mailboxes.Create(ctx, intPtr(1))
		require.NoError(t, err)

		gate.clock.Advance(time.Minute)

		c := dial(t, gate.addr)
		require.NoError(t, c.Mail("bob@example.com"))
		assert.Equal(t, 550, replyCode(t, c.Rcpt(mb.Address)))
	})

	t.Run("截断的邮件返回554且连接可继续使用", func(t *testing.T) {
		gate := startGate(t)
		mb, err := gate.mailboxes.Create(ctx, nil)
		require.NoError(t, err)

		c := dial(t, gate.addr)
		require.NoError(t, c.Mail("bob@example.com"))
		require.NoError(t, c.Rcpt(mb.Address))
		w, err := c.Data()
		require.NoError(t, err)
		_, err = w.Write([]byte("Content-Type: multipart/mixed; boundary=\"zz\"\r\n\r\n--zz\r\nContent-Type: text/plain\r\n\r\npartial\r\n"))
		require.NoError(t, err)
		assert.Equal(t, 554, replyCode(t, w.Close()))

		require.NoError(t, c.Mail("bob@example.com"))
		require.NoError(t, c.Rcpt(mb.Address))
		w, err = c.Data()
		require.NoError(t, err)
		_, err = w.Write([]byte(plainMessage))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		msgs, err := gate.store.ListMessages(ctx, mb.ID)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})
}

func intPtr(v int) *int { return &v }
