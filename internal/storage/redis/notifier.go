package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"tempmail/mailgate/internal/domain"
)

// Sink 接收从频道中读到的新邮件事件
type Sink interface {
	Publish(ctx context.Context, event domain.NewMailEvent) error
}

// Notifier 通过 Redis 发布/订阅在多个实例之间转发新邮件事件。
//
// SMTP 收信的实例调用 Publish；每个实例各自 Subscribe，把事件交给本地的 WebSocket Hub。
type Notifier struct {
	client  *Client
	channel string
	log     *zap.Logger
}

// NewNotifier 创建基于频道 channel 的通知器
func NewNotifier(client *Client, channel string, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{client: client, channel: channel, log: log}
}

// Publish 发布新邮件事件
func (n *Notifier) Publish(ctx context.Context, event domain.NewMailEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal new mail event: %w", err)
	}
	if err := n.client.rdb.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("%w: publish new mail event: %w", domain.ErrTransientIO, err)
	}
	return nil
}

// Subscribe 阻塞读取频道直到 ctx 取消，每个事件都交给 sink。
func (n *Notifier) Subscribe(ctx context.Context, sink Sink) error {
	pubsub := n.client.rdb.Subscribe(ctx, n.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", domain.ErrTransientIO, n.channel, err)
	}
	n.log.Info("subscribed to new mail channel", zap.String("channel", n.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.NewMailEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				n.log.Warn("dropping malformed new mail event", zap.Error(err))
				continue
			}
			if err := sink.Publish(ctx, event); err != nil {
				n.log.Warn("failed to forward new mail event", zap.String("address", event.Address), zap.Error(err))
			}
		}
	}
}
