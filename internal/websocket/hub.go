package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempmail/mailgate/internal/domain"
	"tempmail/mailgate/internal/monitoring"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// ErrHubClosed Hub 已停止，不再接受广播
var ErrHubClosed = errors.New("websocket hub closed")

// LivenessChecker 判断地址当前是否可收信
type LivenessChecker interface {
	IsLive(ctx context.Context, address string) (bool, error)
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMail    MessageType = "new_mail"
	MessageTypeSubscribed MessageType = "subscribed"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Address   string          `json:"address"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个订阅某个地址的连接
type Client struct {
	ID      string
	Address string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
}

type broadcastMessage struct {
	address string
	data    []byte
}

// Hub 按地址管理 WebSocket 订阅并推送新邮件事件。
type Hub struct {
	clients    map[string]map[string]*Client // address -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMessage
	done       chan struct{}
	mu         sync.RWMutex
	count      int

	mailboxes      LivenessChecker
	allowedOrigins []string
	log            *zap.Logger
	metrics        *monitoring.Metrics
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - mailboxes: 用于在升级前确认地址仍然有效
//   - allowedOrigins: 允许的 Origin 列表，为空时允许所有来源
func NewHub(mailboxes LivenessChecker, allowedOrigins []string, log *zap.Logger, metrics *monitoring.Metrics) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:        make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan broadcastMessage, 256),
		done:           make(chan struct{}),
		mailboxes:      mailboxes,
		allowedOrigins: allowedOrigins,
		log:            log,
		metrics:        metrics,
	}
}

// Run 启动Hub，ctx 取消后关闭所有连接并返回
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Address] == nil {
				h.clients[client.Address] = make(map[string]*Client)
			}
			h.clients[client.Address][client.ID] = client
			h.count++
			h.mu.Unlock()
			h.metrics.UpdateWebsocketClients(h.ClientCount())
			h.log.Debug("client registered", zap.String("id", client.ID), zap.String("address", client.Address))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastToAddress(msg)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	clients, ok := h.clients[client.Address]
	if ok {
		if _, exists := clients[client.ID]; exists {
			delete(clients, client.ID)
			if len(clients) == 0 {
				delete(h.clients, client.Address)
			}
			close(client.send)
			h.count--
		}
	}
	h.mu.Unlock()
	h.metrics.UpdateWebsocketClients(h.ClientCount())
	h.log.Debug("client unregistered", zap.String("id", client.ID))
}

// Publish 把新邮件事件推送给订阅该地址的本地连接。
func (h *Hub) Publish(ctx context.Context, event domain.NewMailEvent) error {
	data, err := json.Marshal(event.Message)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(&Message{
		Type:      MessageTypeNewMail,
		Address:   event.Address,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- broadcastMessage{address: event.Address, data: payload}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// broadcastToAddress 向订阅特定地址的客户端广播消息
func (h *Hub) broadcastToAddress(msg broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.clients[msg.address]
	delivered := 0
	for _, client := range clients {
		select {
		case client.send <- msg.data:
			delivered++
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
	if delivered > 0 {
		h.metrics.RecordNotification(delivered)
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	for _, clients := range h.clients {
		for _, client := range clients {
			close(client.send)
		}
	}
	h.clients = make(map[string]map[string]*Client)
	h.count = 0
	h.mu.Unlock()
	h.metrics.UpdateWebsocketClients(0)
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// HandleWebSocket 处理 GET /api/ws/:address
//
// 地址本身就是访问凭证：只允许订阅存在且未过期的地址。
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		address := domain.NormalizeAddress(c.Param("address"))
		if err := domain.ValidateAddress(address); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": "邮箱地址格式无效"})
			return
		}

		live, err := hub.mailboxes.IsLive(c.Request.Context(), address)
		if err != nil {
			hub.log.Error("websocket liveness check failed", zap.String("address", address), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "msg": "服务器内部错误，请稍后重试"})
			return
		}
		if !live {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "msg": "邮箱不存在"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:      uuid.NewString(),
			Address: address,
			conn:    conn,
			send:    make(chan []byte, sendBuffer),
			hub:     hub,
		}

		ack, _ := json.Marshal(&Message{Type: MessageTypeSubscribed, Address: address, Timestamp: time.Now().UTC()})
		client.send <- ack

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 只处理控制帧，客户端发来的数据被丢弃
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
