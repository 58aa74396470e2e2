package httptransport

import (
	"net/http"
	"strconv"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/mailgate/internal/config"
	"tempmail/mailgate/internal/domain"
	"tempmail/mailgate/internal/health"
	"tempmail/mailgate/internal/middleware"
	"tempmail/mailgate/internal/monitoring"
	"tempmail/mailgate/internal/service"
	"tempmail/mailgate/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	mailboxes *service.MailboxService
	logger    *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	MailboxService *service.MailboxService
	WebSocketHub   *websocket.Hub        // 可选
	Health         *health.HealthChecker // 可选
	Metrics        *monitoring.Metrics   // 可选
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(mm.PanicRecovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(mm.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.APIBodyLimit))

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 允许所有来源时不能同时携带凭证
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		mailboxes: deps.MailboxService,
		logger:    logger,
	}

	createLimit := middleware.RateLimit("create", deps.Config.RateLimit.CreatePerMinute, deps.Metrics, logger)
	readLimit := middleware.RateLimit("read", deps.Config.RateLimit.ReadPerMinute, deps.Metrics, logger)

	api := router.Group("/api")
	{
		api.GET("/health", handler.health)

		emails := api.Group("/emails")
		{
			emails.POST("/create", createLimit, handler.createMailbox)
			emails.GET("/:address", readLimit, handler.listMessages)
			emails.GET("/:address/:emailId", readLimit, handler.getMessage)
		}

		if deps.WebSocketHub != nil {
			api.GET("/ws/:address", readLimit, websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	router.NoRoute(func(c *gin.Context) {
		NotFound(c, MsgRouteNotFound)
	})

	return router
}

type createMailboxResponse struct {
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn int64     `json:"expiresIn"` // 秒
}

// createMailbox 创建临时邮箱，POST /api/emails/create?ttl=分钟
func (h *Handler) createMailbox(c *gin.Context) {
	var ttl *int
	if raw, ok := c.GetQuery("ttl"); ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			BadRequest(c, MsgInvalidTTL)
			return
		}
		ttl = &v
	}

	mailbox, err := h.mailboxes.Create(c.Request.Context(), ttl)
	if err != nil {
		h.respondError(c, err, MsgMailboxCreateFailed)
		return
	}

	Created(c, createMailboxResponse{
		Address:   mailbox.Address,
		ExpiresAt: mailbox.ExpiresAt,
		ExpiresIn: int64(mailbox.ExpiresAt.Sub(h.mailboxes.Now()).Seconds()),
	})
}

// listMessages 返回地址下的邮件摘要
func (h *Handler) listMessages(c *gin.Context) {
	address, ok := h.addressParam(c)
	if !ok {
		return
	}

	result, err := h.mailboxes.ListMessages(c.Request.Context(), address)
	if err != nil {
		h.respondError(c, err, MsgMessageListFailed)
		return
	}
	Success(c, result)
}

// getMessage 返回一封完整邮件，邮件必须属于路径中的地址
func (h *Handler) getMessage(c *gin.Context) {
	address, ok := h.addressParam(c)
	if !ok {
		return
	}
	messageID := c.Param("emailId")
	if err := domain.ValidateMessageID(messageID); err != nil {
		BadRequest(c, MsgInvalidMessageID)
		return
	}

	msg, err := h.mailboxes.GetMessage(c.Request.Context(), address, messageID)
	if err != nil {
		h.respondError(c, err, MsgMessageGetFailed)
		return
	}
	Success(c, msg)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) addressParam(c *gin.Context) (string, bool) {
	address := domain.NormalizeAddress(c.Param("address"))
	if err := domain.ValidateAddress(address); err != nil {
		BadRequest(c, MsgInvalidAddress)
		return "", false
	}
	return address, true
}
