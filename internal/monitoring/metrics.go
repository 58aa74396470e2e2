package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 收件人检查结果标签
const (
	RecipientAccepted = "accepted"
	RecipientRejected = "rejected"
	RecipientError    = "error"
)

// 后台任务结果标签
const (
	TaskDone    = "done"
	TaskDropped = "dropped"
	TaskPanic   = "panic"
)

// Metrics 监控指标
//
// 所有 Record 方法对 nil 接收者安全，未启用监控的组件可以直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 邮箱指标
	MailboxesCreated  prometheus.Counter
	AddressCollisions prometheus.Counter

	// SMTP 与入库指标
	RecipientsTotal *prometheus.CounterVec
	MessagesStored  prometheus.Counter
	IngestFailures  *prometheus.CounterVec
	IngestDuration  prometheus.Histogram
	AttachmentSize  prometheus.Histogram

	// 清理任务指标
	SweepRuns      *prometheus.CounterVec
	MailboxesSwept prometheus.Counter
	SweepDuration  prometheus.Histogram

	// 推送指标
	NotificationsSent prometheus.Counter
	WebsocketClients  prometheus.Gauge
	BackgroundTasks   *prometheus.CounterVec

	// 错误与限流
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，注册到独立的 Registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		MailboxesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_mailboxes_created_total",
			Help: "Total number of mailboxes created",
		}),
		AddressCollisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_address_collisions_total",
			Help: "Generated addresses rejected by the uniqueness constraint",
		}),

		RecipientsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_smtp_recipients_total",
				Help: "SMTP RCPT TO decisions by result",
			},
			[]string{"result"},
		),
		MessagesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_messages_stored_total",
			Help: "Total number of messages stored",
		}),
		IngestFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_ingest_failures_total",
				Help: "Rejected DATA transactions by reason",
			},
			[]string{"reason"},
		),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tempmail_ingest_duration_seconds",
			Help:    "Time spent decoding and storing a message",
			Buckets: prometheus.DefBuckets,
		}),
		AttachmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tempmail_attachment_size_bytes",
			Help:    "Decoded attachment sizes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),

		SweepRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_sweep_runs_total",
				Help: "Expiry sweep runs by result",
			},
			[]string{"result"},
		),
		MailboxesSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_mailboxes_swept_total",
			Help: "Expired mailboxes deleted by the sweeper",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tempmail_sweep_duration_seconds",
			Help:    "Expiry sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_notifications_sent_total",
			Help: "New-mail notifications delivered to websocket clients",
		}),
		WebsocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tempmail_websocket_clients",
			Help: "Connected websocket clients",
		}),
		BackgroundTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_background_tasks_total",
				Help: "Background tasks by pool and result",
			},
			[]string{"pool", "result"},
		),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tempmail_panics_total",
			Help: "Recovered panics",
		}),
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_rate_limit_blocks_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"limit"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordMailboxCreated 记录邮箱创建
func (m *Metrics) RecordMailboxCreated() {
	if m == nil {
		return
	}
	m.MailboxesCreated.Inc()
}

// RecordAddressCollision 记录地址冲突重试
func (m *Metrics) RecordAddressCollision() {
	if m == nil {
		return
	}
	m.AddressCollisions.Inc()
}

// RecordRecipient 记录 RCPT TO 判定结果
func (m *Metrics) RecordRecipient(result string) {
	if m == nil {
		return
	}
	m.RecipientsTotal.WithLabelValues(result).Inc()
}

// RecordMessageStored 记录入库成功的邮件
func (m *Metrics) RecordMessageStored(count int, duration time.Duration) {
	if m == nil {
		return
	}
	m.MessagesStored.Add(float64(count))
	m.IngestDuration.Observe(duration.Seconds())
}

// RecordIngestFailure 记录入库失败
func (m *Metrics) RecordIngestFailure(reason string) {
	if m == nil {
		return
	}
	m.IngestFailures.WithLabelValues(reason).Inc()
}

// RecordAttachmentSize 记录附件大小
func (m *Metrics) RecordAttachmentSize(size int64) {
	if m == nil {
		return
	}
	m.AttachmentSize.Observe(float64(size))
}

// RecordSweep 记录一次清理任务
func (m *Metrics) RecordSweep(deleted int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SweepRuns.WithLabelValues("error").Inc()
	} else {
		m.SweepRuns.WithLabelValues("ok").Inc()
		m.MailboxesSwept.Add(float64(deleted))
	}
	m.SweepDuration.Observe(duration.Seconds())
}

// RecordNotification 记录推送给客户端的通知数
func (m *Metrics) RecordNotification(delivered int) {
	if m == nil {
		return
	}
	m.NotificationsSent.Add(float64(delivered))
}

// UpdateWebsocketClients 更新在线 websocket 连接数
func (m *Metrics) UpdateWebsocketClients(count int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Set(float64(count))
}

// RecordBackgroundTask 记录协程池任务结果：done、dropped 或 panic
func (m *Metrics) RecordBackgroundTask(pool, result string) {
	if m == nil {
		return
	}
	m.BackgroundTasks.WithLabelValues(pool, result).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limit string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limit).Inc()
}

// Registry 返回底层注册表，测试中用于读取指标
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
