package smtp

import (
	"sync"

	"golang.org/x/time/rate"
)

// 限流原因，同时用作指标标签
const (
	limitConcurrency = "smtp_concurrency"
	limitRate        = "smtp_rate"
)

// ConnectionLimiter 限制 SMTP 会话的并发数与新建速率。
//
// 会话在 NewSession 时占用一个名额，在 Logout 时归还。
type ConnectionLimiter struct {
	maxConns int
	rate     *rate.Limiter

	mu     sync.Mutex
	active int
}

// NewConnectionLimiter 创建连接限流器，maxConns 或 perSecond <= 0 表示对应维度不限制
func NewConnectionLimiter(maxConns, perSecond int) *ConnectionLimiter {
	limit, burst := rate.Inf, 0
	if perSecond > 0 {
		limit, burst = rate.Limit(perSecond), perSecond
	}
	return &ConnectionLimiter{
		maxConns: maxConns,
		rate:     rate.NewLimiter(limit, burst),
	}
}

// Acquire 为新会话申请名额，被拒绝时返回原因（limitConcurrency 或 limitRate）。
//
// 并发已满时不消耗速率令牌。
func (l *ConnectionLimiter) Acquire() (ok bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxConns > 0 && l.active >= l.maxConns {
		return false, limitConcurrency
	}
	if !l.rate.Allow() {
		return false, limitRate
	}
	l.active++
	return true, ""
}

// Release 归还名额，多余的调用被忽略
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
}

// Active 当前占用的会话数
func (l *ConnectionLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
