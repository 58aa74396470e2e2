package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const checkTimeout = 3 * time.Second

// Pinger 可以探测连通性的依赖，例如存储或 Redis
type Pinger interface {
	Health(ctx context.Context) error
}

// PingerFunc 把函数适配为 Pinger
type PingerFunc func(ctx context.Context) error

// Health 实现 Pinger
func (f PingerFunc) Health(ctx context.Context) error { return f(ctx) }

// SweepReporter 报告最近一次过期清理
type SweepReporter interface {
	LastRun() (time.Time, error)
	Interval() time.Duration
}

// HealthChecker 健康检查器
//
// 存活检查只看进程本身；就绪检查覆盖存储、Redis（若启用）与过期清理任务。
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger
	now    func() time.Time
}

// NewHealthChecker 创建健康检查器。reg 不为 nil 时检查结果同时以指标导出。
func NewHealthChecker(store Pinger, reg prometheus.Registerer, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	var h healthcheck.Handler
	if reg != nil {
		h = healthcheck.NewMetricsHandler(reg, "tempmail")
	} else {
		h = healthcheck.NewHandler()
	}

	hc := &HealthChecker{health: h, logger: logger, now: time.Now}
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	hc.health.AddReadinessCheck("database", hc.pingCheck("database", store))
	return hc
}

// AddRedis 把 Redis 连通性加入就绪检查
func (hc *HealthChecker) AddRedis(p Pinger) {
	hc.health.AddReadinessCheck("redis", hc.pingCheck("redis", p))
}

// AddSweeper 要求过期清理在最近三个周期内成功运行过
func (hc *HealthChecker) AddSweeper(s SweepReporter) {
	hc.health.AddReadinessCheck("sweeper", func() error {
		last, err := s.LastRun()
		if last.IsZero() {
			return fmt.Errorf("sweeper has not run yet")
		}
		if err != nil {
			return fmt.Errorf("last sweep failed: %w", err)
		}
		if age := hc.now().Sub(last); age > 3*s.Interval() {
			return fmt.Errorf("last sweep was %s ago", age.Round(time.Second))
		}
		return nil
	})
}

func (hc *HealthChecker) pingCheck(name string, p Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		if err := p.Health(ctx); err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}
