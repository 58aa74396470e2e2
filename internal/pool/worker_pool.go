package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tempmail/mailgate/internal/monitoring"
)

// WorkerPool 有界协程池
//
// 执行新邮件通知这类尽力而为的后台任务：队列满时直接丢弃，绝不阻塞提交方（SMTP 会话）。
type WorkerPool struct {
	name      string
	workers   int
	taskQueue chan func()
	wg        sync.WaitGroup
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewWorkerPool 创建协程池，name 用作日志与指标标签
func NewWorkerPool(name string, workers, queueSize int, logger *zap.Logger, metrics *monitoring.Metrics) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		name:      name,
		workers:   workers,
		taskQueue: make(chan func(), queueSize),
		logger:    logger.With(zap.String("pool", name)),
		metrics:   metrics,
	}
}

// Start 启动工作协程。重复调用无效果。
//
// 工作协程只在 Stop 关闭队列后退出，因此已入队的任务都会被执行。
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// TrySubmit 提交任务，队列已满或协程池已停止时立即返回 false
func (p *WorkerPool) TrySubmit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.metrics.RecordBackgroundTask(p.name, monitoring.TaskDropped)
		return false
	}
	select {
	case p.taskQueue <- task:
		return true
	default:
		p.metrics.RecordBackgroundTask(p.name, monitoring.TaskDropped)
		return false
	}
}

// Stop 停止接收新任务，并等待队列排空或 ctx 结束。可重复调用。
//
// ctx 先结束时返回 ctx.Err()，剩余任务仍由工作协程在后台执行完。
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.taskQueue)
	}
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool did not drain before deadline", zap.Int("pending", len(p.taskQueue)))
		return ctx.Err()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		p.run(task)
	}
}

func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordBackgroundTask(p.name, monitoring.TaskPanic)
			p.logger.Error("worker task panicked", zap.Any("panic", r))
		}
	}()
	task()
	p.metrics.RecordBackgroundTask(p.name, monitoring.TaskDone)
}
