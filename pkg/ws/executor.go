package ws

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/tokmz/qiws/pkg/logger"
	"go.uber.org/zap"
)

// Executor 异步任务执行器
type Executor interface {
	// Submit 提交任务，不阻塞调用方
	Submit(task func()) error
}

// ExecutorStats 执行器统计
type ExecutorStats struct {
	Workers   int
	Pending   int
	Running   int64
	Completed uint64
	Panicked  uint64
	Rejected  uint64
}

// WorkerPool 固定大小的 worker 池
// 积压任务存放在环形队列中，超过 queueSize 时拒绝提交
type WorkerPool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	tasks     *queue.Queue
	queueSize int
	workers   int
	closed    bool
	wg        sync.WaitGroup
	logger    logger.Logger

	running   atomic.Int64
	completed atomic.Uint64
	panicked  atomic.Uint64
	rejected  atomic.Uint64
}

// NewWorkerPool 创建 worker 池
// workers <= 0 时使用 CPU 核数，queueSize <= 0 时不限制积压
func NewWorkerPool(workers, queueSize int, l logger.Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if l == nil {
		l = logger.Nop()
	}

	p := &WorkerPool{
		tasks:     queue.New(),
		queueSize: queueSize,
		workers:   workers,
		logger:    l,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit 提交任务
func (p *WorkerPool) Submit(task func()) error {
	if task == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.rejected.Add(1)
		return ErrExecutorClosed
	}
	if p.queueSize > 0 && p.tasks.Length() >= p.queueSize {
		p.rejected.Add(1)
		return ErrExecutorFull
	}
	p.tasks.Add(task)
	p.cond.Signal()
	return nil
}

// worker 工作协程，关闭后继续消费剩余任务直至队列为空
func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.tasks.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 {
			p.mu.Unlock()
			return
		}
		task := p.tasks.Remove().(func())
		p.mu.Unlock()

		p.run(task)
	}
}

// run 执行单个任务，panic 不会终止 worker
func (p *WorkerPool) run(task func()) {
	p.running.Add(1)
	defer func() {
		p.running.Add(-1)
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("ws executor task panic", zap.Any("panic", r))
			return
		}
		p.completed.Add(1)
	}()
	task()
}

// Close 停止接收任务，等待积压任务执行完毕或 ctx 结束
func (p *WorkerPool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats 返回统计信息
func (p *WorkerPool) Stats() ExecutorStats {
	p.mu.Lock()
	pending := p.tasks.Length()
	p.mu.Unlock()

	return ExecutorStats{
		Workers:   p.workers,
		Pending:   pending,
		Running:   p.running.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
	}
}
