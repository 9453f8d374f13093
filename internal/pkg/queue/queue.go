package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue closed")
)

// Task 表示一次异步执行的副作用（如发送通知）。
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// ErrorHandler 任务失败回调。
type ErrorHandler func(task Task, err error)

// Queue 固定 worker 池 + 有界缓冲区。
//
// Submit 永不阻塞调用方：缓冲区满时直接返回 ErrQueueFull。
// 每个任务使用独立的超时上下文，服务关闭时通过 Drain 执行完剩余任务。
type Queue struct {
	logger       *slog.Logger
	workers      int
	taskTimeout  time.Duration
	tasks        chan Task
	errorHandler ErrorHandler

	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
	mu      sync.RWMutex // 保护 closed 与 close(tasks) 之间的竞态

	stats queueStats
}

type queueStats struct {
	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计快照。
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Rejected  int64
	Panics    int64
}

// New 创建队列。
//
// 参数:
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 缓冲区容量（至少为 1）
//   - taskTimeout: 单个任务的执行超时（<=0 时为 30s）
func New(logger *slog.Logger, workers, capacity int, taskTimeout time.Duration) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	return &Queue{
		logger:      logger,
		workers:     workers,
		taskTimeout: taskTimeout,
		tasks:       make(chan Task, capacity),
	}
}

// SetErrorHandler 设置任务失败回调，需在 Start 之前调用。
func (q *Queue) SetErrorHandler(handler ErrorHandler) {
	q.errorHandler = handler
}

// Start 启动 worker。ctx 仅作为任务上下文的父级携带值，取消它不会丢弃已入队的任务。
func (q *Queue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	base := context.WithoutCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(base, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for task := range q.tasks {
		q.execute(ctx, task, id)
	}
	q.logger.Debug("queue worker exited", slog.Int("worker_id", id))
}

func (q *Queue) execute(parent context.Context, task Task, workerID int) {
	ctx, cancel := context.WithTimeout(parent, q.taskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.stats.panics.Add(1)
			q.logger.Error("task panic recovered",
				slog.String("task", task.Name),
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := task.Run(ctx); err != nil {
		q.stats.failed.Add(1)
		q.logger.Warn("task failed",
			slog.String("task", task.Name),
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		if q.errorHandler != nil {
			q.errorHandler(task, err)
		}
		return
	}
	q.stats.succeeded.Add(1)
}

// Submit 非阻塞入队。
func (q *Queue) Submit(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %q has no run func", task.Name)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		q.stats.rejected.Add(1)
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		q.stats.submitted.Add(1)
		return nil
	default:
		q.stats.rejected.Add(1)
		q.logger.Warn("queue full, reject task",
			slog.String("task", task.Name),
			slog.Int("capacity", cap(q.tasks)))
		return ErrQueueFull
	}
}

// Drain 停止接收新任务，并在 timeout 内等待已入队任务执行完毕。
func (q *Queue) Drain(timeout time.Duration) error {
	q.mu.Lock()
	if !q.closed.CompareAndSwap(false, true) {
		q.mu.Unlock()
		return nil
	}
	close(q.tasks)
	q.mu.Unlock()

	if !q.started.Load() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue drained")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("drain timeout after %s", timeout)
	}
}

// Stats 返回统计快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.stats.submitted.Load(),
		Succeeded: q.stats.succeeded.Load(),
		Failed:    q.stats.failed.Load(),
		Rejected:  q.stats.rejected.Load(),
		Panics:    q.stats.panics.Load(),
	}
}

// Len 返回待处理任务数。
func (q *Queue) Len() int { return len(q.tasks) }

// Cap 返回缓冲区容量。
func (q *Queue) Cap() int { return cap(q.tasks) }

// Workers 返回 worker 数量。
func (q *Queue) Workers() int { return q.workers }
