package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Reconciler 执行一次申请计数对账，返回被修正的条数。
type Reconciler interface {
	ReconcileApplicationCounts(ctx context.Context) (int64, error)
}

// Scheduler 周期性运行后台维护任务。
//
// 目前只有申请计数对账：它不替代每次变更时的同步重算，只修正外部写库造成的偏差。
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	logger     *slog.Logger
	interval   time.Duration
	timeout    time.Duration

	mu      sync.Mutex
	started bool
}

// New 创建调度器。interval <= 0 时不注册对账任务。
//
// 参数:
//
//	reconciler: 对账实现（通常是 service.Engine）
//	logger: 日志记录器
//	interval: 对账间隔
func New(reconciler Reconciler, logger *slog.Logger, interval time.Duration) *Scheduler {
	timeout := interval
	if timeout <= 0 || timeout > time.Minute {
		timeout = time.Minute
	}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		reconciler: reconciler,
		logger:     logger,
		interval:   interval,
		timeout:    timeout,
	}
}

// Spec 返回对账任务的 cron 表达式。
func (s *Scheduler) Spec() string {
	return fmt.Sprintf("@every %s", s.interval)
}

// Start 注册并启动定时任务，重复调用无副作用。
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.interval > 0 && s.reconciler != nil {
		if _, err := s.cron.AddFunc(s.Spec(), s.runReconcile); err != nil {
			return fmt.Errorf("schedule reconcile: %w", err)
		}
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", slog.String("reconcile", s.interval.String()))
	return nil
}

// Stop 停止调度，并等待正在执行的任务结束或 ctx 超时。
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunOnce 立即执行一次对账。
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	if s.reconciler == nil {
		return 0, nil
	}
	return s.reconciler.ReconcileApplicationCounts(ctx)
}

func (s *Scheduler) runReconcile() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("PANIC in reconcile job",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("reconcile failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("reconcile finished",
		slog.Int64("corrected", n),
		slog.String("took", time.Since(start).String()))
}
