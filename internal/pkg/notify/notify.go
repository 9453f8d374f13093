package notify

import (
	"context"
	"errors"
	"log/slog"

	"volunteerhub/internal/pkg/dedup"
	"volunteerhub/internal/pkg/metrics"
	"volunteerhub/internal/pkg/queue"
)

// Sender 定义通知发送接口。
type Sender interface {
	// Send 发送一封通知。
	//
	// 参数:
	//   ctx: 上下文
	//   to: 接收邮箱
	//   subject: 标题
	//   body: HTML 正文
	Send(ctx context.Context, to, subject, body string) error
}

// Message 一条待投递的通知。
type Message struct {
	To      string
	Subject string
	Body    string
	// DedupKey 非空时，去重窗口内相同 key 的消息只投递一次。
	DedupKey string
}

// Dispatcher 把通知异步投递到 worker 池，调用方永远不会等待发送结果。
type Dispatcher struct {
	sender Sender
	queue  *queue.Queue
	dedup  *dedup.Deduplicator
	logger *slog.Logger
}

// NewDispatcher 创建通知分发器。dd 为 nil 时不做去重。
func NewDispatcher(sender Sender, q *queue.Queue, dd *dedup.Deduplicator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		queue:  q,
		dedup:  dd,
		logger: logger,
	}
}

// Notify 非阻塞入队。队列已满或已关闭时丢弃并记录日志。
func (d *Dispatcher) Notify(msg Message) {
	if d == nil || d.sender == nil || d.queue == nil {
		return
	}
	if msg.To == "" {
		d.logger.Debug("notification without recipient skipped", slog.String("subject", msg.Subject))
		return
	}

	err := d.queue.Submit(queue.Task{
		Name: "notify:" + msg.Subject,
		Run: func(ctx context.Context) error {
			return d.deliver(ctx, msg)
		},
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		level := slog.LevelWarn
		if errors.Is(err, queue.ErrQueueClosed) {
			level = slog.LevelInfo
		}
		d.logger.Log(context.Background(), level, "notification dropped",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) error {
	if msg.DedupKey != "" {
		first, err := d.dedup.Claim(ctx, msg.DedupKey)
		if err != nil {
			d.logger.Warn("notification dedup unavailable", slog.String("error", err.Error()))
		}
		if !first {
			metrics.NotificationsTotal.WithLabelValues("deduplicated").Inc()
			d.logger.Debug("duplicate notification suppressed", slog.String("key", msg.DedupKey))
			return nil
		}
	}

	if err := d.sender.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		if msg.DedupKey != "" {
			if relErr := d.dedup.Release(ctx, msg.DedupKey); relErr != nil {
				d.logger.Warn("release dedup key failed", slog.String("error", relErr.Error()))
			}
		}
		return err
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	return nil
}
