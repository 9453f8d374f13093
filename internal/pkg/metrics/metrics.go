package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "volunteerhub"

var (
	// ApplicationsTotal 申请写操作计数，op: created / deleted / status。
	ApplicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "applications_total",
		Help:      "Application ledger mutations by operation.",
	}, []string{"op"})

	// ApplicationConflictsTotal 重复申请被拒绝的次数。
	ApplicationConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "application_conflicts_total",
		Help:      "Duplicate applications rejected by the uniqueness check or constraint.",
	})

	// OpportunityTransitionsTotal 机会状态切换次数。
	OpportunityTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "opportunity_transitions_total",
		Help:      "Opportunity status changes by target status.",
	}, []string{"to"})

	// LikesToggledTotal 点赞切换次数，result: liked / unliked。
	LikesToggledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "likes_toggled_total",
		Help:      "Like toggles by resulting state.",
	}, []string{"result"})

	// NotificationsTotal 通知投递结果，result: sent / failed / dropped / deduplicated。
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Best-effort notification outcomes.",
	}, []string{"result"})

	// NotificationWorkers 通知 worker 数量。
	NotificationWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "notification_workers",
		Help:      "Configured notification worker pool size.",
	})

	// RateLimitedTotal 被限流拒绝的请求数。
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	// CounterDriftCorrectedTotal 对账任务修正的申请计数条数。
	CounterDriftCorrectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "counter_drift_corrected_total",
		Help:      "Opportunity application counters rewritten by the reconciler.",
	})

	// HTTPRequestDuration HTTP 请求耗时。
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// InitMetrics 设置与配置相关的指标初值，可重复调用。
func InitMetrics(notificationWorkers int) {
	NotificationWorkers.Set(float64(notificationWorkers))
}
