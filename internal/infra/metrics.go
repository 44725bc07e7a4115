package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics はメッセージライフサイクルのPrometheusメトリクス。
type Metrics struct {
	// 操作と結果ごとの遷移要求数
	Transitions *prometheus.CounterVec

	// 本文を復元できなかった閲覧の数
	ContentUnavailable prometheus.Counter

	// 監査ログの外部配信に失敗した数
	AuditPublishFailures prometheus.Counter
}

// NewMetrics は reg にメトリクスを登録して返す。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "secure_message_transitions_total",
			Help: "Total lifecycle transition requests by action and result",
		}, []string{"action", "result"}),

		ContentUnavailable: factory.NewCounter(prometheus.CounterOpts{
			Name: "secure_message_content_unavailable_total",
			Help: "Total reads whose content could not be recovered",
		}),

		AuditPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "secure_message_audit_publish_failures_total",
			Help: "Total audit entries that could not be published after commit",
		}),
	}
}

// ObserveTransition は遷移要求の結果を記録する。
func (m *Metrics) ObserveTransition(action, result string) {
	if m != nil {
		m.Transitions.WithLabelValues(action, result).Inc()
	}
}

// IncContentUnavailable は復元できなかった閲覧を記録する。
func (m *Metrics) IncContentUnavailable() {
	if m != nil {
		m.ContentUnavailable.Inc()
	}
}

// IncAuditPublishFailure は監査ログ配信の失敗を記録する。
func (m *Metrics) IncAuditPublishFailure() {
	if m != nil {
		m.AuditPublishFailures.Inc()
	}
}
