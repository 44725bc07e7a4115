package usecase

import (
	"context"

	"secure-message-service/internal/domain"
)

// 遷移結果のラベル。
const (
	ResultSuccess  = "success"
	ResultDenied   = "denied"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// AuditSink はコミット済みの監査ログエントリを外部へ配信するインターフェース。
type AuditSink interface {
	Publish(ctx context.Context, entry *domain.AuditLogEntry) error
}

// Metrics はライフサイクル操作の計測のインターフェース。
type Metrics interface {
	ObserveTransition(action, result string)
	IncContentUnavailable()
	IncAuditPublishFailure()
}

type noopAuditSink struct{}

func (noopAuditSink) Publish(context.Context, *domain.AuditLogEntry) error { return nil }

type noopMetrics struct{}

func (noopMetrics) ObserveTransition(string, string) {}
func (noopMetrics) IncContentUnavailable()           {}
func (noopMetrics) IncAuditPublishFailure()          {}
