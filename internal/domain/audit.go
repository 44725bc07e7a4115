package domain

import "time"

// AuditKind は監査ログエントリの種別を表す。
type AuditKind string

const (
	AuditCreate      AuditKind = "CREATE"
	AuditSend        AuditKind = "SEND"
	AuditAccept      AuditKind = "ACCEPT"
	AuditCertificate AuditKind = "CERTIFICATE"
	AuditDeliver     AuditKind = "DELIVER"
	AuditReject      AuditKind = "REJECT"
	AuditDeny        AuditKind = "DENY"
)

// AuditLogEntry は遷移試行1回分の追記専用レコード。
type AuditLogEntry struct {
	ID        string
	MessageID string
	// ActorID はアイデンティティ削除後に nil になり得る。
	ActorID   *string
	Kind      AuditKind
	Notes     string
	Timestamp time.Time
}
