package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"secure-message-service/internal/domain"
)

// AuditLogModel はgorm用のモデル定義。追記専用。
type AuditLogModel struct {
	ID        string    `gorm:"size:36;primaryKey"`
	MessageID string    `gorm:"size:36;not null;index:idx_audit_logs_message_id"`
	ActorID   *string   `gorm:"size:64"`
	Kind      string    `gorm:"size:16;not null"`
	Notes     string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (AuditLogModel) TableName() string {
	return "audit_logs"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (a *AuditLogModel) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// AuditRepository は監査ログのデータアクセスを提供する。
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository は新しいAuditRepositoryを生成する。
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append は監査ログエントリを追記する。
func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	model := &AuditLogModel{
		ID:        entry.ID,
		MessageID: entry.MessageID,
		ActorID:   entry.ActorID,
		Kind:      string(entry.Kind),
		Notes:     entry.Notes,
		Timestamp: entry.Timestamp,
	}
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to append audit entry",
			"operation", "append_audit_entry",
			"message_id", entry.MessageID,
			"kind", entry.Kind,
			"error", err,
		)
		return err
	}
	entry.ID = model.ID
	return nil
}

// FindByMessageID はメッセージの監査ログを新しい順に取得する。
func (r *AuditRepository) FindByMessageID(ctx context.Context, messageID string) ([]*domain.AuditLogEntry, error) {
	var models []AuditLogModel
	err := conn(ctx, r.db).
		Where("message_id = ?", messageID).
		Order("timestamp DESC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find audit entries",
			"operation", "find_audit_entries_by_message_id",
			"message_id", messageID,
			"error", err,
		)
		return nil, err
	}

	entries := make([]*domain.AuditLogEntry, len(models))
	for i, m := range models {
		entries[i] = &domain.AuditLogEntry{
			ID:        m.ID,
			MessageID: m.MessageID,
			ActorID:   m.ActorID,
			Kind:      domain.AuditKind(m.Kind),
			Notes:     m.Notes,
			Timestamp: m.Timestamp,
		}
	}
	return entries, nil
}
