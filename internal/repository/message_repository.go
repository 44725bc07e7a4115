package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"secure-message-service/internal/domain"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// MessageModel はgorm用のモデル定義。
type MessageModel struct {
	ID             string    `gorm:"size:36;primaryKey"`
	SenderID       string    `gorm:"size:64;not null;index:idx_messages_sender_state"`
	ReceiverID     string    `gorm:"size:64;not null;index:idx_messages_receiver_state"`
	Subject        string    `gorm:"size:255;not null"`
	SealedBody     []byte    `gorm:"column:sealed_body"`
	KeyHandle      string    `gorm:"size:36"`
	State          string    `gorm:"size:32;not null;index:idx_messages_sender_state;index:idx_messages_receiver_state;index:idx_messages_state"`
	CertificateRef *string   `gorm:"size:36"`
	Version        int       `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (MessageModel) TableName() string {
	return "messages"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *MessageModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *MessageModel) toDomain() *domain.Message {
	return &domain.Message{
		ID:             m.ID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Subject:        m.Subject,
		SealedBody:     m.SealedBody,
		KeyHandle:      m.KeyHandle,
		State:          domain.MessageState(m.State),
		CertificateRef: m.CertificateRef,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// MessageRepository はメッセージのデータアクセスを提供する。
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository は新しいMessageRepositoryを生成する。
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create は新しいメッセージを保存する。
func (r *MessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	model := &MessageModel{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Subject:    msg.Subject,
		SealedBody: msg.SealedBody,
		KeyHandle:  msg.KeyHandle,
		State:      string(msg.State),
		Version:    msg.Version,
		CreatedAt:  msg.CreatedAt,
		UpdatedAt:  msg.UpdatedAt,
	}
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create message",
			"operation", "create_message",
			"sender_id", msg.SenderID,
			"error", err,
		)
		return err
	}
	msg.ID = model.ID
	msg.CreatedAt = model.CreatedAt
	msg.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID は指定されたIDのメッセージを取得する。存在しない場合は nil を返す。
func (r *MessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	var model MessageModel
	err := conn(ctx, r.db).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find message",
			"operation", "find_message_by_id",
			"message_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// UpdateState は expectedVersion と一致する場合のみ状態と付随フィールドを更新し、Version を進める。
// 他の書き込みが先行していた場合は domain.ErrInvalidState を返す。
func (r *MessageRepository) UpdateState(ctx context.Context, msg *domain.Message, expectedVersion int) error {
	res := conn(ctx, r.db).
		Model(&MessageModel{}).
		Where("id = ? AND version = ?", msg.ID, expectedVersion).
		Updates(map[string]interface{}{
			"state":           string(msg.State),
			"sealed_body":     msg.SealedBody,
			"key_handle":      msg.KeyHandle,
			"certificate_ref": msg.CertificateRef,
			"version":         expectedVersion + 1,
			"updated_at":      msg.UpdatedAt,
		})
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to update message state",
			"operation", "update_message_state",
			"message_id", msg.ID,
			"state", msg.State,
			"error", res.Error,
		)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInvalidState
	}
	msg.Version = expectedVersion + 1
	return nil
}

// FindByState は指定された状態のメッセージを古い順に取得する。
func (r *MessageRepository) FindByState(ctx context.Context, state domain.MessageState) ([]*domain.Message, error) {
	var models []MessageModel
	err := conn(ctx, r.db).
		Where("state = ?", string(state)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find messages by state",
			"operation", "find_messages_by_state",
			"state", state,
			"error", err,
		)
		return nil, err
	}
	return toDomainList(models), nil
}

// FindBySender は送信者のメッセージを新しい順に取得する。
func (r *MessageRepository) FindBySender(ctx context.Context, senderID string, filter domain.MessageFilter) ([]*domain.Message, error) {
	return r.findByParticipant(ctx, "sender_id", "receiver_id", senderID, filter)
}

// FindByReceiver は受信者のメッセージを新しい順に取得する。
func (r *MessageRepository) FindByReceiver(ctx context.Context, receiverID string, filter domain.MessageFilter) ([]*domain.Message, error) {
	return r.findByParticipant(ctx, "receiver_id", "sender_id", receiverID, filter)
}

// findByParticipant は column をアクター、counterColumn を相手方として絞り込む。
func (r *MessageRepository) findByParticipant(ctx context.Context, column, counterColumn, actorID string, filter domain.MessageFilter) ([]*domain.Message, error) {
	q := conn(ctx, r.db).Where(column+" = ?", actorID)
	if filter.Counterparty != "" {
		q = q.Where(counterColumn+" = ?", filter.Counterparty)
	}
	if filter.State != "" {
		q = q.Where("state = ?", string(filter.State))
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		q = q.Where("created_at < ?", *filter.Until)
	}

	var models []MessageModel
	err := q.Order("created_at DESC").
		Limit(pageSize(filter.Limit)).
		Offset(max(filter.Offset, 0)).
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find messages by participant",
			"operation", "find_messages_by_"+column,
			"actor_id", actorID,
			"error", err,
		)
		return nil, err
	}
	return toDomainList(models), nil
}

// CountBySender は送信者のメッセージ数を返す。
func (r *MessageRepository) CountBySender(ctx context.Context, senderID string) (int64, error) {
	return r.count(ctx, "count_by_sender", conn(ctx, r.db).Where("sender_id = ?", senderID))
}

// CountByReceiver は受信者のメッセージ数を返す。
func (r *MessageRepository) CountByReceiver(ctx context.Context, receiverID string) (int64, error) {
	return r.count(ctx, "count_by_receiver", conn(ctx, r.db).Where("receiver_id = ?", receiverID))
}

// CountByStates は指定された状態のいずれかにあるメッセージ数を返す。
func (r *MessageRepository) CountByStates(ctx context.Context, states []domain.MessageState) (int64, error) {
	values := make([]string, len(states))
	for i, s := range states {
		values[i] = string(s)
	}
	return r.count(ctx, "count_by_states", conn(ctx, r.db).Where("state IN ?", values))
}

func (r *MessageRepository) count(ctx context.Context, operation string, q *gorm.DB) (int64, error) {
	var count int64
	if err := q.Model(&MessageModel{}).Count(&count).Error; err != nil {
		slog.ErrorContext(ctx, "failed to count messages",
			"operation", operation,
			"error", err,
		)
		return 0, err
	}
	return count, nil
}

func toDomainList(models []MessageModel) []*domain.Message {
	msgs := make([]*domain.Message, len(models))
	for i := range models {
		msgs[i] = models[i].toDomain()
	}
	return msgs
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
