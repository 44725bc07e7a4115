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

// DataKeyModel はgorm用のモデル定義。KEKでラップされた鍵のみを保持する。
type DataKeyModel struct {
	Handle     string    `gorm:"size:36;primaryKey"`
	MessageID  string    `gorm:"size:36;not null;uniqueIndex:uk_data_keys_message_id"`
	WrappedKey []byte    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (DataKeyModel) TableName() string {
	return "data_keys"
}

// BeforeCreate はレコード作成前にハンドルを生成する。
func (k *DataKeyModel) BeforeCreate(tx *gorm.DB) error {
	if k.Handle == "" {
		k.Handle = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (k *DataKeyModel) toDomain() *domain.DataKey {
	return &domain.DataKey{
		Handle:     k.Handle,
		MessageID:  k.MessageID,
		WrappedKey: k.WrappedKey,
		CreatedAt:  k.CreatedAt,
	}
}

// DataKeyRepository はラップ済みデータ鍵のデータアクセスを提供する。
type DataKeyRepository struct {
	db *gorm.DB
}

// NewDataKeyRepository は新しいDataKeyRepositoryを生成する。
func NewDataKeyRepository(db *gorm.DB) *DataKeyRepository {
	return &DataKeyRepository{db: db}
}

// ExistsByMessageID は指定されたメッセージに鍵が存在するか確認する。
func (r *DataKeyRepository) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	var count int64
	err := conn(ctx, r.db).
		Model(&DataKeyModel{}).
		Where("message_id = ?", messageID).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count keys by message_id",
			"operation", "exists_by_message_id",
			"message_id", messageID,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// Create は新しいラップ済み鍵を保存する。
func (r *DataKeyRepository) Create(ctx context.Context, key *domain.DataKey) error {
	model := &DataKeyModel{
		Handle:     key.Handle,
		MessageID:  key.MessageID,
		WrappedKey: key.WrappedKey,
	}
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrKeyAlreadyExists
		}
		slog.ErrorContext(ctx, "failed to create key",
			"operation", "create",
			"message_id", key.MessageID,
			"error", err,
		)
		return err
	}
	// gormで設定された値をドメインエンティティに反映
	key.Handle = model.Handle
	key.CreatedAt = model.CreatedAt
	return nil
}

// FindByHandle は指定されたハンドルの鍵を取得する。存在しない場合は nil を返す。
func (r *DataKeyRepository) FindByHandle(ctx context.Context, handle string) (*domain.DataKey, error) {
	var model DataKeyModel
	err := conn(ctx, r.db).
		Where("handle = ?", handle).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find key",
			"operation", "find_by_handle",
			"handle", handle,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}
