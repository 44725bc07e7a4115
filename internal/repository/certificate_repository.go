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

// CertificateModel はgorm用のモデル定義。
type CertificateModel struct {
	ID              string    `gorm:"size:36;primaryKey"`
	MessageID       string    `gorm:"size:36;not null;uniqueIndex:uk_certificates_message_id"`
	IssuerID        string    `gorm:"size:64;not null"`
	CertificateData []byte    `gorm:"not null"`
	IssuedAt        time.Time `gorm:"not null"`
	ValidUntil      time.Time `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (CertificateModel) TableName() string {
	return "certificates"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (c *CertificateModel) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

func (c *CertificateModel) toDomain() *domain.Certificate {
	return &domain.Certificate{
		ID:              c.ID,
		MessageID:       c.MessageID,
		IssuerID:        c.IssuerID,
		CertificateData: c.CertificateData,
		IssuedAt:        c.IssuedAt,
		ValidUntil:      c.ValidUntil,
	}
}

// CertificateRepository は証明書のデータアクセスを提供する。
type CertificateRepository struct {
	db *gorm.DB
}

// NewCertificateRepository は新しいCertificateRepositoryを生成する。
func NewCertificateRepository(db *gorm.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Create は証明書を保存する。同一メッセージの証明書が既にあれば domain.ErrAlreadyCertified を返す。
func (r *CertificateRepository) Create(ctx context.Context, cert *domain.Certificate) error {
	model := &CertificateModel{
		ID:              cert.ID,
		MessageID:       cert.MessageID,
		IssuerID:        cert.IssuerID,
		CertificateData: cert.CertificateData,
		IssuedAt:        cert.IssuedAt,
		ValidUntil:      cert.ValidUntil,
	}
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrAlreadyCertified
		}
		slog.ErrorContext(ctx, "failed to create certificate",
			"operation", "create_certificate",
			"message_id", cert.MessageID,
			"error", err,
		)
		return err
	}
	cert.ID = model.ID
	return nil
}

// FindByMessageID はメッセージの証明書を取得する。存在しない場合は nil を返す。
func (r *CertificateRepository) FindByMessageID(ctx context.Context, messageID string) (*domain.Certificate, error) {
	var model CertificateModel
	err := conn(ctx, r.db).Where("message_id = ?", messageID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find certificate",
			"operation", "find_certificate_by_message_id",
			"message_id", messageID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}
