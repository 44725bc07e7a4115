package usecase

import (
	"context"
	"fmt"
	"time"

	"secure-message-service/internal/domain"
)

// DefaultCertificateValidity は証明書の既定の有効期間（365日）。
const DefaultCertificateValidity = 365 * 24 * time.Hour

// CertificateRepository は証明書のデータアクセスのインターフェース。
type CertificateRepository interface {
	Create(ctx context.Context, cert *domain.Certificate) error
	FindByMessageID(ctx context.Context, messageID string) (*domain.Certificate, error)
}

// CertificateIssuer は認証局の承認に対する証明書を発行する。
type CertificateIssuer struct {
	repo     CertificateRepository
	validity time.Duration
	now      func() time.Time
}

// NewCertificateIssuer は新しいCertificateIssuerを生成する。validity が0以下なら既定値を使う。
func NewCertificateIssuer(repo CertificateRepository, validity time.Duration) *CertificateIssuer {
	if validity <= 0 {
		validity = DefaultCertificateValidity
	}
	return &CertificateIssuer{
		repo:     repo,
		validity: validity,
		now:      time.Now,
	}
}

// Issue はメッセージの証明書を作成する。
// certificateData が空なら domain.ErrInvalidInput、既に証明書があれば domain.ErrAlreadyCertified を返す。
func (i *CertificateIssuer) Issue(ctx context.Context, messageID, issuerID string, certificateData []byte) (*domain.Certificate, error) {
	if len(certificateData) == 0 {
		return nil, fmt.Errorf("%w: certificate data is required", domain.ErrInvalidInput)
	}

	// 状態遷移とは独立に重複を防ぐ
	existing, err := i.repo.FindByMessageID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrAlreadyCertified
	}

	issuedAt := i.now().UTC()
	cert := &domain.Certificate{
		MessageID:       messageID,
		IssuerID:        issuerID,
		CertificateData: append([]byte(nil), certificateData...),
		IssuedAt:        issuedAt,
		ValidUntil:      issuedAt.Add(i.validity),
	}
	if err := i.repo.Create(ctx, cert); err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}
	return cert, nil
}

// Find はメッセージの証明書を取得する。存在しない場合は nil を返す。
func (i *CertificateIssuer) Find(ctx context.Context, messageID string) (*domain.Certificate, error) {
	cert, err := i.repo.FindByMessageID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	return cert, nil
}
