package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"secure-message-service/internal/domain"
)

func TestCertificateRepository_Create(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewCertificateRepository(db)

	now := time.Now().UTC()
	cert := &domain.Certificate{
		MessageID:       "message-1",
		IssuerID:        "ca-1",
		CertificateData: []byte("cert-data"),
		IssuedAt:        now,
		ValidUntil:      now.Add(24 * time.Hour),
	}
	if err := repo.Create(ctx, cert); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if cert.ID == "" {
		t.Error("expected ID to be generated, got empty")
	}

	// 1メッセージにつき証明書は1件まで
	dup := &domain.Certificate{
		MessageID:       "message-1",
		IssuerID:        "ca-2",
		CertificateData: []byte("other"),
		IssuedAt:        now,
		ValidUntil:      now.Add(time.Hour),
	}
	if err := repo.Create(ctx, dup); !errors.Is(err, domain.ErrAlreadyCertified) {
		t.Errorf("expected ErrAlreadyCertified, got %v", err)
	}
}

func TestCertificateRepository_FindByMessageID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewCertificateRepository(db)

	now := time.Now().UTC()
	if err := repo.Create(ctx, &domain.Certificate{
		MessageID:       "message-1",
		IssuerID:        "ca-1",
		CertificateData: []byte("cert-data"),
		IssuedAt:        now,
		ValidUntil:      now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	cert, err := repo.FindByMessageID(ctx, "message-1")
	if err != nil {
		t.Fatalf("FindByMessageID failed: %v", err)
	}
	if cert == nil {
		t.Fatal("expected certificate, got nil")
	}
	if cert.IssuerID != "ca-1" {
		t.Errorf("expected issuer=ca-1, got %s", cert.IssuerID)
	}
	if !cert.ValidUntil.After(cert.IssuedAt) {
		t.Errorf("expected valid_until after issued_at, got %v / %v", cert.IssuedAt, cert.ValidUntil)
	}

	cert, err = repo.FindByMessageID(ctx, "message-2")
	if err != nil {
		t.Fatalf("FindByMessageID failed: %v", err)
	}
	if cert != nil {
		t.Errorf("expected nil, got %+v", cert)
	}
}
