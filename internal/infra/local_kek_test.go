package infra

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"secure-message-service/internal/domain"
	"secure-message-service/internal/envelope"
)

const testMasterKey = "0123456789abcdef0123456789abcdef"

func TestNewLocalKEK_ShortMasterKey(t *testing.T) {
	if _, err := NewLocalKEK("too-short"); err == nil {
		t.Error("expected error for short master key, got nil")
	}
}

func TestLocalKEK_RoundTrip(t *testing.T) {
	ctx := context.Background()
	kek, err := NewLocalKEK(testMasterKey)
	if err != nil {
		t.Fatalf("NewLocalKEK failed: %v", err)
	}

	dek := bytes.Repeat([]byte{0x42}, envelope.KeySize)
	wrapped, err := kek.Encrypt(ctx, dek)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Contains(wrapped, dek) {
		t.Error("wrapped key must not contain the raw key")
	}

	got, err := kek.Decrypt(ctx, wrapped)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Errorf("expected round trip, got %x", got)
	}
}

func TestLocalKEK_SameSecretDerivesSameKey(t *testing.T) {
	ctx := context.Background()
	first, err := NewLocalKEK(testMasterKey)
	if err != nil {
		t.Fatalf("NewLocalKEK failed: %v", err)
	}
	second, err := NewLocalKEK(testMasterKey)
	if err != nil {
		t.Fatalf("NewLocalKEK failed: %v", err)
	}

	wrapped, err := first.Encrypt(ctx, []byte("data-key-bytes"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	// 再起動後も同じシークレットから復号できる
	if _, err := second.Decrypt(ctx, wrapped); err != nil {
		t.Errorf("expected decrypt with re-derived key to succeed, got %v", err)
	}
}

func TestLocalKEK_WrongSecret(t *testing.T) {
	ctx := context.Background()
	kek, err := NewLocalKEK(testMasterKey)
	if err != nil {
		t.Fatalf("NewLocalKEK failed: %v", err)
	}
	other, err := NewLocalKEK(strings.Repeat("z", 40))
	if err != nil {
		t.Fatalf("NewLocalKEK failed: %v", err)
	}

	wrapped, err := kek.Encrypt(ctx, []byte("data-key-bytes"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	_, err = other.Decrypt(ctx, wrapped)
	if !errors.Is(err, envelope.ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
	if !errors.Is(err, domain.ErrDecryptFailed) {
		t.Errorf("expected ErrDecryptFailed, got %v", err)
	}

	if _, err := kek.Decrypt(ctx, []byte("short")); !errors.Is(err, domain.ErrDecryptFailed) {
		t.Errorf("expected ErrDecryptFailed for malformed input, got %v", err)
	}
}
