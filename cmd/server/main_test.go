package main

import (
	"context"
	"strings"
	"testing"

	"secure-message-service/config"
)

func TestNewKEK_UnknownProvider(t *testing.T) {
	for _, provider := range []string{"vault", "KMS", ""} {
		t.Run(provider, func(t *testing.T) {
			kek, closeKEK, err := newKEK(context.Background(), &config.Config{KEKProvider: provider, MasterKey: "0123456789abcdef0123456789abcdef"})
			if err == nil {
				t.Fatal("expected error for unknown provider")
			}
			if !strings.Contains(err.Error(), "unsupported KEK provider") {
				t.Errorf("unexpected error: %v", err)
			}
			if kek != nil || closeKEK != nil {
				t.Error("expected no KEK for unknown provider")
			}
		})
	}
}

func TestNewKEK_Local(t *testing.T) {
	kek, closeKEK, err := newKEK(context.Background(), &config.Config{
		KEKProvider: config.KEKProviderLocal,
		MasterKey:   "0123456789abcdef0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("newKEK failed: %v", err)
	}
	defer closeKEK()

	ctx := context.Background()
	wrapped, err := kek.Encrypt(ctx, []byte("data-key"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	plain, err := kek.Decrypt(ctx, wrapped)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(plain) != "data-key" {
		t.Errorf("want data-key, got %q", plain)
	}
}

func TestNewKEK_KMSRequiresKeyName(t *testing.T) {
	_, _, err := newKEK(context.Background(), &config.Config{KEKProvider: config.KEKProviderKMS})
	if err == nil || !strings.Contains(err.Error(), "KMS_KEY_NAME") {
		t.Errorf("expected missing key name error, got %v", err)
	}
}
