package infra

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"secure-message-service/internal/domain"
)

func TestClassifyDecryptError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		decryptFailed bool
	}{
		{"corrupted ciphertext", status.Error(codes.InvalidArgument, "ciphertext is invalid"), true},
		{"key version disabled", status.Error(codes.FailedPrecondition, "key version is not enabled"), true},
		{"service unavailable", status.Error(codes.Unavailable, "connection reset"), false},
		{"deadline exceeded", status.Error(codes.DeadlineExceeded, "timeout"), false},
		{"permission denied", status.Error(codes.PermissionDenied, "denied"), false},
		{"non grpc error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyDecryptError(tt.err)
			if got := errors.Is(err, domain.ErrDecryptFailed); got != tt.decryptFailed {
				t.Errorf("errors.Is(err, ErrDecryptFailed) = %v, want %v (err: %v)", got, tt.decryptFailed, err)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("original error should stay in the chain: %v", err)
			}
		})
	}
}
