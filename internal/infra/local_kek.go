package infra

import (
	"context"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"

	"secure-message-service/internal/domain"
	"secure-message-service/internal/envelope"
)

// MinMasterKeyLength はローカルKEKの導出元として受け付ける最短のシークレット長。
const MinMasterKeyLength = 32

var (
	kekSalt = []byte("secure-message-service/local-kek/salt/v1")
	kekInfo = []byte("secure-message-service/local-kek/v1")
	// kekAAD はラップ済みデータ鍵をこのKEKの用途に束縛する。
	kekAAD = []byte("data-key")
)

// LocalKEK はMASTER_KEYから導出した鍵でデータ鍵をラップする。開発・テスト環境向け。
// 導出した鍵は memguard の Enclave に暗号化して保持する。
type LocalKEK struct {
	enclave *memguard.Enclave
}

// NewLocalKEK はシークレットからHKDF-SHA512で鍵を導出してLocalKEKを生成する。
func NewLocalKEK(masterKey string) (*LocalKEK, error) {
	if len(masterKey) < MinMasterKeyLength {
		return nil, fmt.Errorf("MASTER_KEY must be at least %d bytes", MinMasterKeyLength)
	}

	reader := hkdf.New(sha512.New, []byte(masterKey), kekSalt, kekInfo)
	key := make([]byte, envelope.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	// NewEnclave は元のスライスを消去する
	return &LocalKEK{enclave: memguard.NewEnclave(key)}, nil
}

// Encrypt はデータ鍵をラップする。
func (k *LocalKEK) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	buf, err := k.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening enclave: %w", err)
	}
	defer buf.Destroy()

	wrapped, err := envelope.Seal(buf.Bytes(), plaintext, kekAAD)
	if err != nil {
		return nil, fmt.Errorf("wrapping data key: %w", err)
	}
	return wrapped, nil
}

// Decrypt はラップ済みのデータ鍵を復号する。
func (k *LocalKEK) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	buf, err := k.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening enclave: %w", err)
	}
	defer buf.Destroy()

	plain, err := envelope.Open(buf.Bytes(), ciphertext, kekAAD)
	if err != nil {
		if errors.Is(err, envelope.ErrAuthentication) || errors.Is(err, envelope.ErrMalformed) {
			return nil, fmt.Errorf("unwrapping data key: %w: %w", domain.ErrDecryptFailed, err)
		}
		return nil, fmt.Errorf("unwrapping data key: %w", err)
	}
	return plain, nil
}
