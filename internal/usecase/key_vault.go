// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"secure-message-service/internal/domain"
	"secure-message-service/internal/envelope"
)

// DataKeyRepository はラップ済みデータ鍵のデータアクセスのインターフェース。
type DataKeyRepository interface {
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)
	Create(ctx context.Context, key *domain.DataKey) error
	FindByHandle(ctx context.Context, handle string) (*domain.DataKey, error)
}

// KMSClient はデータ鍵をラップするKEKの暗号化/復号のインターフェース。
type KMSClient interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KeyVault はメッセージごとのデータ鍵を管理する。
// 平文の鍵はこの型の外に出さず、呼び出し側はハンドルのみを保持する。
type KeyVault struct {
	repo      DataKeyRepository
	kmsClient KMSClient
}

// NewKeyVault は新しいKeyVaultを生成する。
func NewKeyVault(repo DataKeyRepository, kmsClient KMSClient) *KeyVault {
	return &KeyVault{
		repo:      repo,
		kmsClient: kmsClient,
	}
}

// GenerateKey は指定されたメッセージ用の新しいデータ鍵を生成し、ハンドルを返す。
func (v *KeyVault) GenerateKey(ctx context.Context, messageID string) (string, error) {
	// 既存チェック
	exists, err := v.repo.ExistsByMessageID(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("checking existing key: %w", err)
	}
	if exists {
		return "", domain.ErrKeyAlreadyExists
	}

	dek := memguard.NewBufferRandom(envelope.KeySize)
	defer dek.Destroy()

	// KEKでラップ
	wrapped, err := v.kmsClient.Encrypt(ctx, dek.Bytes())
	if err != nil {
		return "", fmt.Errorf("wrapping key: %w", err)
	}

	key := &domain.DataKey{
		Handle:     uuid.New().String(),
		MessageID:  messageID,
		WrappedKey: wrapped,
	}
	if err := v.repo.Create(ctx, key); err != nil {
		return "", fmt.Errorf("creating key: %w", err)
	}
	return key.Handle, nil
}

// Seal は平文をハンドルの鍵で暗号化する。
func (v *KeyVault) Seal(ctx context.Context, handle string, plaintext []byte) ([]byte, error) {
	dek, err := v.unwrap(ctx, handle)
	if err != nil {
		return nil, err
	}
	defer dek.Destroy()

	sealed, err := envelope.Seal(dek.Bytes(), plaintext, []byte(handle))
	if err != nil {
		return nil, fmt.Errorf("sealing body: %w", err)
	}
	return sealed, nil
}

// Open は暗号文をハンドルの鍵で復号する。
// ハンドルが未知なら domain.ErrKeyNotFound、鍵の復元または完全性検証に失敗したら domain.ErrDecryptFailed を返す。
func (v *KeyVault) Open(ctx context.Context, handle string, sealed []byte) ([]byte, error) {
	dek, err := v.unwrap(ctx, handle)
	if err != nil {
		return nil, err
	}
	defer dek.Destroy()

	plaintext, err := envelope.Open(dek.Bytes(), sealed, []byte(handle))
	if err != nil {
		return nil, fmt.Errorf("opening body: %w: %w", domain.ErrDecryptFailed, err)
	}
	return plaintext, nil
}

// unwrap はラップ済み鍵をKEKで復号し、保護メモリに載せて返す。呼び出し側で Destroy すること。
func (v *KeyVault) unwrap(ctx context.Context, handle string) (*memguard.LockedBuffer, error) {
	if handle == "" {
		return nil, domain.ErrKeyNotFound
	}
	key, err := v.repo.FindByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("finding key: %w", err)
	}
	if key == nil {
		return nil, domain.ErrKeyNotFound
	}

	plainKey, err := v.kmsClient.Decrypt(ctx, key.WrappedKey)
	if err != nil {
		// KEKの一時的な障害は暗号エラーとして扱わない
		return nil, fmt.Errorf("unwrapping key: %w", err)
	}
	if len(plainKey) != envelope.KeySize {
		memguard.WipeBytes(plainKey)
		return nil, fmt.Errorf("unwrapping key: %w: unexpected key size %d", domain.ErrDecryptFailed, len(plainKey))
	}
	// NewBufferFromBytes は元のスライスを消去する
	return memguard.NewBufferFromBytes(plainKey), nil
}
