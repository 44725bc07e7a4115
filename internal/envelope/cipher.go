// Package envelope はメッセージ本文の認証付き暗号化を提供する。
package envelope

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize は鍵長（256 bit）。
	KeySize = chacha20poly1305.KeySize

	formatVersion byte = 1
	nonceSize          = chacha20poly1305.NonceSize
	tagSize            = chacha20poly1305.Overhead

	// MinSealedSize は封緘済みデータの最小長（空の平文）。
	MinSealedSize = 1 + nonceSize + tagSize
)

var (
	// ErrInvalidKey は鍵長が不正な場合のエラー。
	ErrInvalidKey = errors.New("envelope: invalid key size")

	// ErrMalformed は封緘済みデータの形式が不正な場合のエラー。
	ErrMalformed = errors.New("envelope: malformed sealed data")

	// ErrAuthentication は認証タグの検証に失敗した場合のエラー。
	ErrAuthentication = errors.New("envelope: message authentication failed")
)

// Seal は平文を ChaCha20-Poly1305 で暗号化する。
// 出力形式: [version(1)][nonce(12)][ciphertext||tag]
// nonce は呼び出しごとに生成するため、同じ平文でも暗号文は毎回異なる。
func Seal(key, plaintext, associatedData []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+tagSize)
	out[0] = formatVersion
	if _, err := rand.Read(out[1 : 1+nonceSize]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aead.Seal(out, out[1:1+nonceSize], plaintext, associatedData), nil
}

// Open は Seal の出力を復号する。検証に失敗した場合は部分的な平文も返さない。
func Open(key, sealed, associatedData []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	if len(sealed) < MinSealedSize {
		return nil, ErrMalformed
	}
	if sealed[0] != formatVersion {
		return nil, ErrMalformed
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	nonce := sealed[1 : 1+nonceSize]
	plaintext, err := aead.Open(nil, nonce, sealed[1+nonceSize:], associatedData)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
