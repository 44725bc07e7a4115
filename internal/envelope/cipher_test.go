package envelope

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := newKey(t)
	aad := []byte("handle-1")

	for _, plaintext := range [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xAB}, 64*1024),
	} {
		sealed, err := Seal(key, plaintext, aad)
		require.NoError(t, err)
		assert.Len(t, sealed, MinSealedSize+len(plaintext))

		opened, err := Open(key, sealed, aad)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(plaintext, opened))
	}
}

func TestSeal_IsRandomized(t *testing.T) {
	key := newKey(t)

	a, err := Seal(key, []byte("hello"), nil)
	require.NoError(t, err)
	b, err := Seal(key, []byte("hello"), nil)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpen_RejectsTampering(t *testing.T) {
	key := newKey(t)
	sealed, err := Seal(key, []byte("hello"), []byte("handle-1"))
	require.NoError(t, err)

	for i := range sealed {
		tampered := append([]byte(nil), sealed...)
		tampered[i] ^= 0x01
		_, err := Open(key, tampered, []byte("handle-1"))
		assert.Error(t, err, "byte %d", i)
	}
}

func TestOpen_RejectsWrongAssociatedData(t *testing.T) {
	key := newKey(t)
	sealed, err := Seal(key, []byte("hello"), []byte("handle-1"))
	require.NoError(t, err)

	_, err = Open(key, sealed, []byte("handle-2"))
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestOpen_RejectsWrongKey(t *testing.T) {
	sealed, err := Seal(newKey(t), []byte("hello"), nil)
	require.NoError(t, err)

	_, err = Open(newKey(t), sealed, nil)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestOpen_RejectsUndersized(t *testing.T) {
	key := newKey(t)

	for _, n := range []int{0, 1, MinSealedSize - 1} {
		_, err := Open(key, make([]byte, n), nil)
		assert.ErrorIs(t, err, ErrMalformed, "size %d", n)
	}
}

func TestOpen_RejectsUnknownVersion(t *testing.T) {
	key := newKey(t)
	sealed, err := Seal(key, []byte("hello"), nil)
	require.NoError(t, err)

	sealed[0] = 0x7F
	_, err = Open(key, sealed, nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestInvalidKeySize(t *testing.T) {
	_, err := Seal([]byte("short"), []byte("hello"), nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = Open([]byte("short"), make([]byte, MinSealedSize), nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}
