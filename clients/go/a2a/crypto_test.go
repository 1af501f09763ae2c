package a2a

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"ascii":   []byte("Hello Bob!"),
		"empty":   {},
		"unicode": []byte("Hello \U0001F30D❤️ 日本語"),
		"large":   bytes.Repeat([]byte{'A'}, 8000),
	}
	pub, priv := generateTestKeypair(t)

	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			ct, err := EncryptMessage(msg, pub)
			require.NoError(t, err)
			assert.Len(t, ct, minCiphertextLen+len(msg))

			pt, err := DecryptMessage(ct, priv)
			require.NoError(t, err)
			assert.Equal(t, string(msg), string(pt))
		})
	}
}

func TestDifferentCiphertexts(t *testing.T) {
	pub, priv := generateTestKeypair(t)

	ct1, err := EncryptMessage([]byte("same"), pub)
	require.NoError(t, err)
	ct2, err := EncryptMessage([]byte("same"), pub)
	require.NoError(t, err)
	assert.NotEqual(t, ct1, ct2)

	for _, ct := range [][]byte{ct1, ct2} {
		pt, err := DecryptMessage(ct, priv)
		require.NoError(t, err)
		assert.Equal(t, "same", string(pt))
	}
}

func TestDecryptFailures(t *testing.T) {
	pub, priv := generateTestKeypair(t)
	_, wrongPriv := generateTestKeypair(t)

	ct, err := EncryptMessage([]byte("secret"), pub)
	require.NoError(t, err)

	_, err = DecryptMessage(ct, wrongPriv)
	require.Error(t, err)
	assert.True(t, ErrCrypto(err))

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = DecryptMessage(tampered, priv)
	assert.True(t, ErrCrypto(err))

	_, err = DecryptMessage(make([]byte, 30), priv)
	assert.True(t, ErrCrypto(err))
}

func TestInvalidPublicKeyLength(t *testing.T) {
	_, err := EncryptMessage([]byte("test"), make([]byte, 16))
	require.Error(t, err)
	assert.True(t, ErrCrypto(err))
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash([]byte("x")), ContentHash([]byte("x")))
	assert.NotEqual(t, ContentHash([]byte("x")), ContentHash([]byte("y")))
	// keccak256("")
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", ContentHash(nil).Hex())
}
