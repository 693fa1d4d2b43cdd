package crypto

import (
	"crypto/aes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressSingleZeroBlockVector(t *testing.T) {
	var zero [16]byte
	got, err := Compress(zero[:])
	require.NoError(t, err)

	block, err := aes.NewCipher(zero[:])
	require.NoError(t, err)
	var want [16]byte
	block.Encrypt(want[:], zero[:])
	// XOR with the zero plaintext and zero chaining value is a no-op.

	require.Equal(t, want, got)
}

func TestCompressIsDeterministic(t *testing.T) {
	msg := []byte("she-aes-mp16-compression-input-spanning-two-blocks")
	a, err := Compress(msg)
	require.NoError(t, err)
	b, err := Compress(msg)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCompressPadsShortFinalBlock(t *testing.T) {
	full, err := Compress([]byte("0123456789abcdef\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"))
	require.NoError(t, err)
	padded, err := Compress([]byte("0123456789abcdef\x00\x00\x00"))
	require.NoError(t, err)
	require.Equal(t, full, padded, "a short final block must zero-pad identically to an explicit one")
}

func TestDeriveSubkeyDiffersByTag(t *testing.T) {
	key := []byte("0123456789abcdef")
	var tagA, tagB [16]byte
	tagA[0] = 1
	tagB[0] = 2

	a, err := DeriveSubkey(key, tagA)
	require.NoError(t, err)
	b, err := DeriveSubkey(key, tagB)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
