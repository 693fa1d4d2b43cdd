package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockAlignedLenDiscardsResidual(t *testing.T) {
	require.Equal(t, 32, BlockAlignedLen(37))
	require.Equal(t, 0, BlockAlignedLen(15))
	require.Equal(t, 16, BlockAlignedLen(16))
}

func TestECBRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	plain := []byte("0123456789ABCDEF0123456789ABCDEF") // 2 blocks
	ct, err := EncryptECB(key, plain)
	require.NoError(t, err)
	require.Len(t, ct, 32)

	pt, err := DecryptECB(key, ct)
	require.NoError(t, err)
	require.Equal(t, plain, pt)
}

func TestECBDiscardsTrailingShortBlock(t *testing.T) {
	key := make([]byte, 16)
	plain := []byte("0123456789ABCDEF12345") // 16 + 5 bytes
	ct, err := EncryptECB(key, plain)
	require.NoError(t, err)
	require.Len(t, ct, 16)
}

func TestCBCRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	iv := ZeroIV()
	plain := []byte("0123456789ABCDEF0123456789ABCDEF")
	ct, err := EncryptCBC(key, iv, plain)
	require.NoError(t, err)

	pt, err := DecryptCBC(key, iv, ct)
	require.NoError(t, err)
	require.Equal(t, plain, pt)
}
