package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// BlockAlignedLen truncates len to the largest multiple of the AES block
// size. Bulk AES commands process only this much; residual trailing bytes
// are discarded silently per spec.
func BlockAlignedLen(n int) int {
	return n - n%aes.BlockSize
}

// EncryptECB encrypts a block-aligned prefix of plaintext under key,
// independently per 16-byte block. SHE's ECB mode has no analogue in
// crypto/cipher (which only ships chained modes), so this loop is the
// idiomatic stdlib answer rather than a library import.
func EncryptECB(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	n := BlockAlignedLen(len(plaintext))
	out := make([]byte, n)
	for off := 0; off < n; off += aes.BlockSize {
		block.Encrypt(out[off:off+aes.BlockSize], plaintext[off:off+aes.BlockSize])
	}
	return out, nil
}

// DecryptECB is the inverse of EncryptECB.
func DecryptECB(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	n := BlockAlignedLen(len(ciphertext))
	out := make([]byte, n)
	for off := 0; off < n; off += aes.BlockSize {
		block.Decrypt(out[off:off+aes.BlockSize], ciphertext[off:off+aes.BlockSize])
	}
	return out, nil
}

// EncryptCBC encrypts a block-aligned prefix of plaintext under key/iv.
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("crypto: bad IV length %d", len(iv))
	}
	n := BlockAlignedLen(len(plaintext))
	out := make([]byte, n)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext[:n])
	return out, nil
}

// DecryptCBC is the inverse of EncryptCBC.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("crypto: bad IV length %d", len(iv))
	}
	n := BlockAlignedLen(len(ciphertext))
	out := make([]byte, n)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext[:n])
	return out, nil
}

// zeroIV is the fixed IV=0 used by the key-update and PRNG CBC operations.
var zeroIV [16]byte

// ZeroIV returns a fresh zero IV slice for callers that need IV=0 per spec
// (key-update M2 decryption, PRNG state advance).
func ZeroIV() []byte {
	iv := zeroIV
	return iv[:]
}
