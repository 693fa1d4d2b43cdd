// Package crypto provides the AES-128 primitives the SHE server is built
// on: the Miyaguchi-Preneel one-way compression function used for key
// derivation, a CMAC-AES wrapper, and block-aligned bulk ECB/CBC helpers.
// It wraps crypto/aes the way sec51/cryptoengine wraps NaCl: a small,
// purpose-built package rather than a hand-rolled cipher.
package crypto

import "crypto/aes"

// Compress runs the Miyaguchi-Preneel one-way compression chain over m,
// zero-padding the final short block. It doubles as the key-update KDF
// (applied to authKey||domainConstant) and as the PRNG-state advance
// primitive for EXTEND_SEED.
func Compress(m []byte) ([16]byte, error) {
	var h [16]byte // H starts at 0^128

	for off := 0; off < len(m); off += 16 {
		var block [16]byte
		end := off + 16
		if end > len(m) {
			end = len(m)
		}
		copy(block[:], m[off:end]) // zero-padded if short

		cipherBlock, err := aes.NewCipher(h[:])
		if err != nil {
			return [16]byte{}, err
		}

		var e [16]byte
		cipherBlock.Encrypt(e[:], block[:])

		for i := range h {
			h[i] = e[i] ^ block[i] ^ h[i]
		}
	}

	return h, nil
}

// DeriveSubkey is a thin convenience wrapper: Compress(append(key, tag...)).
// Key material in the caller-supplied slice is the caller's responsibility
// to zero; DeriveSubkey does not retain it.
func DeriveSubkey(key []byte, tag [16]byte) ([16]byte, error) {
	buf := make([]byte, 0, len(key)+16)
	buf = append(buf, key...)
	buf = append(buf, tag[:]...)
	defer zero(buf)
	return Compress(buf)
}

// zero overwrites a byte slice holding key material. Called on every exit
// path of functions that build transient key-derivation inputs on the
// stack/heap.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Zero16 overwrites a fixed-size key buffer. Exported so SHE handlers can
// scrub their own stack-resident key buffers on all return paths.
func Zero16(b *[16]byte) {
	for i := range b {
		b[i] = 0
	}
}
