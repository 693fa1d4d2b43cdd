package crypto

import (
	"crypto/aes"
	"hash"

	"github.com/aead/cmac"
)

// CMAC computes a one-shot AES-CMAC tag over msg under key, truncated (or
// not) to tagSize bytes. Used for the LOAD_KEY M3/M5 authentication tags.
func CMAC(key []byte, msg []byte, tagSize int) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cmac.Sum(msg, block, tagSize)
}

// StreamingCMAC wraps a hash.Hash for the secure-boot absorb-then-finalize
// pattern: SECURE_BOOT_INIT opens it, each SECURE_BOOT_UPDATE writes into
// it, SECURE_BOOT_FINISH reads the final tag. The context is released
// (nilled out) by the caller once FINISH runs or the sub-machine resets.
type StreamingCMAC struct {
	h hash.Hash
}

// NewStreamingCMAC opens a streaming CMAC-AES context under key.
func NewStreamingCMAC(key []byte) (*StreamingCMAC, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	h, err := cmac.New(block)
	if err != nil {
		return nil, err
	}
	return &StreamingCMAC{h: h}, nil
}

// Write absorbs more bytes into the running tag.
func (s *StreamingCMAC) Write(p []byte) error {
	_, err := s.h.Write(p)
	return err
}

// Final returns the completed tag. The context must not be reused after
// calling Final.
func (s *StreamingCMAC) Final() []byte {
	return s.h.Sum(nil)
}
