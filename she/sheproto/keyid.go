package sheproto

import "encoding/binary"

// KeyType distinguishes SHE key objects from other NVM-resident domains
// sharing the same store.
type KeyType uint8

// ClientId scopes a key slot to a session/caller.
type ClientId uint8

// KeySlot is the 4-bit SHE slot number (0..15).
type KeySlot uint8

// KeyId composes to a 16-bit value: type<<12 | clientId<<4 | slot, per the
// wire format in spec §6.
type KeyId struct {
	Type     KeyType
	Client   ClientId
	Slot     KeySlot
}

// Encode packs the KeyId into its 16-bit wire form.
func (k KeyId) Encode() uint16 {
	return uint16(k.Type&0xF)<<12 | uint16(k.Client)<<4 | uint16(k.Slot&0xF)
}

// DecodeKeyId unpacks a 16-bit wire value into a KeyId.
func DecodeKeyId(v uint16) KeyId {
	return KeyId{
		Type:   KeyType(v >> 12 & 0xF),
		Client: ClientId(v >> 4 & 0xFF),
		Slot:   KeySlot(v & 0xF),
	}
}

// SheKeyLabel is the persisted metadata attached to every key object:
// a byte of flag bits and a 28-bit monotonic counter. Count holds the
// counter value itself; EncodeCountWord gives its 32-bit big-endian word
// form, whose low 4 bits are reserved (always zero).
type SheKeyLabel struct {
	Flags uint8
	Count uint32
}

// EncodeCountWord packs Count into the reserved-low-nibble big-endian word
// (distinct from the wire counter block used inside M2/M4 — see
// EncodeCounterBlock). FileNVM persists SheKeyLabel with gob and does not
// use this word form.
func (l SheKeyLabel) EncodeCountWord() [4]byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], l.Count<<4)
	return buf
}

// DecodeCountWord is the inverse of EncodeCountWord.
func DecodeCountWord(buf [4]byte) uint32 {
	return binary.BigEndian.Uint32(buf[:]) >> 4
}

// KeyMetadata is the façade-visible description of a stored key object.
type KeyMetadata struct {
	Id    KeyId
	Len   uint16
	Label SheKeyLabel
}

// KeyRecord is a full key object: metadata plus its 128-bit material.
// Every SHE key is exactly 16 bytes.
type KeyRecord struct {
	Meta     KeyMetadata
	Material [16]byte
}

// EncodeCounterBlock builds the 16-byte counter(28b)||flagNibble(4b)||
// reserved(96b) block used both inside plainM2 (step 4 of LOAD_KEY) and
// as the plaintext of M4's second block (step 9). In plainM2 flagNibble
// carries the slot's four protection/usage flag bits; in M4 it carries a
// single status bit in its top bit (0b1000 = "key accepted") rather than
// the slot's flags.
func EncodeCounterBlock(counter uint32, flagNibble uint8) [16]byte {
	var block [16]byte
	word := counter<<4 | uint32(flagNibble&0xF)
	binary.BigEndian.PutUint32(block[0:4], word)
	return block
}

// DecodeCounterBlock is the inverse of EncodeCounterBlock.
func DecodeCounterBlock(block [16]byte) (counter uint32, flagNibble uint8) {
	word := binary.BigEndian.Uint32(block[0:4])
	return word >> 4, uint8(word & 0xF)
}
