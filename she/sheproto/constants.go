// Package sheproto defines the wire layout of the SHE command set: action
// codes, fixed-size request/response bodies, key identifiers, and the
// domain-separation constants used by the key-update KDF chain.
package sheproto

// Action identifies a single SHE command. It is the tag of the
// request/response union carried in the packet stub.
type Action uint8

const (
	ActionSecureBootInit Action = iota + 1
	ActionSecureBootUpdate
	ActionSecureBootFinish
	ActionGetStatus
	ActionSetUID
	ActionLoadKey
	ActionLoadPlainKey
	ActionExportRAMKey
	ActionInitRND
	ActionRND
	ActionExtendSeed
	ActionEncECB
	ActionEncCBC
	ActionDecECB
	ActionDecCBC
)

func (a Action) String() string {
	switch a {
	case ActionSecureBootInit:
		return "SECURE_BOOT_INIT"
	case ActionSecureBootUpdate:
		return "SECURE_BOOT_UPDATE"
	case ActionSecureBootFinish:
		return "SECURE_BOOT_FINISH"
	case ActionGetStatus:
		return "GET_STATUS"
	case ActionSetUID:
		return "SET_UID"
	case ActionLoadKey:
		return "LOAD_KEY"
	case ActionLoadPlainKey:
		return "LOAD_PLAIN_KEY"
	case ActionExportRAMKey:
		return "EXPORT_RAM_KEY"
	case ActionInitRND:
		return "INIT_RND"
	case ActionRND:
		return "RND"
	case ActionExtendSeed:
		return "EXTEND_SEED"
	case ActionEncECB:
		return "ENC_ECB"
	case ActionEncCBC:
		return "ENC_CBC"
	case ActionDecECB:
		return "DEC_ECB"
	case ActionDecCBC:
		return "DEC_CBC"
	default:
		return "UNKNOWN"
	}
}

// SHE status register bits, returned by GET_STATUS in Sreg.
const (
	SregSecureBoot   uint8 = 0x01
	SregBootFinished uint8 = 0x02
	SregBootOK       uint8 = 0x04
	SregRndInit      uint8 = 0x20
)

// Key-update domain-separation constants, byte-identical to the SHE
// specification. Each is fed to AES-MP16 appended to an authentication or
// target key to derive a single-purpose subkey.
var (
	KeyUpdateEncC = [16]byte{0x01, 0x01, 0x53, 0x48, 0x45, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xB0}
	KeyUpdateMacC = [16]byte{0x01, 0x02, 0x53, 0x48, 0x45, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xB0}
	PrngKeyC      = [16]byte{0x01, 0x04, 0x53, 0x48, 0x45, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xB0}
	PrngSeedKeyC  = [16]byte{0x01, 0x05, 0x53, 0x48, 0x45, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xB0}
)

// Reserved SHE key slots (low nibble of a KeyId).
const (
	SlotBootMacKey KeySlot = 1
	SlotBootMac    KeySlot = 2
	SlotSecretKey  KeySlot = 3
	SlotRAMKey     KeySlot = 0xE
	SlotPrngSeed   KeySlot = 0xF
)

// KeyTypeSHE is the only KeyType this server issues; other domains (e.g. a
// future non-SHE credential store sharing the same NVM) are out of scope
// but the field is kept so KeyId composition matches the wire format.
const KeyTypeSHE KeyType = 1

// SheKeyLabel flag bits (5-bit set; the remaining 3 bits of the flags byte
// are reserved).
const (
	FlagWriteProtect uint8 = 1 << 0
	FlagBootProtect  uint8 = 1 << 1
	FlagDebugProtect uint8 = 1 << 2
	FlagKeyUsage     uint8 = 1 << 3
	FlagWildcard     uint8 = 1 << 4
)

// MaxPacketSize bounds the largest framed packet this server will decode:
// the fixed LOAD_KEY body (M1+M2+M3 = 64 bytes) plus a generous bulk-AES
// payload. Deployments needing larger bulk transfers raise it via the CLI's
// --max-payload flag, which must stay above this floor.
const MaxPacketSize = 4096
