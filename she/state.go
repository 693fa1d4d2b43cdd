package she

import (
	"sync/atomic"

	"github.com/aidangarske/wolfHSM/crypto"
	"github.com/aidangarske/wolfHSM/she/sheproto"
)

// SbState is the secure-boot sub-machine's state (spec §3, §4.4).
type SbState int

const (
	SbInit SbState = iota
	SbUpdate
	SbFinish
	SbSuccess
	SbFailure
)

func (s SbState) String() string {
	switch s {
	case SbInit:
		return "INIT"
	case SbUpdate:
		return "UPDATE"
	case SbFinish:
		return "FINISH"
	case SbSuccess:
		return "SUCCESS"
	case SbFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// State is the process-wide SHE state (spec §3's SheGlobalState). Rather
// than file-scope globals (the C original's approach), the server owns a
// single *State value and threads it explicitly to every handler — spec
// §9's "Process-wide mutable state" design note.
type State struct {
	SbState       SbState
	CmacKeyFound  bool
	RamKeyPlain   bool
	UidSet        bool
	RndInited     bool

	BlSize         uint32
	BlSizeReceived uint32

	PrngState [16]byte
	PrngKey   [16]byte

	SbCmac *crypto.StreamingCMAC

	Uid [15]byte

	// inFlight is a cheap re-entrancy guard documenting the single-
	// threaded dispatch contract (spec §5); it is not a real lock and
	// must never be relied upon for actual mutual exclusion across
	// goroutines.
	inFlight int32
}

// NewState returns a freshly booted SheGlobalState: all zero except
// SbState = INIT, per spec §3's Lifecycle note.
func NewState() *State {
	return &State{SbState: SbInit}
}

// enter and leave bracket a single dispatch call, panicking if re-entered
// — a debug-mode assertion, not a concurrency primitive, that the server
// loop never calls into the state machine from two goroutines at once.
func (s *State) enter() {
	if !atomic.CompareAndSwapInt32(&s.inFlight, 0, 1) {
		panic("she: State accessed concurrently; the SHE dispatcher is single-threaded by contract")
	}
}

func (s *State) leave() {
	atomic.StoreInt32(&s.inFlight, 0)
}

// resetSecureBoot clears the secure-boot sub-machine back to INIT, per
// spec §4.4: any error within the secure-boot path other than
// NoSecureBoot resets bl counters and cmac_key_found, and releases the
// streaming CMAC context.
func (s *State) resetSecureBoot() {
	s.SbState = SbInit
	s.BlSize = 0
	s.BlSizeReceived = 0
	s.CmacKeyFound = false
	s.SbCmac = nil
}

// Sreg encodes the four GET_STATUS bits from spec §4.4/§6.
func (s *State) Sreg() uint8 {
	var reg uint8
	if s.CmacKeyFound {
		reg |= sheproto.SregSecureBoot
	}
	if s.SbState == SbSuccess || s.SbState == SbFailure {
		reg |= sheproto.SregBootFinished
	}
	if s.SbState == SbSuccess {
		reg |= sheproto.SregBootOK
	}
	if s.RndInited {
		reg |= sheproto.SregRndInit
	}
	return reg
}
