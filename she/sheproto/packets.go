package sheproto

import (
	"encoding/binary"
	"fmt"
)

// Request is implemented by every action's fixed-size (plus optional
// trailing) request body. The outer message header and RC byte are framed
// by the client/server transport layer, which is out of scope here (spec
// §1); sheproto only owns the action-specific payload.
type Request interface {
	Action() Action
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// Response is the response-side counterpart of Request.
type Response interface {
	Action() Action
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// errShortBuffer reports a body too small to contain its fixed fields.
func errShortBuffer(action Action, want, got int) error {
	return fmt.Errorf("sheproto: %s body too short: want %d bytes, got %d", action, want, got)
}

// -- SET_UID --------------------------------------------------------------

type SetUIDRequest struct {
	UID [15]byte
}

func (r *SetUIDRequest) Action() Action { return ActionSetUID }

func (r *SetUIDRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 15)
	copy(buf, r.UID[:])
	return buf, nil
}

func (r *SetUIDRequest) UnmarshalBinary(b []byte) error {
	if len(b) < 15 {
		return errShortBuffer(r.Action(), 15, len(b))
	}
	copy(r.UID[:], b[:15])
	return nil
}

// EmptyRequest/EmptyResponse are shared by actions with no action-specific
// body: SECURE_BOOT_FINISH's request and every empty response.
type EmptyRequest struct{}

func (r *EmptyRequest) Action() Action                { return 0 }
func (r *EmptyRequest) MarshalBinary() ([]byte, error) { return nil, nil }
func (r *EmptyRequest) UnmarshalBinary([]byte) error   { return nil }

type EmptyResponse struct{ action Action }

func (r *EmptyResponse) Action() Action                { return r.action }
func (r *EmptyResponse) MarshalBinary() ([]byte, error) { return nil, nil }
func (r *EmptyResponse) UnmarshalBinary([]byte) error   { return nil }

// -- SECURE_BOOT_INIT -------------------------------------------------------

type SecureBootInitRequest struct {
	BlSize uint32
}

func (r *SecureBootInitRequest) Action() Action { return ActionSecureBootInit }

func (r *SecureBootInitRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, r.BlSize)
	return buf, nil
}

func (r *SecureBootInitRequest) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return errShortBuffer(r.Action(), 4, len(b))
	}
	r.BlSize = binary.BigEndian.Uint32(b[:4])
	return nil
}

// -- SECURE_BOOT_UPDATE -----------------------------------------------------

type SecureBootUpdateRequest struct {
	Chunk []byte
}

func (r *SecureBootUpdateRequest) Action() Action { return ActionSecureBootUpdate }

func (r *SecureBootUpdateRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4+len(r.Chunk))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(r.Chunk)))
	copy(buf[4:], r.Chunk)
	return buf, nil
}

func (r *SecureBootUpdateRequest) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return errShortBuffer(r.Action(), 4, len(b))
	}
	sz := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)-4) < sz {
		return errShortBuffer(r.Action(), int(4+sz), len(b))
	}
	r.Chunk = append([]byte(nil), b[4:4+sz]...)
	return nil
}

// -- GET_STATUS ---------------------------------------------------------

type GetStatusRequest struct{}

func (r *GetStatusRequest) Action() Action                { return ActionGetStatus }
func (r *GetStatusRequest) MarshalBinary() ([]byte, error) { return nil, nil }
func (r *GetStatusRequest) UnmarshalBinary([]byte) error   { return nil }

type GetStatusResponse struct {
	Sreg uint8
}

func (r *GetStatusResponse) Action() Action { return ActionGetStatus }

func (r *GetStatusResponse) MarshalBinary() ([]byte, error) {
	return []byte{r.Sreg}, nil
}

func (r *GetStatusResponse) UnmarshalBinary(b []byte) error {
	if len(b) < 1 {
		return errShortBuffer(r.Action(), 1, len(b))
	}
	r.Sreg = b[0]
	return nil
}

// -- LOAD_KEY -------------------------------------------------------------

type LoadKeyRequest struct {
	M1 [16]byte
	M2 [32]byte
	M3 [16]byte
}

func (r *LoadKeyRequest) Action() Action { return ActionLoadKey }

func (r *LoadKeyRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 64)
	copy(buf[0:16], r.M1[:])
	copy(buf[16:48], r.M2[:])
	copy(buf[48:64], r.M3[:])
	return buf, nil
}

func (r *LoadKeyRequest) UnmarshalBinary(b []byte) error {
	if len(b) < 64 {
		return errShortBuffer(r.Action(), 64, len(b))
	}
	copy(r.M1[:], b[0:16])
	copy(r.M2[:], b[16:48])
	copy(r.M3[:], b[48:64])
	return nil
}

type LoadKeyResponse struct {
	M4 [32]byte
	M5 [16]byte
}

func (r *LoadKeyResponse) Action() Action { return ActionLoadKey }

func (r *LoadKeyResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 48)
	copy(buf[0:32], r.M4[:])
	copy(buf[32:48], r.M5[:])
	return buf, nil
}

func (r *LoadKeyResponse) UnmarshalBinary(b []byte) error {
	if len(b) < 48 {
		return errShortBuffer(r.Action(), 48, len(b))
	}
	copy(r.M4[:], b[0:32])
	copy(r.M5[:], b[32:48])
	return nil
}

// -- LOAD_PLAIN_KEY -----------------------------------------------------

type LoadPlainKeyRequest struct {
	Key [16]byte
}

func (r *LoadPlainKeyRequest) Action() Action { return ActionLoadPlainKey }

func (r *LoadPlainKeyRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16)
	copy(buf, r.Key[:])
	return buf, nil
}

func (r *LoadPlainKeyRequest) UnmarshalBinary(b []byte) error {
	if len(b) < 16 {
		return errShortBuffer(r.Action(), 16, len(b))
	}
	copy(r.Key[:], b[:16])
	return nil
}

// -- EXPORT_RAM_KEY -----------------------------------------------------

type ExportRAMKeyRequest struct{}

func (r *ExportRAMKeyRequest) Action() Action                { return ActionExportRAMKey }
func (r *ExportRAMKeyRequest) MarshalBinary() ([]byte, error) { return nil, nil }
func (r *ExportRAMKeyRequest) UnmarshalBinary([]byte) error   { return nil }

type ExportRAMKeyResponse struct {
	M1 [16]byte
	M2 [32]byte
	M3 [16]byte
	M4 [32]byte
	M5 [16]byte
}

func (r *ExportRAMKeyResponse) Action() Action { return ActionExportRAMKey }

func (r *ExportRAMKeyResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 112)
	copy(buf[0:16], r.M1[:])
	copy(buf[16:48], r.M2[:])
	copy(buf[48:64], r.M3[:])
	copy(buf[64:96], r.M4[:])
	copy(buf[96:112], r.M5[:])
	return buf, nil
}

func (r *ExportRAMKeyResponse) UnmarshalBinary(b []byte) error {
	if len(b) < 112 {
		return errShortBuffer(r.Action(), 112, len(b))
	}
	copy(r.M1[:], b[0:16])
	copy(r.M2[:], b[16:48])
	copy(r.M3[:], b[48:64])
	copy(r.M4[:], b[64:96])
	copy(r.M5[:], b[96:112])
	return nil
}

// -- INIT_RND / RND / EXTEND_SEED ----------------------------------------

type InitRndRequest struct{}

func (r *InitRndRequest) Action() Action                { return ActionInitRND }
func (r *InitRndRequest) MarshalBinary() ([]byte, error) { return nil, nil }
func (r *InitRndRequest) UnmarshalBinary([]byte) error   { return nil }

type RndRequest struct{}

func (r *RndRequest) Action() Action                { return ActionRND }
func (r *RndRequest) MarshalBinary() ([]byte, error) { return nil, nil }
func (r *RndRequest) UnmarshalBinary([]byte) error   { return nil }

type RndResponse struct {
	Rnd [16]byte
}

func (r *RndResponse) Action() Action { return ActionRND }

func (r *RndResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16)
	copy(buf, r.Rnd[:])
	return buf, nil
}

func (r *RndResponse) UnmarshalBinary(b []byte) error {
	if len(b) < 16 {
		return errShortBuffer(r.Action(), 16, len(b))
	}
	copy(r.Rnd[:], b[:16])
	return nil
}

type ExtendSeedRequest struct {
	Entropy [16]byte
}

func (r *ExtendSeedRequest) Action() Action { return ActionExtendSeed }

func (r *ExtendSeedRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16)
	copy(buf, r.Entropy[:])
	return buf, nil
}

func (r *ExtendSeedRequest) UnmarshalBinary(b []byte) error {
	if len(b) < 16 {
		return errShortBuffer(r.Action(), 16, len(b))
	}
	copy(r.Entropy[:], b[:16])
	return nil
}

// -- bulk AES (ENC/DEC x ECB/CBC) ----------------------------------------

// BulkRequest is shared by all four bulk-AES actions; IV is ignored for the
// ECB variants.
type BulkRequest struct {
	action Action
	KeyId  uint16
	IV     [16]byte
	Data   []byte
}

func NewBulkRequest(action Action) *BulkRequest { return &BulkRequest{action: action} }

func (r *BulkRequest) Action() Action { return r.action }

func (r *BulkRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 2+16+4+len(r.Data))
	binary.BigEndian.PutUint16(buf[0:2], r.KeyId)
	copy(buf[2:18], r.IV[:])
	binary.BigEndian.PutUint32(buf[18:22], uint32(len(r.Data)))
	copy(buf[22:], r.Data)
	return buf, nil
}

func (r *BulkRequest) UnmarshalBinary(b []byte) error {
	if len(b) < 22 {
		return errShortBuffer(r.Action(), 22, len(b))
	}
	r.KeyId = binary.BigEndian.Uint16(b[0:2])
	copy(r.IV[:], b[2:18])
	sz := binary.BigEndian.Uint32(b[18:22])
	if uint32(len(b)-22) < sz {
		return errShortBuffer(r.Action(), int(22+sz), len(b))
	}
	r.Data = append([]byte(nil), b[22:22+sz]...)
	return nil
}

type BulkResponse struct {
	action Action
	Data   []byte
}

func NewBulkResponse(action Action) *BulkResponse { return &BulkResponse{action: action} }

func (r *BulkResponse) Action() Action { return r.action }

func (r *BulkResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4+len(r.Data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(r.Data)))
	copy(buf[4:], r.Data)
	return buf, nil
}

func (r *BulkResponse) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return errShortBuffer(r.Action(), 4, len(b))
	}
	sz := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)-4) < sz {
		return errShortBuffer(r.Action(), int(4+sz), len(b))
	}
	r.Data = append([]byte(nil), b[4:4+sz]...)
	return nil
}
