package she

import (
	"bytes"
	"crypto/subtle"
	"encoding/binary"

	"github.com/aidangarske/wolfHSM/crypto"
	"github.com/aidangarske/wolfHSM/she/sheproto"
	"github.com/aidangarske/wolfHSM/store"
)

func keyID(client sheproto.ClientId, slot sheproto.KeySlot) sheproto.KeyId {
	return sheproto.KeyId{Type: sheproto.KeyTypeSHE, Client: client, Slot: slot}
}

// -- SET_UID ----------------------------------------------------------------

func handleSetUID(s *State, req *sheproto.SetUIDRequest) (sheproto.Response, Status) {
	if s.UidSet {
		return nil, SequenceError
	}
	s.Uid = req.UID
	s.UidSet = true
	return &sheproto.EmptyResponse{}, NoError
}

// -- GET_STATUS ---------------------------------------------------------

func handleGetStatus(s *State) (sheproto.Response, Status) {
	return &sheproto.GetStatusResponse{Sreg: s.Sreg()}, NoError
}

// -- SECURE_BOOT_INIT / UPDATE / FINISH ----------------------------------

func handleSecureBootInit(s *State, st store.Store, client sheproto.ClientId, req *sheproto.SecureBootInitRequest) (sheproto.Response, Status) {
	bootMacKey, err := st.ReadKey(keyID(client, sheproto.SlotBootMacKey))
	if err != nil {
		// spec §4.4: absence of BOOT_MAC_KEY jumps straight to SUCCESS.
		s.SbState = SbSuccess
		s.CmacKeyFound = false
		return &sheproto.EmptyResponse{}, NoSecureBoot
	}

	cmacCtx, err := crypto.NewStreamingCMAC(bootMacKey.Material[:])
	if err != nil {
		return nil, GeneralError
	}

	var lenPrefix [12]byte // 12 zero bytes absorbed first, per spec §4.4
	if err := cmacCtx.Write(lenPrefix[:]); err != nil {
		return nil, GeneralError
	}
	var leSize [4]byte
	binary.LittleEndian.PutUint32(leSize[:], req.BlSize)
	if err := cmacCtx.Write(leSize[:]); err != nil {
		return nil, GeneralError
	}

	s.SbCmac = cmacCtx
	s.BlSize = req.BlSize
	s.BlSizeReceived = 0
	s.SbState = SbUpdate
	s.CmacKeyFound = true
	return &sheproto.EmptyResponse{}, NoError
}

func handleSecureBootUpdate(s *State, req *sheproto.SecureBootUpdateRequest) (sheproto.Response, Status) {
	if s.SbState != SbUpdate {
		return nil, SequenceError
	}
	newReceived := s.BlSizeReceived + uint32(len(req.Chunk))
	if newReceived > s.BlSize {
		return nil, GeneralError
	}
	if err := s.SbCmac.Write(req.Chunk); err != nil {
		return nil, GeneralError
	}
	s.BlSizeReceived = newReceived
	if s.BlSizeReceived == s.BlSize {
		s.SbState = SbFinish
	}
	return &sheproto.EmptyResponse{}, NoError
}

func handleSecureBootFinish(s *State, st store.Store, client sheproto.ClientId) (sheproto.Response, Status) {
	if s.SbState != SbFinish {
		s.resetSecureBoot()
		return nil, SequenceError
	}

	digest := s.SbCmac.Final()
	s.SbCmac = nil

	bootMac, err := st.ReadKey(keyID(client, sheproto.SlotBootMac))
	if err != nil {
		s.resetSecureBoot()
		return nil, GeneralError
	}

	if subtle.ConstantTimeCompare(digest, bootMac.Material[:]) != 1 {
		// Comparison failure is not a reset: it is its own terminal state,
		// observable via GET_STATUS (spec §7).
		s.SbState = SbFailure
		return nil, GeneralError
	}

	s.SbState = SbSuccess
	return &sheproto.EmptyResponse{}, NoError
}

// -- LOAD_KEY -------------------------------------------------------------

// flagsNibbleMask covers the four flag bits carried in the key-update wire
// format (WRITE/BOOT/DEBUG_PROTECT, KEY_USAGE). WILDCARD is never conveyed
// over the wire — it is a property a slot must already carry from prior
// provisioning, checked but never set by LOAD_KEY (see DESIGN.md).
const flagsNibbleMask = sheproto.FlagWriteProtect | sheproto.FlagBootProtect | sheproto.FlagDebugProtect | sheproto.FlagKeyUsage

func handleLoadKey(s *State, st store.Store, client sheproto.ClientId, req *sheproto.LoadKeyRequest) (sheproto.Response, Status) {
	targetSlot := sheproto.KeySlot(req.M1[15] >> 4)
	authSlot := sheproto.KeySlot(req.M1[15] & 0xF)

	authRec, err := st.ReadKey(keyID(client, authSlot))
	if err != nil {
		return nil, KeyNotAvailable
	}

	k2, err := crypto.DeriveSubkey(authRec.Material[:], sheproto.KeyUpdateMacC)
	if err != nil {
		return nil, GeneralError
	}
	defer crypto.Zero16(&k2)

	var m1m2 [48]byte
	copy(m1m2[0:16], req.M1[:])
	copy(m1m2[16:48], req.M2[:])
	expectedM3, err := crypto.CMAC(k2[:], m1m2[:], 16)
	if err != nil {
		return nil, GeneralError
	}
	if subtle.ConstantTimeCompare(expectedM3, req.M3[:]) != 1 {
		return nil, KeyUpdateError
	}

	k1, err := crypto.DeriveSubkey(authRec.Material[:], sheproto.KeyUpdateEncC)
	if err != nil {
		return nil, GeneralError
	}
	defer crypto.Zero16(&k1)

	plainM2, err := crypto.DecryptCBC(k1[:], crypto.ZeroIV(), req.M2[:])
	if err != nil || len(plainM2) != 32 {
		return nil, GeneralError
	}
	var counterBlock [16]byte
	copy(counterBlock[:], plainM2[0:16])
	counter, flagsNibble := sheproto.DecodeCounterBlock(counterBlock)
	var newKey [16]byte
	copy(newKey[:], plainM2[16:32])

	targetID := keyID(client, targetSlot)
	existing, existErr := st.ReadKey(targetID)
	hasExisting := existErr == nil
	if hasExisting && existing.Meta.Label.Flags&sheproto.FlagWriteProtect != 0 {
		return nil, WriteProtected
	}

	var zeroUID [15]byte
	allZeroUID := bytes.Equal(req.M1[0:15], zeroUID[:])
	if allZeroUID {
		if !hasExisting || existing.Meta.Label.Flags&sheproto.FlagWildcard == 0 {
			return nil, KeyUpdateError
		}
	} else if !bytes.Equal(req.M1[0:15], s.Uid[:]) {
		return nil, KeyUpdateError
	}

	if hasExisting && counter <= existing.Meta.Label.Count {
		return nil, KeyUpdateError
	}

	wildcard := uint8(0)
	if hasExisting {
		wildcard = existing.Meta.Label.Flags & sheproto.FlagWildcard
	}
	newMeta := sheproto.KeyMetadata{
		Id:  targetID,
		Len: 16,
		Label: sheproto.SheKeyLabel{
			Flags: (flagsNibble & flagsNibbleMask) | wildcard,
			Count: counter,
		},
	}
	rec := sheproto.KeyRecord{Meta: newMeta, Material: newKey}

	var persistedCounter uint32
	if targetSlot == sheproto.SlotRAMKey {
		if err := st.CacheKey(rec); err != nil {
			return nil, GeneralError
		}
		persistedCounter = counter
	} else {
		if err := st.NVMAddObject(rec); err != nil {
			return nil, GeneralError
		}
		persisted, err := st.ReadKey(targetID)
		if err != nil {
			return nil, GeneralError
		}
		persistedCounter = persisted.Meta.Label.Count
	}

	m4, m5, err := buildAck(req.M1, newKey, persistedCounter)
	if err != nil {
		return nil, GeneralError
	}

	if targetSlot == sheproto.SlotRAMKey {
		// Clear then set: a crash between the two leaves ram_key_plain
		// false rather than stale-true, per spec §4.5 step 11.
		s.RamKeyPlain = false
		s.RamKeyPlain = true
	}

	return &sheproto.LoadKeyResponse{M4: m4, M5: m5}, NoError
}

// buildAck builds M4/M5 (spec §4.5 steps 9-10): M4's first block is m1
// reused verbatim, its second block is the encrypted counter-acceptance
// block under K3 = AES-MP16(key||ENC_C); M5 is the CMAC of M4 under
// K4 = AES-MP16(key||MAC_C).
func buildAck(m1 [16]byte, key [16]byte, persistedCounter uint32) (m4 [32]byte, m5 [16]byte, err error) {
	k3, err := crypto.DeriveSubkey(key[:], sheproto.KeyUpdateEncC)
	if err != nil {
		return m4, m5, err
	}
	defer crypto.Zero16(&k3)

	block := sheproto.EncodeCounterBlock(persistedCounter, 0b1000) // top bit: key accepted
	enc, err := crypto.EncryptECB(k3[:], block[:])
	if err != nil {
		return m4, m5, err
	}

	copy(m4[0:16], m1[:])
	copy(m4[16:32], enc)

	k4, err := crypto.DeriveSubkey(key[:], sheproto.KeyUpdateMacC)
	if err != nil {
		return m4, m5, err
	}
	defer crypto.Zero16(&k4)

	tag, err := crypto.CMAC(k4[:], m4[:], 16)
	if err != nil {
		return m4, m5, err
	}
	copy(m5[:], tag)
	return m4, m5, nil
}

// -- LOAD_PLAIN_KEY / EXPORT_RAM_KEY --------------------------------------

func handleLoadPlainKey(s *State, st store.Store, client sheproto.ClientId, req *sheproto.LoadPlainKeyRequest) (sheproto.Response, Status) {
	rec := sheproto.KeyRecord{
		Meta:     sheproto.KeyMetadata{Id: keyID(client, sheproto.SlotRAMKey), Len: 16},
		Material: req.Key,
	}
	if err := st.CacheKey(rec); err != nil {
		return nil, GeneralError
	}
	s.RamKeyPlain = true
	return &sheproto.EmptyResponse{}, NoError
}

func handleExportRAMKey(s *State, st store.Store, client sheproto.ClientId) (sheproto.Response, Status) {
	if !s.RamKeyPlain {
		return nil, KeyInvalid
	}

	ramRec, err := st.ReadKey(keyID(client, sheproto.SlotRAMKey))
	if err != nil {
		return nil, KeyNotAvailable
	}
	secretRec, err := st.ReadKey(keyID(client, sheproto.SlotSecretKey))
	if err != nil {
		return nil, KeyNotAvailable
	}

	var m1 [16]byte
	copy(m1[0:15], s.Uid[:])
	m1[15] = uint8(sheproto.SlotRAMKey)<<4 | uint8(sheproto.SlotSecretKey)

	const exportedCounter = 1 // literal, per spec §4.6
	counterBlock := sheproto.EncodeCounterBlock(exportedCounter, ramRec.Meta.Label.Flags&flagsNibbleMask)
	var plainM2 [32]byte
	copy(plainM2[0:16], counterBlock[:])
	copy(plainM2[16:32], ramRec.Material[:])

	k1, err := crypto.DeriveSubkey(secretRec.Material[:], sheproto.KeyUpdateEncC)
	if err != nil {
		return nil, GeneralError
	}
	defer crypto.Zero16(&k1)
	m2, err := crypto.EncryptCBC(k1[:], crypto.ZeroIV(), plainM2[:])
	if err != nil {
		return nil, GeneralError
	}

	k2, err := crypto.DeriveSubkey(secretRec.Material[:], sheproto.KeyUpdateMacC)
	if err != nil {
		return nil, GeneralError
	}
	defer crypto.Zero16(&k2)
	var m1m2 [48]byte
	copy(m1m2[0:16], m1[:])
	copy(m1m2[16:48], m2)
	m3tag, err := crypto.CMAC(k2[:], m1m2[:], 16)
	if err != nil {
		return nil, GeneralError
	}

	m4, m5, err := buildAck(m1, ramRec.Material, exportedCounter)
	if err != nil {
		return nil, GeneralError
	}

	resp := &sheproto.ExportRAMKeyResponse{M1: m1, M4: m4, M5: m5}
	copy(resp.M2[:], m2)
	copy(resp.M3[:], m3tag)
	return resp, NoError
}

// -- INIT_RND / RND / EXTEND_SEED -----------------------------------------

func handleInitRnd(s *State, st store.Store, client sheproto.ClientId) (sheproto.Response, Status) {
	if s.RndInited {
		return nil, SequenceError
	}

	secretRec, err := st.ReadKey(keyID(client, sheproto.SlotSecretKey))
	if err != nil {
		return nil, KeyNotAvailable
	}
	seedKey, err := crypto.DeriveSubkey(secretRec.Material[:], sheproto.PrngSeedKeyC)
	if err != nil {
		return nil, GeneralError
	}
	defer crypto.Zero16(&seedKey)

	prevSeed, err := st.ReadKey(keyID(client, sheproto.SlotPrngSeed))
	if err != nil {
		return nil, KeyNotAvailable
	}

	newSeed, err := crypto.EncryptCBC(seedKey[:], crypto.ZeroIV(), prevSeed.Material[:])
	if err != nil || len(newSeed) != 16 {
		return nil, GeneralError
	}

	rec := sheproto.KeyRecord{Meta: sheproto.KeyMetadata{Id: keyID(client, sheproto.SlotPrngSeed), Len: 16}}
	copy(rec.Material[:], newSeed)
	if err := st.NVMAddObject(rec); err != nil {
		return nil, GeneralError
	}

	copy(s.PrngState[:], newSeed)
	prngKey, err := crypto.DeriveSubkey(secretRec.Material[:], sheproto.PrngKeyC)
	if err != nil {
		return nil, GeneralError
	}
	s.PrngKey = prngKey
	s.RndInited = true
	return &sheproto.EmptyResponse{}, NoError
}

func handleRnd(s *State) (sheproto.Response, Status) {
	if !s.RndInited {
		return nil, SequenceError
	}
	next, err := crypto.EncryptCBC(s.PrngKey[:], crypto.ZeroIV(), s.PrngState[:])
	if err != nil || len(next) != 16 {
		return nil, GeneralError
	}
	copy(s.PrngState[:], next)
	return &sheproto.RndResponse{Rnd: s.PrngState}, NoError
}

func handleExtendSeed(s *State, st store.Store, client sheproto.ClientId, req *sheproto.ExtendSeedRequest) (sheproto.Response, Status) {
	var buf [32]byte
	copy(buf[0:16], s.PrngState[:])
	copy(buf[16:32], req.Entropy[:])
	newState, err := crypto.Compress(buf[:])
	if err != nil {
		return nil, GeneralError
	}

	prevSeed, err := st.ReadKey(keyID(client, sheproto.SlotPrngSeed))
	if err != nil {
		return nil, KeyNotAvailable
	}
	copy(buf[0:16], prevSeed.Material[:])
	copy(buf[16:32], req.Entropy[:])
	newSeed, err := crypto.Compress(buf[:])
	if err != nil {
		return nil, GeneralError
	}

	rec := sheproto.KeyRecord{Meta: sheproto.KeyMetadata{Id: keyID(client, sheproto.SlotPrngSeed), Len: 16}, Material: newSeed}
	if err := st.NVMAddObject(rec); err != nil {
		return nil, GeneralError
	}

	s.PrngState = newState
	return &sheproto.EmptyResponse{}, NoError
}

// -- bulk AES (ENC/DEC x ECB/CBC) ------------------------------------------

func handleBulkAES(st store.Store, client sheproto.ClientId, action sheproto.Action, req *sheproto.BulkRequest) (sheproto.Response, Status) {
	rec, err := st.ReadKey(sheproto.DecodeKeyId(req.KeyId))
	if err != nil {
		return nil, KeyNotAvailable
	}

	var out []byte
	switch action {
	case sheproto.ActionEncECB:
		out, err = crypto.EncryptECB(rec.Material[:], req.Data)
	case sheproto.ActionDecECB:
		out, err = crypto.DecryptECB(rec.Material[:], req.Data)
	case sheproto.ActionEncCBC:
		out, err = crypto.EncryptCBC(rec.Material[:], req.IV[:], req.Data)
	case sheproto.ActionDecCBC:
		out, err = crypto.DecryptCBC(rec.Material[:], req.IV[:], req.Data)
	}
	if err != nil {
		return nil, GeneralError
	}

	resp := sheproto.NewBulkResponse(action)
	resp.Data = out
	return resp, NoError
}
