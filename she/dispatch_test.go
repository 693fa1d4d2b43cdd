package she

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aidangarske/wolfHSM/crypto"
	"github.com/aidangarske/wolfHSM/she/sheproto"
	"github.com/aidangarske/wolfHSM/store"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	nvm, err := store.NewFileNVM(t.TempDir())
	require.NoError(t, err)
	facade := store.NewFacade(store.NewCache(), nvm)
	return NewDispatcher(facade, sheproto.ClientId(0), nil, nil)
}

func mustMarshal(t *testing.T, req sheproto.Request) []byte {
	t.Helper()
	b, err := req.MarshalBinary()
	require.NoError(t, err)
	return b
}

func setUID(t *testing.T, d *Dispatcher, uid [15]byte) {
	t.Helper()
	_, rc := d.Dispatch(sheproto.ActionSetUID, mustMarshal(t, &sheproto.SetUIDRequest{UID: uid}))
	require.Equal(t, NoError, rc)
}

func putKey(t *testing.T, d *Dispatcher, slot sheproto.KeySlot, material [16]byte, flags uint8, count uint32) {
	t.Helper()
	id := sheproto.KeyId{Type: sheproto.KeyTypeSHE, Client: d.ClientID, Slot: slot}
	rec := sheproto.KeyRecord{
		Meta:     sheproto.KeyMetadata{Id: id, Len: 16, Label: sheproto.SheKeyLabel{Flags: flags, Count: count}},
		Material: material,
	}
	require.NoError(t, d.Store.NVMAddObject(rec))
}

// bootDigest reproduces the exact CMAC absorption order SECURE_BOOT_INIT and
// SECURE_BOOT_UPDATE perform, so tests can compute the digest a valid
// BOOT_MAC slot must hold for a given image.
func bootDigest(t *testing.T, key [16]byte, blSize uint32, image []byte) [16]byte {
	t.Helper()
	ctx, err := crypto.NewStreamingCMAC(key[:])
	require.NoError(t, err)
	var lenPrefix [12]byte
	require.NoError(t, ctx.Write(lenPrefix[:]))
	var leSize [4]byte
	binary.LittleEndian.PutUint32(leSize[:], blSize)
	require.NoError(t, ctx.Write(leSize[:]))
	require.NoError(t, ctx.Write(image))
	var out [16]byte
	copy(out[:], ctx.Final())
	return out
}

// buildLoadKeyRequest plays the client side of LOAD_KEY: derive K1/K2 from
// the authenticating key and produce M1/M2/M3 the way a legitimate caller
// would, mirroring handleLoadKey's verification in reverse.
func buildLoadKeyRequest(t *testing.T, uid [15]byte, targetSlot, authSlot sheproto.KeySlot, authKey, newKey [16]byte, counter uint32, flagsNibble uint8) *sheproto.LoadKeyRequest {
	t.Helper()
	var m1 [16]byte
	copy(m1[0:15], uid[:])
	m1[15] = uint8(targetSlot)<<4 | uint8(authSlot)

	block := sheproto.EncodeCounterBlock(counter, flagsNibble)
	var plainM2 [32]byte
	copy(plainM2[0:16], block[:])
	copy(plainM2[16:32], newKey[:])

	k1, err := crypto.DeriveSubkey(authKey[:], sheproto.KeyUpdateEncC)
	require.NoError(t, err)
	m2, err := crypto.EncryptCBC(k1[:], crypto.ZeroIV(), plainM2[:])
	require.NoError(t, err)

	k2, err := crypto.DeriveSubkey(authKey[:], sheproto.KeyUpdateMacC)
	require.NoError(t, err)
	var m1m2 [48]byte
	copy(m1m2[0:16], m1[:])
	copy(m1m2[16:48], m2)
	m3, err := crypto.CMAC(k2[:], m1m2[:], 16)
	require.NoError(t, err)

	req := &sheproto.LoadKeyRequest{M1: m1}
	copy(req.M2[:], m2)
	copy(req.M3[:], m3)
	return req
}

func TestGetStatusBeforeSetUIDIsSequenceError(t *testing.T) {
	d := newTestDispatcher(t)
	_, rc := d.Dispatch(sheproto.ActionGetStatus, nil)
	require.Equal(t, SequenceError, rc)
}

func TestSecureBootNoBootMacKeyYieldsNoSecureBoot(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	setUID(t, d, uid)

	body, rc := d.Dispatch(sheproto.ActionSecureBootInit, mustMarshal(t, &sheproto.SecureBootInitRequest{BlSize: 16}))
	require.Equal(t, NoSecureBoot, rc)
	require.Nil(t, body)

	var statusResp sheproto.GetStatusResponse
	body, rc = d.Dispatch(sheproto.ActionGetStatus, nil)
	require.Equal(t, NoError, rc)
	require.NoError(t, statusResp.UnmarshalBinary(body))
	require.Equal(t, uint8(0x06), statusResp.Sreg)
}

func TestSecureBootSuccessYieldsSreg07(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	setUID(t, d, uid)

	var macKey [16]byte
	macKey[0] = 0x42
	putKey(t, d, sheproto.SlotBootMacKey, macKey, 0, 0)

	image := []byte("pretend-bootloader-image-bytes!")
	digest := bootDigest(t, macKey, uint32(len(image)), image)
	putKey(t, d, sheproto.SlotBootMac, digest, 0, 0)

	_, rc := d.Dispatch(sheproto.ActionSecureBootInit, mustMarshal(t, &sheproto.SecureBootInitRequest{BlSize: uint32(len(image))}))
	require.Equal(t, NoError, rc)

	_, rc = d.Dispatch(sheproto.ActionSecureBootUpdate, mustMarshal(t, &sheproto.SecureBootUpdateRequest{Chunk: image}))
	require.Equal(t, NoError, rc)

	_, rc = d.Dispatch(sheproto.ActionSecureBootFinish, nil)
	require.Equal(t, NoError, rc)

	body, rc := d.Dispatch(sheproto.ActionGetStatus, nil)
	require.Equal(t, NoError, rc)
	var statusResp sheproto.GetStatusResponse
	require.NoError(t, statusResp.UnmarshalBinary(body))
	require.Equal(t, uint8(0x07), statusResp.Sreg)
}

func TestSecureBootCorruptedImageYieldsSreg03(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	setUID(t, d, uid)

	var macKey [16]byte
	macKey[0] = 0x42
	putKey(t, d, sheproto.SlotBootMacKey, macKey, 0, 0)

	image := []byte("pretend-bootloader-image-bytes!")
	digest := bootDigest(t, macKey, uint32(len(image)), image)
	putKey(t, d, sheproto.SlotBootMac, digest, 0, 0)

	corrupted := append([]byte(nil), image...)
	corrupted[0] ^= 0xFF

	_, rc := d.Dispatch(sheproto.ActionSecureBootInit, mustMarshal(t, &sheproto.SecureBootInitRequest{BlSize: uint32(len(corrupted))}))
	require.Equal(t, NoError, rc)
	_, rc = d.Dispatch(sheproto.ActionSecureBootUpdate, mustMarshal(t, &sheproto.SecureBootUpdateRequest{Chunk: corrupted}))
	require.Equal(t, NoError, rc)
	_, rc = d.Dispatch(sheproto.ActionSecureBootFinish, nil)
	require.Equal(t, GeneralError, rc)

	body, rc := d.Dispatch(sheproto.ActionGetStatus, nil)
	require.Equal(t, NoError, rc)
	var statusResp sheproto.GetStatusResponse
	require.NoError(t, statusResp.UnmarshalBinary(body))
	require.Equal(t, uint8(0x03), statusResp.Sreg)
}

// bootToSuccess is the common setup every non-secure-boot command needs: a
// UID and a successfully completed (or skipped) boot, so dispatchLocked's
// first precondition stops gating everything else.
func bootToSuccess(t *testing.T, d *Dispatcher, uid [15]byte) {
	t.Helper()
	setUID(t, d, uid)
	_, rc := d.Dispatch(sheproto.ActionSecureBootInit, mustMarshal(t, &sheproto.SecureBootInitRequest{BlSize: 0}))
	require.Equal(t, NoSecureBoot, rc)
}

func TestLoadKeyReplayDefenseRejectsReusedCounter(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	uid[0] = 0xAA
	bootToSuccess(t, d, uid)

	var authKey, newKey [16]byte
	authKey[0] = 0x11
	newKey[0] = 0x22
	putKey(t, d, sheproto.SlotSecretKey, authKey, 0, 0)

	req := buildLoadKeyRequest(t, uid, 4, sheproto.SlotSecretKey, authKey, newKey, 5, 0)
	body, rc := d.Dispatch(sheproto.ActionLoadKey, mustMarshal(t, req))
	require.Equal(t, NoError, rc)
	require.NotNil(t, body)

	// Same counter value again must be rejected as a replay.
	replay := buildLoadKeyRequest(t, uid, 4, sheproto.SlotSecretKey, authKey, newKey, 5, 0)
	_, rc = d.Dispatch(sheproto.ActionLoadKey, mustMarshal(t, replay))
	require.Equal(t, KeyUpdateError, rc)

	// A strictly greater counter is accepted.
	next := buildLoadKeyRequest(t, uid, 4, sheproto.SlotSecretKey, authKey, newKey, 6, 0)
	_, rc = d.Dispatch(sheproto.ActionLoadKey, mustMarshal(t, next))
	require.Equal(t, NoError, rc)
}

func TestLoadKeyWriteProtectedSlotIsRejected(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	uid[0] = 0xAA
	bootToSuccess(t, d, uid)

	var authKey, existingKey, newKey [16]byte
	authKey[0] = 0x11
	existingKey[0] = 0x33
	newKey[0] = 0x22
	putKey(t, d, sheproto.SlotSecretKey, authKey, 0, 0)
	putKey(t, d, 4, existingKey, sheproto.FlagWriteProtect, 1)

	req := buildLoadKeyRequest(t, uid, 4, sheproto.SlotSecretKey, authKey, newKey, 2, 0)
	_, rc := d.Dispatch(sheproto.ActionLoadKey, mustMarshal(t, req))
	require.Equal(t, WriteProtected, rc)
}

func TestLoadKeyBadM3IsKeyUpdateError(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	uid[0] = 0xAA
	bootToSuccess(t, d, uid)

	var authKey, newKey [16]byte
	authKey[0] = 0x11
	newKey[0] = 0x22
	putKey(t, d, sheproto.SlotSecretKey, authKey, 0, 0)

	req := buildLoadKeyRequest(t, uid, 4, sheproto.SlotSecretKey, authKey, newKey, 1, 0)
	req.M3[0] ^= 0xFF // corrupt the authentication tag
	_, rc := d.Dispatch(sheproto.ActionLoadKey, mustMarshal(t, req))
	require.Equal(t, KeyUpdateError, rc)
}

func TestLoadPlainKeyThenExportRAMKeyRoundTrips(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	bootToSuccess(t, d, uid)

	var secretKey, ramKey [16]byte
	secretKey[0] = 0x55
	ramKey[0] = 0x99
	putKey(t, d, sheproto.SlotSecretKey, secretKey, 0, 0)

	_, rc := d.Dispatch(sheproto.ActionLoadPlainKey, mustMarshal(t, &sheproto.LoadPlainKeyRequest{Key: ramKey}))
	require.Equal(t, NoError, rc)

	body, rc := d.Dispatch(sheproto.ActionExportRAMKey, nil)
	require.Equal(t, NoError, rc)

	var resp sheproto.ExportRAMKeyResponse
	require.NoError(t, resp.UnmarshalBinary(body))

	// The exported M1/M2/M3 must pass the same verification a client
	// applying LOAD_KEY with the RAM key's material would perform.
	k1, err := crypto.DeriveSubkey(secretKey[:], sheproto.KeyUpdateEncC)
	require.NoError(t, err)
	plainM2, err := crypto.DecryptCBC(k1[:], crypto.ZeroIV(), resp.M2[:])
	require.NoError(t, err)
	require.Len(t, plainM2, 32)
	require.Equal(t, ramKey[:], plainM2[16:32])

	k2, err := crypto.DeriveSubkey(secretKey[:], sheproto.KeyUpdateMacC)
	require.NoError(t, err)
	var m1m2 [48]byte
	copy(m1m2[0:16], resp.M1[:])
	copy(m1m2[16:48], resp.M2[:])
	wantM3, err := crypto.CMAC(k2[:], m1m2[:], 16)
	require.NoError(t, err)
	require.Equal(t, wantM3, resp.M3[:])
}

func TestExportRAMKeyBeforeLoadPlainKeyIsKeyInvalid(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	bootToSuccess(t, d, uid)

	_, rc := d.Dispatch(sheproto.ActionExportRAMKey, nil)
	require.Equal(t, KeyInvalid, rc)
}

func TestInitRndDoubleInitIsSequenceError(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	bootToSuccess(t, d, uid)

	var secretKey, seed [16]byte
	secretKey[0] = 0x01
	seed[0] = 0x02
	putKey(t, d, sheproto.SlotSecretKey, secretKey, 0, 0)
	putKey(t, d, sheproto.SlotPrngSeed, seed, 0, 0)

	_, rc := d.Dispatch(sheproto.ActionInitRND, nil)
	require.Equal(t, NoError, rc)

	_, rc = d.Dispatch(sheproto.ActionInitRND, nil)
	require.Equal(t, SequenceError, rc)
}

func TestRndBeforeInitIsSequenceError(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	bootToSuccess(t, d, uid)
	_, rc := d.Dispatch(sheproto.ActionRND, nil)
	require.Equal(t, SequenceError, rc)
}

func TestRndAdvancesState(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	bootToSuccess(t, d, uid)

	var secretKey, seed [16]byte
	secretKey[0] = 0x01
	seed[0] = 0x02
	putKey(t, d, sheproto.SlotSecretKey, secretKey, 0, 0)
	putKey(t, d, sheproto.SlotPrngSeed, seed, 0, 0)

	_, rc := d.Dispatch(sheproto.ActionInitRND, nil)
	require.Equal(t, NoError, rc)

	body1, rc := d.Dispatch(sheproto.ActionRND, nil)
	require.Equal(t, NoError, rc)
	body2, rc := d.Dispatch(sheproto.ActionRND, nil)
	require.Equal(t, NoError, rc)
	require.NotEqual(t, body1, body2, "successive RND outputs must differ")
}

func TestBulkECBRoundTripsThroughDispatcher(t *testing.T) {
	d := newTestDispatcher(t)
	var uid [15]byte
	bootToSuccess(t, d, uid)

	var key [16]byte
	key[0] = 0x77
	putKey(t, d, 4, key, 0, 1)
	id := sheproto.KeyId{Type: sheproto.KeyTypeSHE, Client: d.ClientID, Slot: 4}

	plain := []byte("0123456789ABCDEF0123456789ABCDEF")
	encReq := sheproto.NewBulkRequest(sheproto.ActionEncECB)
	encReq.KeyId = id.Encode()
	encReq.Data = plain
	body, rc := d.Dispatch(sheproto.ActionEncECB, mustMarshal(t, encReq))
	require.Equal(t, NoError, rc)

	encResp := sheproto.NewBulkResponse(sheproto.ActionEncECB)
	require.NoError(t, encResp.UnmarshalBinary(body))

	decReq := sheproto.NewBulkRequest(sheproto.ActionDecECB)
	decReq.KeyId = id.Encode()
	decReq.Data = encResp.Data
	body, rc = d.Dispatch(sheproto.ActionDecECB, mustMarshal(t, decReq))
	require.Equal(t, NoError, rc)

	decResp := sheproto.NewBulkResponse(sheproto.ActionDecECB)
	require.NoError(t, decResp.UnmarshalBinary(body))
	require.Equal(t, plain, decResp.Data)
}
