// Package she implements the SHE command dispatcher: the process-wide
// protocol state machine (spec §3-4), the K1-K5 key-update chain (spec
// §4.5-4.6), the PRNG commands (spec §4.7), and bulk AES (spec §4.8).
//
// Grounded on the teacher's fuse/opcode.go (operationHandlers dispatch
// table) and fuse/fuse.go (precondition-then-dispatch-then-postcondition
// request handling shape), generalized from FUSE's ~50 opcodes down to
// SHE's 15 commands and from filesystem semantics to key-custody
// semantics.
package she

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aidangarske/wolfHSM/she/sheproto"
	"github.com/aidangarske/wolfHSM/store"
)

// commandNeedsBoot lists the actions servicable before secure boot has
// reached SUCCESS (spec §4.4's first precondition). Every other action is
// gated.
var commandNeedsBoot = map[sheproto.Action]bool{
	sheproto.ActionSetUID:           true,
	sheproto.ActionSecureBootInit:   true,
	sheproto.ActionSecureBootUpdate: true,
	sheproto.ActionSecureBootFinish: true,
	sheproto.ActionGetStatus:        true,
}

// secureBootResetActions reset the sub-machine to INIT on any error other than
// NoSecureBoot (spec §4.4, §9). SECURE_BOOT_FINISH is excluded: its
// handler manages the SUCCESS/FAILURE transition itself and the
// comparison-failure path is explicitly not a reset (spec §7).
var secureBootResetActions = map[sheproto.Action]bool{
	sheproto.ActionSecureBootInit:   true,
	sheproto.ActionSecureBootUpdate: true,
}

// Dispatcher routes decoded packets to the 15 SHE handlers, enforcing the
// preconditions and postcondition secure-boot reset table from spec §4.4
// and §9.
type Dispatcher struct {
	State    *State
	Store    store.Store
	ClientID sheproto.ClientId
	Metrics  *Metrics
	Log      *logrus.Logger
}

// NewDispatcher wires a fresh, booted State to st. Log defaults to
// logrus's standard logger if nil.
func NewDispatcher(st store.Store, clientID sheproto.ClientId, metrics *Metrics, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		State:    NewState(),
		Store:    st,
		ClientID: clientID,
		Metrics:  metrics,
		Log:      log,
	}
}

// Dispatch decodes body per action, runs preconditions, invokes the
// matching handler, applies the postcondition secure-boot reset table,
// and returns the encoded response body plus the wire status code.
func (d *Dispatcher) Dispatch(action sheproto.Action, body []byte) ([]byte, Status) {
	d.State.enter()
	defer d.State.leave()

	start := time.Now()
	respBody, rc := d.dispatchLocked(action, body)

	if secureBootResetActions[action] && rc != NoError && rc != NoSecureBoot {
		d.State.resetSecureBoot()
	}

	if d.Metrics != nil {
		d.Metrics.observe(action, rc, time.Since(start).Seconds())
	}
	d.Log.WithFields(logrus.Fields{
		"action": action.String(),
		"rc":     rc.String(),
		"micros": time.Since(start).Microseconds(),
	}).Debug("she: command handled")

	return respBody, rc
}

func (d *Dispatcher) dispatchLocked(action sheproto.Action, body []byte) ([]byte, Status) {
	if !commandNeedsBoot[action] && d.State.SbState != SbSuccess {
		return nil, SequenceError
	}
	if !d.State.UidSet && action != sheproto.ActionSetUID {
		return nil, SequenceError
	}

	switch action {
	case sheproto.ActionSetUID:
		return decodeHandleEncode(body, &sheproto.SetUIDRequest{}, func(req *sheproto.SetUIDRequest) (sheproto.Response, Status) {
			return handleSetUID(d.State, req)
		})
	case sheproto.ActionSecureBootInit:
		return decodeHandleEncode(body, &sheproto.SecureBootInitRequest{}, func(req *sheproto.SecureBootInitRequest) (sheproto.Response, Status) {
			return handleSecureBootInit(d.State, d.Store, d.ClientID, req)
		})
	case sheproto.ActionSecureBootUpdate:
		return decodeHandleEncode(body, &sheproto.SecureBootUpdateRequest{}, func(req *sheproto.SecureBootUpdateRequest) (sheproto.Response, Status) {
			return handleSecureBootUpdate(d.State, req)
		})
	case sheproto.ActionSecureBootFinish:
		return decodeHandleEncode(body, &sheproto.EmptyRequest{}, func(req *sheproto.EmptyRequest) (sheproto.Response, Status) {
			return handleSecureBootFinish(d.State, d.Store, d.ClientID)
		})
	case sheproto.ActionGetStatus:
		return decodeHandleEncode(body, &sheproto.GetStatusRequest{}, func(req *sheproto.GetStatusRequest) (sheproto.Response, Status) {
			return handleGetStatus(d.State)
		})
	case sheproto.ActionLoadKey:
		return decodeHandleEncode(body, &sheproto.LoadKeyRequest{}, func(req *sheproto.LoadKeyRequest) (sheproto.Response, Status) {
			return handleLoadKey(d.State, d.Store, d.ClientID, req)
		})
	case sheproto.ActionLoadPlainKey:
		return decodeHandleEncode(body, &sheproto.LoadPlainKeyRequest{}, func(req *sheproto.LoadPlainKeyRequest) (sheproto.Response, Status) {
			return handleLoadPlainKey(d.State, d.Store, d.ClientID, req)
		})
	case sheproto.ActionExportRAMKey:
		return decodeHandleEncode(body, &sheproto.ExportRAMKeyRequest{}, func(req *sheproto.ExportRAMKeyRequest) (sheproto.Response, Status) {
			return handleExportRAMKey(d.State, d.Store, d.ClientID)
		})
	case sheproto.ActionInitRND:
		return decodeHandleEncode(body, &sheproto.InitRndRequest{}, func(req *sheproto.InitRndRequest) (sheproto.Response, Status) {
			return handleInitRnd(d.State, d.Store, d.ClientID)
		})
	case sheproto.ActionRND:
		return decodeHandleEncode(body, &sheproto.RndRequest{}, func(req *sheproto.RndRequest) (sheproto.Response, Status) {
			return handleRnd(d.State)
		})
	case sheproto.ActionExtendSeed:
		return decodeHandleEncode(body, &sheproto.ExtendSeedRequest{}, func(req *sheproto.ExtendSeedRequest) (sheproto.Response, Status) {
			return handleExtendSeed(d.State, d.Store, d.ClientID, req)
		})
	case sheproto.ActionEncECB, sheproto.ActionEncCBC, sheproto.ActionDecECB, sheproto.ActionDecCBC:
		req := sheproto.NewBulkRequest(action)
		return decodeHandleEncode(body, req, func(req *sheproto.BulkRequest) (sheproto.Response, Status) {
			return handleBulkAES(d.Store, d.ClientID, action, req)
		})
	default:
		return nil, GeneralError
	}
}

// decodeHandleEncode is the generic glue shared by every case above:
// decode the action-specific request, run the handler, encode whatever
// response it returns. A decode failure collapses to GeneralError per
// spec §7's policy for errors that don't map to a SHE code.
func decodeHandleEncode[T sheproto.Request](body []byte, req T, handle func(T) (sheproto.Response, Status)) ([]byte, Status) {
	if err := req.UnmarshalBinary(body); err != nil {
		return nil, GeneralError
	}
	resp, rc := handle(req)
	if rc != NoError || resp == nil {
		return nil, rc
	}
	out, err := resp.MarshalBinary()
	if err != nil {
		return nil, GeneralError
	}
	return out, NoError
}
