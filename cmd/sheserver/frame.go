package main

import (
	"fmt"

	"github.com/aidangarske/wolfHSM/she/sheproto"
)

// The per-session client/server message header (spec §1: "message header +
// RC") is named as an external collaborator and is not specified here.
// This is the minimal stand-in this binary needs to drive the transport
// end to end: one action byte, followed by the action-specific body on the
// way in, and one RC byte followed by the action-specific body on the way
// out.
const (
	frameHeaderSize = 1
)

func decodeFrame(buf []byte) (sheproto.Action, []byte, error) {
	if len(buf) < frameHeaderSize {
		return 0, nil, fmt.Errorf("sheserver: frame too short (%d bytes)", len(buf))
	}
	return sheproto.Action(buf[0]), buf[frameHeaderSize:], nil
}

func encodeFrame(rc int32, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = byte(rc)
	copy(out[1:], body)
	return out
}
