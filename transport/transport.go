// Package transport implements the single-producer/single-consumer
// shared-memory transport that carries SHE request/response packets
// between an untrusted client and the trusted server (spec §4.1).
//
// Grounded on the teacher's splice/ package for OS-level zero-copy buffer
// plumbing, generalized from pipe splicing to an mmap'd region, and on the
// seqlock ring buffer pattern from the retrieved AlephTX shared-memory
// feeder (atomic notify word, unsafe.Pointer slot access). The header here
// is the 8-byte CSR word alone, not padded to a cache line.
package transport

import "fmt"

// Status is local to the transport; spec §7 requires that NotReady/BadArgs
// never enter the SHE error code space, so this is deliberately not
// she.Status.
type Status int

const (
	OK Status = iota
	NotReady
	BadArgs
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case NotReady:
		return "NotReady"
	case BadArgs:
		return "BadArgs"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// region is one direction of a transport pair: a CSR header followed by a
// fixed-size payload area.
type region struct {
	csr     csr
	payload []byte
}

// Pair is a 1:1 shared-memory transport: one request region (client
// writes, server reads) and one response region (server writes, client
// reads). Exactly one request may be outstanding at a time (spec §1
// non-goals: no multi-client concurrency on a single pair).
type Pair struct {
	req  region
	resp region
}

// flush and invalidate are reserved hooks around payload access for
// non-coherent DMA memory (spec §4.1). On ordinary coherent host memory —
// the only backing this implementation targets — they are no-ops, but are
// kept as named call sites so a DMA-backed transport can fill them in
// without touching the handshake logic.
func flush(_ []byte)     {}
func invalidate(_ []byte) {}

// SendRequest is called by the client. It fails with NotReady if the
// server has not yet responded to a previous request still in flight.
func (p *Pair) SendRequest(data []byte) Status {
	if len(data) > len(p.req.payload) {
		return BadArgs
	}
	reqNotify, _, _, _ := p.req.csr.load()
	respNotify := p.resp.csr.notify()
	if reqNotify != respNotify {
		return NotReady
	}
	copy(p.req.payload, data)
	flush(p.req.payload[:len(data)])
	p.req.csr.setLength(uint16(len(data)))
	p.req.csr.bumpNotify() // release: payload must be visible before this
	return OK
}

// RecvRequest is called by the server. It fails with NotReady if no new
// request is pending.
func (p *Pair) RecvRequest(out []byte) (n int, status Status) {
	reqNotify := p.req.csr.notify() // acquire
	respNotify, _, _, _ := p.resp.csr.load()
	if reqNotify == respNotify {
		return 0, NotReady
	}
	length := p.req.csr.length()
	if int(length) > len(out) {
		return 0, BadArgs
	}
	invalidate(p.req.payload[:length])
	n = copy(out, p.req.payload[:length])
	return n, OK
}

// SendResponse is called by the server. Setting resp.notify = req.notify
// is what releases the client's next SendRequest.
func (p *Pair) SendResponse(data []byte) Status {
	if len(data) > len(p.resp.payload) {
		return BadArgs
	}
	copy(p.resp.payload, data)
	flush(p.resp.payload[:len(data)])
	p.resp.csr.setLength(uint16(len(data)))
	reqNotify := p.req.csr.notify()
	p.resp.csr.setNotify(reqNotify)
	return OK
}

// RecvResponse is called by the client. A response is available once
// resp.notify == req.notify — the value SendResponse copies across to
// release the client. Before any request has been sent the two words
// start out equal too; callers are expected to only poll RecvResponse
// after a successful SendRequest, per the one-outstanding-request
// contract.
func (p *Pair) RecvResponse(out []byte) (n int, status Status) {
	reqNotify, _, _, _ := p.req.csr.load()
	respNotify := p.resp.csr.notify()
	if respNotify != reqNotify {
		return 0, NotReady
	}
	length := p.resp.csr.length()
	if int(length) > len(out) {
		return 0, BadArgs
	}
	invalidate(p.resp.payload[:length])
	n = copy(out, p.resp.payload[:length])
	return n, OK
}
