package transport

import "fmt"

// NewInMemory builds a heap-backed transport pair for same-process
// client/server tests, avoiding mmap/file I/O. Both regions start
// zero-filled.
func NewInMemory(payloadSize int) *Pair {
	return &Pair{
		req:  region{csr: csr{word: new(uint64)}, payload: make([]byte, payloadSize)},
		resp: region{csr: csr{word: new(uint64)}, payload: make([]byte, payloadSize)},
	}
}

// Init has two variants per spec §4.1, selected by OpenFileBacked's fresh
// parameter (see mmap.go): false preserves existing buffer contents
// (re-attach to a live session), true zero-fills both regions (a brand new
// session). Endpoint.Close clears the initialized flag and unmaps the
// regions — it never zeroes buffers, so a crashed peer's last
// request/response remains inspectable in the backing files.

// PayloadSize reports the configured per-region payload capacity.
func (p *Pair) PayloadSize() int {
	if len(p.req.payload) != len(p.resp.payload) {
		panic(fmt.Sprintf("transport: asymmetric region sizes %d/%d", len(p.req.payload), len(p.resp.payload)))
	}
	return len(p.req.payload)
}
