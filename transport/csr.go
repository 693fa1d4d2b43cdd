package transport

import "sync/atomic"

// csrHeaderSize is the size in bytes of the control/status word at the
// head of every transport region: four 16-bit fields packed into a single
// 64-bit word, host-endian, accessed atomically as a whole (spec §6).
const csrHeaderSize = 8

// csr decomposes a single atomic 64-bit control/status word into the four
// fields defined by spec §6. notify is the 16-bit release/acquire
// handshake counter;
// ack and wait are reserved for future backpressure and are not touched by
// the current one-shot send/recv contract.
//
// word points either at a heap uint64 (the in-memory transport) or at the
// first 8 bytes of an mmap'd region (the file-backed transport) — the same
// accessor works for both because sync/atomic operates on *uint64
// regardless of what memory backs it.
type csr struct {
	word *uint64
}

func packCSR(notify, length, ack, wait uint16) uint64 {
	return uint64(notify) | uint64(length)<<16 | uint64(ack)<<32 | uint64(wait)<<48
}

func unpackCSR(w uint64) (notify, length, ack, wait uint16) {
	return uint16(w), uint16(w >> 16), uint16(w >> 32), uint16(w >> 48)
}

func (c *csr) load() (notify, length, ack, wait uint16) {
	return unpackCSR(atomic.LoadUint64(c.word))
}

func (c *csr) notify() uint16 {
	return uint16(atomic.LoadUint64(c.word))
}

func (c *csr) length() uint16 {
	return uint16(atomic.LoadUint64(c.word) >> 16)
}

// store writes the whole word in one atomic op. Only the writer side of a
// given region ever calls store; the CSR's notify sub-field is the last
// thing written so that a concurrent reader who observes the new notify
// value also observes the new length (store-release).
func (c *csr) store(notify, length, ack, wait uint16) {
	atomic.StoreUint64(c.word, packCSR(notify, length, ack, wait))
}

// bumpNotify re-packs the current word with notify incremented by one,
// leaving length/ack/wait untouched. This is the release operation that
// must happen strictly after the payload write it guards.
func (c *csr) bumpNotify() {
	notify, length, ack, wait := c.load()
	c.store(notify+1, length, ack, wait)
}

// setNotify sets notify to an explicit value (send_response's "resp.notify
// = req.notify"), leaving length/ack/wait from the most recent store.
func (c *csr) setNotify(notify uint16) {
	_, length, ack, wait := c.load()
	c.store(notify, length, ack, wait)
}

// setLength updates only the length field, preserving the rest.
func (c *csr) setLength(length uint16) {
	notify, _, ack, wait := c.load()
	c.store(notify, length, ack, wait)
}
