//go:build linux || darwin

package transport

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Endpoint wraps a Pair backed by two mmap'd files, for cross-process
// attach. The file layout per region is csrHeaderSize bytes of CSR
// followed by payloadSize bytes of payload.
type Endpoint struct {
	*Pair
	reqMap  []byte
	respMap []byte

	initialized bool
}

// OpenFileBacked mmaps (creating if necessary) the request and response
// regions at reqPath/respPath. fresh selects the spec §4.1 init variant:
// true zero-fills both regions (new session), false preserves whatever is
// already there (re-attach to a live session).
func OpenFileBacked(reqPath, respPath string, payloadSize int, fresh bool) (*Endpoint, error) {
	regionSize := csrHeaderSize + payloadSize

	reqMap, err := mapFile(reqPath, regionSize)
	if err != nil {
		return nil, fmt.Errorf("transport: mapping request region: %w", err)
	}
	respMap, err := mapFile(respPath, regionSize)
	if err != nil {
		unix.Munmap(reqMap)
		return nil, fmt.Errorf("transport: mapping response region: %w", err)
	}

	if fresh {
		zero(reqMap)
		zero(respMap)
	}

	ep := &Endpoint{
		Pair: &Pair{
			req:  region{csr: csr{word: (*uint64)(unsafe.Pointer(&reqMap[0]))}, payload: reqMap[csrHeaderSize:]},
			resp: region{csr: csr{word: (*uint64)(unsafe.Pointer(&respMap[0]))}, payload: respMap[csrHeaderSize:]},
		},
		reqMap:      reqMap,
		respMap:     respMap,
		initialized: true,
	}
	return ep, nil
}

func mapFile(path string, size int) ([]byte, error) {
	fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	if info, err := fh.Stat(); err != nil {
		return nil, err
	} else if info.Size() < int64(size) {
		if err := fh.Truncate(int64(size)); err != nil {
			return nil, err
		}
	}

	return unix.Mmap(int(fh.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Close clears only the initialized flag, per spec §4.1 ("Cleanup clears
// only the initialized flag; no buffer zeroing") — the mapping itself is
// released, but whatever the last request/response held on disk is left
// untouched for forensic re-attach.
func (e *Endpoint) Close() error {
	e.initialized = false
	if err := unix.Munmap(e.reqMap); err != nil {
		return err
	}
	return unix.Munmap(e.respMap)
}

// Initialized reports whether the endpoint is still open: true from
// OpenFileBacked until Close is called, false afterwards.
func (e *Endpoint) Initialized() bool {
	return e.initialized
}
