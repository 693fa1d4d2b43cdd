// Package store implements the key store façade named (but not specified)
// by spec §4.3: a write-through cache over a non-volatile key object
// store, keyed by the composite KeyId. The NVM backend and the cache are
// both small enough to keep in-process; a production deployment would
// swap FileNVM for a real NVM driver without touching Facade or its
// callers in package she.
package store

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aidangarske/wolfHSM/she/sheproto"
)

// ErrNotFound is returned by ReadKey when no object exists for the given
// KeyId, in either the cache or the NVM backend.
var ErrNotFound = errors.New("store: key not found")

// Store is the façade interface consumed by the SHE dispatcher. It trusts
// the implementation for atomicity of a single NVMAddObject call.
type Store interface {
	// ReadKey returns the object for id, promoting an NVM hit into the
	// cache.
	ReadKey(id sheproto.KeyId) (sheproto.KeyRecord, error)
	// CacheKey writes an object directly into the cache, bypassing NVM.
	// Used for RAM-scoped keys (spec §4.5 step 8, §4.6).
	CacheKey(rec sheproto.KeyRecord) error
	// NVMAddObject persists an object, evicting any prior occupant of the
	// same KeyId, and promotes it into the cache.
	NVMAddObject(rec sheproto.KeyRecord) error
}

// Cache is a small in-memory keyed buffer store.
type Cache struct {
	mu   sync.RWMutex
	recs map[sheproto.KeyId]sheproto.KeyRecord
}

func NewCache() *Cache {
	return &Cache{recs: make(map[sheproto.KeyId]sheproto.KeyRecord)}
}

func (c *Cache) get(id sheproto.KeyId) (sheproto.KeyRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.recs[id]
	return rec, ok
}

func (c *Cache) put(rec sheproto.KeyRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[rec.Meta.Id] = rec
}

// FileNVM is a directory-backed, one-file-per-KeyId NVM implementation.
// Grounded on the teacher's liberal use of os.File as a storage backend
// throughout fuse/loopback*.go.
type FileNVM struct {
	dir string
}

func NewFileNVM(dir string) (*FileNVM, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("store: creating NVM dir: %w", err)
	}
	return &FileNVM{dir: dir}, nil
}

func (f *FileNVM) path(id sheproto.KeyId) string {
	return filepath.Join(f.dir, fmt.Sprintf("key-%04x.obj", id.Encode()))
}

func (f *FileNVM) read(id sheproto.KeyId) (sheproto.KeyRecord, error) {
	fh, err := os.Open(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return sheproto.KeyRecord{}, ErrNotFound
		}
		return sheproto.KeyRecord{}, err
	}
	defer fh.Close()

	var rec sheproto.KeyRecord
	if err := gob.NewDecoder(fh).Decode(&rec); err != nil {
		return sheproto.KeyRecord{}, fmt.Errorf("store: decoding %v: %w", id, err)
	}
	return rec, nil
}

func (f *FileNVM) write(rec sheproto.KeyRecord) error {
	tmp := f.path(rec.Meta.Id) + ".tmp"
	fh, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(fh).Encode(rec); err != nil {
		fh.Close()
		return fmt.Errorf("store: encoding %v: %w", rec.Meta.Id, err)
	}
	if err := fh.Close(); err != nil {
		return err
	}
	// rename is the atomicity boundary the façade's contract relies on:
	// a reader sees either the old object or the fully-written new one.
	return os.Rename(tmp, f.path(rec.Meta.Id))
}

// Facade composes Cache and FileNVM per spec §4.3's contract.
type Facade struct {
	cache *Cache
	nvm   *FileNVM
}

func NewFacade(cache *Cache, nvm *FileNVM) *Facade {
	return &Facade{cache: cache, nvm: nvm}
}

func (f *Facade) ReadKey(id sheproto.KeyId) (sheproto.KeyRecord, error) {
	if rec, ok := f.cache.get(id); ok {
		return rec, nil
	}
	rec, err := f.nvm.read(id)
	if err != nil {
		return sheproto.KeyRecord{}, err
	}
	f.cache.put(rec) // promote NVM hit into the cache
	return rec, nil
}

func (f *Facade) CacheKey(rec sheproto.KeyRecord) error {
	f.cache.put(rec)
	return nil
}

func (f *Facade) NVMAddObject(rec sheproto.KeyRecord) error {
	if err := f.nvm.write(rec); err != nil {
		return err
	}
	f.cache.put(rec) // evicts any prior cached occupant of this KeyId
	return nil
}
