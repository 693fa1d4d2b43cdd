package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aidangarske/wolfHSM/she/sheproto"
)

func testFacade(t *testing.T) *Facade {
	t.Helper()
	nvm, err := NewFileNVM(t.TempDir())
	require.NoError(t, err)
	return NewFacade(NewCache(), nvm)
}

func TestReadKeyNotFound(t *testing.T) {
	f := testFacade(t)
	_, err := f.ReadKey(sheproto.KeyId{Type: sheproto.KeyTypeSHE, Slot: 4})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNVMAddObjectThenReadPromotesToCache(t *testing.T) {
	f := testFacade(t)
	id := sheproto.KeyId{Type: sheproto.KeyTypeSHE, Slot: 4}
	rec := sheproto.KeyRecord{Meta: sheproto.KeyMetadata{Id: id, Len: 16, Label: sheproto.SheKeyLabel{Count: 5}}}
	rec.Material[0] = 0xAB

	require.NoError(t, f.NVMAddObject(rec))

	got, err := f.ReadKey(id)
	require.NoError(t, err)
	require.Equal(t, rec, got)

	// A fresh facade over the same NVM dir must still see it on disk.
	f2 := NewFacade(NewCache(), f.nvm)
	got2, err := f2.ReadKey(id)
	require.NoError(t, err)
	require.Equal(t, rec, got2)

	// That NVM hit must now be held in f2's cache.
	cached, ok := f2.cache.get(id)
	require.True(t, ok)
	require.Equal(t, rec, cached)
}

func TestNVMAddObjectEvictsPriorOccupant(t *testing.T) {
	f := testFacade(t)
	id := sheproto.KeyId{Type: sheproto.KeyTypeSHE, Slot: 4}
	rec1 := sheproto.KeyRecord{Meta: sheproto.KeyMetadata{Id: id, Len: 16, Label: sheproto.SheKeyLabel{Count: 1}}}
	rec2 := sheproto.KeyRecord{Meta: sheproto.KeyMetadata{Id: id, Len: 16, Label: sheproto.SheKeyLabel{Count: 2}}}

	require.NoError(t, f.NVMAddObject(rec1))
	require.NoError(t, f.NVMAddObject(rec2))

	got, err := f.ReadKey(id)
	require.NoError(t, err)
	require.Equal(t, uint32(2), got.Meta.Label.Count)
}

func TestCacheKeyDoesNotTouchNVM(t *testing.T) {
	f := testFacade(t)
	id := sheproto.KeyId{Type: sheproto.KeyTypeSHE, Slot: sheproto.SlotRAMKey}
	rec := sheproto.KeyRecord{Meta: sheproto.KeyMetadata{Id: id, Len: 16}}

	require.NoError(t, f.CacheKey(rec))

	got, err := f.ReadKey(id)
	require.NoError(t, err)
	require.Equal(t, rec, got)

	_, err = f.nvm.read(id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCountWordRoundTrip(t *testing.T) {
	label := sheproto.SheKeyLabel{Count: 0x0FFFFFFF}
	word := label.EncodeCountWord()
	require.Equal(t, uint32(0x0FFFFFFF), sheproto.DecodeCountWord(word))
}
