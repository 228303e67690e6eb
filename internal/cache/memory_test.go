package cache

import (
	"errors"
	"io"
	"testing"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Basics(t *testing.T) {
	s := NewMemoryStore(0)
	k := RawKey(domain.ResolutionP25, june15)

	assert.False(t, s.Exists(k))
	_, err := s.Open(k)
	require.ErrorIs(t, err, domain.ErrIO)

	require.NoError(t, s.Put(k, writeString("tif")))
	assert.True(t, s.Exists(k))
	assert.Equal(t, "tif", readAll(t, s, k))
	assert.Equal(t, "mem://raw/p25/2020-06-15", s.Locate(k))

	require.NoError(t, s.Remove(k))
	require.NoError(t, s.Remove(k))
	assert.Zero(t, s.Len())
}

func TestMemoryStore_FailedPutStoresNothing(t *testing.T) {
	s := NewMemoryStore(0)
	k := RawKey(domain.ResolutionP25, june15)

	err := s.Put(k, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.False(t, s.Exists(k))
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s := NewMemoryStore(2)
	k1 := MonthlyKey(domain.ResolutionP25, "a", 2020, 1)
	k2 := MonthlyKey(domain.ResolutionP25, "a", 2020, 2)
	k3 := MonthlyKey(domain.ResolutionP25, "a", 2020, 3)

	require.NoError(t, s.Put(k1, writeString("1")))
	require.NoError(t, s.Put(k2, writeString("2")))

	// Touch k1 so k2 becomes the eviction candidate.
	assert.Equal(t, "1", readAll(t, s, k1))

	require.NoError(t, s.Put(k3, writeString("3")))
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Exists(k1))
	assert.False(t, s.Exists(k2))
	assert.True(t, s.Exists(k3))
}

func TestMemoryStore_OverwriteDoesNotGrow(t *testing.T) {
	s := NewMemoryStore(1)
	k := MonthlyKey(domain.ResolutionP25, "a", 2020, 1)

	require.NoError(t, s.Put(k, writeString("old")))
	require.NoError(t, s.Put(k, writeString("new")))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "new", readAll(t, s, k))
}
