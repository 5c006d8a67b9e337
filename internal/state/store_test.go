package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(username string) *Record {
	return &Record{
		Username:         username,
		UID:              1000,
		Active:           true,
		Table:            "cordon_" + username,
		GenerationID:     "gen-1",
		AppliedAt:        time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		LastRefresh:      time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		LastAddressCount: 12,
		DeviceBlocked:    true,
		Addresses:        []string{"172.67.68.254", "104.26.6.164"},
	}
}

func TestStoreSaveGet(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	rec := testRecord("alice")
	require.NoError(t, s.Save(rec))

	got, err := s.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestStoreGetMissing(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreSaveOverwrites(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	rec := testRecord("alice")
	require.NoError(t, s.Save(rec))

	rec.GenerationID = "gen-2"
	rec.LastAddressCount = 9
	rec.Stale = true
	require.NoError(t, s.Save(rec))

	got, err := s.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "gen-2", got.GenerationID)
	assert.True(t, got.Stale)
}

func TestStoreDelete(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(testRecord("alice")))
	require.NoError(t, s.Delete("alice"))
	_, err = s.Get("alice")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again stays quiet.
	require.NoError(t, s.Delete("alice"))
}

func TestStoreList(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(testRecord("bob")))
	require.NoError(t, s.Save(testRecord("alice")))

	inactive := testRecord("carol")
	inactive.Active = false
	inactive.DeviceBlocked = false
	require.NoError(t, s.Save(inactive))

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].Username)
	assert.Equal(t, "bob", all[1].Username)

	active, err := s.ListActive()
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestStoreCountDeviceBlocked(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	n, err := s.CountDeviceBlocked()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.Save(testRecord("alice")))
	require.NoError(t, s.Save(testRecord("bob")))

	unblocked := testRecord("carol")
	unblocked.DeviceBlocked = false
	require.NoError(t, s.Save(unblocked))

	n, err = s.CountDeviceBlocked()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStoreClosed(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Save(testRecord("alice")), ErrStoreClosed)
	_, err = s.Get("alice")
	assert.ErrorIs(t, err, ErrStoreClosed)
	require.NoError(t, s.Close())
}

func TestStorePersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(testRecord("alice")))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "cordon_alice", got.Table)
}
