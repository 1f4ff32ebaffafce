package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndLookup(t *testing.T) {
	s := openTestStore(t)

	creds := Credentials{Username: "tracker01", Password: "hunter2", ServerID: 9}
	require.NoError(t, s.Upsert("EmpireEx_2", creds))

	got, err := s.Lookup("EmpireEx_2")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	// Upsert replaces.
	creds.Password = "rotated"
	require.NoError(t, s.Upsert("EmpireEx_2", creds))
	got, err = s.Lookup("EmpireEx_2")
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.Password)
}

func TestLookupMissingZone(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Lookup("EmpireEx_99")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupIncompleteAccount(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Upsert("EmpireEx_2", Credentials{Username: "tracker01"}))
	_, err := s.Lookup("EmpireEx_2")
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestSeedAndZones(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Seed(map[string]Credentials{
		"EmpireEx_2":  {Username: "a", Password: "b", ServerID: 1},
		"EmpirefourkingdomsExGG_3": {Username: "c", Password: "d", ServerID: 2},
	}))

	zones, err := s.Zones()
	require.NoError(t, err)
	assert.Equal(t, []string{"EmpireEx_2", "EmpirefourkingdomsExGG_3"}, zones)
}
