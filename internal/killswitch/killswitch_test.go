package killswitch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"spotexec/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestIsActiveDefaultsToTrippedOnFreshDatabase(t *testing.T) {
	st := openTestStore(t)
	oracle := New(st)

	require.True(t, oracle.IsActive(), "schema default kill_switch=1 must read as tripped")
}

func TestIsActiveFollowsPersistedFlagOnceCleared(t *testing.T) {
	st := openTestStore(t)
	oracle := New(st)

	status := "RUNNING"
	syncOK := true
	cleared := false
	require.NoError(t, st.UpdateSystemState(&status, &syncOK, &cleared))

	require.False(t, oracle.IsActive())
}

func TestEnvFlagTrumpsPersistedClearedFlag(t *testing.T) {
	st := openTestStore(t)
	oracle := New(st)

	status := "RUNNING"
	syncOK := true
	cleared := false
	require.NoError(t, st.UpdateSystemState(&status, &syncOK, &cleared))

	t.Setenv("KILL_SWITCH", "true")
	require.True(t, oracle.IsActive(), "env flag is fail-closed OR'd in regardless of persisted state")
}

func TestTripSetsThePersistedFlag(t *testing.T) {
	st := openTestStore(t)
	oracle := New(st)

	status := "RUNNING"
	syncOK := true
	cleared := false
	require.NoError(t, st.UpdateSystemState(&status, &syncOK, &cleared))
	require.False(t, oracle.IsActive())

	require.NoError(t, oracle.Trip())
	require.True(t, oracle.IsActive())
}

func TestIsActiveFailsClosedWhenStoreIsUnusable(t *testing.T) {
	st := openTestStore(t)
	oracle := New(st)
	st.Close() // subsequent reads must error

	require.True(t, oracle.IsActive(), "an oracle that cannot be queried must be treated as tripped")
}
