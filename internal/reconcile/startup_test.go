package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotexec/internal/exchange"
	"spotexec/internal/exchange/demo"
	"spotexec/internal/killswitch"
	"spotexec/internal/logging"
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

func clearKillSwitch(t *testing.T, st *store.Store) {
	t.Helper()
	status := "RUNNING"
	syncOK := true
	cleared := false
	require.NoError(t, st.UpdateSystemState(&status, &syncOK, &cleared))
}

// failingDiagnosticsAdapter wraps the demo adapter but reports non-DEMO mode
// and a failing connectivity probe, to exercise the LIVE/TESTNET branches
// without needing network access.
type failingDiagnosticsAdapter struct {
	*demo.Adapter
	mode string
	err  error
}

func (f *failingDiagnosticsAdapter) Mode() string { return f.mode }
func (f *failingDiagnosticsAdapter) Diagnostics(ctx context.Context) error {
	return f.err
}

var _ exchange.Adapter = (*failingDiagnosticsAdapter)(nil)

func TestStartupKillSwitchShortCircuits(t *testing.T) {
	st := openTestStore(t)
	kill := killswitch.New(st)
	adapter := demo.New(nil, nil, nil)

	s := NewStartup(st, kill, adapter, logging.NewNop())
	status, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statusKilled, status)

	state, err := st.GetSystemState()
	require.NoError(t, err)
	assert.False(t, state.StartupSyncOK)
}

func TestStartupDemoModeShortCircuitsToActive(t *testing.T) {
	st := openTestStore(t)
	kill := killswitch.New(st)
	clearKillSwitch(t, st)
	adapter := demo.New(nil, nil, nil)

	s := NewStartup(st, kill, adapter, logging.NewNop())
	status, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statusActive, status)

	state, err := st.GetSystemState()
	require.NoError(t, err)
	assert.True(t, state.StartupSyncOK)
}

func TestStartupConnectivityProbeFailurePauses(t *testing.T) {
	st := openTestStore(t)
	kill := killswitch.New(st)
	clearKillSwitch(t, st)
	adapter := &failingDiagnosticsAdapter{Adapter: demo.New(nil, nil, nil), mode: "LIVE", err: errors.New("network down")}

	s := NewStartup(st, kill, adapter, logging.NewNop())
	status, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statusPaused, status)

	state, err := st.GetSystemState()
	require.NoError(t, err)
	assert.False(t, state.StartupSyncOK)
}

func TestStartupOpenPositionsPauseForReview(t *testing.T) {
	st := openTestStore(t)
	kill := killswitch.New(st)
	clearKillSwitch(t, st)
	require.NoError(t, st.OpenPosition("BTCUSDT", "LONG", 0.01, 100000))

	adapter := &failingDiagnosticsAdapter{Adapter: demo.New(nil, nil, nil), mode: "LIVE", err: nil}

	s := NewStartup(st, kill, adapter, logging.NewNop())
	status, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statusPaused, status)

	state, err := st.GetSystemState()
	require.NoError(t, err)
	assert.True(t, state.StartupSyncOK, "sync succeeded, it's just paused for operator review")
}

func TestStartupCleanProbeAndNoOpenPositionsActivates(t *testing.T) {
	st := openTestStore(t)
	kill := killswitch.New(st)
	clearKillSwitch(t, st)
	adapter := &failingDiagnosticsAdapter{Adapter: demo.New(nil, nil, nil), mode: "LIVE", err: nil}

	s := NewStartup(st, kill, adapter, logging.NewNop())
	status, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statusActive, status)
}
