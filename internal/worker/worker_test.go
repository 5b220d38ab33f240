package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotexec/internal/config"
	"spotexec/internal/controller"
	"spotexec/internal/exchange"
	"spotexec/internal/exchange/demo"
	"spotexec/internal/killswitch"
	"spotexec/internal/logging"
	"spotexec/internal/outbox"
	"spotexec/internal/reconcile"
	"spotexec/internal/signal"
	"spotexec/internal/store"
)

func newTestLoop(t *testing.T) (*Loop, *store.Store, *outbox.Outbox) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ob := outbox.New(filepath.Join(t.TempDir(), "outbox.json"))
	require.NoError(t, ob.EnsureExists())

	kill := killswitch.New(st)
	adapter := demo.New(
		map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(100000)},
		map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)},
		map[string]exchange.SymbolFilters{"BTCUSDT": {
			Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT",
			LotStep: decimal.NewFromFloat(0.00001), TickSize: decimal.NewFromFloat(0.01),
			MinNotional: decimal.NewFromInt(10),
		}},
	)
	cfg := &config.Config{
		Mode: config.ModeDemo, TPPct: decimal.NewFromFloat(1.3), SLPct: decimal.NewFromFloat(0.7),
		SLLimitGapPct: decimal.NewFromFloat(0.15), SellBuffer: decimal.NewFromFloat(0.995),
		SellRetryBuffer: decimal.NewFromFloat(0.98), FeeRoundtripPct: decimal.NewFromFloat(0.2),
		SlippagePct: decimal.NewFromFloat(0.05), MinNetProfitPct: decimal.NewFromFloat(0.3),
	}
	ctrl := controller.New(st, kill, adapter, cfg, logging.NewNop())
	startupR := reconcile.NewStartup(st, kill, adapter, logging.NewNop())
	ocoR := reconcile.NewOCO(st, adapter, logging.NewNop())

	loop := New(Config{
		Store: st, Kill: kill, Outbox: ob, Controller: ctrl,
		Startup: startupR, OCO: ocoR, Log: logging.NewNop(), Sleep: time.Millisecond,
	})
	return loop, st, ob
}

func TestBootstrapClearsStuckPausedState(t *testing.T) {
	loop, st, _ := newTestLoop(t)

	status := "PAUSED"
	syncOK := true
	killOff := false
	require.NoError(t, st.UpdateSystemState(&status, &syncOK, &killOff))

	require.NoError(t, loop.Bootstrap())

	state, err := st.GetSystemState()
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", state.Status)
	assert.True(t, state.StartupSyncOK)
}

func TestBootstrapNoOpsWhenKillSwitchActive(t *testing.T) {
	loop, st, _ := newTestLoop(t)
	// kill_switch defaults to 1 (active) on a fresh schema.

	require.NoError(t, loop.Bootstrap())

	state, err := st.GetSystemState()
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", state.Status, "bootstrap must not touch status while kill-switch is active")
}

func TestTickDropsSignalsWhileKillSwitchActive(t *testing.T) {
	loop, st, ob := newTestLoop(t)
	// fresh schema: kill_switch defaults active.

	size := decimal.NewFromFloat(0.001)
	sig := signal.Signal{
		SignalID: "dropped-1", FinalVerdict: signal.VerdictTrade, CertifiedSignal: true,
		Execution: signal.Execution{Symbol: "BTCUSDT", Direction: signal.DirectionLong,
			Entry: signal.Entry{Type: signal.EntryTypeMarket}, PositionSize: &size},
	}
	ok, err := ob.Append(sig)
	require.NoError(t, err)
	require.True(t, ok)

	loop.tick(context.Background())

	n, err := ob.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n, "the queued signal must be popped and dropped, not executed")

	already, err := st.SignalIDAlreadyExecuted("dropped-1")
	require.NoError(t, err)
	assert.False(t, already, "a dropped signal is not the same as an executed one")
}

func TestTickExecutesOneSignalPerCycle(t *testing.T) {
	loop, st, ob := newTestLoop(t)

	status := "ACTIVE"
	syncOK := true
	cleared := false
	require.NoError(t, st.UpdateSystemState(&status, &syncOK, &cleared))

	// Distinct sizes give the two signals distinct fingerprints, so the
	// outbox's soft dedupe does not drop the second append.
	sizes := []decimal.Decimal{decimal.NewFromFloat(0.001), decimal.NewFromFloat(0.002)}
	for i, id := range []string{"sig-a", "sig-b"} {
		size := sizes[i]
		sig := signal.Signal{
			SignalID: id, FinalVerdict: signal.VerdictTrade, CertifiedSignal: true,
			Execution: signal.Execution{Symbol: "BTCUSDT", Direction: signal.DirectionLong,
				Entry: signal.Entry{Type: signal.EntryTypeMarket}, PositionSize: &size},
		}
		ok, err := ob.Append(sig)
		require.NoError(t, err)
		require.True(t, ok)
	}

	loop.tick(context.Background())

	n, err := ob.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "tick must pop and execute at most one signal")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	loop, st, _ := newTestLoop(t)
	status := "ACTIVE"
	syncOK := true
	cleared := false
	require.NoError(t, st.UpdateSystemState(&status, &syncOK, &cleared))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
