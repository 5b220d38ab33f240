package store

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSystemStateDefaults(t *testing.T) {
	st := openTestStore(t)

	state, err := st.GetSystemState()
	require.NoError(t, err)

	assert.Equal(t, "RUNNING", state.Status)
	assert.False(t, state.StartupSyncOK)
	assert.True(t, state.KillSwitch, "schema default is fail-closed")
}

func TestUpdateSystemStatePartialUpdate(t *testing.T) {
	st := openTestStore(t)

	status := "ACTIVE"
	require.NoError(t, st.UpdateSystemState(&status, nil, nil))

	state, err := st.GetSystemState()
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", state.Status)
	assert.True(t, state.KillSwitch, "untouched column must keep its prior value")
}

func TestIsTradingPermissive(t *testing.T) {
	assert.True(t, SystemState{Status: "ACTIVE"}.IsTradingPermissive())
	assert.True(t, SystemState{Status: "RUNNING"}.IsTradingPermissive())
	assert.False(t, SystemState{Status: "PAUSED"}.IsTradingPermissive())
	assert.False(t, SystemState{Status: "KILLED"}.IsTradingPermissive())
}

func TestSignalIdempotency(t *testing.T) {
	st := openTestStore(t)

	already, err := st.SignalIDAlreadyExecuted("sig-1")
	require.NoError(t, err)
	assert.False(t, already)

	require.NoError(t, st.MarkSignalIDExecuted("sig-1", "hash-1", "TRADE_LIVE_BUY", "BTCUSDT"))

	already, err = st.SignalIDAlreadyExecuted("sig-1")
	require.NoError(t, err)
	assert.True(t, already)

	// Insert-or-ignore: marking the same signal id again must not error or
	// overwrite.
	require.NoError(t, st.MarkSignalIDExecuted("sig-1", "different-hash", "OTHER", "ETHUSDT"))
}

func TestOcoLinkLifecycle(t *testing.T) {
	st := openTestStore(t)

	link := OcoLink{
		SignalID:     "sig-1",
		Symbol:       "BTCUSDT",
		BaseAsset:    "BTC",
		TPOrderID:    "tp-1",
		SLOrderID:    "sl-1",
		TPPrice:      decimal.NewFromFloat(101300.00),
		SLStopPrice:  decimal.NewFromFloat(99300.00),
		SLLimitPrice: decimal.NewFromFloat(99151.05),
		Amount:       decimal.NewFromFloat(0.001),
	}
	id, err := st.CreateOcoLink(link)
	require.NoError(t, err)
	assert.Positive(t, id)

	has, err := st.HasActiveOcoForSymbol("btcusdt")
	require.NoError(t, err)
	assert.True(t, has, "lookup must be case-insensitive")

	active, err := st.ListActiveOcoLinks(50)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].TPPrice.Equal(decimal.NewFromFloat(101300.00)))

	require.NoError(t, st.SetOcoStatus(id, OcoStatusClosedTP))

	has, err = st.HasActiveOcoForSymbol("BTCUSDT")
	require.NoError(t, err)
	assert.False(t, has, "once closed, the link must no longer be ACTIVE")
}

func TestTradeOpenAndClose(t *testing.T) {
	st := openTestStore(t)

	qty := decimal.NewFromFloat(0.01)
	quoteIn := decimal.NewFromFloat(1000)
	entry := decimal.NewFromFloat(100000)
	require.NoError(t, st.OpenTrade("sig-1", "BTCUSDT", qty, quoteIn, entry))

	trade, err := st.GetTrade("sig-1")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Nil(t, trade.ExitPrice)

	exit := decimal.NewFromFloat(101300)
	pnlQuote := exit.Sub(entry).Mul(qty)
	pnlPct := ComputePnLPct(pnlQuote, quoteIn)
	require.NoError(t, st.CloseTrade("sig-1", exit, "TP", pnlQuote, pnlPct))

	closed, err := st.GetTrade("sig-1")
	require.NoError(t, err)
	require.NotNil(t, closed)
	require.NotNil(t, closed.ExitPrice)
	assert.True(t, closed.ExitPrice.Equal(exit))
	require.NotNil(t, closed.Outcome)
	assert.Equal(t, "TP", *closed.Outcome)
}

func TestGetTradeForUnknownSignalReturnsNil(t *testing.T) {
	st := openTestStore(t)

	trade, err := st.GetTrade("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, trade)
}

func TestComputePnLPct(t *testing.T) {
	pct := ComputePnLPct(decimal.NewFromInt(10), decimal.NewFromInt(100))
	assert.True(t, pct.Equal(decimal.NewFromInt(10)))

	zero := ComputePnLPct(decimal.NewFromInt(10), decimal.Zero)
	assert.True(t, zero.IsZero(), "division by zero quote_in must not panic")
}

func TestGetTradeStatsAggregatesClosedTradesOnly(t *testing.T) {
	st := openTestStore(t)

	qty := decimal.NewFromInt(1)
	quoteIn := decimal.NewFromInt(100)
	entry := decimal.NewFromInt(100)

	require.NoError(t, st.OpenTrade("win", "BTCUSDT", qty, quoteIn, entry))
	require.NoError(t, st.CloseTrade("win", decimal.NewFromInt(120), "TP", decimal.NewFromInt(20), decimal.NewFromInt(20)))

	require.NoError(t, st.OpenTrade("loss", "BTCUSDT", qty, quoteIn, entry))
	require.NoError(t, st.CloseTrade("loss", decimal.NewFromInt(90), "SL", decimal.NewFromInt(-10), decimal.NewFromInt(-10)))

	require.NoError(t, st.OpenTrade("open", "BTCUSDT", qty, quoteIn, entry))

	stats, err := st.GetTradeStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ClosedTrades, "the still-open trade must not be counted")
	assert.Equal(t, int64(1), stats.Wins)
	assert.Equal(t, int64(1), stats.Losses)
	assert.InDelta(t, 50.0, stats.WinratePct, 0.001)
}

func TestOpenAndCloseLegacyPosition(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.OpenPosition("BTCUSDT", "LONG", 0.01, 100000))

	open, err := st.GetOpenPositions()
	require.NoError(t, err)
	require.Len(t, open, 1)

	latest, err := st.GetLatestOpenPosition("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, latest)

	require.NoError(t, st.ClosePosition(latest.ID, 101000, 10))

	open, err = st.GetOpenPositions()
	require.NoError(t, err)
	assert.Empty(t, open, "closed position must not appear in the open set")
}
