package controller

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotexec/internal/exchange"
	"spotexec/internal/exchange/demo"
	"spotexec/internal/killswitch"
	"spotexec/internal/logging"
	"spotexec/internal/signal"
	"spotexec/internal/store"
)

func sellSignal(id string) *signal.Signal {
	s := &signal.Signal{
		SignalID:        id,
		FinalVerdict:    signal.VerdictSell,
		CertifiedSignal: true,
		Execution: signal.Execution{
			Symbol:    "BTCUSDT",
			Direction: signal.DirectionLong,
		},
	}
	s.Fingerprint = signal.Fingerprint(s)
	return s
}

func noBaseAdapter() *demo.Adapter {
	return demo.New(
		map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(100000)},
		map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000), "BTC": decimal.Zero},
		map[string]exchange.SymbolFilters{"BTCUSDT": btcFilters()},
	)
}

func TestSellWithNoFreeBaseMarksExecuted(t *testing.T) {
	st := openTestStore(t)
	activate(t, st)
	kill := killswitch.New(st)
	adapter := noBaseAdapter()
	cfg := testConfig()

	c := New(st, kill, adapter, cfg, logging.NewNop())
	sig := sellSignal("sell-1")

	require.NoError(t, c.Execute(context.Background(), sig))
	assert.Equal(t, "SELL_NO_FREE_BASE", lastAuditEventType(t, st))

	already, err := st.SignalIDAlreadyExecuted("sell-1")
	require.NoError(t, err)
	assert.True(t, already)
}

func TestSellLiquidatesFreeBaseAndCancelsActiveLink(t *testing.T) {
	st := openTestStore(t)
	activate(t, st)
	kill := killswitch.New(st)
	adapter := demo.New(
		map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(100000)},
		map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000), "BTC": decimal.NewFromFloat(0.01)},
		map[string]exchange.SymbolFilters{"BTCUSDT": btcFilters()},
	)
	cfg := testConfig()
	ctx := context.Background()

	tpOrder, err := adapter.PlaceLimitSell(ctx, "BTCUSDT", decimal.NewFromFloat(0.01), decimal.NewFromInt(101000))
	require.NoError(t, err)
	slOrder, err := adapter.PlaceStopLossLimitSell(ctx, "BTCUSDT", decimal.NewFromFloat(0.01), decimal.NewFromInt(99000), decimal.NewFromInt(98900))
	require.NoError(t, err)

	_, err = st.CreateOcoLink(store.OcoLink{
		SignalID: "prior-trade", Symbol: "BTCUSDT", BaseAsset: "BTC",
		TPOrderID: tpOrder.OrderID, SLOrderID: slOrder.OrderID,
		TPPrice: decimal.NewFromInt(101000), SLStopPrice: decimal.NewFromInt(99000), SLLimitPrice: decimal.NewFromInt(98900),
		Amount: decimal.NewFromFloat(0.01),
	})
	require.NoError(t, err)

	c := New(st, kill, adapter, cfg, logging.NewNop())
	sig := sellSignal("sell-2")

	require.NoError(t, c.Execute(ctx, sig))
	assert.Equal(t, "SELL_LIVE", lastAuditEventType(t, st))

	active, err := st.ListActiveOcoLinks(50)
	require.NoError(t, err)
	assert.Empty(t, active, "the prior bracket must be canceled by the sell handler")
}

func TestSellBlockedByKillSwitch(t *testing.T) {
	st := openTestStore(t)
	activate(t, st)
	kill := killswitch.New(st)
	adapter := newDemoAdapter()
	cfg := testConfig()

	t.Setenv("KILL_SWITCH", "true")

	c := New(st, kill, adapter, cfg, logging.NewNop())
	sig := sellSignal("sell-3")

	require.NoError(t, c.Execute(context.Background(), sig))
	assert.Equal(t, "EXEC_BLOCKED_KILL_SWITCH", lastAuditEventType(t, st))
}
