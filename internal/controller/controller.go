// Package controller implements the Execution Controller (spec section
// 4.G): the per-signal state machine that turns a validated TRADE or SELL
// signal into exchange orders, guarded at every step by the idempotency
// check, the kill-switch, and the economic edge gates.
package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotexec/internal/apperrors"
	"spotexec/internal/config"
	"spotexec/internal/exchange"
	"spotexec/internal/killswitch"
	"spotexec/internal/logging"
	"spotexec/internal/precision"
	"spotexec/internal/retry"
	"spotexec/internal/signal"
	"spotexec/internal/store"
)

// Controller owns one signal's journey through RECEIVED → ... → DONE.
type Controller struct {
	store   *store.Store
	kill    *killswitch.Oracle
	adapter exchange.Adapter
	cfg     *config.Config
	log     logging.Logger
	retry   retry.Policy
}

// New builds a Controller.
func New(st *store.Store, kill *killswitch.Oracle, adapter exchange.Adapter, cfg *config.Config, log logging.Logger) *Controller {
	return &Controller{store: st, kill: kill, adapter: adapter, cfg: cfg, log: log, retry: retry.DefaultPolicy}
}

// Execute runs the full state machine for one signal. Every branch, including
// store and exchange failures and the terminal branches named in spec 4.G
// (DEDUPED, BLOCKED, REJECTED, FAILSAFE), is handled in-band via the audit
// log and the structured log; the returned error is always nil.
func (c *Controller) Execute(ctx context.Context, sig *signal.Signal) error {
	// RECEIVED → GATED, gate (a): idempotency.
	already, err := c.store.SignalIDAlreadyExecuted(sig.SignalID)
	if err != nil {
		return c.blocked(sig, "EXEC_BLOCKED_IDEMPOTENCY_CHECK_FAILED", err.Error())
	}
	if already {
		return c.audit(sig, "EXEC_DEDUPED", "signal_id already executed")
	}

	// gate (b): kill-switch.
	if c.kill.IsActive() {
		return c.blocked(sig, "EXEC_BLOCKED_KILL_SWITCH", "kill-switch active")
	}

	// gate (c): system must be ACTIVE/RUNNING and have passed startup sync.
	state, err := c.store.GetSystemState()
	if err != nil {
		return c.blocked(sig, "EXEC_BLOCKED_SYSTEM_STATE_UNREADABLE", err.Error())
	}
	if !state.StartupSyncOK || !state.IsTradingPermissive() {
		return c.blocked(sig, "EXEC_BLOCKED_NOT_READY", fmt.Sprintf("status=%s startup_sync_ok=%v", state.Status, state.StartupSyncOK))
	}

	// gate (d): LIVE requires explicit confirmation.
	if c.cfg.Mode == config.ModeLive && !c.cfg.LiveConfirmation {
		return c.blocked(sig, "EXEC_BLOCKED_LIVE_CONFIRMATION", "LIVE_CONFIRMATION is not set")
	}

	// gate (e): certification.
	if !sig.CertifiedSignal {
		return c.rejectAndMark(sig, "EXEC_REJECT_NOT_CERTIFIED", "certified_signal is false", "REJECTED_NOT_CERTIFIED")
	}

	switch sig.FinalVerdict {
	case signal.VerdictHold:
		return c.audit(sig, "EXEC_HOLD", "verdict HOLD, audit only")
	case signal.VerdictSell:
		return c.sell(ctx, sig)
	default:
		return c.trade(ctx, sig)
	}
}

func (c *Controller) trade(ctx context.Context, sig *signal.Signal) error {
	symbol := sig.Execution.Symbol

	lastPrice, err := c.fetchLastPrice(ctx, symbol)
	if err != nil {
		return c.audit(sig, "EXEC_ERROR_LAST_PRICE", err.Error())
	}

	quoteAmount := resolveQuoteAmount(sig, lastPrice)

	filters, err := c.adapter.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return c.audit(sig, "EXEC_ERROR_SYMBOL_FILTERS", err.Error())
	}
	if quoteAmount.LessThan(filters.MinNotional) {
		return c.rejectAndMark(sig, "EXEC_REJECT_MIN_NOTIONAL",
			fmt.Sprintf("quote_amount=%s min_notional=%s", quoteAmount, filters.MinNotional), "REJECTED_MIN_NOTIONAL")
	}

	// Pre-entry guard (a): race-condition guard.
	hasActive, err := c.store.HasActiveOcoForSymbol(symbol)
	if err != nil {
		return c.audit(sig, "EXEC_ERROR_ACTIVE_OCO_CHECK", err.Error())
	}
	if hasActive {
		return c.rejectAndMark(sig, "EXEC_REJECT_ACTIVE_OCO", "an ACTIVE oco_link already exists for "+symbol, "REJECTED_ACTIVE_OCO")
	}

	// Pre-entry guard (b): economic edge gate.
	if ok, net := edgeOK(c.cfg); !ok {
		return c.rejectAndMark(sig, "EXEC_REJECT_EDGE_TOO_SMALL",
			fmt.Sprintf("net_pct=%s min_required=%s", net, c.cfg.MinNetProfitPct), "REJECTED_EDGE_TOO_SMALL")
	}

	// Pre-entry guard (b-bis): spread gate.
	ok, spreadPct, err := spreadOK(ctx, c.adapter, symbol, c.cfg, sig.Execution.MaxSpreadPct)
	if err != nil {
		return c.audit(sig, "EXEC_ERROR_SPREAD_CHECK", err.Error())
	}
	if !ok {
		return c.rejectAndMark(sig, "EXEC_REJECT_SPREAD_TOO_WIDE",
			fmt.Sprintf("spread_pct=%s", spreadPct), "REJECTED_SPREAD_TOO_WIDE")
	}

	// Pre-entry guard (c): re-check kill-switch immediately before the wire call.
	if c.kill.IsActive() {
		return c.blocked(sig, "EXEC_BLOCKED_KILL_SWITCH_LAST_GATE", "kill-switch flipped before entry placement")
	}

	order, err := c.placeMarketBuy(ctx, symbol, quoteAmount)
	if err != nil {
		// Transient failures are logged, not marked executed — the signal
		// was popped, so a single attempt is the norm (spec 4.G.4); the
		// operator replays if desired.
		return c.audit(sig, "EXEC_ENTRY_PLACEMENT_FAILED", err.Error())
	}

	buyAvg := order.Average
	if buyAvg.IsZero() {
		buyAvg = lastPrice
	}

	buyAction := "TRADE_LIVE_BUY"
	if c.adapter.Mode() == "DEMO" {
		buyAction = "TRADE_EXECUTED"
	}
	if err := c.store.MarkSignalIDExecuted(sig.SignalID, sig.Fingerprint, buyAction, symbol); err != nil {
		c.log.Error("failed to mark signal executed after a filled buy — position is now untracked for idempotency",
			zap.String("signal_id", sig.SignalID), zap.Error(err))
	}
	if err := c.recordAudit(sig, "TRADE_EXECUTED", fmt.Sprintf("symbol=%s order_id=%s avg=%s", symbol, order.OrderID, buyAvg)); err != nil {
		c.log.Warn("audit log write failed", zap.Error(err))
	}

	return c.armOco(ctx, sig, symbol, filters, quoteAmount, buyAvg)
}

func (c *Controller) armOco(ctx context.Context, sig *signal.Signal, symbol string, filters exchange.SymbolFilters, quoteAmount, buyAvg decimal.Decimal) error {
	sellAmount, err := c.sizeSellAmount(ctx, filters.BaseAsset, filters.LotStep)
	if err != nil {
		return c.audit(sig, "EXEC_ERROR_BALANCE_FETCH", err.Error())
	}
	if sellAmount.IsZero() {
		return c.audit(sig, "OCO_SKIP_NO_FREE_BASE", "free base floors to zero under both buffers; position is naked, needs operator review")
	}

	tp := precision.FloorPrice(buyAvg.Mul(decimal.NewFromInt(1).Add(c.cfg.TPPct.Div(decimal.NewFromInt(100)))), filters.TickSize)
	slStop := precision.FloorPrice(buyAvg.Mul(decimal.NewFromInt(1).Sub(c.cfg.SLPct.Div(decimal.NewFromInt(100)))), filters.TickSize)
	slLimit := precision.FloorPrice(slStop.Mul(decimal.NewFromInt(1).Sub(c.cfg.SLLimitGapPct.Div(decimal.NewFromInt(100)))), filters.TickSize)

	if c.kill.IsActive() {
		return c.audit(sig, "OCO_SKIP_KILL_SWITCH", "kill-switch flipped after entry fill; position left naked for reconciler/operator")
	}

	var result exchange.OcoResult
	err = retry.Do(ctx, c.retry, apperrors.IsTransient, func() error {
		var placeErr error
		result, placeErr = c.adapter.PlaceOCOSell(ctx, symbol, sellAmount, tp, slStop, slLimit)
		return placeErr
	})
	if err != nil {
		return c.audit(sig, "EXEC_OCO_PLACEMENT_FAILED", err.Error())
	}

	tpID, slID := extractOcoLegs(result)
	if tpID == "" || slID == "" || tpID == slID {
		if tripErr := c.kill.Trip(); tripErr != nil {
			c.log.Error("failed to trip kill-switch after an invalid OCO response", zap.Error(tripErr))
		}
		if err := c.recordAudit(sig, "OCO_INVALID", fmt.Sprintf("list_order_id=%s tp=%q sl=%q", result.ListOrderID, tpID, slID)); err != nil {
			c.log.Warn("audit log write failed", zap.Error(err))
		}
		return c.audit(sig, "FAILSAFE_KILL_SWITCH_SET", "OCO response failed the non-empty/distinct-ids invariant; trading halted pending operator acknowledgment")
	}

	if _, err := c.store.CreateOcoLink(store.OcoLink{
		SignalID: sig.SignalID, Symbol: symbol, BaseAsset: filters.BaseAsset,
		TPOrderID: tpID, SLOrderID: slID,
		TPPrice: tp, SLStopPrice: slStop, SLLimitPrice: slLimit, Amount: sellAmount,
	}); err != nil {
		return c.audit(sig, "EXEC_ERROR_PERSIST_OCO_LINK", err.Error())
	}
	if err := c.store.OpenTrade(sig.SignalID, symbol, sellAmount, quoteAmount, buyAvg); err != nil {
		c.log.Warn("failed to open trade bookkeeping row", zap.String("signal_id", sig.SignalID), zap.Error(err))
	}

	return c.audit(sig, "OCO_ARMED", fmt.Sprintf("list_order_id=%s tp=%s/%s sl=%s/%s", result.ListOrderID, tpID, tp, slID, slStop))
}

func (c *Controller) sizeSellAmount(ctx context.Context, baseAsset string, lotStep decimal.Decimal) (decimal.Decimal, error) {
	free, err := c.adapter.FetchBalanceFree(ctx, baseAsset)
	if err != nil {
		return decimal.Zero, err
	}

	amount := precision.FloorAmount(free.Mul(c.cfg.SellBuffer), lotStep)
	if amount.IsPositive() {
		return amount, nil
	}
	return precision.FloorAmount(free.Mul(c.cfg.SellRetryBuffer), lotStep), nil
}

func (c *Controller) placeMarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (exchange.Order, error) {
	var order exchange.Order
	err := retry.Do(ctx, c.retry, apperrors.IsTransient, func() error {
		var placeErr error
		order, placeErr = c.adapter.PlaceMarketBuyByQuote(ctx, symbol, quoteAmount)
		return placeErr
	})
	return order, err
}

func (c *Controller) fetchLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := retry.Do(ctx, c.retry, apperrors.IsTransient, func() error {
		var fetchErr error
		price, fetchErr = c.adapter.FetchLastPrice(ctx, symbol)
		return fetchErr
	})
	return price, err
}

func resolveQuoteAmount(sig *signal.Signal, lastPrice decimal.Decimal) decimal.Decimal {
	if sig.Execution.QuoteAmount != nil && sig.Execution.QuoteAmount.IsPositive() {
		return *sig.Execution.QuoteAmount
	}
	return sig.Execution.PositionSize.Mul(lastPrice)
}

// extractOcoLegs scans orderReports[] (falling back to orders[]) for the SL
// leg (type contains "STOP") and the TP leg (everything else), per spec
// 4.G step 7.
func extractOcoLegs(result exchange.OcoResult) (tpID, slID string) {
	reports := result.OrderReports
	if len(reports) == 0 {
		reports = result.Orders
	}
	for _, r := range reports {
		if strings.Contains(strings.ToUpper(r.Type), "STOP") {
			slID = r.OrderID
		} else if r.OrderID != "" {
			tpID = r.OrderID
		}
	}
	return tpID, slID
}

// --- audit helpers ---

func (c *Controller) recordAudit(sig *signal.Signal, eventType, message string) error {
	return c.store.LogEvent(eventType, fmt.Sprintf("signal_id=%s %s", sig.SignalID, message))
}

// audit logs a non-terminal-error event and always returns nil: the caller
// treats this as a handled branch of the state machine, not an operational
// failure.
func (c *Controller) audit(sig *signal.Signal, eventType, message string) error {
	if err := c.recordAudit(sig, eventType, message); err != nil {
		c.log.Warn("audit log write failed", zap.String("event_type", eventType), zap.Error(err))
	}
	c.log.Info(message, zap.String("event_type", eventType), zap.String("signal_id", sig.SignalID))
	return nil
}

// blocked logs a BLOCKED-class event. Per spec 4.G.4/S3, blocked signals are
// never marked executed so they can retry once the block clears.
func (c *Controller) blocked(sig *signal.Signal, eventType, reason string) error {
	if err := c.recordAudit(sig, eventType, reason); err != nil {
		c.log.Warn("audit log write failed", zap.String("event_type", eventType), zap.Error(err))
	}
	c.log.Warn(reason, zap.String("event_type", eventType), zap.String("signal_id", sig.SignalID))
	return nil
}

// rejectAndMark logs a REJECTED-class event and marks the signal executed so
// it never respawns (spec 4.G.4: terminal rejections are non-retryable).
func (c *Controller) rejectAndMark(sig *signal.Signal, eventType, reason, action string) error {
	if err := c.store.MarkSignalIDExecuted(sig.SignalID, sig.Fingerprint, action, sig.Execution.Symbol); err != nil {
		c.log.Warn("failed to mark rejected signal executed", zap.String("signal_id", sig.SignalID), zap.Error(err))
	}
	return c.blocked(sig, eventType, reason)
}
