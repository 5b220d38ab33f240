package controller

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"spotexec/internal/apperrors"
	"spotexec/internal/precision"
	"spotexec/internal/retry"
	"spotexec/internal/signal"
	"spotexec/internal/store"
)

// sell implements the SELL handler (spec 4.G.2): an early-exit path that
// cancels any ACTIVE OCO bracket on the symbol and liquidates the free base
// balance with a limit sell priced at the best bid times SellBuffer, floored
// to the tick size. No market order is placed; a limit that does not fill
// stays resting on the book.
func (c *Controller) sell(ctx context.Context, sig *signal.Signal) error {
	symbol := sig.Execution.Symbol

	if c.kill.IsActive() {
		return c.blocked(sig, "EXEC_BLOCKED_KILL_SWITCH", "kill-switch active (SELL)")
	}

	links, err := c.store.ListActiveOcoLinks(50)
	if err != nil {
		return c.audit(sig, "EXEC_ERROR_LIST_OCO_LINKS", err.Error())
	}

	for _, link := range links {
		if link.Symbol != symbol {
			continue
		}
		c.cancelOrSkipLink(ctx, link)
	}

	filters, err := c.adapter.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return c.audit(sig, "EXEC_ERROR_SYMBOL_FILTERS", err.Error())
	}

	sellAmount, err := c.sizeSellAmount(ctx, filters.BaseAsset, filters.LotStep)
	if err != nil {
		return c.audit(sig, "EXEC_ERROR_BALANCE_FETCH", err.Error())
	}
	if sellAmount.IsZero() {
		if err := c.store.MarkSignalIDExecuted(sig.SignalID, sig.Fingerprint, "SELL_NO_FREE_BASE", symbol); err != nil {
			c.log.Warn("failed to mark SELL_NO_FREE_BASE signal executed", zap.Error(err))
		}
		return c.audit(sig, "SELL_NO_FREE_BASE", "no free base balance to liquidate")
	}

	ticker, err := c.adapter.FetchBookTicker(ctx, symbol)
	if err != nil {
		return c.audit(sig, "EXEC_ERROR_TICKER", err.Error())
	}
	limitPrice := precision.FloorPrice(ticker.Bid.Mul(c.cfg.SellBuffer), filters.TickSize)

	err = retry.Do(ctx, c.retry, apperrors.IsTransient, func() error {
		_, placeErr := c.adapter.PlaceLimitSell(ctx, symbol, sellAmount, limitPrice)
		return placeErr
	})
	if err != nil {
		// A failed liquidation is not marked executed, so the same signal_id
		// is accepted again if it is replayed into the outbox (spec 4.G.4);
		// the popped signal itself is not re-queued.
		return c.audit(sig, "SELL_ORDER_FAILED", err.Error())
	}

	if err := c.store.MarkSignalIDExecuted(sig.SignalID, sig.Fingerprint, "SELL_LIVE", symbol); err != nil {
		c.log.Warn("failed to mark SELL_LIVE signal executed", zap.Error(err))
	}
	return c.audit(sig, "SELL_LIVE", fmt.Sprintf("symbol=%s amount=%s limit=%s", symbol, sellAmount, limitPrice))
}

// cancelOrSkipLink fetches both legs of link: if one is already terminal it
// updates the link status and moves on; otherwise it best-effort cancels
// both legs and marks the link CANCELED_BY_SIGNAL.
func (c *Controller) cancelOrSkipLink(ctx context.Context, link store.OcoLink) {
	tp, tpErr := c.adapter.FetchOrder(ctx, link.Symbol, link.TPOrderID)
	sl, slErr := c.adapter.FetchOrder(ctx, link.Symbol, link.SLOrderID)
	if tpErr != nil || slErr != nil {
		c.log.Warn("sell handler: failed to fetch oco leg status, leaving link for reconciler",
			zap.Int64("oco_link_id", link.ID), zap.Error(tpErr), zap.Error(slErr))
		return
	}

	if tp.Status.IsClosed() || sl.Status.IsClosed() {
		status := store.OcoStatusClosedTP
		if sl.Status.IsClosed() {
			status = store.OcoStatusClosedSL
		}
		if err := c.store.SetOcoStatus(link.ID, status); err != nil {
			c.log.Warn("sell handler: failed to update already-closed link", zap.Int64("oco_link_id", link.ID), zap.Error(err))
		}
		return
	}

	if err := c.adapter.CancelOrder(ctx, link.Symbol, link.TPOrderID); err != nil {
		c.log.Warn("sell handler: best-effort cancel of tp leg failed", zap.String("order_id", link.TPOrderID), zap.Error(err))
	}
	if err := c.adapter.CancelOrder(ctx, link.Symbol, link.SLOrderID); err != nil {
		c.log.Warn("sell handler: best-effort cancel of sl leg failed", zap.String("order_id", link.SLOrderID), zap.Error(err))
	}
	if err := c.store.SetOcoStatus(link.ID, store.OcoStatusCanceledBySignal); err != nil {
		c.log.Warn("sell handler: failed to mark link CANCELED_BY_SIGNAL", zap.Int64("oco_link_id", link.ID), zap.Error(err))
	}
}
