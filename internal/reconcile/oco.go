package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotexec/internal/exchange"
	"spotexec/internal/logging"
	"spotexec/internal/store"
)

// sweepLimit bounds how many ACTIVE links one OCO sweep inspects (spec 4.H's
// bounded fetch per sweep).
const sweepLimit = 50

// OCO runs the periodic reconciliation sweep over oco_links (spec 4.H): it
// asks the exchange for the current status of each leg and classifies the
// pair into CLOSED_TP, CLOSED_SL, FAILED, or leaves it ACTIVE.
type OCO struct {
	store   *store.Store
	adapter exchange.Adapter
	log     logging.Logger
}

// NewOCO builds an OCO reconciler.
func NewOCO(st *store.Store, adapter exchange.Adapter, log logging.Logger) *OCO {
	return &OCO{store: st, adapter: adapter, log: log}
}

// Sweep inspects up to sweepLimit ACTIVE links. A single link's failure to
// resolve (a transient fetch error) does not abort the rest of the sweep —
// the reconciler is tolerant of isolated lookup failures and simply revisits
// that link on the next cycle.
func (r *OCO) Sweep(ctx context.Context) error {
	links, err := r.store.ListActiveOcoLinks(sweepLimit)
	if err != nil {
		return fmt.Errorf("reconcile: oco: listing active links: %w", err)
	}

	for _, link := range links {
		if err := r.resolveOne(ctx, link); err != nil {
			r.log.Warn("oco sweep: failed to resolve link, will retry next cycle",
				zap.Int64("oco_link_id", link.ID), zap.String("symbol", link.Symbol), zap.Error(err))
		}
	}
	return nil
}

func (r *OCO) resolveOne(ctx context.Context, link store.OcoLink) error {
	tp, err := r.adapter.FetchOrder(ctx, link.Symbol, link.TPOrderID)
	if err != nil {
		return fmt.Errorf("fetching tp leg %s: %w", link.TPOrderID, err)
	}
	sl, err := r.adapter.FetchOrder(ctx, link.Symbol, link.SLOrderID)
	if err != nil {
		return fmt.Errorf("fetching sl leg %s: %w", link.SLOrderID, err)
	}

	// A closed SL leg is checked first, so it decides the outcome whatever the
	// TP leg reports; a closed TP leg closes the link whatever the (non-closed)
	// SL leg reports.
	switch {
	case sl.Status.IsClosed():
		return r.closeLink(link, store.OcoStatusClosedSL, sl.Average, "SL")
	case tp.Status.IsClosed():
		return r.closeLink(link, store.OcoStatusClosedTP, tp.Average, "TP")
	case tp.Status.IsCanceled() && sl.Status.IsCanceled():
		return r.failLink(link, "both legs canceled/expired/rejected outside a signal-driven cancel")
	default:
		// Still working; leave ACTIVE.
		return nil
	}
}

func (r *OCO) closeLink(link store.OcoLink, newStatus string, exitPrice decimal.Decimal, outcome string) error {
	trade, err := r.store.GetTrade(link.SignalID)
	if err != nil {
		return fmt.Errorf("loading trade for %s: %w", link.SignalID, err)
	}
	if trade != nil && trade.ClosedAt == nil {
		pnlQuote := exitPrice.Sub(trade.EntryPrice).Mul(trade.Qty)
		pnlPct := store.ComputePnLPct(pnlQuote, trade.QuoteIn)
		if err := r.store.CloseTrade(link.SignalID, exitPrice, outcome, pnlQuote, pnlPct); err != nil {
			return fmt.Errorf("closing trade for %s: %w", link.SignalID, err)
		}
	}

	if err := r.store.SetOcoStatus(link.ID, newStatus); err != nil {
		return fmt.Errorf("setting oco status: %w", err)
	}
	if err := r.store.LogEvent("OCO_CLOSED", fmt.Sprintf("link=%d symbol=%s outcome=%s", link.ID, link.Symbol, outcome)); err != nil {
		r.log.Warn("oco sweep: audit log write failed", zap.Error(err))
	}
	return nil
}

func (r *OCO) failLink(link store.OcoLink, reason string) error {
	if err := r.store.SetOcoStatus(link.ID, store.OcoStatusFailed); err != nil {
		return fmt.Errorf("setting oco status failed: %w", err)
	}
	if err := r.store.LogEvent("OCO_FAILED", fmt.Sprintf("link=%d symbol=%s reason=%s", link.ID, link.Symbol, reason)); err != nil {
		r.log.Warn("oco sweep: audit log write failed", zap.Error(err))
	}
	r.log.Error("oco sweep: link marked FAILED, needs operator review",
		zap.Int64("oco_link_id", link.ID), zap.String("symbol", link.Symbol), zap.String("reason", reason))
	return nil
}
