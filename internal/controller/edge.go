package controller

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"spotexec/internal/config"
	"spotexec/internal/exchange"
)

// edgeOK implements the execution-side edge gate (spec 4.G.3): the trade is
// only worth entering if the take-profit target still clears fees and
// estimated slippage by at least MinNetProfitPct.
func edgeOK(cfg *config.Config) (ok bool, netPct decimal.Decimal) {
	cost := cfg.FeeRoundtripPct.Add(cfg.SlippagePct)
	net := cfg.TPPct.Sub(cost)
	return net.Cmp(cfg.MinNetProfitPct) >= 0, net
}

// spreadOK implements the supplemented spread gate (spec 4.G.3a). A zero
// ceiling (the default) disables the check. When both the signal and the
// configuration carry a ceiling, the tighter of the two applies.
func spreadOK(ctx context.Context, adapter exchange.Adapter, symbol string, cfg *config.Config, signalCeiling *decimal.Decimal) (ok bool, spreadPct decimal.Decimal, err error) {
	ceiling := cfg.MaxSpreadPct
	if signalCeiling != nil && signalCeiling.IsPositive() {
		if ceiling.IsZero() || signalCeiling.LessThan(ceiling) {
			ceiling = *signalCeiling
		}
	}
	if !ceiling.IsPositive() {
		return true, decimal.Zero, nil
	}

	ticker, err := adapter.FetchBookTicker(ctx, symbol)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("edge: fetching book ticker: %w", err)
	}
	if ticker.Bid.IsZero() {
		return false, decimal.Zero, fmt.Errorf("edge: book ticker for %s has zero bid", symbol)
	}

	spreadPct = ticker.Ask.Sub(ticker.Bid).Div(ticker.Bid).Mul(decimal.NewFromInt(100))
	return spreadPct.Cmp(ceiling) <= 0, spreadPct, nil
}
