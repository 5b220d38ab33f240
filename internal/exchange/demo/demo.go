// Package demo implements the DEMO-mode Exchange Adapter: it never calls the
// network, fills market buys at the last known price, and tracks a virtual
// base/quote balance ledger. It is this repo's own operational surface, not
// the "virtual-wallet" collaborator the spec declares external — the spec
// excludes the *decision engine's* notion of a wallet simulator, not the
// adapter that must exist in-process for MODE=DEMO to mean anything.
package demo

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"spotexec/internal/apperrors"
	"spotexec/internal/exchange"
	"spotexec/internal/precision"
)

// Adapter is the DEMO-mode simulator.
type Adapter struct {
	mu sync.Mutex

	lastPrice map[string]decimal.Decimal
	balances  map[string]decimal.Decimal
	filters   map[string]exchange.SymbolFilters
	orderSeq  int64
	orders    map[string]exchange.Order
}

// New constructs a DEMO adapter seeded with lastPrice quotes and starting
// balances (asset -> free amount), for deterministic test fixtures. Nil maps
// start empty; the worker entrypoint builds it with no prices, balances or
// filters.
func New(lastPrice map[string]decimal.Decimal, balances map[string]decimal.Decimal, filters map[string]exchange.SymbolFilters) *Adapter {
	if lastPrice == nil {
		lastPrice = map[string]decimal.Decimal{}
	}
	if balances == nil {
		balances = map[string]decimal.Decimal{}
	}
	if filters == nil {
		filters = map[string]exchange.SymbolFilters{}
	}
	return &Adapter{
		lastPrice: lastPrice,
		balances:  balances,
		filters:   filters,
		orders:    map[string]exchange.Order{},
	}
}

func (a *Adapter) Mode() string { return "DEMO" }

func (a *Adapter) SetLastPrice(symbol string, price decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastPrice[symbol] = price
}

func (a *Adapter) FetchLastPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.lastPrice[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("demo: %w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return p, nil
}

func (a *Adapter) FetchBalanceFree(_ context.Context, asset string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[asset], nil
}

func (a *Adapter) FetchBookTicker(ctx context.Context, symbol string) (exchange.BookTicker, error) {
	price, err := a.FetchLastPrice(ctx, symbol)
	if err != nil {
		return exchange.BookTicker{}, err
	}
	// DEMO has no real book; synthesize a zero-width spread.
	return exchange.BookTicker{Symbol: symbol, Bid: price, Ask: price}, nil
}

func (a *Adapter) FetchOrder(_ context.Context, _, orderID string) (exchange.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[orderID]
	if !ok {
		return exchange.Order{}, fmt.Errorf("demo: %w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	return o, nil
}

func (a *Adapter) CancelOrder(_ context.Context, _, orderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[orderID]
	if !ok {
		return fmt.Errorf("demo: %w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	o.Status = exchange.OrderStatusCanceled
	a.orders[orderID] = o
	return nil
}

func (a *Adapter) nextOrderID() string {
	a.orderSeq++
	return fmt.Sprintf("DEMO-%d", a.orderSeq)
}

func (a *Adapter) PlaceMarketBuyByQuote(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (exchange.Order, error) {
	price, err := a.FetchLastPrice(ctx, symbol)
	if err != nil {
		return exchange.Order{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	filters := a.filters[symbol]
	baseQty := precision.FloorAmount(quoteAmount.Div(price), filters.LotStep)

	id := a.nextOrderID()
	order := exchange.Order{
		OrderID: id,
		Symbol:  symbol,
		Status:  exchange.OrderStatusFilled,
		Type:    "MARKET",
		Average: price,
		Price:   price,
		Filled:  baseQty,
	}
	a.orders[id] = order

	base, quote := splitSymbol(symbol)
	a.balances[base] = a.balances[base].Add(baseQty)
	a.balances[quote] = a.balances[quote].Sub(quoteAmount)

	return order, nil
}

func (a *Adapter) PlaceLimitSell(_ context.Context, symbol string, baseAmount, price decimal.Decimal) (exchange.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextOrderID()
	order := exchange.Order{OrderID: id, Symbol: symbol, Status: exchange.OrderStatusNew, Type: "LIMIT", Price: price, Filled: decimal.Zero}
	a.orders[id] = order
	return order, nil
}

func (a *Adapter) PlaceStopLossLimitSell(_ context.Context, symbol string, baseAmount, stopPrice, limitPrice decimal.Decimal) (exchange.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextOrderID()
	order := exchange.Order{OrderID: id, Symbol: symbol, Status: exchange.OrderStatusNew, Type: "STOP_LOSS_LIMIT", Price: limitPrice, Filled: decimal.Zero}
	a.orders[id] = order
	return order, nil
}

func (a *Adapter) PlaceOCOSell(_ context.Context, symbol string, baseAmount, tpPrice, slStop, slLimit decimal.Decimal) (exchange.OcoResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tpID := a.nextOrderID()
	slID := a.nextOrderID()
	a.orders[tpID] = exchange.Order{OrderID: tpID, Symbol: symbol, Status: exchange.OrderStatusNew, Type: "LIMIT_MAKER", Price: tpPrice}
	a.orders[slID] = exchange.Order{OrderID: slID, Symbol: symbol, Status: exchange.OrderStatusNew, Type: "STOP_LOSS_LIMIT", Price: slLimit}

	return exchange.OcoResult{
		ListOrderID: a.nextOrderID(),
		OrderReports: []exchange.OcoOrderReport{
			{OrderID: tpID, Type: "LIMIT_MAKER", Status: exchange.OrderStatusNew},
			{OrderID: slID, Type: "STOP_LOSS_LIMIT", Status: exchange.OrderStatusNew},
		},
	}, nil
}

func (a *Adapter) GetSymbolFilters(_ context.Context, symbol string) (exchange.SymbolFilters, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.filters[symbol]
	if !ok {
		return exchange.SymbolFilters{}, fmt.Errorf("demo: %w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return f, nil
}

func (a *Adapter) Diagnostics(_ context.Context) error {
	return nil
}

// splitSymbol is a minimal BASEQUOTE splitter good enough for the common
// *USDT pairs DEMO fixtures use; real filter metadata (not this heuristic)
// is authoritative on the LIVE/TESTNET path.
func splitSymbol(symbol string) (base, quote string) {
	for _, q := range []string{"USDT", "USDC", "BUSD", "BTC", "ETH"} {
		if len(symbol) > len(q) && symbol[len(symbol)-len(q):] == q {
			return symbol[:len(symbol)-len(q)], q
		}
	}
	return symbol, ""
}
