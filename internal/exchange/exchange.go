// Package exchange declares the Exchange Adapter's interface (spec section
// 4.D): a typed wrapper over REST for market-buy-by-quote, limit/stop-limit
// sell, native OCO, cancel, order lookup, balance, ticker, and exchange
// filters. Two implementations satisfy it: internal/exchange/binance (LIVE/
// TESTNET) and internal/exchange/demo (DEMO, never touches the network).
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderStatus is the normalized (lowercased) status reported by an exchange
// order, as consumed by the OCO Reconciler's classification table (spec
// 4.H).
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsClosed reports whether status belongs to the CLOSED set (spec 4.H).
func (s OrderStatus) IsClosed() bool {
	return s == OrderStatusFilled
}

// IsCanceled reports whether status belongs to the CANCELED set (spec 4.H).
func (s OrderStatus) IsCanceled() bool {
	switch s {
	case OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order is the normalized shape of an exchange order, regardless of venue.
type Order struct {
	OrderID string
	Symbol  string
	Status  OrderStatus
	Type    string
	Average decimal.Decimal
	Price   decimal.Decimal
	Filled  decimal.Decimal
}

// OcoResult is the raw-shaped response of a native OCO placement, kept close
// to the Binance wire format (listOrderId / orderReports / orders) because
// the Execution Controller's id-extraction logic (spec 4.G step 7) mirrors
// that shape directly.
type OcoResult struct {
	ListOrderID   string
	OrderReports  []OcoOrderReport
	Orders        []OcoOrderReport // fallback shape some venues/sandboxes return instead
}

// OcoOrderReport is one leg of an OCO response.
type OcoOrderReport struct {
	OrderID string
	Type    string // e.g. "LIMIT_MAKER", "STOP_LOSS_LIMIT"
	Status  OrderStatus
}

// SymbolFilters carries the exchange-mandated discretization for a symbol.
type SymbolFilters struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	LotStep     decimal.Decimal
	TickSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// BookTicker is a best bid/ask snapshot, used by the supplemented spread
// gate (spec 4.G.3a) and by the SELL handler, which prices its liquidation
// limit order from the bid.
type BookTicker struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

// Adapter is the contract every venue implementation satisfies.
type Adapter interface {
	// Mode reports which of DEMO/TESTNET/LIVE this adapter instance is
	// operating as, for logging and safety-gate decisions.
	Mode() string

	FetchLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	FetchBalanceFree(ctx context.Context, asset string) (decimal.Decimal, error)
	FetchBookTicker(ctx context.Context, symbol string) (BookTicker, error)
	FetchOrder(ctx context.Context, symbol, orderID string) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error

	PlaceMarketBuyByQuote(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (Order, error)
	PlaceLimitSell(ctx context.Context, symbol string, baseAmount, price decimal.Decimal) (Order, error)
	PlaceStopLossLimitSell(ctx context.Context, symbol string, baseAmount, stopPrice, limitPrice decimal.Decimal) (Order, error)
	PlaceOCOSell(ctx context.Context, symbol string, baseAmount, tpPrice, slStop, slLimit decimal.Decimal) (OcoResult, error)

	GetSymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)

	// Diagnostics performs a lightweight connectivity probe (public + private
	// where applicable) for the Startup Reconciler (spec 4.E).
	Diagnostics(ctx context.Context) error
}
