// Package binance implements the LIVE/TESTNET Exchange Adapter against the
// Binance spot REST API via the go-binance/v2 SDK, the same dependency and
// call shape the teacher's archive adapter and binancespot package use.
// The adapter sends amounts and prices as decimal values exactly as given:
// the Execution Controller floors base amounts and prices through
// internal/precision before calling it, and the market-buy quote amount is
// passed through without flooring.
package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"spotexec/internal/apperrors"
	"spotexec/internal/exchange"
	"spotexec/internal/killswitch"
)

// Adapter wraps a go-binance/v2 spot client with the safety gates spec 4.D
// requires (kill-switch, live-confirmation, symbol whitelist, per-trade cap)
// and a local cache of exchange symbol filters.
type Adapter struct {
	client *binance.Client
	mode   string // TESTNET or LIVE

	killSwitch       *killswitch.Oracle
	liveConfirmation bool
	whitelist        map[string]bool
	maxQuotePerTrade decimal.Decimal

	limiter *rate.Limiter

	mu      sync.Mutex
	filters map[string]exchange.SymbolFilters
}

// Config carries the construction-time parameters the adapter needs beyond
// the raw API credentials.
type Config struct {
	APIKey           string
	APISecret        string
	Testnet          bool
	KillSwitch       *killswitch.Oracle
	LiveConfirmation bool
	Whitelist        []string
	MaxQuotePerTrade decimal.Decimal
	// RequestsPerSecond bounds the adapter's own REST call rate, independent
	// of go-binance's internal handling, the way the teacher's exchange
	// layer rate-limits its own outbound calls.
	RequestsPerSecond float64
}

// New builds an Adapter per cfg.
func New(cfg Config) *Adapter {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	mode := "LIVE"
	if cfg.Testnet {
		binance.UseTestnet = true
		mode = "TESTNET"
	}

	whitelist := make(map[string]bool, len(cfg.Whitelist))
	for _, s := range cfg.Whitelist {
		whitelist[strings.ToUpper(s)] = true
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}

	return &Adapter{
		client:           client,
		mode:             mode,
		killSwitch:       cfg.KillSwitch,
		liveConfirmation: cfg.LiveConfirmation,
		whitelist:        whitelist,
		maxQuotePerTrade: cfg.MaxQuotePerTrade,
		limiter:          rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		filters:          map[string]exchange.SymbolFilters{},
	}
}

func (a *Adapter) Mode() string { return a.mode }

func (a *Adapter) wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// guardTrade enforces the adapter-local safety gates common to every
// order-placing call (spec 4.D): kill-switch, live-confirmation, whitelist,
// and per-trade quote cap (quoteAmount may be zero for non-sized calls).
func (a *Adapter) guardTrade(symbol string, quoteAmount decimal.Decimal) error {
	if a.killSwitch != nil && a.killSwitch.IsActive() {
		return apperrors.ErrKillSwitchActive
	}
	if a.mode == "LIVE" && !a.liveConfirmation {
		return apperrors.ErrLiveNotConfirmed
	}
	if !a.whitelist[strings.ToUpper(symbol)] {
		return fmt.Errorf("binance: %w: %s", apperrors.ErrSymbolNotWhitelisted, symbol)
	}
	if quoteAmount.IsPositive() && a.maxQuotePerTrade.IsPositive() && quoteAmount.GreaterThan(a.maxQuotePerTrade) {
		return fmt.Errorf("binance: %w: %s > %s", apperrors.ErrQuoteCapExceeded, quoteAmount, a.maxQuotePerTrade)
	}
	return nil
}

func (a *Adapter) FetchLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := a.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	prices, err := a.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, classifyError(err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("binance: %w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return decimal.NewFromString(prices[0].Price)
}

func (a *Adapter) FetchBookTicker(ctx context.Context, symbol string) (exchange.BookTicker, error) {
	if err := a.wait(ctx); err != nil {
		return exchange.BookTicker{}, err
	}
	tickers, err := a.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return exchange.BookTicker{}, classifyError(err)
	}
	if len(tickers) == 0 {
		return exchange.BookTicker{}, fmt.Errorf("binance: %w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	bid, _ := decimal.NewFromString(tickers[0].BidPrice)
	ask, _ := decimal.NewFromString(tickers[0].AskPrice)
	return exchange.BookTicker{Symbol: symbol, Bid: bid, Ask: ask}, nil
}

func (a *Adapter) FetchBalanceFree(ctx context.Context, asset string) (decimal.Decimal, error) {
	if err := a.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	account, err := a.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, classifyError(err)
	}
	for _, b := range account.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return decimal.NewFromString(b.Free)
		}
	}
	return decimal.Zero, nil
}

func (a *Adapter) FetchOrder(ctx context.Context, symbol, orderID string) (exchange.Order, error) {
	if err := a.wait(ctx); err != nil {
		return exchange.Order{}, err
	}
	id, err := parseInt64(orderID)
	if err != nil {
		return exchange.Order{}, fmt.Errorf("binance: %w: %s", apperrors.ErrInvalidOrderParameter, orderID)
	}
	o, err := a.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return exchange.Order{}, classifyError(err)
	}
	return normalizeOrder(symbol, fmt.Sprint(o.OrderID), string(o.Status), string(o.Type), o.Price, o.ExecutedQuantity), nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	id, err := parseInt64(orderID)
	if err != nil {
		return fmt.Errorf("binance: %w: %s", apperrors.ErrInvalidOrderParameter, orderID)
	}
	_, err = a.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return classifyError(err)
	}
	return nil
}

func (a *Adapter) PlaceMarketBuyByQuote(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (exchange.Order, error) {
	if err := a.guardTrade(symbol, quoteAmount); err != nil {
		return exchange.Order{}, err
	}
	if err := a.wait(ctx); err != nil {
		return exchange.Order{}, err
	}

	resp, err := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(quoteAmount.String()).
		Do(ctx)
	if err != nil {
		return exchange.Order{}, classifyError(err)
	}

	executed, _ := decimal.NewFromString(resp.ExecutedQuantity)
	cumulativeQuote, _ := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	average := decimal.Zero
	if executed.IsPositive() {
		average = cumulativeQuote.Div(executed)
	}

	return exchange.Order{
		OrderID: fmt.Sprint(resp.OrderID),
		Symbol:  symbol,
		Status:  normalizeStatus(string(resp.Status)),
		Type:    string(resp.Type),
		Average: average,
		Price:   average,
		Filled:  executed,
	}, nil
}

func (a *Adapter) PlaceLimitSell(ctx context.Context, symbol string, baseAmount, price decimal.Decimal) (exchange.Order, error) {
	if err := a.guardTrade(symbol, decimal.Zero); err != nil {
		return exchange.Order{}, err
	}
	if err := a.wait(ctx); err != nil {
		return exchange.Order{}, err
	}

	resp, err := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(baseAmount.String()).
		Price(price.String()).
		Do(ctx)
	if err != nil {
		return exchange.Order{}, classifyError(err)
	}
	return normalizeOrder(symbol, fmt.Sprint(resp.OrderID), string(resp.Status), string(resp.Type), resp.Price, resp.ExecutedQuantity), nil
}

func (a *Adapter) PlaceStopLossLimitSell(ctx context.Context, symbol string, baseAmount, stopPrice, limitPrice decimal.Decimal) (exchange.Order, error) {
	if err := a.guardTrade(symbol, decimal.Zero); err != nil {
		return exchange.Order{}, err
	}
	if err := a.wait(ctx); err != nil {
		return exchange.Order{}, err
	}

	resp, err := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeStopLossLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(baseAmount.String()).
		Price(limitPrice.String()).
		StopPrice(stopPrice.String()).
		Do(ctx)
	if err != nil {
		return exchange.Order{}, classifyError(err)
	}
	return normalizeOrder(symbol, fmt.Sprint(resp.OrderID), string(resp.Status), string(resp.Type), resp.Price, resp.ExecutedQuantity), nil
}

// PlaceOCOSell places the native OCO sell order and returns the raw-shaped
// result the Execution Controller parses per spec 4.G step 7 (listOrderId +
// orderReports[]/orders[] scan, STOP-containing type => SL leg).
func (a *Adapter) PlaceOCOSell(ctx context.Context, symbol string, baseAmount, tpPrice, slStop, slLimit decimal.Decimal) (exchange.OcoResult, error) {
	if err := a.guardTrade(symbol, decimal.Zero); err != nil {
		return exchange.OcoResult{}, err
	}
	if err := a.wait(ctx); err != nil {
		return exchange.OcoResult{}, err
	}

	resp, err := a.client.NewCreateOCOService().
		Symbol(symbol).
		Side(binance.SideTypeSell).
		Quantity(baseAmount.String()).
		Price(tpPrice.String()).
		StopPrice(slStop.String()).
		StopLimitPrice(slLimit.String()).
		StopLimitTimeInForce(binance.TimeInForceTypeGTC).
		Do(ctx)
	if err != nil {
		return exchange.OcoResult{}, classifyError(err)
	}

	result := exchange.OcoResult{ListOrderID: fmt.Sprint(resp.OrderListID)}
	for _, r := range resp.OrderReports {
		result.OrderReports = append(result.OrderReports, exchange.OcoOrderReport{
			OrderID: fmt.Sprint(r.OrderID),
			Type:    string(r.Type),
			Status:  normalizeStatus(string(r.Status)),
		})
	}
	for _, o := range resp.Orders {
		result.Orders = append(result.Orders, exchange.OcoOrderReport{
			OrderID: fmt.Sprint(o.OrderID),
		})
	}
	return result, nil
}

func (a *Adapter) GetSymbolFilters(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
	a.mu.Lock()
	if f, ok := a.filters[symbol]; ok {
		a.mu.Unlock()
		return f, nil
	}
	a.mu.Unlock()

	if err := a.wait(ctx); err != nil {
		return exchange.SymbolFilters{}, err
	}

	info, err := a.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return exchange.SymbolFilters{}, classifyError(err)
	}
	if len(info.Symbols) == 0 {
		return exchange.SymbolFilters{}, fmt.Errorf("binance: %w: %s", apperrors.ErrInvalidSymbol, symbol)
	}
	sym := info.Symbols[0]

	filters := exchange.SymbolFilters{
		Symbol:     symbol,
		BaseAsset:  sym.BaseAsset,
		QuoteAsset: sym.QuoteAsset,
	}
	if lot := sym.LotSizeFilter(); lot != nil {
		filters.LotStep, _ = decimal.NewFromString(lot.StepSize)
	}
	if price := sym.PriceFilter(); price != nil {
		filters.TickSize, _ = decimal.NewFromString(price.TickSize)
	}
	if notional := sym.MinNotionalFilter(); notional != nil {
		filters.MinNotional, _ = decimal.NewFromString(notional.MinNotional)
	}

	a.mu.Lock()
	a.filters[symbol] = filters
	a.mu.Unlock()

	return filters, nil
}

// Diagnostics performs the public-then-private connectivity probe the
// Startup Reconciler uses (spec 4.E step 3): server time, then account
// access.
func (a *Adapter) Diagnostics(ctx context.Context) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	if _, err := a.client.NewServerTimeService().Do(ctx); err != nil {
		return fmt.Errorf("binance: public connectivity probe: %w", classifyError(err))
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	if _, err := a.client.NewGetAccountService().Do(ctx); err != nil {
		return fmt.Errorf("binance: private connectivity probe: %w", classifyError(err))
	}
	return nil
}

func normalizeOrder(symbol, orderID, status, orderType, price, filled string) exchange.Order {
	p, _ := decimal.NewFromString(price)
	f, _ := decimal.NewFromString(filled)
	return exchange.Order{
		OrderID: orderID,
		Symbol:  symbol,
		Status:  normalizeStatus(status),
		Type:    orderType,
		Average: p,
		Price:   p,
		Filled:  f,
	}
}

func normalizeStatus(raw string) exchange.OrderStatus {
	switch strings.ToUpper(raw) {
	case "FILLED":
		return exchange.OrderStatusFilled
	case "PARTIALLY_FILLED":
		return exchange.OrderStatusPartiallyFilled
	case "CANCELED", "CANCELLED":
		return exchange.OrderStatusCanceled
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return exchange.OrderStatusExpired
	case "REJECTED":
		return exchange.OrderStatusRejected
	default:
		return exchange.OrderStatusNew
	}
}

// classifyError maps the go-binance SDK's APIError into this repo's sentinel
// taxonomy (SPEC_FULL Ambient Stack), grounded on the teacher's
// binancespot.parseError shape.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := err.(*binance.APIError)
	if !ok {
		return fmt.Errorf("binance: %w: %v", apperrors.ErrNetwork, err)
	}

	switch {
	case apiErr.Code == -2010 || apiErr.Code == -2019:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrInsufficientFunds, apiErr.Message)
	case apiErr.Code == -1013 || apiErr.Code == -1111:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrInvalidOrderParameter, apiErr.Message)
	case apiErr.Code == -2011:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrOrderRejected, apiErr.Message)
	case apiErr.Code == -2013:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrOrderNotFound, apiErr.Message)
	case apiErr.Code == -1003:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrRateLimitExceeded, apiErr.Message)
	case apiErr.Code == -1021:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrTimestampOutOfBounds, apiErr.Message)
	case apiErr.Code == -1022 || apiErr.Code == -2014 || apiErr.Code == -2015:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrAuthenticationFailed, apiErr.Message)
	case apiErr.Code == -1016:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrExchangeMaintenance, apiErr.Message)
	default:
		return fmt.Errorf("binance: %w: %s", apperrors.ErrNetwork, apiErr.Message)
	}
}

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
