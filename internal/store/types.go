package store

import "github.com/shopspring/decimal"

// SystemState is the singleton row gating every trading decision.
type SystemState struct {
	Status        string
	StartupSyncOK bool
	KillSwitch    bool
	UpdatedAt     string
}

// IsTradingPermissive reports whether Status allows new entries. Per
// SPEC_FULL's resolved Open Question, both ACTIVE and RUNNING are
// permissive.
func (s SystemState) IsTradingPermissive() bool {
	return s.Status == "ACTIVE" || s.Status == "RUNNING"
}

const (
	OcoStatusActive          = "ACTIVE"
	OcoStatusClosedTP        = "CLOSED_TP"
	OcoStatusClosedSL        = "CLOSED_SL"
	OcoStatusCanceledBySignal = "CANCELED_BY_SIGNAL"
	OcoStatusFailed          = "FAILED"
)

// OcoLink mirrors the oco_links table (spec section 3).
type OcoLink struct {
	ID           int64
	SignalID     string
	Symbol       string
	BaseAsset    string
	TPOrderID    string
	SLOrderID    string
	TPPrice      decimal.Decimal
	SLStopPrice  decimal.Decimal
	SLLimitPrice decimal.Decimal
	Amount       decimal.Decimal
	Status       string
	CreatedAt    string
	UpdatedAt    string
}

// Trade mirrors the trades table.
type Trade struct {
	SignalID   string
	Symbol     string
	Qty        decimal.Decimal
	QuoteIn    decimal.Decimal
	EntryPrice decimal.Decimal
	OpenedAt   string
	ExitPrice  *decimal.Decimal
	ClosedAt   *string
	Outcome    *string
	PnLQuote   *decimal.Decimal
	PnLPct     *decimal.Decimal
}

// Position mirrors the legacy-compatible positions table (consulted by the
// Startup Reconciler).
type Position struct {
	ID         int64
	Symbol     string
	Side       string
	Size       float64
	EntryPrice float64
	Status     string
	OpenedAt   string
	ClosedAt   *string
	PnL        *float64
}

// AuditEntry mirrors one row of the append-only audit_log table.
type AuditEntry struct {
	ID        int64
	EventType string
	Message   string
	CreatedAt string
}

// TradeStats is the aggregate reported by get_trade_stats / the CLI reporter.
type TradeStats struct {
	ClosedTrades  int64
	Wins          int64
	Losses        int64
	WinratePct    float64
	PnLQuoteSum   decimal.Decimal
	QuoteInSum    decimal.Decimal
	ROIPct        float64
	GrossProfit   decimal.Decimal
	GrossLoss     decimal.Decimal
	ProfitFactor  float64
}
