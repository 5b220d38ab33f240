// Package store implements the Persistent Store (spec section 4.A): the
// SQL-backed system of record for system state, the audit log, idempotency,
// OCO linkage, and trade bookkeeping. It assumes a single writer per
// process, the way the teacher's engine-state store does, and relies on
// SQLite's WAL journal mode plus short serializable transactions so a crash
// mid-write can never corrupt system_state — the table every other gate
// reads first.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store owns the single SQLite connection for this process.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the database at path, applies the
// schema, and switches on WAL journaling.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer-per-process assumption (spec 4.A)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// ---------------- SYSTEM STATE ----------------

// GetSystemState returns the singleton row. A read error here is surfaced
// directly to the caller, which the Kill-Switch Oracle and idempotency check
// interpret as fail-closed (spec 4.A, 4.C).
func (s *Store) GetSystemState() (SystemState, error) {
	var st SystemState
	var killSwitch, syncOK int
	err := s.db.QueryRow(
		`SELECT status, startup_sync_ok, kill_switch, updated_at FROM system_state WHERE id = 1`,
	).Scan(&st.Status, &syncOK, &killSwitch, &st.UpdatedAt)
	if err != nil {
		return SystemState{}, fmt.Errorf("store: get_system_state: %w", err)
	}
	st.StartupSyncOK = syncOK != 0
	st.KillSwitch = killSwitch != 0
	return st, nil
}

// UpdateSystemState applies a partial update. nil pointers leave the
// corresponding column untouched.
func (s *Store) UpdateSystemState(status *string, startupSyncOK, killSwitch *bool) error {
	set := []string{}
	args := []any{}

	if status != nil {
		set = append(set, "status = ?")
		args = append(args, *status)
	}
	if startupSyncOK != nil {
		set = append(set, "startup_sync_ok = ?")
		args = append(args, boolToInt(*startupSyncOK))
	}
	if killSwitch != nil {
		set = append(set, "kill_switch = ?")
		args = append(args, boolToInt(*killSwitch))
	}
	set = append(set, "updated_at = ?")
	args = append(args, nowISO())

	query := "UPDATE system_state SET "
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE id = 1"

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: update_system_state: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---------------- AUDIT LOG ----------------

// LogEvent appends an immutable audit row.
func (s *Store) LogEvent(eventType, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (event_type, message, created_at) VALUES (?, ?, ?)`,
		eventType, message, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: log_event: %w", err)
	}
	return nil
}

// ListAuditLog returns the most recent limit audit_log rows, oldest first,
// for operator review and test assertions.
func (s *Store) ListAuditLog(limit int) ([]AuditEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, event_type, message, created_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list_audit_log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: list_audit_log: scanning row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ---------------- EXECUTED SIGNALS (IDEMPOTENCY) ----------------

// SignalIDAlreadyExecuted is the idempotency check that must strictly
// precede any wire call (spec 5).
func (s *Store) SignalIDAlreadyExecuted(signalID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM executed_signals WHERE signal_id = ? LIMIT 1`, signalID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: signal_id_already_executed: %w", err)
	}
	return true, nil
}

// MarkSignalIDExecuted is insert-if-absent: the commit point of "this signal
// has been handled" (spec 3, ExecutedSignal invariant).
func (s *Store) MarkSignalIDExecuted(signalID, signalHash, action, symbol string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO executed_signals (signal_id, signal_hash, action, symbol, executed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		signalID, signalHash, action, symbol, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: mark_signal_id_executed: %w", err)
	}
	return nil
}

// ---------------- OCO LINKS ----------------

// CreateOcoLink inserts a new ACTIVE link. Only the Execution Controller
// calls this (spec 3, Ownership).
func (s *Store) CreateOcoLink(l OcoLink) (int64, error) {
	now := nowISO()
	res, err := s.db.Exec(
		`INSERT INTO oco_links
		 (signal_id, symbol, base_asset, tp_order_id, sl_order_id, tp_price, sl_stop_price, sl_limit_price, amount, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'ACTIVE', ?, ?)`,
		l.SignalID, l.Symbol, l.BaseAsset, l.TPOrderID, l.SLOrderID,
		l.TPPrice.String(), l.SLStopPrice.String(), l.SLLimitPrice.String(), l.Amount.String(),
		now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create_oco_link: %w", err)
	}
	return res.LastInsertId()
}

// SetOcoStatus transitions a link's status. The OCO Reconciler and the
// Execution Controller's SELL handler call this for transitions away from
// ACTIVE.
func (s *Store) SetOcoStatus(id int64, status string) error {
	_, err := s.db.Exec(
		`UPDATE oco_links SET status = ?, updated_at = ? WHERE id = ?`,
		status, nowISO(), id,
	)
	if err != nil {
		return fmt.Errorf("store: set_oco_status: %w", err)
	}
	return nil
}

// ListActiveOcoLinks returns up to limit ACTIVE links, most recent first,
// for the reconciler's bounded sweep (spec 4.H).
func (s *Store) ListActiveOcoLinks(limit int) ([]OcoLink, error) {
	rows, err := s.db.Query(
		`SELECT id, signal_id, symbol, base_asset, tp_order_id, sl_order_id, tp_price, sl_stop_price, sl_limit_price, amount, status, created_at, updated_at
		 FROM oco_links WHERE status = 'ACTIVE' ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list_active_oco_links: %w", err)
	}
	defer rows.Close()

	var out []OcoLink
	for rows.Next() {
		var l OcoLink
		var tp, sl, slLimit, amount string
		if err := rows.Scan(&l.ID, &l.SignalID, &l.Symbol, &l.BaseAsset, &l.TPOrderID, &l.SLOrderID,
			&tp, &sl, &slLimit, &amount, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: list_active_oco_links: scanning row: %w", err)
		}
		l.TPPrice = mustDecimal(tp)
		l.SLStopPrice = mustDecimal(sl)
		l.SLLimitPrice = mustDecimal(slLimit)
		l.Amount = mustDecimal(amount)
		out = append(out, l)
	}
	return out, rows.Err()
}

// HasActiveOcoForSymbol is the race-condition guard the controller checks
// before every entry (spec 4.G step 4a), case-insensitive.
func (s *Store) HasActiveOcoForSymbol(symbol string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM oco_links WHERE status = 'ACTIVE' AND UPPER(symbol) = UPPER(?) LIMIT 1`,
		symbol,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: has_active_oco_for_symbol: %w", err)
	}
	return true, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ---------------- TRADES ----------------

// OpenTrade records the entry side of a trade. Insert-or-replace matches the
// original source: a signal_id should only ever have one open trade.
func (s *Store) OpenTrade(signalID, symbol string, qty, quoteIn, entryPrice decimal.Decimal) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO trades (signal_id, symbol, qty, quote_in, entry_price, opened_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		signalID, symbol, qty.String(), quoteIn.String(), entryPrice.String(), nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: open_trade: %w", err)
	}
	return nil
}

// GetTrade looks up a single trade row by signal id, used by the OCO
// Reconciler to compute realized PnL on leg closure.
func (s *Store) GetTrade(signalID string) (*Trade, error) {
	var t Trade
	var qty, quoteIn, entryPrice string
	var exitPrice, closedAt, outcome, pnlQuote, pnlPct sql.NullString

	err := s.db.QueryRow(
		`SELECT signal_id, symbol, qty, quote_in, entry_price, opened_at, exit_price, closed_at, outcome, pnl_quote, pnl_pct
		 FROM trades WHERE signal_id = ? LIMIT 1`,
		signalID,
	).Scan(&t.SignalID, &t.Symbol, &qty, &quoteIn, &entryPrice, &t.OpenedAt,
		&exitPrice, &closedAt, &outcome, &pnlQuote, &pnlPct)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_trade: %w", err)
	}

	t.Qty = mustDecimal(qty)
	t.QuoteIn = mustDecimal(quoteIn)
	t.EntryPrice = mustDecimal(entryPrice)
	if exitPrice.Valid {
		d := mustDecimal(exitPrice.String)
		t.ExitPrice = &d
	}
	if closedAt.Valid {
		t.ClosedAt = &closedAt.String
	}
	if outcome.Valid {
		t.Outcome = &outcome.String
	}
	if pnlQuote.Valid {
		d := mustDecimal(pnlQuote.String)
		t.PnLQuote = &d
	}
	if pnlPct.Valid {
		d := mustDecimal(pnlPct.String)
		t.PnLPct = &d
	}

	return &t, nil
}

// CloseTrade records the exit side. pnlPct must already satisfy
// pnl_pct = pnl_quote / quote_in * 100 (spec 8, invariant 4) — callers derive
// it via ComputePnLPct rather than passing an independent value.
func (s *Store) CloseTrade(signalID string, exitPrice decimal.Decimal, outcome string, pnlQuote, pnlPct decimal.Decimal) error {
	_, err := s.db.Exec(
		`UPDATE trades SET exit_price = ?, closed_at = ?, outcome = ?, pnl_quote = ?, pnl_pct = ? WHERE signal_id = ?`,
		exitPrice.String(), nowISO(), outcome, pnlQuote.String(), pnlPct.String(), signalID,
	)
	if err != nil {
		return fmt.Errorf("store: close_trade: %w", err)
	}
	return nil
}

// ComputePnLPct enforces the invariant pnl_pct = pnl_quote / quote_in * 100.
func ComputePnLPct(pnlQuote, quoteIn decimal.Decimal) decimal.Decimal {
	if quoteIn.IsZero() {
		return decimal.Zero
	}
	return pnlQuote.Div(quoteIn).Mul(decimal.NewFromInt(100))
}

// GetTradeStats aggregates closed trades for the CLI reporter.
func (s *Store) GetTradeStats() (TradeStats, error) {
	var stats TradeStats
	var n sql.NullInt64
	var pnlSum, quoteSum sql.NullString

	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CAST(pnl_quote AS REAL)), 0), COALESCE(SUM(CAST(quote_in AS REAL)), 0)
		 FROM trades WHERE closed_at IS NOT NULL`,
	).Scan(&n, &pnlSum, &quoteSum)
	if err != nil {
		return stats, fmt.Errorf("store: get_trade_stats: %w", err)
	}
	stats.ClosedTrades = n.Int64
	stats.PnLQuoteSum = mustDecimal(pnlSum.String)
	stats.QuoteInSum = mustDecimal(quoteSum.String)

	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM trades WHERE closed_at IS NOT NULL AND CAST(pnl_quote AS REAL) > 0`,
	).Scan(&stats.Wins); err != nil {
		return stats, fmt.Errorf("store: get_trade_stats wins: %w", err)
	}
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM trades WHERE closed_at IS NOT NULL AND CAST(pnl_quote AS REAL) < 0`,
	).Scan(&stats.Losses); err != nil {
		return stats, fmt.Errorf("store: get_trade_stats losses: %w", err)
	}

	var grossProfit, grossLoss sql.NullString
	if err := s.db.QueryRow(
		`SELECT COALESCE(SUM(CAST(pnl_quote AS REAL)), 0) FROM trades WHERE closed_at IS NOT NULL AND CAST(pnl_quote AS REAL) > 0`,
	).Scan(&grossProfit); err != nil {
		return stats, fmt.Errorf("store: get_trade_stats gross_profit: %w", err)
	}
	if err := s.db.QueryRow(
		`SELECT COALESCE(ABS(SUM(CAST(pnl_quote AS REAL))), 0) FROM trades WHERE closed_at IS NOT NULL AND CAST(pnl_quote AS REAL) < 0`,
	).Scan(&grossLoss); err != nil {
		return stats, fmt.Errorf("store: get_trade_stats gross_loss: %w", err)
	}
	stats.GrossProfit = mustDecimal(grossProfit.String)
	stats.GrossLoss = mustDecimal(grossLoss.String)

	if !stats.QuoteInSum.IsZero() {
		stats.ROIPct, _ = stats.PnLQuoteSum.Div(stats.QuoteInSum).Mul(decimal.NewFromInt(100)).Float64()
	}
	if stats.ClosedTrades > 0 {
		stats.WinratePct = float64(stats.Wins) / float64(stats.ClosedTrades) * 100.0
	}
	if !stats.GrossLoss.IsZero() {
		stats.ProfitFactor, _ = stats.GrossProfit.Div(stats.GrossLoss).Float64()
	} else if stats.GrossProfit.IsPositive() {
		stats.ProfitFactor = -1 // reporter renders this as "inf"
	}

	return stats, nil
}

// ---------------- POSITIONS (legacy-compatible, read by Startup Reconciler) ----------------

// GetOpenPositions returns every OPEN position row.
func (s *Store) GetOpenPositions() ([]Position, error) {
	rows, err := s.db.Query(`SELECT id, symbol, side, size, entry_price, status, opened_at, closed_at, pnl FROM positions WHERE status = 'OPEN'`)
	if err != nil {
		return nil, fmt.Errorf("store: get_open_positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// GetLatestOpenPosition returns the most recent OPEN position for symbol, if any.
func (s *Store) GetLatestOpenPosition(symbol string) (*Position, error) {
	row := s.db.QueryRow(
		`SELECT id, symbol, side, size, entry_price, status, opened_at, closed_at, pnl
		 FROM positions WHERE status = 'OPEN' AND symbol = ? ORDER BY id DESC LIMIT 1`,
		symbol,
	)
	var p Position
	var closedAt sql.NullString
	var pnl sql.NullFloat64
	err := row.Scan(&p.ID, &p.Symbol, &p.Side, &p.Size, &p.EntryPrice, &p.Status, &p.OpenedAt, &closedAt, &pnl)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_latest_open_position: %w", err)
	}
	if closedAt.Valid {
		p.ClosedAt = &closedAt.String
	}
	if pnl.Valid {
		p.PnL = &pnl.Float64
	}
	return &p, nil
}

// OpenPosition inserts a new OPEN position row.
func (s *Store) OpenPosition(symbol, side string, size, entryPrice float64) error {
	_, err := s.db.Exec(
		`INSERT INTO positions (symbol, side, size, entry_price, status, opened_at) VALUES (?, ?, ?, ?, 'OPEN', ?)`,
		symbol, side, size, entryPrice, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("store: open_position: %w", err)
	}
	return nil
}

// ClosePosition marks a position CLOSED with the realized PnL.
func (s *Store) ClosePosition(id int64, closePrice, pnl float64) error {
	_, err := s.db.Exec(
		`UPDATE positions SET status = 'CLOSED', closed_at = ?, pnl = ? WHERE id = ?`,
		nowISO(), pnl, id,
	)
	if err != nil {
		return fmt.Errorf("store: close_position: %w", err)
	}
	return nil
}

func scanPositions(rows *sql.Rows) ([]Position, error) {
	var out []Position
	for rows.Next() {
		var p Position
		var closedAt sql.NullString
		var pnl sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Side, &p.Size, &p.EntryPrice, &p.Status, &p.OpenedAt, &closedAt, &pnl); err != nil {
			return nil, fmt.Errorf("store: scanning position row: %w", err)
		}
		if closedAt.Valid {
			p.ClosedAt = &closedAt.String
		}
		if pnl.Valid {
			p.PnL = &pnl.Float64
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
