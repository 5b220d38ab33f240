package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS system_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	status TEXT NOT NULL DEFAULT 'RUNNING',
	startup_sync_ok INTEGER NOT NULL DEFAULT 0,
	kill_switch INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS executed_signals (
	signal_id TEXT PRIMARY KEY,
	signal_hash TEXT,
	action TEXT,
	symbol TEXT,
	executed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS oco_links (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	signal_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	base_asset TEXT NOT NULL,
	tp_order_id TEXT NOT NULL,
	sl_order_id TEXT NOT NULL,
	tp_price TEXT NOT NULL,
	sl_stop_price TEXT NOT NULL,
	sl_limit_price TEXT NOT NULL,
	amount TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'ACTIVE',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_oco_links_symbol_status ON oco_links(symbol, status);

CREATE TABLE IF NOT EXISTS trades (
	signal_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	qty TEXT NOT NULL,
	quote_in TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	opened_at TEXT NOT NULL,
	exit_price TEXT,
	closed_at TEXT,
	outcome TEXT,
	pnl_quote TEXT,
	pnl_pct TEXT
);

CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	size REAL NOT NULL,
	entry_price REAL NOT NULL,
	status TEXT NOT NULL DEFAULT 'OPEN',
	opened_at TEXT NOT NULL,
	closed_at TEXT,
	pnl REAL
);

INSERT OR IGNORE INTO system_state (id, status, startup_sync_ok, kill_switch, updated_at)
VALUES (1, 'RUNNING', 0, 1, strftime('%Y-%m-%dT%H:%M:%fZ','now'));
`
