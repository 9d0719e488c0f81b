package ledger

// Schema is portable between SQLite and PostgreSQL. Times are stored as
// UTC unix nanoseconds.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS hedge_cycles (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	time_ns BIGINT NOT NULL,
	closed_ns BIGINT
)`,
	// At most one open cycle per company.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_hedge_cycles_open ON hedge_cycles(company_id) WHERE closed_ns IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_hedge_cycles_company ON hedge_cycles(company_id, time_ns)`,

	`CREATE TABLE IF NOT EXISTS hedge_requests (
	id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL REFERENCES hedge_cycles(id),
	company_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	account_type TEXT NOT NULL,
	pair TEXT NOT NULL,
	requested_amount DOUBLE PRECISION NOT NULL,
	filled_amount DOUBLE PRECISION,
	avg_price DOUBLE PRECISION,
	pnl_quote DOUBLE PRECISION,
	pnl_domestic DOUBLE PRECISION,
	commission DOUBLE PRECISION,
	commission_cntr DOUBLE PRECISION,
	status TEXT NOT NULL,
	UNIQUE (cycle_id, account_id, pair)
)`,
	`CREATE INDEX IF NOT EXISTS idx_hedge_requests_company ON hedge_requests(company_id, status)`,

	`CREATE TABLE IF NOT EXISTS hedge_orders (
	id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL REFERENCES hedge_cycles(id),
	account_type TEXT NOT NULL,
	pair TEXT NOT NULL,
	broker_account_id TEXT NOT NULL,
	unrounded_amount DOUBLE PRECISION NOT NULL,
	rounded_amount DOUBLE PRECISION NOT NULL,
	expected_cost DOUBLE PRECISION,
	ticket_ref TEXT NOT NULL DEFAULT '',
	submit_error TEXT NOT NULL DEFAULT '',
	filled_amount DOUBLE PRECISION,
	avg_price DOUBLE PRECISION,
	total_price DOUBLE PRECISION,
	commission DOUBLE PRECISION,
	cntr_commission DOUBLE PRECISION,
	state TEXT NOT NULL DEFAULT '',
	UNIQUE (cycle_id, account_type, pair)
)`,

	`CREATE TABLE IF NOT EXISTS snapshot_events (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	time_ns BIGINT NOT NULL,
	has_company_snapshot SMALLINT NOT NULL DEFAULT 0,
	has_account_snapshot SMALLINT NOT NULL DEFAULT 0,
	UNIQUE (company_id, time_ns)
)`,
	`CREATE TABLE IF NOT EXISTS snapshot_scopes (
	event_id TEXT NOT NULL REFERENCES snapshot_events(id),
	account_type TEXT NOT NULL,
	scope TEXT NOT NULL,
	PRIMARY KEY (event_id, account_type, scope)
)`,

	`CREATE TABLE IF NOT EXISTS fx_positions (
	event_id TEXT NOT NULL REFERENCES snapshot_events(id),
	account_id TEXT NOT NULL,
	account_type TEXT NOT NULL,
	pair TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	total_price DOUBLE PRECISION NOT NULL CHECK (total_price >= 0),
	PRIMARY KEY (event_id, account_id, pair)
)`,
	`CREATE TABLE IF NOT EXISTS company_fx_positions (
	event_id TEXT NOT NULL REFERENCES snapshot_events(id),
	broker_account_id TEXT NOT NULL,
	account_type TEXT NOT NULL,
	pair TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	total_price DOUBLE PRECISION NOT NULL CHECK (total_price >= 0),
	PRIMARY KEY (event_id, account_type, broker_account_id, pair)
)`,

	`CREATE TABLE IF NOT EXISTS reconciliation_records (
	event_id TEXT NOT NULL,
	cycle_id TEXT NOT NULL,
	account_type TEXT NOT NULL,
	pair TEXT NOT NULL,
	initial_amount DOUBLE PRECISION NOT NULL,
	final_amount DOUBLE PRECISION NOT NULL,
	desired_final_amount DOUBLE PRECISION NOT NULL,
	total_requested DOUBLE PRECISION NOT NULL,
	total_abs_requested DOUBLE PRECISION NOT NULL,
	total_abs_desired DOUBLE PRECISION NOT NULL,
	filled_amount DOUBLE PRECISION NOT NULL,
	excess DOUBLE PRECISION NOT NULL,
	unexplained_change DOUBLE PRECISION NOT NULL,
	commission DOUBLE PRECISION NOT NULL,
	cntr_commission DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (event_id, account_type, pair)
)`,

	`CREATE TABLE IF NOT EXISTS liquidity_adjustments (
	cycle_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	account_type TEXT NOT NULL,
	pair TEXT NOT NULL,
	exposure DOUBLE PRECISION NOT NULL,
	desired_before DOUBLE PRECISION NOT NULL,
	desired_after DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (cycle_id, account_id, pair)
)`,

	`CREATE TABLE IF NOT EXISTS cash_holdings (
	event_id TEXT NOT NULL,
	broker_account_id TEXT NOT NULL,
	currency TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (event_id, broker_account_id, currency)
)`,

	`CREATE TABLE IF NOT EXISTS hedge_pipelines (
	company_id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	updated_ns BIGINT NOT NULL
)`,
}
