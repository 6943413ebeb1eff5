// journal/schema.go
package journal

const Schema = `
CREATE TABLE IF NOT EXISTS liquidations (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	position_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	price TEXT NOT NULL,
	amount TEXT NOT NULL,
	remaining_margin TEXT NOT NULL,
	penalty_fee TEXT NOT NULL,
	margin_ratio TEXT NOT NULL,
	reason TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_liquidations_account ON liquidations(account_id, created_at);

CREATE TABLE IF NOT EXISTS postings (
	ref TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	currency TEXT NOT NULL,
	description TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_postings_account ON postings(account_id, created_at);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	account_id TEXT NOT NULL,
	total_margin TEXT NOT NULL,
	equity TEXT NOT NULL,
	used_margin TEXT NOT NULL,
	free_margin TEXT NOT NULL,
	margin_level TEXT NOT NULL,
	status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`
