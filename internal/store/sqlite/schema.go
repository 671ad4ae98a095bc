package sqlite

// Migrations returns the schema statements. Each string is a single statement
// (SQLite executes one at a time). Money is stored as TEXT so decimals round-trip exactly.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS buckets (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			kind             TEXT NOT NULL CHECK (kind IN ('account', 'fund')),
			capital          TEXT NOT NULL DEFAULT '0',
			historic_capital TEXT NOT NULL DEFAULT '0',
			total_expenses   TEXT NOT NULL DEFAULT '0',
			transfers_out    TEXT NOT NULL DEFAULT '0',
			transfers_in     TEXT NOT NULL DEFAULT '0',
			version          INTEGER NOT NULL DEFAULT 1,
			updated_at       TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS parties (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL CHECK (kind IN ('client', 'distributor')),
			name       TEXT NOT NULL,
			name_key   TEXT NOT NULL,
			contact    TEXT NOT NULL DEFAULT '',
			phone      TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE (kind, name_key)
		)`,

		`CREATE TABLE IF NOT EXISTS records (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL CHECK (kind IN ('sale', 'purchase_order')),
			number       TEXT NOT NULL UNIQUE,
			party_id     TEXT NOT NULL REFERENCES parties(id),
			total        TEXT NOT NULL,
			paid_to_date TEXT NOT NULL DEFAULT '0',
			bases        TEXT NOT NULL,
			lines        TEXT NOT NULL DEFAULT '[]',
			status       TEXT NOT NULL,
			notes        TEXT NOT NULL DEFAULT '',
			version      INTEGER NOT NULL DEFAULT 1,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_party ON records(party_id, status)`,

		`CREATE TABLE IF NOT EXISTS entries (
			id              TEXT PRIMARY KEY,
			idempotency_key TEXT NOT NULL,
			type            TEXT NOT NULL,
			amount          TEXT NOT NULL,
			source_bucket   TEXT REFERENCES buckets(id),
			record_id       TEXT REFERENCES records(id),
			breakdown       TEXT NOT NULL,
			note            TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_record ON entries(record_id)`,

		`CREATE TABLE IF NOT EXISTS record_sequences (
			kind       TEXT PRIMARY KEY,
			last_value INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key        TEXT PRIMARY KEY,
			operation  TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
}
