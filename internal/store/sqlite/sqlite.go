// Package sqlite is the single-user store: one database file, one connection.
// It also backs the hermetic tests of the ledger (":memory:").
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowdistributor/internal/core"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store implements core.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// SQLite serialises writers anyway; one connection also keeps ":memory:" alive
	// and makes every RunAtomic a strict critical section.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	}
	if path != ":memory:" {
		pragmas = append(pragmas, `PRAGMA journal_mode = WAL`)
	}
	for _, p := range append(pragmas, Migrations()...) {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialise sqlite schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx, enabling shared query helpers.
type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RunAtomic runs fn in one transaction, committed only if fn returns nil.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx core.StoreTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &storeTx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// mapError turns SQLite lock contention, and unique violations on party names
// and record numbers, into ErrConcurrentModification.
func mapError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", core.ErrConcurrentModification, err)
		}
		if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE && retryableUnique(se.Error()) {
			return fmt.Errorf("%w: %v", core.ErrConcurrentModification, err)
		}
	}
	return err
}

// retryableUnique reports whether a unique violation was caused by another unit
// committing first. A retry then finds the party or takes the next number.
func retryableUnique(msg string) bool {
	return strings.Contains(msg, "parties.kind, parties.name_key") || strings.Contains(msg, "records.number")
}

// ── Reads ───────────────────────────────────────────────────────────────────

func (s *Store) ListBuckets(ctx context.Context) ([]core.Bucket, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bucketColumns+` FROM buckets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query buckets: %w", err)
	}
	defer rows.Close()

	var out []core.Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetBucket(ctx context.Context, id string) (core.Bucket, error) {
	return getBucket(ctx, s.db, id)
}

func (s *Store) EnsureBucket(ctx context.Context, b core.Bucket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO buckets (id, name, kind, capital, historic_capital, total_expenses, transfers_out, transfers_in, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (id) DO NOTHING`,
		b.ID, b.Name, string(b.Kind), b.Capital.String(), b.HistoricCapital.String(), b.TotalExpenses.String(),
		b.TransfersOut.String(), b.TransfersIn.String(), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to ensure bucket %s: %w", b.ID, err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (core.Record, error) {
	return getRecord(ctx, s.db, id)
}

func (s *Store) ListRecords(ctx context.Context, f core.RecordFilter) ([]core.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "r.kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, string(f.Status))
	}
	if f.PartyID != "" {
		where = append(where, "r.party_id = ?")
		args = append(args, f.PartyID)
	}
	query := `SELECT ` + recordColumns + ` FROM records r JOIN parties p ON p.id = r.party_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.created_at, r.number"
	return queryRecords(ctx, s.db, query, args...)
}

func (s *Store) ListEntries(ctx context.Context, f core.EntryFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.RecordID != "" {
		where = append(where, "e.record_id = ?")
		args = append(args, f.RecordID)
	}
	if f.Type != "" {
		where = append(where, "e.type = ?")
		args = append(args, string(f.Type))
	}
	if f.BucketID != "" {
		where = append(where, `(e.source_bucket = ? OR EXISTS (
			SELECT 1 FROM json_each(e.breakdown) WHERE json_extract(json_each.value, '$.target') = ?))`)
		args = append(args, f.BucketID, f.BucketID)
	}
	query := `SELECT e.id, e.idempotency_key, e.type, e.amount, e.source_bucket, e.record_id, e.breakdown, e.note, e.created_at FROM entries e`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.created_at, e.rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t                  core.Transaction
			typ, amount        string
			source, record     sql.NullString
			breakdown, created string
		)
		if err := rows.Scan(&t.ID, &t.IdempotencyKey, &typ, &amount, &source, &record, &breakdown, &t.Note, &created); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		t.Type = core.EntryType(typ)
		t.SourceBucket = source.String
		t.RecordID = record.String
		if t.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(breakdown), &t.Breakdown); err != nil {
			return nil, fmt.Errorf("failed to decode breakdown of entry %s: %w", t.ID, err)
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetParty(ctx context.Context, id string) (core.Party, error) {
	return scanParty(s.db.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = ?`, id), id)
}

func (s *Store) ListParties(ctx context.Context, kind core.PartyKind) ([]core.Party, error) {
	query := `SELECT ` + partyColumns + ` FROM parties`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query parties: %w", err)
	}
	defer rows.Close()

	var out []core.Party
	for rows.Next() {
		p, err := scanParty(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ── Transaction ─────────────────────────────────────────────────────────────

type storeTx struct {
	tx *sql.Tx
}

func (t *storeTx) ClaimIdempotencyKey(ctx context.Context, key, operation string) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, operation, created_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO NOTHING`, key, operation, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: idempotency key %s already exists", core.ErrDuplicateTransaction, key)
	}
	return nil
}

func (t *storeTx) GetRecord(ctx context.Context, id string) (core.Record, error) {
	return getRecord(ctx, t.tx, id)
}

func (t *storeTx) ListOpenRecords(ctx context.Context, kind core.RecordKind, partyID string) ([]core.Record, error) {
	return queryRecords(ctx, t.tx, `SELECT `+recordColumns+` FROM records r JOIN parties p ON p.id = r.party_id
		WHERE r.kind = ? AND r.party_id = ? AND r.status <> ?
		ORDER BY r.created_at, r.number`, string(kind), partyID, string(core.StatusPaid))
}

func (t *storeTx) NextRecordNumber(ctx context.Context, kind core.RecordKind) (int64, error) {
	var seq int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO record_sequences (kind, last_value) VALUES (?, 1)
		ON CONFLICT (kind) DO UPDATE SET last_value = last_value + 1
		RETURNING last_value`, string(kind)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance %s sequence: %w", kind, err)
	}
	return seq, nil
}

func (t *storeTx) InsertRecord(ctx context.Context, r core.Record) error {
	bases, err := json.Marshal(r.Bases)
	if err != nil {
		return fmt.Errorf("failed to encode bases: %w", err)
	}
	lines, err := json.Marshal(r.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode lines: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO records (id, kind, number, party_id, total, paid_to_date, bases, lines, status, notes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Kind), r.Number, r.PartyID, r.Total.String(), r.PaidToDate.String(), string(bases), string(lines),
		string(r.Status), r.Notes, r.Version, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (t *storeTx) UpdateRecord(ctx context.Context, r core.Record) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE records SET paid_to_date = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		r.PaidToDate.String(), string(r.Status), formatTime(r.UpdatedAt), r.ID, r.Version)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: record %s changed since version %d", core.ErrConcurrentModification, r.ID, r.Version)
	}
	return nil
}

func (t *storeTx) GetBucket(ctx context.Context, id string) (core.Bucket, error) {
	return getBucket(ctx, t.tx, id)
}

func (t *storeTx) UpdateBucket(ctx context.Context, b core.Bucket) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE buckets SET capital = ?, historic_capital = ?, total_expenses = ?, transfers_out = ?, transfers_in = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		b.Capital.String(), b.HistoricCapital.String(), b.TotalExpenses.String(), b.TransfersOut.String(), b.TransfersIn.String(),
		formatTime(time.Now()), b.ID, b.Version)
	if err != nil {
		return fmt.Errorf("failed to update bucket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: bucket %s changed since version %d", core.ErrConcurrentModification, b.ID, b.Version)
	}
	return nil
}

func (t *storeTx) GetParty(ctx context.Context, id string) (core.Party, error) {
	return scanParty(t.tx.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = ?`, id), id)
}

func (t *storeTx) FindParty(ctx context.Context, kind core.PartyKind, name string) (core.Party, error) {
	return scanParty(t.tx.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE kind = ? AND name_key = ?`,
		string(kind), nameKey(name)), name)
}

func (t *storeTx) InsertParty(ctx context.Context, p core.Party) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO parties (id, kind, name, name_key, contact, phone, email, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Kind), p.Name, nameKey(p.Name), p.Contact, p.Phone, p.Email, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert party: %w", err)
	}
	return nil
}

func (t *storeTx) InsertEntry(ctx context.Context, e core.Transaction) error {
	breakdown, err := json.Marshal(e.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode breakdown: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO entries (id, idempotency_key, type, amount, source_bucket, record_id, breakdown, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.IdempotencyKey, string(e.Type), e.Amount.String(), nullString(e.SourceBucket), nullString(e.RecordID),
		string(breakdown), e.Note, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}
