// Package postgres is the multi-user store. Concurrency is optimistic: rows are read
// without locks and written with "WHERE version = $n"; losing a race surfaces as
// core.ErrConcurrentModification and the ledger retries the unit.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"flowdistributor/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements core.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close is a no-op; the pool belongs to the caller.
func (s *Store) Close() error {
	return nil
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RunAtomic runs fn in one transaction, committed only if fn returns nil.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx core.StoreTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &storeTx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// mapError translates PostgreSQL error codes into ledger errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
		return fmt.Errorf("%w: %v", core.ErrConcurrentModification, err)
	case "23505": // unique_violation
		switch pgErr.ConstraintName {
		case "idempotency_keys_pkey":
			return fmt.Errorf("%w: %v", core.ErrDuplicateTransaction, err)
		case "parties_kind_name_key", "records_number_key":
			// Another unit created the same party or took the number first; a retry
			// resolves the party by name or draws the next number.
			return fmt.Errorf("%w: %v", core.ErrConcurrentModification, err)
		}
	case "23514": // check_violation
		if pgErr.ConstraintName == "buckets_account_capital_non_negative" {
			return fmt.Errorf("%w: %v", core.ErrInsufficientFunds, err)
		}
		if pgErr.ConstraintName == "records_paid_within_total" {
			return fmt.Errorf("%w: %v", core.ErrOverpayment, err)
		}
	}
	return err
}

// ── Reads ───────────────────────────────────────────────────────────────────

func (s *Store) ListBuckets(ctx context.Context) ([]core.Bucket, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+bucketColumns+` FROM buckets ORDER BY id`)
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
	return getBucket(ctx, s.pool, id)
}

func (s *Store) EnsureBucket(ctx context.Context, b core.Bucket) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO buckets (id, name, kind, capital, historic_capital, total_expenses, transfers_out, transfers_in)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, b.ID, b.Name, string(b.Kind), b.Capital, b.HistoricCapital, b.TotalExpenses, b.TransfersOut, b.TransfersIn)
	if err != nil {
		return fmt.Errorf("failed to ensure bucket %s: %w", b.ID, err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (core.Record, error) {
	return getRecord(ctx, s.pool, id)
}

func (s *Store) ListRecords(ctx context.Context, f core.RecordFilter) ([]core.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, fmt.Sprintf("r.kind = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if f.PartyID != "" {
		args = append(args, f.PartyID)
		where = append(where, fmt.Sprintf("r.party_id = $%d", len(args)))
	}
	query := `SELECT ` + recordColumns + ` FROM records r JOIN parties p ON p.id = r.party_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.created_at, r.number"
	return queryRecords(ctx, s.pool, query, args...)
}

func (s *Store) ListEntries(ctx context.Context, f core.EntryFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.RecordID != "" {
		args = append(args, f.RecordID)
		where = append(where, fmt.Sprintf("record_id = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.BucketID != "" {
		args = append(args, f.BucketID)
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(source_bucket = $%d OR breakdown @> jsonb_build_array(jsonb_build_object('target', $%d::text)))", n, n))
	}
	query := `SELECT id, idempotency_key, type, amount, COALESCE(source_bucket, ''), COALESCE(record_id, ''), breakdown, note, created_at FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t         core.Transaction
			typ       string
			breakdown []byte
		)
		if err := rows.Scan(&t.ID, &t.IdempotencyKey, &typ, &t.Amount, &t.SourceBucket, &t.RecordID, &breakdown, &t.Note, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		t.Type = core.EntryType(typ)
		if err := json.Unmarshal(breakdown, &t.Breakdown); err != nil {
			return nil, fmt.Errorf("failed to decode breakdown of entry %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetParty(ctx context.Context, id string) (core.Party, error) {
	return scanParty(s.pool.QueryRow(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = $1`, id), id)
}

func (s *Store) ListParties(ctx context.Context, kind core.PartyKind) ([]core.Party, error) {
	query := `SELECT ` + partyColumns + ` FROM parties`
	var args []any
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, string(kind))
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, args...)
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
	tx pgx.Tx
}

func (t *storeTx) ClaimIdempotencyKey(ctx context.Context, key, operation string) error {
	var claimed string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO idempotency_keys (key, operation) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
		RETURNING key
	`, key, operation).Scan(&claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: idempotency key %s already exists", core.ErrDuplicateTransaction, key)
		}
		return fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	return nil
}

func (t *storeTx) GetRecord(ctx context.Context, id string) (core.Record, error) {
	return getRecord(ctx, t.tx, id)
}

func (t *storeTx) ListOpenRecords(ctx context.Context, kind core.RecordKind, partyID string) ([]core.Record, error) {
	return queryRecords(ctx, t.tx, `SELECT `+recordColumns+` FROM records r JOIN parties p ON p.id = r.party_id
		WHERE r.kind = $1 AND r.party_id = $2 AND r.paid_to_date < r.total
		ORDER BY r.created_at, r.number`, string(kind), partyID)
}

func (t *storeTx) NextRecordNumber(ctx context.Context, kind core.RecordKind) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO record_sequences (kind, last_value) VALUES ($1, 1)
		ON CONFLICT (kind) DO UPDATE SET last_value = record_sequences.last_value + 1
		RETURNING last_value
	`, string(kind)).Scan(&seq)
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
	_, err = t.tx.Exec(ctx, `
		INSERT INTO records (id, kind, number, party_id, total, paid_to_date, bases, lines, status, notes, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.ID, string(r.Kind), r.Number, r.PartyID, r.Total, r.PaidToDate, string(bases), string(lines),
		string(r.Status), r.Notes, r.Version, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (t *storeTx) UpdateRecord(ctx context.Context, r core.Record) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE records SET paid_to_date = $1, status = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5
	`, r.PaidToDate, string(r.Status), r.UpdatedAt, r.ID, r.Version)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: record %s changed since version %d", core.ErrConcurrentModification, r.ID, r.Version)
	}
	return nil
}

func (t *storeTx) GetBucket(ctx context.Context, id string) (core.Bucket, error) {
	return getBucket(ctx, t.tx, id)
}

func (t *storeTx) UpdateBucket(ctx context.Context, b core.Bucket) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE buckets
		SET capital = $1, historic_capital = $2, total_expenses = $3, transfers_out = $4, transfers_in = $5,
		    version = version + 1, updated_at = now()
		WHERE id = $6 AND version = $7
	`, b.Capital, b.HistoricCapital, b.TotalExpenses, b.TransfersOut, b.TransfersIn, b.ID, b.Version)
	if err != nil {
		return fmt.Errorf("failed to update bucket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bucket %s changed since version %d", core.ErrConcurrentModification, b.ID, b.Version)
	}
	return nil
}

func (t *storeTx) GetParty(ctx context.Context, id string) (core.Party, error) {
	return scanParty(t.tx.QueryRow(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = $1`, id), id)
}

func (t *storeTx) FindParty(ctx context.Context, kind core.PartyKind, name string) (core.Party, error) {
	return scanParty(t.tx.QueryRow(ctx, `SELECT `+partyColumns+` FROM parties WHERE kind = $1 AND lower(btrim(name)) = lower(btrim($2))`,
		string(kind), name), name)
}

func (t *storeTx) InsertParty(ctx context.Context, p core.Party) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO parties (id, kind, name, contact, phone, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, string(p.Kind), p.Name, p.Contact, p.Phone, p.Email, p.CreatedAt)
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
	_, err = t.tx.Exec(ctx, `
		INSERT INTO entries (id, idempotency_key, type, amount, source_bucket, record_id, breakdown, note, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)
	`, e.ID, e.IdempotencyKey, string(e.Type), e.Amount, e.SourceBucket, e.RecordID, string(breakdown), e.Note, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}
