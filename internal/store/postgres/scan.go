package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"flowdistributor/internal/core"

	"github.com/jackc/pgx/v5"
)

const bucketColumns = `id, name, kind, capital, historic_capital, total_expenses, transfers_out, transfers_in, version, updated_at`

const recordColumns = `r.id, r.kind, r.number, r.party_id, p.name, r.total, r.paid_to_date, r.bases, r.lines, r.notes, r.version, r.created_at, r.updated_at`

const partyColumns = `id, kind, name, contact, phone, email, created_at`

func getBucket(ctx context.Context, q pgxQuerier, id string) (core.Bucket, error) {
	b, err := scanBucket(q.QueryRow(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Bucket{}, fmt.Errorf("%w: bucket %s", core.ErrNotFound, id)
	}
	return b, err
}

func scanBucket(row pgx.Row) (core.Bucket, error) {
	var (
		b    core.Bucket
		kind string
	)
	err := row.Scan(&b.ID, &b.Name, &kind, &b.Capital, &b.HistoricCapital, &b.TotalExpenses,
		&b.TransfersOut, &b.TransfersIn, &b.Version, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Bucket{}, err
		}
		return core.Bucket{}, fmt.Errorf("failed to scan bucket: %w", err)
	}
	b.Kind = core.BucketKind(kind)
	return b, nil
}

func getRecord(ctx context.Context, q pgxQuerier, id string) (core.Record, error) {
	r, err := scanRecord(q.QueryRow(ctx, `SELECT `+recordColumns+` FROM records r JOIN parties p ON p.id = r.party_id WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Record{}, fmt.Errorf("%w: record %s", core.ErrNotFound, id)
	}
	return r, err
}

func queryRecords(ctx context.Context, q pgxQuerier, query string, args ...any) ([]core.Record, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanRecord reads a record and re-derives its status from the stored amounts.
func scanRecord(row pgx.Row) (core.Record, error) {
	var (
		r            core.Record
		kind         string
		bases, lines []byte
	)
	err := row.Scan(&r.ID, &kind, &r.Number, &r.PartyID, &r.PartyName, &r.Total, &r.PaidToDate,
		&bases, &lines, &r.Notes, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Record{}, err
		}
		return core.Record{}, fmt.Errorf("failed to scan record: %w", err)
	}
	r.Kind = core.RecordKind(kind)
	if err := json.Unmarshal(bases, &r.Bases); err != nil {
		return core.Record{}, fmt.Errorf("failed to decode bases of record %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(lines, &r.Lines); err != nil {
		return core.Record{}, fmt.Errorf("failed to decode lines of record %s: %w", r.ID, err)
	}
	r.Status = core.DeriveStatus(r.PaidToDate, r.Total)
	return r, nil
}

// scanParty scans one party; ref names it in the not-found error.
func scanParty(row pgx.Row, ref string) (core.Party, error) {
	var (
		p    core.Party
		kind string
	)
	if err := row.Scan(&p.ID, &kind, &p.Name, &p.Contact, &p.Phone, &p.Email, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Party{}, fmt.Errorf("%w: party %s", core.ErrNotFound, ref)
		}
		return core.Party{}, fmt.Errorf("failed to scan party: %w", err)
	}
	p.Kind = core.PartyKind(kind)
	return p, nil
}
