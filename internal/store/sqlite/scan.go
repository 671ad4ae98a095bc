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

	"github.com/shopspring/decimal"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const bucketColumns = `id, name, kind, capital, historic_capital, total_expenses, transfers_out, transfers_in, version, updated_at`

const recordColumns = `r.id, r.kind, r.number, r.party_id, p.name, r.total, r.paid_to_date, r.bases, r.lines, r.notes, r.version, r.created_at, r.updated_at`

const partyColumns = `id, kind, name, contact, phone, email, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func getBucket(ctx context.Context, q sqlQuerier, id string) (core.Bucket, error) {
	b, err := scanBucket(q.QueryRowContext(ctx, `SELECT `+bucketColumns+` FROM buckets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Bucket{}, fmt.Errorf("%w: bucket %s", core.ErrNotFound, id)
	}
	return b, err
}

func scanBucket(row rowScanner) (core.Bucket, error) {
	var (
		b                                    core.Bucket
		kind, updated                        string
		capital, historic, expenses, out, in string
	)
	if err := row.Scan(&b.ID, &b.Name, &kind, &capital, &historic, &expenses, &out, &in, &b.Version, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Bucket{}, err
		}
		return core.Bucket{}, fmt.Errorf("failed to scan bucket: %w", err)
	}
	b.Kind = core.BucketKind(kind)
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&b.Capital, capital},
		{&b.HistoricCapital, historic},
		{&b.TotalExpenses, expenses},
		{&b.TransfersOut, out},
		{&b.TransfersIn, in},
	} {
		if *f.dst, err = parseDecimal(f.src); err != nil {
			return core.Bucket{}, err
		}
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Bucket{}, err
	}
	return b, nil
}

func getRecord(ctx context.Context, q sqlQuerier, id string) (core.Record, error) {
	r, err := scanRecord(q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records r JOIN parties p ON p.id = r.party_id WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Record{}, fmt.Errorf("%w: record %s", core.ErrNotFound, id)
	}
	return r, err
}

func queryRecords(ctx context.Context, q sqlQuerier, query string, args ...any) ([]core.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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
func scanRecord(row rowScanner) (core.Record, error) {
	var (
		r                              core.Record
		kind, total, paid              string
		bases, lines, created, updated string
	)
	if err := row.Scan(&r.ID, &kind, &r.Number, &r.PartyID, &r.PartyName, &total, &paid, &bases, &lines,
		&r.Notes, &r.Version, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Record{}, err
		}
		return core.Record{}, fmt.Errorf("failed to scan record: %w", err)
	}
	r.Kind = core.RecordKind(kind)

	var err error
	if r.Total, err = parseDecimal(total); err != nil {
		return core.Record{}, err
	}
	if r.PaidToDate, err = parseDecimal(paid); err != nil {
		return core.Record{}, err
	}
	if err := json.Unmarshal([]byte(bases), &r.Bases); err != nil {
		return core.Record{}, fmt.Errorf("failed to decode bases of record %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(lines), &r.Lines); err != nil {
		return core.Record{}, fmt.Errorf("failed to decode lines of record %s: %w", r.ID, err)
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return core.Record{}, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Record{}, err
	}
	r.Status = core.DeriveStatus(r.PaidToDate, r.Total)
	return r, nil
}

// scanParty scans one party; ref names it in the not-found error.
func scanParty(row rowScanner, ref string) (core.Party, error) {
	var (
		p             core.Party
		kind, created string
	)
	if err := row.Scan(&p.ID, &kind, &p.Name, &p.Contact, &p.Phone, &p.Email, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Party{}, fmt.Errorf("%w: party %s", core.ErrNotFound, ref)
		}
		return core.Party{}, fmt.Errorf("failed to scan party: %w", err)
	}
	p.Kind = core.PartyKind(kind)
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return core.Party{}, err
	}
	return p, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored amount %q: %w", s, err)
	}
	return d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
