package sqlite

import (
	"context"
	"testing"
	"time"

	"flowdistributor/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureBucket(context.Background(), core.Bucket{ID: "azteca", Name: "Azteca", Kind: core.BucketKindAccount}))
	return s
}

func TestEnsureBucket_KeepsExistingBalances(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		b, err := tx.GetBucket(ctx, "azteca")
		if err != nil {
			return err
		}
		b.Capital = decimal.RequireFromString("42.10")
		return tx.UpdateBucket(ctx, b)
	})
	require.NoError(t, err)

	require.NoError(t, s.EnsureBucket(ctx, core.Bucket{ID: "azteca", Name: "Azteca", Kind: core.BucketKindAccount}))
	b, err := s.GetBucket(ctx, "azteca")
	require.NoError(t, err)
	assert.Equal(t, "42.10", b.Capital.StringFixed(2))
	assert.Equal(t, int64(2), b.Version)
}

func TestUpdateBucket_StaleVersion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	stale, err := s.GetBucket(ctx, "azteca")
	require.NoError(t, err)

	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		return tx.UpdateBucket(ctx, stale)
	}))

	err = s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		stale.Capital = decimal.NewFromInt(1)
		return tx.UpdateBucket(ctx, stale)
	})
	assert.ErrorIs(t, err, core.ErrConcurrentModification)

	b, err := s.GetBucket(ctx, "azteca")
	require.NoError(t, err)
	assert.True(t, b.Capital.IsZero())
}

func TestClaimIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	claim := func(key string) error {
		return s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
			return tx.ClaimIdempotencyKey(ctx, key, "income")
		})
	}
	require.NoError(t, claim("k1"))
	assert.ErrorIs(t, claim("k1"), core.ErrDuplicateTransaction)
	assert.NoError(t, claim("k2"))
}

func TestRunAtomic_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		if err := tx.ClaimIdempotencyKey(ctx, "k1", "income"); err != nil {
			return err
		}
		return core.ErrInsufficientFunds
	})
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	err = s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		return tx.ClaimIdempotencyKey(ctx, "k1", "income")
	})
	assert.NoError(t, err)
}

func TestRecordsAndParties(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	p := core.Party{ID: "p1", Kind: core.PartyClient, Name: "Juan Pérez", CreatedAt: now}
	rec := core.Record{
		ID: "r1", Kind: core.RecordKindSale, Number: "V-R1", PartyID: "p1",
		Total:      decimal.RequireFromString("1000"),
		PaidToDate: decimal.Zero,
		Bases: []core.BaseShare{
			{BucketID: "fletes", Amount: decimal.RequireFromString("100")},
			{BucketID: "boveda_monte", Amount: decimal.RequireFromString("900")},
		},
		Status: core.StatusPending, Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		if err := tx.InsertParty(ctx, p); err != nil {
			return err
		}
		return tx.InsertRecord(ctx, rec)
	}))

	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		found, err := tx.FindParty(ctx, core.PartyClient, "  JUAN PÉREZ ")
		if err != nil {
			return err
		}
		assert.Equal(t, "p1", found.ID)

		_, err = tx.FindParty(ctx, core.PartyDistributor, "Juan Pérez")
		assert.ErrorIs(t, err, core.ErrNotFound)

		open, err := tx.ListOpenRecords(ctx, core.RecordKindSale, "p1")
		if err != nil {
			return err
		}
		require.Len(t, open, 1)

		r := open[0]
		r.PaidToDate = decimal.RequireFromString("400")
		r.Status = core.DeriveStatus(r.PaidToDate, r.Total)
		return tx.UpdateRecord(ctx, r)
	}))

	got, err := s.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Juan Pérez", got.PartyName)
	assert.Equal(t, core.StatusPartial, got.Status)
	assert.Equal(t, int64(2), got.Version)
	require.Len(t, got.Bases, 2)
	assert.Equal(t, "900.00", got.Bases[1].Amount.StringFixed(2))
	assert.Equal(t, now, got.CreatedAt)

	recs, err := s.ListRecords(ctx, core.RecordFilter{Status: core.StatusPaid})
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = s.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetParty(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestNextRecordNumber(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	next := func(kind core.RecordKind, fail bool) (int64, error) {
		var seq int64
		err := s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
			var err error
			if seq, err = tx.NextRecordNumber(ctx, kind); err != nil {
				return err
			}
			if fail {
				return core.ErrOverpayment
			}
			return nil
		})
		return seq, err
	}

	seq, err := next(core.RecordKindSale, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, seq)

	_, err = next(core.RecordKindSale, true)
	require.ErrorIs(t, err, core.ErrOverpayment)

	seq, err = next(core.RecordKindSale, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, seq, "a rolled-back unit gives its number back")

	seq, err = next(core.RecordKindPurchaseOrder, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, seq)
}

func TestRunAtomic_UniqueConflictsAreRetryable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	rec := core.Record{
		ID: "r1", Kind: core.RecordKindSale, Number: "V-000001", PartyID: "p1",
		Total:      decimal.RequireFromString("100"),
		PaidToDate: decimal.Zero,
		Bases:      []core.BaseShare{{BucketID: "azteca", Amount: decimal.RequireFromString("100")}},
		Status:     core.StatusPending, Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		if err := tx.InsertParty(ctx, core.Party{ID: "p1", Kind: core.PartyClient, Name: "Juan", CreatedAt: now}); err != nil {
			return err
		}
		return tx.InsertRecord(ctx, rec)
	}))

	err := s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		return tx.InsertParty(ctx, core.Party{ID: "p2", Kind: core.PartyClient, Name: " JUAN", CreatedAt: now})
	})
	assert.ErrorIs(t, err, core.ErrConcurrentModification)

	dup := rec
	dup.ID = "r2"
	err = s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		return tx.InsertRecord(ctx, dup)
	})
	assert.ErrorIs(t, err, core.ErrConcurrentModification)

	// The same name as a distributor is a different party.
	assert.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		return tx.InsertParty(ctx, core.Party{ID: "p3", Kind: core.PartyDistributor, Name: "Juan", CreatedAt: now})
	}))
}
