package core_test

import (
	"context"
	"testing"
	"time"

	"flowdistributor/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketStatement(t *testing.T) {
	day := func(n int) time.Time { return time.Date(2025, 1, n, 12, 0, 0, 0, time.UTC) }
	entries := []core.Transaction{
		{ID: "e1", Type: core.EntryIncome, Amount: d("100"), CreatedAt: day(1),
			Breakdown: []core.BreakdownLine{{Target: "azteca", Amount: d("100")}}},
		{ID: "e2", Type: core.EntryIncome, Amount: d("5"), CreatedAt: day(2),
			Breakdown: []core.BreakdownLine{{Target: "leftie", Amount: d("5")}}},
		{ID: "e3", Type: core.EntryTransfer, Amount: d("40"), SourceBucket: "azteca", CreatedAt: day(3),
			Breakdown: []core.BreakdownLine{{Target: "leftie", Amount: d("40")}}},
		{ID: "e4", Type: core.EntryExpense, Amount: d("10"), SourceBucket: "azteca", CreatedAt: day(4),
			Breakdown: []core.BreakdownLine{{Target: core.ExternalTarget, Amount: d("10")}}},
	}

	lines := core.BucketStatement(entries, "azteca", time.Time{}, time.Time{})
	require.Len(t, lines, 3)
	assert.Equal(t, "100.00", lines[0].RunningBalance.StringFixed(2))
	assert.Equal(t, "40.00", lines[1].Out.StringFixed(2))
	assert.Equal(t, "50.00", lines[2].RunningBalance.StringFixed(2))

	windowed := core.BucketStatement(entries, "azteca", day(3), day(3))
	require.Len(t, windowed, 1)
	assert.Equal(t, "e3", windowed[0].EntryID)
	assert.Equal(t, "60.00", windowed[0].RunningBalance.StringFixed(2))
}

func TestLedger_Summary(t *testing.T) {
	ctx := context.Background()
	l, _ := setupLedger(t)

	_, err := l.CreateSale(ctx, thousandPesoSale("Juan"))
	require.NoError(t, err)
	_, err = l.RecordIncome(ctx, core.IncomeInput{BucketID: "azteca", Amount: d("500")})
	require.NoError(t, err)
	_, err = l.CreatePurchaseOrder(ctx, core.PurchaseOrderInput{
		DistributorName: "Norte",
		Lines:           []core.LineInput{{Quantity: d("2"), UnitCost: d("100")}},
		InitialPayment:  d("50"),
		SourceBucket:    "azteca",
	})
	require.NoError(t, err)

	s, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "450.00", s.Cash.StringFixed(2))
	assert.Equal(t, "50.00", s.Stock.StringFixed(2))
	assert.Equal(t, "1000.00", s.Receivable.StringFixed(2))
	assert.Equal(t, "150.00", s.Payable.StringFixed(2))
	assert.Equal(t, 1, s.OpenSales)
	assert.Equal(t, 1, s.OpenPurchaseOrders)

	lines, err := l.BucketStatement(ctx, "azteca", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "450.00", lines[1].RunningBalance.StringFixed(2))

	_, err = l.BucketStatement(ctx, "nowhere", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, core.ErrNotFound)

	assertReconciled(t, l)
}
