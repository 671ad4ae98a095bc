package core_test

import (
	"testing"
	"time"

	"flowdistributor/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSaleRecord(t *testing.T) {
	lines := []core.LineInput{
		{Product: "caja", Quantity: d("10"), UnitPrice: d("7000"), UnitCost: d("6000")},
		{Product: "caja especial", Quantity: d("2"), UnitPrice: d("9000"), UnitCost: d("7000"), UnitFreight: d("300")},
	}
	rec, err := core.BuildSaleRecord("0f8a2c3e-aaaa-bbbb-cccc-000000000000", "client-1", lines, core.DefaultSaleBuckets(), core.DefaultUnitFreight)
	require.NoError(t, err)

	// total   = 10*7000 + 2*9000 = 88000
	// freight = 10*500  + 2*300  = 5600
	// vault   = 10*6000 + 2*7000 = 74000
	assert.Equal(t, "88000.00", rec.Total.StringFixed(2))
	require.Len(t, rec.Bases, 3)
	assert.Equal(t, "fletes", rec.Bases[0].BucketID)
	assert.Equal(t, "5600.00", rec.Bases[0].Amount.StringFixed(2))
	assert.Equal(t, "74000.00", rec.Bases[1].Amount.StringFixed(2))
	assert.Equal(t, "8400.00", rec.Bases[2].Amount.StringFixed(2))
	assert.Equal(t, core.StatusPending, rec.Status)
	assert.Empty(t, rec.Number, "numbers are assigned by the ledger")
	require.NoError(t, core.ValidateRecord(rec))
}

func TestBuildSaleRecord_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		lines []core.LineInput
	}{
		{"no lines", nil},
		{"below cost plus freight", []core.LineInput{{Quantity: d("1"), UnitPrice: d("6200"), UnitCost: d("6000")}}},
		{"zero quantity", []core.LineInput{{Quantity: d("0"), UnitPrice: d("7000"), UnitCost: d("6000")}}},
		{"zero price", []core.LineInput{{Quantity: d("1"), UnitPrice: d("0"), UnitCost: d("6000")}}},
		{"zero cost", []core.LineInput{{Quantity: d("1"), UnitPrice: d("7000"), UnitCost: d("0")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := core.BuildSaleRecord("id", "client-1", tt.lines, core.DefaultSaleBuckets(), core.DefaultUnitFreight)
			assert.ErrorIs(t, err, core.ErrInvalidRecord)
		})
	}
}

func TestBuildPurchaseOrderRecord(t *testing.T) {
	rec, err := core.BuildPurchaseOrderRecord("po-1", "dist-1", []core.LineInput{
		{Product: "caja", Quantity: d("3"), UnitCost: d("111.11")},
	}, "almacen_monte")
	require.NoError(t, err)

	assert.Equal(t, core.RecordKindPurchaseOrder, rec.Kind)
	assert.Equal(t, "333.33", rec.Total.StringFixed(2))
	require.Len(t, rec.Bases, 1)
	assert.Equal(t, "almacen_monte", rec.Bases[0].BucketID)
}

func TestRecordNumber(t *testing.T) {
	assert.Equal(t, "V-000001", core.RecordNumber(core.RecordKindSale, 1))
	assert.Equal(t, "OC-000042", core.RecordNumber(core.RecordKindPurchaseOrder, 42))
	assert.Equal(t, "V-1234567", core.RecordNumber(core.RecordKindSale, 1234567))
}

func TestAllocateOldestFirst(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	older := saleRecord("100", "10", "70", "20", "40")
	older.ID, older.CreatedAt = "older", base
	newer := saleRecord("200", "20", "140", "40", "0")
	newer.ID, newer.CreatedAt = "newer", base.Add(time.Hour)
	paid := saleRecord("50", "5", "35", "10", "50")
	paid.ID, paid.CreatedAt = "paid", base.Add(-time.Hour)

	allocs, err := core.AllocateOldestFirst([]core.Record{newer, paid, older}, d("100"))
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	assert.Equal(t, "older", allocs[0].Record.ID)
	assert.Equal(t, "60.00", allocs[0].Amount.StringFixed(2))
	assert.Equal(t, "newer", allocs[1].Record.ID)
	assert.Equal(t, "40.00", allocs[1].Amount.StringFixed(2))

	_, err = core.AllocateOldestFirst([]core.Record{newer, older}, d("260.01"))
	assert.ErrorIs(t, err, core.ErrOverpayment)

	_, err = core.AllocateOldestFirst([]core.Record{newer}, decimal.Zero)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
}
