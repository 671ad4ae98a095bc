package core_test

import (
	"fmt"
	"testing"

	"flowdistributor/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func saleRecord(total, freight, vault, profit, paid string) core.Record {
	return core.Record{
		ID:         "rec-1",
		Kind:       core.RecordKindSale,
		Total:      d(total),
		PaidToDate: d(paid),
		Bases: []core.BaseShare{
			{BucketID: "fletes", Amount: d(freight)},
			{BucketID: "boveda_monte", Amount: d(vault)},
			{BucketID: "utilidades", Amount: d(profit)},
		},
	}
}

// evenRecord spreads total evenly over n buckets b0..b(n-1).
func evenRecord(n int, base string) core.Record {
	rec := core.Record{ID: "rec-even", Kind: core.RecordKindSale, Total: d(base).Mul(decimal.NewFromInt(int64(n))), PaidToDate: decimal.Zero}
	for i := 0; i < n; i++ {
		rec.Bases = append(rec.Bases, core.BaseShare{BucketID: fmt.Sprintf("b%d", i), Amount: d(base)})
	}
	return rec
}

func shareAmounts(dist core.Distribution) []string {
	out := make([]string, len(dist.Shares))
	for i, s := range dist.Shares {
		out[i] = s.Amount.StringFixed(2)
	}
	return out
}

func TestComputeDistribution_Proportional(t *testing.T) {
	tests := []struct {
		name    string
		record  core.Record
		payment string
		want    []string
	}{
		{
			name:    "half payment",
			record:  saleRecord("1000", "100", "700", "200", "0"),
			payment: "500",
			want:    []string{"50.00", "350.00", "100.00"},
		},
		{
			name:    "second half on partial record",
			record:  saleRecord("1000", "100", "700", "200", "500"),
			payment: "500",
			want:    []string{"50.00", "350.00", "100.00"},
		},
		{
			name:    "thirds round with remainder on last bucket",
			record:  saleRecord("3000", "1000", "1000", "1000", "0"),
			payment: "10",
			want:    []string{"3.33", "3.33", "3.34"},
		},
		{
			name:    "zero base bucket gets nothing",
			record:  saleRecord("1000", "0", "600", "400", "0"),
			payment: "100",
			want:    []string{"0.00", "60.00", "40.00"},
		},
		{
			name:    "remainder skips trailing zero base",
			record:  saleRecord("3000", "1000", "2000", "0", "0"),
			payment: "10",
			want:    []string{"3.33", "6.67", "0.00"},
		},
		{
			name:    "one cent",
			record:  saleRecord("3000", "1000", "1000", "1000", "0"),
			payment: "0.01",
			want:    []string{"0.00", "0.00", "0.01"},
		},
		{
			name:    "nine small buckets",
			record:  evenRecord(9, "1"),
			payment: "0.05",
			want:    []string{"0.00", "0.00", "0.00", "0.00", "0.01", "0.01", "0.01", "0.01", "0.01"},
		},
		{
			name:    "nine buckets one cent",
			record:  evenRecord(9, "1"),
			payment: "0.01",
			want:    []string{"0.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.01"},
		},
		{
			name:    "largest fractions take the missing cents",
			record:  saleRecord("10", "1.5", "1.5", "7", "0"),
			payment: "0.05",
			want:    []string{"0.01", "0.01", "0.03"},
		},
		{
			name:    "full payment",
			record:  saleRecord("1234.56", "100.00", "900.00", "234.56", "0"),
			payment: "1234.56",
			want:    []string{"100.00", "900.00", "234.56"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, err := core.ComputeDistribution(d(tt.payment), tt.record)
			require.NoError(t, err)
			assert.Equal(t, tt.want, shareAmounts(dist))
			assert.True(t, dist.Sum().Equal(d(tt.payment)), "shares must sum to the payment, got %s", dist.Sum())
		})
	}
}

func TestComputeDistribution_ConservesEveryCent(t *testing.T) {
	rec := saleRecord("997.13", "123.45", "555.55", "318.13", "0")
	for cents := int64(1); cents <= 2000; cents += 7 {
		payment := decimal.New(cents, -2)
		dist, err := core.ComputeDistribution(payment, rec)
		require.NoError(t, err)
		require.True(t, dist.Sum().Equal(payment), "payment %s distributed as %v", payment, shareAmounts(dist))

		for i, s := range dist.Shares {
			exact := rec.Bases[i].Amount.Mul(payment).Div(rec.Total)
			diff := s.Amount.Sub(exact).Abs()
			assert.True(t, diff.LessThanOrEqual(d("0.01")), "share %d off by %s for payment %s", i, diff, payment)
		}
	}
}

func TestComputeDistribution_ManyBucketsStayNonNegative(t *testing.T) {
	for n := 4; n <= 25; n++ {
		rec := evenRecord(n, "1")
		for cents := int64(1); cents <= int64(n)*100; cents++ {
			payment := decimal.New(cents, -2)
			dist, err := core.ComputeDistribution(payment, rec)
			require.NoError(t, err)
			require.True(t, dist.Sum().Equal(payment), "%d buckets, payment %s: %v", n, payment, shareAmounts(dist))
			exact := payment.Div(decimal.NewFromInt(int64(n)))
			for _, s := range dist.Shares {
				require.False(t, s.Amount.IsNegative(), "%d buckets, payment %s: %v", n, payment, shareAmounts(dist))
				require.True(t, s.Amount.Sub(exact).Abs().LessThan(d("0.01")), "%d buckets, payment %s: %v", n, payment, shareAmounts(dist))
			}
		}
	}

	// The split must also be accepted by the balance updater.
	rec := evenRecord(9, "1")
	dist, err := core.ComputeDistribution(d("0.05"), rec)
	require.NoError(t, err)
	targets := make(map[string]core.Bucket, len(rec.Bases))
	for _, b := range rec.Bases {
		targets[b.BucketID] = core.Bucket{ID: b.BucketID, Kind: core.BucketKindAccount}
	}
	res, err := core.ApplyPayment(rec, dist, nil, targets)
	require.NoError(t, err)
	assert.Equal(t, "0.05", res.Record.PaidToDate.StringFixed(2))
}

func TestComputeDistribution_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		record  core.Record
		payment string
		wantErr error
	}{
		{"zero payment", saleRecord("1000", "100", "700", "200", "0"), "0", core.ErrInvalidAmount},
		{"negative payment", saleRecord("1000", "100", "700", "200", "0"), "-5", core.ErrInvalidAmount},
		{"sub-cent payment", saleRecord("1000", "100", "700", "200", "0"), "0.005", core.ErrInvalidAmount},
		{"overpayment", saleRecord("1000", "100", "700", "200", "600"), "400.01", core.ErrOverpayment},
		{"already paid", saleRecord("1000", "100", "700", "200", "1000"), "1", core.ErrOverpayment},
		{"zero total", saleRecord("0", "0", "0", "0", "0"), "1", core.ErrInvalidRecord},
		{"bases do not sum", saleRecord("1000", "100", "700", "100", "0"), "1", core.ErrInvalidRecord},
		{"negative base", saleRecord("1000", "-100", "900", "200", "0"), "1", core.ErrInvalidRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := core.ComputeDistribution(d(tt.payment), tt.record)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestComputeDistribution_OverpaymentNamesOutstanding(t *testing.T) {
	_, err := core.ComputeDistribution(d("1"), saleRecord("1000", "100", "700", "200", "1000"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outstanding balance is 0.00")
	assert.Equal(t, "OVERPAYMENT", core.ErrorCode(err))
}
