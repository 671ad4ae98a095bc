package core_test

import (
	"testing"

	"flowdistributor/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bucket(id string, capital string) core.Bucket {
	return core.Bucket{
		ID:              id,
		Kind:            core.BucketKindAccount,
		Capital:         d(capital),
		HistoricCapital: d(capital),
		TotalExpenses:   d("0"),
		TransfersOut:    d("0"),
		TransfersIn:     d("0"),
		Version:         1,
	}
}

func saleTargets() map[string]core.Bucket {
	return map[string]core.Bucket{
		"fletes":       bucket("fletes", "0"),
		"boveda_monte": bucket("boveda_monte", "0"),
		"utilidades":   bucket("utilidades", "0"),
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		paid, total string
		want        core.RecordStatus
	}{
		{"0", "1000", core.StatusPending},
		{"0.01", "1000", core.StatusPartial},
		{"999.99", "1000", core.StatusPartial},
		{"1000", "1000", core.StatusPaid},
		{"0", "0", core.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.paid+"/"+tt.total, func(t *testing.T) {
			got := core.DeriveStatus(d(tt.paid), d(tt.total))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, core.DeriveStatus(d(tt.paid), d(tt.total)), "derivation must be stable")
		})
	}
}

func TestApplyPayment_TwoHalves(t *testing.T) {
	rec := saleRecord("1000", "100", "700", "200", "0")
	targets := saleTargets()

	dist, err := core.ComputeDistribution(d("500"), rec)
	require.NoError(t, err)
	res, err := core.ApplyPayment(rec, dist, nil, targets)
	require.NoError(t, err)

	assert.Equal(t, "500.00", res.Record.PaidToDate.StringFixed(2))
	assert.Equal(t, core.StatusPartial, res.Record.Status)
	vault, ok := res.Bucket("boveda_monte")
	require.True(t, ok)
	assert.Equal(t, "350.00", vault.Capital.StringFixed(2))
	assert.Equal(t, "350.00", vault.HistoricCapital.StringFixed(2))

	// inputs untouched
	assert.True(t, rec.PaidToDate.IsZero())
	assert.True(t, targets["boveda_monte"].Capital.IsZero())

	for _, b := range res.Buckets {
		targets[b.ID] = b
	}
	dist, err = core.ComputeDistribution(d("500"), res.Record)
	require.NoError(t, err)
	res, err = core.ApplyPayment(res.Record, dist, nil, targets)
	require.NoError(t, err)

	assert.Equal(t, "1000.00", res.Record.PaidToDate.StringFixed(2))
	assert.Equal(t, core.StatusPaid, res.Record.Status)
	freight, _ := res.Bucket("fletes")
	assert.Equal(t, "100.00", freight.Capital.StringFixed(2))

	_, err = core.ComputeDistribution(d("1"), res.Record)
	assert.ErrorIs(t, err, core.ErrOverpayment)
}

func TestApplyPayment_InsufficientFundsLeavesNothingApplied(t *testing.T) {
	po := core.Record{
		ID:    "po-1",
		Kind:  core.RecordKindPurchaseOrder,
		Total: d("333.33"),
		Bases: []core.BaseShare{{BucketID: "almacen_monte", Amount: d("333.33")}},
	}
	bank := bucket("azteca", "100")
	almacen := core.Bucket{ID: "almacen_monte", Kind: core.BucketKindFund}

	dist, err := core.ComputeDistribution(d("111.11"), po)
	require.NoError(t, err)
	res, err := core.ApplyPayment(po, dist, &bank, map[string]core.Bucket{"almacen_monte": almacen})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)
	assert.Empty(t, res.Buckets)
	assert.Equal(t, "100.00", bank.Capital.StringFixed(2))
	assert.True(t, po.PaidToDate.IsZero())
}

func TestApplyPayment_DebitsSourceCreditsFund(t *testing.T) {
	po := core.Record{
		ID:    "po-1",
		Kind:  core.RecordKindPurchaseOrder,
		Total: d("333.33"),
		Bases: []core.BaseShare{{BucketID: "almacen_monte", Amount: d("333.33")}},
	}
	bank := bucket("azteca", "500")
	almacen := core.Bucket{ID: "almacen_monte", Kind: core.BucketKindFund}

	dist, err := core.ComputeDistribution(d("111.11"), po)
	require.NoError(t, err)
	res, err := core.ApplyPayment(po, dist, &bank, map[string]core.Bucket{"almacen_monte": almacen})
	require.NoError(t, err)

	src, _ := res.Bucket("azteca")
	assert.Equal(t, "388.89", src.Capital.StringFixed(2))
	assert.Equal(t, "111.11", src.TotalExpenses.StringFixed(2))
	fund, _ := res.Bucket("almacen_monte")
	assert.Equal(t, "111.11", fund.Capital.StringFixed(2))
	assert.Equal(t, core.StatusPartial, res.Record.Status)
}

func TestApplyPayment_MissingTarget(t *testing.T) {
	rec := saleRecord("1000", "100", "700", "200", "0")
	dist, err := core.ComputeDistribution(d("10"), rec)
	require.NoError(t, err)

	targets := saleTargets()
	delete(targets, "utilidades")
	_, err = core.ApplyPayment(rec, dist, nil, targets)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestApplyPayment_TamperedDistribution(t *testing.T) {
	rec := saleRecord("1000", "100", "700", "200", "0")
	dist, err := core.ComputeDistribution(d("10"), rec)
	require.NoError(t, err)
	dist.Shares[0].Amount = dist.Shares[0].Amount.Add(d("0.01"))

	_, err = core.ApplyPayment(rec, dist, nil, saleTargets())
	assert.ErrorIs(t, err, core.ErrUnbalancedEntry)
}

func TestApplyMovement(t *testing.T) {
	t.Run("expense", func(t *testing.T) {
		bank := bucket("azteca", "100")
		out, err := core.ApplyMovement(core.EntryExpense, &bank, nil, d("40"))
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "60.00", out[0].Capital.StringFixed(2))
		assert.Equal(t, "40.00", out[0].TotalExpenses.StringFixed(2))
	})

	t.Run("expense beyond capital", func(t *testing.T) {
		bank := bucket("azteca", "100")
		_, err := core.ApplyMovement(core.EntryExpense, &bank, nil, d("100.01"))
		assert.ErrorIs(t, err, core.ErrInsufficientFunds)
	})

	t.Run("income", func(t *testing.T) {
		bank := bucket("azteca", "100")
		out, err := core.ApplyMovement(core.EntryIncome, nil, &bank, d("25.50"))
		require.NoError(t, err)
		assert.Equal(t, "125.50", out[0].Capital.StringFixed(2))
		assert.Equal(t, "125.50", out[0].HistoricCapital.StringFixed(2))
	})

	t.Run("transfer", func(t *testing.T) {
		from, to := bucket("azteca", "100"), bucket("leftie", "0")
		out, err := core.ApplyMovement(core.EntryTransfer, &from, &to, d("30"))
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "70.00", out[0].Capital.StringFixed(2))
		assert.Equal(t, "30.00", out[0].TransfersOut.StringFixed(2))
		assert.Equal(t, "30.00", out[1].Capital.StringFixed(2))
		assert.Equal(t, "30.00", out[1].TransfersIn.StringFixed(2))
		assert.Equal(t, "30.00", out[1].HistoricCapital.StringFixed(2))
	})

	t.Run("transfer to itself", func(t *testing.T) {
		b := bucket("azteca", "100")
		_, err := core.ApplyMovement(core.EntryTransfer, &b, &b, d("30"))
		assert.ErrorIs(t, err, core.ErrInvalidTransfer)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		b := bucket("azteca", "100")
		_, err := core.ApplyMovement(core.EntryIncome, nil, &b, d("0"))
		assert.ErrorIs(t, err, core.ErrInvalidAmount)
	})
}
