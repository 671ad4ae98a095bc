package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"flowdistributor/internal/core"
	"flowdistributor/internal/store/sqlite"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickingRecorder advances one second per call so creation order is deterministic.
func tickingRecorder() *core.Recorder {
	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	return &core.Recorder{
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Second)
			return now
		},
		NewID: uuid.NewString,
	}
}

func setupLedger(t *testing.T) (*core.Ledger, core.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := core.NewLedger(store, core.DefaultLedgerConfig(), nil, nil)
	l.SetRecorder(tickingRecorder())
	require.NoError(t, l.EnsureBuckets(ctx, core.DefaultBuckets()))
	return l, store
}

func capitalOf(t *testing.T, store core.Store, id string) string {
	t.Helper()
	b, err := store.GetBucket(context.Background(), id)
	require.NoError(t, err)
	return b.Capital.StringFixed(2)
}

func thousandPesoSale(client string) core.SaleInput {
	return core.SaleInput{
		ClientName: client,
		Lines: []core.LineInput{
			{Product: "caja", Quantity: d("1"), UnitPrice: d("1000"), UnitCost: d("700"), UnitFreight: d("100")},
		},
	}
}

func assertReconciled(t *testing.T, l *core.Ledger) {
	t.Helper()
	report, err := l.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK(), "ledger drift: %+v", report)
}

func TestLedger_SaleHalvesAndOverpayment(t *testing.T) {
	ctx := context.Background()
	l, store := setupLedger(t)

	rc, err := l.CreateSale(ctx, thousandPesoSale("Juan Pérez"))
	require.NoError(t, err)
	require.Len(t, rc.Records, 1)
	sale := rc.Records[0]
	assert.Equal(t, core.StatusPending, sale.Status)
	assert.Empty(t, rc.Entries)

	for i := 0; i < 2; i++ {
		rc, err = l.PaySale(ctx, core.SalePaymentInput{RecordID: sale.ID, Amount: d("500")})
		require.NoError(t, err)
		require.Len(t, rc.Distributions, 1)
		assert.Equal(t, []string{"50.00", "350.00", "100.00"}, shareAmounts(rc.Distributions[0]))
	}

	got, err := l.Record(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", got.PaidToDate.StringFixed(2))
	assert.Equal(t, core.StatusPaid, got.Status)
	assert.Equal(t, "100.00", capitalOf(t, store, "fletes"))
	assert.Equal(t, "700.00", capitalOf(t, store, "boveda_monte"))
	assert.Equal(t, "200.00", capitalOf(t, store, "utilidades"))

	_, err = l.PaySale(ctx, core.SalePaymentInput{RecordID: sale.ID, Amount: d("1")})
	assert.ErrorIs(t, err, core.ErrOverpayment)
	assert.Equal(t, "OVERPAYMENT", core.ErrorCode(err))

	entries, err := l.Entries(ctx, core.EntryFilter{RecordID: sale.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Len(t, entries[0].Breakdown, 3)

	byBucket, err := l.Entries(ctx, core.EntryFilter{BucketID: "boveda_monte"})
	require.NoError(t, err)
	assert.Len(t, byBucket, 2)

	assertReconciled(t, l)
}

func TestLedger_SalePaidInFull(t *testing.T) {
	ctx := context.Background()
	l, store := setupLedger(t)

	in := thousandPesoSale("Ana")
	in.PayInFull = true
	rc, err := l.CreateSale(ctx, in)
	require.NoError(t, err)
	require.Len(t, rc.Records, 1)
	assert.Equal(t, core.StatusPaid, rc.Records[0].Status)
	require.Len(t, rc.Entries, 1)
	assert.Equal(t, core.EntryPayment, rc.Entries[0].Type)
	assert.Equal(t, "200.00", capitalOf(t, store, "utilidades"))
	assertReconciled(t, l)
}

func TestLedger_PayClientOldestFirst(t *testing.T) {
	ctx := context.Background()
	l, _ := setupLedger(t)

	first, err := l.CreateSale(ctx, thousandPesoSale("Juan"))
	require.NoError(t, err)
	second, err := l.CreateSale(ctx, thousandPesoSale("  juan "))
	require.NoError(t, err)

	clientID := first.Records[0].PartyID
	require.Equal(t, clientID, second.Records[0].PartyID, "client names match case-insensitively")

	clients, err := l.Parties(ctx, core.PartyClient)
	require.NoError(t, err)
	assert.Len(t, clients, 1)

	rc, err := l.PayClient(ctx, core.ClientPaymentInput{ClientID: clientID, Amount: d("1500")})
	require.NoError(t, err)
	assert.Len(t, rc.Entries, 2)

	a, err := l.Record(ctx, first.Records[0].ID)
	require.NoError(t, err)
	b, err := l.Record(ctx, second.Records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaid, a.Status)
	assert.Equal(t, core.StatusPartial, b.Status)
	assert.Equal(t, "500.00", b.PaidToDate.StringFixed(2))

	debt, err := l.PartyDebt(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, "500.00", debt.Outstanding.StringFixed(2))
	assert.Equal(t, 1, debt.OpenRecords)

	_, err = l.PayClient(ctx, core.ClientPaymentInput{ClientID: clientID, Amount: d("500.01")})
	assert.ErrorIs(t, err, core.ErrOverpayment)

	assertReconciled(t, l)
}

func TestLedger_PayDistributorInsufficientFundsChangesNothing(t *testing.T) {
	ctx := context.Background()
	l, store := setupLedger(t)

	rc, err := l.CreatePurchaseOrder(ctx, core.PurchaseOrderInput{
		DistributorName: "Distribuidora Norte",
		Lines:           []core.LineInput{{Product: "caja", Quantity: d("3"), UnitCost: d("111.11")}},
	})
	require.NoError(t, err)
	po := rc.Records[0]
	assert.Equal(t, "333.33", po.Total.StringFixed(2))

	_, err = l.PayDistributor(ctx, core.DistributorPaymentInput{RecordID: po.ID, SourceBucket: "azteca", Amount: d("111.11")})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	got, err := l.Record(ctx, po.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidToDate.IsZero())
	assert.Equal(t, "0.00", capitalOf(t, store, "azteca"))
	assert.Equal(t, "0.00", capitalOf(t, store, "almacen_monte"))
	entries, err := l.Entries(ctx, core.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = l.RecordIncome(ctx, core.IncomeInput{BucketID: "azteca", Amount: d("200")})
	require.NoError(t, err)
	_, err = l.PayDistributor(ctx, core.DistributorPaymentInput{
		DistributorID: po.PartyID, SourceBucket: "azteca", Amount: d("111.11"),
	})
	require.NoError(t, err)

	assert.Equal(t, "88.89", capitalOf(t, store, "azteca"))
	assert.Equal(t, "111.11", capitalOf(t, store, "almacen_monte"))
	got, err = l.Record(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPartial, got.Status)

	assertReconciled(t, l)
}

func TestLedger_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	l, store := setupLedger(t)

	in := core.IncomeInput{IdempotencyKey: "deposit-1", BucketID: "azteca", Amount: d("100")}
	_, err := l.RecordIncome(ctx, in)
	require.NoError(t, err)

	_, err = l.RecordIncome(ctx, in)
	assert.ErrorIs(t, err, core.ErrDuplicateTransaction)
	assert.Equal(t, "100.00", capitalOf(t, store, "azteca"))

	// A rejected command does not burn its key.
	_, err = l.RecordExpense(ctx, core.ExpenseInput{IdempotencyKey: "exp-1", BucketID: "azteca", Amount: d("500")})
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)
	_, err = l.RecordExpense(ctx, core.ExpenseInput{IdempotencyKey: "exp-1", BucketID: "azteca", Amount: d("50")})
	require.NoError(t, err)
	assert.Equal(t, "50.00", capitalOf(t, store, "azteca"))
}

func TestLedger_Movements(t *testing.T) {
	ctx := context.Background()
	l, store := setupLedger(t)

	_, err := l.RecordIncome(ctx, core.IncomeInput{BucketID: "azteca", Amount: d("1000")})
	require.NoError(t, err)
	_, err = l.RecordExpense(ctx, core.ExpenseInput{BucketID: "azteca", Amount: d("150.50"), Note: "gasolina"})
	require.NoError(t, err)
	rc, err := l.RecordTransfer(ctx, core.TransferInput{From: "azteca", To: "leftie", Amount: d("300")})
	require.NoError(t, err)
	require.Len(t, rc.Buckets, 2)

	azteca, err := store.GetBucket(ctx, "azteca")
	require.NoError(t, err)
	assert.Equal(t, "549.50", azteca.Capital.StringFixed(2))
	assert.Equal(t, "1000.00", azteca.HistoricCapital.StringFixed(2))
	assert.Equal(t, "150.50", azteca.TotalExpenses.StringFixed(2))
	assert.Equal(t, "300.00", azteca.TransfersOut.StringFixed(2))

	leftie, err := store.GetBucket(ctx, "leftie")
	require.NoError(t, err)
	assert.Equal(t, "300.00", leftie.Capital.StringFixed(2))
	assert.Equal(t, "300.00", leftie.TransfersIn.StringFixed(2))

	_, err = l.RecordTransfer(ctx, core.TransferInput{From: "azteca", To: "azteca", Amount: d("1")})
	assert.ErrorIs(t, err, core.ErrInvalidTransfer)
	_, err = l.RecordTransfer(ctx, core.TransferInput{From: "azteca", To: "nowhere", Amount: d("1")})
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = l.RecordIncome(ctx, core.IncomeInput{BucketID: "azteca", Amount: d("-1")})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	expenses, err := l.Entries(ctx, core.EntryFilter{Type: core.EntryExpense})
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, core.ExternalTarget, expenses[0].Breakdown[0].Target)

	assertReconciled(t, l)
}

// flakyStore fails the first n atomic units with a lost optimistic race.
type flakyStore struct {
	core.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx core.StoreTx) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return core.ErrConcurrentModification
	}
	return s.Store.RunAtomic(ctx, fn)
}

type countingObserver struct {
	committed, rejected, retried int
	codes                        []string
}

func (o *countingObserver) CommandCommitted(string) { o.committed++ }
func (o *countingObserver) CommandRejected(_, code string) {
	o.rejected++
	o.codes = append(o.codes, code)
}
func (o *countingObserver) CommandRetried(string)               { o.retried++ }
func (o *countingObserver) ObserveAtomic(string, time.Duration) {}

func TestLedger_RetriesConcurrentModification(t *testing.T) {
	ctx := context.Background()
	_, base := setupLedger(t)

	t.Run("succeeds within attempts", func(t *testing.T) {
		obs := &countingObserver{}
		l := core.NewLedger(&flakyStore{Store: base, failures: 2}, core.DefaultLedgerConfig(), nil, obs)
		_, err := l.RecordIncome(ctx, core.IncomeInput{BucketID: "profit", Amount: d("10")})
		require.NoError(t, err)
		assert.Equal(t, 2, obs.retried)
		assert.Equal(t, 1, obs.committed)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		obs := &countingObserver{}
		flaky := &flakyStore{Store: base, failures: 5}
		l := core.NewLedger(flaky, core.DefaultLedgerConfig(), nil, obs)
		_, err := l.RecordIncome(ctx, core.IncomeInput{BucketID: "profit", Amount: d("10")})
		assert.ErrorIs(t, err, core.ErrConcurrentModification)
		assert.Equal(t, 3, flaky.calls)
		assert.Equal(t, []string{"CONCURRENT_MODIFICATION"}, obs.codes)
	})

	t.Run("domain errors are not retried", func(t *testing.T) {
		obs := &countingObserver{}
		l := core.NewLedger(base, core.DefaultLedgerConfig(), nil, obs)
		_, err := l.RecordExpense(ctx, core.ExpenseInput{BucketID: "profit", Amount: d("1000")})
		assert.ErrorIs(t, err, core.ErrInsufficientFunds)
		assert.Zero(t, obs.retried)
		assert.Equal(t, []string{"INSUFFICIENT_FUNDS"}, obs.codes)
	})

	assert.Equal(t, "10.00", capitalOf(t, base, "profit"))
}

func TestLedger_RecordNumbersAreGapless(t *testing.T) {
	ctx := context.Background()
	l, _ := setupLedger(t)

	rc, err := l.CreateSale(ctx, thousandPesoSale("Juan"))
	require.NoError(t, err)
	assert.Equal(t, "V-000001", rc.Records[0].Number)

	rejected := thousandPesoSale("Juan")
	rejected.InitialPayment = d("5000")
	_, err = l.CreateSale(ctx, rejected)
	require.ErrorIs(t, err, core.ErrOverpayment)

	rc, err = l.CreateSale(ctx, thousandPesoSale("Ana"))
	require.NoError(t, err)
	assert.Equal(t, "V-000002", rc.Records[0].Number, "a rolled-back sale gives its number back")

	rc, err = l.CreatePurchaseOrder(ctx, core.PurchaseOrderInput{
		DistributorName: "Norte",
		Lines:           []core.LineInput{{Product: "caja", Quantity: d("1"), UnitCost: d("10")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "OC-000001", rc.Records[0].Number)
}

// staleStore makes the first unit of work see data from before a concurrent
// commit: FindParty misses an existing party, NextRecordNumber hands out a used number.
type staleStore struct {
	core.Store
	staleParties int
	staleNumbers int
}

func (s *staleStore) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx core.StoreTx) error) error {
	return s.Store.RunAtomic(ctx, func(ctx context.Context, tx core.StoreTx) error {
		return fn(ctx, &staleTx{StoreTx: tx, s: s})
	})
}

type staleTx struct {
	core.StoreTx
	s *staleStore
}

func (t *staleTx) FindParty(ctx context.Context, kind core.PartyKind, name string) (core.Party, error) {
	if t.s.staleParties > 0 {
		t.s.staleParties--
		return core.Party{}, core.ErrNotFound
	}
	return t.StoreTx.FindParty(ctx, kind, name)
}

func (t *staleTx) NextRecordNumber(ctx context.Context, kind core.RecordKind) (int64, error) {
	if t.s.staleNumbers > 0 {
		t.s.staleNumbers--
		return 1, nil
	}
	return t.StoreTx.NextRecordNumber(ctx, kind)
}

func TestLedger_UniqueConflictsAreRetried(t *testing.T) {
	ctx := context.Background()
	_, base := setupLedger(t)

	first, err := core.NewLedger(base, core.DefaultLedgerConfig(), nil, nil).CreateSale(ctx, thousandPesoSale("Juan"))
	require.NoError(t, err)
	juan := first.Records[0].PartyID

	t.Run("party created by a concurrent command", func(t *testing.T) {
		obs := &countingObserver{}
		l := core.NewLedger(&staleStore{Store: base, staleParties: 1}, core.DefaultLedgerConfig(), nil, obs)
		rc, err := l.CreateSale(ctx, thousandPesoSale("juan "))
		require.NoError(t, err)
		assert.Equal(t, juan, rc.Records[0].PartyID)
		assert.Equal(t, 1, obs.retried)
		assert.Equal(t, 1, obs.committed)
	})

	t.Run("record number taken by a concurrent command", func(t *testing.T) {
		obs := &countingObserver{}
		l := core.NewLedger(&staleStore{Store: base, staleNumbers: 1}, core.DefaultLedgerConfig(), nil, obs)
		rc, err := l.CreateSale(ctx, thousandPesoSale("Juan"))
		require.NoError(t, err)
		assert.Equal(t, "V-000003", rc.Records[0].Number)
		assert.Equal(t, 1, obs.retried)
	})

	parties, err := base.ListParties(ctx, core.PartyClient)
	require.NoError(t, err)
	assert.Len(t, parties, 1)
}

func TestLedger_PartyKindMismatch(t *testing.T) {
	ctx := context.Background()
	l, _ := setupLedger(t)

	rc, err := l.CreatePurchaseOrder(ctx, core.PurchaseOrderInput{
		DistributorName: "Norte",
		Lines:           []core.LineInput{{Quantity: d("1"), UnitCost: d("10")}},
	})
	require.NoError(t, err)

	in := thousandPesoSale("")
	in.ClientID = rc.Records[0].PartyID
	_, err = l.CreateSale(ctx, in)
	assert.ErrorIs(t, err, core.ErrInvalidRecord)

	_, err = l.PaySale(ctx, core.SalePaymentInput{RecordID: rc.Records[0].ID, Amount: d("1")})
	assert.ErrorIs(t, err, core.ErrInvalidRecord)

	_, err = l.PaySale(ctx, core.SalePaymentInput{RecordID: "missing", Amount: d("1")})
	assert.ErrorIs(t, err, core.ErrNotFound)
}
