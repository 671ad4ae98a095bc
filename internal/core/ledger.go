package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Observer receives the outcome of every ledger command. The metrics package
// implements it; nil means no observation.
type Observer interface {
	CommandCommitted(op string)
	CommandRejected(op, code string)
	CommandRetried(op string)
	ObserveAtomic(op string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) CommandCommitted(string)             {}
func (nopObserver) CommandRejected(string, string)      {}
func (nopObserver) CommandRetried(string)               {}
func (nopObserver) ObserveAtomic(string, time.Duration) {}

// LedgerConfig tunes the ledger.
type LedgerConfig struct {
	// MaxAttempts bounds how often a unit is run when it loses an optimistic race.
	MaxAttempts    int
	SaleBuckets    SaleBuckets
	PurchaseBucket string
	DefaultFreight decimal.Decimal
}

// DefaultLedgerConfig returns the standard configuration.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		MaxAttempts:    3,
		SaleBuckets:    DefaultSaleBuckets(),
		PurchaseBucket: "almacen_monte",
		DefaultFreight: DefaultUnitFreight,
	}
}

// Receipt is what a committed command changed.
type Receipt struct {
	Entries       []Transaction  `json:"entries"`
	Records       []Record       `json:"records"`
	Buckets       []Bucket       `json:"buckets"`
	Distributions []Distribution `json:"distributions,omitempty"`
}

// Ledger is the single entry point for every money movement. Each command runs
// validate → distribute → apply → record → write inside one atomic unit, retried
// as a whole when it loses an optimistic-concurrency race.
type Ledger struct {
	store    Store
	cfg      LedgerConfig
	log      *zap.Logger
	obs      Observer
	recorder *Recorder
}

// NewLedger creates a ledger over store. log and obs may be nil.
func NewLedger(store Store, cfg LedgerConfig, log *zap.Logger, obs Observer) *Ledger {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Ledger{store: store, cfg: cfg, log: log, obs: obs, recorder: NewRecorder()}
}

// SetRecorder replaces the entry recorder (clock and ID source).
func (l *Ledger) SetRecorder(r *Recorder) {
	l.recorder = r
}

// ── Command inputs ───────────────────────────────────────────────────────────

// SaleInput creates a sale. Either ClientID or ClientName identifies the client; an
// unknown name creates the client. A positive InitialPayment (or PayInFull) is applied
// through the payment pipeline in the same unit.
type SaleInput struct {
	IdempotencyKey string
	ClientID       string
	ClientName     string
	Lines          []LineInput
	Notes          string
	InitialPayment decimal.Decimal
	PayInFull      bool
}

// PurchaseOrderInput creates a debt to a distributor. A positive InitialPayment is
// paid from SourceBucket in the same unit.
type PurchaseOrderInput struct {
	IdempotencyKey  string
	DistributorID   string
	DistributorName string
	Lines           []LineInput
	Notes           string
	InitialPayment  decimal.Decimal
	SourceBucket    string
}

// SalePaymentInput is an abono against one sale.
type SalePaymentInput struct {
	IdempotencyKey string
	RecordID       string
	Amount         decimal.Decimal
	Note           string
}

// ClientPaymentInput is an abono against a client's debt, spread over their open sales.
type ClientPaymentInput struct {
	IdempotencyKey string
	ClientID       string
	Amount         decimal.Decimal
	Note           string
}

// DistributorPaymentInput pays a distributor from SourceBucket. With RecordID empty
// the amount is spread over the distributor's open purchase orders, oldest first.
type DistributorPaymentInput struct {
	IdempotencyKey string
	DistributorID  string
	RecordID       string
	SourceBucket   string
	Amount         decimal.Decimal
	Note           string
}

type ExpenseInput struct {
	IdempotencyKey string
	BucketID       string
	Amount         decimal.Decimal
	Note           string
}

type IncomeInput struct {
	IdempotencyKey string
	BucketID       string
	Amount         decimal.Decimal
	Note           string
}

type TransferInput struct {
	IdempotencyKey string
	From           string
	To             string
	Amount         decimal.Decimal
	Note           string
}

// ── Commands ─────────────────────────────────────────────────────────────────

func (l *Ledger) CreateSale(ctx context.Context, in SaleInput) (*Receipt, error) {
	return l.run(ctx, "create_sale", in.IdempotencyKey, func(ctx context.Context, u *unitOfWork, key string, rc *Receipt) error {
		client, err := l.resolveParty(ctx, u.tx, PartyClient, in.ClientID, in.ClientName)
		if err != nil {
			return err
		}
		rec, err := BuildSaleRecord(uuid.NewString(), client.ID, in.Lines, l.cfg.SaleBuckets, l.cfg.DefaultFreight)
		if err != nil {
			return err
		}
		if rec.Number, err = l.nextNumber(ctx, u.tx, RecordKindSale); err != nil {
			return err
		}
		rec.Notes = in.Notes
		rec.PartyName = client.Name
		rec.CreatedAt = l.recorder.Now()
		rec.UpdatedAt = rec.CreatedAt
		u.addRecord(rec)

		amount := in.InitialPayment
		if in.PayInFull {
			amount = rec.Total
		}
		if amount.IsNegative() {
			return reject(ErrInvalidAmount, "initial payment must not be negative, got %s", amount.String())
		}
		if amount.IsPositive() {
			return l.payRecord(ctx, u, rc, key, rec.ID, amount, "", noteOr(in.Notes, "initial payment on "+rec.Number))
		}
		return nil
	})
}

func (l *Ledger) CreatePurchaseOrder(ctx context.Context, in PurchaseOrderInput) (*Receipt, error) {
	return l.run(ctx, "create_purchase_order", in.IdempotencyKey, func(ctx context.Context, u *unitOfWork, key string, rc *Receipt) error {
		dist, err := l.resolveParty(ctx, u.tx, PartyDistributor, in.DistributorID, in.DistributorName)
		if err != nil {
			return err
		}
		rec, err := BuildPurchaseOrderRecord(uuid.NewString(), dist.ID, in.Lines, l.cfg.PurchaseBucket)
		if err != nil {
			return err
		}
		if rec.Number, err = l.nextNumber(ctx, u.tx, RecordKindPurchaseOrder); err != nil {
			return err
		}
		rec.Notes = in.Notes
		rec.PartyName = dist.Name
		rec.CreatedAt = l.recorder.Now()
		rec.UpdatedAt = rec.CreatedAt
		u.addRecord(rec)

		if in.InitialPayment.IsNegative() {
			return reject(ErrInvalidAmount, "initial payment must not be negative, got %s", in.InitialPayment.String())
		}
		if in.InitialPayment.IsPositive() {
			if in.SourceBucket == "" {
				return reject(ErrNotFound, "initial payment on %s needs a source bucket", rec.Number)
			}
			return l.payRecord(ctx, u, rc, key, rec.ID, in.InitialPayment, in.SourceBucket, noteOr(in.Notes, "initial payment on "+rec.Number))
		}
		return nil
	})
}

func (l *Ledger) PaySale(ctx context.Context, in SalePaymentInput) (*Receipt, error) {
	return l.run(ctx, "pay_sale", in.IdempotencyKey, func(ctx context.Context, u *unitOfWork, key string, rc *Receipt) error {
		rec, err := u.record(ctx, in.RecordID)
		if err != nil {
			return err
		}
		if rec.Kind != RecordKindSale {
			return reject(ErrInvalidRecord, "record %s is a %s, not a sale", rec.ID, rec.Kind)
		}
		return l.payRecord(ctx, u, rc, key, rec.ID, in.Amount, "", noteOr(in.Note, "abono on "+rec.Number))
	})
}

func (l *Ledger) PayClient(ctx context.Context, in ClientPaymentInput) (*Receipt, error) {
	return l.run(ctx, "pay_client", in.IdempotencyKey, func(ctx context.Context, u *unitOfWork, key string, rc *Receipt) error {
		client, err := u.tx.GetParty(ctx, in.ClientID)
		if err != nil {
			return err
		}
		if client.Kind != PartyClient {
			return reject(ErrInvalidRecord, "party %s is not a client", client.ID)
		}
		open, err := u.tx.ListOpenRecords(ctx, RecordKindSale, client.ID)
		if err != nil {
			return err
		}
		allocs, err := AllocateOldestFirst(open, in.Amount)
		if err != nil {
			return err
		}
		for _, a := range allocs {
			u.adopt(a.Record)
			if err := l.payRecord(ctx, u, rc, key, a.Record.ID, a.Amount, "", noteOr(in.Note, "abono from "+client.Name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Ledger) PayDistributor(ctx context.Context, in DistributorPaymentInput) (*Receipt, error) {
	return l.run(ctx, "pay_distributor", in.IdempotencyKey, func(ctx context.Context, u *unitOfWork, key string, rc *Receipt) error {
		if in.SourceBucket == "" {
			return reject(ErrNotFound, "distributor payment needs a source bucket")
		}
		if in.RecordID != "" {
			rec, err := u.record(ctx, in.RecordID)
			if err != nil {
				return err
			}
			if rec.Kind != RecordKindPurchaseOrder {
				return reject(ErrInvalidRecord, "record %s is a %s, not a purchase order", rec.ID, rec.Kind)
			}
			if in.DistributorID != "" && rec.PartyID != in.DistributorID {
				return reject(ErrInvalidRecord, "purchase order %s does not belong to distributor %s", rec.Number, in.DistributorID)
			}
			return l.payRecord(ctx, u, rc, key, rec.ID, in.Amount, in.SourceBucket, noteOr(in.Note, "payment on "+rec.Number))
		}

		dist, err := u.tx.GetParty(ctx, in.DistributorID)
		if err != nil {
			return err
		}
		if dist.Kind != PartyDistributor {
			return reject(ErrInvalidRecord, "party %s is not a distributor", dist.ID)
		}
		open, err := u.tx.ListOpenRecords(ctx, RecordKindPurchaseOrder, dist.ID)
		if err != nil {
			return err
		}
		allocs, err := AllocateOldestFirst(open, in.Amount)
		if err != nil {
			return err
		}
		for _, a := range allocs {
			u.adopt(a.Record)
			if err := l.payRecord(ctx, u, rc, key, a.Record.ID, a.Amount, in.SourceBucket, noteOr(in.Note, "payment to "+dist.Name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Ledger) RecordExpense(ctx context.Context, in ExpenseInput) (*Receipt, error) {
	return l.run(ctx, "expense", in.IdempotencyKey, func(ctx context.Context, u *unitOfWork, key string, rc *Receipt) error {
		src, err := u.bucket(ctx, in.BucketID)
		if err != nil {
			return err
		}
		return l.move(u, rc, key, EntryExpense, &src, nil, in.Amount, in.Note,
			[]BreakdownLine{{Target: ExternalTarget, Amount: in.Amount}})
	})
}

func (l *Ledger) RecordIncome(ctx context.Context, in IncomeInput) (*Receipt, error) {
	return l.run(ctx, "income", in.IdempotencyKey, func(ctx context.Context, u *unitOfWork, key string, rc *Receipt) error {
		dst, err := u.bucket(ctx, in.BucketID)
		if err != nil {
			return err
		}
		return l.move(u, rc, key, EntryIncome, nil, &dst, in.Amount, in.Note,
			[]BreakdownLine{{Target: dst.ID, Amount: in.Amount}})
	})
}

func (l *Ledger) RecordTransfer(ctx context.Context, in TransferInput) (*Receipt, error) {
	return l.run(ctx, "transfer", in.IdempotencyKey, func(ctx context.Context, u *unitOfWork, key string, rc *Receipt) error {
		if in.From == in.To {
			return reject(ErrInvalidTransfer, "cannot transfer from %s to itself", in.From)
		}
		src, err := u.bucket(ctx, in.From)
		if err != nil {
			return err
		}
		dst, err := u.bucket(ctx, in.To)
		if err != nil {
			return err
		}
		return l.move(u, rc, key, EntryTransfer, &src, &dst, in.Amount, in.Note,
			[]BreakdownLine{{Target: dst.ID, Amount: in.Amount}})
	})
}

// ── Pipeline ─────────────────────────────────────────────────────────────────

// payRecord runs the payment pipeline for one record inside unit u.
func (l *Ledger) payRecord(ctx context.Context, u *unitOfWork, rc *Receipt, key, recordID string, amount decimal.Decimal, sourceID, note string) error {
	rec, err := u.record(ctx, recordID)
	if err != nil {
		return err
	}

	// 1. Distribution
	dist, err := ComputeDistribution(amount, rec)
	if err != nil {
		return err
	}

	// 2. Balances
	var source *Bucket
	if sourceID != "" {
		b, err := u.bucket(ctx, sourceID)
		if err != nil {
			return err
		}
		source = &b
	}
	targets := make(map[string]Bucket, len(dist.Shares))
	for _, s := range dist.Shares {
		b, err := u.bucket(ctx, s.BucketID)
		if err != nil {
			return err
		}
		targets[s.BucketID] = b
	}
	res, err := ApplyPayment(rec, dist, source, targets)
	if err != nil {
		return err
	}

	// 3. Entry
	entry, err := l.recorder.Record(EntryInput{
		IdempotencyKey: key,
		Type:           EntryPayment,
		Amount:         amount,
		SourceBucket:   sourceID,
		RecordID:       rec.ID,
		Breakdown:      BreakdownFromDistribution(dist),
		Note:           note,
	})
	if err != nil {
		return err
	}

	res.Record.UpdatedAt = entry.CreatedAt
	u.putRecord(res.Record)
	for _, b := range res.Buckets {
		u.putBucket(b)
	}
	u.addEntry(entry)
	rc.Distributions = append(rc.Distributions, dist)
	return nil
}

func (l *Ledger) move(u *unitOfWork, rc *Receipt, key string, kind EntryType, source, target *Bucket, amount decimal.Decimal, note string, breakdown []BreakdownLine) error {
	changed, err := ApplyMovement(kind, source, target, amount)
	if err != nil {
		return err
	}
	sourceID := ""
	if source != nil {
		sourceID = source.ID
	}
	entry, err := l.recorder.Record(EntryInput{
		IdempotencyKey: key,
		Type:           kind,
		Amount:         amount,
		SourceBucket:   sourceID,
		Breakdown:      breakdown,
		Note:           note,
	})
	if err != nil {
		return err
	}
	for _, b := range changed {
		u.putBucket(b)
	}
	u.addEntry(entry)
	return nil
}

// run executes fn in one atomic unit, claiming the idempotency key first and
// retrying the whole unit on ErrConcurrentModification up to MaxAttempts times.
func (l *Ledger) run(ctx context.Context, op, key string, fn func(ctx context.Context, u *unitOfWork, key string, rc *Receipt) error) (*Receipt, error) {
	if key == "" {
		key = uuid.NewString()
	}

	var (
		receipt *Receipt
		err     error
	)
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		err = l.store.RunAtomic(ctx, func(ctx context.Context, tx StoreTx) error {
			receipt = &Receipt{}
			u := newUnitOfWork(tx)
			if err := tx.ClaimIdempotencyKey(ctx, key, op); err != nil {
				return err
			}
			if err := fn(ctx, u, key, receipt); err != nil {
				return err
			}
			if err := u.flush(ctx); err != nil {
				return err
			}
			receipt.Entries = u.entries
			receipt.Records = u.changedRecords()
			receipt.Buckets = u.changedBuckets()
			return nil
		})
		l.obs.ObserveAtomic(op, time.Since(start))

		if err == nil {
			l.obs.CommandCommitted(op)
			l.log.Info("ledger command committed",
				zap.String("op", op),
				zap.String("idempotency_key", key),
				zap.Strings("entries", entryIDs(receipt.Entries)),
				zap.Int("attempt", attempt))
			return receipt, nil
		}
		if !errors.Is(err, ErrConcurrentModification) || ctx.Err() != nil {
			break
		}
		if attempt < l.cfg.MaxAttempts {
			l.obs.CommandRetried(op)
			l.log.Warn("ledger command lost a concurrent update, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}

	code := ErrorCode(err)
	l.obs.CommandRejected(op, code)
	l.log.Debug("ledger command rejected",
		zap.String("op", op),
		zap.String("code", code),
		zap.Error(err))
	return nil, err
}

// resolveParty returns the party with id, or finds one by name, creating it when unknown.
func (l *Ledger) nextNumber(ctx context.Context, tx StoreTx, kind RecordKind) (string, error) {
	seq, err := tx.NextRecordNumber(ctx, kind)
	if err != nil {
		return "", fmt.Errorf("failed to number %s: %w", kind, err)
	}
	return RecordNumber(kind, seq), nil
}

func (l *Ledger) resolveParty(ctx context.Context, tx StoreTx, kind PartyKind, id, name string) (Party, error) {
	if id != "" {
		p, err := tx.GetParty(ctx, id)
		if err != nil {
			return Party{}, err
		}
		if p.Kind != kind {
			return Party{}, reject(ErrInvalidRecord, "party %s is a %s, not a %s", p.ID, p.Kind, kind)
		}
		return p, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return Party{}, reject(ErrInvalidRecord, "%s name is required", kind)
	}
	p, err := tx.FindParty(ctx, kind, name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Party{}, fmt.Errorf("failed to look up %s %q: %w", kind, name, err)
	}

	p = Party{ID: uuid.NewString(), Kind: kind, Name: name, CreatedAt: l.recorder.Now()}
	if err := tx.InsertParty(ctx, p); err != nil {
		return Party{}, fmt.Errorf("failed to create %s %q: %w", kind, name, err)
	}
	l.log.Info("party created", zap.String("kind", string(kind)), zap.String("name", name), zap.String("id", p.ID))
	return p, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (l *Ledger) Buckets(ctx context.Context) ([]Bucket, error) {
	return l.store.ListBuckets(ctx)
}

func (l *Ledger) Bucket(ctx context.Context, id string) (Bucket, error) {
	return l.store.GetBucket(ctx, id)
}

func (l *Ledger) Record(ctx context.Context, id string) (Record, error) {
	return l.store.GetRecord(ctx, id)
}

func (l *Ledger) Records(ctx context.Context, f RecordFilter) ([]Record, error) {
	return l.store.ListRecords(ctx, f)
}

func (l *Ledger) Entries(ctx context.Context, f EntryFilter) ([]Transaction, error) {
	return l.store.ListEntries(ctx, f)
}

func (l *Ledger) Parties(ctx context.Context, kind PartyKind) ([]Party, error) {
	return l.store.ListParties(ctx, kind)
}

// PartyDebt derives a party's outstanding balance from its records.
func (l *Ledger) PartyDebt(ctx context.Context, partyID string) (PartyDebt, error) {
	p, err := l.store.GetParty(ctx, partyID)
	if err != nil {
		return PartyDebt{}, err
	}
	recs, err := l.store.ListRecords(ctx, RecordFilter{PartyID: partyID})
	if err != nil {
		return PartyDebt{}, err
	}
	return summarizeDebt(p, recs), nil
}

// PartyDebts returns the derived debt of every party of a kind.
func (l *Ledger) PartyDebts(ctx context.Context, kind PartyKind) ([]PartyDebt, error) {
	parties, err := l.store.ListParties(ctx, kind)
	if err != nil {
		return nil, err
	}
	recs, err := l.store.ListRecords(ctx, RecordFilter{})
	if err != nil {
		return nil, err
	}
	byParty := make(map[string][]Record)
	for _, r := range recs {
		byParty[r.PartyID] = append(byParty[r.PartyID], r)
	}
	out := make([]PartyDebt, 0, len(parties))
	for _, p := range parties {
		out = append(out, summarizeDebt(p, byParty[p.ID]))
	}
	return out, nil
}

func summarizeDebt(p Party, recs []Record) PartyDebt {
	d := PartyDebt{Party: p, Total: decimal.Zero, Paid: decimal.Zero}
	for _, r := range recs {
		d.Total = d.Total.Add(r.Total)
		d.Paid = d.Paid.Add(r.PaidToDate)
		if r.Status != StatusPaid {
			d.OpenRecords++
		}
	}
	d.Outstanding = d.Total.Sub(d.Paid)
	return d
}

// Reconcile replays the whole ledger and reports drift against stored balances.
func (l *Ledger) Reconcile(ctx context.Context) (ReconcileReport, error) {
	buckets, err := l.store.ListBuckets(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	recs, err := l.store.ListRecords(ctx, RecordFilter{})
	if err != nil {
		return ReconcileReport{}, err
	}
	entries, err := l.store.ListEntries(ctx, EntryFilter{})
	if err != nil {
		return ReconcileReport{}, err
	}
	report := Reconcile(buckets, recs, entries)
	if !report.OK() {
		l.log.Warn("ledger drift detected",
			zap.Int("bucket_drifts", len(report.BucketDrifts)),
			zap.Int("record_drifts", len(report.RecordDrifts)),
			zap.Int("unbalanced_entries", len(report.UnbalancedEntry)))
	}
	return report, nil
}

// EnsureBuckets creates any missing bucket from buckets.
func (l *Ledger) EnsureBuckets(ctx context.Context, buckets []Bucket) error {
	for _, b := range buckets {
		if err := l.store.EnsureBucket(ctx, b); err != nil {
			return fmt.Errorf("failed to ensure bucket %s: %w", b.ID, err)
		}
	}
	return nil
}

func entryIDs(entries []Transaction) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func noteOr(note, fallback string) string {
	if strings.TrimSpace(note) != "" {
		return note
	}
	return fallback
}
