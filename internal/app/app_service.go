package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"flowdistributor/internal/ai"
	"flowdistributor/internal/core"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrAgentUnavailable is returned by the AI operations when no OpenAI key is configured.
var ErrAgentUnavailable = errors.New("AI agent is not configured")

type appService struct {
	ledger *core.Ledger
	agent  ai.Interpreter
	log    *zap.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
// agent may be nil; the AI operations then fail with ErrAgentUnavailable.
func NewAppService(ledger *core.Ledger, agent ai.Interpreter, log *zap.Logger) ApplicationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &appService{ledger: ledger, agent: agent, log: log}
}

func toCoreLines(lines []LineInput) []core.LineInput {
	out := make([]core.LineInput, len(lines))
	for i, l := range lines {
		out[i] = core.LineInput{
			Product:     l.Product,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			UnitCost:    l.UnitCost,
			UnitFreight: l.UnitFreight,
		}
	}
	return out
}

// CreateSale records a sale and its optional initial payment.
func (s *appService) CreateSale(ctx context.Context, req CreateSaleRequest) (*core.Receipt, error) {
	return s.ledger.CreateSale(ctx, core.SaleInput{
		IdempotencyKey: req.IdempotencyKey,
		ClientID:       req.ClientID,
		ClientName:     req.ClientName,
		Lines:          toCoreLines(req.Lines),
		Notes:          req.Notes,
		InitialPayment: req.InitialPayment,
		PayInFull:      req.PayInFull,
	})
}

// CreatePurchaseOrder records a purchase order and its optional initial payment.
func (s *appService) CreatePurchaseOrder(ctx context.Context, req CreatePurchaseOrderRequest) (*core.Receipt, error) {
	return s.ledger.CreatePurchaseOrder(ctx, core.PurchaseOrderInput{
		IdempotencyKey:  req.IdempotencyKey,
		DistributorID:   req.DistributorID,
		DistributorName: req.DistributorName,
		Lines:           toCoreLines(req.Lines),
		Notes:           req.Notes,
		InitialPayment:  req.InitialPayment,
		SourceBucket:    req.SourceBucket,
	})
}

func (s *appService) PaySale(ctx context.Context, req PaySaleRequest) (*core.Receipt, error) {
	return s.ledger.PaySale(ctx, core.SalePaymentInput{
		IdempotencyKey: req.IdempotencyKey,
		RecordID:       req.RecordID,
		Amount:         req.Amount,
		Note:           req.Note,
	})
}

func (s *appService) PayClient(ctx context.Context, req PayClientRequest) (*core.Receipt, error) {
	return s.ledger.PayClient(ctx, core.ClientPaymentInput{
		IdempotencyKey: req.IdempotencyKey,
		ClientID:       req.ClientID,
		Amount:         req.Amount,
		Note:           req.Note,
	})
}

func (s *appService) PayDistributor(ctx context.Context, req PayDistributorRequest) (*core.Receipt, error) {
	return s.ledger.PayDistributor(ctx, core.DistributorPaymentInput{
		IdempotencyKey: req.IdempotencyKey,
		DistributorID:  req.DistributorID,
		RecordID:       req.RecordID,
		SourceBucket:   req.SourceBucket,
		Amount:         req.Amount,
		Note:           req.Note,
	})
}

func (s *appService) RecordExpense(ctx context.Context, req ExpenseRequest) (*core.Receipt, error) {
	return s.ledger.RecordExpense(ctx, core.ExpenseInput{
		IdempotencyKey: req.IdempotencyKey,
		BucketID:       req.BucketID,
		Amount:         req.Amount,
		Note:           req.Note,
	})
}

func (s *appService) RecordIncome(ctx context.Context, req IncomeRequest) (*core.Receipt, error) {
	return s.ledger.RecordIncome(ctx, core.IncomeInput{
		IdempotencyKey: req.IdempotencyKey,
		BucketID:       req.BucketID,
		Amount:         req.Amount,
		Note:           req.Note,
	})
}

func (s *appService) RecordTransfer(ctx context.Context, req TransferRequest) (*core.Receipt, error) {
	return s.ledger.RecordTransfer(ctx, core.TransferInput{
		IdempotencyKey: req.IdempotencyKey,
		From:           req.From,
		To:             req.To,
		Amount:         req.Amount,
		Note:           req.Note,
	})
}

// ListBuckets returns every bucket with its balances.
func (s *appService) ListBuckets(ctx context.Context) (*BucketsResult, error) {
	buckets, err := s.ledger.Buckets(ctx)
	if err != nil {
		return nil, err
	}
	return &BucketsResult{Buckets: buckets}, nil
}

// GetBucketStatement returns one bucket's statement.
func (s *appService) GetBucketStatement(ctx context.Context, bucketID string, from, to time.Time) (*StatementResult, error) {
	b, err := s.ledger.Bucket(ctx, bucketID)
	if err != nil {
		return nil, err
	}
	lines, err := s.ledger.BucketStatement(ctx, bucketID, from, to)
	if err != nil {
		return nil, err
	}
	return &StatementResult{Bucket: b, Lines: lines}, nil
}

func (s *appService) GetRecord(ctx context.Context, id string) (*core.Record, error) {
	r, err := s.ledger.Record(ctx, id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *appService) ListRecords(ctx context.Context, filter core.RecordFilter) (*RecordsResult, error) {
	recs, err := s.ledger.Records(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &RecordsResult{Records: recs}, nil
}

func (s *appService) ListEntries(ctx context.Context, filter core.EntryFilter) (*EntriesResult, error) {
	entries, err := s.ledger.Entries(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &EntriesResult{Entries: entries}, nil
}

// entriesCSVHeader is the column layout of ExportEntriesCSV.
var entriesCSVHeader = []string{
	"entry_id", "created_at", "type", "amount", "source_bucket", "record_id",
	"target", "target_amount", "note", "idempotency_key",
}

// ExportEntriesCSV writes one row per breakdown line so the file sums per target.
func (s *appService) ExportEntriesCSV(ctx context.Context, filter core.EntryFilter, w io.Writer) error {
	entries, err := s.ledger.Entries(ctx, filter)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(entriesCSVHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, e := range entries {
		for _, l := range e.Breakdown {
			row := []string{
				e.ID,
				e.CreatedAt.UTC().Format(time.RFC3339),
				string(e.Type),
				e.Amount.StringFixed(2),
				e.SourceBucket,
				e.RecordID,
				l.Target,
				l.Amount.StringFixed(2),
				e.Note,
				e.IdempotencyKey,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("failed to write csv row for entry %s: %w", e.ID, err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *appService) ListParties(ctx context.Context, kind core.PartyKind) (*PartiesResult, error) {
	debts, err := s.ledger.PartyDebts(ctx, kind)
	if err != nil {
		return nil, err
	}
	return &PartiesResult{Parties: debts}, nil
}

func (s *appService) GetDashboard(ctx context.Context) (*core.Summary, error) {
	summary, err := s.ledger.Summary(ctx)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *appService) Reconcile(ctx context.Context) (*core.ReconcileReport, error) {
	report, err := s.ledger.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ── AI ──────────────────────────────────────────────────────────────────────

// InterpretPayment asks the agent to read text, then resolves the answer.
func (s *appService) InterpretPayment(ctx context.Context, text string) (*IntentResult, error) {
	if s.agent == nil {
		return nil, ErrAgentUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: nothing to interpret", core.ErrInvalidRecord)
	}

	known, err := s.knownContext(ctx)
	if err != nil {
		return nil, err
	}
	intent, err := s.agent.Interpret(ctx, text, known)
	if err != nil {
		return nil, fmt.Errorf("AI interpretation failed: %w", err)
	}

	plan, err := s.planIntent(ctx, *intent)
	if err != nil {
		return nil, err
	}
	s.log.Info("payment interpreted",
		zap.String("kind", string(intent.Kind)),
		zap.Float64("confidence", intent.Confidence),
		zap.Bool("ready", len(plan.problems) == 0))

	return &IntentResult{
		Intent:   *intent,
		Summary:  plan.summary,
		Ready:    len(plan.problems) == 0,
		Problems: plan.problems,
	}, nil
}

// ExecuteIntent resolves intent again (the store may have changed since it was
// interpreted) and runs the matching ledger command.
func (s *appService) ExecuteIntent(ctx context.Context, intent ai.PaymentIntent, idempotencyKey string) (*core.Receipt, error) {
	intent.Normalize()
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidRecord, err)
	}
	plan, err := s.planIntent(ctx, intent)
	if err != nil {
		return nil, err
	}
	if len(plan.problems) > 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, strings.Join(plan.problems, "; "))
	}

	switch intent.Kind {
	case ai.IntentSalePayment:
		return s.PaySale(ctx, PaySaleRequest{IdempotencyKey: idempotencyKey, RecordID: plan.recordID, Amount: plan.amount, Note: intent.Note})
	case ai.IntentClientPayment:
		return s.PayClient(ctx, PayClientRequest{IdempotencyKey: idempotencyKey, ClientID: plan.partyID, Amount: plan.amount, Note: intent.Note})
	case ai.IntentDistributorPayment:
		return s.PayDistributor(ctx, PayDistributorRequest{
			IdempotencyKey: idempotencyKey,
			DistributorID:  plan.partyID,
			RecordID:       plan.recordID,
			SourceBucket:   intent.SourceBucket,
			Amount:         plan.amount,
			Note:           intent.Note,
		})
	case ai.IntentExpense:
		return s.RecordExpense(ctx, ExpenseRequest{IdempotencyKey: idempotencyKey, BucketID: intent.SourceBucket, Amount: plan.amount, Note: intent.Note})
	case ai.IntentIncome:
		return s.RecordIncome(ctx, IncomeRequest{IdempotencyKey: idempotencyKey, BucketID: intent.TargetBucket, Amount: plan.amount, Note: intent.Note})
	case ai.IntentTransfer:
		return s.RecordTransfer(ctx, TransferRequest{
			IdempotencyKey: idempotencyKey,
			From:           intent.SourceBucket,
			To:             intent.TargetBucket,
			Amount:         plan.amount,
			Note:           intent.Note,
		})
	}
	return nil, fmt.Errorf("%w: intent %q cannot be executed", core.ErrInvalidRecord, intent.Kind)
}

// intentPlan is an intent with names and numbers resolved to IDs.
type intentPlan struct {
	amount   decimal.Decimal
	partyID  string
	recordID string
	summary  string
	problems []string
}

func (s *appService) planIntent(ctx context.Context, intent ai.PaymentIntent) (*intentPlan, error) {
	plan := &intentPlan{}
	if intent.Kind == ai.IntentClarify {
		plan.summary = intent.Clarification
		plan.problems = append(plan.problems, "needs clarification: "+intent.Clarification)
		return plan, nil
	}
	amount, err := intent.ParsedAmount()
	if err != nil {
		plan.problems = append(plan.problems, err.Error())
	}
	plan.amount = amount

	buckets, err := s.ledger.Buckets(ctx)
	if err != nil {
		return nil, err
	}
	checkBucket := func(id string) {
		if id == "" {
			return
		}
		for _, b := range buckets {
			if b.ID == id {
				return
			}
		}
		plan.problems = append(plan.problems, fmt.Sprintf("unknown bucket %q", id))
	}
	checkBucket(intent.SourceBucket)
	checkBucket(intent.TargetBucket)

	var partyKind core.PartyKind
	switch intent.Kind {
	case ai.IntentClientPayment, ai.IntentSalePayment:
		partyKind = core.PartyClient
	case ai.IntentDistributorPayment:
		partyKind = core.PartyDistributor
	}

	if intent.PartyName != "" && partyKind != "" {
		parties, err := s.ledger.Parties(ctx, partyKind)
		if err != nil {
			return nil, err
		}
		for _, p := range parties {
			if strings.EqualFold(strings.TrimSpace(p.Name), intent.PartyName) {
				plan.partyID = p.ID
				break
			}
		}
		if plan.partyID == "" && intent.Kind != ai.IntentSalePayment {
			plan.problems = append(plan.problems, fmt.Sprintf("unknown %s %q", partyKind, intent.PartyName))
		}
	}

	if intent.RecordNumber != "" {
		recs, err := s.ledger.Records(ctx, core.RecordFilter{})
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if strings.EqualFold(r.Number, intent.RecordNumber) {
				plan.recordID = r.ID
				break
			}
		}
		if plan.recordID == "" {
			plan.problems = append(plan.problems, fmt.Sprintf("unknown record %q", intent.RecordNumber))
		}
	}

	plan.summary = describeIntent(intent, amount)
	return plan, nil
}

func describeIntent(intent ai.PaymentIntent, amount decimal.Decimal) string {
	amt := amount.StringFixed(2)
	switch intent.Kind {
	case ai.IntentSalePayment:
		return fmt.Sprintf("Abono of %s on sale %s", amt, intent.RecordNumber)
	case ai.IntentClientPayment:
		return fmt.Sprintf("Abono of %s from client %s, oldest sales first", amt, intent.PartyName)
	case ai.IntentDistributorPayment:
		target := intent.PartyName
		if intent.RecordNumber != "" {
			target = intent.RecordNumber
		}
		return fmt.Sprintf("Payment of %s to %s from %s", amt, target, intent.SourceBucket)
	case ai.IntentExpense:
		return fmt.Sprintf("Expense of %s from %s", amt, intent.SourceBucket)
	case ai.IntentIncome:
		return fmt.Sprintf("Income of %s into %s", amt, intent.TargetBucket)
	case ai.IntentTransfer:
		return fmt.Sprintf("Transfer of %s from %s to %s", amt, intent.SourceBucket, intent.TargetBucket)
	}
	return string(intent.Kind)
}

// knownContext lists what the agent may refer to.
func (s *appService) knownContext(ctx context.Context) (ai.Context, error) {
	var known ai.Context

	buckets, err := s.ledger.Buckets(ctx)
	if err != nil {
		return known, err
	}
	for _, b := range buckets {
		known.Buckets = append(known.Buckets, fmt.Sprintf("%s (%s, %s)", b.ID, b.Name, b.Kind))
	}

	parties, err := s.ledger.Parties(ctx, "")
	if err != nil {
		return known, err
	}
	for _, p := range parties {
		if p.Kind == core.PartyClient {
			known.Clients = append(known.Clients, p.Name)
		} else {
			known.Distributors = append(known.Distributors, p.Name)
		}
	}

	recs, err := s.ledger.Records(ctx, core.RecordFilter{})
	if err != nil {
		return known, err
	}
	for _, r := range recs {
		if r.Status == core.StatusPaid {
			continue
		}
		known.OpenRecords = append(known.OpenRecords,
			fmt.Sprintf("%s %s outstanding %s", r.Number, r.PartyName, r.Outstanding().StringFixed(2)))
	}
	return known, nil
}
