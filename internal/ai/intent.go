package ai

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type IntentKind string

const (
	IntentSalePayment        IntentKind = "sale_payment"
	IntentClientPayment      IntentKind = "client_payment"
	IntentDistributorPayment IntentKind = "distributor_payment"
	IntentExpense            IntentKind = "expense"
	IntentIncome             IntentKind = "income"
	IntentTransfer           IntentKind = "transfer"
	IntentClarify            IntentKind = "clarify"
)

// PaymentIntent is the model's reading of a natural-language money movement.
// Every field is always present in the model output; unused ones are empty strings.
type PaymentIntent struct {
	Kind          IntentKind `json:"kind" jsonschema:"enum=sale_payment,enum=client_payment,enum=distributor_payment,enum=expense,enum=income,enum=transfer,enum=clarify"`
	PartyName     string     `json:"party_name" jsonschema:"description=Client or distributor name as written by the user"`
	RecordNumber  string     `json:"record_number" jsonschema:"description=Sale (V-...) or purchase order (OC-...) number if mentioned"`
	SourceBucket  string     `json:"source_bucket" jsonschema:"description=Bucket id the money leaves from"`
	TargetBucket  string     `json:"target_bucket" jsonschema:"description=Bucket id the money arrives in"`
	Amount        string     `json:"amount" jsonschema:"description=Exact amount with at most two decimals, e.g. 500.00"`
	Note          string     `json:"note"`
	Confidence    float64    `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Reasoning     string     `json:"reasoning"`
	Clarification string     `json:"clarification" jsonschema:"description=Question for the user when kind is clarify"`
}

// Normalize trims whitespace and lowercases identifiers.
func (p *PaymentIntent) Normalize() {
	p.Kind = IntentKind(strings.ToLower(strings.TrimSpace(string(p.Kind))))
	p.PartyName = strings.TrimSpace(p.PartyName)
	p.RecordNumber = strings.ToUpper(strings.TrimSpace(p.RecordNumber))
	p.SourceBucket = strings.ToLower(strings.TrimSpace(p.SourceBucket))
	p.TargetBucket = strings.ToLower(strings.TrimSpace(p.TargetBucket))
	p.Amount = strings.ReplaceAll(strings.TrimSpace(p.Amount), ",", "")
	p.Note = strings.TrimSpace(p.Note)
	p.Clarification = strings.TrimSpace(p.Clarification)
}

// Validate checks that the intent carries what its kind needs.
func (p *PaymentIntent) Validate() error {
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %v", p.Confidence)
	}
	if p.Kind == IntentClarify {
		if p.Clarification == "" {
			return fmt.Errorf("clarify intent needs a question")
		}
		return nil
	}

	if _, err := p.ParsedAmount(); err != nil {
		return err
	}
	switch p.Kind {
	case IntentSalePayment:
		if p.RecordNumber == "" {
			return fmt.Errorf("sale payment needs a record number")
		}
	case IntentClientPayment:
		if p.PartyName == "" {
			return fmt.Errorf("client payment needs a client name")
		}
	case IntentDistributorPayment:
		if p.PartyName == "" && p.RecordNumber == "" {
			return fmt.Errorf("distributor payment needs a distributor or purchase order")
		}
		if p.SourceBucket == "" {
			return fmt.Errorf("distributor payment needs a source bucket")
		}
	case IntentExpense:
		if p.SourceBucket == "" {
			return fmt.Errorf("expense needs a source bucket")
		}
	case IntentIncome:
		if p.TargetBucket == "" {
			return fmt.Errorf("income needs a target bucket")
		}
	case IntentTransfer:
		if p.SourceBucket == "" || p.TargetBucket == "" {
			return fmt.Errorf("transfer needs source and target buckets")
		}
		if p.SourceBucket == p.TargetBucket {
			return fmt.Errorf("transfer source and target are both %s", p.SourceBucket)
		}
	default:
		return fmt.Errorf("unknown intent kind %q", p.Kind)
	}
	return nil
}

// ParsedAmount returns the amount as a positive decimal with at most two places.
func (p *PaymentIntent) ParsedAmount() (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", p.Amount, err)
	}
	if !amt.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", p.Amount)
	}
	if !amt.Equal(amt.Round(2)) {
		return decimal.Zero, fmt.Errorf("amount %s has more than two decimals", p.Amount)
	}
	return amt, nil
}
