package app

import (
	"flowdistributor/internal/ai"
	"flowdistributor/internal/core"
)

// BucketsResult is returned by ListBuckets.
type BucketsResult struct {
	Buckets []core.Bucket `json:"buckets"`
}

// StatementResult is returned by GetBucketStatement.
type StatementResult struct {
	Bucket core.Bucket          `json:"bucket"`
	Lines  []core.StatementLine `json:"lines"`
}

// RecordsResult is returned by ListRecords.
type RecordsResult struct {
	Records []core.Record `json:"records"`
}

// EntriesResult is returned by ListEntries.
type EntriesResult struct {
	Entries []core.Transaction `json:"entries"`
}

// PartiesResult is returned by ListParties.
type PartiesResult struct {
	Parties []core.PartyDebt `json:"parties"`
}

// IntentResult is returned by InterpretPayment.
// Ready is true when the intent resolved to known parties, records and buckets and can
// be executed as is; otherwise Problems says what is missing.
type IntentResult struct {
	Intent   ai.PaymentIntent `json:"intent"`
	Summary  string           `json:"summary"`
	Ready    bool             `json:"ready"`
	Problems []string         `json:"problems,omitempty"`
}
