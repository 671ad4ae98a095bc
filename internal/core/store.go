package core

import (
	"context"
)

// StoreTx is the view of the store inside one atomic unit. Updates are conditional on
// the version the caller read: a stale version fails with ErrConcurrentModification
// and the whole unit is rolled back.
type StoreTx interface {
	// ClaimIdempotencyKey records key as used by operation. A key seen before
	// fails with ErrDuplicateTransaction.
	ClaimIdempotencyKey(ctx context.Context, key, operation string) error

	GetRecord(ctx context.Context, id string) (Record, error)
	// ListOpenRecords returns the not-yet-paid records of a party, oldest first.
	ListOpenRecords(ctx context.Context, kind RecordKind, partyID string) ([]Record, error)
	// NextRecordNumber advances the per-kind record counter and returns the new
	// value. It is gapless: a rolled-back unit gives its number back.
	NextRecordNumber(ctx context.Context, kind RecordKind) (int64, error)
	InsertRecord(ctx context.Context, r Record) error
	// UpdateRecord writes PaidToDate and Status where version = r.Version and bumps it.
	UpdateRecord(ctx context.Context, r Record) error

	GetBucket(ctx context.Context, id string) (Bucket, error)
	// UpdateBucket writes the balances where version = b.Version and bumps it.
	UpdateBucket(ctx context.Context, b Bucket) error

	GetParty(ctx context.Context, id string) (Party, error)
	// FindParty looks a party up by kind and case-insensitive name.
	FindParty(ctx context.Context, kind PartyKind, name string) (Party, error)
	InsertParty(ctx context.Context, p Party) error

	InsertEntry(ctx context.Context, t Transaction) error
}

// Store persists records, buckets, parties and ledger entries. Every mutation goes
// through RunAtomic, which commits fn's writes all together or not at all.
type Store interface {
	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error

	ListBuckets(ctx context.Context) ([]Bucket, error)
	GetBucket(ctx context.Context, id string) (Bucket, error)
	// EnsureBucket creates b if no bucket with its ID exists. Existing balances are untouched.
	EnsureBucket(ctx context.Context, b Bucket) error

	GetRecord(ctx context.Context, id string) (Record, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]Record, error)
	ListEntries(ctx context.Context, f EntryFilter) ([]Transaction, error)
	GetParty(ctx context.Context, id string) (Party, error)
	ListParties(ctx context.Context, kind PartyKind) ([]Party, error)

	Close() error
}

// DefaultBuckets returns the banks and vaults a fresh installation starts with.
func DefaultBuckets() []Bucket {
	return []Bucket{
		{ID: "boveda_monte", Name: "Bóveda Monte", Kind: BucketKindAccount},
		{ID: "boveda_usa", Name: "Bóveda USA", Kind: BucketKindAccount},
		{ID: "utilidades", Name: "Utilidades", Kind: BucketKindAccount},
		{ID: "fletes", Name: "Fletes", Kind: BucketKindAccount},
		{ID: "azteca", Name: "Azteca", Kind: BucketKindAccount},
		{ID: "leftie", Name: "Leftie", Kind: BucketKindAccount},
		{ID: "profit", Name: "Profit", Kind: BucketKindAccount},
		{ID: "almacen_monte", Name: "Almacén Monte", Kind: BucketKindFund},
	}
}
