package core

import (
	"context"
	"fmt"
)

// unitOfWork caches everything one atomic unit reads and writes each changed row
// exactly once at flush. A bucket touched by several payments in the same unit is
// therefore version-checked once, against the version first read.
type unitOfWork struct {
	tx StoreTx

	buckets     map[string]Bucket
	dirtyBucket map[string]bool
	bucketOrder []string

	records     map[string]Record
	dirtyRecord map[string]bool
	newRecord   map[string]bool
	recordOrder []string

	entries []Transaction
}

func newUnitOfWork(tx StoreTx) *unitOfWork {
	return &unitOfWork{
		tx:          tx,
		buckets:     make(map[string]Bucket),
		dirtyBucket: make(map[string]bool),
		records:     make(map[string]Record),
		dirtyRecord: make(map[string]bool),
		newRecord:   make(map[string]bool),
	}
}

func (u *unitOfWork) bucket(ctx context.Context, id string) (Bucket, error) {
	if b, ok := u.buckets[id]; ok {
		return b, nil
	}
	b, err := u.tx.GetBucket(ctx, id)
	if err != nil {
		return Bucket{}, err
	}
	u.buckets[id] = b
	u.bucketOrder = append(u.bucketOrder, id)
	return b, nil
}

func (u *unitOfWork) putBucket(b Bucket) {
	if _, ok := u.buckets[b.ID]; !ok {
		u.bucketOrder = append(u.bucketOrder, b.ID)
	}
	u.buckets[b.ID] = b
	u.dirtyBucket[b.ID] = true
}

func (u *unitOfWork) record(ctx context.Context, id string) (Record, error) {
	if r, ok := u.records[id]; ok {
		return r, nil
	}
	r, err := u.tx.GetRecord(ctx, id)
	if err != nil {
		return Record{}, err
	}
	u.records[id] = r
	u.recordOrder = append(u.recordOrder, id)
	return r, nil
}

// adopt caches a record read outside record(), e.g. from ListOpenRecords.
func (u *unitOfWork) adopt(r Record) Record {
	if cached, ok := u.records[r.ID]; ok {
		return cached
	}
	u.records[r.ID] = r
	u.recordOrder = append(u.recordOrder, r.ID)
	return r
}

func (u *unitOfWork) addRecord(r Record) {
	if r.Version == 0 {
		r.Version = 1
	}
	u.records[r.ID] = r
	u.recordOrder = append(u.recordOrder, r.ID)
	u.newRecord[r.ID] = true
}

func (u *unitOfWork) putRecord(r Record) {
	if _, ok := u.records[r.ID]; !ok {
		u.recordOrder = append(u.recordOrder, r.ID)
	}
	u.records[r.ID] = r
	u.dirtyRecord[r.ID] = true
}

func (u *unitOfWork) addEntry(t Transaction) {
	u.entries = append(u.entries, t)
}

// changedBuckets returns the final state of every bucket written by this unit.
func (u *unitOfWork) changedBuckets() []Bucket {
	var out []Bucket
	for _, id := range u.bucketOrder {
		if u.dirtyBucket[id] {
			out = append(out, u.buckets[id])
		}
	}
	return out
}

func (u *unitOfWork) flush(ctx context.Context) error {
	// 1. New records first; entries reference them.
	for _, id := range u.recordOrder {
		if u.newRecord[id] {
			if err := u.tx.InsertRecord(ctx, u.records[id]); err != nil {
				return fmt.Errorf("failed to insert record %s: %w", id, err)
			}
		}
	}
	// 2. Conditional updates
	for _, id := range u.recordOrder {
		if u.dirtyRecord[id] && !u.newRecord[id] {
			r := u.records[id]
			if err := u.tx.UpdateRecord(ctx, r); err != nil {
				return fmt.Errorf("failed to update record %s: %w", id, err)
			}
			r.Version++
			u.records[id] = r
		}
	}
	for _, id := range u.bucketOrder {
		if u.dirtyBucket[id] {
			b := u.buckets[id]
			if err := u.tx.UpdateBucket(ctx, b); err != nil {
				return fmt.Errorf("failed to update bucket %s: %w", id, err)
			}
			b.Version++
			u.buckets[id] = b
		}
	}
	// 3. Ledger entries
	for _, e := range u.entries {
		if err := u.tx.InsertEntry(ctx, e); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
		}
	}
	return nil
}

// changedRecords returns the final state of every record created or written by this unit.
func (u *unitOfWork) changedRecords() []Record {
	var out []Record
	for _, id := range u.recordOrder {
		if u.dirtyRecord[id] || u.newRecord[id] {
			out = append(out, u.records[id])
		}
	}
	return out
}
