package postgres

import (
	"errors"
	"fmt"
	"testing"

	"flowdistributor/internal/core"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		constraint string
		want       error
	}{
		{"serialization failure", "40001", "", core.ErrConcurrentModification},
		{"deadlock", "40P01", "", core.ErrConcurrentModification},
		{"duplicate idempotency key", "23505", "idempotency_keys_pkey", core.ErrDuplicateTransaction},
		{"party created concurrently", "23505", "parties_kind_name_key", core.ErrConcurrentModification},
		{"record number taken", "23505", "records_number_key", core.ErrConcurrentModification},
		{"bucket overdrawn", "23514", "buckets_account_capital_non_negative", core.ErrInsufficientFunds},
		{"record overpaid", "23514", "records_paid_within_total", core.ErrOverpayment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: tt.code, ConstraintName: tt.constraint}
			err := mapError(fmt.Errorf("failed to create client %q: %w", "Juan", pgErr))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("other unique violations pass through", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "buckets_pkey"}
		err := mapError(pgErr)
		assert.Same(t, pgErr, err)
		assert.False(t, errors.Is(err, core.ErrConcurrentModification))
	})
}
