package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		unique    bool
		retryable bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, true, false},
		{"wrapped unique violation", fmt.Errorf("failed to insert: %w", &pgconn.PgError{Code: "23505"}), true, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, false, true},
		{"deadlock", fmt.Errorf("failed to update: %w", &pgconn.PgError{Code: "40P01"}), false, true},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, false, true},
		{"check violation", &pgconn.PgError{Code: "23514"}, false, false},
		{"plain error", errors.New("boom"), false, false},
		{"nil", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unique, IsUniqueViolation(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}
