package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collectible-market/internal/model"
	"collectible-market/internal/pkg/db"
)

// PaymentRepository stores applied external payments, keyed by their external id.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new PaymentRepository instance.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Record inserts the payment unless its external id was already recorded.
// applied is false for a replay; the existing record is returned in that case.
func (r *PaymentRepository) Record(ctx context.Context, tx db.Querier, externalID string, userID int64, amount int64) (*model.PaymentCredit, bool, error) {
	const insert = `
		INSERT INTO payment_credits (external_payment_id, user_id, amount, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (external_payment_id) DO NOTHING
		RETURNING id, external_payment_id, user_id, amount, created_at
	`

	var p model.PaymentCredit
	err := tx.QueryRow(ctx, insert, externalID, userID, amount).Scan(
		&p.ID, &p.ExternalPaymentID, &p.UserID, &p.Amount, &p.CreatedAt,
	)
	if err == nil {
		return &p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to record payment: %w", err)
	}

	existing, err := r.getByExternalID(ctx, tx, externalID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByExternalID retrieves a recorded payment.
func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*model.PaymentCredit, error) {
	return r.getByExternalID(ctx, r.pool, externalID)
}

func (r *PaymentRepository) getByExternalID(ctx context.Context, q db.Querier, externalID string) (*model.PaymentCredit, error) {
	const query = `
		SELECT id, external_payment_id, user_id, amount, created_at
		FROM payment_credits
		WHERE external_payment_id = $1
	`

	var p model.PaymentCredit
	err := q.QueryRow(ctx, query, externalID).Scan(
		&p.ID, &p.ExternalPaymentID, &p.UserID, &p.Amount, &p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment %s: %w", externalID, err)
	}
	return &p, nil
}
