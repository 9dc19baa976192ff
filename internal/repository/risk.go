package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"collectible-market/internal/model"
)

// RiskRepository stores risk signals raised by rule evaluation.
type RiskRepository struct {
	pool *pgxpool.Pool
}

// NewRiskRepository creates a new RiskRepository instance.
func NewRiskRepository(pool *pgxpool.Pool) *RiskRepository {
	return &RiskRepository{pool: pool}
}

// Record inserts a risk signal and returns it with its ID and timestamp.
func (r *RiskRepository) Record(ctx context.Context, s model.RiskSignal) (*model.RiskSignal, error) {
	const query = `
		INSERT INTO risk_signals (user_id, action, user_item_id, listing_id, score, vetoed, reasons, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at
	`

	if s.Reasons == nil {
		s.Reasons = []string{}
	}
	reasons, err := json.Marshal(s.Reasons)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reasons: %w", err)
	}

	err = r.pool.QueryRow(ctx, query, s.UserID, s.Action, s.UserItemID, s.ListingID, s.Score, s.Vetoed, reasons).
		Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record risk signal: %w", err)
	}
	return &s, nil
}

// ListRecent returns the newest risk signals.
func (r *RiskRepository) ListRecent(ctx context.Context, limit int) ([]*model.RiskSignal, error) {
	const query = `
		SELECT id, user_id, action, user_item_id, listing_id, score, vetoed, reasons, created_at
		FROM risk_signals
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk signals: %w", err)
	}
	defer rows.Close()

	var signals []*model.RiskSignal
	for rows.Next() {
		var (
			s       model.RiskSignal
			reasons []byte
		)
		err := rows.Scan(&s.ID, &s.UserID, &s.Action, &s.UserItemID, &s.ListingID, &s.Score, &s.Vetoed, &reasons, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk signal: %w", err)
		}
		if err := json.Unmarshal(reasons, &s.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode reasons: %w", err)
		}
		signals = append(signals, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk signals: %w", err)
	}

	return signals, nil
}

// LastVetoedAt returns when a listing attempt on the item was last rejected, or nil.
func (r *RiskRepository) LastVetoedAt(ctx context.Context, userItemID int64) (*time.Time, error) {
	const query = `
		SELECT MAX(created_at) FROM risk_signals
		WHERE user_item_id = $1 AND action = 'LIST' AND vetoed
	`

	var at *time.Time
	if err := r.pool.QueryRow(ctx, query, userItemID).Scan(&at); err != nil {
		return nil, fmt.Errorf("failed to get last rejection: %w", err)
	}
	return at, nil
}
