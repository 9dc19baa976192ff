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

// ClaimResult is the outcome of a scarcity claim. Denial is not an error.
type ClaimResult struct {
	Granted bool
	Serial  *int
}

// ScarcityRepository is the authority on how many copies of an item exist.
type ScarcityRepository struct {
	pool *pgxpool.Pool
}

// NewScarcityRepository creates a new ScarcityRepository instance.
func NewScarcityRepository(pool *pgxpool.Pool) *ScarcityRepository {
	return &ScarcityRepository{pool: pool}
}

// TryClaim reserves one copy of the item inside the caller's transaction.
// Limited items receive the post-increment issued count as a 1-based serial;
// a rollback of tx gives the edition back, so serials stay gapless.
// Each tier is a single conditional UPDATE; contenders queue on the row lock
// and re-check the predicate once the holder commits or rolls back.
func (r *ScarcityRepository) TryClaim(ctx context.Context, tx db.Querier, itemID int64, tier model.ScarcityTier) (ClaimResult, error) {
	const claimLimited = `
		UPDATE scarcity_counters
		SET issued_count = issued_count + 1, updated_at = NOW()
		WHERE item_definition_id = $1
		  AND max_editions IS NOT NULL
		  AND issued_count < max_editions
		RETURNING issued_count
	`
	const claimUnique = `
		UPDATE scarcity_counters
		SET claimed = TRUE, issued_count = 1, updated_at = NOW()
		WHERE item_definition_id = $1 AND NOT claimed
		RETURNING issued_count
	`

	switch tier {
	case model.ScarcityUnlimited:
		return ClaimResult{Granted: true}, nil

	case model.ScarcityLimited:
		var serial int
		err := tx.QueryRow(ctx, claimLimited, itemID).Scan(&serial)
		if errors.Is(err, pgx.ErrNoRows) {
			return ClaimResult{}, nil
		}
		if err != nil {
			return ClaimResult{}, fmt.Errorf("failed to claim limited edition: %w", err)
		}
		return ClaimResult{Granted: true, Serial: &serial}, nil

	case model.ScarcityUnique:
		var issued int
		err := tx.QueryRow(ctx, claimUnique, itemID).Scan(&issued)
		if errors.Is(err, pgx.ErrNoRows) {
			return ClaimResult{}, nil
		}
		if err != nil {
			return ClaimResult{}, fmt.Errorf("failed to claim unique item: %w", err)
		}
		return ClaimResult{Granted: true}, nil
	}

	return ClaimResult{}, fmt.Errorf("unknown scarcity tier %q", tier)
}

// GetCounter reads one counter.
func (r *ScarcityRepository) GetCounter(ctx context.Context, itemID int64) (*model.ScarcityCounter, error) {
	const query = `
		SELECT item_definition_id, issued_count, max_editions, claimed
		FROM scarcity_counters
		WHERE item_definition_id = $1
	`

	var c model.ScarcityCounter
	err := r.pool.QueryRow(ctx, query, itemID).Scan(&c.ItemDefinitionID, &c.IssuedCount, &c.MaxEditions, &c.Claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get scarcity counter: %w", err)
	}
	return &c, nil
}

// Snapshot returns the issuance view of a collection for display.
func (r *ScarcityRepository) Snapshot(ctx context.Context, collectionID string) ([]model.ScarcityView, error) {
	const query = `
		SELECT d.id, d.item_number, d.name, d.rarity, d.scarcity_tier,
		       c.issued_count, c.max_editions, c.claimed
		FROM item_definitions d
		JOIN scarcity_counters c ON c.item_definition_id = d.id
		WHERE d.collection_id = $1
		ORDER BY d.item_number
	`

	rows, err := r.pool.Query(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get scarcity snapshot: %w", err)
	}
	defer rows.Close()

	var views []model.ScarcityView
	for rows.Next() {
		var v model.ScarcityView
		err := rows.Scan(&v.ItemDefinitionID, &v.ItemNumber, &v.Name, &v.Rarity, &v.ScarcityTier,
			&v.IssuedCount, &v.MaxEditions, &v.Claimed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scarcity view: %w", err)
		}
		views = append(views, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scarcity views: %w", err)
	}

	if len(views) == 0 {
		return nil, ErrCollectionNotFound
	}
	return views, nil
}
