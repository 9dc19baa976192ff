package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collectible-market/internal/model"
	"collectible-market/internal/pkg/db"
)

// CatalogRepository handles collections, item definitions and pack tiers.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a new CatalogRepository instance.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// UpsertCollection creates the collection or renames an existing one.
func (r *CatalogRepository) UpsertCollection(ctx context.Context, id, name string) error {
	const query = `
		INSERT INTO collections (id, name, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`

	if _, err := r.pool.Exec(ctx, query, id, name); err != nil {
		return fmt.Errorf("failed to upsert collection %s: %w", id, err)
	}
	return nil
}

// EnsureItemDefinition inserts an item definition and its scarcity counter.
// Definitions are immutable once created: an existing (collection, number)
// pair is returned unchanged.
func (r *CatalogRepository) EnsureItemDefinition(ctx context.Context, tx db.Querier, def model.ItemDefinition, maxEditions *int) (*model.ItemDefinition, error) {
	const insert = `
		INSERT INTO item_definitions (collection_id, item_number, name, rarity, base_value, scarcity_tier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (collection_id, item_number) DO NOTHING
	`
	const selectDef = `
		SELECT id, collection_id, item_number, name, rarity, base_value, scarcity_tier
		FROM item_definitions
		WHERE collection_id = $1 AND item_number = $2
	`
	const insertCounter = `
		INSERT INTO scarcity_counters (item_definition_id, issued_count, max_editions, claimed, updated_at)
		VALUES ($1, 0, $2, FALSE, NOW())
		ON CONFLICT (item_definition_id) DO NOTHING
	`

	if _, err := tx.Exec(ctx, insert,
		def.CollectionID, def.ItemNumber, def.Name, def.Rarity, def.BaseValue, def.ScarcityTier); err != nil {
		return nil, fmt.Errorf("failed to insert item definition: %w", err)
	}

	var out model.ItemDefinition
	err := tx.QueryRow(ctx, selectDef, def.CollectionID, def.ItemNumber).Scan(
		&out.ID, &out.CollectionID, &out.ItemNumber, &out.Name, &out.Rarity, &out.BaseValue, &out.ScarcityTier,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load item definition: %w", err)
	}

	if _, err := tx.Exec(ctx, insertCounter, out.ID, maxEditions); err != nil {
		return nil, fmt.Errorf("failed to insert scarcity counter: %w", err)
	}

	return &out, nil
}

// GetItemDefinition retrieves an item definition by ID.
func (r *CatalogRepository) GetItemDefinition(ctx context.Context, id int64) (*model.ItemDefinition, error) {
	const query = `
		SELECT id, collection_id, item_number, name, rarity, base_value, scarcity_tier
		FROM item_definitions
		WHERE id = $1
	`

	var d model.ItemDefinition
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.CollectionID, &d.ItemNumber, &d.Name, &d.Rarity, &d.BaseValue, &d.ScarcityTier,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item definition: %w", err)
	}
	return &d, nil
}

// LoadCollectionPool returns every definition of a collection with its counter.
// Counter values are a point-in-time read and only advisory.
func (r *CatalogRepository) LoadCollectionPool(ctx context.Context, q db.Querier, collectionID string) ([]model.CatalogEntry, error) {
	const query = `
		SELECT d.id, d.collection_id, d.item_number, d.name, d.rarity, d.base_value, d.scarcity_tier,
		       c.issued_count, c.max_editions, c.claimed
		FROM item_definitions d
		JOIN scarcity_counters c ON c.item_definition_id = d.id
		WHERE d.collection_id = $1
		ORDER BY d.item_number
	`

	rows, err := q.Query(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection pool: %w", err)
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		var e model.CatalogEntry
		err := rows.Scan(
			&e.ID, &e.CollectionID, &e.ItemNumber, &e.Name, &e.Rarity, &e.BaseValue, &e.ScarcityTier,
			&e.Counter.IssuedCount, &e.Counter.MaxEditions, &e.Counter.Claimed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		e.Counter.ItemDefinitionID = e.ID
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog entries: %w", err)
	}

	return entries, nil
}

// UpsertPackTier creates or replaces a pack tier.
func (r *CatalogRepository) UpsertPackTier(ctx context.Context, tier model.PackTier) error {
	const query = `
		INSERT INTO pack_tiers (id, name, collection_id, price, weights, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			collection_id = EXCLUDED.collection_id,
			price = EXCLUDED.price,
			weights = EXCLUDED.weights,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
	`

	weights, err := json.Marshal(tier.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode pack weights: %w", err)
	}

	if _, err := r.pool.Exec(ctx, query,
		tier.ID, tier.Name, tier.CollectionID, tier.Price, weights, tier.IsActive); err != nil {
		return fmt.Errorf("failed to upsert pack tier %s: %w", tier.ID, err)
	}
	return nil
}

const packTierColumns = `id, name, collection_id, price, weights, is_active, updated_at`

func scanPackTier(row pgx.Row) (*model.PackTier, error) {
	var (
		t       model.PackTier
		weights []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.CollectionID, &t.Price, &weights, &t.IsActive, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(weights, &t.Weights); err != nil {
		return nil, fmt.Errorf("failed to decode pack weights: %w", err)
	}
	return &t, nil
}

// GetPackTier retrieves an active pack tier.
func (r *CatalogRepository) GetPackTier(ctx context.Context, q db.Querier, id string) (*model.PackTier, error) {
	const query = `SELECT ` + packTierColumns + ` FROM pack_tiers WHERE id = $1 AND is_active`

	t, err := scanPackTier(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackTierNotFound
		}
		return nil, fmt.Errorf("failed to get pack tier: %w", err)
	}
	return t, nil
}

// ListPackTiers returns the active pack tiers, cheapest first.
func (r *CatalogRepository) ListPackTiers(ctx context.Context) ([]*model.PackTier, error) {
	const query = `SELECT ` + packTierColumns + ` FROM pack_tiers WHERE is_active ORDER BY price, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pack tiers: %w", err)
	}
	defer rows.Close()

	var tiers []*model.PackTier
	for rows.Next() {
		t, err := scanPackTier(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pack tier: %w", err)
		}
		tiers = append(tiers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pack tiers: %w", err)
	}

	return tiers, nil
}
