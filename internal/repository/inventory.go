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

// InventoryRepository handles owned item persistence.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository creates a new InventoryRepository instance.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

const userItemColumns = `id, user_id, item_definition_id, serial, source, obtained_at`

func scanUserItem(row pgx.Row) (*model.UserItem, error) {
	var it model.UserItem
	if err := row.Scan(&it.ID, &it.UserID, &it.ItemDefinitionID, &it.Serial, &it.Source, &it.ObtainedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

// Grant adds an item to the user's inventory inside the caller's transaction.
// A duplicate (definition, serial) pair violates uq_user_items_serial.
func (r *InventoryRepository) Grant(ctx context.Context, tx db.Querier, userID, itemDefID int64, serial *int, source string) (*model.UserItem, error) {
	const query = `
		INSERT INTO user_items (user_id, item_definition_id, serial, source, obtained_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING ` + userItemColumns

	it, err := scanUserItem(tx.QueryRow(ctx, query, userID, itemDefID, serial, source))
	if err != nil {
		return nil, fmt.Errorf("failed to grant item: %w", err)
	}
	return it, nil
}

// Get retrieves a user item by ID.
func (r *InventoryRepository) Get(ctx context.Context, q db.Querier, userItemID int64) (*model.UserItem, error) {
	const query = `SELECT ` + userItemColumns + ` FROM user_items WHERE id = $1`

	it, err := scanUserItem(q.QueryRow(ctx, query, userItemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get user item: %w", err)
	}
	return it, nil
}

const ownedItemQuery = `
		SELECT i.id, i.user_id, i.item_definition_id, i.serial, i.source, i.obtained_at,
		       d.collection_id, d.name, d.rarity, d.base_value, d.scarcity_tier, l.id
		FROM user_items i
		JOIN item_definitions d ON d.id = i.item_definition_id
		LEFT JOIN listings l ON l.user_item_id = i.id AND l.status = 'ACTIVE'
`

func scanOwnedItem(row pgx.Row) (*model.OwnedItem, error) {
	var it model.OwnedItem
	err := row.Scan(
		&it.ID, &it.UserID, &it.ItemDefinitionID, &it.Serial, &it.Source, &it.ObtainedAt,
		&it.CollectionID, &it.Name, &it.Rarity, &it.BaseValue, &it.ScarcityTier, &it.ListingID,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// GetOwned retrieves a user item with its definition, whoever owns it.
func (r *InventoryRepository) GetOwned(ctx context.Context, userItemID int64) (*model.OwnedItem, error) {
	it, err := scanOwnedItem(r.pool.QueryRow(ctx, ownedItemQuery+` WHERE i.id = $1`, userItemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get owned item: %w", err)
	}
	return it, nil
}

// ListByUser returns the user's inventory, newest first.
func (r *InventoryRepository) ListByUser(ctx context.Context, userID int64) ([]*model.OwnedItem, error) {
	rows, err := r.pool.Query(ctx, ownedItemQuery+` WHERE i.user_id = $1 ORDER BY i.obtained_at DESC, i.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	defer rows.Close()

	var items []*model.OwnedItem
	for rows.Next() {
		it, err := scanOwnedItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan owned item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inventory: %w", err)
	}

	return items, nil
}

// Transfer moves an item to a new owner if fromID still owns it.
// The serial is preserved; obtained_at restarts.
func (r *InventoryRepository) Transfer(ctx context.Context, tx db.Querier, userItemID, fromID, toID int64) error {
	const query = `
		UPDATE user_items
		SET user_id = $3, source = $4, obtained_at = NOW()
		WHERE id = $1 AND user_id = $2
	`

	result, err := tx.Exec(ctx, query, userItemID, fromID, toID, model.ItemSourceMarketplace)
	if err != nil {
		return fmt.Errorf("failed to transfer item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrItemNotOwned
	}
	return nil
}

// LockOwned locks the item row for the rest of tx and checks ownership.
// Listing creation and buy-back both go through it, so they serialize per item.
func (r *InventoryRepository) LockOwned(ctx context.Context, tx db.Querier, userItemID, userID int64) (*model.UserItem, error) {
	const query = `SELECT ` + userItemColumns + ` FROM user_items WHERE id = $1 FOR UPDATE`

	it, err := scanUserItem(tx.QueryRow(ctx, query, userItemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to lock user item: %w", err)
	}
	if it.UserID != userID {
		return nil, ErrItemNotOwned
	}
	return it, nil
}

// DeleteUnlisted removes an owned item that has no active listing and returns
// the definition it belonged to. Used by the platform buy-back.
func (r *InventoryRepository) DeleteUnlisted(ctx context.Context, tx db.Querier, userItemID, userID int64) (*model.ItemDefinition, error) {
	const listed = `SELECT EXISTS(SELECT 1 FROM listings WHERE user_item_id = $1 AND status = 'ACTIVE')`
	const remove = `
		DELETE FROM user_items i
		USING item_definitions d
		WHERE i.id = $1 AND i.user_id = $2 AND d.id = i.item_definition_id
		RETURNING d.id, d.collection_id, d.item_number, d.name, d.rarity, d.base_value, d.scarcity_tier
	`

	if _, err := r.LockOwned(ctx, tx, userItemID, userID); err != nil {
		return nil, err
	}

	var isListed bool
	if err := tx.QueryRow(ctx, listed, userItemID).Scan(&isListed); err != nil {
		return nil, fmt.Errorf("failed to check listing: %w", err)
	}
	if isListed {
		return nil, ErrItemListed
	}

	var d model.ItemDefinition
	err := tx.QueryRow(ctx, remove, userItemID, userID).Scan(
		&d.ID, &d.CollectionID, &d.ItemNumber, &d.Name, &d.Rarity, &d.BaseValue, &d.ScarcityTier,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotOwned
		}
		return nil, fmt.Errorf("failed to delete item: %w", err)
	}
	return &d, nil
}

// CountByDefinition returns how many copies of a definition exist.
func (r *InventoryRepository) CountByDefinition(ctx context.Context, itemDefID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM user_items WHERE item_definition_id = $1`

	var n int
	if err := r.pool.QueryRow(ctx, query, itemDefID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// Serials returns the issued serials of a definition in ascending order.
func (r *InventoryRepository) Serials(ctx context.Context, itemDefID int64) ([]int, error) {
	const query = `
		SELECT serial FROM user_items
		WHERE item_definition_id = $1 AND serial IS NOT NULL
		ORDER BY serial
	`

	rows, err := r.pool.Query(ctx, query, itemDefID)
	if err != nil {
		return nil, fmt.Errorf("failed to list serials: %w", err)
	}
	defer rows.Close()

	var serials []int
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan serial: %w", err)
		}
		serials = append(serials, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating serials: %w", err)
	}

	return serials, nil
}
