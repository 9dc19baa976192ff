package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collectible-market/internal/model"
	"collectible-market/internal/pkg/db"
)

// ListingRepository handles marketplace listings and platform revenue.
type ListingRepository struct {
	pool *pgxpool.Pool
}

// NewListingRepository creates a new ListingRepository instance.
func NewListingRepository(pool *pgxpool.Pool) *ListingRepository {
	return &ListingRepository{pool: pool}
}

const listingColumns = `id, user_item_id, seller_id, buyer_id, price, status, created_at, updated_at, sold_at`

func scanListing(row pgx.Row) (*model.Listing, error) {
	var l model.Listing
	err := row.Scan(&l.ID, &l.UserItemID, &l.SellerID, &l.BuyerID, &l.Price, &l.Status,
		&l.CreatedAt, &l.UpdatedAt, &l.SoldAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Create inserts an ACTIVE listing. The partial unique index on active
// listings is the final arbiter: a second active listing for the same item
// fails with ErrDuplicateActiveListing.
func (r *ListingRepository) Create(ctx context.Context, tx db.Querier, sellerID, userItemID, price int64) (*model.Listing, error) {
	const query = `
		INSERT INTO listings (user_item_id, seller_id, price, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'ACTIVE', NOW(), NOW())
		RETURNING ` + listingColumns

	l, err := scanListing(tx.QueryRow(ctx, query, userItemID, sellerID, price))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateActiveListing
		}
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	return l, nil
}

// GetByID retrieves a listing.
func (r *ListingRepository) GetByID(ctx context.Context, listingID int64) (*model.Listing, error) {
	return r.get(ctx, r.pool, listingID)
}

func (r *ListingRepository) get(ctx context.Context, q db.Querier, listingID int64) (*model.Listing, error) {
	const query = `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(q.QueryRow(ctx, query, listingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}

// MarkSold flips an ACTIVE listing to SOLD for the buyer. Exactly one
// concurrent caller wins; the rest get ErrListingNotActive.
func (r *ListingRepository) MarkSold(ctx context.Context, tx db.Querier, listingID, buyerID int64) (*model.Listing, error) {
	const query = `
		UPDATE listings
		SET status = 'SOLD', buyer_id = $2, sold_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING ` + listingColumns

	l, err := scanListing(tx.QueryRow(ctx, query, listingID, buyerID))
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to mark listing sold: %w", err)
	}

	if _, err := r.get(ctx, tx, listingID); err != nil {
		return nil, err
	}
	return nil, ErrListingNotActive
}

// Cancel flips the seller's ACTIVE listing to CANCELLED.
func (r *ListingRepository) Cancel(ctx context.Context, listingID, sellerID int64) (*model.Listing, error) {
	const query = `
		UPDATE listings
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND seller_id = $2 AND status = 'ACTIVE'
		RETURNING ` + listingColumns

	l, err := scanListing(r.pool.QueryRow(ctx, query, listingID, sellerID))
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to cancel listing: %w", err)
	}

	existing, err := r.get(ctx, r.pool, listingID)
	if err != nil {
		return nil, err
	}
	if existing.SellerID != sellerID {
		return nil, ErrItemNotOwned
	}
	return nil, ErrListingNotActive
}

// ListActive returns active listings with item details, newest first.
func (r *ListingRepository) ListActive(ctx context.Context, limit, offset int) ([]*model.ListingView, error) {
	const query = `
		SELECT l.id, l.user_item_id, l.seller_id, l.buyer_id, l.price, l.status,
		       l.created_at, l.updated_at, l.sold_at,
		       d.id, i.serial, d.name, d.rarity, d.base_value, d.scarcity_tier
		FROM listings l
		JOIN user_items i ON i.id = l.user_item_id
		JOIN item_definitions d ON d.id = i.item_definition_id
		WHERE l.status = 'ACTIVE'
		ORDER BY l.created_at DESC, l.id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list active listings: %w", err)
	}
	defer rows.Close()

	var views []*model.ListingView
	for rows.Next() {
		var v model.ListingView
		err := rows.Scan(
			&v.ID, &v.UserItemID, &v.SellerID, &v.BuyerID, &v.Price, &v.Status,
			&v.CreatedAt, &v.UpdatedAt, &v.SoldAt,
			&v.ItemDefinitionID, &v.Serial, &v.Name, &v.Rarity, &v.BaseValue, &v.ScarcityTier,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		views = append(views, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating listings: %w", err)
	}

	return views, nil
}

// RecordRevenue stores the fee retained by the platform on a sale.
func (r *ListingRepository) RecordRevenue(ctx context.Context, tx db.Querier, listingID, amount int64) error {
	const query = `
		INSERT INTO platform_revenue (listing_id, amount, created_at)
		VALUES ($1, $2, NOW())
	`

	if _, err := tx.Exec(ctx, query, listingID, amount); err != nil {
		return fmt.Errorf("failed to record platform revenue: %w", err)
	}
	return nil
}

// TotalRevenue sums all retained fees.
func (r *ListingRepository) TotalRevenue(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0)::BIGINT FROM platform_revenue`

	var total int64
	if err := r.pool.QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum platform revenue: %w", err)
	}
	return total, nil
}

// CountListedSince counts listings a seller created since the given time.
func (r *ListingRepository) CountListedSince(ctx context.Context, sellerID int64, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM listings WHERE seller_id = $1 AND created_at >= $2`

	var n int
	if err := r.pool.QueryRow(ctx, query, sellerID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return n, nil
}

// CountPurchasedSince counts listings a buyer bought since the given time.
func (r *ListingRepository) CountPurchasedSince(ctx context.Context, buyerID int64, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM listings WHERE buyer_id = $1 AND status = 'SOLD' AND sold_at >= $2`

	var n int
	if err := r.pool.QueryRow(ctx, query, buyerID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count purchases: %w", err)
	}
	return n, nil
}

// HasActiveListing reports whether the item is currently listed.
func (r *ListingRepository) HasActiveListing(ctx context.Context, userItemID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM listings WHERE user_item_id = $1 AND status = 'ACTIVE')`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userItemID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active listing: %w", err)
	}
	return exists, nil
}

// LastCancelledAt returns when a listing for the item was last cancelled, or nil.
func (r *ListingRepository) LastCancelledAt(ctx context.Context, userItemID int64) (*time.Time, error) {
	const query = `
		SELECT MAX(updated_at) FROM listings
		WHERE user_item_id = $1 AND status = 'CANCELLED'
	`

	var at *time.Time
	if err := r.pool.QueryRow(ctx, query, userItemID).Scan(&at); err != nil {
		return nil, fmt.Errorf("failed to get last cancellation: %w", err)
	}
	return at, nil
}

// CountPairTradesSince counts completed sales from seller to buyer since the given time.
func (r *ListingRepository) CountPairTradesSince(ctx context.Context, sellerID, buyerID int64, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*) FROM listings
		WHERE seller_id = $1 AND buyer_id = $2 AND status = 'SOLD' AND sold_at >= $3
	`

	var n int
	if err := r.pool.QueryRow(ctx, query, sellerID, buyerID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pair trades: %w", err)
	}
	return n, nil
}
