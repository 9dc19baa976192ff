package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"collectible-market/internal/model"
	"collectible-market/internal/notify"
	"collectible-market/internal/pkg/db"
	"collectible-market/internal/repository"
	"collectible-market/internal/rules"
)

// MarketplaceService lists items for sale and settles trades between users.
type MarketplaceService struct {
	runner        *db.TxRunner
	userRepo      *repository.UserRepository
	txRepo        *repository.TransactionRepository
	inventoryRepo *repository.InventoryRepository
	listingRepo   *repository.ListingRepository
	engine        *rules.Engine
	events        *notify.Dispatcher
	feeRate       decimal.Decimal
	autoSellRate  decimal.Decimal
}

// NewMarketplaceService creates a new MarketplaceService instance.
func NewMarketplaceService(
	runner *db.TxRunner,
	userRepo *repository.UserRepository,
	txRepo *repository.TransactionRepository,
	inventoryRepo *repository.InventoryRepository,
	listingRepo *repository.ListingRepository,
	engine *rules.Engine,
	events *notify.Dispatcher,
	feeRate, autoSellRate float64,
) *MarketplaceService {
	return &MarketplaceService{
		runner:        runner,
		userRepo:      userRepo,
		txRepo:        txRepo,
		inventoryRepo: inventoryRepo,
		listingRepo:   listingRepo,
		engine:        engine,
		events:        events,
		feeRate:       decimal.NewFromFloat(feeRate),
		autoSellRate:  decimal.NewFromFloat(autoSellRate),
	}
}

// SplitPrice returns the platform fee, rounded down, and the seller's share.
func SplitPrice(price int64, feeRate decimal.Decimal) (fee, sellerShare int64) {
	fee = decimal.NewFromInt(price).Mul(feeRate).Floor().IntPart()
	return fee, price - fee
}

// BuyBackPrice is what the platform pays for an item of the given base value.
func BuyBackPrice(baseValue int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(baseValue).Mul(rate).Floor().IntPart()
}

// ListingResult is a created listing with any non-blocking rule warnings.
type ListingResult struct {
	Listing  *model.Listing `json:"listing"`
	Warnings []string       `json:"warnings,omitempty"`
}

// CreateListing puts an owned item up for sale.
func (s *MarketplaceService) CreateListing(ctx context.Context, sellerID, userItemID, price int64) (*ListingResult, error) {
	if price <= 0 {
		return nil, ErrInvalidAmount
	}

	item, err := s.inventoryRepo.GetOwned(ctx, userItemID)
	if err != nil {
		return nil, translate(err)
	}
	if item.UserID != sellerID {
		return nil, ErrItemNotOwned
	}

	decision, err := s.engine.Evaluate(ctx, model.ActionList, rules.EvalContext{
		UserID:     sellerID,
		UserItemID: userItemID,
		Price:      price,
		BaseValue:  item.BaseValue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate listing rules: %w", err)
	}
	if !decision.Allow {
		log.Info().
			Int64("user_id", sellerID).
			Int64("user_item_id", userItemID).
			Strs("reasons", decision.Reasons).
			Msg("Listing rejected by rules")
		return nil, violation(decision)
	}

	var listing *model.Listing
	err = s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.inventoryRepo.LockOwned(ctx, tx, userItemID, sellerID); err != nil {
			return err
		}
		created, err := s.listingRepo.Create(ctx, tx, sellerID, userItemID, price)
		if err != nil {
			return err
		}
		listing = created
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveListing) {
			return nil, &RuleViolationError{
				Reasons:             []string{string(rules.CategoryDuplicateListing) + ": item already has an active listing"},
				SuggestedPriceRange: decision.SuggestedPriceRange,
			}
		}
		return nil, translate(err)
	}

	log.Info().
		Int64("listing_id", listing.ID).
		Int64("user_id", sellerID).
		Int64("price", price).
		Msg("Listing created")
	s.events.Dispatch(notify.NewEvent(notify.EventListingCreated, sellerID, map[string]any{
		"listing_id":   listing.ID,
		"user_item_id": userItemID,
		"price":        price,
	}))

	return &ListingResult{Listing: listing, Warnings: decision.Warnings}, nil
}

// CancelListing withdraws the seller's active listing.
func (s *MarketplaceService) CancelListing(ctx context.Context, sellerID, listingID int64) (*model.Listing, error) {
	listing, err := s.listingRepo.Cancel(ctx, listingID, sellerID)
	if err != nil {
		return nil, translate(err)
	}
	log.Info().Int64("listing_id", listingID).Int64("user_id", sellerID).Msg("Listing cancelled")
	return listing, nil
}

// PurchaseResult describes a settled trade.
type PurchaseResult struct {
	Listing         *model.Listing `json:"listing"`
	ItemTransferred int64          `json:"item_transferred"`
	CreditsCharged  int64          `json:"credits_charged"`
	FeeRetained     int64          `json:"fee_retained"`
	SellerCredited  int64          `json:"seller_credited"`
	BuyerBalance    int64          `json:"buyer_balance"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// Purchase buys a listing. The listing state change, both balance moves, the
// fee, the ownership change and the ledger rows commit together or not at all.
func (s *MarketplaceService) Purchase(ctx context.Context, listingID, buyerID int64) (*PurchaseResult, error) {
	listing, err := s.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		return nil, translate(err)
	}
	if listing.Status != model.ListingActive {
		return nil, ErrListingUnavailable
	}

	exists, err := s.userRepo.Exists(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	var baseValue int64
	if item, err := s.inventoryRepo.GetOwned(ctx, listing.UserItemID); err == nil {
		baseValue = item.BaseValue
	} else if !errors.Is(err, repository.ErrItemNotFound) {
		return nil, err
	}

	decision, err := s.engine.Evaluate(ctx, model.ActionPurchase, rules.EvalContext{
		UserID:     buyerID,
		UserItemID: listing.UserItemID,
		ListingID:  listing.ID,
		SellerID:   listing.SellerID,
		Price:      listing.Price,
		BaseValue:  baseValue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate purchase rules: %w", err)
	}
	if !decision.Allow {
		log.Info().
			Int64("user_id", buyerID).
			Int64("listing_id", listingID).
			Strs("reasons", decision.Reasons).
			Msg("Purchase rejected by rules")
		return nil, violation(decision)
	}

	fee, sellerShare := SplitPrice(listing.Price, s.feeRate)

	var result *PurchaseResult
	err = s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		result = nil

		sold, err := s.listingRepo.MarkSold(ctx, tx, listingID, buyerID)
		if err != nil {
			return err
		}
		buyerBalance, err := s.userRepo.Debit(ctx, tx, buyerID, sold.Price)
		if err != nil {
			return err
		}
		if _, err := s.userRepo.Credit(ctx, tx, sold.SellerID, sellerShare); err != nil {
			return err
		}
		if err := s.listingRepo.RecordRevenue(ctx, tx, sold.ID, fee); err != nil {
			return err
		}
		if err := s.inventoryRepo.Transfer(ctx, tx, sold.UserItemID, sold.SellerID, buyerID); err != nil {
			if errors.Is(err, repository.ErrItemNotOwned) {
				return ErrListingUnavailable
			}
			return err
		}

		ref := fmt.Sprintf("listing:%d", sold.ID)
		if _, err := s.txRepo.Create(ctx, tx, repository.LedgerEntry{
			UserID:      buyerID,
			Amount:      -sold.Price,
			Type:        model.TxTypeMarketplacePurchase,
			Description: fmt.Sprintf("bought item %d", sold.UserItemID),
			Reference:   ref,
		}); err != nil {
			return err
		}
		if _, err := s.txRepo.Create(ctx, tx, repository.LedgerEntry{
			UserID:      sold.SellerID,
			Amount:      sellerShare,
			Type:        model.TxTypeMarketplaceSale,
			Description: fmt.Sprintf("sold item %d (fee %d)", sold.UserItemID, fee),
			Reference:   ref,
		}); err != nil {
			return err
		}

		result = &PurchaseResult{
			Listing:         sold,
			ItemTransferred: sold.UserItemID,
			CreditsCharged:  sold.Price,
			FeeRetained:     fee,
			SellerCredited:  sellerShare,
			BuyerBalance:    buyerBalance,
			Warnings:        decision.Warnings,
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	log.Info().
		Int64("listing_id", listingID).
		Int64("buyer_id", buyerID).
		Int64("seller_id", result.Listing.SellerID).
		Int64("price", result.CreditsCharged).
		Int64("fee", fee).
		Msg("Trade completed")
	s.events.Dispatch(notify.NewEvent(notify.EventTradeCompleted, buyerID, map[string]any{
		"listing_id":   listingID,
		"seller_id":    result.Listing.SellerID,
		"user_item_id": result.ItemTransferred,
		"price":        result.CreditsCharged,
		"fee":          fee,
	}))
	return result, nil
}

// AutoSellResult describes a platform buy-back.
type AutoSellResult struct {
	Item    *model.ItemDefinition `json:"item"`
	Payout  int64                 `json:"payout"`
	Balance int64                 `json:"balance"`
}

// AutoSell sells an unlisted item back to the platform for a fixed share of
// its base value. The item is destroyed; its edition is not returned.
func (s *MarketplaceService) AutoSell(ctx context.Context, userID, userItemID int64) (*AutoSellResult, error) {
	var result *AutoSellResult
	err := s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		result = nil

		def, err := s.inventoryRepo.DeleteUnlisted(ctx, tx, userItemID, userID)
		if err != nil {
			return err
		}

		payout := BuyBackPrice(def.BaseValue, s.autoSellRate)
		balance, err := s.userRepo.Credit(ctx, tx, userID, payout)
		if err != nil {
			return err
		}
		if _, err := s.txRepo.Create(ctx, tx, repository.LedgerEntry{
			UserID:      userID,
			Amount:      payout,
			Type:        model.TxTypeAutoSell,
			Description: fmt.Sprintf("sold %s to the platform", def.Name),
			Reference:   fmt.Sprintf("user_item:%d", userItemID),
		}); err != nil {
			return err
		}

		result = &AutoSellResult{Item: def, Payout: payout, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	log.Info().
		Int64("user_id", userID).
		Int64("user_item_id", userItemID).
		Int64("payout", result.Payout).
		Msg("Item auto-sold")
	s.events.Dispatch(notify.NewEvent(notify.EventItemAutoSold, userID, map[string]any{
		"user_item_id": userItemID,
		"item_id":      result.Item.ID,
		"payout":       result.Payout,
	}))
	return result, nil
}

// ListActive returns a page of active listings.
func (s *MarketplaceService) ListActive(ctx context.Context, limit, offset int) ([]*model.ListingView, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.listingRepo.ListActive(ctx, limit, offset)
}

// GetListing retrieves one listing.
func (s *MarketplaceService) GetListing(ctx context.Context, listingID int64) (*model.Listing, error) {
	l, err := s.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		return nil, translate(err)
	}
	return l, nil
}
