package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"collectible-market/internal/cache"
	"collectible-market/internal/drop"
	"collectible-market/internal/model"
	"collectible-market/internal/notify"
	"collectible-market/internal/pkg/db"
	"collectible-market/internal/repository"
)

// Pack opening states, logged as each request moves through them.
const (
	statePending          = "PENDING"
	stateCreditsDebited   = "CREDITS_DEBITED"
	stateItemDrawn        = "ITEM_DRAWN"
	stateScarcityClaimed  = "SCARCITY_CLAIMED"
	stateInventoryGranted = "INVENTORY_GRANTED"
)

// OpenPackResult is the item a user received from a pack.
type OpenPackResult struct {
	UserItem   *model.UserItem      `json:"user_item"`
	Item       model.ItemDefinition `json:"item"`
	Serial     *int                 `json:"serial,omitempty"`
	NewBalance int64                `json:"new_balance"`
	Requested  model.Rarity         `json:"requested_rarity"`
	Rarity     model.Rarity         `json:"rarity"`
	FellBack   bool                 `json:"fell_back"`
	Attempts   int                  `json:"attempts"`
}

// DropService sells packs and allocates their contents.
type DropService struct {
	runner        *db.TxRunner
	userRepo      *repository.UserRepository
	txRepo        *repository.TransactionRepository
	catalogRepo   *repository.CatalogRepository
	scarcityRepo  *repository.ScarcityRepository
	inventoryRepo *repository.InventoryRepository
	cache         *cache.ScarcityCache
	events        *notify.Dispatcher
	maxAttempts   int
	newRand       func() *rand.Rand
}

// NewDropService creates a new DropService instance. cache and events may be nil.
func NewDropService(
	runner *db.TxRunner,
	userRepo *repository.UserRepository,
	txRepo *repository.TransactionRepository,
	catalogRepo *repository.CatalogRepository,
	scarcityRepo *repository.ScarcityRepository,
	inventoryRepo *repository.InventoryRepository,
	scarcityCache *cache.ScarcityCache,
	events *notify.Dispatcher,
	maxAttempts int,
) *DropService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &DropService{
		runner:        runner,
		userRepo:      userRepo,
		txRepo:        txRepo,
		catalogRepo:   catalogRepo,
		scarcityRepo:  scarcityRepo,
		inventoryRepo: inventoryRepo,
		cache:         scarcityCache,
		events:        events,
		maxAttempts:   maxAttempts,
		newRand:       drop.NewRand,
	}
}

// OpenPack charges the pack price and grants one item, all in one transaction.
// Any failure rolls the whole request back, which is a full refund.
func (s *DropService) OpenPack(ctx context.Context, userID int64, packTierID string) (*OpenPackResult, error) {
	logger := log.With().Int64("user_id", userID).Str("pack_tier", packTierID).Logger()
	logger.Debug().Str("state", statePending).Msg("Opening pack")

	var (
		result *OpenPackResult
		tier   *model.PackTier
	)
	err := s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		result = nil

		var err error
		tier, err = s.catalogRepo.GetPackTier(ctx, tx, packTierID)
		if err != nil {
			return err
		}
		table, err := drop.NewProbabilityTable(tier.Weights)
		if err != nil {
			return fmt.Errorf("pack tier %s: %w", tier.ID, err)
		}

		balance, err := s.userRepo.Debit(ctx, tx, userID, tier.Price)
		if err != nil {
			return err
		}
		logger.Debug().Str("state", stateCreditsDebited).Int64("balance", balance).Msg("Pack state")

		entries, err := s.catalogRepo.LoadCollectionPool(ctx, tx, tier.CollectionID)
		if err != nil {
			return err
		}
		pool, err := drop.NewPool(entries)
		if err != nil {
			return fmt.Errorf("collection %s: %w", tier.CollectionID, err)
		}

		allocator := drop.Allocator{
			Table:       table,
			Pool:        pool,
			MaxAttempts: s.maxAttempts,
			Rand:        s.newRand(),
			Trace:       traceAllocation(logger),
		}
		alloc, err := allocator.Allocate(func(entry model.CatalogEntry) (*int, error) {
			claim, err := s.scarcityRepo.TryClaim(ctx, tx, entry.ID, entry.ScarcityTier)
			if err != nil {
				return nil, err
			}
			if !claim.Granted {
				logger.Debug().Int64("item_id", entry.ID).Str("tier", string(entry.ScarcityTier)).Msg("Claim denied")
				return nil, fmt.Errorf("item %d: %w", entry.ID, ErrScarcitySlotUnavailable)
			}
			return claim.Serial, nil
		})
		if err != nil {
			return err
		}
		logger.Debug().Str("state", stateScarcityClaimed).Int64("item_id", alloc.Item.ID).Msg("Pack state")

		item, err := s.inventoryRepo.Grant(ctx, tx, userID, alloc.Item.ID, alloc.Serial, model.ItemSourcePack)
		if err != nil {
			return err
		}
		_, err = s.txRepo.Create(ctx, tx, repository.LedgerEntry{
			UserID:      userID,
			Amount:      -tier.Price,
			Type:        model.TxTypeOpenPack,
			Description: fmt.Sprintf("opened %s", tier.Name),
			Reference:   fmt.Sprintf("user_item:%d", item.ID),
		})
		if err != nil {
			return err
		}
		logger.Debug().Str("state", stateInventoryGranted).Int64("user_item_id", item.ID).Msg("Pack state")

		result = &OpenPackResult{
			UserItem:   item,
			Item:       alloc.Item.ItemDefinition,
			Serial:     alloc.Serial,
			NewBalance: balance,
			Requested:  alloc.Requested,
			Rarity:     alloc.Item.Rarity,
			FellBack:   alloc.FellBack(),
			Attempts:   alloc.Attempts,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, drop.ErrCollectionExhausted) {
			logger.Error().Err(err).Msg("Collection exhausted, pack refunded")
		} else {
			logger.Debug().Err(err).Str("state", statePending).Msg("Pack opening rolled back")
		}
		return nil, translate(err)
	}

	logger.Info().
		Int64("item_id", result.Item.ID).
		Str("rarity", string(result.Rarity)).
		Bool("fell_back", result.FellBack).
		Msg("Pack opened")

	if result.Item.ScarcityTier != model.ScarcityUnlimited {
		s.cache.Invalidate(ctx, tier.CollectionID)
	}
	s.events.Dispatch(notify.NewEvent(notify.EventPackOpened, userID, map[string]any{
		"pack_tier":    packTierID,
		"user_item_id": result.UserItem.ID,
		"item_id":      result.Item.ID,
		"rarity":       result.Rarity,
		"scarcity":     result.Item.ScarcityTier,
		"serial":       result.Serial,
	}))
	return result, nil
}

func traceAllocation(logger zerolog.Logger) func(drop.State, int, model.CatalogEntry) {
	return func(state drop.State, attempt int, item model.CatalogEntry) {
		ev := logger.Debug().Str("allocator", state.String()).Int("attempt", attempt)
		if item.ID != 0 {
			ev = ev.Int64("item_id", item.ID).Str("rarity", string(item.Rarity))
		}
		if state == drop.StateClaiming {
			ev = ev.Str("state", stateItemDrawn)
		}
		ev.Msg("Pack state")
	}
}

// ListPackTiers returns the packs on sale.
func (s *DropService) ListPackTiers(ctx context.Context) ([]*model.PackTier, error) {
	return s.catalogRepo.ListPackTiers(ctx)
}

// Inventory returns the items a user owns.
func (s *DropService) Inventory(ctx context.Context, userID int64) ([]*model.OwnedItem, error) {
	return s.inventoryRepo.ListByUser(ctx, userID)
}

// ScarcityView returns the issuance of every item in a collection. The view
// may lag behind the counters by up to the cache TTL.
func (s *DropService) ScarcityView(ctx context.Context, collectionID string) ([]model.ScarcityView, error) {
	if views, ok := s.cache.Get(ctx, collectionID); ok {
		return views, nil
	}

	views, err := s.scarcityRepo.Snapshot(ctx, collectionID)
	if err != nil {
		return nil, translate(err)
	}
	s.cache.Set(ctx, collectionID, views)
	return views, nil
}
