package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"collectible-market/internal/config"
	"collectible-market/internal/drop"
	"collectible-market/internal/model"
	"collectible-market/internal/pkg/db"
	"collectible-market/internal/repository"
)

// CatalogService loads collections and pack tiers from configuration.
type CatalogService struct {
	runner      *db.TxRunner
	catalogRepo *repository.CatalogRepository
}

// NewCatalogService creates a new CatalogService instance.
func NewCatalogService(runner *db.TxRunner, catalogRepo *repository.CatalogRepository) *CatalogService {
	return &CatalogService{runner: runner, catalogRepo: catalogRepo}
}

// ItemFromConfig converts a configured item into a definition and its edition cap.
func ItemFromConfig(collectionID string, ic config.ItemConfig) (model.ItemDefinition, *int, error) {
	rarity, err := model.ParseRarity(ic.Rarity)
	if err != nil {
		return model.ItemDefinition{}, nil, err
	}
	tier, err := model.ParseScarcityTier(ic.Scarcity)
	if err != nil {
		return model.ItemDefinition{}, nil, err
	}
	if ic.BaseValue < 0 {
		return model.ItemDefinition{}, nil, fmt.Errorf("item %d: negative base value", ic.Number)
	}

	var maxEditions *int
	switch tier {
	case model.ScarcityLimited:
		if ic.MaxEditions < 1 {
			return model.ItemDefinition{}, nil, fmt.Errorf("item %d: limited items need max_editions >= 1", ic.Number)
		}
		n := ic.MaxEditions
		maxEditions = &n
	case model.ScarcityUnique:
		one := 1
		maxEditions = &one
	}

	return model.ItemDefinition{
		CollectionID: collectionID,
		ItemNumber:   ic.Number,
		Name:         ic.Name,
		Rarity:       rarity,
		BaseValue:    ic.BaseValue,
		ScarcityTier: tier,
	}, maxEditions, nil
}

// PackFromConfig converts a configured pack and validates its weights.
func PackFromConfig(pc config.PackConfig) (model.PackTier, error) {
	if pc.Price <= 0 {
		return model.PackTier{}, fmt.Errorf("pack %s: price must be positive", pc.ID)
	}

	weights := make(map[model.Rarity]int, len(pc.Weights))
	for k, w := range pc.Weights {
		weights[model.Rarity(strings.ToUpper(k))] = w
	}
	if _, err := drop.NewProbabilityTable(weights); err != nil {
		return model.PackTier{}, fmt.Errorf("pack %s: %w", pc.ID, err)
	}

	return model.PackTier{
		ID:           pc.ID,
		Name:         pc.Name,
		CollectionID: pc.Collection,
		Price:        pc.Price,
		Weights:      weights,
		IsActive:     pc.Active,
	}, nil
}

// Seed creates the configured collections and items that do not exist yet
// and upserts the pack tiers. Existing counters are never touched.
func (s *CatalogService) Seed(ctx context.Context, collections []config.CollectionConfig, packs []config.PackConfig) error {
	for _, cc := range collections {
		if err := s.catalogRepo.UpsertCollection(ctx, cc.ID, cc.Name); err != nil {
			return err
		}
		err := s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
			for _, ic := range cc.Items {
				def, maxEditions, err := ItemFromConfig(cc.ID, ic)
				if err != nil {
					return fmt.Errorf("collection %s: %w", cc.ID, err)
				}
				if _, err := s.catalogRepo.EnsureItemDefinition(ctx, tx, def, maxEditions); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Info().Str("collection", cc.ID).Int("items", len(cc.Items)).Msg("Collection seeded")
	}

	for _, pc := range packs {
		tier, err := PackFromConfig(pc)
		if err != nil {
			return err
		}

		err = s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
			entries, err := s.catalogRepo.LoadCollectionPool(ctx, tx, tier.CollectionID)
			if err != nil {
				return err
			}
			if _, err := drop.NewPool(entries); err != nil {
				return fmt.Errorf("pack %s: collection %s: %w", tier.ID, tier.CollectionID, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if err := s.catalogRepo.UpsertPackTier(ctx, tier); err != nil {
			return err
		}
		log.Info().Str("pack", tier.ID).Int64("price", tier.Price).Msg("Pack tier seeded")
	}
	return nil
}
