package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"collectible-market/internal/config"
	"collectible-market/internal/model"
	"collectible-market/internal/pkg/db"
	"collectible-market/internal/repository"
	"collectible-market/internal/rules"
)

// RuleService is the admin surface of the marketplace rules.
type RuleService struct {
	runner   *db.TxRunner
	ruleRepo *repository.RuleRepository
	riskRepo *repository.RiskRepository
	registry *rules.Registry
}

// NewRuleService creates a new RuleService instance. A nil registry means
// the built-in rule kinds.
func NewRuleService(runner *db.TxRunner, ruleRepo *repository.RuleRepository, riskRepo *repository.RiskRepository, registry *rules.Registry) *RuleService {
	if registry == nil {
		registry = rules.DefaultRegistry
	}
	return &RuleService{runner: runner, ruleRepo: ruleRepo, riskRepo: riskRepo, registry: registry}
}

// List returns every rule with the current snapshot version.
func (s *RuleService) List(ctx context.Context) (*model.RuleSnapshot, error) {
	return s.ruleRepo.Snapshot(ctx)
}

// Categories returns the rule kinds a rule may use.
func (s *RuleService) Categories() []string {
	return s.registry.Categories()
}

// UpdateRule toggles or reconfigures a rule. Config keys are merged into the
// stored config under a row lock, and the merged result must parse for the
// rule's kind; the next evaluation sees the change.
func (s *RuleService) UpdateRule(ctx context.Context, id int64, upd repository.RuleUpdate) (*model.MarketplaceRule, error) {
	if upd.IsActive == nil && upd.Priority == nil && upd.Config == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidRequest)
	}

	var updated *model.MarketplaceRule
	err := s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		current, err := s.ruleRepo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}

		edit := upd
		if upd.Config != nil {
			edit.Config = MergeRuleConfig(current.Config, upd.Config)
			if err := s.registry.Validate(current.Category, edit.Config); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
		}

		updated, err = s.ruleRepo.Update(ctx, tx, id, edit)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	log.Info().
		Int64("rule_id", updated.ID).
		Str("rule", updated.Name).
		Bool("active", updated.IsActive).
		Int("priority", updated.Priority).
		Int64("version", updated.Version).
		Msg("Marketplace rule updated")
	return updated, nil
}

// MergeRuleConfig overlays patch on current without touching either map.
// A nil value in patch removes the key.
func MergeRuleConfig(current, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// RiskSignals returns the newest risk signals.
func (s *RuleService) RiskSignals(ctx context.Context, limit int) ([]*model.RiskSignal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.riskRepo.ListRecent(ctx, limit)
}

// SeedDefaults inserts the configured rules that do not exist yet.
// Rules already in the store keep their admin-edited state.
func (s *RuleService) SeedDefaults(ctx context.Context, defaults []config.RuleConfig) error {
	for _, rc := range defaults {
		if err := s.registry.Validate(rc.Category, rc.Config); err != nil {
			return fmt.Errorf("default rule %s: %w", rc.Name, err)
		}
		cfg := rc.Config
		if cfg == nil {
			cfg = map[string]any{}
		}

		created, err := s.ruleRepo.EnsureByName(ctx, model.MarketplaceRule{
			Name:     rc.Name,
			Category: rc.Category,
			IsActive: rc.Active,
			Priority: rc.Priority,
			Config:   cfg,
		})
		if err != nil {
			return err
		}
		if created {
			log.Info().Str("rule", rc.Name).Str("category", rc.Category).Msg("Seeded marketplace rule")
		}
	}
	return nil
}
