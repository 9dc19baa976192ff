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

// RuleRepository handles marketplace rule persistence.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository creates a new RuleRepository instance.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// RuleUpdate holds the admin-editable fields of a rule. Nil fields are left
// unchanged. Config holds only the keys being changed; a nil value removes
// the key so the rule falls back to its default.
type RuleUpdate struct {
	IsActive *bool
	Priority *int
	Config   map[string]any
}

const ruleColumns = `id, name, category, is_active, priority, config, version, updated_at`

func scanRule(row pgx.Row, extra ...any) (*model.MarketplaceRule, error) {
	var (
		rule model.MarketplaceRule
		cfg  []byte
	)
	dest := append([]any{&rule.ID, &rule.Name, &rule.Category, &rule.IsActive, &rule.Priority,
		&cfg, &rule.Version, &rule.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &rule.Config); err != nil {
		return nil, fmt.Errorf("failed to decode rule config: %w", err)
	}
	return &rule, nil
}

// Snapshot reads every rule and the rule-set version in one statement.
// The version is the sum of per-rule versions, so any write moves it forward.
func (r *RuleRepository) Snapshot(ctx context.Context) (*model.RuleSnapshot, error) {
	const query = `
		SELECT ` + ruleColumns + `, (SUM(version) OVER ())::BIGINT
		FROM marketplace_rules
		ORDER BY priority DESC, id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	defer rows.Close()

	snap := &model.RuleSnapshot{}
	for rows.Next() {
		var version int64
		rule, err := scanRule(rows, &version)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		snap.Version = version
		snap.Rules = append(snap.Rules, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return snap, nil
}

// LockByID reads a rule and locks its row for the rest of tx, so concurrent
// config edits apply one after the other.
func (r *RuleRepository) LockByID(ctx context.Context, tx db.Querier, id int64) (*model.MarketplaceRule, error) {
	const query = `SELECT ` + ruleColumns + ` FROM marketplace_rules WHERE id = $1 FOR UPDATE`

	rule, err := scanRule(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to lock rule: %w", err)
	}
	return rule, nil
}

// EnsureByName inserts a rule unless one with the same name exists, so admin
// edits survive restarts. created reports whether a row was inserted.
func (r *RuleRepository) EnsureByName(ctx context.Context, rule model.MarketplaceRule) (bool, error) {
	const query = `
		INSERT INTO marketplace_rules (name, category, is_active, priority, config, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, NOW())
		ON CONFLICT (name) DO NOTHING
	`

	cfg, err := json.Marshal(rule.Config)
	if err != nil {
		return false, fmt.Errorf("failed to encode rule config: %w", err)
	}

	result, err := r.pool.Exec(ctx, query, rule.Name, rule.Category, rule.IsActive, rule.Priority, cfg)
	if err != nil {
		return false, fmt.Errorf("failed to seed rule %s: %w", rule.Name, err)
	}
	return result.RowsAffected() == 1, nil
}

// Update applies an admin edit inside the caller's transaction and bumps the
// rule's version. A non-nil Config replaces the stored one as a whole; callers
// merge partial edits under LockByID first.
func (r *RuleRepository) Update(ctx context.Context, tx db.Querier, id int64, upd RuleUpdate) (*model.MarketplaceRule, error) {
	const query = `
		UPDATE marketplace_rules
		SET is_active = COALESCE($2, is_active),
		    priority = COALESCE($3, priority),
		    config = COALESCE($4, config),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + ruleColumns

	var cfg []byte
	if upd.Config != nil {
		var err error
		if cfg, err = json.Marshal(upd.Config); err != nil {
			return nil, fmt.Errorf("failed to encode rule config: %w", err)
		}
	}

	rule, err := scanRule(tx.QueryRow(ctx, query, id, upd.IsActive, upd.Priority, cfg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return rule, nil
}
