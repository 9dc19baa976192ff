// Package rules evaluates marketplace actions against admin-configured rules.
// Rules are stored as (category, config) rows and turned into typed rule
// values through a Registry each time they are read.
package rules

import (
	"context"
	"time"

	"collectible-market/internal/model"
)

// Category names a rule kind.
type Category string

const (
	CategoryPriceBand         Category = "price_band"
	CategoryVelocity          Category = "velocity"
	CategoryDuplicateListing  Category = "duplicate_listing"
	CategoryCooldown          Category = "cooldown"
	CategoryBlacklist         Category = "blacklist"
	CategorySuspiciousPattern Category = "suspicious_pattern"
	CategorySelfTrade         Category = "self_trade"
)

// EvalContext describes the attempted action.
type EvalContext struct {
	UserID     int64
	UserItemID int64
	ListingID  int64
	SellerID   int64
	Price      int64
	BaseValue  int64
	Now        time.Time
}

// PriceRange is an inclusive price interval.
type PriceRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Outcome is one rule's contribution to a decision.
type Outcome struct {
	Veto       bool
	Reason     string
	Warning    string
	Score      int
	Suggested  *PriceRange
	RetryAfter time.Duration
}

// Decision is the merged result of every applicable rule.
type Decision struct {
	Allow               bool          `json:"allow"`
	Reasons             []string      `json:"reasons,omitempty"`
	Warnings            []string      `json:"warnings,omitempty"`
	SuggestedPriceRange *PriceRange   `json:"suggested_price_range,omitempty"`
	RetryAfter          time.Duration `json:"retry_after,omitempty"`
	RiskScore           int           `json:"risk_score"`
	Version             int64         `json:"rule_version"`
}

// Activity answers the history questions rules ask.
type Activity interface {
	CountActions(ctx context.Context, userID int64, action model.MarketAction, since time.Time) (int, error)
	HasActiveListing(ctx context.Context, userItemID int64) (bool, error)
	LastCancelledAt(ctx context.Context, userItemID int64) (*time.Time, error)
	LastRejectedAt(ctx context.Context, userItemID int64) (*time.Time, error)
	CountPairTrades(ctx context.Context, sellerID, buyerID int64, since time.Time) (int, error)
}

// Rule is a parsed, typed marketplace rule.
type Rule interface {
	Applies(action model.MarketAction) bool
	Evaluate(ctx context.Context, action model.MarketAction, ec EvalContext, activity Activity) (Outcome, error)
}
