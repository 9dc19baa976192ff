package model

import "time"

// ListingStatus is the lifecycle state of a listing. SOLD and CANCELLED are terminal.
type ListingStatus string

const (
	ListingActive    ListingStatus = "ACTIVE"
	ListingSold      ListingStatus = "SOLD"
	ListingCancelled ListingStatus = "CANCELLED"
)

// Listing is a marketplace offer for one user item.
type Listing struct {
	ID         int64         `db:"id" json:"id"`
	UserItemID int64         `db:"user_item_id" json:"user_item_id"`
	SellerID   int64         `db:"seller_id" json:"seller_id"`
	BuyerID    *int64        `db:"buyer_id" json:"buyer_id,omitempty"`
	Price      int64         `db:"price" json:"price"`
	Status     ListingStatus `db:"status" json:"status"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
	SoldAt     *time.Time    `db:"sold_at" json:"sold_at,omitempty"`
}

// ListingView is a listing joined with the listed item for browsing.
type ListingView struct {
	Listing
	ItemDefinitionID int64        `db:"item_definition_id" json:"item_definition_id"`
	Serial           *int         `db:"serial" json:"serial,omitempty"`
	Name             string       `db:"name" json:"name"`
	Rarity           Rarity       `db:"rarity" json:"rarity"`
	BaseValue        int64        `db:"base_value" json:"base_value"`
	ScarcityTier     ScarcityTier `db:"scarcity_tier" json:"scarcity_tier"`
}

// MarketAction is the action a rule evaluation is performed for.
type MarketAction string

const (
	ActionList     MarketAction = "LIST"
	ActionPurchase MarketAction = "PURCHASE"
)

// MarketplaceRule is an admin-configurable rule. Config is kind-specific.
type MarketplaceRule struct {
	ID        int64          `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Category  string         `db:"category" json:"category"`
	IsActive  bool           `db:"is_active" json:"is_active"`
	Priority  int            `db:"priority" json:"priority"`
	Config    map[string]any `db:"config" json:"config"`
	Version   int64          `db:"version" json:"version"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// RuleSnapshot is the full rule set as read at one instant.
type RuleSnapshot struct {
	Version int64
	Rules   []MarketplaceRule
}

// RiskSignal records a flagged or rejected marketplace attempt.
type RiskSignal struct {
	ID         int64        `db:"id" json:"id"`
	UserID     int64        `db:"user_id" json:"user_id"`
	Action     MarketAction `db:"action" json:"action"`
	UserItemID *int64       `db:"user_item_id" json:"user_item_id,omitempty"`
	ListingID  *int64       `db:"listing_id" json:"listing_id,omitempty"`
	Score      int          `db:"score" json:"score"`
	Vetoed     bool         `db:"vetoed" json:"vetoed"`
	Reasons    []string     `db:"reasons" json:"reasons"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}
