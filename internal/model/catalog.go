package model

import (
	"fmt"
	"strings"
	"time"
)

// Rarity is an item's rarity class.
type Rarity string

// Rarities, lowest first.
const (
	RarityComum    Rarity = "COMUM"
	RarityIncomum  Rarity = "INCOMUM"
	RarityRaro     Rarity = "RARO"
	RarityEpico    Rarity = "EPICO"
	RarityLendario Rarity = "LENDARIO"
)

var rarityOrder = []Rarity{RarityComum, RarityIncomum, RarityRaro, RarityEpico, RarityLendario}

// Rarities returns all rarities in ascending order.
func Rarities() []Rarity {
	out := make([]Rarity, len(rarityOrder))
	copy(out, rarityOrder)
	return out
}

// Rank returns the position of r in ascending order, or -1 if unknown.
func (r Rarity) Rank() int {
	for i, x := range rarityOrder {
		if x == r {
			return i
		}
	}
	return -1
}

// Lower returns the next-lower rarity. ok is false for COMUM.
func (r Rarity) Lower() (Rarity, bool) {
	rank := r.Rank()
	if rank <= 0 {
		return "", false
	}
	return rarityOrder[rank-1], true
}

// ParseRarity parses a rarity name, case-insensitively.
func ParseRarity(s string) (Rarity, error) {
	r := Rarity(strings.ToUpper(strings.TrimSpace(s)))
	if r.Rank() < 0 {
		return "", fmt.Errorf("unknown rarity %q", s)
	}
	return r, nil
}

// ScarcityTier bounds how many copies of an item may ever exist.
type ScarcityTier string

const (
	ScarcityUnlimited ScarcityTier = "UNLIMITED"
	ScarcityLimited   ScarcityTier = "LIMITED"
	ScarcityUnique    ScarcityTier = "UNIQUE"
)

// ParseScarcityTier parses a scarcity tier name, case-insensitively.
func ParseScarcityTier(s string) (ScarcityTier, error) {
	t := ScarcityTier(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case ScarcityUnlimited, ScarcityLimited, ScarcityUnique:
		return t, nil
	}
	return "", fmt.Errorf("unknown scarcity tier %q", s)
}

// Collection groups item definitions.
type Collection struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ItemDefinition is an immutable catalog entry.
type ItemDefinition struct {
	ID           int64        `db:"id" json:"id"`
	CollectionID string       `db:"collection_id" json:"collection_id"`
	ItemNumber   int          `db:"item_number" json:"item_number"`
	Name         string       `db:"name" json:"name"`
	Rarity       Rarity       `db:"rarity" json:"rarity"`
	BaseValue    int64        `db:"base_value" json:"base_value"`
	ScarcityTier ScarcityTier `db:"scarcity_tier" json:"scarcity_tier"`
}

// ScarcityCounter tracks issuance of one item definition.
// MaxEditions is nil for unlimited items and 1 for unique items.
type ScarcityCounter struct {
	ItemDefinitionID int64 `db:"item_definition_id" json:"item_definition_id"`
	IssuedCount      int   `db:"issued_count" json:"issued_count"`
	MaxEditions      *int  `db:"max_editions" json:"max_editions,omitempty"`
	Claimed          bool  `db:"claimed" json:"claimed"`
}

// CatalogEntry is an item definition together with its counter.
type CatalogEntry struct {
	ItemDefinition
	Counter ScarcityCounter `json:"counter"`
}

// Available reports whether the entry looks claimable. The answer is advisory:
// only the scarcity claim inside the transaction is authoritative.
func (e CatalogEntry) Available() bool {
	switch e.ScarcityTier {
	case ScarcityUnlimited:
		return true
	case ScarcityLimited:
		return e.Counter.MaxEditions != nil && e.Counter.IssuedCount < *e.Counter.MaxEditions
	case ScarcityUnique:
		return !e.Counter.Claimed
	}
	return false
}

// ScarcityView is the display form of an item's issuance.
type ScarcityView struct {
	ItemDefinitionID int64        `json:"item_definition_id"`
	ItemNumber       int          `json:"item_number"`
	Name             string       `json:"name"`
	Rarity           Rarity       `json:"rarity"`
	ScarcityTier     ScarcityTier `json:"scarcity_tier"`
	IssuedCount      int          `json:"issued_count"`
	MaxEditions      *int         `json:"max_editions,omitempty"`
	Claimed          bool         `json:"claimed"`
}

// PackTier is a purchasable pack: a price and rarity weights in basis points.
type PackTier struct {
	ID           string         `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	CollectionID string         `db:"collection_id" json:"collection_id"`
	Price        int64          `db:"price" json:"price"`
	Weights      map[Rarity]int `db:"weights" json:"weights"`
	IsActive     bool           `db:"is_active" json:"is_active"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// UserItem is one owned copy of an item definition.
type UserItem struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"user_id"`
	ItemDefinitionID int64     `db:"item_definition_id" json:"item_definition_id"`
	Serial           *int      `db:"serial" json:"serial,omitempty"`
	Source           string    `db:"source" json:"source"`
	ObtainedAt       time.Time `db:"obtained_at" json:"obtained_at"`
}

// Item sources.
const (
	ItemSourcePack        = "PACK"
	ItemSourceMarketplace = "MARKETPLACE"
)

// OwnedItem is a user item joined with its definition for display.
type OwnedItem struct {
	UserItem
	CollectionID string       `db:"collection_id" json:"collection_id"`
	Name         string       `db:"name" json:"name"`
	Rarity       Rarity       `db:"rarity" json:"rarity"`
	BaseValue    int64        `db:"base_value" json:"base_value"`
	ScarcityTier ScarcityTier `db:"scarcity_tier" json:"scarcity_tier"`
	ListingID    *int64       `db:"listing_id" json:"listing_id,omitempty"`
}
