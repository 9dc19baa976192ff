package repository

import "errors"

// Common errors for repository operations.
var (
	ErrUserNotFound           = errors.New("user not found")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrItemNotFound           = errors.New("item not found")
	ErrItemNotOwned           = errors.New("item not owned by user")
	ErrItemListed             = errors.New("item has an active listing")
	ErrListingNotFound        = errors.New("listing not found")
	ErrListingNotActive       = errors.New("listing is not active")
	ErrDuplicateActiveListing = errors.New("item already has an active listing")
	ErrPackTierNotFound       = errors.New("pack tier not found")
	ErrCollectionNotFound     = errors.New("collection not found")
	ErrRuleNotFound           = errors.New("rule not found")
)
