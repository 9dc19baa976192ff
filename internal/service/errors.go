// Package service provides business logic implementations.
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"collectible-market/internal/drop"
	"collectible-market/internal/repository"
	"collectible-market/internal/rules"
)

// Errors returned to callers.
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrCollectionExhausted = errors.New("collection exhausted, try again later")
	ErrListingUnavailable  = errors.New("listing is no longer available")
	ErrPackTierNotFound    = errors.New("pack tier not found")
	ErrListingNotFound     = errors.New("listing not found")
	ErrItemNotFound        = errors.New("item not found")
	ErrItemNotOwned        = errors.New("item not owned by user")
	ErrItemListed          = errors.New("item is listed on the marketplace")
	ErrInvalidAmount       = errors.New("invalid amount: must be positive")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUserNotFound        = errors.New("user not found")
	ErrRuleNotFound        = errors.New("rule not found")
	ErrCollectionNotFound  = errors.New("collection not found")
)

// ErrScarcitySlotUnavailable is a denied scarcity claim. The allocator
// redraws on it, so it never reaches a caller.
var ErrScarcitySlotUnavailable = drop.ErrSlotUnavailable

// RuleViolationError is a marketplace action vetoed by one or more rules.
type RuleViolationError struct {
	Reasons             []string
	SuggestedPriceRange *rules.PriceRange
	RetryAfter          time.Duration
}

func (e *RuleViolationError) Error() string {
	return fmt.Sprintf("rule violation: %s", strings.Join(e.Reasons, "; "))
}

func violation(d *rules.Decision) *RuleViolationError {
	return &RuleViolationError{
		Reasons:             d.Reasons,
		SuggestedPriceRange: d.SuggestedPriceRange,
		RetryAfter:          d.RetryAfter,
	}
}

// Stable error codes exposed by the HTTP and bot front ends.
const (
	CodeOK                  = "OK"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeTryAgain            = "TRY_AGAIN"
	CodeListingUnavailable  = "LISTING_UNAVAILABLE"
	CodeRuleViolation       = "RULE_VIOLATION"
	CodePackTierNotFound    = "PACK_TIER_NOT_FOUND"
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeConflict            = "CONFLICT"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInternal            = "INTERNAL_ERROR"
)

// Code maps an error to its stable code.
func Code(err error) string {
	var rv *RuleViolationError
	switch {
	case err == nil:
		return CodeOK
	case errors.As(err, &rv):
		return CodeRuleViolation
	case errors.Is(err, ErrInsufficientCredits):
		return CodeInsufficientCredits
	case errors.Is(err, ErrCollectionExhausted):
		return CodeTryAgain
	case errors.Is(err, ErrListingUnavailable):
		return CodeListingUnavailable
	case errors.Is(err, ErrPackTierNotFound):
		return CodePackTierNotFound
	case errors.Is(err, ErrListingNotFound),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrRuleNotFound),
		errors.Is(err, ErrCollectionNotFound):
		return CodeNotFound
	case errors.Is(err, ErrItemNotOwned):
		return CodeForbidden
	case errors.Is(err, ErrItemListed):
		return CodeConflict
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	}
	return CodeInternal
}

// translate maps repository and drop errors onto service errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrInsufficientBalance):
		return ErrInsufficientCredits
	case errors.Is(err, repository.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrPackTierNotFound):
		return ErrPackTierNotFound
	case errors.Is(err, repository.ErrListingNotFound):
		return ErrListingNotFound
	case errors.Is(err, repository.ErrListingNotActive):
		return ErrListingUnavailable
	case errors.Is(err, repository.ErrItemNotFound):
		return ErrItemNotFound
	case errors.Is(err, repository.ErrItemNotOwned):
		return ErrItemNotOwned
	case errors.Is(err, repository.ErrItemListed):
		return ErrItemListed
	case errors.Is(err, repository.ErrRuleNotFound):
		return ErrRuleNotFound
	case errors.Is(err, repository.ErrCollectionNotFound):
		return ErrCollectionNotFound
	case errors.Is(err, drop.ErrCollectionExhausted):
		return ErrCollectionExhausted
	}
	return err
}
