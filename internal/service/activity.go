package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"collectible-market/internal/model"
	"collectible-market/internal/notify"
	"collectible-market/internal/repository"
	"collectible-market/internal/rules"
)

// marketActivity answers rule history questions from the listing and risk tables.
type marketActivity struct {
	listings *repository.ListingRepository
	risk     *repository.RiskRepository
}

// NewMarketActivity returns the rules.Activity backed by PostgreSQL.
func NewMarketActivity(listings *repository.ListingRepository, risk *repository.RiskRepository) rules.Activity {
	return &marketActivity{listings: listings, risk: risk}
}

func (a *marketActivity) CountActions(ctx context.Context, userID int64, action model.MarketAction, since time.Time) (int, error) {
	if action == model.ActionPurchase {
		return a.listings.CountPurchasedSince(ctx, userID, since)
	}
	return a.listings.CountListedSince(ctx, userID, since)
}

func (a *marketActivity) HasActiveListing(ctx context.Context, userItemID int64) (bool, error) {
	return a.listings.HasActiveListing(ctx, userItemID)
}

func (a *marketActivity) LastCancelledAt(ctx context.Context, userItemID int64) (*time.Time, error) {
	return a.listings.LastCancelledAt(ctx, userItemID)
}

func (a *marketActivity) LastRejectedAt(ctx context.Context, userItemID int64) (*time.Time, error) {
	return a.risk.LastVetoedAt(ctx, userItemID)
}

func (a *marketActivity) CountPairTrades(ctx context.Context, sellerID, buyerID int64, since time.Time) (int, error) {
	return a.listings.CountPairTradesSince(ctx, sellerID, buyerID, since)
}

// RiskRecorder stores risk signals for admins and publishes them downstream.
// Failures are logged and never reach the evaluated request.
type RiskRecorder struct {
	repo   *repository.RiskRepository
	events *notify.Dispatcher
}

// NewRiskRecorder creates a RiskRecorder. events may be nil.
func NewRiskRecorder(repo *repository.RiskRepository, events *notify.Dispatcher) *RiskRecorder {
	return &RiskRecorder{repo: repo, events: events}
}

// RecordSignal implements rules.SignalSink.
func (r *RiskRecorder) RecordSignal(ctx context.Context, signal model.RiskSignal) {
	saved, err := r.repo.Record(ctx, signal)
	if err != nil {
		log.Error().Err(err).Int64("user_id", signal.UserID).Msg("Failed to record risk signal")
		return
	}

	log.Warn().
		Int64("signal_id", saved.ID).
		Int64("user_id", saved.UserID).
		Str("action", string(saved.Action)).
		Int("score", saved.Score).
		Bool("vetoed", saved.Vetoed).
		Msg("Risk signal")
	r.events.Dispatch(notify.NewEvent(notify.EventRiskSignal, saved.UserID, saved))
}
