package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"collectible-market/internal/model"
	"collectible-market/internal/notify"
	"collectible-market/internal/pkg/db"
	"collectible-market/internal/repository"
)

// LedgerService owns user balances: account creation, paid credit top-ups,
// history and reconciliation of balances against the ledger.
type LedgerService struct {
	runner     *db.TxRunner
	userRepo   *repository.UserRepository
	txRepo     *repository.TransactionRepository
	paymentRep *repository.PaymentRepository
	events     *notify.Dispatcher
}

// NewLedgerService creates a new LedgerService instance.
func NewLedgerService(
	runner *db.TxRunner,
	userRepo *repository.UserRepository,
	txRepo *repository.TransactionRepository,
	paymentRepo *repository.PaymentRepository,
	events *notify.Dispatcher,
) *LedgerService {
	return &LedgerService{
		runner:     runner,
		userRepo:   userRepo,
		txRepo:     txRepo,
		paymentRep: paymentRepo,
		events:     events,
	}
}

// EnsureUser returns the user, creating an empty account on first sight.
func (s *LedgerService) EnsureUser(ctx context.Context, userID int64, username string) (*model.User, bool, error) {
	user, created, err := s.userRepo.GetOrCreate(ctx, userID, username)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}

	if !created && username != "" && user.Username != username {
		if err := s.userRepo.UpdateUsername(ctx, userID, username); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to update username")
		} else {
			user.Username = username
		}
	}
	return user, created, nil
}

// GetBalance retrieves a user's current balance.
func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	balance, err := s.userRepo.GetBalance(ctx, userID)
	if err != nil {
		return 0, translate(err)
	}
	return balance, nil
}

// CreditResult is the outcome of a payment credit.
type CreditResult struct {
	Balance int64 `json:"balance"`
	// Applied is false when the payment id had been credited before.
	Applied bool `json:"applied"`
}

// CreditPurchase credits a confirmed payment. Replaying the same external
// payment id is a no-op that returns the current balance.
func (s *LedgerService) CreditPurchase(ctx context.Context, userID, amount int64, externalPaymentID string) (*CreditResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if externalPaymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrInvalidRequest)
	}

	if _, _, err := s.userRepo.GetOrCreate(ctx, userID, ""); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	var result CreditResult
	err := s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		result = CreditResult{}

		payment, applied, err := s.paymentRep.Record(ctx, tx, externalPaymentID, userID, amount)
		if err != nil {
			return err
		}
		if !applied {
			if payment.UserID != userID {
				return fmt.Errorf("%w: payment %s belongs to another user", ErrInvalidRequest, externalPaymentID)
			}
			result.Balance, err = s.userRepo.GetBalance(ctx, userID)
			return err
		}

		if result.Balance, err = s.userRepo.Credit(ctx, tx, userID, amount); err != nil {
			return err
		}
		_, err = s.txRepo.Create(ctx, tx, repository.LedgerEntry{
			UserID:      userID,
			Amount:      amount,
			Type:        model.TxTypePurchaseCredits,
			Description: "credit purchase",
			Reference:   externalPaymentID,
		})
		if err != nil {
			return err
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	if result.Applied {
		log.Info().
			Int64("user_id", userID).
			Int64("amount", amount).
			Str("payment_id", externalPaymentID).
			Msg("Credits purchased")
		s.events.Dispatch(notify.NewEvent(notify.EventCreditsAdded, userID, map[string]any{
			"amount":     amount,
			"payment_id": externalPaymentID,
			"balance":    result.Balance,
		}))
	} else {
		log.Info().Str("payment_id", externalPaymentID).Msg("Duplicate payment confirmation ignored")
	}
	return &result, nil
}

// History returns the user's most recent ledger entries.
func (s *LedgerService) History(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return nil, translate(err)
	}
	return s.txRepo.GetByUserID(ctx, userID, limit)
}

// Reconcile compares one user's balance with the sum of their ledger entries.
// It returns nil when they agree.
func (s *LedgerService) Reconcile(ctx context.Context, userID int64) (*model.BalanceMismatch, error) {
	m, err := s.txRepo.Reconcile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if m != nil {
		log.Error().
			Int64("user_id", m.UserID).
			Int64("balance", m.Balance).
			Int64("ledger_sum", m.LedgerSum).
			Msg("Balance does not match ledger")
	}
	return m, nil
}

// ReconcileAll reports every user whose balance disagrees with the ledger.
func (s *LedgerService) ReconcileAll(ctx context.Context) ([]*model.BalanceMismatch, error) {
	mismatches, err := s.txRepo.FindMismatches(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range mismatches {
		log.Error().
			Int64("user_id", m.UserID).
			Int64("balance", m.Balance).
			Int64("ledger_sum", m.LedgerSum).
			Msg("Balance does not match ledger")
	}
	log.Info().Int("mismatches", len(mismatches)).Msg("Ledger reconciliation finished")
	return mismatches, nil
}
