package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collectible-market/internal/model"
	"collectible-market/internal/pkg/db"
)

// TransactionRepository handles the append-only credit ledger.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// LedgerEntry is the input for a new ledger row.
type LedgerEntry struct {
	UserID      int64
	Amount      int64
	Type        string
	Description string
	Reference   string
}

const transactionColumns = `id, user_id, amount, type, description, reference, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Amount,
		&t.Type,
		&t.Description,
		&t.Reference,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create appends a ledger row inside the caller's transaction.
func (r *TransactionRepository) Create(ctx context.Context, tx db.Querier, e LedgerEntry) (*model.Transaction, error) {
	const query = `
		INSERT INTO transactions (user_id, amount, type, description, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING ` + transactionColumns

	t, err := scanTransaction(tx.QueryRow(ctx, query,
		e.UserID, e.Amount, e.Type, nullable(e.Description), nullable(e.Reference)))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return t, nil
}

// GetByUserID retrieves a user's transactions, newest first.
func (r *TransactionRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	const query = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// Reconcile compares one user's balance against the sum of their ledger.
// Returns nil when they agree.
func (r *TransactionRepository) Reconcile(ctx context.Context, userID int64) (*model.BalanceMismatch, error) {
	const query = `
		SELECT u.id, u.balance, COALESCE(SUM(t.amount), 0)::BIGINT
		FROM users u
		LEFT JOIN transactions t ON t.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id, u.balance
	`

	var m model.BalanceMismatch
	err := r.pool.QueryRow(ctx, query, userID).Scan(&m.UserID, &m.Balance, &m.LedgerSum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to reconcile user: %w", err)
	}

	if m.Balance == m.LedgerSum {
		return nil, nil
	}
	return &m, nil
}

// FindMismatches returns every user whose balance differs from their ledger sum.
func (r *TransactionRepository) FindMismatches(ctx context.Context) ([]*model.BalanceMismatch, error) {
	const query = `
		SELECT u.id, u.balance, COALESCE(SUM(t.amount), 0)::BIGINT AS ledger_sum
		FROM users u
		LEFT JOIN transactions t ON t.user_id = u.id
		GROUP BY u.id, u.balance
		HAVING u.balance <> COALESCE(SUM(t.amount), 0)::BIGINT
		ORDER BY u.id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find balance mismatches: %w", err)
	}
	defer rows.Close()

	var mismatches []*model.BalanceMismatch
	for rows.Next() {
		var m model.BalanceMismatch
		if err := rows.Scan(&m.UserID, &m.Balance, &m.LedgerSum); err != nil {
			return nil, fmt.Errorf("failed to scan mismatch: %w", err)
		}
		mismatches = append(mismatches, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mismatches: %w", err)
	}

	return mismatches, nil
}
