// Package repository provides data access layer implementations.
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

// UserRepository handles user and balance persistence.
// Balance writes take the caller's transaction so they commit or roll back
// together with the ledger entry describing them.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, username, balance, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Balance,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetOrCreate returns the user, creating it with a zero balance on first sight.
// created reports whether this call inserted the row.
func (r *UserRepository) GetOrCreate(ctx context.Context, userID int64, username string) (*model.User, bool, error) {
	const insert = `
		INSERT INTO users (id, username, balance, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, insert, userID, username))
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}

	user, err = r.GetByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return user, false, nil
}

// GetByID retrieves a user by ID.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetBalance returns the user's current balance.
func (r *UserRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	const query = `SELECT balance FROM users WHERE id = $1`

	var balance int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Debit subtracts amount only if the balance covers it and returns the new balance.
// The row lock taken by the UPDATE serializes concurrent debits of one user.
// Returns ErrInsufficientBalance or ErrUserNotFound when nothing was changed.
func (r *UserRepository) Debit(ctx context.Context, tx db.Querier, userID int64, amount int64) (int64, error) {
	const query = `
		UPDATE users
		SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`

	var balance int64
	err := tx.QueryRow(ctx, query, userID, amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to debit balance: %w", err)
	}

	exists, err := r.exists(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrUserNotFound
	}
	return 0, ErrInsufficientBalance
}

// Credit adds amount to the balance and returns the new balance.
func (r *UserRepository) Credit(ctx context.Context, tx db.Querier, userID int64, amount int64) (int64, error) {
	const query = `
		UPDATE users
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING balance
	`

	var balance int64
	if err := tx.QueryRow(ctx, query, userID, amount).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to credit balance: %w", err)
	}
	return balance, nil
}

// UpdateUsername updates a user's display name.
func (r *UserRepository) UpdateUsername(ctx context.Context, userID int64, username string) error {
	const query = `
		UPDATE users
		SET username = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, userID, username)
	if err != nil {
		return fmt.Errorf("failed to update username: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// Exists checks if a user with the given ID exists.
func (r *UserRepository) Exists(ctx context.Context, userID int64) (bool, error) {
	return r.exists(ctx, r.pool, userID)
}

func (r *UserRepository) exists(ctx context.Context, q db.Querier, userID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	var exists bool
	if err := q.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}
