// Package model defines the data models for the collectible market.
package model

import "time"

// User holds a user's credit balance. Balance only changes through ledger operations.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Balance   int64     `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is an immutable ledger entry. Amount is signed.
type Transaction struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Amount      int64     `db:"amount" json:"amount"`
	Type        string    `db:"type" json:"type"`
	Description *string   `db:"description" json:"description,omitempty"`
	Reference   *string   `db:"reference" json:"reference,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypePurchaseCredits     = "PURCHASE_CREDITS"
	TxTypeOpenPack            = "OPEN_PACK"
	TxTypeMarketplaceSale     = "MARKETPLACE_SALE"
	TxTypeMarketplacePurchase = "MARKETPLACE_PURCHASE"
	TxTypeAutoSell            = "AUTO_SELL"
)

// PaymentCredit records an applied external payment; ExternalPaymentID is unique.
type PaymentCredit struct {
	ID                int64     `db:"id" json:"id"`
	ExternalPaymentID string    `db:"external_payment_id" json:"external_payment_id"`
	UserID            int64     `db:"user_id" json:"user_id"`
	Amount            int64     `db:"amount" json:"amount"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// BalanceMismatch is a user whose balance differs from the sum of their ledger.
type BalanceMismatch struct {
	UserID    int64 `db:"user_id" json:"user_id"`
	Balance   int64 `db:"balance" json:"balance"`
	LedgerSum int64 `db:"ledger_sum" json:"ledger_sum"`
}
