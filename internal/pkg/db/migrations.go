package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type migration struct {
	name string
	sql  string
}

// Every statement is idempotent so Migrate can run on each start.
var migrations = []migration{
	{
		name: "users",
		sql: `
		CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	},
	{
		name: "transactions",
		sql: `
		CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL,
			type VARCHAR(32) NOT NULL,
			description TEXT,
			reference VARCHAR(128),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_type_time ON transactions(type, created_at DESC);`,
	},
	{
		name: "payment_credits",
		sql: `
		CREATE TABLE IF NOT EXISTS payment_credits (
			id BIGSERIAL PRIMARY KEY,
			external_payment_id VARCHAR(128) NOT NULL UNIQUE,
			user_id BIGINT NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL CHECK (amount > 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	},
	{
		name: "catalog",
		sql: `
		CREATE TABLE IF NOT EXISTS collections (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS item_definitions (
			id BIGSERIAL PRIMARY KEY,
			collection_id VARCHAR(64) NOT NULL REFERENCES collections(id),
			item_number INT NOT NULL,
			name VARCHAR(255) NOT NULL,
			rarity VARCHAR(16) NOT NULL,
			base_value BIGINT NOT NULL CHECK (base_value >= 0),
			scarcity_tier VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (collection_id, item_number)
		);
		CREATE TABLE IF NOT EXISTS pack_tiers (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			collection_id VARCHAR(64) NOT NULL REFERENCES collections(id),
			price BIGINT NOT NULL CHECK (price > 0),
			weights JSONB NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	},
	{
		name: "scarcity_counters",
		sql: `
		CREATE TABLE IF NOT EXISTS scarcity_counters (
			item_definition_id BIGINT PRIMARY KEY REFERENCES item_definitions(id),
			issued_count INT NOT NULL DEFAULT 0,
			max_editions INT,
			claimed BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (max_editions IS NULL OR issued_count <= max_editions)
		);`,
	},
	{
		name: "user_items",
		sql: `
		CREATE TABLE IF NOT EXISTS user_items (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			item_definition_id BIGINT NOT NULL REFERENCES item_definitions(id),
			serial INT,
			source VARCHAR(32) NOT NULL,
			obtained_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_user_items_user ON user_items(user_id, obtained_at DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_user_items_serial
			ON user_items(item_definition_id, serial) WHERE serial IS NOT NULL;`,
	},
	{
		name: "listings",
		sql: `
		CREATE TABLE IF NOT EXISTS listings (
			id BIGSERIAL PRIMARY KEY,
			user_item_id BIGINT NOT NULL,
			seller_id BIGINT NOT NULL REFERENCES users(id),
			buyer_id BIGINT REFERENCES users(id),
			price BIGINT NOT NULL CHECK (price > 0),
			status VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			sold_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_listings_active_item
			ON listings(user_item_id) WHERE status = 'ACTIVE';
		CREATE INDEX IF NOT EXISTS idx_listings_status_time ON listings(status, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_listings_seller_time ON listings(seller_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_listings_buyer_time ON listings(buyer_id, sold_at DESC);
		CREATE TABLE IF NOT EXISTS platform_revenue (
			id BIGSERIAL PRIMARY KEY,
			listing_id BIGINT NOT NULL REFERENCES listings(id),
			amount BIGINT NOT NULL CHECK (amount >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	},
	{
		name: "marketplace_rules",
		sql: `
		CREATE TABLE IF NOT EXISTS marketplace_rules (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(128) NOT NULL UNIQUE,
			category VARCHAR(32) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			priority INT NOT NULL DEFAULT 0,
			config JSONB NOT NULL DEFAULT '{}'::jsonb,
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS risk_signals (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			action VARCHAR(16) NOT NULL,
			user_item_id BIGINT,
			listing_id BIGINT,
			score INT NOT NULL DEFAULT 0,
			vetoed BOOLEAN NOT NULL DEFAULT FALSE,
			reasons JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_risk_signals_time ON risk_signals(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_risk_signals_item ON risk_signals(user_item_id, created_at DESC);`,
	},
}

// Migrate creates the schema.
func Migrate(ctx context.Context, q Execer) error {
	log.Info().Int("count", len(migrations)).Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := q.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Debug().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
