package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type migration struct {
	name string
	sql  string
}

// migrations are idempotent and applied in order on every start.
var migrations = []migration{
	{"countries and regions", `
		CREATE TABLE IF NOT EXISTS countries (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			description TEXT,
			image_url TEXT
		);
		CREATE TABLE IF NOT EXISTS regions (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			country_id BIGINT NOT NULL REFERENCES countries(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_regions_country ON regions(country_id);
	`},
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			telegram_id BIGINT NOT NULL UNIQUE,
			username VARCHAR(255),
			first_name VARCHAR(255),
			last_name VARCHAR(255),
			tg_url TEXT,
			chat_id BIGINT,
			country_id BIGINT REFERENCES countries(id) ON DELETE SET NULL,
			region_id BIGINT REFERENCES regions(id) ON DELETE SET NULL,
			energy BIGINT NOT NULL CHECK (energy >= 0),
			total_capacity BIGINT NOT NULL DEFAULT 0 CHECK (total_capacity >= 0),
			total_boost_value BIGINT NOT NULL DEFAULT 0 CHECK (total_boost_value >= 0),
			game_balance BIGINT NOT NULL DEFAULT 0 CHECK (game_balance >= 0),
			enterprises_slots INT NOT NULL CHECK (enterprises_slots >= 0),
			referrer_id UUID REFERENCES users(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_country ON users(country_id);
		CREATE INDEX IF NOT EXISTS idx_users_referrer ON users(referrer_id);
		DO $$ BEGIN
			ALTER TABLE users ADD CONSTRAINT users_enterprises_slots_check CHECK (enterprises_slots >= 0);
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$;
	`},
	{"referrals", `
		CREATE TABLE IF NOT EXISTS referral_levels (
			level INT PRIMARY KEY CHECK (level BETWEEN 1 AND 10),
			commission_rate NUMERIC(6, 4) NOT NULL CHECK (commission_rate >= 0)
		);
		CREATE TABLE IF NOT EXISTS referral_edges (
			owner_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			referral_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			level INT NOT NULL REFERENCES referral_levels(level),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (owner_id, referral_id),
			CHECK (owner_id <> referral_id)
		);
		CREATE INDEX IF NOT EXISTS idx_referral_edges_referral ON referral_edges(referral_id);
		INSERT INTO referral_levels (level, commission_rate) VALUES
			(1, 0.1000), (2, 0.0500), (3, 0.0300), (4, 0.0200), (5, 0.0100),
			(6, 0.0050), (7, 0.0040), (8, 0.0030), (9, 0.0020), (10, 0.0010)
		ON CONFLICT (level) DO NOTHING;
	`},
	{"catalog", `
		CREATE TABLE IF NOT EXISTS enterprises (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			capacity BIGINT NOT NULL CHECK (capacity >= 0)
		);
		CREATE TABLE IF NOT EXISTS user_enterprises (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			enterprise_id BIGINT NOT NULL REFERENCES enterprises(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_user_enterprises_user ON user_enterprises(user_id);
		CREATE TABLE IF NOT EXISTS boosts (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			value BIGINT NOT NULL CHECK (value >= 0)
		);
		CREATE TABLE IF NOT EXISTS user_boosts (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			boost_id BIGINT NOT NULL REFERENCES boosts(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_user_boosts_user ON user_boosts(user_id);
		CREATE TABLE IF NOT EXISTS cases (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL
		);
		CREATE TABLE IF NOT EXISTS case_rewards (
			id BIGSERIAL PRIMARY KEY,
			case_id BIGINT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
			kind VARCHAR(20) NOT NULL CHECK (kind IN ('capacity', 'boost', 'currency')),
			amount BIGINT NOT NULL CHECK (amount >= 0),
			weight INT NOT NULL CHECK (weight >= 0)
		);
		CREATE INDEX IF NOT EXISTS idx_case_rewards_case ON case_rewards(case_id);
	`},
	{"ratings", `
		CREATE TABLE IF NOT EXISTS gdp_ratings (
			position BIGINT PRIMARY KEY,
			user_id UUID NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
			total BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS capacity_ratings (
			position BIGINT PRIMARY KEY,
			user_id UUID NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
			total BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS country_ratings (
			position BIGINT PRIMARY KEY,
			country_id BIGINT NOT NULL UNIQUE REFERENCES countries(id) ON DELETE CASCADE,
			user_count BIGINT NOT NULL,
			total_balance BIGINT NOT NULL
		);
	`},
	{"payments", `
		CREATE TABLE IF NOT EXISTS stars_payments (
			id TEXT PRIMARY KEY,
			telegram_id BIGINT NOT NULL,
			currency VARCHAR(10) NOT NULL,
			total_amount BIGINT NOT NULL,
			provider_charge_id TEXT,
			product_type VARCHAR(20) NOT NULL,
			product_id BIGINT NOT NULL DEFAULT 0,
			payload JSONB NOT NULL,
			order_info JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_stars_payments_user_time ON stars_payments(telegram_id, created_at DESC);
		CREATE TABLE IF NOT EXISTS stars_refunds (
			id TEXT PRIMARY KEY,
			telegram_id BIGINT NOT NULL,
			currency VARCHAR(10) NOT NULL,
			total_amount BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{"balance events", `
		CREATE TABLE IF NOT EXISTS balance_events (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_balance_events_user_time ON balance_events(user_id, created_at DESC);
	`},
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db Querier) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
