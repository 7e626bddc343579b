// Package repository provides the PostgreSQL data access layer.
// Every repository can be rebound to a transaction with WithTx.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"countryballs/internal/economy"
	"countryballs/internal/model"
	"countryballs/internal/pkg/db"
)

// Common errors for repository operations.
var (
	ErrUserNotFound    = fmt.Errorf("user %w", economy.ErrNotFound)
	ErrUserExists      = fmt.Errorf("user already exists: %w", economy.ErrConflict)
	ErrCountryNotFound = fmt.Errorf("country %w", economy.ErrNotFound)
	ErrRegionNotFound  = fmt.Errorf("region %w", economy.ErrNotFound)
)

const userColumns = `
	id, telegram_id, username, first_name, last_name, tg_url, chat_id,
	country_id, region_id, energy, total_capacity, total_boost_value,
	game_balance, enterprises_slots, referrer_id, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.TelegramID,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.TgURL,
		&u.ChatID,
		&u.CountryID,
		&u.RegionID,
		&u.Energy,
		&u.TotalCapacity,
		&u.TotalBoostValue,
		&u.GameBalance,
		&u.EnterpriseSlots,
		&u.ReferrerID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserRepository handles user data persistence.
type UserRepository struct {
	db db.Querier
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(q db.Querier) *UserRepository {
	return &UserRepository{db: q}
}

// WithTx returns a copy bound to tx.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

// Create inserts a new user. A duplicate Telegram id returns ErrUserExists.
func (r *UserRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	query := `
		INSERT INTO users (
			id, telegram_id, username, first_name, last_name, tg_url, chat_id,
			energy, total_capacity, total_boost_value, game_balance,
			enterprises_slots, referrer_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING` + userColumns

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	created, err := scanUser(r.db.QueryRow(ctx, query,
		u.ID, u.TelegramID, u.Username, u.FirstName, u.LastName, u.TgURL, u.ChatID,
		u.Energy, u.TotalCapacity, u.TotalBoostValue, u.GameBalance,
		u.EnterpriseSlots, u.ReferrerID,
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return created, nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetByTelegramID retrieves a user by their Telegram ID.
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return r.getOne(ctx, `SELECT`+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
}

// GetByID retrieves a user by internal id.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, `SELECT`+userColumns+` FROM users WHERE id = $1`, id)
}

// GetForUpdate retrieves a user and locks the row until the transaction ends.
// It must be called on a repository bound to a transaction.
func (r *UserRepository) GetForUpdate(ctx context.Context, telegramID int64) (*model.User, error) {
	return r.getOne(ctx, `SELECT`+userColumns+` FROM users WHERE telegram_id = $1 FOR UPDATE`, telegramID)
}

// GetAncestor resolves a user for the referral chain walk.
// A missing user is (nil, nil).
func (r *UserRepository) GetAncestor(ctx context.Context, id uuid.UUID) (*economy.Ancestor, error) {
	const query = `SELECT id, referrer_id FROM users WHERE id = $1`

	var a economy.Ancestor
	err := r.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.ReferrerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ancestor: %w", err)
	}
	return &a, nil
}

// UpdateProfile refreshes the Telegram-side fields of an existing user.
func (r *UserRepository) UpdateProfile(ctx context.Context, p model.Profile) (*model.User, error) {
	query := `
		UPDATE users
		SET username = $2, first_name = $3, last_name = $4,
			chat_id = COALESCE($5, chat_id), updated_at = NOW()
		WHERE telegram_id = $1
		RETURNING` + userColumns

	return r.getOne(ctx, query, p.TelegramID, p.Username, p.FirstName, p.LastName, p.ChatID)
}

// SaveTapState stores the energy and balance computed by a tap update.
func (r *UserRepository) SaveTapState(ctx context.Context, id uuid.UUID, energy, balance int64) error {
	const query = `
		UPDATE users
		SET energy = $2, game_balance = $3, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, energy, balance)
	if err != nil {
		return fmt.Errorf("failed to save tap state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetSlots sets the enterprise slot count.
func (r *UserRepository) SetSlots(ctx context.Context, id uuid.UUID, slots int) error {
	return r.exec(ctx, "set slots",
		`UPDATE users SET enterprises_slots = $2, updated_at = NOW() WHERE id = $1`, id, slots)
}

// AddCapacity increases total_capacity by delta.
func (r *UserRepository) AddCapacity(ctx context.Context, id uuid.UUID, delta int64) error {
	return r.exec(ctx, "add capacity",
		`UPDATE users SET total_capacity = total_capacity + $2, updated_at = NOW() WHERE id = $1`, id, delta)
}

// AddBoost increases total_boost_value by delta.
func (r *UserRepository) AddBoost(ctx context.Context, id uuid.UUID, delta int64) error {
	return r.exec(ctx, "add boost",
		`UPDATE users SET total_boost_value = total_boost_value + $2, updated_at = NOW() WHERE id = $1`, id, delta)
}

// AddBalance increases game_balance by delta.
func (r *UserRepository) AddBalance(ctx context.Context, id uuid.UUID, delta int64) error {
	return r.exec(ctx, "add balance",
		`UPDATE users SET game_balance = game_balance + $2, updated_at = NOW() WHERE id = $1`, id, delta)
}

// SetLocation stores the country, region and (possibly penalised) balance.
func (r *UserRepository) SetLocation(ctx context.Context, id uuid.UUID, countryID, regionID *int64, balance int64) (*model.User, error) {
	query := `
		UPDATE users
		SET country_id = $2, region_id = $3, game_balance = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING` + userColumns

	return r.getOne(ctx, query, id, countryID, regionID, balance)
}

func (r *UserRepository) exec(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RechargeEnergy resets every user's energy to limit and returns the number of rows touched.
func (r *UserRepository) RechargeEnergy(ctx context.Context, limit int64) (int64, error) {
	result, err := r.db.Exec(ctx, `UPDATE users SET energy = $1 WHERE energy <> $1`, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to recharge energy: %w", err)
	}
	return result.RowsAffected(), nil
}

// AccrueCapacity adds each user's total_capacity to their balance.
func (r *UserRepository) AccrueCapacity(ctx context.Context) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE users
		SET game_balance = game_balance + total_capacity
		WHERE total_capacity > 0
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to accrue capacity: %w", err)
	}
	return result.RowsAffected(), nil
}

// CreditBalances adds each amount to its user's balance in a single statement.
func (r *UserRepository) CreditBalances(ctx context.Context, credits map[uuid.UUID]int64) (int64, error) {
	if len(credits) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(credits))
	amounts := make([]int64, 0, len(credits))
	for id, amount := range credits {
		ids = append(ids, id.String())
		amounts = append(amounts, amount)
	}

	const query = `
		UPDATE users AS u
		SET game_balance = u.game_balance + c.amount, updated_at = NOW()
		FROM unnest($1::text[]::uuid[], $2::bigint[]) AS c(id, amount)
		WHERE u.id = c.id
	`

	result, err := r.db.Exec(ctx, query, ids, amounts)
	if err != nil {
		return 0, fmt.Errorf("failed to credit balances: %w", err)
	}
	return result.RowsAffected(), nil
}
