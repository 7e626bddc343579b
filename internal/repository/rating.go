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

// ErrUnknownRating is returned for a rating kind with no table.
var ErrUnknownRating = fmt.Errorf("unknown rating: %w", economy.ErrInvalidInput)

// RatingRepository handles the materialized leaderboards.
type RatingRepository struct {
	db db.Querier
}

// NewRatingRepository creates a new RatingRepository instance.
func NewRatingRepository(q db.Querier) *RatingRepository {
	return &RatingRepository{db: q}
}

// WithTx returns a copy bound to tx.
func (r *RatingRepository) WithTx(tx pgx.Tx) *RatingRepository {
	return &RatingRepository{db: tx}
}

type ratingSource struct {
	table  string
	column string
}

var ratingSources = map[model.RatingKind]ratingSource{
	model.RatingGDP:      {table: "gdp_ratings", column: "game_balance"},
	model.RatingCapacity: {table: "capacity_ratings", column: "total_capacity"},
}

func sourceFor(kind model.RatingKind) (ratingSource, error) {
	src, ok := ratingSources[kind]
	if !ok {
		return ratingSource{}, ErrUnknownRating
	}
	return src, nil
}

// Rebuild replaces a user leaderboard with the current ordering.
// Ties are broken by telegram_id so that identical data yields identical positions.
func (r *RatingRepository) Rebuild(ctx context.Context, kind model.RatingKind) (int64, error) {
	src, err := sourceFor(kind)
	if err != nil {
		return 0, err
	}

	if _, err := r.db.Exec(ctx, `DELETE FROM `+src.table); err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", src.table, err)
	}

	insert := fmt.Sprintf(`
		INSERT INTO %[1]s (position, user_id, total)
		SELECT ROW_NUMBER() OVER (ORDER BY %[2]s DESC, telegram_id ASC), id, %[2]s
		FROM users
	`, src.table, src.column)

	result, err := r.db.Exec(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("failed to fill %s: %w", src.table, err)
	}
	return result.RowsAffected(), nil
}

// RebuildCountries replaces the per-country aggregate.
func (r *RatingRepository) RebuildCountries(ctx context.Context) (int64, error) {
	if _, err := r.db.Exec(ctx, `DELETE FROM country_ratings`); err != nil {
		return 0, fmt.Errorf("failed to clear country_ratings: %w", err)
	}

	const insert = `
		INSERT INTO country_ratings (position, country_id, user_count, total_balance)
		SELECT ROW_NUMBER() OVER (ORDER BY SUM(u.game_balance) DESC, c.id ASC),
			c.id, COUNT(u.id), COALESCE(SUM(u.game_balance), 0)
		FROM countries c
		JOIN users u ON u.country_id = c.id
		GROUP BY c.id
	`

	result, err := r.db.Exec(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("failed to fill country_ratings: %w", err)
	}
	return result.RowsAffected(), nil
}

// List returns a page of a user leaderboard ordered by position.
func (r *RatingRepository) List(ctx context.Context, kind model.RatingKind, offset, limit int) ([]model.RatingEntry, error) {
	src, err := sourceFor(kind)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT r.position, r.user_id, u.telegram_id, u.username, u.first_name, u.last_name,
			c.image_url, r.total
		FROM ` + src.table + ` r
		JOIN users u ON u.id = r.user_id
		LEFT JOIN countries c ON c.id = u.country_id
		ORDER BY r.position
		OFFSET $1 LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", src.table, err)
	}
	defer rows.Close()

	entries := make([]model.RatingEntry, 0, limit)
	for rows.Next() {
		var e model.RatingEntry
		err := rows.Scan(
			&e.Position,
			&e.UserID,
			&e.TelegramID,
			&e.Username,
			&e.FirstName,
			&e.LastName,
			&e.CountryImageURL,
			&e.Total,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rating entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rating entries: %w", err)
	}

	return entries, nil
}

// ListCountries returns a page of the country aggregate.
func (r *RatingRepository) ListCountries(ctx context.Context, offset, limit int) ([]model.CountryRating, error) {
	const query = `
		SELECT r.position, r.country_id, c.name, r.user_count, r.total_balance
		FROM country_ratings r
		JOIN countries c ON c.id = r.country_id
		ORDER BY r.position
		OFFSET $1 LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list country ratings: %w", err)
	}
	defer rows.Close()

	ratings := make([]model.CountryRating, 0, limit)
	for rows.Next() {
		var cr model.CountryRating
		if err := rows.Scan(&cr.Position, &cr.CountryID, &cr.CountryName, &cr.UserCount, &cr.TotalBalance); err != nil {
			return nil, fmt.Errorf("failed to scan country rating: %w", err)
		}
		ratings = append(ratings, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating country ratings: %w", err)
	}

	return ratings, nil
}

// Positions returns the user's rank in each leaderboard; unranked users get nil.
func (r *RatingRepository) Positions(ctx context.Context, userID uuid.UUID) (model.RatingPositions, error) {
	const query = `
		SELECT
			(SELECT position FROM gdp_ratings WHERE user_id = $1),
			(SELECT position FROM capacity_ratings WHERE user_id = $1)
	`

	var p model.RatingPositions
	if err := r.db.QueryRow(ctx, query, userID).Scan(&p.GDP, &p.Capacity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, nil
		}
		return p, fmt.Errorf("failed to get rating positions: %w", err)
	}
	return p, nil
}
