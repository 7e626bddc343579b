package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"countryballs/internal/economy"
	"countryballs/internal/model"
	"countryballs/internal/pkg/db"
	"countryballs/internal/repository"
)

// Page size bounds for leaderboard reads.
const (
	MaxRatingPageSize  = 200
	MaxPaymentPageSize = 100
)

// RatingService materializes and serves the leaderboards.
type RatingService struct {
	pool       db.TxBeginner
	ratingRepo *repository.RatingRepository
}

// NewRatingService creates a new RatingService instance.
func NewRatingService(pool db.TxBeginner, ratingRepo *repository.RatingRepository) *RatingService {
	return &RatingService{pool: pool, ratingRepo: ratingRepo}
}

// RefreshRatings rebuilds the GDP, capacity and country leaderboards in one
// transaction. Readers see either the previous tables or the new ones.
func (s *RatingService) RefreshRatings(ctx context.Context) error {
	var gdp, capacity, countries int64

	err := retrySerializable(ctx, serializableAttempts, func() error {
		return db.WithTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
			ratings := s.ratingRepo.WithTx(tx)

			var err error
			if gdp, err = ratings.Rebuild(ctx, model.RatingGDP); err != nil {
				return err
			}
			if capacity, err = ratings.Rebuild(ctx, model.RatingCapacity); err != nil {
				return err
			}
			countries, err = ratings.RebuildCountries(ctx)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("failed to refresh ratings: %w", err)
	}

	log.Info().
		Int64("gdp", gdp).
		Int64("capacity", capacity).
		Int64("countries", countries).
		Msg("Ratings refreshed")
	return nil
}

// ListRating returns a page of a user leaderboard.
func (s *RatingService) ListRating(ctx context.Context, kind model.RatingKind, offset, limit int) ([]model.RatingEntry, error) {
	if err := checkPage(offset, limit, MaxRatingPageSize); err != nil {
		return nil, err
	}
	return s.ratingRepo.List(ctx, kind, offset, limit)
}

// ListCountryRatings returns a page of the country leaderboard.
func (s *RatingService) ListCountryRatings(ctx context.Context, offset, limit int) ([]model.CountryRating, error) {
	if err := checkPage(offset, limit, MaxRatingPageSize); err != nil {
		return nil, err
	}
	return s.ratingRepo.ListCountries(ctx, offset, limit)
}

func checkPage(offset, limit, maxLimit int) error {
	if offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", economy.ErrInvalidInput)
	}
	if limit < 1 || limit > maxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", economy.ErrInvalidInput, maxLimit)
	}
	return nil
}
