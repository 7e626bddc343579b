// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"countryballs/internal/config"
	"countryballs/internal/economy"
	"countryballs/internal/model"
	"countryballs/internal/pkg/db"
	"countryballs/internal/repository"
)

// ErrRegionWithoutCountry is returned when a region is chosen before a country.
var ErrRegionWithoutCountry = fmt.Errorf("cannot set a region while the country is empty: %w", economy.ErrForbidden)

// UserProfile is a user with everything the client shows next to it.
type UserProfile struct {
	*model.User
	Positions      model.RatingPositions `json:"positions"`
	Country        *model.Country        `json:"country"`
	Region         *model.Region         `json:"region"`
	Enterprises    []model.Enterprise    `json:"enterprises"`
	TapEarnedToday int64                 `json:"tap_earned_today"`
}

// AccountService handles user account operations.
type AccountService struct {
	pool        db.TxBeginner
	userRepo    *repository.UserRepository
	catalogRepo *repository.CatalogRepository
	ratingRepo  *repository.RatingRepository
	eventRepo   *repository.EventRepository
	referrals   *ReferralService
	game        config.GameConfig
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(
	pool db.TxBeginner,
	userRepo *repository.UserRepository,
	catalogRepo *repository.CatalogRepository,
	ratingRepo *repository.RatingRepository,
	eventRepo *repository.EventRepository,
	referrals *ReferralService,
	game config.GameConfig,
) *AccountService {
	return &AccountService{
		pool:        pool,
		userRepo:    userRepo,
		catalogRepo: catalogRepo,
		ratingRepo:  ratingRepo,
		eventRepo:   eventRepo,
		referrals:   referrals,
		game:        game,
	}
}

// Register creates the user for profile, or refreshes the profile of an
// existing one. A new user starts with full energy, the minimum slot count
// and the starter enterprises, and is attributed to referrerTelegramID's
// chain in the same transaction. Unknown referrers and self-referrals are ignored.
func (s *AccountService) Register(ctx context.Context, p model.Profile, referrerTelegramID *int64) (*model.User, bool, error) {
	var (
		user    *model.User
		created bool
	)

	err := db.WithTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		users := s.userRepo.WithTx(tx)

		existing, err := users.UpdateProfile(ctx, p)
		if err == nil {
			user = existing
			return nil
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return err
		}

		newUser := &model.User{
			TelegramID:      p.TelegramID,
			Username:        p.Username,
			FirstName:       p.FirstName,
			LastName:        p.LastName,
			ChatID:          p.ChatID,
			Energy:          s.game.EnergyLimit,
			EnterpriseSlots: s.game.EnterprisesMinSlots,
		}
		if p.Username != nil && *p.Username != "" {
			url := "https://t.me/" + *p.Username
			newUser.TgURL = &url
		}

		if referrerTelegramID != nil && *referrerTelegramID != p.TelegramID {
			owner, err := users.GetByTelegramID(ctx, *referrerTelegramID)
			switch {
			case err == nil:
				newUser.ReferrerID = &owner.ID
			case errors.Is(err, repository.ErrUserNotFound):
				log.Warn().Int64("referrer", *referrerTelegramID).Msg("Unknown referrer ignored")
			default:
				return err
			}
		}

		starters, err := s.starterEnterprises(ctx, s.catalogRepo.WithTx(tx))
		if err != nil {
			return err
		}
		for _, e := range starters {
			newUser.TotalCapacity += e.Capacity
		}

		user, err = users.Create(ctx, newUser)
		if err != nil {
			return err
		}
		for _, e := range starters {
			if err := s.catalogRepo.WithTx(tx).GrantEnterprise(ctx, user.ID, e.ID); err != nil {
				return err
			}
		}

		if _, err := s.referrals.AttributeNewUser(ctx, tx, user); err != nil {
			return err
		}
		created = true
		return nil
	})

	// A concurrent /start for the same user won the insert.
	if errors.Is(err, repository.ErrUserExists) {
		user, err = s.userRepo.UpdateProfile(ctx, p)
		created = false
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to register user: %w", err)
	}

	if created {
		log.Info().
			Int64("user_id", user.TelegramID).
			Int64("capacity", user.TotalCapacity).
			Bool("referred", user.ReferrerID != nil).
			Msg("User registered")
	}
	return user, created, nil
}

func (s *AccountService) starterEnterprises(ctx context.Context, items *repository.CatalogRepository) ([]model.Enterprise, error) {
	out := make([]model.Enterprise, 0, len(s.game.StarterEnterprises))
	for _, id := range s.game.StarterEnterprises {
		e, err := items.GetEnterprise(ctx, id)
		if errors.Is(err, repository.ErrEnterpriseNotFound) {
			log.Warn().Int64("enterprise_id", id).Msg("Starter enterprise missing from catalog")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// GetProfile returns the user with rating positions, location and holdings.
func (s *AccountService) GetProfile(ctx context.Context, telegramID int64) (*UserProfile, error) {
	user, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	profile := &UserProfile{User: user}

	if profile.Positions, err = s.ratingRepo.Positions(ctx, user.ID); err != nil {
		return nil, err
	}
	if user.CountryID != nil {
		if profile.Country, err = s.catalogRepo.GetCountry(ctx, *user.CountryID); err != nil {
			return nil, err
		}
	}
	if user.RegionID != nil {
		if profile.Region, err = s.catalogRepo.GetRegion(ctx, *user.RegionID); err != nil {
			return nil, err
		}
	}
	if profile.Enterprises, err = s.catalogRepo.UserEnterprises(ctx, user.ID); err != nil {
		return nil, err
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	if profile.TapEarnedToday, err = s.eventRepo.SumSince(ctx, user.ID, model.EventTap, dayStart); err != nil {
		return nil, err
	}

	return profile, nil
}

// ChangeLocation moves a user to another country and/or region.
//
// Choosing a different country halves the balance and clears the region.
// A region must belong to the user's (possibly new) country; a region
// without any country is forbidden.
func (s *AccountService) ChangeLocation(ctx context.Context, telegramID int64, countryID, regionID *int64) (*model.User, error) {
	if countryID == nil && regionID == nil {
		return nil, fmt.Errorf("%w: nothing to change", economy.ErrInvalidInput)
	}

	var updated *model.User
	err := db.WithTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		users := s.userRepo.WithTx(tx)
		items := s.catalogRepo.WithTx(tx)

		user, err := users.GetForUpdate(ctx, telegramID)
		if err != nil {
			return err
		}

		newCountry, newRegion := user.CountryID, user.RegionID
		balance := user.GameBalance

		if countryID != nil {
			if _, err := items.GetCountry(ctx, *countryID); err != nil {
				return err
			}
			if user.CountryID == nil || *user.CountryID != *countryID {
				if s.game.CountryChangePenalty {
					balance = economy.HalveBalance(balance)
				}
			}
			newCountry = countryID
			newRegion = nil
		}

		if regionID != nil {
			if newCountry == nil {
				return ErrRegionWithoutCountry
			}
			region, err := items.GetRegion(ctx, *regionID)
			if err != nil {
				return err
			}
			if region.CountryID != *newCountry {
				return fmt.Errorf("region %d is not in country %d: %w", *regionID, *newCountry, repository.ErrRegionNotFound)
			}
			newRegion = regionID
		}

		if updated, err = users.SetLocation(ctx, user.ID, newCountry, newRegion, balance); err != nil {
			return err
		}

		if penalty := balance - user.GameBalance; penalty != 0 {
			desc := "country change"
			if _, err := s.eventRepo.WithTx(tx).Create(ctx, user.ID, penalty, model.EventRelocation, &desc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to change location: %w", err)
	}

	return updated, nil
}
