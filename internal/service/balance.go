package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"countryballs/internal/economy"
	"countryballs/internal/metrics"
	"countryballs/internal/model"
	"countryballs/internal/pkg/db"
	"countryballs/internal/pkg/lock"
	"countryballs/internal/repository"
)

// BalanceUpdate is the result of a tap report.
type BalanceUpdate struct {
	Balance int64           `json:"game_balance"`
	Energy  int64           `json:"energy"`
	Earned  int64           `json:"earned"`
	Outcome economy.Outcome `json:"outcome"`
	Message string          `json:"message"`
}

// BalanceService turns tap reports into balance and runs the batch
// energy and capacity jobs.
type BalanceService struct {
	pool        db.TxBeginner
	userRepo    *repository.UserRepository
	eventRepo   *repository.EventRepository
	locks       *lock.UserLock
	energyLimit int64
}

// NewBalanceService creates a new BalanceService instance.
func NewBalanceService(
	pool db.TxBeginner,
	userRepo *repository.UserRepository,
	eventRepo *repository.EventRepository,
	locks *lock.UserLock,
	energyLimit int64,
) *BalanceService {
	if locks == nil {
		locks = lock.NewUserLock()
	}
	return &BalanceService{
		pool:        pool,
		userRepo:    userRepo,
		eventRepo:   eventRepo,
		locks:       locks,
		energyLimit: energyLimit,
	}
}

// UpdateBalance applies a cumulative tap count for the current energy epoch.
// Rejected reports are returned as an outcome with the balance untouched.
// The row is locked for the whole read-modify-write, so concurrent reports
// for the same user are applied one after the other.
func (s *BalanceService) UpdateBalance(ctx context.Context, telegramID, reportedTaps int64) (*BalanceUpdate, error) {
	var res economy.TapResult

	err := s.locks.WithLock(ctx, telegramID, func() error {
		return db.WithTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			users := s.userRepo.WithTx(tx)

			user, err := users.GetForUpdate(ctx, telegramID)
			if err != nil {
				return err
			}

			res = economy.ApplyTaps(economy.TapState{
				Energy:     user.Energy,
				Capacity:   user.TotalCapacity,
				BoostValue: user.TotalBoostValue,
				Balance:    user.GameBalance,
			}, reportedTaps, s.energyLimit)

			if res.Outcome != economy.OutcomeApplied {
				return nil
			}

			if err := users.SaveTapState(ctx, user.ID, res.State.Energy, res.State.Balance); err != nil {
				return err
			}
			_, err = s.eventRepo.WithTx(tx).Create(ctx, user.ID, res.Earned, model.EventTap, nil)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	metrics.TapUpdates.WithLabelValues(string(res.Outcome)).Inc()
	log.Debug().
		Int64("user_id", telegramID).
		Int64("reported", reportedTaps).
		Int64("applied", res.AppliedTaps).
		Str("outcome", string(res.Outcome)).
		Msg("Tap report processed")

	return &BalanceUpdate{
		Balance: res.State.Balance,
		Energy:  res.State.Energy,
		Earned:  res.Earned,
		Outcome: res.Outcome,
		Message: res.Outcome.Message(),
	}, nil
}

// RechargeEnergy resets every user's energy to the limit.
func (s *BalanceService) RechargeEnergy(ctx context.Context) (int64, error) {
	n, err := s.userRepo.RechargeEnergy(ctx, s.energyLimit)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("users", n).Msg("Energy recharged")
	return n, nil
}

// AccrueCapacity adds each user's total capacity to their balance.
func (s *BalanceService) AccrueCapacity(ctx context.Context) (int64, error) {
	n, err := s.userRepo.AccrueCapacity(ctx)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("users", n).Msg("Capacity accrued")
	return n, nil
}
