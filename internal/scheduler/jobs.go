package scheduler

import (
	"context"

	"countryballs/internal/config"
)

// BalanceJobs is implemented by service.BalanceService.
type BalanceJobs interface {
	RechargeEnergy(ctx context.Context) (int64, error)
	AccrueCapacity(ctx context.Context) (int64, error)
}

// CommissionJob is implemented by service.ReferralService.
type CommissionJob interface {
	ComputeCommissions(ctx context.Context) (int64, error)
}

// RatingJob is implemented by service.RatingService.
type RatingJob interface {
	RefreshRatings(ctx context.Context) error
}

// RegisterEconomyJobs registers the four periodic jobs with their configured specs.
func RegisterEconomyJobs(s *Scheduler, cfg config.SchedulerConfig, balance BalanceJobs, commissions CommissionJob, ratings RatingJob) error {
	jobs := []struct {
		name string
		spec string
		fn   JobFunc
	}{
		{JobRechargeEnergy, cfg.RechargeEnergy, dropCount(balance.RechargeEnergy)},
		{JobAccrueCapacity, cfg.AccrueCapacity, dropCount(balance.AccrueCapacity)},
		{JobRefreshRatings, cfg.RefreshRatings, ratings.RefreshRatings},
		{JobComputeCommissions, cfg.ComputeCommissions, dropCount(commissions.ComputeCommissions)},
	}

	for _, j := range jobs {
		if err := s.Register(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func dropCount(fn func(ctx context.Context) (int64, error)) JobFunc {
	return func(ctx context.Context) error {
		_, err := fn(ctx)
		return err
	}
}
