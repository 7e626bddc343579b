// Package catalog picks outcomes for purchasable containers.
package catalog

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"countryballs/internal/economy"
	"countryballs/internal/model"
)

// ErrEmptyCase is returned for a case without any reward that can be drawn.
var ErrEmptyCase = fmt.Errorf("case has no rewards: %w", economy.ErrExhausted)

// RewardSource loads the reward table of a case.
type RewardSource interface {
	CaseRewards(ctx context.Context, caseID int64) ([]model.CaseReward, error)
}

// CaseOpener turns a case into one of its rewards.
type CaseOpener interface {
	Open(ctx context.Context, src RewardSource, caseID int64) (model.CaseReward, error)
}

// WeightedCaseOpener picks rewards proportionally to their weight.
type WeightedCaseOpener struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewWeightedCaseOpener creates an opener. A nil rng is seeded from the clock.
func NewWeightedCaseOpener(rng *rand.Rand) *WeightedCaseOpener {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &WeightedCaseOpener{rng: rng}
}

// Open loads the case's rewards from src and draws one.
// src is passed per call so the read can join the caller's transaction.
func (o *WeightedCaseOpener) Open(ctx context.Context, src RewardSource, caseID int64) (model.CaseReward, error) {
	rewards, err := src.CaseRewards(ctx, caseID)
	if err != nil {
		return model.CaseReward{}, err
	}

	o.mu.Lock()
	reward, ok := economy.PickReward(rewards, o.rng)
	o.mu.Unlock()

	if !ok {
		return model.CaseReward{}, fmt.Errorf("case %d: %w", caseID, ErrEmptyCase)
	}
	return reward, nil
}

// CheckCase returns nil if the case exists and Open could draw from it.
func CheckCase(ctx context.Context, src RewardSource, caseID int64) error {
	rewards, err := src.CaseRewards(ctx, caseID)
	if err != nil {
		return err
	}
	for _, r := range rewards {
		if r.Weight > 0 {
			return nil
		}
	}
	return fmt.Errorf("case %d: %w", caseID, ErrEmptyCase)
}
