package catalog

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"countryballs/internal/economy"
	"countryballs/internal/model"
)

type stubRewards map[int64][]model.CaseReward

func (s stubRewards) CaseRewards(_ context.Context, caseID int64) ([]model.CaseReward, error) {
	r, ok := s[caseID]
	if !ok {
		return nil, fmt.Errorf("case %w", economy.ErrNotFound)
	}
	return r, nil
}

func TestWeightedCaseOpener_Deterministic(t *testing.T) {
	src := stubRewards{
		1: {
			{ID: 1, CaseID: 1, Kind: model.RewardCapacity, Amount: 10, Weight: 1},
			{ID: 2, CaseID: 1, Kind: model.RewardCurrency, Amount: 500, Weight: 3},
		},
	}

	a := NewWeightedCaseOpener(rand.New(rand.NewSource(42)))
	b := NewWeightedCaseOpener(rand.New(rand.NewSource(42)))

	for i := 0; i < 20; i++ {
		ra, err := a.Open(context.Background(), src, 1)
		require.NoError(t, err)
		rb, err := b.Open(context.Background(), src, 1)
		require.NoError(t, err)
		assert.Equal(t, ra.ID, rb.ID)
	}
}

func TestWeightedCaseOpener_OnlyPositiveWeights(t *testing.T) {
	src := stubRewards{
		1: {
			{ID: 1, Kind: model.RewardBoost, Amount: 5, Weight: 0},
			{ID: 2, Kind: model.RewardCapacity, Amount: 7, Weight: 2},
		},
	}
	o := NewWeightedCaseOpener(nil)

	for i := 0; i < 50; i++ {
		r, err := o.Open(context.Background(), src, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), r.ID)
	}
}

func TestWeightedCaseOpener_Errors(t *testing.T) {
	o := NewWeightedCaseOpener(rand.New(rand.NewSource(1)))

	_, err := o.Open(context.Background(), stubRewards{1: nil}, 1)
	assert.ErrorIs(t, err, economy.ErrExhausted)

	_, err = o.Open(context.Background(), stubRewards{}, 9)
	assert.ErrorIs(t, err, economy.ErrNotFound)
}

func TestCheckCase(t *testing.T) {
	src := stubRewards{
		1: {{ID: 1, Kind: model.RewardCapacity, Amount: 7, Weight: 2}},
		2: {{ID: 2, Kind: model.RewardBoost, Amount: 5, Weight: 0}},
		3: nil,
	}
	ctx := context.Background()

	assert.NoError(t, CheckCase(ctx, src, 1))
	assert.ErrorIs(t, CheckCase(ctx, src, 2), ErrEmptyCase)
	assert.ErrorIs(t, CheckCase(ctx, src, 3), ErrEmptyCase)
	assert.ErrorIs(t, CheckCase(ctx, src, 9), economy.ErrNotFound)
}
