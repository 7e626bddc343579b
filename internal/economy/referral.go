package economy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"countryballs/internal/model"
)

// MaxReferralDepth is the deepest level an edge can have.
const MaxReferralDepth = 10

// Ancestor is a user as seen by the chain walk.
type Ancestor struct {
	ID         uuid.UUID
	ReferrerID *uuid.UUID
}

// AncestorLookup resolves a user by internal id. It returns (nil, nil) when the
// user does not exist; a non-nil error aborts the walk.
type AncestorLookup func(ctx context.Context, id uuid.UUID) (*Ancestor, error)

// StopReason says why a chain walk ended.
type StopReason string

const (
	StopChainEnd   StopReason = "chain_end"   // top ancestor has no referrer
	StopMaxDepth   StopReason = "max_depth"   // depth limit reached
	StopBrokenLink StopReason = "broken_link" // referrer id no longer resolves
	StopCycle      StopReason = "cycle"       // ancestor already seen or is the new user
)

// ChainResult is the outcome of walking a referrer chain. A chain ending at the
// root or the depth limit is complete; anything else is a partial chain whose
// edges are still valid.
type ChainResult struct {
	Edges []model.ReferralEdge
	Stop  StopReason
}

// Complete reports whether the walk reached a natural end.
func (r ChainResult) Complete() bool {
	return r.Stop == StopChainEnd || r.Stop == StopMaxDepth
}

// WalkReferralChain builds the edges for newUserID starting at its direct
// referrer and moving up until maxDepth edges exist or the chain ends.
// The walk never emits an edge whose owner is the new user and never visits
// the same ancestor twice.
func WalkReferralChain(
	ctx context.Context,
	referrer Ancestor,
	newUserID uuid.UUID,
	maxDepth int,
	lookup AncestorLookup,
) (ChainResult, error) {
	if maxDepth < 1 || maxDepth > MaxReferralDepth {
		maxDepth = MaxReferralDepth
	}

	var res ChainResult
	if referrer.ID == newUserID {
		res.Stop = StopCycle
		return res, nil
	}

	seen := map[uuid.UUID]struct{}{newUserID: {}}
	current := referrer
	level := 1

	for {
		seen[current.ID] = struct{}{}
		res.Edges = append(res.Edges, model.ReferralEdge{
			OwnerID:    current.ID,
			ReferralID: newUserID,
			Level:      level,
		})

		if level >= maxDepth {
			res.Stop = StopMaxDepth
			return res, nil
		}
		if current.ReferrerID == nil {
			res.Stop = StopChainEnd
			return res, nil
		}
		if _, dup := seen[*current.ReferrerID]; dup {
			res.Stop = StopCycle
			return res, nil
		}

		next, err := lookup(ctx, *current.ReferrerID)
		if err != nil {
			return ChainResult{}, fmt.Errorf("failed to resolve ancestor at level %d: %w", level+1, err)
		}
		if next == nil {
			res.Stop = StopBrokenLink
			return res, nil
		}

		current = *next
		level++
	}
}

// CommissionInput is one owned edge joined with the referral's current balance.
type CommissionInput struct {
	OwnerID         uuid.UUID
	Level           int
	ReferralBalance int64
}

// ComputeCommissions sums floor(balance * rate(level)) per owner.
// Levels without a configured rate earn nothing and non-positive results are dropped.
func ComputeCommissions(inputs []CommissionInput, rates map[int]decimal.Decimal) map[uuid.UUID]int64 {
	totals := make(map[uuid.UUID]decimal.Decimal)
	for _, in := range inputs {
		rate, ok := rates[in.Level]
		if !ok || !rate.IsPositive() || in.ReferralBalance <= 0 {
			continue
		}
		part := decimal.NewFromInt(in.ReferralBalance).Mul(rate).Floor()
		totals[in.OwnerID] = totals[in.OwnerID].Add(part)
	}

	out := make(map[uuid.UUID]int64, len(totals))
	for owner, total := range totals {
		if total.IsPositive() {
			out[owner] = total.IntPart()
		}
	}
	return out
}

// ZeroFilledStats returns stats with every level from 1 to depth present.
func ZeroFilledStats(counts map[int]int, depth int) model.ReferralStats {
	stats := model.ReferralStats{LevelStats: make(map[int]int, depth)}
	for level := 1; level <= depth; level++ {
		n := counts[level]
		stats.LevelStats[level] = n
		stats.TotalReferrals += n
	}
	return stats
}
