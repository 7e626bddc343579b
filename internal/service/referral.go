package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"countryballs/internal/economy"
	"countryballs/internal/metrics"
	"countryballs/internal/model"
	"countryballs/internal/pkg/db"
	"countryballs/internal/repository"
)

// ReferralService attributes new users to their inviter chain and pays
// the daily commission.
type ReferralService struct {
	pool        db.TxBeginner
	userRepo    *repository.UserRepository
	refRepo     *repository.ReferralRepository
	maxDepth    int
	botUsername string
}

// NewReferralService creates a new ReferralService instance.
func NewReferralService(
	pool db.TxBeginner,
	userRepo *repository.UserRepository,
	refRepo *repository.ReferralRepository,
	maxDepth int,
	botUsername string,
) *ReferralService {
	if maxDepth < 1 || maxDepth > economy.MaxReferralDepth {
		maxDepth = economy.MaxReferralDepth
	}
	return &ReferralService{
		pool:        pool,
		userRepo:    userRepo,
		refRepo:     refRepo,
		maxDepth:    maxDepth,
		botUsername: botUsername,
	}
}

// AttributeNewUser writes the referral edges of a freshly created user inside tx.
// A user without a referrer, or whose referrer has vanished, gets no edges.
// A chain cut short by a cycle or a missing ancestor keeps the edges found so far.
func (s *ReferralService) AttributeNewUser(ctx context.Context, tx pgx.Tx, newUser *model.User) (economy.ChainResult, error) {
	if newUser.ReferrerID == nil {
		return economy.ChainResult{Stop: economy.StopChainEnd}, nil
	}

	users := s.userRepo.WithTx(tx)
	referrer, err := users.GetAncestor(ctx, *newUser.ReferrerID)
	if err != nil {
		return economy.ChainResult{}, err
	}
	if referrer == nil {
		metrics.ReferralChains.WithLabelValues(string(economy.StopBrokenLink)).Inc()
		return economy.ChainResult{Stop: economy.StopBrokenLink}, nil
	}

	chain, err := economy.WalkReferralChain(ctx, *referrer, newUser.ID, s.maxDepth, users.GetAncestor)
	if err != nil {
		return economy.ChainResult{}, err
	}

	if err := s.refRepo.WithTx(tx).InsertEdges(ctx, chain.Edges); err != nil {
		return economy.ChainResult{}, err
	}

	metrics.ReferralChains.WithLabelValues(string(chain.Stop)).Inc()
	evt := log.Info()
	if !chain.Complete() {
		evt = log.Warn()
	}
	evt.Int64("user_id", newUser.TelegramID).
		Int("edges", len(chain.Edges)).
		Str("stop", string(chain.Stop)).
		Msg("Referral chain attributed")

	return chain, nil
}

// ComputeCommissions credits every owner with the commission earned on the
// current balances of their referrals. All credits land in one transaction.
// Referral balances are read by a single statement before any credit is
// applied, and credits are increments, so concurrent taps are never lost and
// READ COMMITTED is enough.
func (s *ReferralService) ComputeCommissions(ctx context.Context) (int64, error) {
	var credited int64
	err := db.WithTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		refs := s.refRepo.WithTx(tx)

		rates, err := refs.Levels(ctx)
		if err != nil {
			return err
		}
		inputs, err := refs.CommissionInputs(ctx)
		if err != nil {
			return err
		}

		credits := economy.ComputeCommissions(inputs, rates)
		credited, err = s.userRepo.WithTx(tx).CreditBalances(ctx, credits)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to compute commissions: %w", err)
	}

	log.Info().Int64("owners", credited).Msg("Referral commissions credited")
	return credited, nil
}

// GetReferralStats counts a user's referrals per level, with every level
// from 1 to the maximum depth present.
func (s *ReferralService) GetReferralStats(ctx context.Context, telegramID int64) (model.ReferralStats, error) {
	user, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return model.ReferralStats{}, err
	}

	counts, err := s.refRepo.CountByLevel(ctx, user.ID)
	if err != nil {
		return model.ReferralStats{}, err
	}
	return economy.ZeroFilledStats(counts, s.maxDepth), nil
}

// ReferralLink returns the deep link that registers a new user under telegramID.
func (s *ReferralService) ReferralLink(telegramID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%d", s.botUsername, telegramID)
}

const serializableAttempts = 3

// retrySerializable runs fn again when PostgreSQL aborts it with a
// serialization failure.
func retrySerializable(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !db.IsSerializationFailure(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Serialization failure, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 20 * time.Millisecond):
		}
	}
	return err
}
