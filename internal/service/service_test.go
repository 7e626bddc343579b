package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"countryballs/internal/catalog"
	"countryballs/internal/config"
	"countryballs/internal/economy"
	"countryballs/internal/model"
	"countryballs/internal/pkg/db/dbtest"
	"countryballs/internal/pkg/lock"
	"countryballs/internal/repository"
)

type testEnv struct {
	pool     *pgxpool.Pool
	users    *repository.UserRepository
	account  *AccountService
	balance  *BalanceService
	referral *ReferralService
	rating   *RatingService
	payment  *PaymentService
}

func testGameConfig() config.GameConfig {
	return config.GameConfig{
		EnergyLimit:          500,
		EnterprisesMinSlots:  10,
		EnterprisesMaxSlots:  15,
		ReferralMaxDepth:     10,
		StarterEnterprises:   []int64{1, 2, 3},
		CountryChangePenalty: true,
	}
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	pool := dbtest.Setup(t)
	dbtest.Seed(t, pool)

	game := testGameConfig()
	users := repository.NewUserRepository(pool)
	refs := repository.NewReferralRepository(pool)
	items := repository.NewCatalogRepository(pool)
	ratings := repository.NewRatingRepository(pool)
	events := repository.NewEventRepository(pool)
	payments := repository.NewPaymentRepository(pool)

	referral := NewReferralService(pool, users, refs, game.ReferralMaxDepth, "countryballs_bot")
	return &testEnv{
		pool:     pool,
		users:    users,
		referral: referral,
		account:  NewAccountService(pool, users, items, ratings, events, referral, game),
		balance:  NewBalanceService(pool, users, events, lock.NewUserLock(), game.EnergyLimit),
		rating:   NewRatingService(pool, ratings),
		payment: NewPaymentService(pool, users, payments, items, events,
			catalog.NewWeightedCaseOpener(rand.New(rand.NewSource(7))), game.EnterprisesMaxSlots),
	}
}

func (e *testEnv) register(t *testing.T, tgID int64, referrer *int64) *model.User {
	t.Helper()
	name := "player"
	u, created, err := e.account.Register(context.Background(), model.Profile{TelegramID: tgID, Username: &name}, referrer)
	require.NoError(t, err)
	require.True(t, created)
	return u
}

func ptr[T any](v T) *T { return &v }

// ============================================================================
// Account
// ============================================================================

func TestRegister_NewUserGetsStarterState(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	u := env.register(t, 100, nil)
	assert.Equal(t, int64(500), u.Energy)
	assert.Equal(t, 10, u.EnterpriseSlots)
	assert.Equal(t, int64(60), u.TotalCapacity)
	assert.Nil(t, u.ReferrerID)
	require.NotNil(t, u.TgURL)

	renamed := "renamed"
	again, created, err := env.account.Register(ctx, model.Profile{TelegramID: 100, Username: &renamed}, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "renamed", *again.Username)

	profile, err := env.account.GetProfile(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, profile.Enterprises, 3)
	assert.Nil(t, profile.Positions.GDP)
}

func TestRegister_ReferralChainAndStats(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	env.register(t, 2, ptr(int64(1)))
	c := env.register(t, 3, ptr(int64(2)))
	require.NotNil(t, c.ReferrerID)

	stats, err := env.referral.GetReferralStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalReferrals)
	assert.Equal(t, 1, stats.LevelStats[1])
	assert.Equal(t, 1, stats.LevelStats[2])
	assert.Len(t, stats.LevelStats, 10)

	stats, err = env.referral.GetReferralStats(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalReferrals)
}

func TestRegister_IgnoresUnknownAndSelfReferrer(t *testing.T) {
	env := setupEnv(t)

	u := env.register(t, 5, ptr(int64(404)))
	assert.Nil(t, u.ReferrerID)

	self := env.register(t, 6, ptr(int64(6)))
	assert.Nil(t, self.ReferrerID)
}

func TestRegister_DepthIsCapped(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.register(t, 1, nil)
	for id := int64(2); id <= 13; id++ {
		env.register(t, id, ptr(id-1))
	}

	last, err := env.users.GetByTelegramID(ctx, 13)
	require.NoError(t, err)
	edges, err := repository.NewReferralRepository(env.pool).EdgesForReferral(ctx, last.ID)
	require.NoError(t, err)
	require.Len(t, edges, economy.MaxReferralDepth)
	for i, e := range edges {
		assert.Equal(t, i+1, e.Level)
		assert.NotEqual(t, last.ID, e.OwnerID)
	}
}

func TestChangeLocation(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.register(t, 1, nil)
	require.NoError(t, env.users.AddBalance(ctx, u.ID, 1001))

	_, err := env.account.ChangeLocation(ctx, 1, nil, ptr(int64(1)))
	assert.ErrorIs(t, err, economy.ErrForbidden)

	moved, err := env.account.ChangeLocation(ctx, 1, ptr(int64(1)), ptr(int64(1)))
	require.NoError(t, err)
	assert.Equal(t, int64(500), moved.GameBalance)
	assert.Equal(t, int64(1), *moved.RegionID)

	// same country again: no penalty
	moved, err = env.account.ChangeLocation(ctx, 1, ptr(int64(1)), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(500), moved.GameBalance)
	assert.Nil(t, moved.RegionID)

	_, err = env.account.ChangeLocation(ctx, 1, nil, ptr(int64(2)))
	assert.Equal(t, economy.KindNotFound, economy.KindOf(err))

	_, err = env.account.ChangeLocation(ctx, 1, ptr(int64(99)), nil)
	assert.ErrorIs(t, err, repository.ErrCountryNotFound)

	moved, err = env.account.ChangeLocation(ctx, 1, ptr(int64(2)), ptr(int64(2)))
	require.NoError(t, err)
	assert.Equal(t, int64(250), moved.GameBalance)
}

// ============================================================================
// Balance
// ============================================================================

func TestUpdateBalance_Outcomes(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)

	res, err := env.balance.UpdateBalance(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, economy.OutcomeApplied, res.Outcome)
	// capacity 60, boost 0 -> bonus 0, earned = 60 * 2 * 10
	assert.Equal(t, int64(1200), res.Balance)
	assert.Equal(t, int64(490), res.Energy)

	res, err = env.balance.UpdateBalance(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, economy.OutcomeNothingToUpdate, res.Outcome)
	assert.Equal(t, int64(1200), res.Balance)

	res, err = env.balance.UpdateBalance(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, economy.OutcomeInvalidCount, res.Outcome)

	res, err = env.balance.UpdateBalance(ctx, 1, 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Energy)
	assert.Equal(t, int64(1200+60*2*490), res.Balance)

	res, err = env.balance.UpdateBalance(ctx, 1, 10_001)
	require.NoError(t, err)
	assert.Equal(t, economy.OutcomeNoEnergy, res.Outcome)

	_, err = env.balance.UpdateBalance(ctx, 404, 1)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestUpdateBalance_ConcurrentReportsSerialize(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)

	var wg sync.WaitGroup
	for n := int64(1); n <= 20; n++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			_, err := env.balance.UpdateBalance(ctx, 1, n)
			assert.NoError(t, err)
		}(n)
	}
	wg.Wait()

	u, err := env.users.GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(480), u.Energy)
	assert.Equal(t, int64(20*120), u.GameBalance)
}

func TestBatchJobs(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)

	_, err := env.balance.UpdateBalance(ctx, 1, 100)
	require.NoError(t, err)

	_, err = env.balance.AccrueCapacity(ctx)
	require.NoError(t, err)
	_, err = env.balance.RechargeEnergy(ctx)
	require.NoError(t, err)

	u, err := env.users.GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), u.Energy)
	assert.Equal(t, int64(100*120+60), u.GameBalance)
}

// ============================================================================
// Referral commissions
// ============================================================================

func TestComputeCommissions_UsesPreRunBalances(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	a := env.register(t, 1, nil)
	b := env.register(t, 2, ptr(int64(1)))
	c := env.register(t, 3, ptr(int64(2)))
	require.NoError(t, env.users.AddBalance(ctx, b.ID, 1000))
	require.NoError(t, env.users.AddBalance(ctx, c.ID, 200))

	owners, err := env.referral.ComputeCommissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), owners)

	got, err := env.users.GetByID(ctx, a.ID)
	require.NoError(t, err)
	// 10% of 1000 from level 1, 5% of 200 from level 2
	assert.Equal(t, int64(110), got.GameBalance)

	got, err = env.users.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1020), got.GameBalance)

	got, err = env.users.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.GameBalance)
}

func TestComputeCommissions_AlongsideTaps(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	a := env.register(t, 1, nil)
	b := env.register(t, 2, ptr(int64(1)))
	require.NoError(t, env.users.AddBalance(ctx, b.ID, 1000))

	const runs = 5
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < runs; i++ {
			_, err := env.referral.ComputeCommissions(ctx)
			assert.NoError(t, err)
		}
	}()
	// the owner taps while being credited
	for n := int64(1); n <= 20; n++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			_, err := env.balance.UpdateBalance(ctx, 1, n)
			assert.NoError(t, err)
		}(n)
	}
	wg.Wait()

	got, err := env.users.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20*120+runs*100), got.GameBalance)
	assert.Equal(t, int64(480), got.Energy)
}

func TestReferralLink(t *testing.T) {
	s := NewReferralService(nil, nil, nil, 0, "countryballs_bot")
	assert.Equal(t, "https://t.me/countryballs_bot?start=42", s.ReferralLink(42))
}

// ============================================================================
// Ratings
// ============================================================================

func TestRefreshRatings_Idempotent(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	for id := int64(1); id <= 5; id++ {
		u := env.register(t, id, nil)
		require.NoError(t, env.users.AddBalance(ctx, u.ID, (id%3)*100))
	}

	require.NoError(t, env.rating.RefreshRatings(ctx))
	first, err := env.rating.ListRating(ctx, model.RatingGDP, 0, 200)
	require.NoError(t, err)

	require.NoError(t, env.rating.RefreshRatings(ctx))
	second, err := env.rating.ListRating(ctx, model.RatingGDP, 0, 200)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 5)
	for i, e := range first {
		assert.Equal(t, int64(i+1), e.Position)
		if i > 0 {
			assert.GreaterOrEqual(t, first[i-1].Total, e.Total)
		}
	}
}

func TestListRating_PageBounds(t *testing.T) {
	s := NewRatingService(nil, nil)
	ctx := context.Background()

	for _, tc := range []struct{ offset, limit int }{{0, 0}, {0, 201}, {-1, 10}} {
		_, err := s.ListRating(ctx, model.RatingGDP, tc.offset, tc.limit)
		assert.ErrorIs(t, err, economy.ErrInvalidInput)
	}
	_, err := s.ListCountryRatings(ctx, 0, 500)
	assert.ErrorIs(t, err, economy.ErrInvalidInput)
}

// ============================================================================
// Payments
// ============================================================================

func payment(charge string, tgID int64, pt model.ProductType, productID int64) model.Payment {
	return model.Payment{
		ChargeID:    charge,
		Currency:    "XTR",
		TotalAmount: 10,
		Payload:     model.PaymentPayload{TelegramID: tgID, ProductType: pt, ProductID: productID},
	}
}

func TestSettlePayment_GrantsEachProduct(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)

	res, err := env.payment.SettlePayment(ctx, payment("c-slot", 1, model.ProductSlot, 0))
	require.NoError(t, err)
	assert.Equal(t, economy.OutcomeGranted, res.Outcome)

	_, err = env.payment.SettlePayment(ctx, payment("c-ent", 1, model.ProductEnterprise, 4))
	require.NoError(t, err)
	_, err = env.payment.SettlePayment(ctx, payment("c-boost", 1, model.ProductBoost, 1))
	require.NoError(t, err)
	res, err = env.payment.SettlePayment(ctx, payment("c-case", 1, model.ProductCase, 1))
	require.NoError(t, err)
	require.NotNil(t, res.Reward)
	assert.Equal(t, model.RewardCapacity, res.Reward.Kind)

	u, err := env.users.GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 11, u.EnterpriseSlots)
	assert.Equal(t, int64(60+100+50), u.TotalCapacity)
	assert.Equal(t, int64(25), u.TotalBoostValue)

	list, err := env.payment.ListPayments(ctx, 1, 0, 100)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestSettlePayment_IsIdempotent(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)

	_, err := env.payment.SettlePayment(ctx, payment("same", 1, model.ProductEnterprise, 4))
	require.NoError(t, err)
	_, err = env.payment.SettlePayment(ctx, payment("same", 1, model.ProductEnterprise, 4))
	assert.ErrorIs(t, err, repository.ErrDuplicatePayment)
	assert.Equal(t, economy.KindConflict, economy.KindOf(err))

	u, err := env.users.GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(160), u.TotalCapacity)
}

func TestSettlePayment_FailedGrantRollsBackRecord(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)

	_, err := env.payment.SettlePayment(ctx, payment("bad", 1, model.ProductEnterprise, 404))
	assert.ErrorIs(t, err, repository.ErrEnterpriseNotFound)

	_, err = env.payment.SettlePayment(ctx, payment("nobody", 404, model.ProductSlot, 0))
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	list, err := env.payment.ListPayments(ctx, 1, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, list)

	// the charge id is free again once the failed attempt rolled back
	_, err = env.payment.SettlePayment(ctx, payment("bad", 1, model.ProductEnterprise, 4))
	require.NoError(t, err)
}

func TestSettlePayment_SlotsStopAtMax(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)

	for i := 11; i <= 15; i++ {
		res, err := env.payment.SettlePayment(ctx, payment(fmt.Sprintf("slot-%d", i), 1, model.ProductSlot, 0))
		require.NoError(t, err)
		assert.Equal(t, economy.OutcomeGranted, res.Outcome)
	}

	res, err := env.payment.SettlePayment(ctx, payment("slot-16", 1, model.ProductSlot, 0))
	require.NoError(t, err)
	assert.Equal(t, economy.OutcomeAlreadyAtMax, res.Outcome)

	u, err := env.users.GetByTelegramID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 15, u.EnterpriseSlots)
}

func TestCheckPayload(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.register(t, 1, nil)

	_, err := env.pool.Exec(ctx, `
		INSERT INTO cases (id, name) VALUES (2, 'Empty'), (3, 'Weightless');
		INSERT INTO case_rewards (case_id, kind, amount, weight) VALUES (3, 'currency', 10, 0);
	`)
	require.NoError(t, err)

	valid := []model.PaymentPayload{
		{TelegramID: 1, ProductType: model.ProductSlot},
		{TelegramID: 1, ProductType: model.ProductEnterprise, ProductID: 4},
		{TelegramID: 1, ProductType: model.ProductBoost, ProductID: 1},
		{TelegramID: 1, ProductType: model.ProductCase, ProductID: 1},
	}
	for _, p := range valid {
		assert.NoError(t, env.payment.CheckPayload(ctx, p), "%s %d", p.ProductType, p.ProductID)
	}

	tests := []struct {
		name    string
		payload model.PaymentPayload
		want    error
	}{
		{"unknown user", model.PaymentPayload{TelegramID: 404, ProductType: model.ProductSlot}, repository.ErrUserNotFound},
		{"unknown enterprise", model.PaymentPayload{TelegramID: 1, ProductType: model.ProductEnterprise, ProductID: 404}, repository.ErrEnterpriseNotFound},
		{"unknown boost", model.PaymentPayload{TelegramID: 1, ProductType: model.ProductBoost, ProductID: 404}, repository.ErrBoostNotFound},
		{"unknown case", model.PaymentPayload{TelegramID: 1, ProductType: model.ProductCase, ProductID: 404}, repository.ErrCaseNotFound},
		{"case without rewards", model.PaymentPayload{TelegramID: 1, ProductType: model.ProductCase, ProductID: 2}, catalog.ErrEmptyCase},
		{"case without weights", model.PaymentPayload{TelegramID: 1, ProductType: model.ProductCase, ProductID: 3}, catalog.ErrEmptyCase},
		{"unknown product type", model.PaymentPayload{TelegramID: 1, ProductType: "gold"}, economy.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, env.payment.CheckPayload(ctx, tt.payload), tt.want)
		})
	}
}

func TestSettlePayment_SlotAtMaxStillRecorded(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.register(t, 1, nil)
	require.NoError(t, env.users.SetSlots(ctx, u.ID, 15))

	res, err := env.payment.SettlePayment(ctx, payment("max", 1, model.ProductSlot, 0))
	require.NoError(t, err)
	assert.Equal(t, economy.OutcomeAlreadyAtMax, res.Outcome)
	assert.Equal(t, "max", res.Payment.ID)
}

func TestRecordRefund(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	refund := model.RefundRecord{ID: "r-1", TelegramID: 1, Currency: "XTR", TotalAmount: 10}
	_, err := env.payment.RecordRefund(ctx, refund)
	require.NoError(t, err)
	_, err = env.payment.RecordRefund(ctx, refund)
	assert.Equal(t, economy.KindConflict, economy.KindOf(err))
}

func TestSettlePayment_RejectsBadInput(t *testing.T) {
	s := NewPaymentService(nil, nil, nil, nil, nil, nil, 15)
	ctx := context.Background()

	_, err := s.SettlePayment(ctx, payment("", 1, model.ProductSlot, 0))
	assert.ErrorIs(t, err, economy.ErrInvalidInput)
	_, err = s.SettlePayment(ctx, payment("x", 1, model.ProductType("gold"), 0))
	assert.ErrorIs(t, err, economy.ErrInvalidInput)
	_, err = s.ListPayments(ctx, 1, 0, 101)
	assert.ErrorIs(t, err, economy.ErrInvalidInput)
}
