package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"countryballs/internal/catalog"
	"countryballs/internal/economy"
	"countryballs/internal/metrics"
	"countryballs/internal/model"
	"countryballs/internal/pkg/db"
	"countryballs/internal/repository"
)

// Settlement is the result of a settled payment.
type Settlement struct {
	Payment *model.PaymentRecord `json:"payment"`
	Outcome economy.Outcome      `json:"outcome"`
	Reward  *model.CaseReward    `json:"reward,omitempty"`
}

// PaymentService records Telegram Stars payments and grants what they bought.
type PaymentService struct {
	pool        db.TxBeginner
	userRepo    *repository.UserRepository
	paymentRepo *repository.PaymentRepository
	catalogRepo *repository.CatalogRepository
	eventRepo   *repository.EventRepository
	opener      catalog.CaseOpener
	maxSlots    int
}

// NewPaymentService creates a new PaymentService instance.
func NewPaymentService(
	pool db.TxBeginner,
	userRepo *repository.UserRepository,
	paymentRepo *repository.PaymentRepository,
	catalogRepo *repository.CatalogRepository,
	eventRepo *repository.EventRepository,
	opener catalog.CaseOpener,
	maxSlots int,
) *PaymentService {
	return &PaymentService{
		pool:        pool,
		userRepo:    userRepo,
		paymentRepo: paymentRepo,
		catalogRepo: catalogRepo,
		eventRepo:   eventRepo,
		opener:      opener,
		maxSlots:    maxSlots,
	}
}

// CheckPayload reports whether an invoice could be settled: the buyer is
// registered and the product is still sold. It is run at pre-checkout,
// before Telegram charges the user.
func (s *PaymentService) CheckPayload(ctx context.Context, payload model.PaymentPayload) error {
	if !payload.ProductType.Valid() {
		return fmt.Errorf("%w: unknown product type %q", economy.ErrInvalidInput, payload.ProductType)
	}
	if _, err := s.userRepo.GetByTelegramID(ctx, payload.TelegramID); err != nil {
		return err
	}

	var err error
	switch payload.ProductType {
	case model.ProductEnterprise:
		_, err = s.catalogRepo.GetEnterprise(ctx, payload.ProductID)
	case model.ProductBoost:
		_, err = s.catalogRepo.GetBoost(ctx, payload.ProductID)
	case model.ProductCase:
		err = catalog.CheckCase(ctx, s.catalogRepo, payload.ProductID)
	}
	return err
}

// SettlePayment stores the payment and grants the product in one transaction.
// The charge id makes settlement idempotent: a replayed notification returns
// repository.ErrDuplicatePayment and grants nothing. A failed grant rolls the
// payment record back with it.
func (s *PaymentService) SettlePayment(ctx context.Context, p model.Payment) (*Settlement, error) {
	if p.ChargeID == "" {
		return nil, fmt.Errorf("%w: charge id is required", economy.ErrInvalidInput)
	}
	if !p.Payload.ProductType.Valid() {
		return nil, fmt.Errorf("%w: unknown product type %q", economy.ErrInvalidInput, p.Payload.ProductType)
	}

	var out Settlement
	err := db.WithTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		record, err := s.paymentRepo.WithTx(tx).Create(ctx, p)
		if err != nil {
			return err
		}
		out.Payment = record

		user, err := s.userRepo.WithTx(tx).GetForUpdate(ctx, p.Payload.TelegramID)
		if err != nil {
			return err
		}

		out.Outcome, out.Reward, err = s.grantProduct(ctx, tx, user, p.Payload)
		return err
	})

	result := "settled"
	switch {
	case err != nil && economy.KindOf(err) == economy.KindConflict:
		result = "duplicate"
	case err != nil:
		result = "failed"
	case out.Outcome == economy.OutcomeAlreadyAtMax:
		result = string(out.Outcome)
	}
	metrics.PaymentsSettled.WithLabelValues(string(p.Payload.ProductType), result).Inc()

	if err != nil {
		return nil, fmt.Errorf("failed to settle payment %s: %w", p.ChargeID, err)
	}

	log.Info().
		Str("charge_id", p.ChargeID).
		Int64("user_id", p.Payload.TelegramID).
		Str("product_type", string(p.Payload.ProductType)).
		Int64("product_id", p.Payload.ProductID).
		Str("outcome", string(out.Outcome)).
		Msg("Payment settled")

	return &out, nil
}

// grantProduct applies a purchased product to a row-locked user.
func (s *PaymentService) grantProduct(
	ctx context.Context,
	tx pgx.Tx,
	user *model.User,
	payload model.PaymentPayload,
) (economy.Outcome, *model.CaseReward, error) {
	users := s.userRepo.WithTx(tx)
	items := s.catalogRepo.WithTx(tx)
	events := s.eventRepo.WithTx(tx)

	switch payload.ProductType {
	case model.ProductSlot:
		outcome, err := grantSlot(ctx, users, user, s.maxSlots)
		return outcome, nil, err

	case model.ProductEnterprise:
		ent, err := items.GetEnterprise(ctx, payload.ProductID)
		if err != nil {
			return "", nil, err
		}
		if err := items.GrantEnterprise(ctx, user.ID, ent.ID); err != nil {
			return "", nil, err
		}
		if err := users.AddCapacity(ctx, user.ID, ent.Capacity); err != nil {
			return "", nil, err
		}
		_, err = events.Create(ctx, user.ID, ent.Capacity, model.EventEnterpriseGrant, &ent.Name)
		return economy.OutcomeGranted, nil, err

	case model.ProductBoost:
		boost, err := items.GetBoost(ctx, payload.ProductID)
		if err != nil {
			return "", nil, err
		}
		if err := items.GrantBoost(ctx, user.ID, boost.ID); err != nil {
			return "", nil, err
		}
		if err := users.AddBoost(ctx, user.ID, boost.Value); err != nil {
			return "", nil, err
		}
		_, err = events.Create(ctx, user.ID, boost.Value, model.EventBoostGrant, &boost.Name)
		return economy.OutcomeGranted, nil, err

	case model.ProductCase:
		reward, err := s.opener.Open(ctx, items, payload.ProductID)
		if err != nil {
			return "", nil, err
		}
		if err := applyReward(ctx, users, events, user, reward); err != nil {
			return "", nil, err
		}
		return economy.OutcomeGranted, &reward, nil
	}

	return "", nil, fmt.Errorf("%w: unknown product type %q", economy.ErrInvalidInput, payload.ProductType)
}

func grantSlot(ctx context.Context, users *repository.UserRepository, user *model.User, maxSlots int) (economy.Outcome, error) {
	next, outcome := economy.NextSlots(user.EnterpriseSlots, maxSlots)
	if outcome != economy.OutcomeGranted {
		return outcome, nil
	}
	if err := users.SetSlots(ctx, user.ID, next); err != nil {
		return "", err
	}
	user.EnterpriseSlots = next
	return outcome, nil
}

func applyReward(
	ctx context.Context,
	users *repository.UserRepository,
	events *repository.EventRepository,
	user *model.User,
	reward model.CaseReward,
) error {
	switch reward.Kind {
	case model.RewardCapacity:
		return users.AddCapacity(ctx, user.ID, reward.Amount)
	case model.RewardBoost:
		return users.AddBoost(ctx, user.ID, reward.Amount)
	case model.RewardCurrency:
		if err := users.AddBalance(ctx, user.ID, reward.Amount); err != nil {
			return err
		}
		_, err := events.Create(ctx, user.ID, reward.Amount, model.EventCaseReward, nil)
		return err
	}
	return fmt.Errorf("%w: unknown reward kind %q", economy.ErrInvalidInput, reward.Kind)
}

// RecordRefund stores a refund. Refunds never revoke what was granted.
func (s *PaymentService) RecordRefund(ctx context.Context, refund model.RefundRecord) (*model.RefundRecord, error) {
	if refund.ID == "" {
		return nil, fmt.Errorf("%w: charge id is required", economy.ErrInvalidInput)
	}
	rec, err := s.paymentRepo.CreateRefund(ctx, refund)
	if err != nil {
		return nil, err
	}
	log.Info().Str("charge_id", rec.ID).Int64("user_id", rec.TelegramID).Msg("Refund recorded")
	return rec, nil
}

// ListPayments returns a page of a user's payments, newest first.
func (s *PaymentService) ListPayments(ctx context.Context, telegramID int64, offset, limit int) ([]model.PaymentRecord, error) {
	if err := checkPage(offset, limit, MaxPaymentPageSize); err != nil {
		return nil, err
	}
	return s.paymentRepo.ListByUser(ctx, telegramID, offset, limit)
}
