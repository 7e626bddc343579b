package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"countryballs/internal/economy"
	"countryballs/internal/model"
	"countryballs/internal/repository"
)

const (
	msgWelcome      = "Welcome to CountryBalls! Build your country's economy one tap at a time."
	msgWelcomeBack  = "Welcome back! Your country is waiting."
	msgPlay         = "Play"
	msgInternal     = "Something went wrong, please try again later."
	msgBadProduct   = "This product is no longer available."
	msgThanks       = "Thank you for your purchase!"
	msgSlotsAtMax   = "Thank you! All enterprise slots are already unlocked."
	msgCaseRewardFm = "Thank you! The case contained %d %s."
	msgRefLinkFm    = "Invite friends and earn from their economy:\n%s"
)

// parseReferrer reads the referrer telegram id from a /start deep-link payload.
// Anything that is not a positive integer yields nil.
func parseReferrer(payload string) *int64 {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// profileOf maps the Telegram sender onto the stored profile.
// The chat id is kept only for private chats, where the bot can write back.
func profileOf(sender *tele.User, chat *tele.Chat) model.Profile {
	p := model.Profile{
		TelegramID: sender.ID,
		Username:   optional(sender.Username),
		FirstName:  optional(sender.FirstName),
		LastName:   optional(sender.LastName),
	}
	if chat != nil && chat.Type == tele.ChatPrivate {
		id := chat.ID
		p.ChatID = &id
	}
	return p
}

// paymentOf converts a successful payment notification into a settlement request.
func paymentOf(p *tele.Payment) (model.Payment, error) {
	payload, err := economy.ParsePayload([]byte(p.Payload))
	if err != nil {
		return model.Payment{}, err
	}

	order, err := json.Marshal(p.Order)
	if err != nil {
		return model.Payment{}, fmt.Errorf("failed to encode order info: %w", err)
	}

	return model.Payment{
		ChargeID:         p.TelegramChargeID,
		ProviderChargeID: p.ProviderChargeID,
		Currency:         p.Currency,
		TotalAmount:      int64(p.Total),
		Payload:          payload,
		RawPayload:       json.RawMessage(p.Payload),
		OrderInfo:        order,
	}, nil
}

// handleStart registers the sender, attributing them to the referrer named in
// the deep-link payload, and answers with the web app button.
func (b *Bot) handleStart(c tele.Context) error {
	sender := c.Sender()
	if sender == nil || sender.IsBot {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	referrer := parseReferrer(c.Message().Payload)
	_, created, err := b.accounts.Register(ctx, profileOf(sender, c.Chat()), referrer)
	if err != nil {
		log.Error().Err(err).Int64("telegram_id", sender.ID).Msg("Failed to register user")
		return c.Send(msgInternal)
	}

	text := msgWelcomeBack
	if created {
		text = msgWelcome
	}
	if b.cfg.WebAppURL == "" {
		return c.Send(text)
	}
	return c.Send(text, b.playMarkup())
}

func (b *Bot) playMarkup() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.WebApp(msgPlay, &tele.WebApp{URL: b.cfg.WebAppURL})))
	return markup
}

// handleRef replies with the sender's invite link.
func (b *Bot) handleRef(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	return c.Send(fmt.Sprintf(msgRefLinkFm, b.referrals.ReferralLink(sender.ID)))
}

// handleCheckout answers the pre-checkout query. The user is charged only
// after it is accepted, so invoices that settlement would reject (unknown
// buyer, product gone, empty case) are declined here.
func (b *Bot) handleCheckout(c tele.Context) error {
	q := c.PreCheckoutQuery()
	if q == nil {
		return nil
	}
	payload, err := economy.ParsePayload([]byte(q.Payload))
	if err != nil {
		log.Warn().Err(err).Str("query_id", q.ID).Msg("Declining checkout with bad payload")
		return c.Accept(msgBadProduct)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := b.payments.CheckPayload(ctx, payload); err != nil {
		switch economy.KindOf(err) {
		case economy.KindNotFound, economy.KindExhausted, economy.KindInvalidInput:
			log.Warn().Err(err).Str("query_id", q.ID).Str("payload", q.Payload).Msg("Declining checkout for unavailable product")
			return c.Accept(msgBadProduct)
		default:
			log.Error().Err(err).Str("query_id", q.ID).Msg("Failed to check checkout payload")
			return c.Accept(msgInternal)
		}
	}
	return c.Accept()
}

// handlePayment settles a successful payment. Telegram may deliver the same
// notification more than once; only the first one grants and thanks.
func (b *Bot) handlePayment(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Payment == nil {
		return nil
	}

	payment, err := paymentOf(msg.Payment)
	if err != nil {
		log.Error().Err(err).
			Str("charge_id", msg.Payment.TelegramChargeID).
			Str("payload", msg.Payment.Payload).
			Msg("Cannot settle payment with bad payload")
		return c.Send(msgInternal)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	settlement, err := b.payments.SettlePayment(ctx, payment)
	if errors.Is(err, repository.ErrDuplicatePayment) {
		log.Info().Str("charge_id", payment.ChargeID).Msg("Duplicate payment notification ignored")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Str("charge_id", payment.ChargeID).Msg("Failed to settle payment")
		return c.Send(msgInternal)
	}

	return c.Send(thanks(settlement.Outcome, settlement.Reward))
}

func thanks(outcome economy.Outcome, reward *model.CaseReward) string {
	switch {
	case outcome == economy.OutcomeAlreadyAtMax:
		return msgSlotsAtMax
	case reward != nil:
		return fmt.Sprintf(msgCaseRewardFm, reward.Amount, reward.Kind)
	default:
		return msgThanks
	}
}
