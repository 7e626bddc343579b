// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"countryballs/internal/config"
	"countryballs/internal/model"
	"countryballs/internal/service"
)

// handlerTimeout bounds the storage work done for a single update.
const handlerTimeout = 15 * time.Second

// Accounts registers players arriving through /start.
type Accounts interface {
	Register(ctx context.Context, p model.Profile, referrerTelegramID *int64) (*model.User, bool, error)
}

// Referrals builds invite links.
type Referrals interface {
	ReferralLink(telegramID int64) string
}

// Payments checks invoices at pre-checkout and settles successful Stars payments.
type Payments interface {
	CheckPayload(ctx context.Context, payload model.PaymentPayload) error
	SettlePayment(ctx context.Context, p model.Payment) (*service.Settlement, error)
}

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot       *tele.Bot
	cfg       config.BotConfig
	accounts  Accounts
	referrals Referrals
	payments  Payments
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config    config.BotConfig
	Accounts  Accounts
	Referrals Referrals
	Payments  Payments
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("Bot handler failed")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(deps)
	b.bot = teleBot

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

func newBot(deps *Dependencies) *Bot {
	return &Bot{
		cfg:       deps.Config,
		accounts:  deps.Accounts,
		referrals: deps.Referrals,
		payments:  deps.Payments,
	}
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command and update handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/ref", b.handleRef)

	// Stars invoices
	b.bot.Handle(tele.OnCheckout, b.handleCheckout)
	b.bot.Handle(tele.OnPayment, b.handlePayment)
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Str("username", b.bot.Me.Username).Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
