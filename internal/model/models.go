// Package model defines the data models persisted by the economy engine.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a player account.
// energy is bounded by the configured limit, enterprises_slots by the configured slot range.
type User struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	TelegramID      int64      `db:"telegram_id" json:"tg_id"`
	Username        *string    `db:"username" json:"username"`
	FirstName       *string    `db:"first_name" json:"first_name"`
	LastName        *string    `db:"last_name" json:"last_name"`
	TgURL           *string    `db:"tg_url" json:"tg_url"`
	ChatID          *int64     `db:"chat_id" json:"chat_id"`
	CountryID       *int64     `db:"country_id" json:"country_id"`
	RegionID        *int64     `db:"region_id" json:"region_id"`
	Energy          int64      `db:"energy" json:"energy"`
	TotalCapacity   int64      `db:"total_capacity" json:"total_capacity"`
	TotalBoostValue int64      `db:"total_boost_value" json:"total_boost_value"`
	GameBalance     int64      `db:"game_balance" json:"game_balance"`
	EnterpriseSlots int        `db:"enterprises_slots" json:"enterprises_slots"`
	ReferrerID      *uuid.UUID `db:"referrer_id" json:"referrer_id,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Profile is the Telegram-side identity used to create or refresh a user.
type Profile struct {
	TelegramID int64
	Username   *string
	FirstName  *string
	LastName   *string
	ChatID     *int64
}

// ReferralEdge links an owner to a user they (transitively) invited.
// Level 1 is the direct inviter.
type ReferralEdge struct {
	OwnerID    uuid.UUID `db:"owner_id" json:"owner_id"`
	ReferralID uuid.UUID `db:"referral_id" json:"referral_id"`
	Level      int       `db:"level" json:"level"`
}

// ReferralLevel maps a chain depth to its commission fraction.
type ReferralLevel struct {
	Level          int             `db:"level" json:"level"`
	CommissionRate decimal.Decimal `db:"commission_rate" json:"commission_rate"`
}

// ReferralStats aggregates the edges owned by a user.
type ReferralStats struct {
	TotalReferrals int         `json:"total_referrals"`
	LevelStats     map[int]int `json:"level_stats"`
}

// RatingKind selects one of the per-user leaderboards.
type RatingKind string

const (
	RatingGDP      RatingKind = "gdp"
	RatingCapacity RatingKind = "capacity"
)

// RatingEntry is one row of a materialized leaderboard; Position is the rank.
type RatingEntry struct {
	Position        int64     `db:"position" json:"position"`
	UserID          uuid.UUID `db:"user_id" json:"user_id"`
	TelegramID      int64     `db:"telegram_id" json:"tg_id"`
	Username        *string   `db:"username" json:"username"`
	FirstName       *string   `db:"first_name" json:"first_name"`
	LastName        *string   `db:"last_name" json:"last_name"`
	CountryImageURL *string   `db:"country_image_url" json:"country_image_url"`
	Total           int64     `db:"total" json:"total"`
}

// CountryRating is one row of the per-country aggregate.
type CountryRating struct {
	Position     int64  `db:"position" json:"position"`
	CountryID    int64  `db:"country_id" json:"country_id"`
	CountryName  string `db:"country_name" json:"country_name"`
	UserCount    int64  `db:"user_count" json:"user_count"`
	TotalBalance int64  `db:"total_balance" json:"total_balance"`
}

// RatingPositions holds a user's rank in each leaderboard; nil when unranked.
type RatingPositions struct {
	GDP      *int64 `json:"gdp_rating"`
	Capacity *int64 `json:"capacity_rating"`
}

// Country is reference data a user may belong to.
type Country struct {
	ID          int64   `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	Description *string `db:"description" json:"description"`
	ImageURL    *string `db:"image_url" json:"image_url"`
}

// Region belongs to exactly one country.
type Region struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	CountryID int64  `db:"country_id" json:"country_id"`
}

// Enterprise contributes capacity to its owners.
type Enterprise struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Capacity int64  `db:"capacity" json:"capacity"`
}

// Boost contributes to a user's total boost value.
type Boost struct {
	ID    int64  `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Value int64  `db:"value" json:"value"`
}

// Case is a purchasable container with a weighted reward table.
type Case struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// RewardKind identifies what a case reward grants.
type RewardKind string

const (
	RewardCapacity RewardKind = "capacity"
	RewardBoost    RewardKind = "boost"
	RewardCurrency RewardKind = "currency"
)

// CaseReward is one weighted outcome of opening a case.
type CaseReward struct {
	ID     int64      `db:"id" json:"id"`
	CaseID int64      `db:"case_id" json:"case_id"`
	Kind   RewardKind `db:"kind" json:"kind"`
	Amount int64      `db:"amount" json:"amount"`
	Weight int        `db:"weight" json:"weight"`
}

// ProductType is the kind of item a payment buys.
type ProductType string

const (
	ProductSlot       ProductType = "slot"
	ProductEnterprise ProductType = "enterprise"
	ProductBoost      ProductType = "boost"
	ProductCase       ProductType = "case"
)

// Valid reports whether p is a known product type.
func (p ProductType) Valid() bool {
	switch p {
	case ProductSlot, ProductEnterprise, ProductBoost, ProductCase:
		return true
	}
	return false
}

// PaymentPayload is the product selection attached to an invoice.
type PaymentPayload struct {
	TelegramID  int64       `json:"user_id"`
	ProductType ProductType `json:"product_type"`
	ProductID   int64       `json:"product_id"`
}

// Payment is a confirmed payment notification.
type Payment struct {
	ChargeID         string
	ProviderChargeID string
	Currency         string
	TotalAmount      int64
	Payload          PaymentPayload
	RawPayload       json.RawMessage
	OrderInfo        json.RawMessage
}

// PaymentRecord is the immutable settled payment; ID is the external charge id.
type PaymentRecord struct {
	ID               string          `db:"id" json:"id"`
	TelegramID       int64           `db:"telegram_id" json:"tg_id"`
	Currency         string          `db:"currency" json:"currency"`
	TotalAmount      int64           `db:"total_amount" json:"total_amount"`
	ProviderChargeID *string         `db:"provider_charge_id" json:"provider_charge_id"`
	ProductType      ProductType     `db:"product_type" json:"product_type"`
	ProductID        int64           `db:"product_id" json:"product_id"`
	Payload          json.RawMessage `db:"payload" json:"payload"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// RefundRecord is stored separately from the payment it reverses.
type RefundRecord struct {
	ID          string    `db:"id" json:"id"`
	TelegramID  int64     `db:"telegram_id" json:"tg_id"`
	Currency    string    `db:"currency" json:"currency"`
	TotalAmount int64     `db:"total_amount" json:"total_amount"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// BalanceEvent is an audit row for a per-user balance change.
type BalanceEvent struct {
	ID          int64     `db:"id" json:"id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	Amount      int64     `db:"amount" json:"amount"`
	Type        string    `db:"type" json:"type"`
	Description *string   `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Balance event types.
const (
	EventTap             = "tap"              // Tap accrual
	EventCaseReward      = "case_reward"      // Currency won from a case
	EventRelocation      = "relocation"       // Country change penalty
	EventEnterpriseGrant = "enterprise_grant" // Capacity from a purchased enterprise
	EventBoostGrant      = "boost_grant"      // Boost value from a purchase
)
