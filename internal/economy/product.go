package economy

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"countryballs/internal/model"
)

// NextSlots returns the slot count after buying one slot.
func NextSlots(current, maxSlots int) (int, Outcome) {
	if current >= maxSlots {
		return current, OutcomeAlreadyAtMax
	}
	return current + 1, OutcomeGranted
}

// HalveBalance is the relocation penalty applied on a country change.
func HalveBalance(balance int64) int64 {
	return balance / 2
}

type rawPayload struct {
	TelegramID  json.RawMessage   `json:"user_id"`
	ProductType model.ProductType `json:"product_type"`
	ProductID   json.RawMessage   `json:"product_id"`
}

// ParsePayload decodes an invoice payload. Ids may be JSON numbers or numeric
// strings; product_id may be empty for slots.
func ParsePayload(data []byte) (model.PaymentPayload, error) {
	var raw rawPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.PaymentPayload{}, fmt.Errorf("%w: malformed payload: %v", ErrInvalidInput, err)
	}

	tgID, err := parseID(raw.TelegramID)
	if err != nil || tgID == 0 {
		return model.PaymentPayload{}, fmt.Errorf("%w: payload user_id is missing", ErrInvalidInput)
	}
	if !raw.ProductType.Valid() {
		return model.PaymentPayload{}, fmt.Errorf("%w: unknown product type %q", ErrInvalidInput, raw.ProductType)
	}
	productID, err := parseID(raw.ProductID)
	if err != nil {
		return model.PaymentPayload{}, fmt.Errorf("%w: bad product_id: %v", ErrInvalidInput, err)
	}
	if raw.ProductType != model.ProductSlot && productID == 0 {
		return model.PaymentPayload{}, fmt.Errorf("%w: product_id is required for %s", ErrInvalidInput, raw.ProductType)
	}

	return model.PaymentPayload{
		TelegramID:  tgID,
		ProductType: raw.ProductType,
		ProductID:   productID,
	}, nil
}

func parseID(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `""` {
		return 0, nil
	}
	s = strings.Trim(s, `"`)
	return strconv.ParseInt(s, 10, 64)
}

// PickReward selects a reward proportionally to its weight.
// Rewards with non-positive weight are never picked.
func PickReward(rewards []model.CaseReward, rng *rand.Rand) (model.CaseReward, bool) {
	total := 0
	for _, r := range rewards {
		if r.Weight > 0 {
			total += r.Weight
		}
	}
	if total == 0 {
		return model.CaseReward{}, false
	}

	n := rng.Intn(total)
	for _, r := range rewards {
		if r.Weight <= 0 {
			continue
		}
		if n < r.Weight {
			return r, true
		}
		n -= r.Weight
	}
	return model.CaseReward{}, false
}
