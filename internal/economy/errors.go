// Package economy holds the pure game-economy rules: tap accounting,
// referral chain attribution, commission arithmetic and product grants.
// Nothing in this package touches storage.
package economy

import "errors"

// Error taxonomy shared by every layer. Wrap these with fmt.Errorf("...: %w", ...)
// and classify with KindOf.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrExhausted    = errors.New("exhausted")
)

// Kind classifies an error or soft outcome.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindInvalidInput
	KindForbidden
	KindExhausted
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	case KindForbidden:
		return "forbidden"
	case KindExhausted:
		return "exhausted"
	default:
		return "internal"
	}
}

// KindOf maps err onto the taxonomy. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrExhausted):
		return KindExhausted
	default:
		return KindInternal
	}
}

// Outcome is a soft business result. Outcomes are returned as values, never as errors.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeNoEnergy        Outcome = "no_energy"
	OutcomeInvalidCount    Outcome = "invalid_count"
	OutcomeNothingToUpdate Outcome = "nothing_to_update"
	OutcomeGranted         Outcome = "granted"
	OutcomeAlreadyAtMax    Outcome = "already_at_max"
)

// Kind returns the taxonomy class of a soft outcome; successful outcomes are internal.
func (o Outcome) Kind() Kind {
	switch o {
	case OutcomeInvalidCount:
		return KindInvalidInput
	case OutcomeNoEnergy, OutcomeAlreadyAtMax:
		return KindExhausted
	default:
		return KindInternal
	}
}

// Message is the user-facing text for an outcome.
func (o Outcome) Message() string {
	switch o {
	case OutcomeApplied:
		return "Balance successfully updated"
	case OutcomeNoEnergy:
		return "The energy is gone"
	case OutcomeInvalidCount:
		return "Tap count cannot be negative or lower than the taps already made today"
	case OutcomeNothingToUpdate:
		return "Make taps before update your balance"
	case OutcomeGranted:
		return "Product granted"
	case OutcomeAlreadyAtMax:
		return "You already have the maximum number of slots"
	default:
		return string(o)
	}
}
