package economy

// TapState is the slice of a user row the tap rule reads and writes.
type TapState struct {
	Energy     int64
	Capacity   int64
	BoostValue int64
	Balance    int64
}

// TapResult is the state after applying a tap report.
type TapResult struct {
	State       TapState
	Outcome     Outcome
	AppliedTaps int64
	Earned      int64
}

// AlreadyTaken is the number of taps consumed since the last recharge.
func AlreadyTaken(energy, energyLimit int64) int64 {
	return energyLimit - energy
}

// TapBonus is (boost * capacity) / 100 with a zero boost counted as 1.
func TapBonus(capacity, boost int64) int64 {
	effective := boost
	if effective == 0 {
		effective = 1
	}
	product := effective * capacity
	if product == 0 {
		return 0
	}
	return product / 100
}

// ApplyTaps applies a cumulative tap report to s.
//
// reported is the total number of taps the client made in the current energy
// epoch, so resubmitting the same count yields OutcomeNothingToUpdate. Taps
// beyond the remaining energy are discarded.
func ApplyTaps(s TapState, reported, energyLimit int64) TapResult {
	res := TapResult{State: s}

	if s.Energy == 0 {
		res.Outcome = OutcomeNoEnergy
		return res
	}

	taken := AlreadyTaken(s.Energy, energyLimit)
	if reported < 0 || reported < taken {
		res.Outcome = OutcomeInvalidCount
		return res
	}
	if reported == taken {
		res.Outcome = OutcomeNothingToUpdate
		return res
	}

	newTaps := reported - taken
	applied := min(newTaps, s.Energy)
	earned := (s.Capacity + TapBonus(s.Capacity, s.BoostValue)) * 2 * applied

	res.State.Balance += earned
	res.State.Energy -= applied
	res.AppliedTaps = applied
	res.Earned = earned
	res.Outcome = OutcomeApplied
	return res
}
