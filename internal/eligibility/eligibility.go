// Package eligibility enforces participation limits for the lotto engine.
//
// Two controls come from the game configuration: an odds threshold capping
// the share of tickets any single participant may hold, and an exclusion
// list of identities (operator and partner accounts) that may stake but
// can never win a draw.
package eligibility

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrOddsLimitExceeded is returned when a deposit would push a
// participant's ticket share beyond the configured odds threshold.
var ErrOddsLimitExceeded = errors.New("eligibility: deposit would exceed the per-participant odds threshold")

// OddsLimiter caps a single participant's odds, expressed as the fraction
// Numerator/Denominator of all tickets in the round. A zero denominator
// disables the limit.
type OddsLimiter struct {
	Numerator   uint64
	Denominator uint64
}

// NewOddsLimiter creates a limiter with the given threshold fraction.
func NewOddsLimiter(numerator, denominator uint64) *OddsLimiter {
	return &OddsLimiter{
		Numerator:   numerator,
		Denominator: denominator,
	}
}

// Threshold returns the configured fraction as a decimal, or zero when the
// limiter is disabled.
func (l *OddsLimiter) Threshold() decimal.Decimal {
	if l.Denominator == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(l.Numerator).Div(decimal.NewFromUint64(l.Denominator))
}

// Check validates a deposit against the odds threshold, given the
// participant's ticket count and the round's total ticket count as they
// would stand after the deposit. A participant holding every ticket in the
// round is always allowed: a sole staker necessarily has odds of 1.
func (l *OddsLimiter) Check(participantTickets, totalTickets uint64) error {
	if l.Denominator == 0 || totalTickets == 0 || participantTickets == totalTickets {
		return nil
	}

	share := decimal.NewFromUint64(participantTickets).Div(decimal.NewFromUint64(totalTickets))
	if share.GreaterThan(l.Threshold()) {
		return ErrOddsLimitExceeded
	}
	return nil
}

// ExclusionList is the set of identities ineligible to win a draw.
type ExclusionList struct {
	set map[string]struct{}
}

// NewExclusionList creates an exclusion list from the given identities.
func NewExclusionList(identities []string) *ExclusionList {
	set := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		set[id] = struct{}{}
	}
	return &ExclusionList{set: set}
}

// Excluded reports whether the identity is barred from winning.
func (x *ExclusionList) Excluded(identity string) bool {
	_, ok := x.set[identity]
	return ok
}

// Len returns the number of excluded identities.
func (x *ExclusionList) Len() int {
	return len(x.set)
}
