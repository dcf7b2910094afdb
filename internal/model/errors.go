package model

import "errors"

// Typed failure kinds surfaced to the execution host. Every operation
// either fully commits or fails with one of these and no partial mutation.
var (
	// ErrInvalidState is returned when an operation is not legal in the
	// round's current phase, including re-entry of an advanced phase.
	ErrInvalidState = errors.New("pool: operation not valid in current round state")

	// ErrInvalidAmount is returned for deposits that are non-positive or
	// not a whole multiple of the ticket price.
	ErrInvalidAmount = errors.New("pool: deposit amount must be a positive multiple of the ticket price")

	// ErrInsufficientFunds is returned when a payout debit exceeds the
	// pool's accounted balance.
	ErrInsufficientFunds = errors.New("pool: insufficient funds for payout debit")

	// ErrEmptyPool is returned when a draw is requested with zero tickets.
	ErrEmptyPool = errors.New("pool: cannot draw a round with no tickets")

	// ErrAlreadySettled is returned when a round already holds a payout
	// record. The first settlement stands; retries are safe no-ops.
	ErrAlreadySettled = errors.New("pool: round already settled")

	// ErrUnauthorized is returned when the caller lacks the authority
	// required for a restricted transition.
	ErrUnauthorized = errors.New("pool: caller is not the draw authority")

	// ErrNotFound is returned for lookups of rounds, participants, draws
	// or payouts that do not exist.
	ErrNotFound = errors.New("pool: not found")
)
