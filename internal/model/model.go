// Package model defines the core domain types shared across the lotto engine.
// All custody amounts are int64 in the smallest currency unit — never floats.
package model

import (
	"time"
)

// Round states. Transitions are strictly monotonic:
// open -> drawing -> settled, then a new round opens.
const (
	StateOpen    = "open"
	StateDrawing = "drawing"
	StateSettled = "settled"
)

// Payout leg roles.
const (
	RoleWinner   = "winner"
	RoleEquity   = "equity"
	RoleTreasury = "treasury"
)

// Pool is the per-round custody record. There is exactly one pool per
// round id; the highest round id is the current round.
type Pool struct {
	RoundID         uint64    `json:"round_id" db:"round_id"`
	State           string    `json:"state" db:"state"`
	TotalStaked     int64     `json:"total_staked" db:"total_staked"`
	Balance         int64     `json:"balance" db:"balance"` // remaining undisbursed funds
	FeeBps          int64     `json:"fee_bps" db:"fee_bps"`
	TicketPrice     int64     `json:"ticket_price" db:"ticket_price"`
	NextTicketIndex uint64    `json:"next_ticket_index" db:"next_ticket_index"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// TicketRange is a half-open interval [Start, End) of ticket indices.
type TicketRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Count returns the number of tickets in the range.
func (r TicketRange) Count() uint64 {
	return r.End - r.Start
}

// Contains reports whether the ticket index falls inside the range.
func (r TicketRange) Contains(ticket uint64) bool {
	return ticket >= r.Start && ticket < r.End
}

// Participant records one identity's stake in one round. Ranges are held
// in allocation order; the union of all participants' ranges covers
// [0, pool.NextTicketIndex) with no gaps and no overlaps. A participant
// depositing repeatedly with other deposits interleaved holds multiple
// ranges, since a single contiguous interval cannot be preserved.
type Participant struct {
	RoundID   uint64        `json:"round_id" db:"round_id"`
	Identity  string        `json:"identity" db:"identity"`
	Deposited int64         `json:"deposited" db:"deposited"`
	Ranges    []TicketRange `json:"ranges" db:"ranges"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// Tickets returns the total ticket count across all ranges.
func (p *Participant) Tickets() uint64 {
	var n uint64
	for _, r := range p.Ranges {
		n += r.Count()
	}
	return n
}

// Owns reports whether the participant holds the given ticket.
func (p *Participant) Owns(ticket uint64) bool {
	for _, r := range p.Ranges {
		if r.Contains(ticket) {
			return true
		}
	}
	return false
}

// DrawResult is the immutable outcome of one round's draw. Exactly one
// exists per drawn round; its presence is the guard against a second draw.
type DrawResult struct {
	RoundID        uint64    `json:"round_id" db:"round_id"`
	Seed           []byte    `json:"seed" db:"seed"`
	WinningTicket  uint64    `json:"winning_ticket" db:"winning_ticket"`
	WinnerIdentity string    `json:"winner_identity" db:"winner_identity"`
	Rollover       int       `json:"rollover" db:"rollover"` // re-rolls past excluded winners
	DrawnAt        time.Time `json:"drawn_at" db:"drawn_at"`
}

// PayoutLeg is one destination of a settlement.
type PayoutLeg struct {
	Role     string `json:"role"`
	Identity string `json:"identity"`
	Amount   int64  `json:"amount"`
}

// PayoutRecord is the immutable settlement of one round, written exactly
// once after the DrawResult and before the round may re-open. Leg amounts
// sum exactly to the pool's total stake.
type PayoutRecord struct {
	ID             string      `json:"id" db:"id"`
	RoundID        uint64      `json:"round_id" db:"round_id"`
	AmountToWinner int64       `json:"amount_to_winner" db:"amount_to_winner"`
	AmountFee      int64       `json:"amount_fee" db:"amount_fee"`
	Destinations   []PayoutLeg `json:"destinations" db:"destinations"`
	SettledAt      time.Time   `json:"settled_at" db:"settled_at"`
}
