// Package payout implements settlement arithmetic for the lotto engine.
//
// Settlement is a pure function over a pool snapshot and its draw result;
// the round controller commits the returned record through the ledger. The
// protocol fee is floored so it never rounds in the protocol's favor, and
// the fee is fanned out to configured shares (the winner leg plus equity
// and treasury legs) whose amounts always sum exactly to the total stake.
package payout

import (
	"errors"
	"fmt"
	"time"

	"github.com/stakelotto/lotto-engine/internal/model"
)

// BpsDenominator is the basis-point scale: 10000 bps == 100%.
const BpsDenominator = 10000

var (
	// ErrInvalidFeeBps is returned when a pool's fee is outside [0, 10000].
	ErrInvalidFeeBps = errors.New("payout: fee_bps must be within [0, 10000]")

	// ErrRoundMismatch is returned when the draw result belongs to a
	// different round than the pool being settled.
	ErrRoundMismatch = errors.New("payout: draw result round does not match pool round")
)

// Share is a fractional claim on the protocol fee, expressed as
// numerator/denominator. A zero denominator yields a zero share.
type Share struct {
	Identity    string
	Numerator   uint64
	Denominator uint64
}

// Amount returns the floored share of the given amount.
func (s Share) Amount(total int64) int64 {
	if s.Denominator == 0 {
		return 0
	}
	return int64(uint64(total) * s.Numerator / s.Denominator)
}

// FeeSplit describes how the protocol fee is distributed. The equity share
// is carved out first; the remainder goes to the treasury, so the fee legs
// sum exactly to the fee regardless of rounding.
type FeeSplit struct {
	Equity           Share
	TreasuryIdentity string
}

// Fee returns the floored protocol fee for the pool. The fee never exceeds
// the total stake.
func Fee(totalStaked, feeBps int64) (int64, error) {
	if feeBps < 0 || feeBps > BpsDenominator {
		return 0, fmt.Errorf("%w: %d", ErrInvalidFeeBps, feeBps)
	}
	return totalStaked * feeBps / BpsDenominator, nil
}

// Settle computes the payout record for a drawn round. Pure: no state is
// read or written. Invariant: amount_to_winner + amount_fee ==
// pool.TotalStaked, and the destination legs sum to the same total.
func Settle(pool *model.Pool, d *model.DrawResult, split FeeSplit, recordID string, now time.Time) (*model.PayoutRecord, error) {
	if d.RoundID != pool.RoundID {
		return nil, fmt.Errorf("%w: draw %d vs pool %d", ErrRoundMismatch, d.RoundID, pool.RoundID)
	}

	fee, err := Fee(pool.TotalStaked, pool.FeeBps)
	if err != nil {
		return nil, err
	}
	toWinner := pool.TotalStaked - fee

	legs := []model.PayoutLeg{
		{Role: model.RoleWinner, Identity: d.WinnerIdentity, Amount: toWinner},
	}
	if fee > 0 {
		equityAmt := split.Equity.Amount(fee)
		if equityAmt > 0 {
			legs = append(legs, model.PayoutLeg{
				Role:     model.RoleEquity,
				Identity: split.Equity.Identity,
				Amount:   equityAmt,
			})
		}
		if rest := fee - equityAmt; rest > 0 {
			legs = append(legs, model.PayoutLeg{
				Role:     model.RoleTreasury,
				Identity: split.TreasuryIdentity,
				Amount:   rest,
			})
		}
	}

	return &model.PayoutRecord{
		ID:             recordID,
		RoundID:        pool.RoundID,
		AmountToWinner: toWinner,
		AmountFee:      fee,
		Destinations:   legs,
		SettledAt:      now,
	}, nil
}

// ZeroStakeRecord is the trivial settlement of a round that closed with no
// deposits: no draw, no destinations, zero amounts.
func ZeroStakeRecord(pool *model.Pool, recordID string, now time.Time) *model.PayoutRecord {
	return &model.PayoutRecord{
		ID:           recordID,
		RoundID:      pool.RoundID,
		Destinations: []model.PayoutLeg{},
		SettledAt:    now,
	}
}
