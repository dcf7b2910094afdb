// Package ledger is the authoritative accounting core of the lotto engine.
//
// It owns the Pool and Participant records: deposits convert stake into
// contiguous ticket ranges at a fixed exchange rate, and payout debits may
// never overdraw the pool's accounted balance. Every mutation is committed
// all-or-nothing through the store; callers (the round controller)
// serialize invocations, so the ledger itself holds no locks.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stakelotto/lotto-engine/internal/eligibility"
	"github.com/stakelotto/lotto-engine/internal/model"
	"github.com/stakelotto/lotto-engine/internal/payout"
	"github.com/stakelotto/lotto-engine/internal/store"
)

// Ledger applies deposits and payout debits against the current round's
// pool, enforcing the accounting invariants:
//
//	total_staked == Σ participant.deposited
//	next_ticket_index advances monotonically, one unit per ticket sold
//	participant ranges partition [0, next_ticket_index)
type Ledger struct {
	store       store.Store
	ticketPrice int64
	feeBps      int64
	limiter     *eligibility.OddsLimiter
}

// New creates a ledger. ticketPrice must be positive and feeBps within
// [0, 10000]; limiter may be nil to disable the odds threshold.
func New(st store.Store, ticketPrice, feeBps int64, limiter *eligibility.OddsLimiter) (*Ledger, error) {
	if ticketPrice <= 0 {
		return nil, fmt.Errorf("ledger: ticket price must be positive, got %d", ticketPrice)
	}
	if feeBps < 0 || feeBps > payout.BpsDenominator {
		return nil, fmt.Errorf("%w: %d", payout.ErrInvalidFeeBps, feeBps)
	}
	return &Ledger{
		store:       st,
		ticketPrice: ticketPrice,
		feeBps:      feeBps,
		limiter:     limiter,
	}, nil
}

// Bootstrap ensures a current open pool exists, creating round 1 on a
// fresh store. Returns the current pool.
func (l *Ledger) Bootstrap(ctx context.Context) (*model.Pool, error) {
	pool, err := l.store.CurrentPool(ctx)
	if errors.Is(err, model.ErrNotFound) {
		pool = l.NewRound(1)
		if err := l.store.CreatePool(ctx, pool); err != nil {
			return nil, fmt.Errorf("create round 1: %w", err)
		}
		return pool, nil
	}
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// NewRound builds a fresh open pool for the given round id using the
// ledger's configured exchange rate and fee.
func (l *Ledger) NewRound(roundID uint64) *model.Pool {
	return &model.Pool{
		RoundID:     roundID,
		State:       model.StateOpen,
		FeeBps:      l.feeBps,
		TicketPrice: l.ticketPrice,
		CreatedAt:   time.Now().UTC(),
	}
}

// Deposit converts amount into tickets for identity in the current round.
// Fails with ErrInvalidState unless the round is open, ErrInvalidAmount
// for non-positive amounts or non-multiples of the ticket price, and the
// limiter's error when the deposit would breach the odds threshold. On
// success the updated participant and pool snapshots are returned; on any
// failure no state changes.
func (l *Ledger) Deposit(ctx context.Context, identity string, amount int64) (*model.Participant, *model.Pool, error) {
	pool, err := l.store.CurrentPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	if pool.State != model.StateOpen {
		return nil, nil, fmt.Errorf("%w: round %d is %s", model.ErrInvalidState, pool.RoundID, pool.State)
	}
	if amount <= 0 || amount%pool.TicketPrice != 0 {
		return nil, nil, fmt.Errorf("%w: %d (ticket price %d)", model.ErrInvalidAmount, amount, pool.TicketPrice)
	}
	tickets := uint64(amount / pool.TicketPrice)

	participant, err := l.store.GetParticipant(ctx, pool.RoundID, identity)
	if errors.Is(err, model.ErrNotFound) {
		participant = &model.Participant{
			RoundID:   pool.RoundID,
			Identity:  identity,
			CreatedAt: time.Now().UTC(),
		}
	} else if err != nil {
		return nil, nil, err
	}

	if l.limiter != nil {
		if err := l.limiter.Check(participant.Tickets()+tickets, pool.NextTicketIndex+tickets); err != nil {
			return nil, nil, err
		}
	}

	// Allocate [cursor, cursor+tickets), extending the participant's last
	// range when they already own the allocation tail.
	start := pool.NextTicketIndex
	end := start + tickets
	if n := len(participant.Ranges); n > 0 && participant.Ranges[n-1].End == start {
		participant.Ranges[n-1].End = end
	} else {
		participant.Ranges = append(participant.Ranges, model.TicketRange{Start: start, End: end})
	}
	participant.Deposited += amount

	pool.TotalStaked += amount
	pool.Balance += amount
	pool.NextTicketIndex = end

	if err := l.store.CommitDeposit(ctx, pool, participant); err != nil {
		return nil, nil, fmt.Errorf("commit deposit: %w", err)
	}
	return participant, pool, nil
}

// DebitForPayout deducts amount from the pool snapshot's accounted
// balance. Fails with ErrInsufficientFunds if the balance would go
// negative; the snapshot is only mutated on success and nothing is
// persisted until the caller commits the settlement.
func (l *Ledger) DebitForPayout(pool *model.Pool, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative debit %d", model.ErrInvalidAmount, amount)
	}
	if pool.Balance < amount {
		return fmt.Errorf("%w: balance %d, debit %d", model.ErrInsufficientFunds, pool.Balance, amount)
	}
	pool.Balance -= amount
	return nil
}

// Store exposes the underlying store for read-side queries.
func (l *Ledger) Store() store.Store {
	return l.store
}
