// Package store defines the persistence interface for the lotto engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/stakelotto/lotto-engine/internal/model"
)

// Store is the persistence interface. The host owns durability; the engine
// owns the schema. Commit methods apply all of their rows atomically —
// a failed commit leaves no partial state behind.
type Store interface {
	// --- Pools ---

	// CreatePool persists a new round's pool.
	CreatePool(ctx context.Context, pool *model.Pool) error

	// GetPool retrieves the pool for a round id.
	GetPool(ctx context.Context, roundID uint64) (*model.Pool, error)

	// CurrentPool retrieves the pool with the highest round id.
	CurrentPool(ctx context.Context) (*model.Pool, error)

	// SetPoolState flips a pool's round state (the open->drawing flip).
	SetPoolState(ctx context.Context, roundID uint64, state string) error

	// --- Deposits ---

	// CommitDeposit persists updated pool counters together with the
	// depositing participant's updated record, all-or-nothing.
	CommitDeposit(ctx context.Context, pool *model.Pool, p *model.Participant) error

	// GetParticipant retrieves one participant of a round.
	GetParticipant(ctx context.Context, roundID uint64, identity string) (*model.Participant, error)

	// ListParticipants returns a round's participants in first-deposit order.
	ListParticipants(ctx context.Context, roundID uint64) ([]model.Participant, error)

	// --- Draws ---

	// InsertDrawResult appends the immutable draw result for a round.
	// Fails if one already exists for the round.
	InsertDrawResult(ctx context.Context, draw *model.DrawResult) error

	// GetDrawResult retrieves a round's draw result.
	GetDrawResult(ctx context.Context, roundID uint64) (*model.DrawResult, error)

	// ListDrawResults returns all draw results, newest first.
	ListDrawResults(ctx context.Context) ([]model.DrawResult, error)

	// --- Settlement ---

	// GetPayoutRecord retrieves a round's payout record.
	GetPayoutRecord(ctx context.Context, roundID uint64) (*model.PayoutRecord, error)

	// CommitSettlement persists the settled pool, its payout record, and
	// the freshly opened next-round pool in one atomic commit. Fails if a
	// payout record already exists for the round.
	CommitSettlement(ctx context.Context, settled *model.Pool, rec *model.PayoutRecord, next *model.Pool) error
}
