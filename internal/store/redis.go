package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stakelotto/lotto-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Draw results and payout
// records are immutable and cached without invalidation.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cachePool(ctx, p)
	s.rdb.Del(ctx, currentPoolKey())
	return nil
}

func (s *CachedStore) SetPoolState(ctx context.Context, roundID uint64, state string) error {
	if err := s.primary.SetPoolState(ctx, roundID, state); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(roundID), currentPoolKey())
	return nil
}

func (s *CachedStore) CommitDeposit(ctx context.Context, p *model.Pool, part *model.Participant) error {
	if err := s.primary.CommitDeposit(ctx, p, part); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(p.RoundID), currentPoolKey(), participantsKey(p.RoundID))
	return nil
}

func (s *CachedStore) InsertDrawResult(ctx context.Context, d *model.DrawResult) error {
	return s.primary.InsertDrawResult(ctx, d)
}

func (s *CachedStore) CommitSettlement(ctx context.Context, settled *model.Pool, rec *model.PayoutRecord, next *model.Pool) error {
	if err := s.primary.CommitSettlement(ctx, settled, rec, next); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(settled.RoundID), currentPoolKey())
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, roundID uint64) (*model.Pool, error) {
	data, err := s.rdb.Get(ctx, poolKey(roundID)).Bytes()
	if err == nil {
		var p model.Pool
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPool(ctx, roundID)
	if err != nil {
		return nil, err
	}
	s.cachePool(ctx, p)
	return p, nil
}

func (s *CachedStore) CurrentPool(ctx context.Context) (*model.Pool, error) {
	// Try cache via the current-round pointer.
	roundStr, err := s.rdb.Get(ctx, currentPoolKey()).Result()
	if err == nil {
		var roundID uint64
		if _, err := fmt.Sscanf(roundStr, "%d", &roundID); err == nil {
			return s.GetPool(ctx, roundID)
		}
	}

	p, err := s.primary.CurrentPool(ctx)
	if err != nil {
		return nil, err
	}
	s.cachePool(ctx, p)
	s.rdb.Set(ctx, currentPoolKey(), fmt.Sprintf("%d", p.RoundID), s.ttl)
	return p, nil
}

func (s *CachedStore) ListParticipants(ctx context.Context, roundID uint64) ([]model.Participant, error) {
	data, err := s.rdb.Get(ctx, participantsKey(roundID)).Bytes()
	if err == nil {
		var participants []model.Participant
		if json.Unmarshal(data, &participants) == nil {
			return participants, nil
		}
	}

	participants, err := s.primary.ListParticipants(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(participants); err == nil {
		s.rdb.Set(ctx, participantsKey(roundID), data, s.ttl)
	}
	return participants, nil
}

func (s *CachedStore) GetDrawResult(ctx context.Context, roundID uint64) (*model.DrawResult, error) {
	data, err := s.rdb.Get(ctx, drawKey(roundID)).Bytes()
	if err == nil {
		var d model.DrawResult
		if json.Unmarshal(data, &d) == nil {
			return &d, nil
		}
	}

	d, err := s.primary.GetDrawResult(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(d); err == nil {
		s.rdb.Set(ctx, drawKey(roundID), data, s.ttl)
	}
	return d, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetParticipant(ctx context.Context, roundID uint64, identity string) (*model.Participant, error) {
	return s.primary.GetParticipant(ctx, roundID, identity)
}

func (s *CachedStore) ListDrawResults(ctx context.Context) ([]model.DrawResult, error) {
	return s.primary.ListDrawResults(ctx)
}

func (s *CachedStore) GetPayoutRecord(ctx context.Context, roundID uint64) (*model.PayoutRecord, error) {
	return s.primary.GetPayoutRecord(ctx, roundID)
}

// --- Cache helpers ---

func (s *CachedStore) cachePool(ctx context.Context, p *model.Pool) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, poolKey(p.RoundID), data, s.ttl)
	}
}

func poolKey(roundID uint64) string         { return fmt.Sprintf("pool:%d", roundID) }
func currentPoolKey() string                { return "pool:current" }
func participantsKey(roundID uint64) string { return fmt.Sprintf("participants:%d", roundID) }
func drawKey(roundID uint64) string         { return fmt.Sprintf("draw:%d", roundID) }
