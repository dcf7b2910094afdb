package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/stakelotto/lotto-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	pools        map[uint64]*model.Pool
	participants map[uint64]map[string]*model.Participant
	order        map[uint64][]string // first-deposit order per round
	draws        map[uint64]*model.DrawResult
	payouts      map[uint64]*model.PayoutRecord
	current      uint64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:        make(map[uint64]*model.Pool),
		participants: make(map[uint64]map[string]*model.Participant),
		order:        make(map[uint64][]string),
		draws:        make(map[uint64]*model.DrawResult),
		payouts:      make(map[uint64]*model.PayoutRecord),
	}
}

func (s *MemoryStore) CreatePool(_ context.Context, pool *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[pool.RoundID]; ok {
		return fmt.Errorf("pool for round %d already exists", pool.RoundID)
	}
	s.putPool(pool)
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, roundID uint64) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[roundID]
	if !ok {
		return nil, fmt.Errorf("%w: round %d", model.ErrNotFound, roundID)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) CurrentPool(_ context.Context) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[s.current]
	if !ok {
		return nil, fmt.Errorf("%w: no current round", model.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SetPoolState(_ context.Context, roundID uint64, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[roundID]
	if !ok {
		return fmt.Errorf("%w: round %d", model.ErrNotFound, roundID)
	}
	p.State = state
	return nil
}

func (s *MemoryStore) CommitDeposit(_ context.Context, pool *model.Pool, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[pool.RoundID]; !ok {
		return fmt.Errorf("%w: round %d", model.ErrNotFound, pool.RoundID)
	}

	byIdentity, ok := s.participants[pool.RoundID]
	if !ok {
		byIdentity = make(map[string]*model.Participant)
		s.participants[pool.RoundID] = byIdentity
	}
	if _, exists := byIdentity[p.Identity]; !exists {
		s.order[pool.RoundID] = append(s.order[pool.RoundID], p.Identity)
	}

	// Store copies to avoid external mutation.
	pc := *pool
	s.pools[pool.RoundID] = &pc
	cp := *p
	cp.Ranges = append([]model.TicketRange(nil), p.Ranges...)
	byIdentity[p.Identity] = &cp
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, roundID uint64, identity string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[roundID][identity]
	if !ok {
		return nil, fmt.Errorf("%w: participant %s in round %d", model.ErrNotFound, identity, roundID)
	}
	cp := *p
	cp.Ranges = append([]model.TicketRange(nil), p.Ranges...)
	return &cp, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, roundID uint64) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identities := s.order[roundID]
	participants := make([]model.Participant, 0, len(identities))
	for _, id := range identities {
		p := s.participants[roundID][id]
		cp := *p
		cp.Ranges = append([]model.TicketRange(nil), p.Ranges...)
		participants = append(participants, cp)
	}
	return participants, nil
}

func (s *MemoryStore) InsertDrawResult(_ context.Context, draw *model.DrawResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.draws[draw.RoundID]; ok {
		return fmt.Errorf("draw result for round %d already exists", draw.RoundID)
	}
	cp := *draw
	cp.Seed = append([]byte(nil), draw.Seed...)
	s.draws[draw.RoundID] = &cp
	return nil
}

func (s *MemoryStore) GetDrawResult(_ context.Context, roundID uint64) (*model.DrawResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.draws[roundID]
	if !ok {
		return nil, fmt.Errorf("%w: draw for round %d", model.ErrNotFound, roundID)
	}
	cp := *d
	cp.Seed = append([]byte(nil), d.Seed...)
	return &cp, nil
}

func (s *MemoryStore) ListDrawResults(_ context.Context) ([]model.DrawResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var draws []model.DrawResult
	for round := s.current; ; round-- {
		if d, ok := s.draws[round]; ok {
			cp := *d
			cp.Seed = append([]byte(nil), d.Seed...)
			draws = append(draws, cp)
		}
		if round == 0 {
			break
		}
	}
	return draws, nil
}

func (s *MemoryStore) GetPayoutRecord(_ context.Context, roundID uint64) (*model.PayoutRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.payouts[roundID]
	if !ok {
		return nil, fmt.Errorf("%w: payout for round %d", model.ErrNotFound, roundID)
	}
	cp := *rec
	cp.Destinations = append([]model.PayoutLeg(nil), rec.Destinations...)
	return &cp, nil
}

func (s *MemoryStore) CommitSettlement(_ context.Context, settled *model.Pool, rec *model.PayoutRecord, next *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payouts[rec.RoundID]; ok {
		return fmt.Errorf("%w: round %d", model.ErrAlreadySettled, rec.RoundID)
	}
	if _, ok := s.pools[next.RoundID]; ok {
		return fmt.Errorf("pool for round %d already exists", next.RoundID)
	}

	sc := *settled
	s.pools[settled.RoundID] = &sc

	rc := *rec
	rc.Destinations = append([]model.PayoutLeg(nil), rec.Destinations...)
	s.payouts[rec.RoundID] = &rc

	s.putPool(next)
	return nil
}

// putPool stores a copy and advances the current-round pointer. Caller
// must hold the write lock.
func (s *MemoryStore) putPool(pool *model.Pool) {
	cp := *pool
	s.pools[pool.RoundID] = &cp
	if pool.RoundID >= s.current {
		s.current = pool.RoundID
	}
}
