// Package draw implements deterministic winner selection for the lotto
// engine.
//
// The seed is supplied by the execution host and must be finalized strictly
// after the round stops accepting deposits; the engine never generates
// entropy of its own. Selection hashes the seed with SHA-256 and reduces
// the 256-bit digest into [0, nextTicketIndex), so the reduction bias is at
// most n/2^256 and the result is bit-for-bit reproducible for identical
// inputs — any third party can replay a draw from the recorded seed and
// allocation history.
package draw

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/stakelotto/lotto-engine/internal/model"
)

var (
	// ErrSeedRequired is returned when the seed is empty.
	ErrSeedRequired = errors.New("draw: seed must not be empty")

	// ErrNoEligibleWinner is returned when every re-roll within the
	// rollover budget landed on an excluded identity.
	ErrNoEligibleWinner = errors.New("draw: no eligible winner within rollover budget")
)

// SelectWinner reduces the seed into a winning ticket index in
// [0, nextTicketIndex).
func SelectWinner(seed []byte, nextTicketIndex uint64) (uint64, error) {
	if len(seed) == 0 {
		return 0, ErrSeedRequired
	}
	if nextTicketIndex == 0 {
		return 0, model.ErrEmptyPool
	}
	return reduce(roll(seed, 0), nextTicketIndex), nil
}

// ResolveWinner locates the participant whose ranges contain the winning
// ticket. Ranges are contiguous and non-overlapping across participants,
// so the lookup is total for any ticket below the allocation cursor.
func ResolveWinner(ticket uint64, participants []model.Participant) (string, error) {
	for i := range participants {
		if participants[i].Owns(ticket) {
			return participants[i].Identity, nil
		}
	}
	return "", fmt.Errorf("draw: ticket %d has no owner", ticket)
}

// SelectEligibleWinner selects a winner, deterministically re-rolling past
// identities the excluded predicate rejects. Attempt k hashes the seed
// together with k, so the re-roll sequence is as reproducible as the first
// roll. At most maxRollover re-rolls are performed; the number actually
// used is returned alongside the result.
func SelectEligibleWinner(
	seed []byte,
	nextTicketIndex uint64,
	participants []model.Participant,
	excluded func(identity string) bool,
	maxRollover int,
) (ticket uint64, winner string, rollover int, err error) {
	if len(seed) == 0 {
		return 0, "", 0, ErrSeedRequired
	}
	if nextTicketIndex == 0 {
		return 0, "", 0, model.ErrEmptyPool
	}

	for attempt := 0; attempt <= maxRollover; attempt++ {
		ticket = reduce(roll(seed, uint64(attempt)), nextTicketIndex)
		winner, err = ResolveWinner(ticket, participants)
		if err != nil {
			return 0, "", 0, err
		}
		if excluded == nil || !excluded(winner) {
			return ticket, winner, attempt, nil
		}
	}
	return 0, "", 0, ErrNoEligibleWinner
}

// roll hashes the seed for the given attempt. Attempt zero hashes the raw
// seed so a plain SelectWinner call and the first eligible-winner attempt
// agree.
func roll(seed []byte, attempt uint64) []byte {
	h := sha256.New()
	h.Write(seed)
	if attempt > 0 {
		var counter [8]byte
		binary.BigEndian.PutUint64(counter[:], attempt)
		h.Write(counter[:])
	}
	return h.Sum(nil)
}

// reduce maps a 256-bit digest into [0, n).
func reduce(digest []byte, n uint64) uint64 {
	v := new(big.Int).SetBytes(digest)
	return v.Mod(v, new(big.Int).SetUint64(n)).Uint64()
}
