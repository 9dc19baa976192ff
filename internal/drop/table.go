// Package drop decides which item a pack yields. Everything here is pure:
// randomness comes from the caller's *rand.Rand and scarcity claims go
// through a callback, so the store stays the only authority on availability.
package drop

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"

	"collectible-market/internal/model"
)

// TotalWeight is the sum every probability table must reach, in basis points.
const TotalWeight = 10000

// Errors for drop resolution.
var (
	ErrInvalidWeights      = errors.New("invalid rarity weights")
	ErrNoGuaranteedItem    = errors.New("collection has no unlimited COMUM item")
	ErrCollectionExhausted = errors.New("collection exhausted")
	// ErrSlotUnavailable is a denied scarcity claim; the allocator redraws.
	ErrSlotUnavailable     = errors.New("scarcity slot unavailable")
)

// ProbabilityTable maps each rarity to a weight in basis points.
type ProbabilityTable struct {
	weights [5]int
}

// NewProbabilityTable validates weights: known rarities, none negative, sum 10000.
func NewProbabilityTable(weights map[model.Rarity]int) (ProbabilityTable, error) {
	var t ProbabilityTable
	total := 0
	for r, w := range weights {
		rank := r.Rank()
		if rank < 0 {
			return t, fmt.Errorf("%w: unknown rarity %q", ErrInvalidWeights, r)
		}
		if w < 0 {
			return t, fmt.Errorf("%w: negative weight %d for %s", ErrInvalidWeights, w, r)
		}
		t.weights[rank] = w
		total += w
	}
	if total != TotalWeight {
		return t, fmt.Errorf("%w: weights sum to %d, want %d", ErrInvalidWeights, total, TotalWeight)
	}
	return t, nil
}

// Weight returns the basis points assigned to r.
func (t ProbabilityTable) Weight(r model.Rarity) int {
	rank := r.Rank()
	if rank < 0 {
		return 0
	}
	return t.weights[rank]
}

// Sample draws a rarity from the cumulative distribution.
// A rarity with weight 0 is never returned.
func (t ProbabilityTable) Sample(rng *rand.Rand) model.Rarity {
	n := rng.IntN(TotalWeight)
	rarities := model.Rarities()
	for i, w := range t.weights {
		if n < w {
			return rarities[i]
		}
		n -= w
	}
	// Unreachable for a validated table.
	return model.RarityComum
}

// NewRand returns a PCG source seeded from crypto/rand, one per request.
func NewRand() *rand.Rand {
	var seed [16]byte
	_, _ = cryptorand.Read(seed[:])
	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	))
}
