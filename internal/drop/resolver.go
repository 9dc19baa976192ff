package drop

import (
	"errors"
	"math/rand/v2"

	"collectible-market/internal/model"
)

// Draw is the outcome of one resolution.
type Draw struct {
	Item      model.CatalogEntry
	Requested model.Rarity
	Rarity    model.Rarity
}

// FellBack reports whether the drawn item is below the sampled rarity.
func (d Draw) FellBack() bool {
	return d.Rarity != d.Requested
}

// Resolve samples a rarity from table and picks an item for it from pool.
func Resolve(rng *rand.Rand, table ProbabilityTable, pool *Pool, exclude map[int64]bool) (Draw, error) {
	return pool.Pick(rng, table.Sample(rng), exclude)
}

// State is a step of an allocation.
type State int

const (
	StateDrawing State = iota
	StateClaiming
	StateFallback
	StateGranted
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDrawing:
		return "DRAWING"
	case StateClaiming:
		return "CLAIMING"
	case StateFallback:
		return "FALLBACK"
	case StateGranted:
		return "GRANTED"
	case StateExhausted:
		return "EXHAUSTED"
	}
	return "UNKNOWN"
}

// ClaimFunc asks the scarcity authority for one copy of the entry.
// A denial is an error matching ErrSlotUnavailable; any other error aborts
// the allocation.
type ClaimFunc func(entry model.CatalogEntry) (serial *int, err error)

// Allocation is a granted item.
type Allocation struct {
	Item       model.CatalogEntry
	Serial     *int
	Requested  model.Rarity
	Attempts   int
	Guaranteed bool
}

// FellBack reports whether the granted item is below the sampled rarity.
func (a *Allocation) FellBack() bool {
	return a.Item.Rarity != a.Requested
}

// Allocator runs the draw → claim → redraw loop for one pack.
// After MaxAttempts denied claims it falls back to a guaranteed COMUM item.
type Allocator struct {
	Table       ProbabilityTable
	Pool        *Pool
	MaxAttempts int
	Rand        *rand.Rand
	// Trace, if set, observes every state change.
	Trace func(state State, attempt int, item model.CatalogEntry)
}

func (a *Allocator) trace(state State, attempt int, item model.CatalogEntry) {
	if a.Trace != nil {
		a.Trace(state, attempt, item)
	}
}

// Allocate returns the first item whose claim is granted. The first draw
// samples the rarity; redraws stay on that rarity and skip items whose claim
// was denied.
func (a *Allocator) Allocate(claim ClaimFunc) (*Allocation, error) {
	exclude := make(map[int64]bool)
	var requested model.Rarity

	for attempt := 1; attempt <= a.MaxAttempts; attempt++ {
		a.trace(StateDrawing, attempt, model.CatalogEntry{})
		var (
			d   Draw
			err error
		)
		if attempt == 1 {
			d, err = Resolve(a.Rand, a.Table, a.Pool, exclude)
			requested = d.Requested
		} else {
			d, err = a.Pool.Pick(a.Rand, requested, exclude)
		}
		if err != nil {
			break
		}

		a.trace(StateClaiming, attempt, d.Item)
		serial, err := claim(d.Item)
		if errors.Is(err, ErrSlotUnavailable) {
			exclude[d.Item.ID] = true
			continue
		}
		if err != nil {
			return nil, err
		}
		a.trace(StateGranted, attempt, d.Item)
		return &Allocation{Item: d.Item, Serial: serial, Requested: requested, Attempts: attempt}, nil
	}

	if requested == "" {
		requested = a.Table.Sample(a.Rand)
	}
	item := a.Pool.Guaranteed(a.Rand)
	a.trace(StateFallback, a.MaxAttempts+1, item)
	serial, err := claim(item)
	if errors.Is(err, ErrSlotUnavailable) {
		a.trace(StateExhausted, a.MaxAttempts+1, item)
		return nil, ErrCollectionExhausted
	}
	if err != nil {
		return nil, err
	}
	a.trace(StateGranted, a.MaxAttempts+1, item)
	return &Allocation{
		Item:       item,
		Serial:     serial,
		Requested:  requested,
		Attempts:   a.MaxAttempts + 1,
		Guaranteed: true,
	}, nil
}
