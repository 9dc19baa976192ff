package drop

import (
	"math/rand/v2"

	"collectible-market/internal/model"
)

// Pool is a collection's item definitions grouped by rarity, as read at the
// start of a request. Availability flags in it are advisory.
type Pool struct {
	byRarity   map[model.Rarity][]model.CatalogEntry
	guaranteed []model.CatalogEntry
}

// NewPool groups entries and checks that COMUM holds at least one unlimited item.
func NewPool(entries []model.CatalogEntry) (*Pool, error) {
	p := &Pool{byRarity: make(map[model.Rarity][]model.CatalogEntry)}
	for _, e := range entries {
		p.byRarity[e.Rarity] = append(p.byRarity[e.Rarity], e)
		if e.Rarity == model.RarityComum && e.ScarcityTier == model.ScarcityUnlimited {
			p.guaranteed = append(p.guaranteed, e)
		}
	}
	if len(p.guaranteed) == 0 {
		return nil, ErrNoGuaranteedItem
	}
	return p, nil
}

// Size returns the number of definitions in the pool.
func (p *Pool) Size() int {
	n := 0
	for _, entries := range p.byRarity {
		n += len(entries)
	}
	return n
}

func (p *Pool) candidates(r model.Rarity, exclude map[int64]bool) []model.CatalogEntry {
	var out []model.CatalogEntry
	for _, e := range p.byRarity[r] {
		if e.Available() && !exclude[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

// Pick chooses uniformly among the available, non-excluded items of the
// requested rarity, stepping down one rarity at a time when a tier is empty.
func (p *Pool) Pick(rng *rand.Rand, requested model.Rarity, exclude map[int64]bool) (Draw, error) {
	r, ok := requested, true
	for ok {
		if cands := p.candidates(r, exclude); len(cands) > 0 {
			return Draw{
				Item:      cands[rng.IntN(len(cands))],
				Requested: requested,
				Rarity:    r,
			}, nil
		}
		r, ok = r.Lower()
	}
	return Draw{Requested: requested}, ErrCollectionExhausted
}

// Guaranteed picks one of the unlimited COMUM items.
func (p *Pool) Guaranteed(rng *rand.Rand) model.CatalogEntry {
	return p.guaranteed[rng.IntN(len(p.guaranteed))]
}
