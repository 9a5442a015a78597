package coordinator

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Selector picks the recipient of an offspring genome. It is only called
// with registries holding more than one agent and must not return sender.
type Selector interface {
	Pick(reg *Registry, sender int, rng *rand.Rand) int
}

// Uniform picks any other agent with equal probability.
type Uniform struct{}

func (Uniform) Pick(reg *Registry, sender int, rng *rand.Rand) int {
	for {
		if id := rng.IntN(reg.Len()); id != sender {
			return id
		}
	}
}

// Nearest picks the closest other agent on the grid, breaking ties at
// random. Without comparable distances it falls back to Uniform.
type Nearest struct{}

func (Nearest) Pick(reg *Registry, sender int, rng *rand.Rand) int {
	from := reg.entries[sender]
	best := math.Inf(1)
	var candidates []int
	for _, e := range reg.entries {
		if e.ID == sender {
			continue
		}
		d := math.Hypot(e.X-from.X, e.Y-from.Y)
		switch {
		case d < best:
			best = d
			candidates = append(candidates[:0], e.ID)
		case d == best:
			candidates = append(candidates, e.ID)
		}
	}
	if len(candidates) == 0 {
		return Uniform{}.Pick(reg, sender, rng)
	}
	return candidates[rng.IntN(len(candidates))]
}

// NewSelector returns the selector registered under name.
func NewSelector(name string) (Selector, error) {
	switch name {
	case "", "uniform":
		return Uniform{}, nil
	case "nearest":
		return Nearest{}, nil
	}
	return nil, fmt.Errorf("unknown routing %q", name)
}
