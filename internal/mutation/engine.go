// Package mutation transforms a genome between generations.
//
// The coordinator applies the four operators in a fixed order: deletion,
// instruction point mutation, actuator parameter perturbation, insertion.
// Rates follow the Avida conventions the original biolume hardware used.
package mutation

import (
	"fmt"
	"math/rand/v2"

	"github.com/biolume-dev/biolume/internal/genome"
)

// Rates configures the engine.
type Rates struct {
	// Copy is the per-cell probability of a point mutation, applied to every
	// live instruction and every actuator parameter.
	Copy float64
	// Insert is the per-genome probability of an insertion.
	Insert float64
	// Delete is the per-genome probability of a deletion.
	Delete float64
	// ParamScale multiplies the standard normal draw used to perturb an
	// actuator parameter.
	ParamScale float64
	// ParamShift is added to the scaled draw before truncation. Zero keeps the
	// perturbation centred.
	ParamShift float64
}

// DefaultRates returns the rates of the original deployment.
func DefaultRates() Rates {
	copyProb := 1.0 / genome.ExecInit
	return Rates{
		Copy:       copyProb,
		Insert:     copyProb / 2.2,
		Delete:     copyProb / 2.2,
		ParamScale: 10,
	}
}

// Validate rejects probabilities outside [0, 1].
func (r Rates) Validate() error {
	for name, p := range map[string]float64{"copy": r.Copy, "insert": r.Insert, "delete": r.Delete} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s probability %v outside [0, 1]", name, p)
		}
	}
	if r.ParamScale < 0 {
		return fmt.Errorf("param scale %v is negative", r.ParamScale)
	}
	return nil
}

// Report describes what a single Apply call changed.
type Report struct {
	Deleted       bool
	DeleteAt      int
	PointMutated  int
	ParamsChanged int
	Inserted      bool
	InsertAt      int
}

// Engine applies mutation operators. It is not safe for concurrent use; the
// coordinator confines it to a single goroutine together with its random
// source.
type Engine struct {
	rates Rates
	rng   *rand.Rand
}

// NewEngine returns an engine drawing from rng.
func NewEngine(rates Rates, rng *rand.Rand) *Engine {
	return &Engine{rates: rates, rng: rng}
}

// Rates returns the configured rates.
func (e *Engine) Rates() Rates { return e.rates }

// Apply runs all four operators in order and returns the offspring. The
// input is not modified. Viability is not re-checked.
func (e *Engine) Apply(parent genome.Genome) (genome.Genome, Report) {
	g := parent
	var rep Report
	rep.DeleteAt, rep.Deleted = e.Delete(&g)
	rep.PointMutated = e.PointMutate(&g)
	rep.ParamsChanged = e.PerturbParams(&g)
	rep.InsertAt, rep.Inserted = e.Insert(&g)
	return g, rep
}

// Delete removes one random live instruction with probability Rates.Delete.
// It never shrinks the live region below genome.ExecMin.
func (e *Engine) Delete(g *genome.Genome) (int, bool) {
	if e.rng.Float64() >= e.rates.Delete || g.ExecLen <= genome.ExecMin {
		return -1, false
	}
	at := e.rng.IntN(g.ExecLen)
	g.DeleteAt(at)
	return at, true
}

// PointMutate replaces each live instruction with a random opcode with
// probability Rates.Copy. The name "copy" is historical; nothing is copied.
func (e *Engine) PointMutate(g *genome.Genome) int {
	n := 0
	for i := 0; i < g.ExecLen; i++ {
		if e.rng.Float64() < e.rates.Copy {
			g.Cells[i] = genome.RandomOpcode(e.rng)
			n++
		}
	}
	return n
}

// PerturbParams offsets each actuator parameter by a truncated Gaussian
// draw with probability Rates.Copy, clamping to [0, genome.VariableMax].
func (e *Engine) PerturbParams(g *genome.Genome) int {
	n := 0
	for a := genome.Actuator(0); a < genome.NumActuators; a++ {
		if e.rng.Float64() >= e.rates.Copy {
			continue
		}
		offset := int(e.rng.NormFloat64()*e.rates.ParamScale + e.rates.ParamShift)
		g.SetParam(a, clamp(g.Param(a)+offset, 0, genome.VariableMax))
		n++
	}
	return n
}

// Insert adds one random opcode at a random live position with probability
// Rates.Insert. It never grows the live region beyond genome.ExecMax.
func (e *Engine) Insert(g *genome.Genome) (int, bool) {
	if e.rng.Float64() >= e.rates.Insert || g.ExecLen >= genome.ExecMax {
		return -1, false
	}
	at := e.rng.IntN(g.ExecLen)
	g.InsertAt(at, genome.RandomOpcode(e.rng))
	return at, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
