package mutation

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biolume-dev/biolume/internal/genome"
)

func newEngine(r Rates, seed uint64) *Engine {
	return NewEngine(r, rand.New(rand.NewPCG(seed, seed+1)))
}

func sample(execLen int) genome.Genome {
	g := genome.Genome{ExecLen: execLen}
	for i := 0; i < genome.ExecMax; i++ {
		g.Cells[i] = i % int(genome.NumInstr)
	}
	g.SetParam(genome.Led0, 10)
	g.SetParam(genome.Led1, 128)
	g.SetParam(genome.Speaker, 250)
	return g
}

func TestDefaultRates(t *testing.T) {
	r := DefaultRates()
	assert.InDelta(t, 0.1, r.Copy, 1e-12)
	assert.InDelta(t, 0.1/2.2, r.Insert, 1e-12)
	assert.InDelta(t, 0.1/2.2, r.Delete, 1e-12)
	assert.NoError(t, r.Validate())

	bad := r
	bad.Insert = 1.5
	assert.Error(t, bad.Validate())
}

func TestDeleteNeverBelowMinimum(t *testing.T) {
	e := newEngine(Rates{Delete: 1}, 1)
	for i := 0; i < 100; i++ {
		g := sample(genome.ExecMin)
		before := g
		at, ok := e.Delete(&g)
		assert.False(t, ok)
		assert.Equal(t, -1, at)
		assert.Equal(t, before, g)
	}
}

func TestDeleteShrinksLiveRegion(t *testing.T) {
	e := newEngine(Rates{Delete: 1}, 2)
	g := sample(12)
	at, ok := e.Delete(&g)
	require.True(t, ok)
	assert.Equal(t, 11, g.ExecLen)
	assert.GreaterOrEqual(t, at, 0)
	assert.Less(t, at, 12)
	assert.Equal(t, at+1, g.Cells[at])
	assert.Equal(t, 10, g.Param(genome.Led0))
	assert.Equal(t, 250, g.Param(genome.Speaker))
}

func TestInsertNeverAboveMaximum(t *testing.T) {
	e := newEngine(Rates{Insert: 1}, 3)
	g := sample(genome.ExecMax)
	before := g
	_, ok := e.Insert(&g)
	assert.False(t, ok)
	assert.Equal(t, before, g)
}

func TestInsertGrowsLiveRegion(t *testing.T) {
	e := newEngine(Rates{Insert: 1}, 4)
	g := sample(7)
	at, ok := e.Insert(&g)
	require.True(t, ok)
	assert.Equal(t, 8, g.ExecLen)
	assert.Less(t, at, 7)
	assert.True(t, genome.Opcode(g.Cells[at]).Valid())
	assert.Equal(t, at, g.Cells[at+1])
	assert.Equal(t, 128, g.Param(genome.Led1))
}

func TestPointMutateOnlyTouchesLiveRegion(t *testing.T) {
	e := newEngine(Rates{Copy: 1}, 5)
	g := sample(6)
	before := g
	n := e.PointMutate(&g)
	assert.Equal(t, 6, n)
	assert.Equal(t, before.Cells[6:], g.Cells[6:])
	for i := 0; i < 6; i++ {
		assert.True(t, genome.Opcode(g.Cells[i]).Valid())
	}
}

func TestPerturbParamsClamps(t *testing.T) {
	e := newEngine(Rates{Copy: 1, ParamScale: 1000}, 6)
	for i := 0; i < 200; i++ {
		g := sample(10)
		assert.Equal(t, 3, e.PerturbParams(&g))
		for a := genome.Actuator(0); a < genome.NumActuators; a++ {
			assert.GreaterOrEqual(t, g.Param(a), 0)
			assert.LessOrEqual(t, g.Param(a), genome.VariableMax)
		}
	}
}

func TestZeroRatesAreIdentity(t *testing.T) {
	e := newEngine(Rates{}, 7)
	g := sample(9)
	child, rep := e.Apply(g)
	assert.Equal(t, g, child)
	assert.Equal(t, Report{DeleteAt: -1, InsertAt: -1}, rep)
}

func TestApplyDoesNotModifyParent(t *testing.T) {
	e := newEngine(Rates{Copy: 1, Insert: 1, Delete: 1, ParamScale: 10}, 8)
	g := sample(10)
	before := g
	_, _ = e.Apply(g)
	assert.Equal(t, before, g)
}

func TestApplyPreservesLayoutInvariants(t *testing.T) {
	rates := Rates{Copy: 0.3, Insert: 0.5, Delete: 0.5, ParamScale: 40, ParamShift: -5}
	e := newEngine(rates, 9)
	rng := rand.New(rand.NewPCG(10, 11))
	for lineage := 0; lineage < 50; lineage++ {
		g := genome.Random(rng)
		for gen := 0; gen < 200; gen++ {
			g, _ = e.Apply(g)
			require.Len(t, g.Cells, genome.Size)
			require.GreaterOrEqual(t, g.ExecLen, genome.ExecMin)
			require.LessOrEqual(t, g.ExecLen, genome.ExecMax)
			require.NoError(t, g.Validate())
		}
	}
}
