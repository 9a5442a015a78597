package sensor

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptCycles(t *testing.T) {
	s := NewScript(Reading{Motion: true}, Reading{Sound: true})
	ctx := context.Background()

	want := []Reading{{Motion: true}, {Sound: true}, {Motion: true}}
	for _, w := range want {
		r, err := s.Poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, w, r)
	}
	assert.Equal(t, 3, s.Polls())
}

func TestEmptyScript(t *testing.T) {
	r, err := NewScript().Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Reading{}, r)
}

func TestRandomExtremes(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	always := NewRandom(rng, 1, 1)
	never := NewRandom(rng, 0, 0)
	for i := 0; i < 50; i++ {
		r, _ := always.Poll(context.Background())
		assert.Equal(t, Reading{Motion: true, Sound: true}, r)
		r, _ = never.Poll(context.Background())
		assert.Equal(t, Reading{}, r)
	}
}

func TestNew(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))

	s, err := New("", rng, 0, 0)
	require.NoError(t, err)
	assert.IsType(t, Static{}, s)

	s, err = New("random", rng, 0.5, 0.5)
	require.NoError(t, err)
	assert.IsType(t, &Random{}, s)

	_, err = New("camera", rng, 0, 0)
	assert.Error(t, err)
}
