// Package sensor defines the capability agents use to observe their
// surroundings. Hardware drivers (camera motion differencing, microphone
// amplitude) live outside this module; they only need to implement Sensor.
package sensor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
)

// Reading is one snapshot of the environment.
type Reading struct {
	Motion bool
	Sound  bool
}

// Sensor is polled once per agent iteration.
type Sensor interface {
	Poll(ctx context.Context) (Reading, error)
}

// Static always reports the same reading.
type Static struct {
	Reading Reading
}

func (s Static) Poll(context.Context) (Reading, error) { return s.Reading, nil }

// Script replays a fixed sequence of readings, wrapping around at the end.
// It is safe for concurrent use.
type Script struct {
	mu       sync.Mutex
	readings []Reading
	next     int
	polls    int
}

// NewScript returns a Script over readings. An empty script always reports
// the zero reading.
func NewScript(readings ...Reading) *Script {
	return &Script{readings: readings}
}

func (s *Script) Poll(context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.polls++
	if len(s.readings) == 0 {
		return Reading{}, nil
	}
	r := s.readings[s.next]
	s.next = (s.next + 1) % len(s.readings)
	return r, nil
}

// Polls returns how many times Poll has been called.
func (s *Script) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// Random reports motion and sound independently with fixed probabilities.
// Simulations use it as a stand-in for a busy room.
type Random struct {
	mu     sync.Mutex
	rng    *rand.Rand
	motion float64
	sound  float64
}

// NewRandom returns a Random sensor drawing from rng.
func NewRandom(rng *rand.Rand, motionProb, soundProb float64) *Random {
	return &Random{rng: rng, motion: motionProb, sound: soundProb}
}

func (r *Random) Poll(context.Context) (Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Reading{
		Motion: r.rng.Float64() < r.motion,
		Sound:  r.rng.Float64() < r.sound,
	}, nil
}

// New builds a sensor by kind: "static" (always quiet) or "random".
func New(kind string, rng *rand.Rand, motionProb, soundProb float64) (Sensor, error) {
	switch kind {
	case "", "static":
		return Static{}, nil
	case "random":
		return NewRandom(rng, motionProb, soundProb), nil
	}
	return nil, fmt.Errorf("unknown sensor kind %q", kind)
}
