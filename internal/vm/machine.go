// Package vm interprets a genome one instruction at a time.
//
// A Machine never performs I/O. Instructions that need the outside world
// (reproduce, broadcast) are reported back to the caller as an Action.
package vm

import (
	"github.com/biolume-dev/biolume/internal/genome"
)

// Energy limits.
const (
	EnergyMax   = 100.0
	EnergyDecay = EnergyMax * 0.01
)

// Label sentinels.
const (
	LabelUnset = -1
	LabelEnd   = 0
)

// Action is a side effect requested by the instruction just executed.
type Action int

const (
	ActionNone Action = iota
	ActionReproduce
	ActionBroadcast
)

func (a Action) String() string {
	switch a {
	case ActionReproduce:
		return "reproduce"
	case ActionBroadcast:
		return "broadcast"
	}
	return "none"
}

// Sensors is the environment snapshot conditionals read from.
type Sensors struct {
	Motion bool
	Sound  bool
}

// Machine is the execution state of one agent.
type Machine struct {
	genome genome.Genome

	pc     int
	skip   bool
	label  int
	energy float64

	current  genome.Display
	previous genome.Display
	buffer   genome.Display
	incoming genome.Display

	sensors Sensors
}

// New returns a machine positioned at the start of g.
func New(g genome.Genome) *Machine {
	m := &Machine{}
	m.Load(g)
	return m
}

// Load replaces the genome and clears all execution state.
func (m *Machine) Load(g genome.Genome) {
	m.genome = g
	m.pc = 0
	m.skip = false
	m.label = LabelUnset
	m.energy = 0
	m.current = genome.Display{}
	m.previous = genome.Display{}
	m.buffer = genome.Display{}
	m.incoming = genome.Display{}
}

// Genome returns the loaded genome.
func (m *Machine) Genome() genome.Genome { return m.genome }

// PC returns the index of the next instruction.
func (m *Machine) PC() int { return m.pc }

// Skip reports whether the next instruction will be skipped.
func (m *Machine) Skip() bool { return m.skip }

// Label returns the recorded jump target: -1 when unset, 0 for the end of
// the executable region.
func (m *Machine) Label() int { return m.label }

// Energy returns the remaining energy.
func (m *Machine) Energy() float64 { return m.energy }

// Current returns the actuator values being displayed.
func (m *Machine) Current() genome.Display { return m.current }

// Previous returns the actuator values before the last ON instruction.
func (m *Machine) Previous() genome.Display { return m.previous }

// Buffer returns the outgoing broadcast buffer.
func (m *Machine) Buffer() genome.Display { return m.buffer }

// Incoming returns the last display received from the coordinator.
func (m *Machine) Incoming() genome.Display { return m.incoming }

// SetSensors records the snapshot used by subsequent conditionals.
func (m *Machine) SetSensors(s Sensors) { m.sensors = s }

// Receive stores a neighbour's display. It only becomes visible after the
// genome executes MessageToBuffer followed by BufferToDisplay.
func (m *Machine) Receive(d genome.Display) { m.incoming = d }

// AddEnergy adjusts energy by delta, clamped to [0, EnergyMax].
func (m *Machine) AddEnergy(delta float64) {
	m.energy += delta
	if m.energy < 0 {
		m.energy = 0
	} else if m.energy > EnergyMax {
		m.energy = EnergyMax
	}
}

// Step executes one instruction, or consumes a pending skip, then advances
// the program counter.
func (m *Machine) Step() Action {
	action := ActionNone
	if m.skip {
		m.skip = false
	} else {
		m.AddEnergy(-EnergyDecay)
		action = m.execute(m.genome.Instruction(m.pc))
	}
	m.pc = (m.pc + 1) % m.genome.ExecLen
	return action
}

func (m *Machine) execute(op genome.Opcode) Action {
	switch op {
	case genome.Led0On:
		m.on(genome.Led0)
	case genome.Led0Off:
		m.off(genome.Led0)
	case genome.Led0Toggle:
		m.toggle(genome.Led0)
	case genome.Led1On:
		m.on(genome.Led1)
	case genome.Led1Off:
		m.off(genome.Led1)
	case genome.Led1Toggle:
		m.toggle(genome.Led1)
	case genome.SoundOn:
		m.on(genome.Speaker)
	case genome.SoundOff:
		m.off(genome.Speaker)
	case genome.Jump:
		m.jump()
	case genome.Label:
		m.label = (m.pc + 1) % m.genome.ExecLen
	case genome.IfMotion:
		m.skip = !m.sensors.Motion
	case genome.IfNotMotion:
		m.skip = m.sensors.Motion
	case genome.IfSound:
		m.skip = !m.sensors.Sound
	case genome.IfNotSound:
		m.skip = m.sensors.Sound
	case genome.IfTouch, genome.IfNotTouch, genome.IfCO2, genome.IfNotCO2:
		// No touch or CO2 sensor exists yet; the next instruction always runs.
	case genome.Reproduce:
		return ActionReproduce
	case genome.Broadcast:
		return ActionBroadcast
	case genome.MessageToBuffer:
		m.buffer = m.incoming
	case genome.DisplayToBuffer:
		m.buffer = m.current
	case genome.BufferToDisplay:
		m.current = m.buffer
	}
	return ActionNone
}

func (m *Machine) on(a genome.Actuator) {
	m.previous[a] = m.current[a]
	m.current[a] = m.genome.Param(a)
}

func (m *Machine) off(a genome.Actuator) {
	m.previous[a] = m.current[a]
	m.current[a] = genome.Off
}

func (m *Machine) toggle(a genome.Actuator) {
	m.previous[a] = m.current[a]
	if m.current[a] == genome.Off {
		m.current[a] = m.genome.Param(a)
	} else {
		m.current[a] = genome.Off
	}
}

// jump moves to one before the label so the post-step increment lands on it.
func (m *Machine) jump() {
	switch m.label {
	case LabelUnset:
	case LabelEnd:
		m.pc = m.genome.ExecLen - 1
	default:
		m.pc = m.label - 1
	}
}
