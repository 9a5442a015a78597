// Package genome defines the fixed-layout genetic program carried by every
// agent: an instruction region followed by a block of actuator parameters.
//
// Opcode and Actuator discriminants are part of the wire protocol. Peers
// exchange genomes as plain integers, so the numeric values below must never
// be reordered.
package genome

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// Genome layout limits.
const (
	// ExecMax is the size of the instruction region.
	ExecMax = 20
	// ExecMin is the smallest executable length a genome may shrink to.
	ExecMin = 5
	// ExecInit is the executable length of a freshly created genome.
	ExecInit = 10
	// Size is the total cell count: instruction region plus actuator block.
	Size = ExecMax + int(NumActuators)
	// VariableMax is the upper bound (inclusive) of an actuator parameter.
	VariableMax = 256
	// Off is the actuator value meaning "switched off".
	Off = 0
)

// Opcode is a single instruction cell value.
type Opcode int

const (
	Nop Opcode = iota
	Led0On
	Led0Off
	Led0Toggle
	Led1On
	Led1Off
	Led1Toggle
	SoundOn
	SoundOff
	Jump
	Label
	IfMotion
	IfNotMotion
	IfSound
	IfNotSound
	IfTouch
	IfNotTouch
	IfCO2
	IfNotCO2
	Reproduce
	Broadcast
	MessageToBuffer
	DisplayToBuffer
	BufferToDisplay

	// NumInstr is the number of defined opcodes; not itself an instruction.
	NumInstr
)

var opcodeNames = [NumInstr]string{
	"nop", "led0_on", "led0_off", "led0_toggle", "led1_on", "led1_off", "led1_toggle",
	"sound_on", "sound_off", "jump", "label", "if_motion", "if_n_motion", "if_sound",
	"if_n_sound", "if_touch", "if_n_touch", "if_co2", "if_n_co2", "reproduce",
	"broadcast", "mess_to_buff", "dis_to_buff", "buff_to_dis",
}

// Valid reports whether op is a defined instruction.
func (op Opcode) Valid() bool { return op >= 0 && op < NumInstr }

func (op Opcode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("opcode(%d)", int(op))
	}
	return opcodeNames[op]
}

// Actuator indexes the actuator block and every display snapshot.
type Actuator int

const (
	Led0 Actuator = iota
	Led1
	Speaker

	// NumActuators is the number of actuators; not itself an actuator.
	NumActuators
)

func (a Actuator) String() string {
	switch a {
	case Led0:
		return "led0"
	case Led1:
		return "led1"
	case Speaker:
		return "speaker"
	}
	return fmt.Sprintf("actuator(%d)", int(a))
}

// Display holds one value per actuator.
type Display [NumActuators]int

// ErrInvalid is returned (wrapped) by Validate.
var ErrInvalid = errors.New("invalid genome")

// Genome is an instruction region plus actuator parameters. Cells in
// [ExecLen, ExecMax) are dormant: they are never executed but travel with
// the genome and can be revived by an insertion.
type Genome struct {
	ExecLen int
	Cells   [Size]int
}

// Instruction returns the opcode stored at index i of the instruction region.
func (g *Genome) Instruction(i int) Opcode { return Opcode(g.Cells[i]) }

// Param returns the parameter cell of actuator a.
func (g *Genome) Param(a Actuator) int { return g.Cells[ExecMax+int(a)] }

// SetParam writes the parameter cell of actuator a.
func (g *Genome) SetParam(a Actuator, v int) { g.Cells[ExecMax+int(a)] = v }

// Executable returns a copy of the live instruction region.
func (g *Genome) Executable() []Opcode {
	ops := make([]Opcode, g.ExecLen)
	for i := range ops {
		ops[i] = Opcode(g.Cells[i])
	}
	return ops
}

// HasReproduce reports whether the live region contains a Reproduce opcode.
func (g *Genome) HasReproduce() bool {
	for i := 0; i < g.ExecLen; i++ {
		if Opcode(g.Cells[i]) == Reproduce {
			return true
		}
	}
	return false
}

// Validate checks the layout invariants. Dormant cells are checked too since
// an insertion can expose them.
func (g *Genome) Validate() error {
	if g.ExecLen < ExecMin || g.ExecLen > ExecMax {
		return fmt.Errorf("%w: executable length %d outside [%d, %d]", ErrInvalid, g.ExecLen, ExecMin, ExecMax)
	}
	for i := 0; i < ExecMax; i++ {
		if !Opcode(g.Cells[i]).Valid() {
			return fmt.Errorf("%w: cell %d holds opcode %d", ErrInvalid, i, g.Cells[i])
		}
	}
	for a := Actuator(0); a < NumActuators; a++ {
		if v := g.Param(a); v < 0 || v > VariableMax {
			return fmt.Errorf("%w: %s parameter %d outside [0, %d]", ErrInvalid, a, v, VariableMax)
		}
	}
	return nil
}

// Random creates a genome with every instruction cell drawn uniformly, random
// actuator parameters and the initial executable length, then makes it
// viable.
func Random(rng *rand.Rand) Genome {
	g := Genome{ExecLen: ExecInit}
	for i := 0; i < ExecMax; i++ {
		g.Cells[i] = RandomOpcode(rng)
	}
	for a := Actuator(0); a < NumActuators; a++ {
		g.SetParam(a, rng.IntN(VariableMax))
	}
	g.MakeViable(rng)
	return g
}

// RandomOpcode draws a uniformly distributed opcode value.
func RandomOpcode(rng *rand.Rand) int {
	return rng.IntN(int(NumInstr))
}

// MakeViable guarantees a Reproduce opcode in the live region. It inserts one
// at a random position when there is room, otherwise overwrites a random
// cell. A genome that is already viable is left untouched.
func (g *Genome) MakeViable(rng *rand.Rand) {
	if g.HasReproduce() {
		return
	}
	at := rng.IntN(g.ExecLen)
	if g.ExecLen < ExecMax {
		g.InsertAt(at, int(Reproduce))
		return
	}
	g.Cells[at] = int(Reproduce)
}

// InsertAt places op at index i of the instruction region and grows the live
// region by one. Cells from i onward shift right and the last instruction
// cell falls off; the actuator block does not move. Callers must ensure
// ExecLen < ExecMax and 0 <= i <= ExecLen.
func (g *Genome) InsertAt(i, op int) {
	copy(g.Cells[i+1:ExecMax], g.Cells[i:ExecMax-1])
	g.Cells[i] = op
	g.ExecLen++
}

// DeleteAt removes index i of the instruction region and shrinks the live
// region by one. Cells after i shift left and the last instruction cell is
// duplicated into the gap so the total length is unchanged. Callers must
// ensure ExecLen > ExecMin and 0 <= i < ExecLen.
func (g *Genome) DeleteAt(i int) {
	copy(g.Cells[i:ExecMax-1], g.Cells[i+1:ExecMax])
	g.ExecLen--
}
