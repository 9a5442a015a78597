// Package protocol implements the textual message envelope exchanged
// between agents and the coordinator.
//
// Grammar (comma separated, ASCII, no spaces):
//
//	<id>,genes,<execLen>,<cell_0>,...,<cell_22>
//	<id>,display,<value_0>,<value_1>,<value_2>
//	<id>,started
//	manager,quit
//
// Messages originating at the coordinator carry the sender "manager".
package protocol

import (
	"strconv"
	"strings"

	"github.com/biolume-dev/biolume/internal/genome"
)

// CoordinatorSender is the sender field of every coordinator message.
const CoordinatorSender = "manager"

// Type is the message type tag.
type Type string

const (
	TypeGenes   Type = "genes"
	TypeDisplay Type = "display"
	TypeQuit    Type = "quit"
	TypeStarted Type = "started"
)

// Known reports whether t is one of the defined message types.
func (t Type) Known() bool {
	switch t {
	case TypeGenes, TypeDisplay, TypeQuit, TypeStarted:
		return true
	}
	return false
}

// fieldCount is the number of integer fields each known type carries.
func (t Type) fieldCount() int {
	switch t {
	case TypeGenes:
		return 1 + genome.Size
	case TypeDisplay:
		return int(genome.NumActuators)
	}
	return 0
}

// Message is a decoded envelope.
type Message struct {
	Sender string
	Type   Type
	Fields []int
}

// NewGenes builds a genes message carrying g.
func NewGenes(sender string, g genome.Genome) Message {
	fields := make([]int, 0, 1+genome.Size)
	fields = append(fields, g.ExecLen)
	fields = append(fields, g.Cells[:]...)
	return Message{Sender: sender, Type: TypeGenes, Fields: fields}
}

// NewDisplay builds a display message carrying d.
func NewDisplay(sender string, d genome.Display) Message {
	return Message{Sender: sender, Type: TypeDisplay, Fields: append([]int(nil), d[:]...)}
}

// NewQuit builds the coordinator shutdown directive.
func NewQuit() Message {
	return Message{Sender: CoordinatorSender, Type: TypeQuit}
}

// NewStarted builds the liveness announcement of agent id.
func NewStarted(id int) Message {
	return Message{Sender: strconv.Itoa(id), Type: TypeStarted}
}

// AgentSender formats an agent id as a sender field.
func AgentSender(id int) string {
	return strconv.Itoa(id)
}

// FromCoordinator reports whether the coordinator sent m.
func (m Message) FromCoordinator() bool {
	return m.Sender == CoordinatorSender
}

// SenderID parses the sender as an agent id.
func (m Message) SenderID() (int, error) {
	id, err := strconv.Atoi(m.Sender)
	if err != nil || id < 0 {
		return 0, malformed(0, "sender %q is not an agent id", m.Sender)
	}
	return id, nil
}

// Genome extracts and validates the genome of a genes message.
func (m Message) Genome() (genome.Genome, error) {
	var g genome.Genome
	if m.Type != TypeGenes {
		return g, malformed(1, "type %q carries no genome", m.Type)
	}
	if len(m.Fields) != 1+genome.Size {
		return g, malformed(-1, "genes message has %d fields, want %d", len(m.Fields), 1+genome.Size)
	}
	g.ExecLen = m.Fields[0]
	copy(g.Cells[:], m.Fields[1:])
	if err := g.Validate(); err != nil {
		return genome.Genome{}, malformed(2, "%v", err)
	}
	return g, nil
}

// Display extracts the actuator values of a display message.
func (m Message) Display() (genome.Display, error) {
	var d genome.Display
	if m.Type != TypeDisplay {
		return d, malformed(1, "type %q carries no display", m.Type)
	}
	if len(m.Fields) != len(d) {
		return d, malformed(-1, "display message has %d fields, want %d", len(m.Fields), len(d))
	}
	copy(d[:], m.Fields)
	return d, nil
}

// WithSender returns a copy of m attributed to sender.
func (m Message) WithSender(sender string) Message {
	m.Fields = append([]int(nil), m.Fields...)
	m.Sender = sender
	return m
}

// Encode renders m in wire form.
func Encode(m Message) []byte {
	var b strings.Builder
	b.WriteString(m.Sender)
	b.WriteByte(',')
	b.WriteString(string(m.Type))
	for _, f := range m.Fields {
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(f))
	}
	return []byte(b.String())
}

// Decode parses a wire payload. Faults are reported as *ParseError. A
// message with an unrecognised type decodes without error and without
// fields so callers can ignore it.
func Decode(payload []byte) (Message, error) {
	text := strings.Trim(string(payload), " \t\r\n\x00")
	if text == "" {
		return Message{}, malformed(-1, "empty payload")
	}
	words := strings.Split(text, ",")
	if len(words) < 2 {
		return Message{}, malformed(-1, "missing type field")
	}
	m := Message{Sender: words[0], Type: Type(words[1])}
	if m.Sender == "" {
		return Message{}, malformed(0, "empty sender")
	}
	if !m.Type.Known() {
		return m, nil
	}

	raw := words[2:]
	if want := m.Type.fieldCount(); len(raw) != want {
		return Message{}, malformed(-1, "%s message has %d fields, want %d", m.Type, len(raw), want)
	}
	if len(raw) > 0 {
		m.Fields = make([]int, len(raw))
	}
	for i, w := range raw {
		v, err := strconv.Atoi(w)
		if err != nil {
			return Message{}, malformed(i+2, "%q is not an integer", w)
		}
		m.Fields[i] = v
	}
	if m.Type == TypeGenes {
		if _, err := m.Genome(); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}
