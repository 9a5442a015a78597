package protocol

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biolume-dev/biolume/internal/genome"
)

func TestGenesRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 100; i++ {
		g := genome.Random(rng)
		g.ExecLen = genome.ExecMin + rng.IntN(genome.ExecMax-genome.ExecMin+1)

		wire := Encode(NewGenes("4", g))
		msg, err := Decode(wire)
		require.NoError(t, err)
		assert.Equal(t, "4", msg.Sender)
		assert.Equal(t, TypeGenes, msg.Type)

		decoded, err := msg.Genome()
		require.NoError(t, err)
		assert.Equal(t, g, decoded)
	}
}

func TestEncodeGenesLayout(t *testing.T) {
	g := genome.Genome{ExecLen: 10}
	g.Cells[0] = int(genome.Reproduce)
	g.SetParam(genome.Speaker, 77)

	wire := string(Encode(NewGenes("3", g)))
	fields := strings.Split(wire, ",")
	require.Len(t, fields, 3+genome.Size)
	assert.Equal(t, "3", fields[0])
	assert.Equal(t, "genes", fields[1])
	assert.Equal(t, "10", fields[2])
	assert.Equal(t, "19", fields[3])
	assert.Equal(t, "77", fields[len(fields)-1])
}

func TestControlMessages(t *testing.T) {
	assert.Equal(t, "manager,quit", string(Encode(NewQuit())))
	assert.Equal(t, "7,started", string(Encode(NewStarted(7))))
	assert.Equal(t, "2,display,1,0,255", string(Encode(NewDisplay("2", genome.Display{1, 0, 255}))))

	msg, err := Decode([]byte("manager,quit"))
	require.NoError(t, err)
	assert.True(t, msg.FromCoordinator())
	assert.Equal(t, TypeQuit, msg.Type)
	assert.Empty(t, msg.Fields)
}

func TestDecodeDisplay(t *testing.T) {
	msg, err := Decode([]byte("manager,display,5,6,7\n"))
	require.NoError(t, err)
	d, err := msg.Display()
	require.NoError(t, err)
	assert.Equal(t, genome.Display{5, 6, 7}, d)
}

func TestDecodeUnknownTypeIsNotAnError(t *testing.T) {
	msg, err := Decode([]byte("3,hello,world"))
	require.NoError(t, err)
	assert.False(t, msg.Type.Known())
	assert.Nil(t, msg.Fields)
}

func TestDecodeMalformed(t *testing.T) {
	valid := string(Encode(NewGenes("1", genome.Genome{ExecLen: 5})))
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"only sender", "1"},
		{"empty sender", ",started"},
		{"non numeric cell", strings.Replace(valid, ",0,0,", ",0,x,", 1)},
		{"too few cells", strings.TrimSuffix(valid, ",0")},
		{"too many cells", valid + ",0"},
		{"exec length out of range", strings.Replace(valid, "1,genes,5,", "1,genes,21,", 1)},
		{"opcode out of range", strings.Replace(valid, "1,genes,5,0,", "1,genes,5,24,", 1)},
		{"display short", "1,display,1,2"},
		{"display non numeric", "1,display,1,2,on"},
		{"started with fields", "1,started,9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
			var pe *ParseError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestSenderID(t *testing.T) {
	id, err := Message{Sender: "12"}.SenderID()
	require.NoError(t, err)
	assert.Equal(t, 12, id)

	_, err = Message{Sender: "manager"}.SenderID()
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Message{Sender: "-1"}.SenderID()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestWithSenderCopiesFields(t *testing.T) {
	orig := NewDisplay("2", genome.Display{1, 2, 3})
	relayed := orig.WithSender(CoordinatorSender)
	relayed.Fields[0] = 99
	assert.Equal(t, 1, orig.Fields[0])
	assert.Equal(t, "2", orig.Sender)
	assert.True(t, relayed.FromCoordinator())
}

func TestParseErrorMessage(t *testing.T) {
	err := &ParseError{Field: 4, Reason: "bad"}
	assert.Equal(t, "malformed message: field 4: bad", err.Error())
	err = &ParseError{Field: -1, Reason: "short"}
	assert.Equal(t, "malformed message: short", err.Error())
}
