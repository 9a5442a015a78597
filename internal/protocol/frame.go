package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Framing selects how a payload is delimited on a stream connection.
type Framing int

const (
	// FramingRaw treats everything written before the peer closes the
	// connection as one message, up to the read budget. Legacy peers speak
	// this.
	FramingRaw Framing = iota
	// FramingLength prefixes the payload with its size as a 4-byte
	// big-endian integer.
	FramingLength
)

const (
	// DefaultReadBudget is the raw-mode byte budget per connection.
	DefaultReadBudget = 1024
	// MaxFrameSize bounds a length-prefixed payload.
	MaxFrameSize = 64 * 1024
)

func (f Framing) String() string {
	if f == FramingLength {
		return "length"
	}
	return "raw"
}

// ParseFraming converts a configuration value.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(s) {
	case "", "raw":
		return FramingRaw, nil
	case "length":
		return FramingLength, nil
	}
	return FramingRaw, fmt.Errorf("unknown framing %q", s)
}

// WriteFrame writes one payload to w.
func WriteFrame(w io.Writer, f Framing, payload []byte) error {
	if f == FramingLength {
		if len(payload) > MaxFrameSize {
			return fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, len(payload), MaxFrameSize)
		}
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
		if _, err := w.Write(prefix[:]); err != nil {
			return fmt.Errorf("write frame length: %w", err)
		}
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one payload from r. In raw mode it reads until EOF and
// fails if more than budget bytes arrive; budget <= 0 selects
// DefaultReadBudget.
func ReadFrame(r io.Reader, f Framing, budget int) ([]byte, error) {
	if budget <= 0 {
		budget = DefaultReadBudget
	}
	if f == FramingLength {
		var prefix [4]byte
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			return nil, fmt.Errorf("read frame length: %w", err)
		}
		length := binary.BigEndian.Uint32(prefix[:])
		if length > MaxFrameSize {
			return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, length, MaxFrameSize)
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
		return payload, nil
	}

	payload, err := io.ReadAll(io.LimitReader(r, int64(budget)+1))
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if len(payload) > budget {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, budget)
	}
	return payload, nil
}
