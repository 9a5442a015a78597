// Package transport moves protocol messages between agents and the
// coordinator. Every exchange is a fresh connection carrying exactly one
// message: dial, write, close. Nothing is retried.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/biolume-dev/biolume/internal/protocol"
)

// Default ports.
const (
	CoordinatorPort = 9999
	AgentPort       = 9998
)

var (
	// ErrUnknownAddress is returned when no endpoint listens at an address.
	ErrUnknownAddress = errors.New("unknown address")

	// ErrMailboxFull is returned when an in-process mailbox cannot take
	// another message.
	ErrMailboxFull = errors.New("mailbox full")
)

// Sender delivers one message to addr.
type Sender interface {
	Send(ctx context.Context, addr string, msg protocol.Message) error
}

// Handler receives the raw payload of one inbound connection.
type Handler func(ctx context.Context, payload []byte, remote string)

// Receiver feeds inbound payloads to a Handler until ctx is cancelled.
type Receiver interface {
	Serve(ctx context.Context, handler Handler) error
	Addr() string
}

// Compile-time interface checks.
var (
	_ Sender   = (*TCPSender)(nil)
	_ Sender   = (*Network)(nil)
	_ Receiver = (*Listener)(nil)
	_ Receiver = (*RedisEndpoint)(nil)
)

// TCPSender dials a new TCP connection per message.
type TCPSender struct {
	Framing protocol.Framing
	// DialTimeout bounds connection setup. Zero leaves it to the OS and the
	// context deadline.
	DialTimeout time.Duration
}

// Send dials addr, writes msg and closes the connection.
func (s *TCPSender) Send(ctx context.Context, addr string, msg protocol.Message) error {
	d := net.Dialer{Timeout: s.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := protocol.WriteFrame(conn, s.Framing, protocol.Encode(msg)); err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}

// HostPort joins a host and port, accepting hosts that already carry a port.
func HostPort(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}
