package transport

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	"github.com/biolume-dev/biolume/internal/protocol"
)

// Listener accepts one-shot connections and hands each payload to a
// Handler on its own goroutine.
type Listener struct {
	listener    net.Listener
	framing     protocol.Framing
	budget      int
	readTimeout time.Duration
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithFraming selects the framing inbound connections use.
func WithFraming(f protocol.Framing) ListenerOption {
	return func(l *Listener) { l.framing = f }
}

// WithReadBudget sets the raw-mode byte budget per connection.
func WithReadBudget(n int) ListenerOption {
	return func(l *Listener) { l.budget = n }
}

// WithReadTimeout bounds how long a peer may take to send its payload.
func WithReadTimeout(d time.Duration) ListenerOption {
	return func(l *Listener) { l.readTimeout = d }
}

// Listen opens a TCP listener on address (e.g. ":9999"; ":0" picks a port).
func Listen(address string, opts ...ListenerOption) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	l := &Listener{listener: ln, budget: protocol.DefaultReadBudget}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Addr returns the bound address in "host:port" form.
func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}

// Close stops accepting connections.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Handlers still running when Serve returns are not waited for.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go l.handle(ctx, conn, handler)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn, handler Handler) {
	remote := conn.RemoteAddr().String()
	if l.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	}
	payload, err := protocol.ReadFrame(conn, l.framing, l.budget)
	conn.Close()
	if err != nil {
		log.Printf("WARNING: dropped connection from %s: %v", remote, err)
		return
	}
	handler(ctx, payload, remote)
}

// Inbox adapts a Handler onto a buffered channel. When the channel is full
// the payload is dropped, matching the best-effort delivery model.
func Inbox(ch chan<- []byte) Handler {
	return func(_ context.Context, payload []byte, remote string) {
		select {
		case ch <- payload:
		default:
			log.Printf("WARNING: inbox full, dropped message from %s", remote)
		}
	}
}
