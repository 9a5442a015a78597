package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/biolume-dev/biolume/internal/protocol"
)

// Network is an in-process transport used for simulation and tests. Each
// address owns a buffered mailbox of encoded payloads.
//
// Network is safe for concurrent use.
type Network struct {
	mu              sync.RWMutex
	mailboxes       map[string]chan []byte
	bufferSize      int
	sendTimeout     time.Duration
	messagesSent    uint64
	messagesDropped uint64
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithSendTimeout bounds how long Send waits on a full mailbox. Zero makes
// Send fail immediately with ErrMailboxFull.
func WithSendTimeout(d time.Duration) NetworkOption {
	return func(n *Network) { n.sendTimeout = d }
}

// NewNetwork creates a network whose mailboxes hold bufferSize messages.
func NewNetwork(bufferSize int, opts ...NetworkOption) *Network {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	n := &Network{
		mailboxes:   make(map[string]chan []byte),
		bufferSize:  bufferSize,
		sendTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Endpoint returns the mailbox for addr, creating it on first use.
func (n *Network) Endpoint(addr string) <-chan []byte {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.mailboxes[addr]
	if !ok {
		ch = make(chan []byte, n.bufferSize)
		n.mailboxes[addr] = ch
	}
	return ch
}

// Send encodes msg and places it in the mailbox for addr.
func (n *Network) Send(ctx context.Context, addr string, msg protocol.Message) error {
	n.mu.RLock()
	ch, ok := n.mailboxes[addr]
	n.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
	}

	// Warn if mailbox is >80% full
	if utilization := len(ch) * 100 / cap(ch); utilization > 80 {
		log.Printf("WARNING: mailbox %s is %d%% full (%d/%d messages)", addr, utilization, len(ch), cap(ch))
	}

	payload := protocol.Encode(msg)
	if n.sendTimeout == 0 {
		select {
		case ch <- payload:
			atomic.AddUint64(&n.messagesSent, 1)
			return nil
		default:
			atomic.AddUint64(&n.messagesDropped, 1)
			return fmt.Errorf("%w: %s", ErrMailboxFull, addr)
		}
	}

	select {
	case ch <- payload:
		atomic.AddUint64(&n.messagesSent, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(n.sendTimeout):
		atomic.AddUint64(&n.messagesDropped, 1)
		return fmt.Errorf("%w: timed out sending to %s", ErrMailboxFull, addr)
	}
}

// MessagesSent returns the number of messages delivered so far.
func (n *Network) MessagesSent() uint64 {
	return atomic.LoadUint64(&n.messagesSent)
}

// MessagesDropped returns the number of messages rejected by full mailboxes.
func (n *Network) MessagesDropped() uint64 {
	return atomic.LoadUint64(&n.messagesDropped)
}

// Pending returns the number of undelivered messages queued for addr.
func (n *Network) Pending(addr string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.mailboxes[addr])
}
