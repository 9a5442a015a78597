package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/biolume-dev/biolume/internal/protocol"
	"github.com/redis/go-redis/v9"
)

// Mailbox names used when messages travel through Redis instead of TCP.
const (
	CoordinatorMailbox = "coordinator"
	DefaultRedisPrefix = "biolume:mailbox:"
)

// ErrMailboxClosed is returned after Close.
var ErrMailboxClosed = errors.New("mailbox closed")

// AgentMailbox returns the Redis mailbox name of agent id.
func AgentMailbox(id int) string {
	return "agent-" + strconv.Itoa(id)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every mailbox key (default: "biolume:mailbox:").
	Prefix string
	// MailboxSize caps each list; the oldest messages are trimmed first.
	MailboxSize int
}

// RedisMailbox carries messages through one Redis list per address. It
// keeps the fire-and-forget model: a send is a push, nothing is
// acknowledged, and a full mailbox loses its oldest entries.
type RedisMailbox struct {
	client      *redis.Client
	prefix      string
	size        int64
	pollTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

var _ Sender = (*RedisMailbox)(nil)

// NewRedisMailbox connects to Redis and verifies the connection.
func NewRedisMailbox(cfg RedisConfig) (*RedisMailbox, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisMailboxFromClient(client, cfg.Prefix, cfg.MailboxSize), nil
}

// NewRedisMailboxFromClient wraps an existing client.
func NewRedisMailboxFromClient(client *redis.Client, prefix string, size int) *RedisMailbox {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if size <= 0 {
		size = 100
	}
	return &RedisMailbox{
		client:      client,
		prefix:      prefix,
		size:        int64(size),
		pollTimeout: time.Second,
	}
}

func (m *RedisMailbox) key(addr string) string {
	return m.prefix + addr
}

func (m *RedisMailbox) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Send pushes msg onto the mailbox of addr.
func (m *RedisMailbox) Send(ctx context.Context, addr string, msg protocol.Message) error {
	if m.isClosed() {
		return ErrMailboxClosed
	}
	key := m.key(addr)
	pipe := m.client.Pipeline()
	pipe.LPush(ctx, key, protocol.Encode(msg))
	pipe.LTrim(ctx, key, 0, m.size-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push to %s: %w", addr, err)
	}
	return nil
}

// Len returns the number of queued messages for addr.
func (m *RedisMailbox) Len(ctx context.Context, addr string) (int64, error) {
	return m.client.LLen(ctx, m.key(addr)).Result()
}

// Endpoint returns the receiving side of the mailbox named addr.
func (m *RedisMailbox) Endpoint(addr string) *RedisEndpoint {
	return &RedisEndpoint{mailbox: m, addr: addr}
}

// Close releases the client.
func (m *RedisMailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.client.Close()
}

// RedisEndpoint pops the messages addressed to one mailbox.
type RedisEndpoint struct {
	mailbox *RedisMailbox
	addr    string
}

// Addr returns the mailbox name.
func (e *RedisEndpoint) Addr() string { return e.addr }

// Serve pops messages oldest first and hands each to handler until ctx is
// cancelled or the mailbox is closed.
func (e *RedisEndpoint) Serve(ctx context.Context, handler Handler) error {
	key := e.mailbox.key(e.addr)
	for ctx.Err() == nil {
		if e.mailbox.isClosed() {
			return nil
		}
		vals, err := e.mailbox.client.BRPop(ctx, e.mailbox.pollTimeout, key).Result()
		switch {
		case err == nil:
			handler(ctx, []byte(vals[1]), "redis:"+e.addr)
		case errors.Is(err, redis.Nil):
		case ctx.Err() != nil || errors.Is(err, redis.ErrClosed):
			return nil
		default:
			log.Printf("WARNING: mailbox %s receive failed: %v", e.addr, err)
			select {
			case <-ctx.Done():
			case <-time.After(e.mailbox.pollTimeout):
			}
		}
	}
	return nil
}
