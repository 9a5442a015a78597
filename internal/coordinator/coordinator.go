// Package coordinator receives reproduction and broadcast submissions from
// agents, mutates offspring genomes and routes the results.
//
// A single owner goroutine (Serve) holds the registry, random source and
// mutation engine. Deliveries fan out to a bounded pool of senders.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/biolume-dev/biolume/internal/mutation"
	"github.com/biolume-dev/biolume/internal/observability"
	"github.com/biolume-dev/biolume/internal/protocol"
	"github.com/biolume-dev/biolume/internal/transport"
	metrics "github.com/biolume-dev/biolume/pkg/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxInflight bounds concurrent outbound deliveries.
const DefaultMaxInflight = 16

// Delivery is one outbound message produced by routing.
type Delivery struct {
	ID   string
	To   int
	Addr string
	Msg  protocol.Message
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSelector sets how offspring recipients are chosen.
func WithSelector(s Selector) Option {
	return func(c *Coordinator) {
		c.selector = s
	}
}

// WithEnforceViability makes every offspring carry a Reproduce opcode. Off
// by default: lineages may evolve into non-reproducing dead ends.
func WithEnforceViability(enforce bool) Option {
	return func(c *Coordinator) {
		c.enforceViability = enforce
	}
}

// WithMaxInflight bounds concurrent deliveries.
func WithMaxInflight(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxInflight = n
		}
	}
}

// AgentInfo is a registry entry plus liveness.
type AgentInfo struct {
	Entry
	Started time.Time
	Seen    time.Time
}

// Coordinator routes agent submissions.
type Coordinator struct {
	registry         *Registry
	engine           *mutation.Engine
	rng              *rand.Rand
	sender           transport.Sender
	selector         Selector
	enforceViability bool
	maxInflight      int

	mu      sync.Mutex
	census  Census
	started map[int]time.Time
	seen    map[int]time.Time
}

// New creates a coordinator over reg. engine and rng are owned by the
// coordinator from here on.
func New(reg *Registry, engine *mutation.Engine, rng *rand.Rand, sender transport.Sender, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:    reg,
		engine:      engine,
		rng:         rng,
		sender:      sender,
		selector:    Uniform{},
		maxInflight: DefaultMaxInflight,
		started:     make(map[int]time.Time),
		seen:        make(map[int]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.enforceViability {
		log.Printf("Coordinator enforcing offspring viability")
	}
	metrics.SetRegistrySize(reg.Len())
	return c
}

// Registry returns the agent registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Route computes the deliveries for one inbound message. It must only be
// called from the goroutine that owns the coordinator.
func (c *Coordinator) Route(msg protocol.Message) ([]Delivery, error) {
	switch msg.Type {
	case protocol.TypeGenes:
		return c.routeGenes(msg)
	case protocol.TypeDisplay:
		return c.routeDisplay(msg)
	case protocol.TypeStarted:
		id, err := c.lookup(msg)
		if err != nil {
			return nil, err
		}
		c.markStarted(id)
		log.Printf("Agent %d started", id)
		return nil, nil
	}
	// Inbound quit and unknown types are ignored.
	c.mu.Lock()
	c.census.Ignored++
	c.mu.Unlock()
	return nil, nil
}

func (c *Coordinator) routeGenes(msg protocol.Message) ([]Delivery, error) {
	from, err := c.lookup(msg)
	if err != nil {
		return nil, err
	}
	parent, err := msg.Genome()
	if err != nil {
		return nil, err
	}

	child, report := c.engine.Apply(parent)
	if c.enforceViability {
		child.MakeViable(c.rng)
	}
	metrics.RecordMutation("delete", boolCount(report.Deleted))
	metrics.RecordMutation("point", report.PointMutated)
	metrics.RecordMutation("param", report.ParamsChanged)
	metrics.RecordMutation("insert", boolCount(report.Inserted))
	metrics.RecordOffspring(child.ExecLen)

	to := from
	if c.registry.Len() > 1 {
		to = c.selector.Pick(c.registry, from, c.rng)
	}

	c.mu.Lock()
	c.census.Reproductions++
	c.census.execLenSum += child.ExecLen
	if !child.HasReproduce() {
		c.census.Sterile++
	}
	c.mu.Unlock()

	return []Delivery{c.delivery(to, protocol.NewGenes(protocol.CoordinatorSender, child))}, nil
}

func (c *Coordinator) routeDisplay(msg protocol.Message) ([]Delivery, error) {
	from, err := c.lookup(msg)
	if err != nil {
		return nil, err
	}
	if _, err := msg.Display(); err != nil {
		return nil, err
	}
	out := msg.WithSender(protocol.CoordinatorSender)

	c.mu.Lock()
	c.census.Broadcasts++
	c.mu.Unlock()

	if c.registry.Len() == 1 {
		return []Delivery{c.delivery(from, out)}, nil
	}
	deliveries := make([]Delivery, 0, c.registry.Len()-1)
	for _, e := range c.registry.entries {
		if e.ID != from {
			deliveries = append(deliveries, c.delivery(e.ID, out))
		}
	}
	return deliveries, nil
}

// lookup resolves and validates the sender of msg and records that it was
// heard from.
func (c *Coordinator) lookup(msg protocol.Message) (int, error) {
	id, err := msg.SenderID()
	if err != nil {
		return 0, err
	}
	if _, err := c.registry.Get(id); err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.seen[id] = time.Now()
	c.mu.Unlock()
	return id, nil
}

func (c *Coordinator) markStarted(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started[id] = time.Now()
}

func (c *Coordinator) delivery(to int, msg protocol.Message) Delivery {
	e := c.registry.entries[to]
	return Delivery{ID: uuid.NewString(), To: to, Addr: e.Addr, Msg: msg}
}

// Serve consumes encoded payloads from inbox until ctx is cancelled or inbox
// is closed, then waits for in-flight deliveries.
func (c *Coordinator) Serve(ctx context.Context, inbox <-chan []byte) error {
	pool := new(errgroup.Group)
	pool.SetLimit(c.maxInflight)
	defer func() { _ = pool.Wait() }()

	log.Printf("Coordinator serving %d agents", c.registry.Len())
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-inbox:
			if !ok {
				return nil
			}
			c.handle(ctx, payload, func(spanCtx context.Context, d Delivery) {
				pool.Go(func() error {
					c.deliver(context.WithoutCancel(spanCtx), d)
					return nil
				})
			})
		}
	}
}

// Handle routes one encoded payload and delivers the result before
// returning. It is the synchronous form of Serve for callers that drive the
// coordinator from their own loop.
func (c *Coordinator) Handle(ctx context.Context, payload []byte) {
	c.handle(ctx, payload, func(spanCtx context.Context, d Delivery) {
		c.deliver(spanCtx, d)
	})
}

func (c *Coordinator) handle(ctx context.Context, payload []byte, dispatch func(context.Context, Delivery)) {
	start := time.Now()
	msg, err := protocol.Decode(payload)
	if err != nil {
		c.parseFault(err)
		return
	}
	metrics.RecordMessageReceived("coordinator", string(msg.Type))

	spanCtx, span := observability.StartSpan(ctx, "coordinator.route",
		attribute.String("message.type", string(msg.Type)),
		attribute.String("message.sender", msg.Sender),
	)
	deliveries, err := c.Route(msg)
	span.SetAttributes(attribute.Int("route.deliveries", len(deliveries)))
	observability.EndSpan(span, err)
	metrics.RecordRoute(string(msg.Type), time.Since(start))

	if err != nil {
		var pe *protocol.ParseError
		if errors.As(err, &pe) {
			c.parseFault(err)
			return
		}
		c.mu.Lock()
		c.census.Failures++
		c.mu.Unlock()
		log.Printf("WARNING: dropped %s message from %q: %v", msg.Type, msg.Sender, err)
		return
	}

	for _, d := range deliveries {
		dispatch(spanCtx, d)
	}
}

func (c *Coordinator) parseFault(err error) {
	metrics.RecordParseFault("coordinator")
	c.mu.Lock()
	c.census.ParseFaults++
	c.mu.Unlock()
	log.Printf("WARNING: coordinator discarded malformed message: %v", err)
}

// deliver sends d once. Failures are counted and logged, never retried.
func (c *Coordinator) deliver(ctx context.Context, d Delivery) {
	_, span := observability.StartSpan(ctx, "coordinator.deliver",
		attribute.String("delivery.id", d.ID),
		attribute.Int("delivery.to", d.To),
		attribute.String("message.type", string(d.Msg.Type)),
	)
	err := c.sender.Send(ctx, d.Addr, d.Msg)
	observability.EndSpan(span, err)
	metrics.RecordSend("coordinator", string(d.Msg.Type), err)

	c.mu.Lock()
	if err != nil {
		c.census.Failures++
	} else {
		c.census.Deliveries++
	}
	c.mu.Unlock()

	if err != nil {
		log.Printf("WARNING: delivery %s of %s to agent %d (%s) failed: %v", d.ID, d.Msg.Type, d.To, d.Addr, err)
	}
}

// Shutdown broadcasts the quit directive to every registered agent and waits
// for the sends to finish or ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	log.Printf("Coordinator shutting down, telling %d agents to quit", c.registry.Len())
	pool, gctx := errgroup.WithContext(ctx)
	pool.SetLimit(c.maxInflight)
	for _, e := range c.registry.entries {
		d := c.delivery(e.ID, protocol.NewQuit())
		pool.Go(func() error {
			c.deliver(gctx, d)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = pool.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("quit broadcast incomplete: %w", ctx.Err())
	}
}

// Agents returns every registered agent with its liveness.
func (c *Coordinator) Agents() []AgentInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	infos := make([]AgentInfo, 0, c.registry.Len())
	for _, e := range c.registry.entries {
		infos = append(infos, AgentInfo{Entry: e, Started: c.started[e.ID], Seen: c.seen[e.ID]})
	}
	return infos
}

// Census returns the routing counters so far.
func (c *Coordinator) Census() Census {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs := c.census
	cs.Registered = c.registry.Len()
	cs.Started = len(c.started)
	return cs
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
