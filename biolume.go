// Package biolume runs the processes of an evolving swarm: a coordinator
// that mutates and routes genomes, the agents that execute them, and an
// in-process simulation of both.
package biolume

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/biolume-dev/biolume/internal/agent"
	"github.com/biolume-dev/biolume/internal/console"
	"github.com/biolume-dev/biolume/internal/coordinator"
	"github.com/biolume-dev/biolume/internal/genome"
	"github.com/biolume-dev/biolume/internal/mutation"
	"github.com/biolume-dev/biolume/internal/observability"
	"github.com/biolume-dev/biolume/internal/protocol"
	"github.com/biolume-dev/biolume/internal/sensor"
	"github.com/biolume-dev/biolume/internal/transport"
	"github.com/biolume-dev/biolume/pkg/config"
	metrics "github.com/biolume-dev/biolume/pkg/observability"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds the quit broadcast and tracer flush on exit.
const ShutdownTimeout = 10 * time.Second

// Stimulus probabilities of the random sensor.
const (
	RandomMotionProb = 0.05
	RandomSoundProb  = 0.1
)

// Option configures a node.
type Option func(*options)

type options struct {
	console bool
	sender  transport.Sender
	genome  *genome.Genome
}

// WithConsole attaches the interactive operator console to a coordinator.
func WithConsole() Option {
	return func(o *options) { o.console = true }
}

// WithSender replaces the TCP sender, mainly for tests.
func WithSender(s transport.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithGenome starts an agent with g instead of a random genome.
func WithGenome(g genome.Genome) Option {
	return func(o *options) { o.genome = &g }
}

func buildOptions(cfg *config.Config, opts []Option) (options, protocol.Framing, error) {
	framing, err := protocol.ParseFraming(cfg.Transport.Framing)
	if err != nil {
		return options{}, 0, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return o, framing, nil
}

// endpoint is the transport a node receives and sends on.
type endpoint struct {
	receiver transport.Receiver
	sender   transport.Sender
	close    func() error
}

// openEndpoint binds listen for the tcp transport, or attaches to the
// Redis mailbox named mailbox for the redis transport.
func openEndpoint(cfg *config.Config, o options, framing protocol.Framing, listen, mailbox string) (*endpoint, error) {
	switch cfg.Transport.Kind {
	case "redis":
		mb, err := transport.NewRedisMailbox(transport.RedisConfig{
			Addr:        cfg.Transport.Redis.Addr,
			Password:    cfg.Transport.Redis.Password,
			DB:          cfg.Transport.Redis.DB,
			Prefix:      cfg.Transport.Redis.Prefix,
			MailboxSize: cfg.Transport.Redis.MailboxSize,
		})
		if err != nil {
			return nil, err
		}
		ep := &endpoint{receiver: mb.Endpoint(mailbox), sender: o.sender, close: mb.Close}
		if ep.sender == nil {
			ep.sender = mb
		}
		return ep, nil
	case "", "tcp":
		ln, err := transport.Listen(listen,
			transport.WithFraming(framing),
			transport.WithReadBudget(cfg.Transport.ReadBudget),
			transport.WithReadTimeout(cfg.Transport.ReadTimeout.Std()),
		)
		if err != nil {
			return nil, err
		}
		ep := &endpoint{receiver: ln, sender: o.sender, close: ln.Close}
		if ep.sender == nil {
			ep.sender = &transport.TCPSender{Framing: framing, DialTimeout: cfg.Transport.DialTimeout.Std()}
		}
		return ep, nil
	}
	return nil, fmt.Errorf("%w: unknown transport kind %q", config.ErrInvalidConfig, cfg.Transport.Kind)
}

// NewRNG returns a PCG source seeded with seed and stream. A zero seed is
// replaced by the current time.
func NewRNG(seed, stream uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, stream))
}

// MutationRates converts the mutation section of cfg.
func MutationRates(cfg config.MutationConfig) mutation.Rates {
	return mutation.Rates{
		Copy:       cfg.CopyProb,
		Insert:     cfg.InsertProb,
		Delete:     cfg.DeleteProb,
		ParamScale: cfg.ParamScale,
		ParamShift: cfg.ParamShift,
	}
}

// CoordinatorNode is a coordinator bound to its listening socket.
type CoordinatorNode struct {
	cfg         *config.Config
	opts        options
	coordinator *coordinator.Coordinator
	endpoint    *endpoint
}

// NewCoordinatorNode loads the topology named by cfg and binds the
// coordinator's listener.
func NewCoordinatorNode(cfg *config.Config, opts ...Option) (*CoordinatorNode, error) {
	o, framing, err := buildOptions(cfg, opts)
	if err != nil {
		return nil, err
	}

	reg, err := coordinator.LoadTopologyFile(cfg.Coordinator.Topology, cfg.Coordinator.AgentPort)
	if err != nil {
		return nil, err
	}
	rates := MutationRates(cfg.Mutation)
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	selector, err := coordinator.NewSelector(cfg.Coordinator.Routing)
	if err != nil {
		return nil, err
	}

	if cfg.Transport.Kind == "redis" {
		reg = reg.Rebind(transport.AgentMailbox)
	}

	ep, err := openEndpoint(cfg, o, framing, cfg.Coordinator.Listen, transport.CoordinatorMailbox)
	if err != nil {
		return nil, fmt.Errorf("coordinator listen: %w", err)
	}

	rng := NewRNG(cfg.Coordinator.Seed, 0)
	c := coordinator.New(reg, mutation.NewEngine(rates, rng), rng, ep.sender,
		coordinator.WithSelector(selector),
		coordinator.WithEnforceViability(cfg.Coordinator.EnforceViability),
		coordinator.WithMaxInflight(cfg.Coordinator.MaxInflight),
	)
	return &CoordinatorNode{cfg: cfg, opts: o, coordinator: c, endpoint: ep}, nil
}

// Addr returns the address or mailbox the coordinator receives on.
func (n *CoordinatorNode) Addr() string { return n.endpoint.receiver.Addr() }

// Coordinator returns the routing core.
func (n *CoordinatorNode) Coordinator() *coordinator.Coordinator { return n.coordinator }

// Run serves until ctx is cancelled or the operator quits, then tells every
// agent to quit.
func (n *CoordinatorNode) Run(ctx context.Context) error {
	if err := observability.InitFromEnv("coordinator"); err != nil {
		log.Printf("WARNING: failed to initialize tracing: %v", err)
	}

	health := metrics.GetHealthChecker()
	health.SetRole("coordinator")
	health.RegisterCheck(metrics.RegistryCheck(n.coordinator.Registry().Len))

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stop := context.WithCancel(gctx)
	defer stop()

	inbox := make(chan []byte, n.cfg.Coordinator.InboxSize)
	g.Go(func() error {
		return n.endpoint.receiver.Serve(serveCtx, transport.Inbox(inbox))
	})
	g.Go(func() error {
		return n.coordinator.Serve(serveCtx, inbox)
	})
	startMetricsServer(serveCtx, g, n.cfg.Metrics)

	if schedule := n.cfg.Coordinator.ReportSchedule; schedule != "" {
		reporter, err := coordinator.NewReporter(n.coordinator, schedule)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		reporter.Start()
		defer reporter.Stop()
	}

	if n.opts.console {
		// The prompt blocks on the terminal, so it is not waited for.
		go func() {
			if err := console.New(n.coordinator, stop).Run(serveCtx); err != nil {
				log.Printf("WARNING: console stopped: %v", err)
			}
		}()
	}

	log.Printf("Coordinator listening on %s", n.Addr())
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if qerr := n.coordinator.Shutdown(shutdownCtx); qerr != nil {
		log.Printf("WARNING: %v", qerr)
	}
	_ = n.endpoint.close()
	if terr := observability.Shutdown(shutdownCtx); terr != nil {
		log.Printf("WARNING: failed to shutdown tracing: %v", terr)
	}
	log.Printf("Coordinator stopped: %s", n.coordinator.Census())
	return err
}

// RunCoordinator builds and runs a coordinator from cfg.
func RunCoordinator(ctx context.Context, cfg *config.Config, opts ...Option) error {
	node, err := NewCoordinatorNode(cfg, opts...)
	if err != nil {
		return err
	}
	return node.Run(ctx)
}

// AgentNode is an agent bound to its listening socket.
type AgentNode struct {
	cfg      *config.Config
	opts     options
	endpoint *endpoint
	inbox    chan []byte
	organism *agent.Organism
}

// NewAgentNode binds the agent's listener. The organism itself is created
// with a fresh random genome.
func NewAgentNode(cfg *config.Config, opts ...Option) (*AgentNode, error) {
	o, framing, err := buildOptions(cfg, opts)
	if err != nil {
		return nil, err
	}

	rng := NewRNG(cfg.Agent.Seed, uint64(cfg.Agent.ID)+1)
	agentOpts := []agent.Option{agent.WithStepInterval(cfg.Agent.StepInterval.Std())}
	if o.genome != nil {
		if err := o.genome.Validate(); err != nil {
			return nil, err
		}
		agentOpts = append(agentOpts, agent.WithGenome(*o.genome))
	}
	if cfg.Agent.UseSensors {
		s, err := sensor.New(cfg.Agent.Sensor, rng, RandomMotionProb, RandomSoundProb)
		if err != nil {
			return nil, err
		}
		agentOpts = append(agentOpts, agent.WithSensor(s))
	}

	ep, err := openEndpoint(cfg, o, framing, cfg.Agent.Listen, transport.AgentMailbox(cfg.Agent.ID))
	if err != nil {
		return nil, fmt.Errorf("agent listen: %w", err)
	}
	coordinatorAddr := cfg.Agent.Coordinator
	if cfg.Transport.Kind == "redis" {
		coordinatorAddr = transport.CoordinatorMailbox
	}

	inbox := make(chan []byte, cfg.Agent.InboxSize)
	org := agent.New(cfg.Agent.ID, coordinatorAddr, inbox, ep.sender, rng, agentOpts...)
	return &AgentNode{cfg: cfg, opts: o, endpoint: ep, inbox: inbox, organism: org}, nil
}

// Addr returns the address or mailbox the agent receives on.
func (n *AgentNode) Addr() string { return n.endpoint.receiver.Addr() }

// Organism returns the agent's runtime.
func (n *AgentNode) Organism() *agent.Organism { return n.organism }

// Run steps the agent until ctx is cancelled or the coordinator says quit.
func (n *AgentNode) Run(ctx context.Context) error {
	if err := observability.InitFromEnv("agent"); err != nil {
		log.Printf("WARNING: failed to initialize tracing: %v", err)
	}

	health := metrics.GetHealthChecker()
	health.SetRole("agent")
	stall := 10 * n.cfg.Agent.StepInterval.Std()
	if stall < 10*time.Second {
		stall = 10 * time.Second
	}
	health.RegisterCheck(metrics.LoopCheck("step_loop", n.organism.LastStep, stall))

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		return n.endpoint.receiver.Serve(runCtx, transport.Inbox(n.inbox))
	})
	g.Go(func() error {
		defer stop()
		return n.organism.Run(runCtx)
	})
	startMetricsServer(runCtx, g, n.cfg.Metrics)

	log.Printf("Agent %d listening on %s", n.cfg.Agent.ID, n.Addr())
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	_ = n.endpoint.close()
	if terr := observability.Shutdown(shutdownCtx); terr != nil {
		log.Printf("WARNING: failed to shutdown tracing: %v", terr)
	}
	log.Printf("Agent stopped: %s", n.organism.Status())
	return err
}

// RunAgent builds and runs an agent from cfg.
func RunAgent(ctx context.Context, cfg *config.Config, opts ...Option) error {
	node, err := NewAgentNode(cfg, opts...)
	if err != nil {
		return err
	}
	return node.Run(ctx)
}

func startMetricsServer(ctx context.Context, g *errgroup.Group, cfg config.MetricsConfig) {
	if !cfg.Enabled {
		return
	}
	metrics.InitMetrics()
	srv := metrics.NewServer(cfg.Port)
	g.Go(func() error {
		log.Printf("Serving health and metrics on :%d", cfg.Port)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
