package biolume

import (
	"context"
	"fmt"
	"strings"

	"github.com/biolume-dev/biolume/internal/agent"
	"github.com/biolume-dev/biolume/internal/coordinator"
	"github.com/biolume-dev/biolume/internal/mutation"
	"github.com/biolume-dev/biolume/internal/sensor"
	"github.com/biolume-dev/biolume/internal/transport"
	"github.com/biolume-dev/biolume/pkg/config"
)

const simCoordinatorAddr = "coordinator"

// SimulationConfig describes an in-process population run.
type SimulationConfig struct {
	Width, Height int
	Steps         int
	Seed          uint64
	Rates         mutation.Rates
	Routing       string

	EnforceViability bool
	UseSensors       bool
	// MailboxSize bounds each agent's inbox. Messages to a full inbox are
	// dropped.
	MailboxSize int
}

// SimulationConfigFrom builds a run description from application config.
func SimulationConfigFrom(cfg *config.Config) SimulationConfig {
	return SimulationConfig{
		Width:            cfg.Simulation.Width,
		Height:           cfg.Simulation.Height,
		Steps:            cfg.Simulation.Steps,
		Seed:             cfg.Coordinator.Seed,
		Rates:            MutationRates(cfg.Mutation),
		Routing:          cfg.Coordinator.Routing,
		EnforceViability: cfg.Coordinator.EnforceViability,
		UseSensors:       cfg.Agent.UseSensors,
		MailboxSize:      cfg.Agent.InboxSize,
	}
}

// SimulationReport summarises a finished run.
type SimulationReport struct {
	Agents    int
	Steps     int
	Census    coordinator.Census
	Delivered uint64
	Dropped   uint64
	// ExecLens holds each agent's final executable length, by id.
	ExecLens []int
	// Viable counts agents whose final genome can still reproduce.
	Viable int
}

// MeanExecLen is the mean final executable length.
func (r *SimulationReport) MeanExecLen() float64 {
	if len(r.ExecLens) == 0 {
		return 0
	}
	sum := 0
	for _, n := range r.ExecLens {
		sum += n
	}
	return float64(sum) / float64(len(r.ExecLens))
}

func (r *SimulationReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "agents:        %d\n", r.Agents)
	fmt.Fprintf(&b, "steps:         %d\n", r.Steps)
	fmt.Fprintf(&b, "reproductions: %d\n", r.Census.Reproductions)
	fmt.Fprintf(&b, "broadcasts:    %d\n", r.Census.Broadcasts)
	fmt.Fprintf(&b, "delivered:     %d\n", r.Delivered)
	fmt.Fprintf(&b, "dropped:       %d\n", r.Dropped)
	fmt.Fprintf(&b, "viable:        %d/%d\n", r.Viable, r.Agents)
	fmt.Fprintf(&b, "mean exec len: %.2f\n", r.MeanExecLen())
	return b.String()
}

// Simulate runs a grid of agents and a coordinator over an in-memory
// network. Every step ticks each agent once in id order and then drains the
// coordinator's mailbox, so a run is fully determined by its seed.
func Simulate(ctx context.Context, cfg SimulationConfig) (*SimulationReport, error) {
	if cfg.Width < 1 || cfg.Height < 1 {
		return nil, fmt.Errorf("simulation grid %dx%d is empty", cfg.Width, cfg.Height)
	}
	if err := cfg.Rates.Validate(); err != nil {
		return nil, err
	}
	selector, err := coordinator.NewSelector(cfg.Routing)
	if err != nil {
		return nil, err
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 10
	}

	agentAddr := func(id int) string { return fmt.Sprintf("agent-%d", id) }
	reg := coordinator.Grid(cfg.Width, cfg.Height, agentAddr)

	network := transport.NewNetwork(cfg.MailboxSize, transport.WithSendTimeout(0))
	// The coordinator drains its mailbox every step, so it holds at most one
	// message per agent.
	coordNet := transport.NewNetwork(reg.Len()+1, transport.WithSendTimeout(0))
	coordInbox := coordNet.Endpoint(simCoordinatorAddr)

	rng := NewRNG(cfg.Seed, 0)
	coord := coordinator.New(reg, mutation.NewEngine(cfg.Rates, rng), rng, network,
		coordinator.WithSelector(selector),
		coordinator.WithEnforceViability(cfg.EnforceViability),
	)

	organisms := make([]*agent.Organism, reg.Len())
	for _, e := range reg.Entries() {
		arng := NewRNG(cfg.Seed, uint64(e.ID)+1)
		var opts []agent.Option
		if cfg.UseSensors {
			opts = append(opts, agent.WithSensor(sensor.NewRandom(arng, RandomMotionProb, RandomSoundProb)))
		}
		organisms[e.ID] = agent.New(e.ID, simCoordinatorAddr, network.Endpoint(e.Addr), coordNet, arng, opts...)
	}

	report := &SimulationReport{Agents: reg.Len()}
	for step := 0; step < cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, o := range organisms {
			if err := o.Tick(ctx); err != nil {
				return nil, fmt.Errorf("agent %d: %w", o.ID(), err)
			}
		}
	drain:
		for {
			select {
			case payload := <-coordInbox:
				coord.Handle(ctx, payload)
			default:
				break drain
			}
		}
		report.Steps++
	}

	report.Census = coord.Census()
	report.Delivered = network.MessagesSent()
	report.Dropped = network.MessagesDropped() + coordNet.MessagesDropped()
	report.ExecLens = make([]int, len(organisms))
	for i, o := range organisms {
		g := o.Genome()
		report.ExecLens[i] = g.ExecLen
		if g.HasReproduce() {
			report.Viable++
		}
	}
	return report, nil
}
