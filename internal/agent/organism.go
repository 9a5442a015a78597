// Package agent runs one organism: it steps the genome interpreter, polls
// sensors, and exchanges genes and display messages with the coordinator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/biolume-dev/biolume/internal/genome"
	"github.com/biolume-dev/biolume/internal/protocol"
	"github.com/biolume-dev/biolume/internal/sensor"
	"github.com/biolume-dev/biolume/internal/transport"
	"github.com/biolume-dev/biolume/internal/vm"
	"github.com/biolume-dev/biolume/pkg/observability"
	"golang.org/x/time/rate"
)

// Energy awarded per iteration for each sensor predicate that holds.
const (
	SoundAward  = 5.0
	MotionAward = 10.0
)

// ErrQuit is returned by Tick once the coordinator has told the agent to
// stop.
var ErrQuit = errors.New("quit requested by coordinator")

// Option configures an Organism.
type Option func(*Organism)

// WithSensor sets the sensor polled every iteration. Without one the agent
// never polls and its snapshot stays all-false.
func WithSensor(s sensor.Sensor) Option {
	return func(o *Organism) {
		o.sensor = s
	}
}

// WithStepInterval paces the step loop to one iteration per interval. Zero
// runs unpaced.
func WithStepInterval(d time.Duration) Option {
	return func(o *Organism) {
		if d > 0 {
			o.limiter = rate.NewLimiter(rate.Every(d), 1)
		} else {
			o.limiter = nil
		}
	}
}

// WithGenome starts the agent on g instead of a random viable genome.
func WithGenome(g genome.Genome) Option {
	return func(o *Organism) {
		o.machine.Load(g)
	}
}

// Status is a point-in-time view of an organism.
type Status struct {
	ID       int
	ExecLen  int
	PC       int
	Energy   float64
	Current  genome.Display
	Steps    uint64
	Received uint64
	LastStep time.Time
}

// Organism is one agent: a VM fed by an inbox, a sensor and a sender that
// reaches the coordinator.
type Organism struct {
	id          int
	name        string
	coordinator string
	inbox       <-chan []byte
	sender      transport.Sender
	sensor      sensor.Sensor
	limiter     *rate.Limiter

	mu       sync.Mutex
	machine  *vm.Machine
	reading  sensor.Reading
	steps    uint64
	received uint64
	lastStep time.Time
}

// New creates agent id. Payloads arriving on inbox are decoded and applied
// between steps; outbound messages go to coordinator through sender. rng
// draws the initial genome.
func New(id int, coordinator string, inbox <-chan []byte, sender transport.Sender, rng *rand.Rand, opts ...Option) *Organism {
	o := &Organism{
		id:          id,
		name:        protocol.AgentSender(id),
		coordinator: coordinator,
		inbox:       inbox,
		sender:      sender,
		machine:     vm.New(genome.Random(rng)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ID returns the agent id.
func (o *Organism) ID() int { return o.id }

// Status returns a snapshot of the agent.
func (o *Organism) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		ID:       o.id,
		ExecLen:  o.machine.Genome().ExecLen,
		PC:       o.machine.PC(),
		Energy:   o.machine.Energy(),
		Current:  o.machine.Current(),
		Steps:    o.steps,
		Received: o.received,
		LastStep: o.lastStep,
	}
}

// Genome returns the genome currently executing.
func (o *Organism) Genome() genome.Genome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.machine.Genome()
}

// LastStep returns when the agent last executed a step.
func (o *Organism) LastStep() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastStep
}

// Run announces the agent to the coordinator and steps until ctx is
// cancelled or a quit directive arrives. Both end the loop without error.
func (o *Organism) Run(ctx context.Context) error {
	log.Printf("Agent %d starting (coordinator %s)", o.id, o.coordinator)
	o.send(ctx, protocol.NewStarted(o.id))

	for {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := o.Tick(ctx); err != nil {
			if errors.Is(err, ErrQuit) {
				log.Printf("Agent %d stopping: %v", o.id, err)
				return nil
			}
			return err
		}
	}
}

// Tick runs one outer iteration: at most one inbound message, one sensor
// poll and one VM step.
func (o *Organism) Tick(ctx context.Context) error {
	select {
	case payload := <-o.inbox:
		if err := o.handle(payload); err != nil {
			return err
		}
	default:
	}

	o.poll(ctx)

	o.mu.Lock()
	action := o.machine.Step()
	o.steps++
	o.lastStep = time.Now()
	energy := o.machine.Energy()
	var out protocol.Message
	switch action {
	case vm.ActionReproduce:
		out = protocol.NewGenes(o.name, o.machine.Genome())
	case vm.ActionBroadcast:
		out = protocol.NewDisplay(o.name, o.machine.Buffer())
	}
	o.mu.Unlock()

	observability.RecordAgentStep(o.name, energy)
	if action != vm.ActionNone {
		o.send(ctx, out)
	}
	return nil
}

// handle applies one inbound payload. Malformed payloads and messages not
// sent by the coordinator are dropped.
func (o *Organism) handle(payload []byte) error {
	msg, err := protocol.Decode(payload)
	if err != nil {
		observability.RecordParseFault("agent")
		log.Printf("WARNING: agent %d discarded malformed message: %v", o.id, err)
		return nil
	}
	if !msg.FromCoordinator() {
		log.Printf("WARNING: agent %d ignored %s message from %q", o.id, msg.Type, msg.Sender)
		return nil
	}
	observability.RecordMessageReceived("agent", string(msg.Type))

	switch msg.Type {
	case protocol.TypeGenes:
		g, err := msg.Genome()
		if err != nil {
			observability.RecordParseFault("agent")
			log.Printf("WARNING: agent %d discarded genome: %v", o.id, err)
			return nil
		}
		o.mu.Lock()
		o.machine.Load(g)
		o.received++
		o.mu.Unlock()
		observability.RecordGenomeReplaced(o.name)

	case protocol.TypeDisplay:
		d, err := msg.Display()
		if err != nil {
			observability.RecordParseFault("agent")
			log.Printf("WARNING: agent %d discarded display: %v", o.id, err)
			return nil
		}
		o.mu.Lock()
		o.machine.Receive(d)
		o.mu.Unlock()

	case protocol.TypeQuit:
		return ErrQuit
	}
	return nil
}

// poll refreshes the sensor snapshot and awards energy for what it sees.
// A failed poll keeps the previous snapshot.
func (o *Organism) poll(ctx context.Context) {
	if o.sensor == nil {
		return
	}
	reading, err := o.sensor.Poll(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		log.Printf("WARNING: agent %d sensor poll failed: %v", o.id, err)
		reading = o.reading
	}
	o.reading = reading
	o.machine.SetSensors(vm.Sensors{Motion: reading.Motion, Sound: reading.Sound})
	if reading.Sound {
		o.machine.AddEnergy(SoundAward)
	}
	if reading.Motion {
		o.machine.AddEnergy(MotionAward)
	}
}

// send delivers msg to the coordinator once. Failures are logged and
// otherwise ignored.
func (o *Organism) send(ctx context.Context, msg protocol.Message) {
	err := o.sender.Send(ctx, o.coordinator, msg)
	observability.RecordSend("agent", string(msg.Type), err)
	if err != nil {
		log.Printf("WARNING: agent %d dropped %s message: %v", o.id, msg.Type, err)
	}
}

func (s Status) String() string {
	return fmt.Sprintf("agent %d: exec_len=%d pc=%d energy=%.0f display=%v steps=%d genomes=%d",
		s.ID, s.ExecLen, s.PC, s.Energy, s.Current, s.Steps, s.Received)
}
