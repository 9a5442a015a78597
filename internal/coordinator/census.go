package coordinator

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Census summarises coordinator activity.
type Census struct {
	Registered    int
	Started       int
	Reproductions int
	Broadcasts    int
	Deliveries    int
	Failures      int
	ParseFaults   int
	Ignored       int
	// Sterile counts offspring without a Reproduce opcode.
	Sterile int

	execLenSum int
}

// MeanExecLen is the mean executable length of all offspring.
func (c Census) MeanExecLen() float64 {
	if c.Reproductions == 0 {
		return 0
	}
	return float64(c.execLenSum) / float64(c.Reproductions)
}

func (c Census) String() string {
	return fmt.Sprintf("agents=%d started=%d reproductions=%d broadcasts=%d deliveries=%d failures=%d parse_faults=%d sterile=%d mean_exec_len=%.2f",
		c.Registered, c.Started, c.Reproductions, c.Broadcasts, c.Deliveries, c.Failures, c.ParseFaults, c.Sterile, c.MeanExecLen())
}

// Reporter logs the census on a cron schedule.
type Reporter struct {
	cron *cron.Cron
}

// NewReporter schedules census logging for c. schedule accepts standard
// cron expressions and descriptors such as "@every 30s".
func NewReporter(c *Coordinator, schedule string) (*Reporter, error) {
	cr := cron.New()
	if _, err := cr.AddFunc(schedule, func() {
		log.Printf("Census: %s", c.Census())
	}); err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", schedule, err)
	}
	return &Reporter{cron: cr}, nil
}

// Start begins reporting in the background.
func (r *Reporter) Start() { r.cron.Start() }

// Stop halts reporting and waits for a running report to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}
