package coordinator

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/biolume-dev/biolume/internal/transport"
)

// ErrUnknownAgent is returned when a message names an id that is not in the
// registry.
var ErrUnknownAgent = errors.New("unknown agent")

// Entry is one registered agent. The id is its row position in the
// topology.
type Entry struct {
	ID   int
	Addr string
	X, Y float64
}

// Registry maps agent ids to addresses and grid positions. It is fixed
// after construction.
type Registry struct {
	entries []Entry
}

// NewRegistry builds a registry from addrs and positions, assigning ids in
// order.
func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{entries: make([]Entry, len(entries))}
	for i, e := range entries {
		e.ID = i
		r.entries[i] = e
	}
	return r
}

// Len returns the number of registered agents.
func (r *Registry) Len() int { return len(r.entries) }

// Get returns the entry for id.
func (r *Registry) Get(id int) (Entry, error) {
	if id < 0 || id >= len(r.entries) {
		return Entry{}, fmt.Errorf("%w: %d", ErrUnknownAgent, id)
	}
	return r.entries[id], nil
}

// Entries returns a copy of all entries ordered by id.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Rebind returns a registry with the same ids and positions whose
// addresses are produced by addr.
func (r *Registry) Rebind(addr func(id int) string) *Registry {
	out := &Registry{entries: r.Entries()}
	for i := range out.entries {
		out.entries[i].Addr = addr(out.entries[i].ID)
	}
	return out
}

// LoadTopology reads "ip,x,y" rows. The first row is a header and is
// skipped, as are blank lines. Each ip is combined with agentPort unless it
// already carries a port.
func LoadTopology(rd io.Reader, agentPort int) (*Registry, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	if len(records) > 0 {
		records = records[1:]
	}

	entries := make([]Entry, 0, len(records))
	for i, rec := range records {
		row := i + 2
		if len(rec) != 3 {
			return nil, fmt.Errorf("topology row %d: want 3 fields (ip,x,y), got %d", row, len(rec))
		}
		host := strings.TrimSpace(rec[0])
		if host == "" {
			return nil, fmt.Errorf("topology row %d: empty address", row)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("topology row %d: x: %w", row, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("topology row %d: y: %w", row, err)
		}
		if !finite(x) || !finite(y) {
			return nil, fmt.Errorf("topology row %d: coordinates must be finite, got (%v, %v)", row, x, y)
		}
		entries = append(entries, Entry{Addr: transport.HostPort(host, agentPort), X: x, Y: y})
	}
	if len(entries) == 0 {
		return nil, errors.New("topology lists no agents")
	}
	return NewRegistry(entries...), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// LoadTopologyFile reads a topology from path.
func LoadTopologyFile(path string, agentPort int) (*Registry, error) {
	f, err := os.Open(path) // #nosec G304 - operator supplied topology
	if err != nil {
		return nil, fmt.Errorf("open topology: %w", err)
	}
	defer f.Close()
	return LoadTopology(f, agentPort)
}

// Grid builds a width×height registry with ids in row-major order. Each
// agent address is produced by addr.
func Grid(width, height int, addr func(id int) string) *Registry {
	entries := make([]Entry, 0, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			entries = append(entries, Entry{Addr: addr(len(entries)), X: float64(x), Y: float64(y)})
		}
	}
	return NewRegistry(entries...)
}
