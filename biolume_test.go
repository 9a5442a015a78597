package biolume

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/biolume-dev/biolume/internal/genome"
	"github.com/biolume-dev/biolume/internal/transport"
	"github.com/biolume-dev/biolume/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func writeTopology(t *testing.T, addrs ...string) string {
	t.Helper()
	content := "ip,x,y\n"
	for i, a := range addrs {
		content += fmt.Sprintf("%s,%d,0\n", a, i)
	}
	path := filepath.Join(t.TempDir(), "topology.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// reproducer returns a genome whose only live instruction is Reproduce.
func reproducer() genome.Genome {
	g := genome.Genome{ExecLen: genome.ExecMin}
	g.Cells[0] = int(genome.Reproduce)
	for i := 1; i < genome.ExecMax; i++ {
		g.Cells[i] = int(genome.Nop)
	}
	return g
}

// runAgent runs node until the test ends.
func runAgent(t *testing.T, node *AgentNode) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		done <- node.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
		}
	})
	return done
}

func TestNodes_SelfReproductionOverTCP(t *testing.T) {
	cfg := config.Default()
	cfg.Coordinator.Listen = freeAddr(t)
	cfg.Agent.Listen = "127.0.0.1:0"
	cfg.Agent.Coordinator = cfg.Coordinator.Listen
	cfg.Agent.StepInterval = config.Duration(time.Millisecond)
	cfg.Agent.UseSensors = false
	cfg.Agent.Seed = 5
	cfg.Coordinator.Seed = 5

	agentNode, err := NewAgentNode(cfg, WithGenome(reproducer()))
	require.NoError(t, err)
	cfg.Coordinator.Topology = writeTopology(t, agentNode.Addr())

	coordNode, err := NewCoordinatorNode(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Coordinator.Listen, coordNode.Addr())

	coordCtx, stopCoord := context.WithCancel(context.Background())
	defer stopCoord()
	coordDone := make(chan error, 1)
	go func() { coordDone <- coordNode.Run(coordCtx) }()

	agentDone := runAgent(t, agentNode)

	require.Eventually(t, func() bool {
		return agentNode.Organism().Status().Received > 0
	}, 5*time.Second, 10*time.Millisecond, "agent never received an offspring genome")

	require.Eventually(t, func() bool {
		return !coordNode.Coordinator().Agents()[0].Started.IsZero()
	}, 5*time.Second, 10*time.Millisecond, "coordinator never saw the started announcement")

	stopCoord()
	select {
	case err := <-coordDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}

	select {
	case err := <-agentDone:
		assert.NoError(t, err, "agent stops cleanly on quit")
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop after quit broadcast")
	}
	assert.Positive(t, coordNode.Coordinator().Census().Reproductions)
}

func TestNodes_SelfReproductionOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Transport.Kind = "redis"
	cfg.Transport.Redis.Addr = mr.Addr()
	cfg.Agent.StepInterval = config.Duration(time.Millisecond)
	cfg.Agent.UseSensors = false
	cfg.Agent.Seed = 9
	cfg.Coordinator.Seed = 9
	cfg.Coordinator.Topology = writeTopology(t, "10.0.0.1")

	agentNode, err := NewAgentNode(cfg, WithGenome(reproducer()))
	require.NoError(t, err)
	assert.Equal(t, transport.AgentMailbox(0), agentNode.Addr())

	coordNode, err := NewCoordinatorNode(cfg)
	require.NoError(t, err)
	assert.Equal(t, transport.CoordinatorMailbox, coordNode.Addr())
	assert.Equal(t, transport.AgentMailbox(0), coordNode.Coordinator().Agents()[0].Addr)

	coordCtx, stopCoord := context.WithCancel(context.Background())
	defer stopCoord()
	coordDone := make(chan error, 1)
	go func() { coordDone <- coordNode.Run(coordCtx) }()

	agentDone := runAgent(t, agentNode)

	require.Eventually(t, func() bool {
		return agentNode.Organism().Status().Received > 0
	}, 5*time.Second, 10*time.Millisecond, "agent never received an offspring genome")

	stopCoord()
	select {
	case err := <-coordDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}

	select {
	case err := <-agentDone:
		assert.NoError(t, err, "agent stops cleanly on quit")
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop after quit broadcast")
	}
	assert.Positive(t, coordNode.Coordinator().Census().Reproductions)
}

func TestNewAgentNode_WithGenome(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Listen = "127.0.0.1:0"

	node, err := NewAgentNode(cfg, WithGenome(reproducer()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.endpoint.close() })
	assert.Equal(t, reproducer(), node.Organism().Genome())

	bad := reproducer()
	bad.ExecLen = 1
	_, err = NewAgentNode(cfg, WithGenome(bad))
	assert.ErrorIs(t, err, genome.ErrInvalid)
}

func TestNewCoordinatorNode_RedisUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Kind = "redis"
	cfg.Transport.Redis.Addr = freeAddr(t)
	cfg.Coordinator.Topology = writeTopology(t, "10.0.0.1")

	_, err := NewCoordinatorNode(cfg)
	assert.Error(t, err)
}

func TestRunCoordinator_MissingTopology(t *testing.T) {
	cfg := config.Default()
	cfg.Coordinator.Topology = filepath.Join(t.TempDir(), "missing.csv")

	err := RunCoordinator(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunCoordinator_BadFraming(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Framing = "json"

	err := RunCoordinator(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunAgent_UnknownSensor(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Listen = "127.0.0.1:0"
	cfg.Agent.Sensor = "camera"

	err := RunAgent(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunAgent_StopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Listen = "127.0.0.1:0"
	cfg.Agent.Coordinator = freeAddr(t)
	cfg.Agent.StepInterval = config.Duration(5 * time.Millisecond)
	cfg.Transport.DialTimeout = config.Duration(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, RunAgent(ctx, cfg))
}

func TestNewRNG_SeedIsReproducible(t *testing.T) {
	a := NewRNG(3, 1)
	b := NewRNG(3, 1)
	c := NewRNG(3, 2)
	assert.Equal(t, a.Uint64(), b.Uint64())
	assert.NotEqual(t, NewRNG(3, 1).Uint64(), c.Uint64())
}
