package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := NewLoader(NewMockFileReader()).Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Coordinator.Listen)
	assert.Equal(t, 9998, cfg.Coordinator.AgentPort)
	assert.Equal(t, "uniform", cfg.Coordinator.Routing)
	assert.False(t, cfg.Coordinator.EnforceViability)
	assert.Equal(t, 2*time.Second, cfg.Agent.StepInterval.Std())
	assert.True(t, cfg.Agent.UseSensors)
	assert.InDelta(t, 0.1, cfg.Mutation.CopyProb, 1e-9)
	assert.InDelta(t, 0.1/2.2, cfg.Mutation.InsertProb, 1e-9)
	assert.InDelta(t, 0.1/2.2, cfg.Mutation.DeleteProb, 1e-9)
	assert.Equal(t, "tcp", cfg.Transport.Kind)
	assert.Equal(t, "raw", cfg.Transport.Framing)
	assert.Equal(t, "biolume:mailbox:", cfg.Transport.Redis.Prefix)
	assert.Equal(t, 1024, cfg.Transport.ReadBudget)
	assert.Equal(t, 10, cfg.Simulation.Width)
	assert.Equal(t, 3, cfg.Simulation.Height)
}

func TestLoad_ValidFile(t *testing.T) {
	fr := NewMockFileReader()
	fr.AddFile("biolume.yaml", []byte(`
coordinator:
  topology: /etc/biolume/grid.csv
  routing: nearest
  enforce_viability: true
  seed: 42
agent:
  id: 3
  step_interval: 250ms
  use_sensors: false
mutation:
  copy_prob: 0.2
transport:
  framing: length
`))

	cfg, err := NewLoader(fr).Load("biolume.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/etc/biolume/grid.csv", cfg.Coordinator.Topology)
	assert.Equal(t, "nearest", cfg.Coordinator.Routing)
	assert.True(t, cfg.Coordinator.EnforceViability)
	assert.Equal(t, uint64(42), cfg.Coordinator.Seed)
	assert.Equal(t, 3, cfg.Agent.ID)
	assert.Equal(t, 250*time.Millisecond, cfg.Agent.StepInterval.Std())
	assert.False(t, cfg.Agent.UseSensors)
	assert.InDelta(t, 0.2/2.2, cfg.Mutation.InsertProb, 1e-9)
	assert.Equal(t, "length", cfg.Transport.Framing)
}

func TestLoad_RedisTransport(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	fr := NewMockFileReader()
	fr.AddFile("c.yaml", []byte(`
transport:
  kind: redis
  redis:
    addr: localhost:6379
    mailbox_size: 25
`))

	cfg, err := NewLoader(fr).Load("c.yaml")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Transport.Kind)
	assert.Equal(t, "localhost:6379", cfg.Transport.Redis.Addr)
	assert.Equal(t, 25, cfg.Transport.Redis.MailboxSize)
	assert.Equal(t, "biolume:mailbox:", cfg.Transport.Redis.Prefix)
}

func TestLoad_ZeroMutationRatesDisableOperators(t *testing.T) {
	fr := NewMockFileReader()
	fr.AddFile("c.yaml", []byte(`
mutation:
  copy_prob: 0
  insert_prob: 0
  delete_prob: 0
  param_scale: 0
`))

	cfg, err := NewLoader(fr).Load("c.yaml")
	require.NoError(t, err)
	assert.Equal(t, MutationConfig{}, cfg.Mutation)
}

func TestLoad_DerivedRatesFollowCopyProb(t *testing.T) {
	fr := NewMockFileReader()
	fr.AddFile("c.yaml", []byte("mutation:\n  copy_prob: 0.44\n  delete_prob: 0\n"))

	cfg, err := NewLoader(fr).Load("c.yaml")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, cfg.Mutation.InsertProb, 1e-9)
	assert.Zero(t, cfg.Mutation.DeleteProb)
	assert.InDelta(t, 10.0, cfg.Mutation.ParamScale, 1e-9)
}

func TestLoad_IntegerDurationIsSeconds(t *testing.T) {
	fr := NewMockFileReader()
	fr.AddFile("c.yaml", []byte("agent:\n  step_interval: 3\n"))

	cfg, err := NewLoader(fr).Load("c.yaml")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Agent.StepInterval.Std())
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "invalid yaml", content: "coordinator: [[[", wantErr: "failed to parse config"},
		{name: "bad duration", content: "agent:\n  step_interval: soon\n", wantErr: "invalid duration"},
		{name: "bad routing", content: "coordinator:\n  routing: ring\n", wantErr: "coordinator.routing"},
		{name: "bad framing", content: "transport:\n  framing: json\n", wantErr: "transport.framing"},
		{name: "probability above one", content: "mutation:\n  copy_prob: 1.5\n", wantErr: "mutation.copy_prob"},
		{name: "negative id", content: "agent:\n  id: -1\n", wantErr: "agent.id"},
		{name: "bad sensor", content: "agent:\n  sensor: camera\n", wantErr: "agent.sensor"},
		{name: "bad transport kind", content: "transport:\n  kind: udp\n", wantErr: "transport.kind"},
		{name: "redis without addr", content: "transport:\n  kind: redis\n", wantErr: "transport.redis.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := NewMockFileReader()
			fr.AddFile("c.yaml", []byte(tt.content))

			_, err := NewLoader(fr).Load("c.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ValidationErrorsWrapSentinel(t *testing.T) {
	fr := NewMockFileReader()
	fr.AddFile("c.yaml", []byte("coordinator:\n  max_inflight: -2\n"))

	_, err := NewLoader(fr).Load("c.yaml")
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestLoad_ReaderError(t *testing.T) {
	fr := NewMockFileReader()
	fr.SetError(errors.New("permission denied"))

	_, err := NewLoader(fr).Load("c.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestLoad_EnvFallbacks(t *testing.T) {
	t.Setenv("BIOLUME_COORDINATOR", "10.0.0.1:9999")
	t.Setenv("BIOLUME_TOPOLOGY", "/tmp/grid.csv")
	t.Setenv("BIOLUME_SEED", "7")

	cfg, err := NewLoader(NewMockFileReader()).Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9999", cfg.Agent.Coordinator)
	assert.Equal(t, "/tmp/grid.csv", cfg.Coordinator.Topology)
	assert.Equal(t, uint64(7), cfg.Coordinator.Seed)
	assert.Equal(t, uint64(7), cfg.Agent.Seed)
}

func TestLoad_BadSeedEnv(t *testing.T) {
	t.Setenv("BIOLUME_SEED", "-3")

	_, err := NewLoader(NewMockFileReader()).Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfig_FileSizeLimit(t *testing.T) {
	largeFile := filepath.Join(t.TempDir(), "large.yaml")
	data := strings.Repeat("x: value\n", 200000)
	require.NoError(t, os.WriteFile(largeFile, []byte(data), 0600))

	_, err := LoadConfig(largeFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadConfig_NonexistentFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := Default()
	cfg.Coordinator.Routing = "nearest"
	cfg.Agent.StepInterval = Duration(500 * time.Millisecond)

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "nearest", loaded.Coordinator.Routing)
	assert.Equal(t, 500*time.Millisecond, loaded.Agent.StepInterval.Std())
}
