// Package config loads the YAML configuration shared by the coordinator,
// agent and simulation commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigSize bounds the size of a configuration file.
const MaxConfigSize = 1 << 20

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the application configuration
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Agent       AgentConfig       `yaml:"agent"`
	Mutation    MutationConfig    `yaml:"mutation"`
	Transport   TransportConfig   `yaml:"transport"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Simulation  SimulationConfig  `yaml:"simulation"`
}

// CoordinatorConfig configures the coordinator process.
type CoordinatorConfig struct {
	Listen           string `yaml:"listen"`
	Topology         string `yaml:"topology"`
	AgentPort        int    `yaml:"agent_port"`
	Routing          string `yaml:"routing"` // uniform, nearest
	EnforceViability bool   `yaml:"enforce_viability"`
	MaxInflight      int    `yaml:"max_inflight"`
	InboxSize        int    `yaml:"inbox_size"`
	ReportSchedule   string `yaml:"report_schedule"`
	Seed             uint64 `yaml:"seed"`
}

// AgentConfig configures a single agent process.
type AgentConfig struct {
	ID           int      `yaml:"id"`
	Listen       string   `yaml:"listen"`
	Coordinator  string   `yaml:"coordinator"`
	StepInterval Duration `yaml:"step_interval"`
	UseSensors   bool     `yaml:"use_sensors"`
	Sensor       string   `yaml:"sensor"` // static, random
	InboxSize    int      `yaml:"inbox_size"`
	Seed         uint64   `yaml:"seed"`
}

// MutationConfig holds the mutation operator rates.
type MutationConfig struct {
	CopyProb   float64 `yaml:"copy_prob"`
	InsertProb float64 `yaml:"insert_prob"`
	DeleteProb float64 `yaml:"delete_prob"`
	ParamScale float64 `yaml:"param_scale"`
	ParamShift float64 `yaml:"param_shift"`
}

// TransportConfig configures message framing and dialing.
type TransportConfig struct {
	Kind        string      `yaml:"kind"`    // tcp, redis
	Framing     string      `yaml:"framing"` // raw, length
	ReadBudget  int         `yaml:"read_budget"`
	DialTimeout Duration    `yaml:"dial_timeout"`
	ReadTimeout Duration    `yaml:"read_timeout"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis mailbox transport.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
	MailboxSize int    `yaml:"mailbox_size"`
}

// MetricsConfig configures the health and metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// SimulationConfig configures an in-process population run.
type SimulationConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Steps  int `yaml:"steps"`
}

// Duration is a time.Duration that unmarshals from "2s" style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if n, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := newConfig()
	cfg.ApplyDefaults()
	return cfg
}

// deriveRate marks an insertion or deletion rate that follows copy_prob.
const deriveRate = -1

// newConfig returns the pre-parse values for fields whose zero value is
// meaningful. A mutation rate of zero disables its operator.
func newConfig() *Config {
	return &Config{
		Agent: AgentConfig{UseSensors: true},
		Mutation: MutationConfig{
			CopyProb:   0.1,
			InsertProb: deriveRate,
			DeleteProb: deriveRate,
			ParamScale: 10,
		},
		Metrics: MetricsConfig{Port: 9090},
	}
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Coordinator.Listen == "" {
		c.Coordinator.Listen = ":9999"
	}
	if c.Coordinator.Topology == "" {
		c.Coordinator.Topology = "topology.csv"
	}
	if c.Coordinator.AgentPort == 0 {
		c.Coordinator.AgentPort = 9998
	}
	if c.Coordinator.Routing == "" {
		c.Coordinator.Routing = "uniform"
	}
	if c.Coordinator.MaxInflight == 0 {
		c.Coordinator.MaxInflight = 16
	}
	if c.Coordinator.InboxSize == 0 {
		c.Coordinator.InboxSize = 100
	}

	if c.Agent.Listen == "" {
		c.Agent.Listen = ":9998"
	}
	if c.Agent.Coordinator == "" {
		c.Agent.Coordinator = "localhost:9999"
	}
	if c.Agent.StepInterval == 0 {
		c.Agent.StepInterval = Duration(2 * time.Second)
	}
	if c.Agent.Sensor == "" {
		c.Agent.Sensor = "random"
	}
	if c.Agent.InboxSize == 0 {
		c.Agent.InboxSize = 10
	}

	if c.Mutation.InsertProb == deriveRate {
		c.Mutation.InsertProb = c.Mutation.CopyProb / 2.2
	}
	if c.Mutation.DeleteProb == deriveRate {
		c.Mutation.DeleteProb = c.Mutation.CopyProb / 2.2
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = "tcp"
	}
	if c.Transport.Redis.Prefix == "" {
		c.Transport.Redis.Prefix = "biolume:mailbox:"
	}
	if c.Transport.Redis.MailboxSize == 0 {
		c.Transport.Redis.MailboxSize = 100
	}
	if c.Transport.Framing == "" {
		c.Transport.Framing = "raw"
	}
	if c.Transport.ReadBudget == 0 {
		c.Transport.ReadBudget = 1024
	}
	if c.Transport.DialTimeout == 0 {
		c.Transport.DialTimeout = Duration(5 * time.Second)
	}
	if c.Transport.ReadTimeout == 0 {
		c.Transport.ReadTimeout = Duration(10 * time.Second)
	}

	if c.Simulation.Width == 0 {
		c.Simulation.Width = 10
	}
	if c.Simulation.Height == 0 {
		c.Simulation.Height = 3
	}
	if c.Simulation.Steps == 0 {
		c.Simulation.Steps = 1000
	}
}

// ApplyEnv applies the BIOLUME_* environment variables. A seed from the
// environment only fills seeds left unset.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("BIOLUME_COORDINATOR"); v != "" {
		c.Agent.Coordinator = v
	}
	if v := os.Getenv("BIOLUME_TOPOLOGY"); v != "" {
		c.Coordinator.Topology = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" && c.Transport.Redis.Addr == "" {
		c.Transport.Redis.Addr = v
	}
	if v := os.Getenv("BIOLUME_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: BIOLUME_SEED %q is not an unsigned integer", ErrInvalidConfig, v)
		}
		if c.Coordinator.Seed == 0 {
			c.Coordinator.Seed = seed
		}
		if c.Agent.Seed == 0 {
			c.Agent.Seed = seed
		}
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Coordinator.Routing {
	case "uniform", "nearest":
	default:
		return fmt.Errorf("%w: coordinator.routing must be uniform or nearest, got %q", ErrInvalidConfig, c.Coordinator.Routing)
	}
	if c.Coordinator.AgentPort <= 0 || c.Coordinator.AgentPort > 65535 {
		return fmt.Errorf("%w: coordinator.agent_port %d out of range", ErrInvalidConfig, c.Coordinator.AgentPort)
	}
	if c.Coordinator.MaxInflight < 1 {
		return fmt.Errorf("%w: coordinator.max_inflight must be positive", ErrInvalidConfig)
	}
	if c.Agent.ID < 0 {
		return fmt.Errorf("%w: agent.id must not be negative", ErrInvalidConfig)
	}
	if c.Agent.StepInterval < 0 {
		return fmt.Errorf("%w: agent.step_interval must not be negative", ErrInvalidConfig)
	}
	switch c.Agent.Sensor {
	case "static", "random":
	default:
		return fmt.Errorf("%w: agent.sensor must be static or random, got %q", ErrInvalidConfig, c.Agent.Sensor)
	}
	for name, p := range map[string]float64{
		"copy_prob":   c.Mutation.CopyProb,
		"insert_prob": c.Mutation.InsertProb,
		"delete_prob": c.Mutation.DeleteProb,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: mutation.%s %v not in [0,1]", ErrInvalidConfig, name, p)
		}
	}
	if c.Mutation.ParamScale < 0 {
		return fmt.Errorf("%w: mutation.param_scale must not be negative", ErrInvalidConfig)
	}
	switch c.Transport.Framing {
	case "raw", "length":
	default:
		return fmt.Errorf("%w: transport.framing must be raw or length, got %q", ErrInvalidConfig, c.Transport.Framing)
	}
	switch c.Transport.Kind {
	case "tcp":
	case "redis":
		if c.Transport.Redis.Addr == "" {
			return fmt.Errorf("%w: transport.redis.addr is required for the redis transport", ErrInvalidConfig)
		}
		if c.Transport.Redis.MailboxSize < 1 {
			return fmt.Errorf("%w: transport.redis.mailbox_size must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: transport.kind must be tcp or redis, got %q", ErrInvalidConfig, c.Transport.Kind)
	}
	if c.Transport.ReadBudget < 1 {
		return fmt.Errorf("%w: transport.read_budget must be positive", ErrInvalidConfig)
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("%w: metrics.port %d out of range", ErrInvalidConfig, c.Metrics.Port)
	}
	if c.Simulation.Width < 1 || c.Simulation.Height < 1 {
		return fmt.Errorf("%w: simulation grid must be at least 1x1", ErrInvalidConfig)
	}
	if c.Simulation.Steps < 0 {
		return fmt.Errorf("%w: simulation.steps must not be negative", ErrInvalidConfig)
	}
	return nil
}

// FileReader interface for reading files (testable)
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader using os.ReadFile
type OSFileReader struct{}

func (r *OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - path is operator supplied
}

// Loader loads configuration through a FileReader.
type Loader struct {
	fileReader FileReader
}

// NewLoader creates a loader reading through fr.
func NewLoader(fr FileReader) *Loader {
	return &Loader{fileReader: fr}
}

// Load reads, parses, defaults and validates the file at path. An empty
// path yields the defaults.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := newConfig()
	if path != "" {
		data, err := l.fileReader.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if len(data) > MaxConfigSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", len(data), MaxConfigSize)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads configuration from a YAML file on disk.
func LoadConfig(path string) (*Config, error) {
	return NewLoader(&OSFileReader{}).Load(path)
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
