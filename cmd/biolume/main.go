package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/biolume-dev/biolume"
	"github.com/biolume-dev/biolume/internal/transport"
	"github.com/biolume-dev/biolume/pkg/config"
	"github.com/biolume-dev/biolume/pkg/observability"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		kind       string
		redisAddr  string
	)

	root := &cobra.Command{
		Use:           "biolume",
		Short:         "Evolving swarm of tiny genetic programs",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			observability.SetVersion(Version)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", getEnv("BIOLUME_CONFIG", ""), "YAML configuration file")

	root.PersistentFlags().StringVar(&kind, "transport", "", "message transport: tcp or redis")
	root.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Redis address for the redis transport")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		if kind != "" {
			cfg.Transport.Kind = kind
		}
		if redisAddr != "" {
			cfg.Transport.Redis.Addr = redisAddr
		}
		return cfg, nil
	}

	root.AddCommand(
		newCoordinatorCmd(load),
		newAgentCmd(load),
		newSimulateCmd(load),
		newVersionCmd(),
	)
	return root
}

func newCoordinatorCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		topology string
		listen   string
		routing  string
		seed     uint64
		console  bool
		metrics  int
	)

	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the coordinator that mutates and routes genomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("topology") {
				cfg.Coordinator.Topology = topology
			}
			if flags.Changed("listen") {
				cfg.Coordinator.Listen = listen
			}
			if flags.Changed("routing") {
				cfg.Coordinator.Routing = routing
			}
			if flags.Changed("seed") {
				cfg.Coordinator.Seed = seed
			}
			applyMetricsFlag(cfg, flags.Changed("metrics-port"), metrics)
			if err := cfg.Validate(); err != nil {
				return err
			}

			var opts []biolume.Option
			if console {
				opts = append(opts, biolume.WithConsole())
			}
			log.Printf("Starting biolume coordinator v%s", Version)
			ctx, stop := signalContext()
			defer stop()
			return biolume.RunCoordinator(ctx, cfg, opts...)
		},
	}

	cmd.Flags().StringVarP(&topology, "topology", "t", "", "topology CSV (ip,x,y)")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address")
	cmd.Flags().StringVar(&routing, "routing", "", "offspring routing: uniform or nearest")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (0 derives one from the clock)")
	cmd.Flags().BoolVar(&console, "console", false, "attach the interactive operator console")
	cmd.Flags().IntVar(&metrics, "metrics-port", 0, "serve health and metrics on this port")
	return cmd
}

func newAgentCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		id             int
		coordinator    string
		listen         string
		seed           uint64
		disableSensors bool
		metrics        int
	)

	cmd := &cobra.Command{
		Use:   "agent [coordinator-host] [id]",
		Short: "Run one agent",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if len(args) > 0 {
				cfg.Agent.Coordinator = args[0]
			}
			if len(args) > 1 {
				if _, err := fmt.Sscanf(args[1], "%d", &cfg.Agent.ID); err != nil {
					return fmt.Errorf("invalid agent id %q", args[1])
				}
			}
			if flags.Changed("id") {
				cfg.Agent.ID = id
			}
			if flags.Changed("coordinator") {
				cfg.Agent.Coordinator = coordinator
			}
			if flags.Changed("listen") {
				cfg.Agent.Listen = listen
			}
			if flags.Changed("seed") {
				cfg.Agent.Seed = seed
			}
			if disableSensors {
				cfg.Agent.UseSensors = false
			}
			applyMetricsFlag(cfg, flags.Changed("metrics-port"), metrics)
			cfg.Agent.Coordinator = transport.HostPort(cfg.Agent.Coordinator, transport.CoordinatorPort)
			if err := cfg.Validate(); err != nil {
				return err
			}

			log.Printf("Starting biolume agent %d v%s", cfg.Agent.ID, Version)
			ctx, stop := signalContext()
			defer stop()
			return biolume.RunAgent(ctx, cfg)
		},
	}

	cmd.Flags().IntVar(&id, "id", 0, "agent id (row of the coordinator topology)")
	cmd.Flags().StringVar(&coordinator, "coordinator", "", "coordinator host or host:port")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (0 derives one from the clock)")
	cmd.Flags().BoolVar(&disableSensors, "disable-sensors", false, "never poll sensors")
	cmd.Flags().IntVar(&metrics, "metrics-port", 0, "serve health and metrics on this port")
	return cmd
}

func newSimulateCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		width, height int
		steps         int
		seed          uint64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a population in-process and print a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			sim := biolume.SimulationConfigFrom(cfg)
			flags := cmd.Flags()
			if flags.Changed("width") {
				sim.Width = width
			}
			if flags.Changed("height") {
				sim.Height = height
			}
			if flags.Changed("steps") {
				sim.Steps = steps
			}
			if flags.Changed("seed") {
				sim.Seed = seed
			}

			ctx, stop := signalContext()
			defer stop()
			report, err := biolume.Simulate(ctx, sim)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().IntVar(&width, "width", 0, "grid width")
	cmd.Flags().IntVar(&height, "height", 0, "grid height")
	cmd.Flags().IntVar(&steps, "steps", 0, "iterations to run")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (0 derives one from the clock)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "biolume %s\n", Version)
		},
	}
}

func applyMetricsFlag(cfg *config.Config, changed bool, port int) {
	if changed {
		cfg.Metrics.Enabled = port > 0
		cfg.Metrics.Port = port
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
