package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/taskalloc-sim/sim"
	"github.com/inference-sim/taskalloc-sim/sim/cluster"
	"github.com/inference-sim/taskalloc-sim/sim/telemetry"
	"github.com/inference-sim/taskalloc-sim/sim/trace"
)

var (
	seed         int64         // Seed for every agent's decision and work streams
	horizon      int64         // Control cycles each agent runs
	logLevel     string        // Log verbosity level
	scenarioPath string        // YAML scenario file
	numAgents    int           // Agents in the population
	numWorkers   int           // Agents run concurrently
	traceLevel   string        // Decision trace verbosity
	metricsAddr  string        // Address serving Prometheus metrics; empty disables
	metricsHold  time.Duration // Keep serving metrics this long after the run
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "taskalloc-sim",
	Short: "Simulator for stochastic task allocation in agent populations",
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario over a population of agents",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := runOptions{
			scenarioPath: scenarioPath,
			seed:         seed,
			horizon:      horizon,
			agents:       numAgents,
			workers:      numWorkers,
			traceLevel:   traceLevel,
			metricsAddr:  metricsAddr,
			metricsHold:  metricsHold,
		}
		if err := runSimulation(ctx, opts, os.Stdout, logrus.StandardLogger()); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

type runOptions struct {
	scenarioPath string
	seed         int64
	horizon      int64
	agents       int
	workers      int
	traceLevel   string
	metricsAddr  string
	metricsHold  time.Duration
}

// runSimulation loads the scenario, runs the cluster and prints metrics to out.
func runSimulation(ctx context.Context, opts runOptions, out io.Writer, log logrus.FieldLogger) error {
	if !trace.IsValidTraceLevel(opts.traceLevel) {
		return fmt.Errorf("unknown trace level %q; valid: none, decisions, all", opts.traceLevel)
	}
	scenario, err := sim.LoadScenario(opts.scenarioPath)
	if err != nil {
		return err
	}
	if err := scenario.Validate(); err != nil {
		return fmt.Errorf("invalid scenario %s: %w", opts.scenarioPath, err)
	}

	collector := telemetry.NewCollector()
	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: metricsMux(collector)}
		go func() {
			log.Infof("serving metrics on %s/metrics", opts.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server: %v", err)
			}
		}()
		defer func() {
			if opts.metricsHold > 0 {
				log.Infof("holding metrics endpoint for %s", opts.metricsHold)
				select {
				case <-time.After(opts.metricsHold):
				case <-ctx.Done():
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warnf("metrics server forced to shutdown: %v", err)
			}
		}()
	}

	log.Infof("Starting %q with %d agents, horizon=%d cycles, seed=%d", scenario.Name, opts.agents, opts.horizon, opts.seed)
	startTime := time.Now()
	cs, err := cluster.NewClusterSimulator(cluster.DeploymentConfig{
		Scenario:  scenario,
		NumAgents: opts.agents,
		Horizon:   opts.horizon,
		Seed:      opts.seed,
		Workers:   opts.workers,
		Trace:     trace.TraceConfig{Level: trace.TraceLevel(opts.traceLevel)},
	}, collector, log)
	if err != nil {
		return err
	}
	if err := cs.Run(ctx); err != nil {
		return err
	}
	log.Infof("Simulated %d agents in %s", opts.agents, time.Since(startTime))

	cs.AggregatedMetrics().Fprint(out)
	if opts.traceLevel != "" && opts.traceLevel != string(trace.TraceLevelNone) {
		printTraceSummary(out, cs.Traces())
	}
	return nil
}

func metricsMux(c *telemetry.Collector) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return mux
}

func printTraceSummary(out io.Writer, traces []*trace.DecisionTrace) {
	var draws, aborts, partitions, fatals int
	for _, dt := range traces {
		s := trace.Summarize(dt)
		draws += s.AbortDraws
		aborts += s.AbortCount
		partitions += s.PartitionCount
		fatals += s.FatalCount
	}
	fmt.Fprintln(out, "=== Decision Trace ===")
	fmt.Fprintf(out, "Abort Draws Kept     : %d\n", draws)
	fmt.Fprintf(out, "Aborts               : %d\n", aborts)
	fmt.Fprintf(out, "Partitions           : %d\n", partitions)
	fmt.Fprintf(out, "Fatal Halts          : %d\n", fatals)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for agent decision and work streams")
	runCmd.Flags().Int64Var(&horizon, "horizon", 10000, "Control cycles each agent runs")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "scenarios/foraging.yaml", "Path to the YAML scenario")
	runCmd.Flags().IntVar(&numAgents, "agents", 8, "Number of agents")
	runCmd.Flags().IntVar(&numWorkers, "workers", 0, "Agents run concurrently (0 = all)")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Decision trace level (none, decisions, all)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().DurationVar(&metricsHold, "metrics-hold", 0, "Keep the metrics endpoint up this long after the run")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
