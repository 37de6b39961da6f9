package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/inference-sim/simkernel/monitoring"
	"github.com/inference-sim/simkernel/sim"
	"github.com/inference-sim/simkernel/sim/experiment"
	"github.com/inference-sim/simkernel/sim/tracing"
)

// Environment variables read from the process environment or a .env file.
const (
	envConfig = "SIMKERNEL_CONFIG"
	envLog    = "SIMKERNEL_LOG"
)

var (
	configPath   string // Experiment YAML file
	seed         int64  // Overrides the experiment seed
	replications int    // Overrides the replication count
	endTime      int64  // Overrides the replication end time (in ticks)
	logLevel     string // Log verbosity level
	traceDB      string // SQLite file for the dispatch trace
	monitorOn    bool   // Serve the HTTP monitor during the run
	monitorPort  int    // Port of the HTTP monitor
	openBrowser  bool   // Open the monitor in a browser
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "simkernel",
	Short: "Discrete-event simulation kernel with interpreted processes",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		if !cmd.Flags().Changed("log") {
			if v := os.Getenv(envLog); v != "" {
				logLevel = v
			}
		}
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)

		if !cmd.Flags().Changed("config") {
			if v := os.Getenv(envConfig); v != "" {
				configPath = v
			}
		}
		return nil
	},
	SilenceUsage: true,
}

// runCmd executes the experiment described by --config and the override flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bank experiment",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		_, err = runExperiment(ctx, cfg, cmd.OutOrStdout())
		return err
	},
}

// validateCmd parses and validates an experiment file without running it
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an experiment file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d replications of [%d, %d] (warm-up %d), seed %d\n",
			cfg.Name, cfg.Replications, cfg.StartTime, cfg.EndTime, cfg.WarmupTime, cfg.Seed)
		return nil
	},
}

// loadConfig reads --config (or the defaults) and applies the flags the user
// set explicitly.
func loadConfig(cmd *cobra.Command) (*ExperimentConfig, error) {
	var cfg *ExperimentConfig
	if configPath != "" {
		loaded, err := LoadExperimentConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := DefaultExperimentConfig()
		cfg = &def
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("replications") {
		cfg.Replications = replications
	}
	if flags.Changed("end-time") {
		cfg.EndTime = endTime
	}
	if flags.Changed("trace-db") {
		cfg.Trace.SQLite = traceDB
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runExperiment runs cfg, prints one summary line per replication to out and
// returns the replication statistics by name.
func runExperiment(ctx context.Context, cfg *ExperimentConfig, out io.Writer) (map[string]BankStats, error) {
	exp := cfg.Experiment()
	report := newBankReport(cfg.Model)
	exp.AddListener(report)

	if cfg.Trace.SQLite != "" {
		recorder, err := tracing.NewSQLiteRecorder(cfg.Trace.SQLite)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				logrus.Errorf("closing trace %s: %v", recorder.Path(), err)
			}
		}()
		tracer := tracing.NewTracer(recorder, "")
		exp.OnSimulator(tracer.Attach)
		logrus.Infof("tracing run %s to %s", tracer.Run(), recorder.Path())
	}

	if monitorOn {
		monitor := monitoring.NewMonitor()
		if monitorPort != 0 {
			monitor = monitor.WithPortNumber(monitorPort)
		}
		exp.OnSimulator(monitor.RegisterSimulator)
		url, err := monitor.StartServer()
		if err != nil {
			return nil, err
		}
		if openBrowser {
			if err := browser.OpenURL(url + "/api/simulators"); err != nil {
				logrus.Warnf("opening browser: %v", err)
			}
		}
	}

	results, runErr := exp.Run(ctx, report.Factory)

	stats := make(map[string]BankStats, len(results))
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REPLICATION\tEND\tEVENTS\tARRIVED\tSERVED\tRENEGED\tAVG WAIT\tSTATUS")
	for _, res := range results {
		st, _ := report.Stats(res.Name)
		stats[res.Name] = st
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%.2f\t%s\n",
			res.Name, res.EndTime, res.Dispatched, st.Arrived, st.Served, st.Reneged, st.AvgWait(), status(res))
	}
	if err := tw.Flush(); err != nil {
		return stats, err
	}
	return stats, runErr
}

func status(res experiment.Result) string {
	switch {
	case res.Err != nil:
		return "failed: " + res.Err.Error()
	case res.Ended:
		return "ended"
	}
	return "stopped"
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Experiment YAML file (default $"+envConfig+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 42, "Seed of the experiment, overrides the file")
	rootCmd.PersistentFlags().IntVar(&replications, "replications", 1, "Number of replications, overrides the file")
	rootCmd.PersistentFlags().Int64Var(&endTime, "end-time", int64(sim.MaxTime), "Replication end time (in ticks), overrides the file")

	runCmd.Flags().StringVar(&traceDB, "trace-db", "", "SQLite file to record dispatched events in")
	runCmd.Flags().BoolVar(&monitorOn, "monitor", false, "Serve the HTTP monitor while running")
	runCmd.Flags().IntVar(&monitorPort, "monitor-port", 0, "Port of the HTTP monitor (random when below 1000)")
	runCmd.Flags().BoolVar(&openBrowser, "open-browser", false, "Open the monitor in a browser")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
