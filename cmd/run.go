package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eatisim/eatisim/config"
	"github.com/eatisim/eatisim/monitoring"
	"github.com/eatisim/eatisim/scenario/strike"
	"github.com/eatisim/eatisim/sim"
	"github.com/eatisim/eatisim/simulation"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconnaissance and fire strike scenario.",
	Long: "`run` runs the scenario until the end time or until it is " +
		"stopped from the monitor. The flags override the configuration.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}

		return run(cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("mode", "", "initial run mode: step, run, or pause")
	f.Float64("ratio", 0, "simulated seconds per wall second, 0 for unpaced")
	f.Float64("end", 0, "simulated end time in seconds")
	f.Int64("seed", 0, "random seed")
	f.Int("port", 0, "monitor port, 0 for a random port")
	f.Bool("no-monitor", false, "do not start the monitor")
	f.Bool("open-browser", false, "open the monitor in the browser")
	f.String("log", "", "log level")
	f.String("log-format", "", "log format: text or json")
	f.String("output", "", "directory of the output files")
}

// applyFlags copies the flags that the user set into the configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()

	if f.Changed("mode") {
		cfg.Simulation.RunMode, _ = f.GetString("mode")
	}

	if f.Changed("ratio") {
		cfg.Simulation.RealTimeRatio, _ = f.GetFloat64("ratio")
	}

	if f.Changed("end") {
		cfg.Simulation.EndTime, _ = f.GetFloat64("end")
	}

	if f.Changed("seed") {
		cfg.Simulation.Seed, _ = f.GetInt64("seed")
	}

	if f.Changed("port") {
		cfg.Monitor.Port, _ = f.GetInt("port")
	}

	if f.Changed("no-monitor") {
		noMonitor, _ := f.GetBool("no-monitor")
		cfg.Monitor.Enabled = !noMonitor
	}

	if f.Changed("open-browser") {
		cfg.Monitor.OpenBrowser, _ = f.GetBool("open-browser")
	}

	if f.Changed("log") {
		cfg.Log.Level, _ = f.GetString("log")
	}

	if f.Changed("log-format") {
		cfg.Log.Format, _ = f.GetString("log-format")
	}

	if f.Changed("output") {
		cfg.Output.Dir, _ = f.GetString("output")
	}

	return cfg.Validate()
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, _ := logrus.ParseLevel(cfg.Log.Level)
	logger.SetLevel(level)

	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

func buildSimulation(
	cfg *config.Config,
	logger *logrus.Logger,
) (*simulation.Simulation, error) {
	c := cfg.Simulation

	mode, err := cfg.RunMode()
	if err != nil {
		return nil, err
	}

	capture, err := logrus.ParseLevel(cfg.Log.Capture)
	if err != nil {
		return nil, fmt.Errorf("log capture level: %w", err)
	}

	b := simulation.MakeBuilder().
		WithName(c.Name).
		WithStartTime(sim.VTimeInSec(c.StartTime)).
		WithEndTime(sim.VTimeInSec(c.EndTime)).
		WithStepSize(sim.VTimeInSec(c.StepSize)).
		WithSlice(sim.VTimeInSec(c.Slice)).
		WithWatchInterval(sim.VTimeInSec(c.WatchInterval)).
		WithRatio(c.RealTimeRatio).
		WithRunMode(mode).
		WithSeed(c.Seed).
		WithTelemetryCapacity(c.TelemetryCapacity).
		WithLogger(logger).
		WithLogCapture(capture)

	if path := cfg.OutputPath(cfg.Output.Recording); path != "" {
		b = b.WithRecorder(path)
	}

	return b.Build(), nil
}

func run(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return err
	}

	logger := newLogger(cfg)
	log := logger.WithField("component", "cli")

	if err := removeOldRecording(cfg, log); err != nil {
		return err
	}

	s, err := buildSimulation(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Terminate()

	strike.Install(s)

	var monitor *monitoring.Monitor
	if cfg.Monitor.Enabled {
		monitor = startMonitor(cfg, s)
		defer shutdownMonitor(monitor, log)
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErr := s.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		log.Warn("simulation interrupted")
		runErr = nil
	}

	writeOutputs(cfg, s, log)

	return runErr
}

// removeOldRecording deletes the recording of an earlier run, since the
// recorder refuses to write into an existing database.
func removeOldRecording(cfg *config.Config, log *logrus.Entry) error {
	path := cfg.OutputPath(cfg.Output.Recording)
	if path == "" {
		return nil
	}

	err := os.Remove(path + ".sqlite3")
	switch {
	case err == nil:
		log.WithField("file", path+".sqlite3").Info("replacing the old recording")
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	return nil
}

func startMonitor(cfg *config.Config, s *simulation.Simulation) *monitoring.Monitor {
	level, _ := logrus.ParseLevel(cfg.Monitor.LogLevel)
	interval := time.Duration(cfg.Monitor.LogInterval * float64(time.Second))

	m := monitoring.NewMonitor(s).
		WithPortNumber(cfg.Monitor.Port).
		WithLogPush(interval, level, cfg.Monitor.MaxLogs)

	url := m.StartServer()
	if cfg.Monitor.OpenBrowser {
		m.OpenBrowser(url)
	}

	return m
}

func shutdownMonitor(m *monitoring.Monitor, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("monitor did not shut down cleanly")
	}
}

func writeOutputs(cfg *config.Config, s *simulation.Simulation, log *logrus.Entry) {
	if path := cfg.OutputPath(cfg.Output.Results); path != "" {
		if err := s.WriteResults(path); err != nil {
			log.WithError(err).Error("failed to write the results")
		} else {
			log.WithField("file", path).Info("results written")
		}
	}

	timeline := s.Timeline()
	if timeline == nil {
		return
	}

	path := cfg.OutputPath(cfg.Output.Summary)
	if err := timeline.WriteSummary(path); err != nil {
		log.WithError(err).Error("failed to write the activity summary")
		return
	}

	if path != "" {
		log.WithField("file", path).Info("activity summary written")
	}
}
