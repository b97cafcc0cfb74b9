// Package config loads the settings of a simulation run.
//
// Settings come from, in increasing priority, the defaults, a YAML file, a
// .env file, and the environment. The command line flags are applied on top
// by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/eatisim/eatisim/control"
)

// Config is the full configuration of a run.
// All the sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Log        LogConfig        `yaml:"log"`
	Output     OutputConfig     `yaml:"output"`
}

// SimulationConfig controls the simulation driver.
type SimulationConfig struct {
	Name              string  `yaml:"name"`
	StartTime         float64 `yaml:"start_time"`
	EndTime           float64 `yaml:"end_time"`
	RunMode           string  `yaml:"run_mode"`
	StepSize          float64 `yaml:"step_size"`
	RealTimeRatio     float64 `yaml:"real_time_ratio"`
	Slice             float64 `yaml:"slice"`
	WatchInterval     float64 `yaml:"watch_interval"`
	Seed              int64   `yaml:"seed"`
	TelemetryCapacity int     `yaml:"telemetry_capacity"`
}

// MonitorConfig controls the monitoring server.
type MonitorConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Port        int     `yaml:"port"`
	OpenBrowser bool    `yaml:"open_browser"`
	LogInterval float64 `yaml:"log_interval"`
	LogLevel    string  `yaml:"log_level"`
	MaxLogs     int     `yaml:"max_logs"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// Capture is the least severe level of the log entries that are also
	// published as telemetry.
	Capture string `yaml:"capture"`
}

// OutputConfig names the files that a run leaves behind. Relative names are
// placed in Dir. An empty name disables the file.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	Results   string `yaml:"results"`
	Summary   string `yaml:"summary"`
	Recording string `yaml:"recording"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Name:              "recon-strike",
			StartTime:         0,
			EndTime:           1800,
			RunMode:           "step",
			StepSize:          1,
			RealTimeRatio:     5,
			Slice:             0.1,
			WatchInterval:     1,
			Seed:              123,
			TelemetryCapacity: 1000,
		},
		Monitor: MonitorConfig{
			Enabled:     true,
			Port:        8765,
			LogInterval: 1,
			LogLevel:    "info",
			MaxLogs:     30,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Capture: "info",
		},
		Output: OutputConfig{
			Dir:       ".",
			Results:   "detect_fire_simulation_results.json",
			Summary:   "activity_execution_summary.json",
			Recording: "activity_timeline",
		},
	}
}

// Load reads the configuration. An empty path skips the YAML file. The .env
// file is optional.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readYAML(path); err != nil {
			return nil, err
		}
	}

	dotenv, err := readDotenv(envFile)
	if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(envLookup(dotenv)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) readYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	// Typos must cause errors.
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config: %w", err)
	}

	return nil
}

func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return values, nil
}

// envLookup looks a variable up in the environment first and in the .env
// values second.
func envLookup(dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}

		v, ok := dotenv[key]

		return v, ok
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	port, found := lookup("EATISIM_WS_PORT")
	if !found {
		port, found = lookup("WS_PORT")
	}

	if found {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid websocket port %q", port)
		}

		c.Monitor.Port = n
	}

	if v, ok := lookup("EATISIM_RUN_MODE"); ok {
		c.Simulation.RunMode = v
	}

	if v, ok := lookup("EATISIM_REAL_TIME_RATIO"); ok {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid real time ratio %q", v)
		}

		c.Simulation.RealTimeRatio = ratio
	}

	if v, ok := lookup("EATISIM_END_TIME"); ok {
		end, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid end time %q", v)
		}

		c.Simulation.EndTime = end
	}

	if v, ok := lookup("EATISIM_LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	if v, ok := lookup("EATISIM_OUTPUT"); ok {
		c.Output.Dir = v
	}

	return nil
}

// Validate checks that the configuration can drive a simulation.
func (c *Config) Validate() error {
	s := c.Simulation

	if s.StartTime < 0 {
		return fmt.Errorf("start_time must not be negative, got %g", s.StartTime)
	}

	if s.EndTime <= s.StartTime {
		return fmt.Errorf("end_time %g must be after start_time %g",
			s.EndTime, s.StartTime)
	}

	if s.StepSize <= 0 {
		return fmt.Errorf("step_size must be positive, got %g", s.StepSize)
	}

	if s.Slice <= 0 {
		return fmt.Errorf("slice must be positive, got %g", s.Slice)
	}

	if s.WatchInterval <= 0 {
		return fmt.Errorf("watch_interval must be positive, got %g", s.WatchInterval)
	}

	if math.IsNaN(s.RealTimeRatio) || math.IsInf(s.RealTimeRatio, 0) {
		return fmt.Errorf("real_time_ratio must be finite, got %g", s.RealTimeRatio)
	}

	if s.TelemetryCapacity < 1 {
		return fmt.Errorf("telemetry_capacity must be at least 1, got %d",
			s.TelemetryCapacity)
	}

	if _, err := c.RunMode(); err != nil {
		return err
	}

	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Monitor.Port)
	}

	for _, level := range []string{c.Log.Level, c.Log.Capture, c.Monitor.LogLevel} {
		if _, err := logrus.ParseLevel(level); err != nil {
			return err
		}
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q; valid: text, json", c.Log.Format)
	}

	return nil
}

// RunMode returns the state that the simulation starts in.
func (c *Config) RunMode() (control.RunState, error) {
	state, err := control.ParseRunState(c.Simulation.RunMode)
	if err != nil {
		return state, err
	}

	if state == control.Stopped {
		return state, fmt.Errorf("run_mode cannot be %q", c.Simulation.RunMode)
	}

	return state, nil
}

// OutputPath places a file name in the output directory. It returns an empty
// string for an empty name.
func (c *Config) OutputPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}

	return filepath.Join(c.Output.Dir, name)
}

// Dump writes the configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(c); err != nil {
		return err
	}

	return encoder.Close()
}
