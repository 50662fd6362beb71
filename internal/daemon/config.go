// Package daemon manages the dataflow runtime lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tutu-network/dataflow/internal/infra/scheduler"
)

// Config holds all daemon configuration.
type Config struct {
	Scheduler SchedulerConfig `toml:"scheduler"`
	API       APIConfig       `toml:"api"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Health    HealthConfig    `toml:"health"`
	Logging   LoggingConfig   `toml:"logging"`
}

// SchedulerConfig sizes the task table and its worker pool.
type SchedulerConfig struct {
	Capacity    int    `toml:"capacity"`
	Workers     int    `toml:"workers"`      // 0 = one per CPU
	IdleSleep   string `toml:"idle_sleep"`   // pause after an idle pass
	SettleCheck string `toml:"settle_check"` // how often to test for completion
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// TelemetryConfig selects the observer sinks.
type TelemetryConfig struct {
	Prometheus   bool `toml:"prometheus"`
	Journal      bool `toml:"journal"`
	EventsBuffer int  `toml:"events_buffer"`
	RecorderSize int  `toml:"recorder_size"`
	LogEvents    bool `toml:"log_events"`
}

// HealthConfig controls the periodic health checks.
type HealthConfig struct {
	Interval string `toml:"interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	sc := scheduler.DefaultConfig()
	return Config{
		Scheduler: SchedulerConfig{
			Capacity:    sc.Capacity,
			Workers:     0,
			IdleSleep:   sc.IdleSleep.String(),
			SettleCheck: "50ms",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    7420,
		},
		Telemetry: TelemetryConfig{
			Prometheus:   true,
			Journal:      true,
			EventsBuffer: 4096,
			RecorderSize: 1024,
		},
		Health: HealthConfig{
			Interval: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Table converts the section into a scheduler configuration.
func (c SchedulerConfig) Table() scheduler.Config {
	d := scheduler.DefaultConfig()
	return scheduler.Config{
		Capacity:  c.Capacity,
		Workers:   c.Workers,
		IdleSleep: parseDuration(c.IdleSleep, d.IdleSleep),
	}
}

// Addr returns the listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads config from $DATAFLOW_HOME/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := ConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $DATAFLOW_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ConfigPath returns the config file location.
func ConfigPath() string {
	return filepath.Join(dataflowHome(), "config.toml")
}

// dataflowHome returns the data directory.
func dataflowHome() string {
	if env := os.Getenv("DATAFLOW_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dataflow")
}

// Home is exported for use by other packages.
func Home() string {
	return dataflowHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
