package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 7420 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 7420)
	}
	if cfg.Scheduler.Capacity != 4096 {
		t.Errorf("Scheduler.Capacity = %d, want %d", cfg.Scheduler.Capacity, 4096)
	}
	if !cfg.Telemetry.Journal || !cfg.Telemetry.Prometheus {
		t.Errorf("Telemetry = %+v, want journal and prometheus on", cfg.Telemetry)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DATAFLOW_HOME", t.TempDir())
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("LoadConfig() = %+v, want defaults", cfg)
	}
}

func TestSaveLoadConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "nested")
	t.Setenv("DATAFLOW_HOME", home)

	cfg := DefaultConfig()
	cfg.Scheduler.Workers = 3
	cfg.API.Port = 9000
	cfg.Logging.Format = "json"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}
	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if got != cfg {
		t.Errorf("LoadConfig() = %+v, want %+v", got, cfg)
	}
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("DATAFLOW_HOME", home)
	data := "[scheduler]\ncapacity = 64\n\n[logging]\nlevel = \"debug\"\n"
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Scheduler.Capacity != 64 || cfg.Logging.Level != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.API.Port != 7420 {
		t.Errorf("API.Port = %d, want default 7420", cfg.API.Port)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	home := t.TempDir()
	t.Setenv("DATAFLOW_HOME", home)
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte("[scheduler\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() should fail on malformed TOML")
	}
}

func TestSchedulerConfig_Table(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"5ms", 5 * time.Millisecond},
		{"", time.Millisecond},
		{"soon", time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := SchedulerConfig{IdleSleep: tt.in}.Table().IdleSleep
			if got != tt.want {
				t.Errorf("Table().IdleSleep = %v, want %v", got, tt.want)
			}
		})
	}
}
