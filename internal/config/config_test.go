package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/crankworker/internal/config"
)

func noEnv(string) string { return "" }

func TestLoadDefaults(t *testing.T) {
	loader := config.Loader{Getenv: noEnv}

	cfg, err := loader.Load([]string{"--demo"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MasterHost != "127.0.0.1" {
		t.Errorf("MasterHost = %q, want 127.0.0.1", cfg.MasterHost)
	}
	if cfg.MasterPort != 5557 {
		t.Errorf("MasterPort = %d, want 5557", cfg.MasterPort)
	}
	if cfg.Transport != config.TransportZMQ {
		t.Errorf("Transport = %q, want zmq", cfg.Transport)
	}
	if cfg.HeartbeatTimeout != 60*time.Second {
		t.Errorf("HeartbeatTimeout = %s, want 60s", cfg.HeartbeatTimeout)
	}
	if cfg.ReportInterval != 3*time.Second {
		t.Errorf("ReportInterval = %s, want 3s", cfg.ReportInterval)
	}
	if cfg.RateLimitEnabled() {
		t.Error("rate limiting should be off by default")
	}
	if cfg.NodeID == "" {
		t.Error("expected a generated node id")
	}
	if got := cfg.MasterEndpoint(); got != "tcp://127.0.0.1:5557" {
		t.Errorf("MasterEndpoint() = %q", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadHelp(t *testing.T) {
	loader := config.Loader{Getenv: noEnv}
	if _, err := loader.Load(nil); !errors.Is(err, config.ErrHelpRequested) {
		t.Errorf("Load(nil) error = %v, want ErrHelpRequested", err)
	}
	if _, err := loader.Load([]string{"--help"}); !errors.Is(err, config.ErrHelpRequested) {
		t.Errorf("Load(--help) error = %v, want ErrHelpRequested", err)
	}
}

func TestDefaultNodeIDIsUnique(t *testing.T) {
	a, b := config.DefaultNodeID(), config.DefaultNodeID()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	host, _ := os.Hostname()
	if host != "" && !strings.HasPrefix(a, host+"_") {
		t.Errorf("node id %q should start with %q", a, host+"_")
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	if err := os.WriteFile(path, []byte(`
master_url: ws://locust.example.com/ws
master_headers:
  Authorization: Bearer abc
transport: websocket
node_id: worker-1
max_rps: 50
rate_limiter: rampup
ramp_up_step: 5
ramp_up_period: 2s
heartbeat_timeout: 10s
log_level: DEBUG
scenario: ./scenario.yaml
tracing:
  endpoint: localhost:4317
  sample_rate: 0.5
  propagate: false
`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader := config.Loader{Getenv: noEnv}
	cfg, err := loader.Load([]string{"--config", path, "--node-id", "worker-2"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transport != config.TransportWebSocket {
		t.Errorf("Transport = %q, want websocket", cfg.Transport)
	}
	if cfg.MasterEndpoint() != "ws://locust.example.com/ws" {
		t.Errorf("MasterEndpoint() = %q", cfg.MasterEndpoint())
	}
	if cfg.MasterHeaders["Authorization"] != "Bearer abc" {
		t.Errorf("MasterHeaders = %v", cfg.MasterHeaders)
	}
	if cfg.NodeID != "worker-2" {
		t.Errorf("NodeID = %q, want flag value worker-2", cfg.NodeID)
	}
	if cfg.MaxRPS != 50 || cfg.RateLimiter != config.LimiterRampUp || cfg.RampUpStep != 5 {
		t.Errorf("limiter settings = %d %q %d", cfg.MaxRPS, cfg.RateLimiter, cfg.RampUpStep)
	}
	if cfg.RampUpPeriod != 2*time.Second {
		t.Errorf("RampUpPeriod = %s, want 2s", cfg.RampUpPeriod)
	}
	if cfg.HeartbeatTimeout != 10*time.Second {
		t.Errorf("HeartbeatTimeout = %s, want 10s", cfg.HeartbeatTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.Tracing.Enabled() || cfg.Tracing.ShouldPropagate() {
		t.Errorf("tracing enabled=%v propagate=%v", cfg.Tracing.Enabled(), cfg.Tracing.ShouldPropagate())
	}
	if cfg.Tracing.SampleRate != 0.5 {
		t.Errorf("SampleRate = %g, want 0.5", cfg.Tracing.SampleRate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestHeartbeatTimeoutPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.json")
	if err := os.WriteFile(path, []byte(`{"heartbeat_timeout": "30s", "demo": true}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	env := func(key string) string {
		if key == config.HeartbeatTimeoutEnv {
			return "1500"
		}
		return ""
	}

	cfg, err := config.Loader{Getenv: env}.Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HeartbeatTimeout != 1500*time.Millisecond {
		t.Errorf("env should override the file: got %s", cfg.HeartbeatTimeout)
	}

	cfg, err = config.Loader{Getenv: env}.Load([]string{"--config", path, "--heartbeat-timeout", "5s"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HeartbeatTimeout != 5*time.Second {
		t.Errorf("flag should override env: got %s", cfg.HeartbeatTimeout)
	}

	bad := func(string) string { return "soon" }
	if _, err := (config.Loader{Getenv: bad}).Load([]string{"--demo"}); err == nil {
		t.Error("expected an error for a non-numeric env timeout")
	}
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Defaults()
		cfg.NodeID = "worker"
		cfg.Demo = true
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"no tasks", func(c *config.Config) { c.Demo = false }, "scenario"},
		{"empty node id", func(c *config.Config) { c.NodeID = " " }, "node id"},
		{"bad transport", func(c *config.Config) { c.Transport = "udp" }, "transport"},
		{"bad port", func(c *config.Config) { c.MasterPort = 70000 }, "master-port"},
		{"websocket without url", func(c *config.Config) { c.Transport = config.TransportWebSocket }, "master-url"},
		{"zmq with ws url", func(c *config.Config) { c.MasterURL = "ws://host/ws" }, "scheme"},
		{"negative rps", func(c *config.Config) { c.MaxRPS = -1 }, "max-rps"},
		{"rampup without step", func(c *config.Config) {
			c.MaxRPS = 10
			c.RateLimiter = config.LimiterRampUp
		}, "ramp-up-step"},
		{"unknown limiter", func(c *config.Config) {
			c.MaxRPS = 10
			c.RateLimiter = "leaky"
		}, "rate-limiter"},
		{"zero heartbeat timeout", func(c *config.Config) { c.HeartbeatTimeout = 0 }, "heartbeat-timeout"},
		{"bad log level", func(c *config.Config) { c.LogLevel = "trace" }, "log-level"},
		{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }, "log-format"},
		{"bad sample rate", func(c *config.Config) {
			c.Tracing.Endpoint = "localhost:4317"
			c.Tracing.SampleRate = 2
		}, "sample_rate"},
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("baseline Validate() error = %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var verr config.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if len(verr.Issues()) == 0 {
				t.Error("expected at least one issue")
			}
		})
	}
}
