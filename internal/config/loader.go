package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files, the environment and
// command-line arguments.
type Loader struct {
	// Getenv is used to read environment overrides. Defaults to os.Getenv.
	Getenv func(string) string
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{Getenv: os.Getenv}
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		MasterHost:       "127.0.0.1",
		MasterPort:       5557,
		Transport:        TransportZMQ,
		RateLimiter:      LimiterStable,
		RefillPeriod:     time.Second,
		RampUpPeriod:     time.Second,
		HeartbeatTimeout: 60 * time.Second,
		ReportInterval:   3 * time.Second,
		LogLevel:         "info",
		LogFormat:        "json",
		Tracing:          TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Load parses command-line arguments and configuration files to produce a
// Config. Precedence, lowest first: defaults, config file, environment,
// flags.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnvOverrides(&cfg, getenv); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Transport = Transport(strings.ToLower(strings.TrimSpace(string(cfg.Transport))))
	cfg.RateLimiter = LimiterKind(strings.ToLower(strings.TrimSpace(string(cfg.RateLimiter))))
	cfg.MasterURL = strings.TrimSpace(cfg.MasterURL)
	cfg.Scenario = strings.TrimSpace(cfg.Scenario)
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = DefaultNodeID()
	}

	return &cfg, nil
}

// DefaultNodeID returns hostname_<random hex>, the shape Locust workers
// register with.
func DefaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "crankworker"
	}
	return host + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// applyEnvOverrides reads the master heartbeat timeout from the environment.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	raw := strings.TrimSpace(getenv(HeartbeatTimeoutEnv))
	if raw == "" {
		return nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", HeartbeatTimeoutEnv, err)
	}
	cfg.HeartbeatTimeout = time.Duration(ms) * time.Millisecond
	return nil
}

// applyConfigSettings copies config file values over cfg.
func applyConfigSettings(cfg *Config, raw map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	s := settings(raw)
	steps := []error{
		setting(s, "master_host", trimmed, &cfg.MasterHost),
		setting(s, "master_port", cast.ToIntE, &cfg.MasterPort),
		setting(s, "master_url", trimmed, &cfg.MasterURL),
		setting(s, "master_headers", toHeaders, &cfg.MasterHeaders),
		setting(s, "transport", named[Transport], &cfg.Transport),
		setting(s, "node_id", trimmed, &cfg.NodeID),
		setting(s, "max_rps", cast.ToInt64E, &cfg.MaxRPS),
		setting(s, "rate_limiter", named[LimiterKind], &cfg.RateLimiter),
		setting(s, "ramp_up_step", cast.ToInt64E, &cfg.RampUpStep),
		setting(s, "ramp_up_period", toDuration, &cfg.RampUpPeriod),
		setting(s, "refill_period", toDuration, &cfg.RefillPeriod),
		setting(s, "heartbeat_timeout", toDuration, &cfg.HeartbeatTimeout),
		setting(s, "disable_heartbeat", cast.ToBoolE, &cfg.DisableHeartbeat),
		setting(s, "report_interval", toDuration, &cfg.ReportInterval),
		setting(s, "log_level", named[string], &cfg.LogLevel),
		setting(s, "log_format", named[string], &cfg.LogFormat),
		setting(s, "metrics_addr", trimmed, &cfg.MetricsAddr),
		setting(s, "scenario", trimmed, &cfg.Scenario),
		setting(s, "demo", cast.ToBoolE, &cfg.Demo),
	}
	if err := errors.Join(steps...); err != nil {
		return err
	}
	if v, ok := s.lookup("tracing"); ok && v != nil {
		if err := applyTracingSettings(&cfg.Tracing, v); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

func applyTracingSettings(tc *TracingConfig, v any) error {
	s, err := section(v)
	if err != nil {
		return err
	}
	return errors.Join(
		setting(s, "endpoint", trimmed, &tc.Endpoint),
		setting(s, "protocol", named[string], &tc.Protocol),
		setting(s, "service_name", trimmed, &tc.ServiceName),
		setting(s, "sample_rate", cast.ToFloat64E, &tc.SampleRate),
		setting(s, "insecure", cast.ToBoolE, &tc.Insecure),
		setting(s, "propagate", toBoolPtr, &tc.Propagate),
	)
}
