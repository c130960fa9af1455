package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// HeartbeatTimeoutEnv overrides the master heartbeat timeout, in
// milliseconds.
const HeartbeatTimeoutEnv = "LOCUST_MASTER_HEARTBEAT_TIMEOUT"

type Transport string

const (
	TransportZMQ       Transport = "zmq"
	TransportWebSocket Transport = "websocket"
)

type LimiterKind string

const (
	LimiterStable LimiterKind = "stable"
	LimiterRampUp LimiterKind = "rampup"
	LimiterSmooth LimiterKind = "smooth"
)

type Config struct {
	MasterHost       string            `mapstructure:"master_host"`
	MasterPort       int               `mapstructure:"master_port"`
	MasterURL        string            `mapstructure:"master_url"`
	MasterHeaders    map[string]string `mapstructure:"master_headers"`
	Transport        Transport         `mapstructure:"transport"`
	NodeID           string            `mapstructure:"node_id"`
	MaxRPS           int64             `mapstructure:"max_rps"`
	RateLimiter      LimiterKind       `mapstructure:"rate_limiter"`
	RampUpStep       int64             `mapstructure:"ramp_up_step"`
	RampUpPeriod     time.Duration     `mapstructure:"ramp_up_period"`
	RefillPeriod     time.Duration     `mapstructure:"refill_period"`
	HeartbeatTimeout time.Duration     `mapstructure:"heartbeat_timeout"`
	DisableHeartbeat bool              `mapstructure:"disable_heartbeat"`
	ReportInterval   time.Duration     `mapstructure:"report_interval"`
	LogLevel         string            `mapstructure:"log_level"`
	LogFormat        string            `mapstructure:"log_format"`
	MetricsAddr      string            `mapstructure:"metrics_addr"`
	Scenario         string            `mapstructure:"scenario"`
	Demo             bool              `mapstructure:"demo"`
	Tracing          TracingConfig     `mapstructure:"tracing"`
	ConfigFile       string            `mapstructure:"-"`
}

// TracingConfig configures OTLP export of task spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"` // nil means propagate when enabled
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate reports whether trace context should be injected into
// scenario requests.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// MasterEndpoint returns the URL the transport dials.
func (c Config) MasterEndpoint() string {
	if strings.TrimSpace(c.MasterURL) != "" {
		return strings.TrimSpace(c.MasterURL)
	}
	return fmt.Sprintf("tcp://%s:%d", c.MasterHost, c.MasterPort)
}

// RateLimitEnabled reports whether workers are throttled.
func (c Config) RateLimitEnabled() bool {
	return c.MaxRPS > 0
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	issues = append(issues, validateMaster(c)...)

	if strings.TrimSpace(c.NodeID) == "" {
		issues = append(issues, "node id must not be empty")
	}
	if c.MaxRPS < 0 {
		issues = append(issues, "max-rps must be >= 0")
	}
	issues = append(issues, validateLimiter(c)...)

	if c.HeartbeatTimeout <= 0 {
		issues = append(issues, "heartbeat-timeout must be > 0")
	}
	if c.ReportInterval <= 0 {
		issues = append(issues, "report-interval must be > 0")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log-level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		issues = append(issues, fmt.Sprintf("log-format must be json or console, got %q", c.LogFormat))
	}

	if !c.Demo && strings.TrimSpace(c.Scenario) == "" {
		issues = append(issues, "a scenario file or --demo is required (use --help for usage information)")
	}

	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateMaster(c Config) []string {
	var issues []string
	switch c.Transport {
	case TransportZMQ, TransportWebSocket:
	default:
		return []string{fmt.Sprintf("transport must be zmq or websocket, got %q", c.Transport)}
	}

	if strings.TrimSpace(c.MasterURL) == "" {
		if c.Transport == TransportWebSocket {
			return []string{"master-url (ws:// or wss://) is required for the websocket transport"}
		}
		if strings.TrimSpace(c.MasterHost) == "" {
			issues = append(issues, "master-host must not be empty")
		}
		if c.MasterPort < 1 || c.MasterPort > 65535 {
			issues = append(issues, fmt.Sprintf("master-port must be between 1 and 65535, got %d", c.MasterPort))
		}
		return issues
	}

	u, err := url.Parse(strings.TrimSpace(c.MasterURL))
	if err != nil {
		return []string{fmt.Sprintf("master-url is invalid: %v", err)}
	}
	scheme := strings.ToLower(u.Scheme)
	switch c.Transport {
	case TransportZMQ:
		if scheme != "tcp" {
			issues = append(issues, fmt.Sprintf("master-url scheme must be tcp for the zmq transport, got %q", u.Scheme))
		}
	case TransportWebSocket:
		if scheme != "ws" && scheme != "wss" {
			issues = append(issues, fmt.Sprintf("master-url scheme must be ws or wss for the websocket transport, got %q", u.Scheme))
		}
	}
	if u.Host == "" {
		issues = append(issues, "master-url must include a host")
	}
	return issues
}

func validateLimiter(c Config) []string {
	if !c.RateLimitEnabled() {
		return nil
	}
	var issues []string
	switch c.RateLimiter {
	case LimiterStable:
		if c.RefillPeriod <= 0 {
			issues = append(issues, "refill-period must be > 0")
		}
	case LimiterRampUp:
		if c.RampUpStep <= 0 {
			issues = append(issues, "ramp-up-step must be > 0 for the rampup limiter")
		}
		if c.RampUpPeriod <= 0 {
			issues = append(issues, "ramp-up-period must be > 0 for the rampup limiter")
		}
		if c.RefillPeriod <= 0 {
			issues = append(issues, "refill-period must be > 0")
		}
	case LimiterSmooth:
	default:
		issues = append(issues, fmt.Sprintf("rate-limiter must be stable, rampup or smooth, got %q", c.RateLimiter))
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	if !t.Enabled() {
		return nil
	}
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol must be grpc or http, got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}
