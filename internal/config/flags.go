package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crankworker",
		Short:         "Locust-compatible load generation worker",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Master connection flags
	flags.String("master-host", "127.0.0.1", "Host of the Locust master")
	flags.Int("master-port", 5557, "Port of the Locust master")
	flags.String("master-url", "", "Full master URL (tcp://host:port, ws://host/path or wss://host/path); overrides host and port")
	flags.StringArray("master-header", nil, "Handshake header for the websocket transport (Key=Value); repeatable")
	flags.String("transport", string(TransportZMQ), "Transport to the master: 'zmq' or 'websocket'")
	flags.String("node-id", "", "Worker identity registered with the master (default hostname_<random>)")

	// Rate limit flags
	flags.Int64("max-rps", 0, "Maximum task executions per second across all users (0 means unlimited)")
	flags.String("rate-limiter", string(LimiterStable), "Rate limiter: 'stable', 'rampup' or 'smooth'")
	flags.Int64("ramp-up-step", 0, "Threshold increase per ramp-up period (rampup limiter)")
	flags.Duration("ramp-up-period", time.Second, "Interval between ramp-up steps (rampup limiter)")
	flags.Duration("refill-period", time.Second, "Token bucket refill period (stable and rampup limiters)")

	// Liveness and reporting flags
	flags.Duration("heartbeat-timeout", 60*time.Second, "Quit when the master is silent this long (env "+HeartbeatTimeoutEnv+" in ms)")
	flags.Bool("disable-heartbeat", false, "Do not send heartbeats to the master")
	flags.Duration("report-interval", 3*time.Second, "Interval between stats reports")

	// Output flags
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "json", "Log format: 'json' or 'console'")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9646)")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Scenario flags
	flags.String("scenario", "", "Path to a YAML scenario file describing HTTP tasks")
	flags.Bool("demo", false, "Run the built-in always-success and always-fail demo tasks")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint; enables tracing")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of task executions to trace (0.0-1.0)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and the environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("master-host") {
		val, err := fs.GetString("master-host")
		if err != nil {
			return err
		}
		cfg.MasterHost = strings.TrimSpace(val)
	}
	if fs.Changed("master-port") {
		val, err := fs.GetInt("master-port")
		if err != nil {
			return err
		}
		cfg.MasterPort = val
	}
	if fs.Changed("master-url") {
		val, err := fs.GetString("master-url")
		if err != nil {
			return err
		}
		cfg.MasterURL = val
	}
	if fs.Changed("master-header") {
		values, err := fs.GetStringArray("master-header")
		if err != nil {
			return err
		}
		if cfg.MasterHeaders == nil {
			cfg.MasterHeaders = make(map[string]string, len(values))
		}
		for _, raw := range values {
			key, value, err := parseHeader(raw)
			if err != nil {
				return err
			}
			cfg.MasterHeaders[http.CanonicalHeaderKey(key)] = value
		}
	}
	if fs.Changed("transport") {
		val, err := fs.GetString("transport")
		if err != nil {
			return err
		}
		cfg.Transport = Transport(val)
	}
	if fs.Changed("node-id") {
		val, err := fs.GetString("node-id")
		if err != nil {
			return err
		}
		cfg.NodeID = strings.TrimSpace(val)
	}
	if fs.Changed("max-rps") {
		val, err := fs.GetInt64("max-rps")
		if err != nil {
			return err
		}
		cfg.MaxRPS = val
	}
	if fs.Changed("rate-limiter") {
		val, err := fs.GetString("rate-limiter")
		if err != nil {
			return err
		}
		cfg.RateLimiter = LimiterKind(val)
	}
	if fs.Changed("ramp-up-step") {
		val, err := fs.GetInt64("ramp-up-step")
		if err != nil {
			return err
		}
		cfg.RampUpStep = val
	}
	if fs.Changed("ramp-up-period") {
		val, err := fs.GetDuration("ramp-up-period")
		if err != nil {
			return err
		}
		cfg.RampUpPeriod = val
	}
	if fs.Changed("refill-period") {
		val, err := fs.GetDuration("refill-period")
		if err != nil {
			return err
		}
		cfg.RefillPeriod = val
	}
	if fs.Changed("heartbeat-timeout") {
		val, err := fs.GetDuration("heartbeat-timeout")
		if err != nil {
			return err
		}
		cfg.HeartbeatTimeout = val
	}
	if fs.Changed("disable-heartbeat") {
		val, err := fs.GetBool("disable-heartbeat")
		if err != nil {
			return err
		}
		cfg.DisableHeartbeat = val
	}
	if fs.Changed("report-interval") {
		val, err := fs.GetDuration("report-interval")
		if err != nil {
			return err
		}
		cfg.ReportInterval = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("metrics-addr") {
		val, err := fs.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}
	if fs.Changed("scenario") {
		val, err := fs.GetString("scenario")
		if err != nil {
			return err
		}
		cfg.Scenario = val
	}
	if fs.Changed("demo") {
		val, err := fs.GetBool("demo")
		if err != nil {
			return err
		}
		cfg.Demo = val
	}
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	return nil
}

func parseHeader(raw string) (string, string, error) {
	key, value, ok := strings.Cut(raw, "=")
	if !ok {
		key, value, ok = strings.Cut(raw, ":")
	}
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid header %q, want Key=Value", raw)
	}
	return key, strings.TrimSpace(value), nil
}
