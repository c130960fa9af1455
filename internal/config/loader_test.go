package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestToDuration(t *testing.T) {
	tests := []struct {
		in      any
		want    time.Duration
		wantErr bool
	}{
		{in: "1m", want: time.Minute},
		{in: " 250ms ", want: 250 * time.Millisecond},
		{in: 10, want: 10 * time.Second},
		{in: 1.5, want: 1500 * time.Millisecond},
		{in: 2 * time.Second, want: 2 * time.Second},
		{in: "", want: 0},
		{in: nil, want: 0},
		{in: "soon", wantErr: true},
		{in: []int{1}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := toDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("toDuration(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("toDuration(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSettingsLookupSpellings(t *testing.T) {
	for _, key := range []string{"master_host", "masterhost", "master-host"} {
		s := settings{key: "locust"}
		if v, ok := s.lookup("master_host"); !ok || v != "locust" {
			t.Errorf("lookup via %q = %v, %v", key, v, ok)
		}
	}
	if _, ok := (settings{}).lookup("master_host"); ok {
		t.Error("lookup on empty settings reported a value")
	}
}

func TestToHeaders(t *testing.T) {
	got, err := toHeaders(map[string]any{"x-token": " secret ", "authorization": "Bearer t"})
	if err != nil {
		t.Fatalf("toHeaders() error = %v", err)
	}
	if got["X-Token"] != "secret" || got["Authorization"] != "Bearer t" {
		t.Errorf("toHeaders() = %v", got)
	}
	if _, err := toHeaders(map[string]any{" ": "x"}); err == nil {
		t.Error("expected an error for an empty header name")
	}
	if _, err := toHeaders(42); err == nil {
		t.Error("expected an error for a non-map value")
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := Defaults()
	raw := map[string]any{
		"master_host":       "locust",
		"master_port":       "6000",
		"disable_heartbeat": "true",
		"report_interval":   2,
		"master_headers": map[interface{}]interface{}{
			"X-Token": "secret",
		},
	}

	if err := applyConfigSettings(&cfg, raw); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.MasterHost != "locust" || cfg.MasterPort != 6000 {
		t.Errorf("master = %s:%d, want locust:6000", cfg.MasterHost, cfg.MasterPort)
	}
	if !cfg.DisableHeartbeat {
		t.Error("DisableHeartbeat = false, want true")
	}
	if cfg.ReportInterval != 2*time.Second {
		t.Errorf("ReportInterval = %v, want 2s", cfg.ReportInterval)
	}
	if cfg.MasterHeaders["X-Token"] != "secret" {
		t.Errorf("MasterHeaders = %v", cfg.MasterHeaders)
	}

	err := applyConfigSettings(&cfg, map[string]any{"report_interval": "soon", "master_port": "x"})
	if err == nil {
		t.Fatal("expected errors for unparsable values")
	}
	for _, key := range []string{"report_interval", "master_port"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestApplyTracingSettings(t *testing.T) {
	tc := Defaults().Tracing
	err := applyTracingSettings(&tc, map[any]any{
		"Endpoint":    "otel:4318",
		"protocol":    "HTTP",
		"sample-rate": "0.25",
		"propagate":   false,
	})
	if err != nil {
		t.Fatalf("applyTracingSettings() error = %v", err)
	}
	if tc.Endpoint != "otel:4318" || tc.Protocol != "http" || tc.SampleRate != 0.25 {
		t.Errorf("tracing = %+v", tc)
	}
	if tc.Propagate == nil || *tc.Propagate {
		t.Error("propagate should be explicitly false")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := Defaults()
	cfg.MasterHeaders = map[string]string{"X-Keep": "1"}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)

	args := []string{
		"--master-port=5600",
		"--max-rps=20",
		"--rate-limiter=smooth",
		"--master-header=Authorization: Bearer t",
		"--master-header=X-Trace=on",
		"--tracing-endpoint=otel:4317",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := applyFlagOverrides(&cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.MasterPort != 5600 {
		t.Errorf("MasterPort = %d, want 5600", cfg.MasterPort)
	}
	if cfg.MaxRPS != 20 || cfg.RateLimiter != LimiterSmooth {
		t.Errorf("limiter = %d %q", cfg.MaxRPS, cfg.RateLimiter)
	}
	want := map[string]string{"X-Keep": "1", "Authorization": "Bearer t", "X-Trace": "on"}
	for k, v := range want {
		if cfg.MasterHeaders[k] != v {
			t.Errorf("MasterHeaders[%s] = %q, want %q", k, cfg.MasterHeaders[k], v)
		}
	}
	if cfg.Tracing.Endpoint != "otel:4317" {
		t.Errorf("Tracing.Endpoint = %q", cfg.Tracing.Endpoint)
	}
	if cfg.MasterHost != "127.0.0.1" {
		t.Errorf("unchanged flag overwrote MasterHost: %q", cfg.MasterHost)
	}
}

func TestParseHeaderRejectsMissingSeparator(t *testing.T) {
	if _, _, err := parseHeader("novalue"); err == nil {
		t.Error("expected an error")
	}
	if _, _, err := parseHeader("=value"); err == nil {
		t.Error("expected an error for an empty key")
	}
}
