package main

import (
	"testing"
	"time"

	"github.com/torosent/crankworker/internal/config"
	"github.com/torosent/crankworker/internal/ratelimit"
)

func TestMasterHeaders(t *testing.T) {
	if masterHeaders(nil) != nil {
		t.Error("expected nil headers for an empty map")
	}
	got := masterHeaders(map[string]string{"authorization": "Bearer x"})
	if got.Get("Authorization") != "Bearer x" {
		t.Errorf("Authorization = %q, want Bearer x", got.Get("Authorization"))
	}
}

func TestNewLimiter(t *testing.T) {
	base := config.Defaults()
	if newLimiter(&base) != nil {
		t.Error("limiter should be nil when max-rps is 0")
	}

	tests := []struct {
		kind config.LimiterKind
		want string
	}{
		{config.LimiterStable, "*ratelimit.Stable"},
		{config.LimiterRampUp, "*ratelimit.RampUp"},
		{config.LimiterSmooth, "*ratelimit.Smooth"},
	}
	for _, tt := range tests {
		cfg := config.Defaults()
		cfg.MaxRPS = 10
		cfg.RampUpStep = 2
		cfg.RampUpPeriod = time.Second
		cfg.RateLimiter = tt.kind
		l := newLimiter(&cfg)
		var ok bool
		switch tt.kind {
		case config.LimiterStable:
			_, ok = l.(*ratelimit.Stable)
		case config.LimiterRampUp:
			_, ok = l.(*ratelimit.RampUp)
		case config.LimiterSmooth:
			_, ok = l.(*ratelimit.Smooth)
		}
		if !ok {
			t.Errorf("newLimiter(%s) = %T, want %s", tt.kind, l, tt.want)
		}
	}
}

func TestRunHelp(t *testing.T) {
	if err := run([]string{"--help"}); err != nil {
		t.Fatalf("run(--help) error = %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	if err := run([]string{"--transport", "udp", "--demo"}); err == nil {
		t.Fatal("expected a validation error")
	}
}
