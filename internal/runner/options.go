package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"

	"github.com/torosent/crankworker/internal/ratelimit"
	"github.com/torosent/crankworker/internal/transport"
)

const (
	DefaultHeartbeatInterval = time.Second
	DefaultHeartbeatTimeout  = 60 * time.Second
	DefaultAckTimeout        = 5 * time.Second
	DefaultStopTimeout       = time.Second
)

// StatsSource is the part of the stats engine the runner drives.
type StatsSource interface {
	Recorder
	ClearAll()
	Reports() <-chan map[string]any
}

// Observer is notified of runner activity. All methods must be cheap and
// safe for concurrent use.
type Observer interface {
	StateChanged(s State)
	UsersChanged(n int)
	MessageSent(typ string)
	MessageReceived(typ string)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)     {}
func (nopObserver) UsersChanged(int)       {}
func (nopObserver) MessageSent(string)     {}
func (nopObserver) MessageReceived(string) {}

// Options configure the Runner.
type Options struct {
	NodeID            string                // identity sent with every message (required)
	Client            transport.Client      // connection to the master (required)
	Tasks             []Task                // user behaviours, names must be unique (required)
	Stats             StatsSource           // report source (required)
	Recorder          Recorder              // where workers record outcomes (default Stats)
	Limiter           ratelimit.RateLimiter // optional, nil disables rate limiting
	Logger            *zap.Logger           // optional
	Observer          Observer              // optional
	HeartbeatInterval time.Duration         // default 1s
	HeartbeatTimeout  time.Duration         // master silence tolerated before quitting (default 60s)
	DisableHeartbeat  bool                  // stop sending heartbeats; the watchdog still runs
	AckTimeout        time.Duration         // wait for the master's ack (default 5s)
	StopTimeout       time.Duration         // wait for workers on stop (default 1s)
	CPUUsage          func() float64        // optional injection for tests
	OnQuit            func()                // called once when the runner quits
	Clock             func() time.Time      // optional injection for tests
}

func (o *Options) validate() error {
	var errs []error
	if o.NodeID == "" {
		errs = append(errs, errors.New("node id is required"))
	}
	if o.Client == nil {
		errs = append(errs, errors.New("client is required"))
	}
	if o.Stats == nil {
		errs = append(errs, errors.New("stats source is required"))
	}
	if len(o.Tasks) == 0 {
		errs = append(errs, errors.New("at least one task is required"))
	}
	seen := make(map[string]bool, len(o.Tasks))
	for i, t := range o.Tasks {
		if t == nil {
			errs = append(errs, fmt.Errorf("task %d is nil", i))
			continue
		}
		if seen[t.Name()] {
			errs = append(errs, fmt.Errorf("duplicate task name %q", t.Name()))
		}
		seen[t.Name()] = true
	}
	return errors.Join(errs...)
}

func (o *Options) normalize() {
	if o.Recorder == nil {
		o.Recorder = o.Stats
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.CPUUsage == nil {
		o.CPUUsage = systemCPUUsage
	}
	if o.OnQuit == nil {
		o.OnQuit = func() {}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// systemCPUUsage returns the host CPU load in percent since the previous
// call.
func systemCPUUsage() float64 {
	pct, err := cpu.Percent(0, false)
	if err != nil || len(pct) == 0 {
		return 0
	}
	return pct[0]
}
