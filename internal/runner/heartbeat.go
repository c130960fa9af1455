package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// heartbeatLoop queues a heartbeat every interval. The send loop owns the
// client, so heartbeats travel through the same queue discipline as stats.
func (r *Runner) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.opt.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if r.opt.DisableHeartbeat {
			continue
		}
		hb := map[string]any{
			"state":             r.State().String(),
			"current_cpu_usage": r.opt.CPUUsage(),
		}
		select {
		case r.heartbeats <- hb:
		default:
			r.logger.Error("heartbeat queue full, dropping heartbeat")
		}
	}
}

// watchdogLoop quits the runner when the master has been silent for longer
// than HeartbeatTimeout. Nothing is checked before the first master
// heartbeat arrives.
func (r *Runner) watchdogLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.opt.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if !r.masterTimedOut() {
			continue
		}
		r.logger.Error("no heartbeat from master, quitting",
			zap.Duration("timeout", r.opt.HeartbeatTimeout))
		r.shutdown(ErrMasterTimeout, true)
		return nil
	}
}

func (r *Runner) masterTimedOut() bool {
	last := r.lastMasterHeartbeat.Load()
	if last == 0 {
		return false
	}
	return r.opt.Clock().Sub(time.Unix(0, last)) > r.opt.HeartbeatTimeout
}
