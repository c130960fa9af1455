package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/crankworker/internal/message"
	"github.com/torosent/crankworker/internal/ratelimit"
	"github.com/torosent/crankworker/internal/stats"
	"github.com/torosent/crankworker/internal/transport"
)

// ErrMasterTimeout is returned by Run when the master stopped sending
// heartbeats for longer than the configured timeout.
var ErrMasterTimeout = errors.New("master heartbeat timeout")

// errQuit is the cancellation cause of an orderly quit.
var errQuit = errors.New("runner quit")

const recvRetryDelay = 100 * time.Millisecond

// Runner speaks the master protocol and owns the worker pool.
type Runner struct {
	opt      Options
	logger   *zap.Logger
	client   transport.Client
	stats    StatsSource
	recorder Recorder
	limiter  ratelimit.RateLimiter
	tasks    []Task
	pool     *WorkerPool

	// state and numClients are written by the receive loop only; other
	// goroutines read them.
	state      atomic.Int32
	numClients atomic.Int64

	lastMasterHeartbeat atomic.Int64 // unix nanos, 0 until the first one
	workerIndex         atomic.Int64

	mu           sync.Mutex
	userClasses  map[string]any
	remoteParams map[string]any
	workCtx      context.Context
	cancel       context.CancelCauseFunc

	ackOnce  sync.Once
	acked    chan struct{}
	quitOnce sync.Once

	heartbeats chan map[string]any
}

// New validates opt and creates a runner in the Ready state.
func New(opt Options) (*Runner, error) {
	if err := opt.validate(); err != nil {
		return nil, fmt.Errorf("runner options: %w", err)
	}
	opt.normalize()
	r := &Runner{
		opt:          opt,
		logger:       opt.Logger.With(zap.String("node_id", opt.NodeID)),
		client:       opt.Client,
		stats:        opt.Stats,
		recorder:     opt.Recorder,
		limiter:      opt.Limiter,
		tasks:        opt.Tasks,
		pool:         NewWorkerPool(),
		remoteParams: make(map[string]any),
		acked:        make(chan struct{}),
		heartbeats:   make(chan map[string]any, 16),
	}
	r.state.Store(int32(StateReady))
	return r, nil
}

// State returns the current protocol state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// NodeID returns the identity the runner registers with.
func (r *Runner) NodeID() string {
	return r.opt.NodeID
}

// UserCount returns the number of live workers after the last allocation.
func (r *Runner) UserCount() int {
	return int(r.numClients.Load())
}

// WorkerIndex returns the index assigned by the master's ack, or 0.
func (r *Runner) WorkerIndex() int {
	return int(r.workerIndex.Load())
}

// RemoteParam returns a parameter received with the last spawn command:
// "host" and "user_classes_count".
func (r *Runner) RemoteParam(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.remoteParams[key]
	return v, ok
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
	r.opt.Observer.StateChanged(s)
}

// Run announces the worker, waits for the master's ack and processes
// commands until the runner quits or ctx is cancelled. It returns nil after
// an orderly quit, ErrMasterTimeout after a liveness failure, the read error
// (wrapping transport.ErrConnectionLost) when the connection drops, or the
// context's error.
func (r *Runner) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r.mu.Lock()
	r.workCtx = runCtx
	r.cancel = cancel
	r.mu.Unlock()

	// A blocked Recv is only released by closing the client.
	stopClose := context.AfterFunc(runCtx, func() {
		if err := r.client.Close(); err != nil {
			r.logger.Debug("closing client", zap.Error(err))
		}
	})
	defer stopClose()

	r.setState(StateReady)
	_ = r.send(runCtx, message.TypeClientReady, nil)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return r.recvLoop(gctx) })
	g.Go(func() error { return r.sendLoop(gctx) })

	r.waitForAck(gctx)

	g.Go(func() error { return r.heartbeatLoop(gctx) })
	g.Go(func() error { return r.watchdogLoop(gctx) })

	_ = g.Wait()

	if !r.pool.StopAll(r.opt.StopTimeout) {
		r.logger.Warn("workers did not exit in time")
	}
	if r.limiter != nil {
		r.limiter.Stop()
	}
	r.numClients.Store(0)

	cause := context.Cause(runCtx)
	switch {
	case errors.Is(cause, errQuit):
		return nil
	case errors.Is(cause, ErrMasterTimeout):
		return ErrMasterTimeout
	default:
		return cause
	}
}

// Quit tells the master this worker is leaving and shuts the runner down.
func (r *Runner) Quit() {
	r.shutdown(errQuit, true)
}

func (r *Runner) shutdown(cause error, notify bool) {
	r.quitOnce.Do(func() {
		if notify {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = r.send(ctx, message.TypeQuit, nil)
			cancel()
		}
		r.mu.Lock()
		cancelRun := r.cancel
		r.mu.Unlock()
		if cancelRun != nil {
			cancelRun(cause)
		} else if err := r.client.Close(); err != nil {
			r.logger.Debug("closing client", zap.Error(err))
		}
		r.opt.OnQuit()
	})
}

func (r *Runner) waitForAck(ctx context.Context) {
	timer := time.NewTimer(r.opt.AckTimeout)
	defer timer.Stop()
	select {
	case <-r.acked:
		r.logger.Debug("master acknowledged worker", zap.Int("index", r.WorkerIndex()))
	case <-timer.C:
		r.logger.Info("timeout waiting for ack from master, the master may be older than 2.10.0 or unreachable")
	case <-ctx.Done():
	}
}

func (r *Runner) send(ctx context.Context, typ string, payload map[string]any) error {
	err := r.client.Send(ctx, message.New(typ, payload, r.opt.NodeID))
	if err != nil {
		if !errors.Is(err, transport.ErrClosed) {
			r.logger.Error("sending message failed", zap.String("type", typ), zap.Error(err))
		}
		return err
	}
	r.opt.Observer.MessageSent(typ)
	return nil
}

func (r *Runner) recvLoop(ctx context.Context) error {
	for {
		env, err := r.client.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			if errors.Is(err, transport.ErrConnectionLost) {
				r.logger.Error("lost connection to master", zap.Error(err))
				r.shutdown(err, false)
				return nil
			}
			r.logger.Error("receiving message failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(recvRetryDelay):
			}
			continue
		}
		r.opt.Observer.MessageReceived(env.Type)
		r.onMessage(ctx, env)
	}
}

func (r *Runner) sendLoop(ctx context.Context) error {
	reports := r.stats.Reports()
	for {
		select {
		case <-ctx.Done():
			return nil
		case hb := <-r.heartbeats:
			_ = r.send(ctx, message.TypeHeartbeat, hb)
		case report := <-reports:
			if s := r.State(); s == StateReady || s == StateStopped {
				continue
			}
			report["user_count"] = r.numClients.Load()
			report["user_classes_count"] = r.currentUserClasses()
			_ = r.send(ctx, message.TypeStats, report)
		}
	}
}

func (r *Runner) currentUserClasses() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userClasses
}

func (r *Runner) onMessage(ctx context.Context, env message.Envelope) {
	switch env.Type {
	case message.TypeAck, message.TypeSpawn, message.TypeStop:
	case message.TypeHeartbeat:
		r.lastMasterHeartbeat.Store(r.opt.Clock().UnixNano())
		return
	case message.TypeQuit:
		r.logger.Info("got quit message from master, shutting down")
		r.shutdown(errQuit, false)
		return
	default:
		r.logger.Error("unsupported message type from master", zap.String("type", env.Type))
		return
	}

	switch r.State() {
	case StateReady:
		switch env.Type {
		case message.TypeSpawn:
			r.onSpawn(ctx, env.Payload, true)
		case message.TypeAck:
			r.onAck(env.Payload)
		}
	case StateSpawning, StateRunning:
		switch env.Type {
		case message.TypeSpawn:
			r.onSpawn(ctx, env.Payload, false)
		case message.TypeStop:
			r.onStop(ctx)
		}
	case StateStopped:
		if env.Type == message.TypeSpawn {
			r.onSpawn(ctx, env.Payload, true)
		}
	}
}

func (r *Runner) onAck(payload map[string]any) {
	if idx, ok := message.Int(payload["index"]); ok {
		r.workerIndex.Store(idx)
	}
	r.ackOnce.Do(func() { close(r.acked) })
}

// spawnRequest is a validated spawn payload.
type spawnRequest struct {
	userClasses map[string]any
	users       int
	host        string
	hasHost     bool
}

func parseSpawn(payload map[string]any) (spawnRequest, error) {
	var req spawnRequest
	if payload == nil {
		return req, errors.New("spawn message has no payload")
	}
	raw, ok := payload["user_classes_count"]
	if !ok {
		return req, errors.New("spawn message without user_classes_count, the master may speak an incompatible protocol version")
	}
	classes, ok := raw.(map[string]any)
	if !ok {
		return req, fmt.Errorf("user_classes_count is %T, want a map", raw)
	}
	total := int64(0)
	for name, v := range classes {
		n, ok := message.Int(v)
		if !ok {
			return req, fmt.Errorf("user_classes_count[%q] is %T, want an integer", name, v)
		}
		if n < 0 {
			return req, fmt.Errorf("user_classes_count[%q] is negative", name)
		}
		total += n
	}
	if total == 0 {
		return req, errors.New("spawn message asks for zero users")
	}
	req.userClasses = classes
	req.users = int(total)
	if h, ok := payload["host"]; ok && h != nil {
		req.host = fmt.Sprint(h)
		req.hasHost = true
	}
	return req, nil
}

// onSpawn handles a spawn command. fresh is true when the runner was not
// running, in which case stats are cleared and the limiter is started.
func (r *Runner) onSpawn(ctx context.Context, payload map[string]any, fresh bool) {
	req, err := parseSpawn(payload)
	if err != nil {
		r.logger.Debug("ignoring invalid spawn message", zap.Error(err))
		return
	}

	r.setState(StateSpawning)
	_ = r.send(ctx, message.TypeSpawning, nil)

	r.mu.Lock()
	r.userClasses = req.userClasses
	r.remoteParams["user_classes_count"] = req.userClasses
	if req.hasHost {
		r.remoteParams["host"] = req.host
	}
	workCtx := r.workCtx
	r.mu.Unlock()

	if fresh {
		r.stats.ClearAll()
		if r.limiter != nil {
			r.limiter.Start()
		}
	}

	r.allocate(workCtx, req.users)

	_ = r.send(ctx, message.TypeSpawningComplete, map[string]any{
		"count":              r.numClients.Load(),
		"user_classes_count": req.userClasses,
	})
	r.setState(StateRunning)
}

// allocate reconciles the pool with the target user count, touching only
// the tasks whose share changed.
func (r *Runner) allocate(ctx context.Context, users int) {
	counts := Allocate(users, r.tasks)
	total := 0
	for i, task := range r.tasks {
		name := task.Name()
		live := r.pool.Live(name)
		for ; live < counts[i]; live++ {
			t := task
			r.pool.Spawn(ctx, name, func(wctx context.Context) { r.runWorker(wctx, t) })
		}
		if live > counts[i] {
			r.pool.Shrink(name, live-counts[i])
		}
		r.logger.Debug("allocated users to task", zap.String("task", name), zap.Int("users", counts[i]))
		total += r.pool.Live(name)
	}
	r.numClients.Store(int64(total))
	r.opt.Observer.UsersChanged(total)
	r.logger.Info("spawn complete", zap.Int("users", total))
}

func (r *Runner) onStop(ctx context.Context) {
	if !r.pool.StopAll(r.opt.StopTimeout) {
		r.logger.Warn("workers did not exit in time")
	}
	if r.limiter != nil {
		r.limiter.Stop()
	}
	r.numClients.Store(0)
	r.opt.Observer.UsersChanged(0)
	r.setState(StateStopped)
	r.logSummary()
	r.logger.Info("stopped all workers")

	if err := r.send(ctx, message.TypeClientStopped, nil); err != nil {
		return
	}
	if err := r.send(ctx, message.TypeClientReady, nil); err != nil {
		return
	}
	r.setState(StateReady)
}

func (r *Runner) logSummary() {
	src, ok := r.stats.(interface{ Summary() stats.Summary })
	if !ok {
		return
	}
	s := src.Summary()
	if s.Count == 0 {
		return
	}
	r.logger.Info("run latency summary",
		zap.Int64("requests", s.Count),
		zap.Int64("min_ms", s.MinMs),
		zap.Int64("p50_ms", s.P50Ms),
		zap.Int64("p90_ms", s.P90Ms),
		zap.Int64("p99_ms", s.P99Ms),
		zap.Int64("max_ms", s.MaxMs),
	)
}
