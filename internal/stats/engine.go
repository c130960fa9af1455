package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultReportInterval is how often the engine flushes a report.
const DefaultReportInterval = 3 * time.Second

// totalName names the entry aggregating every request.
const totalName = "Total"

// Options configure an Engine.
type Options struct {
	ReportInterval time.Duration    // flush period (default 3s)
	ReportBuffer   int              // reports held for the runner before dropping (default 16)
	Logger         *zap.Logger      // optional
	Clock          func() time.Time // optional injection for tests
}

func (o *Options) normalize() {
	if o.ReportInterval <= 0 {
		o.ReportInterval = DefaultReportInterval
	}
	if o.ReportBuffer <= 0 {
		o.ReportBuffer = 16
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type success struct {
	method, name  string
	responseTime  int64
	contentLength int64
}

type failure struct {
	method, name string
	responseTime int64
	err          string
}

// queue is an unbounded FIFO; producers never wait on the consumer.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return v, true
}

// Engine aggregates request outcomes. Producers enqueue records from any
// goroutine; a single consumer goroutine started by Run owns every entry.
type Engine struct {
	opt    Options
	logger *zap.Logger

	successes queue[success]
	failures  queue[failure]
	clears    queue[struct{}]
	flushes   queue[struct{}]
	wake      chan struct{}
	reports   chan map[string]any

	// owned by the consumer
	entries map[entryKey]*Entry
	errors  map[string]*Error
	total   *Entry

	summary *latencySummary
}

// New creates an engine. Call Run to start consuming.
func New(opt Options) *Engine {
	opt.normalize()
	e := &Engine{
		opt:     opt,
		logger:  opt.Logger,
		wake:    make(chan struct{}, 1),
		reports: make(chan map[string]any, opt.ReportBuffer),
		summary: newLatencySummary(),
	}
	e.clearAll()
	return e
}

// RecordSuccess enqueues a successful request.
func (e *Engine) RecordSuccess(method, name string, responseTime, contentLength int64) {
	e.successes.push(success{method: method, name: name, responseTime: responseTime, contentLength: contentLength})
	e.wakeUp()
}

// RecordFailure enqueues a failed request.
func (e *Engine) RecordFailure(method, name string, responseTime int64, errText string) {
	e.failures.push(failure{method: method, name: name, responseTime: responseTime, err: errText})
	e.wakeUp()
}

// ClearAll asks the consumer to drop every entry and error.
func (e *Engine) ClearAll() {
	e.clears.push(struct{}{})
	e.wakeUp()
}

// Flush asks the consumer to emit a report now.
func (e *Engine) Flush() {
	e.flushes.push(struct{}{})
	e.wakeUp()
}

// Reports delivers report payloads produced by the consumer.
func (e *Engine) Reports() <-chan map[string]any {
	return e.reports
}

// Summary returns response-time percentiles since the last clear.
func (e *Engine) Summary() Summary {
	return e.summary.snapshot()
}

func (e *Engine) wakeUp() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run starts the report timer and consumes records until ctx ends.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runTimer(ctx)
	}()
	e.consume(ctx)
	wg.Wait()
}

func (e *Engine) runTimer(ctx context.Context) {
	ticker := time.NewTicker(e.opt.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Flush()
		}
	}
}

func (e *Engine) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if e.step() {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		}
	}
}

// step drains at most one item from each input. It reports whether any
// input had work.
func (e *Engine) step() bool {
	busy := false
	if s, ok := e.successes.pop(); ok {
		e.logRequest(s.method, s.name, s.responseTime, s.contentLength)
		busy = true
	}
	if f, ok := e.failures.pop(); ok {
		e.logError(f.method, f.name, f.err)
		busy = true
	}
	if _, ok := e.clears.pop(); ok {
		e.clearAll()
		busy = true
	}
	if _, ok := e.flushes.pop(); ok {
		e.publish(e.CollectReportData())
		busy = true
	}
	return busy
}

func (e *Engine) publish(report map[string]any) {
	select {
	case e.reports <- report:
	default:
		e.logger.Warn("stats report dropped, runner is not consuming reports")
	}
}

type entryKey struct{ name, method string }

func (e *Engine) get(name, method string) *Entry {
	key := entryKey{name, method}
	entry, ok := e.entries[key]
	if !ok {
		entry = newEntry(name, method, e.opt.Clock)
		e.entries[key] = entry
	}
	return entry
}

func (e *Engine) logRequest(method, name string, responseTime, contentLength int64) {
	e.total.log(responseTime, contentLength)
	e.get(name, method).log(responseTime, contentLength)
	e.summary.record(responseTime)
}

func (e *Engine) logError(method, name, errText string) {
	e.total.logError()
	e.get(name, method).logError()

	key := ErrorKey(method, name, errText)
	entry, ok := e.errors[key]
	if !ok {
		entry = &Error{Name: name, Method: method, Error: errText}
		e.errors[key] = entry
	}
	entry.occurred()
}

func (e *Engine) clearAll() {
	e.total = newEntry(totalName, "", e.opt.Clock)
	e.entries = make(map[entryKey]*Entry, 8)
	e.errors = make(map[string]*Error, 8)
	e.summary.reset()
}

// CollectReportData serializes and resets every active entry, the total
// entry and the error table. It must only be called from the consumer
// goroutine, or before Run starts.
func (e *Engine) CollectReportData() map[string]any {
	stats := make([]any, 0, len(e.entries))
	for _, entry := range e.entries {
		if entry.idle() {
			continue
		}
		stats = append(stats, entry.strippedReport())
	}

	errs := make(map[string]any, len(e.errors))
	for key, entry := range e.errors {
		errs[key] = entry.Serialize()
	}
	e.errors = make(map[string]*Error, 8)

	return map[string]any{
		"stats":       stats,
		"stats_total": e.total.strippedReport(),
		"errors":      errs,
	}
}
