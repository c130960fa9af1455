// Package telemetry exposes worker activity as Prometheus metrics.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torosent/crankworker/internal/runner"
	"github.com/torosent/crankworker/internal/transport"
)

const namespace = "crankworker"

var states = []runner.State{runner.StateReady, runner.StateSpawning, runner.StateRunning, runner.StateStopped}

// Exporter implements runner.Observer and publishes what it sees.
type Exporter struct {
	registry *prometheus.Registry

	state        *prometheus.GaugeVec
	users        prometheus.Gauge
	messages     *prometheus.CounterVec
	requests     *prometheus.CounterVec
	responseTime *prometheus.HistogramVec
}

// NewExporter creates an exporter with its own registry. Go runtime and
// process collectors are registered alongside the worker metrics.
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "1 for the runner's current state, 0 otherwise",
			},
			[]string{"state"},
		),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users",
			Help:      "Number of running simulated users",
		}),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Protocol messages exchanged with the master",
			},
			[]string{"direction", "type"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Recorded request outcomes",
			},
			[]string{"result"},
		),
		responseTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_time_ms",
				Help:      "Recorded response times in milliseconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 16), // 1ms to ~33s
			},
			[]string{"result"},
		),
	}
	e.registry.MustRegister(
		e.state,
		e.users,
		e.messages,
		e.requests,
		e.responseTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, s := range states {
		e.state.WithLabelValues(s.String()).Set(0)
	}
	return e
}

// Registry returns the registry backing the exporter.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// StateChanged implements runner.Observer.
func (e *Exporter) StateChanged(current runner.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		e.state.WithLabelValues(s.String()).Set(v)
	}
}

// UsersChanged implements runner.Observer.
func (e *Exporter) UsersChanged(n int) { e.users.Set(float64(n)) }

// MessageSent implements runner.Observer.
func (e *Exporter) MessageSent(typ string) { e.messages.WithLabelValues("sent", typ).Inc() }

// MessageReceived implements runner.Observer.
func (e *Exporter) MessageReceived(typ string) { e.messages.WithLabelValues("received", typ).Inc() }

// WatchTransport publishes the connection counters of c.
func (e *Exporter) WatchTransport(c transport.CounterProvider) {
	counter := func(name, help string, read func(transport.Snapshot) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(c.Counters())) })
	}
	e.registry.MustRegister(
		counter("bytes_sent_total", "Bytes written to the master", func(s transport.Snapshot) int64 { return s.BytesSent }),
		counter("bytes_received_total", "Bytes read from the master", func(s transport.Snapshot) int64 { return s.BytesReceived }),
		counter("errors_total", "Transport read and write errors", func(s transport.Snapshot) int64 { return s.Errors }),
	)
}

// Recorder wraps next so every outcome is also counted here.
func (e *Exporter) Recorder(next runner.Recorder) runner.Recorder {
	return &recorder{next: next, e: e}
}

type recorder struct {
	next runner.Recorder
	e    *Exporter
}

func (r *recorder) RecordSuccess(method, name string, responseTime, contentLength int64) {
	r.e.requests.WithLabelValues("success").Inc()
	r.e.responseTime.WithLabelValues("success").Observe(float64(responseTime))
	r.next.RecordSuccess(method, name, responseTime, contentLength)
}

func (r *recorder) RecordFailure(method, name string, responseTime int64, errText string) {
	r.e.requests.WithLabelValues("failure").Inc()
	r.e.responseTime.WithLabelValues("failure").Observe(float64(responseTime))
	r.next.RecordFailure(method, name, responseTime, errText)
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
