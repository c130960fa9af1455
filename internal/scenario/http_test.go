package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/torosent/crankworker/internal/runner"
)

type record struct {
	method, name string
	failed       bool
	length       int64
	errText      string
}

type memRecorder struct {
	mu      sync.Mutex
	records []record
}

func (m *memRecorder) RecordSuccess(method, name string, _, contentLength int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record{method: method, name: name, length: contentLength})
}

func (m *memRecorder) RecordFailure(method, name string, _ int64, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record{method: method, name: name, failed: true, errText: errText})
}

type params map[string]any

func (p params) RemoteParam(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

func buildOne(t *testing.T, doc string, opt Options) (runner.Task, *memRecorder, *runner.UserContext) {
	t.Helper()
	f, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	tasks, err := Build(f, opt)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	rec := &memRecorder{}
	return tasks[0], rec, &runner.UserContext{ID: "u", Stats: rec, Params: params{}}
}

func TestHTTPTaskRecordsSuccess(t *testing.T) {
	seen := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen <- r.Method
		seen <- string(b)
		seen <- r.Header.Get("X-Test")
		_, _ = w.Write([]byte(`{"token":"abc"}`))
	}))
	defer srv.Close()

	task, rec, u := buildOne(t, `
host: `+srv.URL+`
tasks:
  - name: login
    method: post
    path: /login
    headers: {x-test: yes}
    body: hello
    checks:
      - json: $.token
        equals: abc
`, Options{})

	if err := task.Execute(context.Background(), u); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	gotMethod, gotBody, gotHeader := <-seen, <-seen, <-seen
	if gotMethod != "POST" || gotBody != "hello" || gotHeader != "yes" {
		t.Errorf("server saw %s %q header %q", gotMethod, gotBody, gotHeader)
	}
	if len(rec.records) != 1 || rec.records[0].failed {
		t.Fatalf("records = %+v, want one success", rec.records)
	}
	if r := rec.records[0]; r.method != "POST" || r.name != "login" || r.length != int64(len(`{"token":"abc"}`)) {
		t.Errorf("record = %+v", r)
	}
}

func TestHTTPTaskFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.Error(w, "nope", http.StatusNotFound)
		default:
			_, _ = w.Write([]byte("id=7"))
		}
	}))
	defer srv.Close()

	tests := []struct {
		name string
		task string
		want string
	}{
		{"status", "{name: a, path: /missing}", "404"},
		{"unexpected status", "{name: a, path: /, expect_status: [201]}", "200"},
		{"regex mismatch", "{name: a, path: /, checks: [{regex: 'id=(\\d+)', equals: '8'}]}", `want "8"`},
		{"json missing", "{name: a, path: /, checks: [{json: id}]}", "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, rec, u := buildOne(t, "host: "+srv.URL+"\ntasks:\n  - "+tt.task+"\n", Options{})
			if err := task.Execute(context.Background(), u); err != nil {
				t.Fatalf("recorded failures must not reach the runner, got %v", err)
			}
			if len(rec.records) != 1 || !rec.records[0].failed {
				t.Fatalf("records = %+v, want one failure", rec.records)
			}
			if !strings.Contains(rec.records[0].errText, tt.want) {
				t.Errorf("error %q does not mention %q", rec.records[0].errText, tt.want)
			}
		})
	}
}

func TestHTTPTaskErrorTextIgnoresBody(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, fmt.Sprintf("request %d failed at %s", n.Add(1), time.Now()), http.StatusInternalServerError)
	}))
	defer srv.Close()

	task, rec, u := buildOne(t, "host: "+srv.URL+"\ntasks:\n  - {name: a, path: /}\n", Options{})
	for i := 0; i < 2; i++ {
		if err := task.Execute(context.Background(), u); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if len(rec.records) != 2 {
		t.Fatalf("records = %+v, want two failures", rec.records)
	}
	first, second := rec.records[0].errText, rec.records[1].errText
	if first != second {
		t.Errorf("error text differs per response: %q vs %q", first, second)
	}
	if first != "HTTP 500 Internal Server Error" {
		t.Errorf("error text = %q", first)
	}
}

func TestHTTPTaskUsesMasterHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/ping" && r.URL.RawQuery == "v=1" {
			hits.Add(1)
		}
	}))
	defer srv.Close()

	task, rec, u := buildOne(t, "tasks:\n  - {name: ping, path: 'ping?v=1'}\n", Options{})
	u.Params = params{"host": srv.URL + "/api/"}
	if err := task.Execute(context.Background(), u); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if hits.Load() != 1 || len(rec.records) != 1 || rec.records[0].failed {
		t.Fatalf("hits = %d records = %+v", hits.Load(), rec.records)
	}
}

func TestHTTPTaskWithoutHostIsFatal(t *testing.T) {
	task, rec, u := buildOne(t, "tasks:\n  - {name: ping, path: /ping}\n", Options{})
	err := task.Execute(context.Background(), u)
	var fatal *runner.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Execute() error = %v, want FatalError", err)
	}
	if len(rec.records) != 0 {
		t.Errorf("nothing should be recorded, got %+v", rec.records)
	}
}

func TestHTTPTaskRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	task, rec, u := buildOne(t, "host: "+srv.URL+"\ntasks:\n  - {name: a, path: /, retry: {max_attempts: 5, delay: 1ms}}\n", Options{})
	if err := task.Execute(context.Background(), u); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	var failures, successes int
	for _, r := range rec.records {
		if r.failed {
			failures++
		} else {
			successes++
		}
	}
	if failures != 2 || successes != 1 {
		t.Errorf("failures=%d successes=%d, want 2 and 1", failures, successes)
	}
}

func TestHTTPTaskDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	task, _, u := buildOne(t, "host: "+srv.URL+"\ntasks:\n  - {name: a, path: /, retry: {max_attempts: 5}}\n", Options{})
	_ = task.Execute(context.Background(), u)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestHTTPTaskStoppedWorkerRecordsNothing(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	task, rec, u := buildOne(t, "host: "+srv.URL+"\ntasks:\n  - {name: a, path: /}\n", Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Execute(ctx, u) }()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.records) != 0 {
		t.Errorf("records = %+v, want none", rec.records)
	}
}

func TestHTTPTaskPropagatesTraceContext(t *testing.T) {
	traceparents := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparents <- r.Header.Get("Traceparent")
	}))
	defer srv.Close()

	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	task, _, u := buildOne(t, "host: "+srv.URL+"\ntasks:\n  - {name: a, path: /}\n", Options{
		Tracer:    tp.Tracer("test"),
		Propagate: true,
	})
	if err := task.Execute(context.Background(), u); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if traceparent := <-traceparents; traceparent == "" {
		t.Error("expected a traceparent header")
	}
	if n := len(exporter.GetSpans()); n != 2 {
		t.Errorf("got %d spans, want task and request spans", n)
	}
}

func TestBuildTaskSets(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
	}))
	defer srv.Close()

	task, _, u := buildOne(t, `
host: `+srv.URL+`
tasks:
  - name: browse
    set: ordered
    weight: 4
    tasks:
      - {name: list, path: /items}
      - {name: item, path: /items/1, weight: 2}
`, Options{})
	if task.Weight() != 4 || task.Name() != "browse" {
		t.Fatalf("set = %s weight %d", task.Name(), task.Weight())
	}
	for i := 0; i < 3; i++ {
		if err := task.Execute(context.Background(), u); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	want := []string{"/items", "/items/1", "/items/1"}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if i >= len(paths) || paths[i] != want[i] {
			t.Fatalf("paths = %v, want %v", paths, want)
		}
	}
}

func TestSavedValuesExpandInLaterRequests(t *testing.T) {
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			_, _ = w.Write([]byte(`{"token":"t-42"}`))
		case "/users/u7":
			auth <- r.Header.Get("Authorization")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f, err := Parse([]byte(`
host: ` + srv.URL + `
tasks:
  - name: flow
    set: ordered
    tasks:
      - name: login
        path: /login
        checks:
          - {json: token, save: token}
      - name: me
        path: '/users/{{user_id}}'
        headers: {Authorization: 'Bearer {{token}}'}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	tasks, err := Build(f, Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	rec := &memRecorder{}
	u := &runner.UserContext{ID: "u7", Stats: rec}
	for i := 0; i < 2; i++ {
		if err := tasks[0].Execute(context.Background(), u); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if got := <-auth; got != "Bearer t-42" {
		t.Errorf("Authorization = %q, want Bearer t-42", got)
	}
	if u.Values["token"] != "t-42" {
		t.Errorf("saved token = %v", u.Values["token"])
	}
	for _, r := range rec.records {
		if r.failed {
			t.Errorf("unexpected failure %+v", r)
		}
	}
}

func TestExpandLeavesUnknownPlaceholders(t *testing.T) {
	u := &runner.UserContext{ID: "u1", Values: map[string]any{"n": 3}}
	if got := expand("/a/{{ n }}/{{missing}}/{{user_id}}", u); got != "/a/3/{{missing}}/u1" {
		t.Errorf("expand() = %q", got)
	}
}
