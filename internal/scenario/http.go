package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/crankworker/internal/runner"
	"github.com/torosent/crankworker/internal/tracing"
)

// DefaultTimeout bounds a request when the task sets none.
const DefaultTimeout = 30 * time.Second

// hostParam is the spawn parameter carrying the master's target host.
const hostParam = "host"

// errorBodyLimit caps how much of an error response ends up in stats.
const errorBodyLimit = 256

// NewClient returns an HTTP client tuned for many concurrent users.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// httpTask issues one request per execution and records the outcome under
// its method and name.
type httpTask struct {
	name      string
	weight    int
	method    string
	target    string // absolute URL, or a path joined to the base
	host      string // scenario base URL, may be empty
	headers   http.Header
	payload   payload
	template  string // inline body with placeholders, expanded per request
	timeout   time.Duration
	expect    []int
	checks    []check
	client    *http.Client
	tracer    trace.Tracer
	propagate bool
}

func (t *httpTask) Name() string { return t.name }
func (t *httpTask) Weight() int  { return t.weight }

func (t *httpTask) Execute(ctx context.Context, u *runner.UserContext) error {
	target, err := t.resolve(u)
	if err != nil {
		return runner.Fatal(err)
	}

	reqCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var span trace.Span
	if t.tracer != nil {
		reqCtx, span = tracing.StartRequestSpan(reqCtx, t.tracer, t.method, t.name)
	}
	err = t.do(ctx, reqCtx, u, target)
	if span != nil {
		tracing.EndSpan(span, err)
	}
	return err
}

// resolve picks the request URL. Relative targets need a base from the
// scenario or from the master's host parameter.
func (t *httpTask) resolve(u *runner.UserContext) (string, error) {
	target := expand(t.target, u)
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target, nil
	}
	base := t.host
	if base == "" && u.Params != nil {
		if v, ok := u.Params.RemoteParam(hostParam); ok {
			base, _ = v.(string)
		}
	}
	if strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("task %s: no host configured for path %q", t.name, target)
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(target, "/"), nil
}

// do records the attempt unless the worker itself is stopping.
func (t *httpTask) do(workerCtx, ctx context.Context, u *runner.UserContext, target string) error {
	body := t.payload
	if t.template != "" {
		body = inlinePayload(expand(t.template, u))
	}
	reader, err := body.open()
	if err != nil {
		return runner.Fatal(err)
	}
	req, err := http.NewRequestWithContext(ctx, t.method, target, reader)
	if err != nil {
		_ = reader.Close()
		return runner.Fatal(err)
	}
	req.Header = t.headers.Clone()
	for _, values := range req.Header {
		for i, v := range values {
			values[i] = expand(v, u)
		}
	}
	req.ContentLength = body.size
	req.GetBody = body.open
	if t.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if workerCtx.Err() != nil {
			return workerCtx.Err()
		}
		t.fail(u, start, err)
		return err
	}
	defer resp.Body.Close()

	ok := t.statusOK(resp.StatusCode)
	var payload []byte
	var n int64
	if !ok || len(t.checks) > 0 {
		payload, err = io.ReadAll(resp.Body)
		n = int64(len(payload))
	} else {
		n, err = io.Copy(io.Discard, resp.Body)
	}
	if err != nil {
		if workerCtx.Err() != nil {
			return workerCtx.Err()
		}
		t.fail(u, start, fmt.Errorf("read body: %w", err))
		return err
	}

	if !ok {
		if len(payload) > errorBodyLimit {
			payload = payload[:errorBodyLimit]
		}
		httpErr := &runner.HTTPError{StatusCode: resp.StatusCode, Body: string(payload)}
		t.fail(u, start, httpErr)
		return httpErr
	}
	for _, c := range t.checks {
		value, err := c.verify(payload)
		if err != nil {
			t.fail(u, start, err)
			return err
		}
		if c.save != "" {
			save(u, c.save, value)
		}
	}

	u.Stats.RecordSuccess(t.method, t.name, time.Since(start).Milliseconds(), n)
	return nil
}

func (t *httpTask) fail(u *runner.UserContext, start time.Time, err error) {
	u.Stats.RecordFailure(t.method, t.name, time.Since(start).Milliseconds(), err.Error())
}

func (t *httpTask) statusOK(code int) bool {
	if len(t.expect) == 0 {
		return code < 400
	}
	return slices.Contains(t.expect, code)
}

// retryable reports whether another attempt might succeed. Check failures
// and 4xx responses are final.
func retryable(err error) bool {
	var checkErr *CheckError
	if errors.As(err, &checkErr) {
		return false
	}
	var httpErr *runner.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
