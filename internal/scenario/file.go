// Package scenario turns a YAML scenario file into runner tasks.
//
// A scenario lists HTTP tasks with their weight, request shape and the
// checks a response must pass:
//
//	host: http://localhost:8080
//	tasks:
//	  - name: home
//	    weight: 3
//	    path: /
//	  - name: login
//	    method: POST
//	    path: /api/login
//	    headers: {Content-Type: application/json}
//	    body: '{"user":"demo"}'
//	    expect_status: [200]
//	    checks:
//	      - {json: token, save: token}
//	    retry: {max_attempts: 3, delay: 200ms, backoff: exponential}
//	  - name: profile
//	    path: /api/me
//	    headers: {Authorization: 'Bearer {{token}}'}
//	  - name: browse
//	    set: ordered
//	    tasks:
//	      - {name: list, path: /items}
//	      - {name: item, path: /items/1, weight: 2}
//
// When host is empty the master's "host" parameter from the spawn message
// is used as the base URL. {{user_id}} expands to the simulated user's id.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Task set kinds.
const (
	SetWeighted = "weighted"
	SetOrdered  = "ordered"
)

type File struct {
	Host  string     `yaml:"host"`
	Tasks []TaskSpec `yaml:"tasks"`
}

type TaskSpec struct {
	Name         string            `yaml:"name"`
	Weight       *int              `yaml:"weight"` // default 1
	Method       string            `yaml:"method"` // default GET
	URL          string            `yaml:"url"`    // absolute; takes precedence over path
	Path         string            `yaml:"path"`
	Headers      map[string]string `yaml:"headers"`
	Body         string            `yaml:"body"`
	BodyFile     string            `yaml:"body_file"`
	Timeout      time.Duration     `yaml:"timeout"`
	ExpectStatus []int             `yaml:"expect_status"` // default: any status below 400
	Checks       []CheckSpec       `yaml:"checks"`
	Retry        *RetrySpec        `yaml:"retry"`

	Set   string     `yaml:"set"` // weighted or ordered; children in Tasks
	Tasks []TaskSpec `yaml:"tasks"`
}

// CheckSpec asserts something about the response body. Exactly one of
// JSON or Regex is set. Without Equals the match only has to exist. Save
// stores the matched value for {{name}} placeholders in later requests of
// the same user.
type CheckSpec struct {
	JSON   string  `yaml:"json"`
	Regex  string  `yaml:"regex"`
	Equals *string `yaml:"equals"`
	Save   string  `yaml:"save"`
}

// RetrySpec re-sends a request after connection errors, 5xx and 429.
// Failed checks and other statuses are final.
type RetrySpec struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	Backoff     string        `yaml:"backoff"`   // fixed (default) or exponential
	MaxDelay    time.Duration `yaml:"max_delay"` // exponential cap
}


func (t TaskSpec) weight() int {
	if t.Weight == nil {
		return 1
	}
	return *t.Weight
}

// Load reads and validates a scenario file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document. Unknown keys are
// rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate reports every problem found in the scenario.
func (f *File) Validate() error {
	var errs []error
	if f.Host != "" {
		if err := validateBaseURL(f.Host); err != nil {
			errs = append(errs, fmt.Errorf("host: %w", err))
		}
	}
	if len(f.Tasks) == 0 {
		errs = append(errs, errors.New("at least one task is required"))
	}
	seen := make(map[string]bool, len(f.Tasks))
	for i, t := range f.Tasks {
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("tasks[%d]: duplicate name %q", i, t.Name))
		}
		seen[t.Name] = true
		errs = append(errs, validateTask(fmt.Sprintf("tasks[%d]", i), t, true)...)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("scenario: %w", err)
	}
	return nil
}

func validateTask(where string, t TaskSpec, topLevel bool) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(where+": "+format, args...))
	}

	if strings.TrimSpace(t.Name) == "" {
		fail("name is required")
	}
	if t.weight() < 0 {
		fail("weight must be >= 0")
	}

	if t.Set != "" {
		if !topLevel {
			fail("task sets cannot be nested")
		}
		if t.Set != SetWeighted && t.Set != SetOrdered {
			fail("set must be %s or %s, got %q", SetWeighted, SetOrdered, t.Set)
		}
		if len(t.Tasks) == 0 {
			fail("task set needs at least one task")
		}
		if t.URL != "" || t.Path != "" {
			fail("a task set does not take url or path")
		}
		for i, child := range t.Tasks {
			childWhere := fmt.Sprintf("%s.tasks[%d]", where, i)
			if t.Set == SetWeighted && child.weight() <= 0 {
				errs = append(errs, fmt.Errorf("%s: weighted set members need weight > 0", childWhere))
			}
			errs = append(errs, validateTask(childWhere, child, false)...)
		}
		return errs
	}

	if len(t.Tasks) > 0 {
		fail("tasks is only valid with set")
	}
	if t.URL == "" && t.Path == "" {
		fail("url or path is required")
	}
	if t.URL != "" {
		if err := validateBaseURL(t.URL); err != nil {
			fail("url: %v", err)
		}
	}
	if t.Body != "" && strings.TrimSpace(t.BodyFile) != "" {
		fail("body and body_file cannot both be provided")
	}
	for key, value := range t.Headers {
		if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\r\n") {
			fail("invalid header key %q", key)
		}
		if strings.ContainsAny(value, "\r\n") {
			fail("invalid header value for %s", http.CanonicalHeaderKey(key))
		}
	}
	if t.Timeout < 0 {
		fail("timeout must be >= 0")
	}
	for _, code := range t.ExpectStatus {
		if code < 100 || code > 599 {
			fail("expect_status %d is not an HTTP status", code)
		}
	}
	for i, c := range t.Checks {
		switch {
		case c.JSON != "" && c.Regex != "":
			fail("checks[%d]: set json or regex, not both", i)
		case c.JSON == "" && c.Regex == "":
			fail("checks[%d]: json or regex is required", i)
		case c.Regex != "":
			if _, err := regexp.Compile(c.Regex); err != nil {
				fail("checks[%d]: %v", i, err)
			}
		}
	}
	if r := t.Retry; r != nil {
		if r.MaxAttempts < 1 {
			fail("retry.max_attempts must be >= 1")
		}
		switch strings.ToLower(r.Backoff) {
		case "", "fixed", "exponential":
		default:
			fail("retry.backoff must be fixed or exponential, got %q", r.Backoff)
		}
	}
	return errs
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is missing")
	}
	return nil
}
