package stats

import (
	"math"
	"time"

	"github.com/torosent/crankworker/internal/message"
)

// Entry aggregates requests for one (name, method) pair between flushes.
type Entry struct {
	Name   string
	Method string

	NumRequests        int64
	NumFailures        int64
	TotalResponseTime  int64
	MinResponseTime    int64 // 0 until the first sample
	MaxResponseTime    int64
	TotalContentLength int64

	ResponseTimes *message.Histogram
	NumReqsPerSec *message.Histogram
	NumFailPerSec *message.Histogram

	StartTime            int64
	LastRequestTimestamp int64

	now func() time.Time
}

func newEntry(name, method string, now func() time.Time) *Entry {
	e := &Entry{Name: name, Method: method, now: now}
	e.Reset()
	return e
}

// Reset zeroes all counters, clears histograms and refreshes timestamps.
func (e *Entry) Reset() {
	ts := e.now().Unix()
	e.StartTime = ts
	e.LastRequestTimestamp = ts
	e.NumRequests = 0
	e.NumFailures = 0
	e.TotalResponseTime = 0
	e.MinResponseTime = 0
	e.MaxResponseTime = 0
	e.TotalContentLength = 0
	e.ResponseTimes = message.NewHistogram()
	e.NumReqsPerSec = message.NewHistogram()
	e.NumFailPerSec = message.NewHistogram()
}

func (e *Entry) log(responseTime, contentLength int64) {
	e.NumRequests++
	ts := e.now().Unix()
	e.NumReqsPerSec.Add(ts)
	e.LastRequestTimestamp = ts
	e.logResponseTime(responseTime)
	e.TotalContentLength += contentLength
}

func (e *Entry) logResponseTime(responseTime int64) {
	e.TotalResponseTime += responseTime
	if e.MinResponseTime == 0 || responseTime < e.MinResponseTime {
		e.MinResponseTime = responseTime
	}
	if responseTime > e.MaxResponseTime {
		e.MaxResponseTime = responseTime
	}
	e.ResponseTimes.Add(RoundResponseTime(responseTime))
}

func (e *Entry) logError() {
	e.NumFailures++
	e.NumFailPerSec.Add(e.now().Unix())
}

func (e *Entry) idle() bool {
	return e.NumRequests == 0 && e.NumFailures == 0
}

// Serialize renders the entry in the master's stats entry layout.
func (e *Entry) Serialize() map[string]any {
	return map[string]any{
		"name":                   e.Name,
		"method":                 e.Method,
		"last_request_timestamp": e.LastRequestTimestamp,
		"start_time":             e.StartTime,
		"num_requests":           e.NumRequests,
		// Every recorded request carries a response time.
		"num_none_requests":    int64(0),
		"num_failures":         e.NumFailures,
		"total_response_time":  e.TotalResponseTime,
		"max_response_time":    e.MaxResponseTime,
		"min_response_time":    e.MinResponseTime,
		"total_content_length": e.TotalContentLength,
		"response_times":       e.ResponseTimes,
		"num_reqs_per_sec":     e.NumReqsPerSec,
		"num_fail_per_sec":     e.NumFailPerSec,
	}
}

// strippedReport serializes the entry and resets it.
func (e *Entry) strippedReport() map[string]any {
	report := e.Serialize()
	e.Reset()
	return report
}

// RoundResponseTime buckets a response time in milliseconds: values below
// 100 are kept, below 1000 rounded to the nearest 10, below 10000 to the
// nearest 100, otherwise to the nearest 1000. Halves round up.
func RoundResponseTime(ms int64) int64 {
	switch {
	case ms < 100:
		return ms
	case ms < 1000:
		return roundTo(ms, 10)
	case ms < 10000:
		return roundTo(ms, 100)
	default:
		return roundTo(ms, 1000)
	}
}

func roundTo(v, unit int64) int64 {
	return int64(math.Floor(float64(v)/float64(unit)+0.5)) * unit
}
