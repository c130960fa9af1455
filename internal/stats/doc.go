// Package stats aggregates request outcomes into the rolling reports sent to
// the Locust master.
//
// # Engine
//
// The [Engine] is a single-consumer pipeline. Worker goroutines only enqueue
// records and never touch aggregation state, so recording never contends
// with report serialization:
//
//	engine := stats.New(stats.Options{Logger: logger})
//	go engine.Run(ctx)
//
//	engine.RecordSuccess("GET", "/users", 42, 512)
//	engine.RecordFailure("GET", "/users", 0, "connection refused")
//
//	for report := range engine.Reports() {
//		// report["stats"], report["stats_total"], report["errors"]
//	}
//
// Each consumer iteration takes at most one item from each of its four
// inputs (successes, failures, clear requests, flush requests) and sleeps
// when all of them are empty.
//
// # Reports
//
// A flush serializes every [Entry] that saw traffic since the previous
// flush, the Total entry and the error table, then resets them. Response
// times are bucketed by [RoundResponseTime] so the master can merge
// distributions from many workers.
//
// # Summary
//
// [Engine.Summary] keeps HDR histogram percentiles across flushes, until the
// next ClearAll, for local logging at the end of a run.
package stats
