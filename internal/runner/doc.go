// Package runner is the worker side of the Locust master protocol.
//
// A [Runner] announces itself to the master, then reacts to the commands it
// receives:
//   - spawn: resize the worker pool to the requested user count
//   - stop: cancel every worker and report back as ready
//   - quit: shut down
//
// # Tasks
//
// User behaviour is supplied as [Task] values. One Task value is shared by
// all the workers running it, so Execute must be safe for concurrent use.
// Per-user state lives in the [UserContext] handed to every call:
//
//	task := runner.NewTask("checkout", 10, func(ctx context.Context, u *runner.UserContext) error {
//		start := time.Now()
//		err := doCheckout(ctx)
//		u.Stats.RecordSuccess("POST", "/checkout", time.Since(start).Milliseconds(), 0)
//		return err
//	})
//
// Workers are split across tasks by weight. An error returned from Execute
// is recorded as a failure and the worker keeps going; a [FatalError] or a
// panic ends that worker only.
//
// # Task sets
//
// [WeighingTaskSet] picks one sub-task at random per iteration, biased by
// weight. [OrderedTaskSet] cycles through its sub-tasks in order.
//
// # Middleware
//
//   - [WithRetry]: retry failed executions, with a fixed or [Exponential] delay
//   - [WithLogging]: report failures to a [FailureLogger]
//   - [WithTracing]: wrap each execution in an OpenTelemetry span
package runner
