// Package background runs deferred work on one dedicated worker goroutine.
//
// Callers submit small tasks; the Scheduler stores them in a fixed-capacity
// FIFO (internal/slots) and a single worker drains it in submission order.
//
// # Submission
//
// Three shapes share the same execution semantics:
//
//	s.Schedule(fn, "flush", buf, release)   // raw: func(arg) + arg + optional release
//	s.ScheduleWithArg(fn, "sync", arg, rel) // capturing func(arg), capability Capture
//	s.ScheduleFunc(func() {...}, "tick")    // zero-arg closure, capabilities Capture+NoArg
//
// Submission never blocks. A full queue drops the task and returns ErrQueueFull;
// retrying is the caller's business.
//
// # Ownership
//
// A release function owns the task argument. It runs exactly once: after the task
// executes (even if it panics) or when the task is discarded by Cancel / Close.
// A task dropped at submission was never queued, so its argument stays with the caller.
//
// # Cancellation
//
// Cancel(name) removes every pending task with that (truncated) name; Cancel("")
// removes all of them. A task already picked up by the worker is never interrupted.
//
// # Process-wide instance
//
//	_ = background.Configure(cfg, background.WithLogger(log)) // optional, before first use
//	background.Instance().ScheduleFunc(work, "work")
package background
