// Package timer runs named, cancellable delayed tasks.
//
// A Timer is one namespace (for example "channel_lock" or "reminder"). Each
// task is registered under a caller-chosen key that is unique within the
// namespace; a second Delay for a key that is still registered is rejected and
// its work is discarded without ever starting. Abort cancels a task whether it
// is still sleeping or already running, and frees the key for reuse.
//
// Task lifecycle:
//
//	Pending -> Running -> Completed | Failed | Cancelled
//	Pending -> Cancelled            (aborted before firing; work is Discarded)
//
// Work that fails, by returning an error or by panicking, is logged and never
// propagated; other tasks keep running. Cancellation caused by Abort is not a
// failure.
//
// Work that holds resources implements Discarder. Discard is called exactly
// once when the scheduler can prove the work will never run: on a rejected
// Delay, or when the task is aborted during its sleep.
package timer
