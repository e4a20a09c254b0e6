// Package jobs holds the job params union and the handlers a worker
// dispatches to, one per job type.
//
// Params are decoded from the job row and validated with struct tags before a
// job is accepted and again when it runs. Handlers return a result value that
// the worker stores as JSON on the job row; a handler that stops because its
// job was cancelled returns a *CancelledError carrying the partial result.
package jobs
