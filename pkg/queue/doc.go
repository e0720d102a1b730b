// Package queue runs the forward-model jobs of a batch with bounded
// concurrency. The dispatch loop owns its own goroutine; submitters add jobs
// and wait on Done.
package queue
