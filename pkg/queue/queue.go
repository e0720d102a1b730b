package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/enkf/pkg/log"
	"github.com/cuemby/enkf/pkg/metrics"
	"github.com/cuemby/enkf/pkg/types"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Add once submission has been completed
var ErrClosed = errors.New("queue: submission complete")

// Step is one forward-model executable run inside a member's run path
type Step struct {
	Name       string
	Executable string
	Args       []string
}

// Job is the forward run of one member
type Job struct {
	Iens    int
	Name    string
	RunPath string
	Steps   []Step
}

// Result is the outcome of one job as seen by the queue. The status is
// RUN_OK or RUN_FAILURE; loading results is left to the caller.
type Result struct {
	Iens       int
	Status     types.RunStatus
	FailedJob  string
	Reason     string
	StderrFile string
	Duration   time.Duration
}

// Runner executes a job to completion
type Runner interface {
	Run(ctx context.Context, job *Job) Result
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, job *Job) Result

// Run calls f(ctx, job)
func (f RunnerFunc) Run(ctx context.Context, job *Job) Result {
	return f(ctx, job)
}

// Queue dispatches jobs to a Runner with at most maxRunning in flight.
// Run is started once on its own goroutine; jobs are then added from any
// goroutine and SubmitComplete marks the end of the batch. Done is closed
// when every submitted job has finished.
type Queue struct {
	runner     Runner
	maxRunning int

	jobs   chan *Job
	mu     sync.RWMutex
	closed bool

	resultsMu sync.Mutex
	results   map[int]Result

	done chan struct{}
}

// New creates a queue. maxRunning <= 0 means no limit.
func New(runner Runner, maxRunning int) *Queue {
	return &Queue{
		runner:     runner,
		maxRunning: maxRunning,
		jobs:       make(chan *Job),
		results:    make(map[int]Result),
		done:       make(chan struct{}),
	}
}

// Run is the dispatch loop. It returns after SubmitComplete once every job
// has finished, or when ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	defer close(q.done)
	logger := log.WithComponent("queue")

	var g errgroup.Group
	if q.maxRunning > 0 {
		g.SetLimit(q.maxRunning)
	}

	for {
		select {
		case job, ok := <-q.jobs:
			if !ok {
				g.Wait()
				logger.Debug().Int("jobs", q.count()).Msg("All jobs finished")
				return nil
			}
			g.Go(func() error {
				q.execute(ctx, job)
				return nil
			})
		case <-ctx.Done():
			g.Wait()
			return ctx.Err()
		}
	}
}

func (q *Queue) execute(ctx context.Context, job *Job) {
	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()

	start := time.Now()
	res := q.runner.Run(ctx, job)
	res.Iens = job.Iens
	res.Duration = time.Since(start)
	if res.Status == "" {
		res.Status = types.RunStatusOK
	}

	logger := log.WithMember(job.Iens)
	logger.Debug().
		Str("job", job.Name).
		Str("status", string(res.Status)).
		Dur("duration", res.Duration).
		Msg("Job finished")

	q.resultsMu.Lock()
	q.results[job.Iens] = res
	q.resultsMu.Unlock()
}

// Add submits a job. It blocks while the queue is at capacity.
func (q *Queue) Add(ctx context.Context, job *Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return fmt.Errorf("queue stopped before job %d was submitted", job.Iens)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitComplete tells the run loop no more jobs will be added
func (q *Queue) SubmitComplete() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

// Done is closed when the run loop has returned
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Result returns the outcome of member iens, if its job finished
func (q *Queue) Result(iens int) (Result, bool) {
	q.resultsMu.Lock()
	defer q.resultsMu.Unlock()
	r, ok := q.results[iens]
	return r, ok
}

// Results returns every finished job ordered by member index
func (q *Queue) Results() []Result {
	q.resultsMu.Lock()
	defer q.resultsMu.Unlock()
	out := make([]Result, 0, len(q.results))
	for _, r := range q.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iens < out[j].Iens })
	return out
}

func (q *Queue) count() int {
	q.resultsMu.Lock()
	defer q.resultsMu.Unlock()
	return len(q.results)
}
