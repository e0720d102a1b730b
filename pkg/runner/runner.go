package runner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cuemby/enkf/pkg/ensemble"
	"github.com/cuemby/enkf/pkg/events"
	"github.com/cuemby/enkf/pkg/log"
	"github.com/cuemby/enkf/pkg/metrics"
	"github.com/cuemby/enkf/pkg/parallel"
	"github.com/cuemby/enkf/pkg/queue"
	"github.com/cuemby/enkf/pkg/storage"
	"github.com/cuemby/enkf/pkg/subst"
	"github.com/cuemby/enkf/pkg/types"
)

// Exporter writes a member's input state into its run path before the
// forward model starts
type Exporter interface {
	Export(ctx context.Context, m *ensemble.Member, step int) error
}

// Loader reads a finished member's results back into the store. Report
// steps in (step1, step2] are loaded.
type Loader interface {
	Load(ctx context.Context, m *ensemble.Member, step1, step2 int) error
}

// Batch describes one forward run of the ensemble
type Batch struct {
	Ensemble *ensemble.Ensemble

	// Active selects members by index; nil means every member runs
	Active []bool

	// InitStep is the report step the input state is exported from; results
	// are loaded for report steps (Step1, Step2]
	InitStep int
	Step1    int
	Step2    int

	// Steps is the forward model run by every member
	Steps []queue.Step

	// PreClear removes an existing run path before it is recreated
	PreClear bool
}

// BatchResult holds the statuses of one batch
type BatchResult struct {
	Statuses []types.MemberStatus
	Failed   []int
	Duration time.Duration
}

// OK reports whether every active member ended RUN_OK
func (r *BatchResult) OK() bool {
	return len(r.Failed) == 0
}

// Coordinator runs batches: it prepares run directories, feeds the job queue,
// waits for it to drain and turns the job results into member statuses.
type Coordinator struct {
	Pool       *parallel.Pool
	Runner     queue.Runner
	MaxRunning int

	Exporter Exporter
	Loader   Loader

	// Store is synced once all results are loaded
	Store storage.Store

	// Vars is the parent substitution list for forward-model arguments
	Vars *subst.List

	// RunPathList is rewritten before each batch; empty disables it
	RunPathList string

	Events *events.Broker
}

// Run executes the batch and returns the per-member statuses. A failed run
// is not an error: it is reported through BatchResult.OK. Errors are returned
// for failures of the coordinator itself (run path preparation, export,
// queue submission and store sync).
func (c *Coordinator) Run(ctx context.Context, b Batch) (*BatchResult, error) {
	logger := log.WithComponent("runner")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BatchDuration)
	metrics.SetPhase("forward model")
	defer metrics.SetPhase("idle")

	all := b.Ensemble.Members()
	var active []*ensemble.Member
	for _, m := range all {
		if b.Active != nil && (m.Iens >= len(b.Active) || !b.Active[m.Iens]) {
			m.SetInactive()
			continue
		}
		active = append(active, m)
	}

	logger.Info().
		Int("members", len(active)).
		Int("init_step", b.InitStep).
		Int("step1", b.Step1).
		Int("step2", b.Step2).
		Msg("Starting forward run batch")
	c.Events.Publish(events.New(events.EventBatchStarted,
		fmt.Sprintf("running %d members", len(active)),
		map[string]string{"members": strconv.Itoa(len(active))}))

	if err := c.prepare(ctx, b, active); err != nil {
		return nil, err
	}
	if err := c.writeRunPathList(active); err != nil {
		return nil, err
	}
	q, err := c.submit(ctx, b, active)
	if err != nil {
		return nil, err
	}
	c.collect(ctx, b, q, active)

	if c.Store != nil {
		if err := c.Store.Sync(); err != nil {
			return nil, fmt.Errorf("failed to sync store: %w", err)
		}
	}

	result := &BatchResult{Statuses: make([]types.MemberStatus, len(all)), Duration: timer.Duration()}
	for i, m := range all {
		st := m.Status()
		result.Statuses[i] = st
		if st.Status == types.RunStatusInactive {
			continue
		}
		if !st.OK() {
			result.Failed = append(result.Failed, m.Iens)
		}
	}

	c.Events.Publish(events.New(events.EventBatchCompleted,
		fmt.Sprintf("batch finished with %d failed members", len(result.Failed)),
		map[string]string{
			"members": strconv.Itoa(len(active)),
			"failed":  strconv.Itoa(len(result.Failed)),
		}))
	if result.OK() {
		logger.Info().Dur("duration", result.Duration).Msg("Forward run batch completed")
	} else {
		logger.Error().
			Ints("failed", result.Failed).
			Dur("duration", result.Duration).
			Msg("Forward run batch failed")
	}
	return result, nil
}

func (c *Coordinator) prepare(ctx context.Context, b Batch, members []*ensemble.Member) error {
	return c.Pool.ForEach(ctx, len(members), func(ctx context.Context, i int) error {
		m := members[i]
		if b.PreClear {
			if err := os.RemoveAll(m.RunPath); err != nil {
				return fmt.Errorf("failed to clear run path %s: %w", m.RunPath, err)
			}
		}
		if err := os.MkdirAll(m.RunPath, 0755); err != nil {
			return fmt.Errorf("failed to create run path %s: %w", m.RunPath, err)
		}
		if c.Exporter != nil {
			if err := c.Exporter.Export(ctx, m, b.InitStep); err != nil {
				return fmt.Errorf("failed to export member %d: %w", m.Iens, err)
			}
		}
		m.SetStatus(types.MemberStatus{Status: types.RunStatusPending})
		return nil
	})
}

// writeRunPathList lists the members of the batch as "iens  runpath  job"
func (c *Coordinator) writeRunPathList(members []*ensemble.Member) error {
	if c.RunPathList == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.RunPathList), 0755); err != nil {
		return fmt.Errorf("failed to create runpath list directory: %w", err)
	}
	f, err := os.Create(c.RunPathList)
	if err != nil {
		return fmt.Errorf("failed to create runpath list: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, m := range members {
		fmt.Fprintf(w, "%03d  %s  %s\n", m.Iens, m.RunPath, m.JobName)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write runpath list: %w", err)
	}
	return nil
}

func (c *Coordinator) submit(ctx context.Context, b Batch, members []*ensemble.Member) (*queue.Queue, error) {
	q := queue.New(c.Runner, c.MaxRunning)
	go q.Run(ctx)

	err := c.Pool.ForEach(ctx, len(members), func(ctx context.Context, i int) error {
		return q.Add(ctx, c.job(b, members[i]))
	})
	q.SubmitComplete()
	<-q.Done()
	if err != nil {
		return nil, fmt.Errorf("failed to submit jobs: %w", err)
	}
	return q, nil
}

func (c *Coordinator) job(b Batch, m *ensemble.Member) *queue.Job {
	parent := c.Vars
	if parent == nil {
		parent = subst.New()
	}
	vars := m.Subst(parent)
	steps := make([]queue.Step, len(b.Steps))
	for i, s := range b.Steps {
		args := make([]string, len(s.Args))
		for j, a := range s.Args {
			args[j] = vars.Substitute(a)
		}
		steps[i] = queue.Step{Name: s.Name, Executable: vars.Substitute(s.Executable), Args: args}
	}
	return &queue.Job{Iens: m.Iens, Name: m.JobName, RunPath: m.RunPath, Steps: steps}
}

// collect turns queue results into member statuses, loading the results of
// every successful run
func (c *Coordinator) collect(ctx context.Context, b Batch, q *queue.Queue, members []*ensemble.Member) {
	for _, m := range members {
		res, ok := q.Result(m.Iens)
		st := types.MemberStatus{FinishedAt: time.Now()}
		switch {
		case !ok:
			st.Status = types.RunStatusFailure
			st.Reason = "job never finished"
		case res.Status != types.RunStatusOK:
			st.Status = types.RunStatusFailure
			st.FailedJob = res.FailedJob
			st.Reason = res.Reason
			st.StderrFile = res.StderrFile
		default:
			st.Status = types.RunStatusOK
			if c.Loader != nil {
				if err := c.Loader.Load(ctx, m, b.Step1, b.Step2); err != nil {
					st.Status = types.RunStatusLoadFailure
					st.Reason = err.Error()
				}
			}
		}
		m.SetStatus(st)
		metrics.MemberRunsTotal.WithLabelValues(string(st.Status)).Inc()
		c.report(m.Status())
	}
}

func (c *Coordinator) report(st types.MemberStatus) {
	logger := log.WithMember(st.Iens)
	meta := map[string]string{"iens": strconv.Itoa(st.Iens), "run_path": st.RunPath}

	switch st.Status {
	case types.RunStatusOK:
		c.Events.Publish(events.New(events.EventMemberRunOK, "forward run completed", meta))
	case types.RunStatusFailure:
		ev := logger.Error().
			Str("run_path", st.RunPath).
			Str("job", st.FailedJob).
			Str("reason", st.Reason)
		if st.StderrFile != "" {
			ev = ev.Str("stderr", st.StderrFile)
		}
		ev.Msg("Forward model failed")
		meta["job"] = st.FailedJob
		c.Events.Publish(events.New(events.EventMemberRunFailed, st.Reason, meta))
	case types.RunStatusLoadFailure:
		logger.Error().
			Str("run_path", st.RunPath).
			Str("reason", st.Reason).
			Msg("Failed to load results")
		c.Events.Publish(events.New(events.EventMemberLoadFailed, st.Reason, meta))
	}
}
