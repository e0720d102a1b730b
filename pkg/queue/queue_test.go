package queue

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/enkf/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsEveryJob(t *testing.T) {
	var inFlight, peak atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, job *Job) Result {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		if job.Iens == 3 {
			return Result{Status: types.RunStatusFailure, FailedJob: "SIM", Reason: "exit status 1"}
		}
		return Result{}
	})

	q := New(runner, 2)
	ctx := context.Background()
	go q.Run(ctx)

	for iens := 0; iens < 6; iens++ {
		require.NoError(t, q.Add(ctx, &Job{Iens: iens, Name: "job"}))
	}
	q.SubmitComplete()

	select {
	case <-q.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not finish")
	}

	results := q.Results()
	require.Len(t, results, 6)
	for i, r := range results {
		assert.Equal(t, i, r.Iens)
	}
	assert.Equal(t, types.RunStatusOK, results[0].Status)
	assert.Equal(t, types.RunStatusFailure, results[3].Status)
	assert.Equal(t, "SIM", results[3].FailedJob)
	assert.LessOrEqual(t, peak.Load(), int32(2))

	_, ok := q.Result(5)
	assert.True(t, ok)
	assert.ErrorIs(t, q.Add(ctx, &Job{Iens: 9}), ErrClosed)
}

func TestQueueEmptyBatch(t *testing.T) {
	q := New(RunnerFunc(func(context.Context, *Job) Result { return Result{} }), 0)
	go q.Run(context.Background())
	q.SubmitComplete()
	q.SubmitComplete()
	<-q.Done()
	assert.Empty(t, q.Results())
}

func TestQueueStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := New(RunnerFunc(func(context.Context, *Job) Result { return Result{} }), 1)
	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Error(t, q.Add(context.Background(), &Job{Iens: 0}))
}

func TestExecRunner(t *testing.T) {
	tests := []struct {
		name       string
		steps      []Step
		wantStatus types.RunStatus
		wantFailed string
		wantStderr bool
	}{
		{
			name: "all steps succeed",
			steps: []Step{
				{Name: "PREP", Executable: "sh", Args: []string{"-c", "echo ready > prep.txt"}},
				{Name: "SIM", Executable: "sh", Args: []string{"-c", "cat prep.txt"}},
			},
			wantStatus: types.RunStatusOK,
		},
		{
			name: "second step fails",
			steps: []Step{
				{Name: "PREP", Executable: "true"},
				{Name: "SIM", Executable: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}},
				{Name: "POST", Executable: "true"},
			},
			wantStatus: types.RunStatusFailure,
			wantFailed: "SIM",
			wantStderr: true,
		},
		{
			name:       "missing executable",
			steps:      []Step{{Name: "SIM"}},
			wantStatus: types.RunStatusFailure,
			wantFailed: "SIM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			res := NewExecRunner().WithTimeout(10*time.Second).Run(context.Background(), &Job{
				Iens:    1,
				Name:    "CASE-1",
				RunPath: dir,
				Steps:   tt.steps,
			})
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantFailed, res.FailedJob)
			if tt.wantStatus != types.RunStatusOK {
				assert.NotEmpty(t, res.Reason)
			}
			if tt.wantStderr {
				require.NotEmpty(t, res.StderrFile)
				data, err := os.ReadFile(res.StderrFile)
				require.NoError(t, err)
				assert.Equal(t, "boom\n", string(data))
				assert.Equal(t, filepath.Join(dir, "SIM.stderr.1"), res.StderrFile)
			} else {
				assert.Empty(t, res.StderrFile)
			}
		})
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	res := NewExecRunner().WithTimeout(50*time.Millisecond).Run(context.Background(), &Job{
		RunPath: t.TempDir(),
		Steps:   []Step{{Name: "SLEEP", Executable: "sleep", Args: []string{"5"}}},
	})
	assert.Equal(t, types.RunStatusFailure, res.Status)
	assert.Contains(t, res.Reason, "timed out")
}
