package enkf

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/cuemby/enkf/pkg/config"
	"github.com/cuemby/enkf/pkg/localconfig"
	"github.com/cuemby/enkf/pkg/queue"
	"github.com/cuemby/enkf/pkg/storage"
	"github.com/cuemby/enkf/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseConfig = `
ensemble:
  size: 6
  enspath: storage
  runpath: runs/<ERTCASE>/realization-%d
  workers: 3
  max_running: 3
variables:
  - key: PORO
    type: parameter
    size: 3
    prior: {mean: 0.2, std: 0.05}
  - key: WOPR
    type: dynamic_result
observations:
  - key: "WOPR:OP-1"
    data: WOPR
    points:
      - {step: 1, index: 0, value: 0.25, std: 0.01}
      - {step: 2, index: 0, value: 0.3, std: 0.01}
forward_model:
  - name: SIM
    executable: sim
    args: ["<STEP1>", "<STEP2>"]
analysis:
  module: std_enkf
  alpha: 1000
  seed: 42
`

func newConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(baseConfig+extra), t.TempDir())
	require.NoError(t, err)
	return cfg
}

// simulator writes WOPR_<step>.txt = step * PORO[0] for every simulated step
func simulator() queue.Runner {
	return queue.RunnerFunc(func(_ context.Context, job *queue.Job) queue.Result {
		fail := func(err error) queue.Result {
			return queue.Result{Status: types.RunStatusFailure, FailedJob: "SIM", Reason: err.Error()}
		}
		args := job.Steps[0].Args
		step1, _ := strconv.Atoi(args[0])
		step2, _ := strconv.Atoi(args[1])
		poro, err := readValues(filepath.Join(job.RunPath, ParameterFile("PORO")))
		if err != nil {
			return fail(err)
		}
		for step := step1 + 1; step <= step2; step++ {
			err := writeValues(filepath.Join(job.RunPath, ResultFile("WOPR", step)), []float64{float64(step) * poro[0]})
			if err != nil {
				return fail(err)
			}
		}
		return queue.Result{Status: types.RunStatusOK}
	})
}

func bootstrap(t *testing.T, cfg *config.Config) *Main {
	t.Helper()
	m, err := Bootstrap(cfg, WithRunner(simulator()))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestUpdateStepList(t *testing.T) {
	tests := []struct {
		loadStart, step2, stride int
		want                     []int
	}{
		{0, 10, 0, []int{10}},
		{0, 5, 1, []int{1, 2, 3, 4, 5}},
		{3, 10, 3, []int{3, 6, 9, 10}},
		{4, 4, 2, []int{4}},
		{7, 12, 5, []int{7, 12}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%d-%d", tt.loadStart, tt.step2, tt.stride), func(t *testing.T) {
			assert.Equal(t, tt.want, UpdateStepList(tt.loadStart, tt.step2, tt.stride))
		})
	}
}

func TestBootstrap(t *testing.T) {
	cfg := newConfig(t, "")
	m := bootstrap(t, cfg)

	assert.Equal(t, storage.DefaultCase, m.Registry.Case())
	assert.Equal(t, 6, m.Ensemble.Size())
	assert.Equal(t, "std_enkf", m.Module.Descriptor().Name)
	assert.Equal(t, filepath.Join(cfg.Path("runs"), "default", "realization-2"), m.Ensemble.Member(2).RunPath)

	step, err := m.Local.UpdateStepFor(1)
	require.NoError(t, err)
	assert.Equal(t, localconfig.AllActiveName, step.Name)

	link, err := os.Readlink(filepath.Join(cfg.Ensemble.EnsPath, "current"))
	require.NoError(t, err)
	assert.Equal(t, "default", link)
	assert.FileExists(t, filepath.Join(cfg.Ensemble.EnsPath, "case.log"))

	assert.Equal(t, []config.ScheduleEntry{
		{From: 0, To: 1, Update: true},
		{From: 1, To: 2, Update: true},
	}, m.Schedule())
	assert.Equal(t, 2, m.LastStep())
}

// An ADD_OBS naming an observation that does not exist fails before any run
func TestBootstrapRejectsUnknownObservation(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local.txt")
	require.NoError(t, os.WriteFile(local, []byte(`
CREATE_UPDATESTEP  STEP
CREATE_OBSSET      OBS
CREATE_MINISTEP    MINI  OBS
ATTACH_MINISTEP    STEP  MINI
ADD_OBS            OBS   WOPR:A-1
INSTALL_DEFAULT_UPDATESTEP STEP
`), 0644))

	cfg := newConfig(t, "local_config: "+local+"\n")
	_, err := Bootstrap(cfg)
	require.Error(t, err)
	var cfgErr *localconfig.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "WOPR:A-1")
}

func TestInitializeFromScratch(t *testing.T) {
	m := bootstrap(t, newConfig(t, ""))
	ctx := context.Background()
	require.NoError(t, m.InitializeFromScratch(ctx, []string{"PORO"}, 0, 5, false))

	store := m.Store()
	first := make([][]float64, 6)
	for iens := range first {
		node, err := store.Load("PORO", types.NodeID{ReportStep: InitStep, Iens: iens, Phase: types.PhaseForecast})
		require.NoError(t, err)
		require.Len(t, node.Data, 3)
		first[iens] = node.Data
	}
	assert.NotEqual(t, first[0], first[1], "members draw independently")

	// Existing nodes are kept without force
	require.NoError(t, store.Save(&types.Node{Key: "PORO", Data: []float64{9, 9, 9}},
		types.NodeID{ReportStep: InitStep, Iens: 0, Phase: types.PhaseForecast}))
	require.NoError(t, m.InitializeFromScratch(ctx, []string{"PORO"}, 0, 1, false))
	node, err := store.Load("PORO", types.NodeID{ReportStep: InitStep, Iens: 0, Phase: types.PhaseForecast})
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 9, 9}, node.Data)

	// Forcing redraws the same values: the stream depends on seed and member only
	require.NoError(t, m.InitializeFromScratch(ctx, []string{"PORO"}, 0, 0, true))
	node, err = store.Load("PORO", types.NodeID{ReportStep: InitStep, Iens: 0, Phase: types.PhaseForecast})
	require.NoError(t, err)
	assert.Equal(t, first[0], node.Data)

	assert.Error(t, m.InitializeFromScratch(ctx, []string{"WOPR"}, 0, 0, false))
}

func TestRankBy(t *testing.T) {
	store := storage.NewMemoryStore("rank")
	values := []float64{3, 1, 2, 0}
	for iens, v := range values {
		require.NoError(t, store.Save(&types.Node{Key: "PORO", Data: []float64{v}},
			types.NodeID{ReportStep: 0, Iens: iens, Phase: types.PhaseForecast}))
	}
	mapping, err := RankBy(store, Ranking{Key: "PORO", Phase: types.PhaseForecast}, []int{0, 1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2, 0}, mapping)

	_, err = RankBy(store, Ranking{Key: "PORO", Phase: types.PhaseForecast, Index: 4}, []int{0})
	assert.Error(t, err)
}

func TestInitializeFromExisting(t *testing.T) {
	m := bootstrap(t, newConfig(t, ""))
	ctx := context.Background()
	require.NoError(t, m.InitializeFromScratch(ctx, []string{"PORO"}, 0, 5, false))
	require.NoError(t, m.SelectCase("second"))
	assert.Equal(t, "second", m.Registry.Case())
	assert.Contains(t, m.Ensemble.Member(0).RunPath, "second")

	members := []int{0, 1, 2, 3, 4, 5}
	ranking := &Ranking{Key: "PORO", Step: InitStep, Phase: types.PhaseForecast}
	require.NoError(t, m.InitializeFromExisting(ctx, "default", InitStep, types.PhaseForecast, members, ranking))

	prev := -1.0
	for _, iens := range members {
		node, err := m.Store().Load("PORO", types.NodeID{ReportStep: InitStep, Iens: iens, Phase: types.PhaseAnalyzed})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, node.Data[0], prev, "members ordered by ranking value")
		prev = node.Data[0]
	}
}

func TestForwardExportAndLoad(t *testing.T) {
	m := bootstrap(t, newConfig(t, ""))
	ctx := context.Background()
	store := storage.NewMemoryStore("fwd")
	member := m.Ensemble.Member(1)
	require.NoError(t, os.MkdirAll(member.RunPath, 0755))

	require.NoError(t, store.Save(&types.Node{Key: "PORO", Data: []float64{0.1, 0.2, 0.3}},
		types.NodeID{ReportStep: 0, Iens: 1, Phase: types.PhaseForecast}))
	exp := &FileExporter{Vars: m.Vars, Store: store}
	require.NoError(t, exp.Export(ctx, member, 0))
	data, err := readValues(filepath.Join(member.RunPath, "PORO.txt"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, data)

	// Analyzed nodes take precedence
	require.NoError(t, store.Save(&types.Node{Key: "PORO", Data: []float64{1, 2, 3}},
		types.NodeID{ReportStep: 0, Iens: 1, Phase: types.PhaseAnalyzed}))
	require.NoError(t, exp.Export(ctx, member, 0))
	data, err = readValues(filepath.Join(member.RunPath, "PORO.txt"))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, data)

	loader := &FileLoader{Vars: m.Vars, Store: store}
	err = loader.Load(ctx, member, 0, 1)
	require.Error(t, err, "WOPR_1.txt is missing")

	require.NoError(t, writeValues(filepath.Join(member.RunPath, ResultFile("WOPR", 1)), []float64{5}))
	require.NoError(t, loader.Load(ctx, member, 0, 1))
	node, err := store.Load("WOPR", types.NodeID{ReportStep: 1, Iens: 1, Phase: types.PhaseForecast})
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, node.Data)
	node, err = store.Load("PORO", types.NodeID{ReportStep: 1, Iens: 1, Phase: types.PhaseForecast})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, node.Data)

	require.NoError(t, os.WriteFile(filepath.Join(member.RunPath, ResultFile("WOPR", 1)), []byte("abc\n"), 0644))
	assert.Error(t, loader.Load(ctx, member, 0, 1))
}

func TestLoadNonFiniteResults(t *testing.T) {
	m := bootstrap(t, newConfig(t, ""))
	ctx := context.Background()
	member := m.Ensemble.Member(0)
	require.NoError(t, os.MkdirAll(member.RunPath, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(member.RunPath, ResultFile("WOPR", 1)), []byte("nan\n"), 0644))

	require.NoError(t, writeValues(filepath.Join(member.RunPath, ParameterFile("PORO")), []float64{0.1, math.Inf(1), 0.3}))

	// the case store is a bolt mount point
	loader := &FileLoader{Vars: m.Vars, Store: m.Store()}
	require.NoError(t, loader.Load(ctx, member, 0, 1))

	node, err := m.Store().Load("WOPR", types.NodeID{ReportStep: 1, Iens: 0, Phase: types.PhaseForecast})
	require.NoError(t, err)
	require.Len(t, node.Data, 1)
	assert.True(t, math.IsNaN(node.Data[0]))

	node, err = m.Store().Load("PORO", types.NodeID{ReportStep: 1, Iens: 0, Phase: types.PhaseForecast})
	require.NoError(t, err)
	assert.True(t, math.IsInf(node.Data[1], 1))
}

func TestRunExperiment(t *testing.T) {
	m := bootstrap(t, newConfig(t, ""))
	require.NoError(t, m.RunExperiment(context.Background(), nil, false))

	for iens := 0; iens < 6; iens++ {
		for _, step := range []int{1, 2} {
			has, err := m.Store().Has("WOPR", types.NodeID{ReportStep: step, Iens: iens, Phase: types.PhaseForecast})
			require.NoError(t, err)
			assert.True(t, has)
		}
	}
	assert.Len(t, m.ActiveMembers(), 6)
	assert.FileExists(t, m.Config.Ensemble.RunPathList)
}

func TestRunAssimilation(t *testing.T) {
	m := bootstrap(t, newConfig(t, ""))
	require.NoError(t, m.RunAssimilation(context.Background(), nil, 0))

	// every segment ends with an update at its last step
	for _, step := range []int{1, 2} {
		for iens := 0; iens < 6; iens++ {
			has, err := m.Store().Has("PORO", types.NodeID{ReportStep: step, Iens: iens, Phase: types.PhaseAnalyzed})
			require.NoError(t, err)
			assert.True(t, has, "step %d member %d", step, iens)
		}
	}
}

func TestRunAssimilationAbortsOnFailure(t *testing.T) {
	cfg := newConfig(t, "")
	m, err := Bootstrap(cfg, WithRunner(queue.RunnerFunc(func(_ context.Context, job *queue.Job) queue.Result {
		if job.Iens == 2 {
			return queue.Result{Status: types.RunStatusFailure, FailedJob: "SIM", Reason: "exit status 1"}
		}
		return simulator().Run(context.Background(), job)
	})))
	require.NoError(t, err)
	defer m.Close()

	err = m.RunAssimilation(context.Background(), nil, 0)
	require.ErrorIs(t, err, ErrForwardModel)
	has, err := m.Store().Has("PORO", types.NodeID{ReportStep: 1, Iens: 0, Phase: types.PhaseAnalyzed})
	require.NoError(t, err)
	assert.False(t, has, "no update after a failed batch")
}

func TestRunSmoother(t *testing.T) {
	m := bootstrap(t, newConfig(t, ""))
	require.NoError(t, m.RunSmoother(context.Background(), "smoothed", false))
	assert.Equal(t, "smoothed", m.Registry.Case())

	for iens := 0; iens < 6; iens++ {
		node, err := m.Store().Load("PORO", types.NodeID{ReportStep: InitStep, Iens: iens, Phase: types.PhaseAnalyzed})
		require.NoError(t, err)
		assert.Len(t, node.Data, 3)
		has, err := m.Store().Has("WOPR", types.NodeID{ReportStep: InitStep, Iens: iens, Phase: types.PhaseAnalyzed})
		require.NoError(t, err)
		assert.False(t, has, "smoother only updates parameters")
	}
}

func TestResize(t *testing.T) {
	m := bootstrap(t, newConfig(t, ""))
	m.Resize(3)
	assert.Equal(t, 3, m.Ensemble.Size())
	assert.Equal(t, 3, m.Config.Ensemble.Size)
}
