package enkf

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/cuemby/enkf/pkg/config"
	"github.com/cuemby/enkf/pkg/log"
	"github.com/cuemby/enkf/pkg/runner"
	"github.com/cuemby/enkf/pkg/storage"
	"github.com/cuemby/enkf/pkg/types"
	"github.com/cuemby/enkf/pkg/update"
)

// ErrForwardModel is returned when a batch ends with failed members
var ErrForwardModel = errors.New("problems with the forward model")

// UpdateStepList returns the report steps assimilated together. A zero
// stride selects step2 alone; otherwise steps run from max(1, loadStart) in
// stride increments, always ending with step2.
func UpdateStepList(loadStart, step2, stride int) []int {
	if stride == 0 {
		return []int{step2}
	}
	var steps []int
	step := max(1, loadStart)
	for {
		steps = append(steps, step)
		if step >= step2 {
			break
		}
		step += stride
		if step >= step2 {
			steps = append(steps, step2)
			break
		}
	}
	return steps
}

// Schedule returns the configured schedule. Without one, a segment ending
// at every observed report step is assimilated.
func (m *Main) Schedule() []config.ScheduleEntry {
	if len(m.Config.Schedule) > 0 {
		return m.Config.Schedule
	}
	var schedule []config.ScheduleEntry
	from := 0
	for _, step := range m.Obs.Steps() {
		if step <= from {
			continue
		}
		schedule = append(schedule, config.ScheduleEntry{From: from, To: step, Update: true})
		from = step
	}
	return schedule
}

// LastStep is the final report step of the schedule
func (m *Main) LastStep() int {
	schedule := m.Schedule()
	if len(schedule) == 0 {
		return 0
	}
	return schedule[len(schedule)-1].To
}

// ActiveMembers returns the members that take part in an update: every
// member whose last run did not fail and that is not inactive
func (m *Main) ActiveMembers() []int {
	var out []int
	for _, st := range m.Ensemble.Statuses() {
		switch st.Status {
		case types.RunStatusInactive, types.RunStatusFailure, types.RunStatusLoadFailure:
			continue
		}
		out = append(out, st.Iens)
	}
	return out
}

func (m *Main) coordinator(store storage.Store) *runner.Coordinator {
	return &runner.Coordinator{
		Pool:        m.Pool,
		Runner:      m.Runner,
		MaxRunning:  m.Config.Ensemble.MaxRunning,
		Exporter:    &FileExporter{Vars: m.Vars, Store: store},
		Loader:      &FileLoader{Vars: m.Vars, Store: store},
		Store:       store,
		Vars:        m.Subst,
		RunPathList: m.Config.Ensemble.RunPathList,
		Events:      m.Events,
	}
}

// RunStep runs one forward batch of the current case: input is exported
// from initStep, the forward model simulates from step1 to step2 and results
// are loaded for report steps (loadFrom, step2].
func (m *Main) RunStep(ctx context.Context, active []bool, initStep, step1, loadFrom, step2 int) (*runner.BatchResult, error) {
	store := m.Store()
	if store == nil {
		return nil, fmt.Errorf("no case selected")
	}
	m.Subst.Set("<INIT_STEP>", strconv.Itoa(initStep), "Report step the input state is taken from")
	m.Subst.Set("<STEP1>", strconv.Itoa(step1), "First report step simulated")
	m.Subst.Set("<STEP2>", strconv.Itoa(step2), "Last report step simulated")

	res, err := m.coordinator(store).Run(ctx, runner.Batch{
		Ensemble: m.Ensemble,
		Active:   active,
		InitStep: initStep,
		Step1:    loadFrom,
		Step2:    step2,
		Steps:    m.Config.Steps(),
		PreClear: m.Config.Ensemble.PreClearRunPath,
	})
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return res, fmt.Errorf("%w: members %v failed", ErrForwardModel, res.Failed)
	}
	return res, nil
}

// RunExperiment initializes missing parameters and runs the whole schedule
// in one batch without updates. With initOnly the batch is skipped.
func (m *Main) RunExperiment(ctx context.Context, active []bool, initOnly bool) error {
	if err := m.initializeParameters(ctx); err != nil {
		return err
	}
	if initOnly {
		return nil
	}
	_, err := m.RunStep(ctx, active, InitStep, 0, 0, m.LastStep())
	return err
}

func (m *Main) initializeParameters(ctx context.Context) error {
	var keys []string
	for _, key := range m.Parameters() {
		if v, _ := m.Vars.Get(key); v.Prior != nil {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return m.InitializeFromScratch(ctx, keys, 0, m.Ensemble.Size()-1, false)
}

// RunAssimilation runs the schedule segment by segment from startStep,
// assimilating after every segment marked for update. The loop stops at the
// first failed batch.
func (m *Main) RunAssimilation(ctx context.Context, active []bool, startStep int) error {
	if err := m.initializeParameters(ctx); err != nil {
		return err
	}
	logger := log.WithComponent("enkf")
	analysis := m.Config.Analysis

	for _, seg := range m.Schedule() {
		if seg.To <= startStep {
			continue
		}
		from := max(seg.From, startStep)
		step1 := from
		if analysis.Rerun {
			step1 = analysis.RerunStart
		}
		loadStart := from
		if loadStart > 0 {
			loadStart++
		}

		logger.Info().
			Int("from", from).
			Int("to", seg.To).
			Bool("update", seg.Update).
			Msg("Running schedule segment")
		if _, err := m.RunStep(ctx, active, from, step1, from, seg.To); err != nil {
			return err
		}

		if seg.Update {
			stride := 0
			if analysis.MergeObservations {
				stride = 1
			}
			if _, err := m.AssimilationUpdate(ctx, UpdateStepList(loadStart, seg.To, stride)); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunSmoother runs the whole schedule, updates the parameters of every
// member against all observations into targetCase and makes that case
// current. With rerun the ensemble is run again from the updated parameters.
func (m *Main) RunSmoother(ctx context.Context, targetCase string, rerun bool) error {
	if err := m.RunExperiment(ctx, nil, false); err != nil {
		return err
	}

	target, err := m.Registry.Open(targetCase, true)
	if err != nil {
		return err
	}
	stepList := UpdateStepList(0, m.LastStep(), 1)
	_, err = m.SmootherUpdate(ctx, stepList, target)
	if relErr := m.Registry.Release(target); err == nil && relErr != nil {
		err = fmt.Errorf("failed to close target case: %w", relErr)
	}
	if err != nil {
		return err
	}

	if err := m.SelectCase(targetCase); err != nil {
		return err
	}
	if !rerun {
		return nil
	}
	_, err = m.RunStep(ctx, nil, InitStep, 0, 0, m.LastStep())
	return err
}

func (m *Main) updater(step int) *update.Updater {
	analysis := m.Config.Analysis
	return &update.Updater{
		Pool:   m.Pool,
		Vars:   m.Vars,
		Obs:    m.Obs,
		Local:  m.Local,
		Module: m.Module,
		Settings: update.Settings{
			Alpha:           analysis.Alpha,
			StdCutoff:       analysis.StdCutoff,
			LogPath:         analysis.LogPath,
			MatrixStartRows: analysis.MatrixStartRows,
			Rand:            rand.New(rand.NewPCG(m.seed, uint64(step)+1<<32)),
		},
		Events: m.Events,
	}
}

// AssimilationUpdate updates the current case in place at the last step of
// stepList: forecasts at that step are read and ANALYZED nodes written next
// to them
func (m *Main) AssimilationUpdate(ctx context.Context, stepList []int) (*update.Result, error) {
	if len(stepList) == 0 {
		return nil, fmt.Errorf("empty step list")
	}
	store := m.Store()
	if store == nil {
		return nil, fmt.Errorf("no case selected")
	}
	last := stepList[len(stepList)-1]
	return m.updater(last).Update(ctx, update.Request{
		StepList:   stepList,
		Source:     store,
		Target:     store,
		LoadStep:   last,
		TargetStep: last,
		Members:    m.ActiveMembers(),
		Mode:       types.RunModeAssimilation,
	})
}

// SmootherUpdate updates the parameters of the current case against the
// observations of stepList and writes them as ANALYZED at the init step of
// target. Parameters are read where the last batch stored them, at the last
// step of stepList, falling back to the init step.
func (m *Main) SmootherUpdate(ctx context.Context, stepList []int, target storage.Store) (*update.Result, error) {
	if len(stepList) == 0 {
		return nil, fmt.Errorf("empty step list")
	}
	source := m.Store()
	if source == nil {
		return nil, fmt.Errorf("no case selected")
	}
	loadStep := stepList[len(stepList)-1]
	members := m.ActiveMembers()
	if len(members) > 0 {
		for _, key := range m.Parameters() {
			has, err := source.Has(key, types.NodeID{ReportStep: loadStep, Iens: members[0], Phase: types.PhaseForecast})
			if err != nil {
				return nil, err
			}
			if !has {
				loadStep = InitStep
				break
			}
		}
	}
	return m.updater(loadStep).Update(ctx, update.Request{
		StepList:       stepList,
		Source:         source,
		Target:         target,
		LoadStep:       loadStep,
		TargetStep:     InitStep,
		Members:        members,
		ParametersOnly: true,
		Mode:           types.RunModeSmoother,
	})
}
