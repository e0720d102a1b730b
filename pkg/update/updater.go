package update

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/cuemby/enkf/pkg/analysis"
	"github.com/cuemby/enkf/pkg/ensemble"
	"github.com/cuemby/enkf/pkg/events"
	"github.com/cuemby/enkf/pkg/localconfig"
	"github.com/cuemby/enkf/pkg/log"
	"github.com/cuemby/enkf/pkg/metrics"
	"github.com/cuemby/enkf/pkg/obs"
	"github.com/cuemby/enkf/pkg/parallel"
	"github.com/cuemby/enkf/pkg/storage"
	"github.com/cuemby/enkf/pkg/types"
	"gonum.org/v1/gonum/mat"
)

// Settings are the tunables of the update
type Settings struct {
	// Alpha and StdCutoff drive outlier deactivation
	Alpha     float64
	StdCutoff float64

	// LogPath receives one observation summary file per update; empty
	// disables the summary
	LogPath string

	// MatrixStartRows is the initial row capacity of the state matrix
	MatrixStartRows int

	Rand *rand.Rand
}

// Updater runs the analysis for one update step: every ministep collects its
// observations, drops outliers and updates each of its datasets through the
// analysis module.
type Updater struct {
	Pool     *parallel.Pool
	Vars     *ensemble.Catalogue
	Obs      *obs.Catalogue
	Local    *localconfig.Config
	Module   analysis.Module
	Settings Settings
	Events   *events.Broker
}

// Request selects what one Update call reads and writes
type Request struct {
	// StepList holds the report steps whose observations are assimilated;
	// its last step selects the installed update step
	StepList []int

	Source storage.Store
	Target storage.Store

	LoadStep   int
	TargetStep int

	// Members are the active members, all of which must have a forecast
	Members []int

	// ParametersOnly restricts the update to parameters (smoother)
	ParametersOnly bool

	Mode types.RunMode
}

// MinistepResult summarizes one ministep
type MinistepResult struct {
	Name        string
	TotalObs    int
	ActiveObs   int
	Deactivated int
	Skipped     bool
	Rows        int
	LogFile     string
}

// Result summarizes one update
type Result struct {
	UpdateStep string
	Ministeps  []MinistepResult
	Inflated   []string
}

// Update applies the installed update step for the last report step of
// req.StepList
func (u *Updater) Update(ctx context.Context, req Request) (*Result, error) {
	if len(req.StepList) == 0 {
		return nil, fmt.Errorf("empty step list")
	}
	if len(req.Members) == 0 {
		return nil, fmt.Errorf("no active members to update")
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.UpdateDuration, string(req.Mode))
	metrics.SetPhase("update")
	defer metrics.SetPhase("idle")

	reportStep := req.StepList[len(req.StepList)-1]
	step, err := u.Local.UpdateStepFor(reportStep)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("update")
	logger.Info().
		Str("update_step", step.Name).
		Ints("steps", req.StepList).
		Int("members", len(req.Members)).
		Str("mode", string(req.Mode)).
		Msg("Starting update")

	ser := &Serializer{
		Pool:           u.Pool,
		Vars:           u.Vars,
		Source:         req.Source,
		Target:         req.Target,
		LoadStep:       req.LoadStep,
		TargetStep:     req.TargetStep,
		Members:        req.Members,
		ParametersOnly: req.ParametersOnly,
	}
	uc := NewContext()
	buf := NewBuffer(u.Settings.MatrixStartRows, len(req.Members))
	result := &Result{UpdateStep: step.Name}

	for _, ministep := range step.Ministeps() {
		mr, err := u.runMinistep(ctx, ministep, req, ser, uc, buf)
		if err != nil {
			return result, fmt.Errorf("ministep %s: %w", ministep.Name, err)
		}
		result.Ministeps = append(result.Ministeps, mr)
	}

	var updated []string
	for _, key := range u.Vars.Keys() {
		if uc.Usage(key) > 0 {
			updated = append(updated, key)
		}
	}
	result.Inflated, err = ser.Inflate(ctx, updated)
	if err != nil {
		return result, err
	}

	if err := req.Target.Sync(); err != nil {
		return result, fmt.Errorf("failed to sync target store: %w", err)
	}

	u.Events.Publish(events.New(events.EventUpdateCompleted,
		fmt.Sprintf("update step %s applied at report step %d", step.Name, reportStep),
		map[string]string{
			"update_step": step.Name,
			"report_step": strconv.Itoa(reportStep),
			"mode":        string(req.Mode),
		}))
	logger.Info().
		Str("update_step", step.Name).
		Dur("duration", timer.Duration()).
		Strs("inflated", result.Inflated).
		Msg("Update completed")
	return result, nil
}

func (u *Updater) runMinistep(ctx context.Context, ministep *localconfig.Ministep, req Request,
	ser *Serializer, uc *Context, buf *Buffer) (MinistepResult, error) {
	logger := log.WithMinistep(ministep.Name)
	mr := MinistepResult{Name: ministep.Name}

	data, err := obs.Collect(ctx, u.Pool, obs.CollectRequest{
		Catalogue: u.Obs,
		ObsSet:    ministep.ObsSet,
		Steps:     req.StepList,
		Members:   req.Members,
		Store:     req.Source,
	})
	if err != nil {
		return mr, err
	}
	mr.TotalObs = len(data.Obs)
	mr.Deactivated = data.DeactivateOutliers(u.Settings.StdCutoff, u.Settings.Alpha)
	mr.ActiveObs = data.ActiveSize()
	for _, o := range data.Obs {
		if !o.Active {
			metrics.DeactivatedObservations.WithLabelValues(o.Reason).Inc()
		}
	}

	if u.Settings.LogPath != "" {
		path, err := data.AppendSummary(u.Settings.LogPath, req.StepList[0], req.StepList[len(req.StepList)-1], ministep.Name)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to write observation summary")
		}
		mr.LogFile = path
	}

	if mr.ActiveObs == 0 {
		mr.Skipped = true
		metrics.MinistepsSkipped.Inc()
		logger.Warn().
			Int("observations", mr.TotalObs).
			Msg("No active observations, skipping ministep")
		u.Events.Publish(events.New(events.EventMinistepSkipped,
			fmt.Sprintf("ministep %s has no active observations", ministep.Name),
			map[string]string{"ministep": ministep.Name}))
		return mr, nil
	}
	metrics.ActiveObservations.Set(float64(mr.ActiveObs))

	desc := u.Module.Descriptor()
	mats, err := data.Matrices(obs.MatrixOptions{
		Perturb: desc.NeedsPerturbations,
		Scale:   desc.ScaleData,
		Rand:    u.Settings.Rand,
	})
	if err != nil {
		return mr, err
	}
	if err := u.Module.InitUpdate(&analysis.Input{S: mats.S, R: mats.R, DObs: mats.DObs, E: mats.E, D: mats.D}); err != nil {
		return mr, err
	}

	var X *mat.Dense
	if desc.Mode == analysis.ComputeTransform && !desc.UsesA {
		if X, err = u.Module.InitX(nil); err != nil {
			return mr, err
		}
	}

	for _, ds := range ministep.Datasets() {
		table, err := ser.SerializeDataset(ctx, uc, ds, buf)
		if err != nil {
			return mr, err
		}
		rows := table.Rows()
		if rows == 0 {
			logger.Debug().Str("dataset", ds.Name).Msg("Dataset has no active elements")
			continue
		}
		mr.Rows += rows
		metrics.SerializedRows.Add(float64(rows))

		A := buf.Dense()
		switch desc.Mode {
		case analysis.ComputeTransform:
			x := X
			if desc.UsesA {
				if x, err = u.Module.InitX(A); err != nil {
					return mr, err
				}
			}
			if err := MultiplyX(ctx, u.Pool, A, x); err != nil {
				return mr, err
			}
		case analysis.UpdateInPlace:
			if err := u.Module.UpdateA(A); err != nil {
				return mr, err
			}
		}

		if err := ser.DeserializeDataset(ctx, table, buf); err != nil {
			return mr, err
		}
		logger.Debug().Str("dataset", ds.Name).Int("rows", rows).Msg("Dataset updated")
	}

	if err := u.Module.CompleteUpdate(); err != nil {
		return mr, err
	}
	logger.Info().
		Int("active_observations", mr.ActiveObs).
		Int("deactivated", mr.Deactivated).
		Int("rows", mr.Rows).
		Msg("Ministep analyzed")
	return mr, nil
}
