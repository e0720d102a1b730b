package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/enkf/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
ensemble:
  size: 8
  enspath: storage
  runpath: simulations/realization-%d
  max_running: 4
variables:
  - key: PORO
    type: parameter
    size: 4
    mask: [true, true, false, true]
    prior: {mean: 0.25, std: 0.05}
    min_std: 0.01
  - key: WOPR
    type: dynamic_result
observations:
  - key: "WOPR:OP-1"
    data: WOPR
    points:
      - {step: 1, index: 0, value: 120.5, std: 10}
      - {step: 2, index: 0, value: 118.0, std: 10}
schedule:
  - {from: 0, to: 1, update: true}
  - {from: 1, to: 2, update: true}
forward_model:
  - name: SIM
    executable: ./simulate.sh
    args: ["<ECLBASE>", "<IENS>"]
analysis:
  module: direct_enkf
  log_path: update_log
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample), "/work")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Ensemble.Size)
	assert.Equal(t, "/work/storage", cfg.Ensemble.EnsPath)
	assert.Equal(t, "/work/simulations/realization-%d", cfg.Ensemble.RunPath)
	assert.Equal(t, "/work/runpath_list", cfg.Ensemble.RunPathList)
	assert.Equal(t, "/work/update_log", cfg.Analysis.LogPath)
	assert.Equal(t, DefaultCase, cfg.Ensemble.Case)
	assert.Equal(t, DefaultJobName, cfg.Ensemble.JobName)
	assert.Greater(t, cfg.Ensemble.Workers, 0)
	assert.Equal(t, "direct_enkf", cfg.Analysis.Module)
	assert.Equal(t, DefaultAlpha, cfg.Analysis.Alpha)
	assert.Equal(t, DefaultStdCutoff, cfg.Analysis.StdCutoff)
	assert.Equal(t, DefaultTruncation, cfg.Analysis.Truncation)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)

	vars, err := cfg.Catalogue()
	require.NoError(t, err)
	assert.Equal(t, []string{"PORO", "WOPR"}, vars.Keys())
	poro, ok := vars.Get("PORO")
	require.True(t, ok)
	assert.Equal(t, []int{0, 1, 3}, poro.ActiveIndices())
	require.NotNil(t, poro.Prior)
	assert.Equal(t, 0.25, poro.Prior.Mean)
	assert.Equal(t, 0.01, poro.MinStd)
	wopr, _ := vars.Get("WOPR")
	assert.Equal(t, types.VarDynamicResult, wopr.VarType)
	_, fixed := wopr.DataSize()
	assert.False(t, fixed)

	obsCat, err := cfg.ObsCatalogue()
	require.NoError(t, err)
	assert.Equal(t, []string{"WOPR:OP-1"}, obsCat.Keys())
	assert.Equal(t, []int{1, 2}, obsCat.Steps())

	steps := cfg.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, []string{"<ECLBASE>", "<IENS>"}, steps[0].Args)

	assert.Equal(t, "/work/simulations/realization-%d", cfg.Layout().RunPathFormat)
	assert.Equal(t, DefaultTruncation, cfg.AnalysisOptions().Truncation)
}

func TestLoadResolvesAgainstFileDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "enkf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "storage"), cfg.Ensemble.EnsPath)
	assert.Equal(t, filepath.Join(dir, "x"), cfg.Path("x"))
	assert.Equal(t, "/abs", cfg.Path("/abs"))

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(string) string
		wantErr string
	}{
		{
			name:    "zero ensemble size",
			edit:    func(s string) string { return strings.Replace(s, "size: 8", "size: 0", 1) },
			wantErr: "Size",
		},
		{
			name:    "unknown variable type",
			edit:    func(s string) string { return strings.Replace(s, "type: dynamic_result", "type: surface", 1) },
			wantErr: "Type",
		},
		{
			name:    "unknown analysis module",
			edit:    func(s string) string { return strings.Replace(s, "module: direct_enkf", "module: ies", 1) },
			wantErr: "Module",
		},
		{
			name:    "mask length",
			edit:    func(s string) string { return strings.Replace(s, "size: 4", "size: 5", 1) },
			wantErr: "mask has 4 elements",
		},
		{
			name:    "observation of unknown variable",
			edit:    func(s string) string { return strings.Replace(s, "data: WOPR", "data: WWCT", 1) },
			wantErr: "unknown variable WWCT",
		},
		{
			name:    "schedule gap",
			edit:    func(s string) string { return strings.Replace(s, "{from: 1, to: 2", "{from: 2, to: 3", 1) },
			wantErr: "schedule entry 1",
		},
		{
			name:    "empty schedule segment",
			edit:    func(s string) string { return strings.Replace(s, "{from: 0, to: 1", "{from: 1, to: 1", 1) },
			wantErr: "To",
		},
		{
			name:    "unknown field",
			edit:    func(s string) string { return s + "bogus: 1\n" },
			wantErr: "bogus",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.edit(sample)), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
