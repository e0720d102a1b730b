// Package config loads the YAML configuration of an ensemble experiment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cuemby/enkf/pkg/analysis"
	"github.com/cuemby/enkf/pkg/ensemble"
	"github.com/cuemby/enkf/pkg/obs"
	"github.com/cuemby/enkf/pkg/queue"
	"github.com/cuemby/enkf/pkg/types"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default values applied before validation
const (
	DefaultCase            = "default"
	DefaultJobName         = "ECL-%d"
	DefaultModule          = "std_enkf"
	DefaultAlpha           = 1.5
	DefaultStdCutoff       = 1e-6
	DefaultTruncation      = 0.99
	DefaultMatrixStartRows = 1000
	DefaultLogLevel        = "info"
	DefaultRunPathList     = "runpath_list"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("analysis_module", func(fl validator.FieldLevel) bool {
		_, err := analysis.New(fl.Field().String(), analysis.Options{})
		return err == nil
	})
}

// Config is the root of the configuration file
type Config struct {
	Ensemble     EnsembleConfig      `yaml:"ensemble"`
	Variables    []VariableConfig    `yaml:"variables" validate:"required,min=1,dive"`
	Observations []ObservationConfig `yaml:"observations" validate:"dive"`
	Analysis     AnalysisConfig      `yaml:"analysis"`
	Schedule     []ScheduleEntry     `yaml:"schedule" validate:"dive"`
	ForwardModel []StepConfig        `yaml:"forward_model" validate:"dive"`

	// LocalConfig is an optional command file replacing the ALL_ACTIVE
	// default update step
	LocalConfig string `yaml:"local_config"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`

	// dir is the directory relative paths are resolved against
	dir string
}

// EnsembleConfig sizes the ensemble and lays out its files
type EnsembleConfig struct {
	Size            int    `yaml:"size" validate:"gt=0"`
	EnsPath         string `yaml:"enspath" validate:"required"`
	Case            string `yaml:"case"`
	RunPath         string `yaml:"runpath" validate:"required"`
	JobName         string `yaml:"jobname"`
	RunPathList     string `yaml:"runpath_list"`
	PreClearRunPath bool   `yaml:"pre_clear_runpath"`
	Workers         int    `yaml:"workers" validate:"gte=0"`
	MaxRunning      int    `yaml:"max_running" validate:"gte=0"`
}

// PriorConfig is the normal distribution a parameter is drawn from
type PriorConfig struct {
	Mean float64 `yaml:"mean"`
	Std  float64 `yaml:"std" validate:"gte=0"`
}

// VariableConfig declares one catalogue entry
type VariableConfig struct {
	Key    string       `yaml:"key" validate:"required"`
	Type   string       `yaml:"type" validate:"required,oneof=parameter dynamic_state dynamic_result"`
	Size   int          `yaml:"size" validate:"gte=0"`
	Mask   []bool       `yaml:"mask"`
	Prior  *PriorConfig `yaml:"prior"`
	MinStd float64      `yaml:"min_std" validate:"gte=0"`
}

// ObservationConfig declares one observation vector
type ObservationConfig struct {
	Key    string      `yaml:"key" validate:"required"`
	Data   string      `yaml:"data" validate:"required"`
	Points []obs.Point `yaml:"points" validate:"required,min=1"`
}

// AnalysisConfig tunes the update
type AnalysisConfig struct {
	Module            string  `yaml:"module" validate:"analysis_module"`
	Alpha             float64 `yaml:"alpha" validate:"gt=0"`
	StdCutoff         float64 `yaml:"std_cutoff" validate:"gte=0"`
	Truncation        float64 `yaml:"truncation" validate:"gt=0,lte=1"`
	ScaleData         bool    `yaml:"scale_data"`
	MergeObservations bool    `yaml:"merge_observations"`
	SingleNodeUpdate  bool    `yaml:"single_node_update"`
	UpdateResults     bool    `yaml:"update_results"`
	LogPath           string  `yaml:"log_path"`
	Seed              uint64  `yaml:"seed"`
	Rerun             bool    `yaml:"rerun"`
	RerunStart        int     `yaml:"rerun_start" validate:"gte=0"`
	MatrixStartRows   int     `yaml:"matrix_start_rows" validate:"gte=0"`
}

// ScheduleEntry is one forward-run segment of the assimilation schedule.
// Members are run from report step From to To; when Update is set the
// observations up to To are assimilated afterwards.
type ScheduleEntry struct {
	From   int  `yaml:"from" validate:"gte=0"`
	To     int  `yaml:"to" validate:"gtfield=From"`
	Update bool `yaml:"update"`
}

// StepConfig is one forward-model executable
type StepConfig struct {
	Name       string   `yaml:"name" validate:"required"`
	Executable string   `yaml:"executable" validate:"required"`
	Args       []string `yaml:"args"`
}

// LogConfig configures pkg/log
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig configures the metrics endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads, defaults and validates the configuration at path. Relative
// paths in the file are resolved against its directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	return Parse(data, filepath.Dir(abs))
}

// Parse decodes a configuration document. dir is used to resolve relative
// paths; empty leaves them as written.
func Parse(data []byte, dir string) (*Config, error) {
	cfg := &Config{dir: dir}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.resolvePaths()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Ensemble.Case == "" {
		c.Ensemble.Case = DefaultCase
	}
	if c.Ensemble.JobName == "" {
		c.Ensemble.JobName = DefaultJobName
	}
	if c.Ensemble.RunPathList == "" {
		c.Ensemble.RunPathList = DefaultRunPathList
	}
	if c.Ensemble.Workers == 0 {
		c.Ensemble.Workers = runtime.NumCPU()
	}
	if c.Analysis.Module == "" {
		c.Analysis.Module = DefaultModule
	}
	if c.Analysis.Alpha == 0 {
		c.Analysis.Alpha = DefaultAlpha
	}
	if c.Analysis.StdCutoff == 0 {
		c.Analysis.StdCutoff = DefaultStdCutoff
	}
	if c.Analysis.Truncation == 0 {
		c.Analysis.Truncation = DefaultTruncation
	}
	if c.Analysis.MatrixStartRows == 0 {
		c.Analysis.MatrixStartRows = DefaultMatrixStartRows
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate runs the struct validation and the cross-field checks it cannot
// express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	vars := make(map[string]bool, len(c.Variables))
	for _, v := range c.Variables {
		if vars[v.Key] {
			errs = append(errs, fmt.Errorf("variable %s defined twice", v.Key))
		}
		vars[v.Key] = true
		if len(v.Mask) > 0 && v.Size > 0 && len(v.Mask) != v.Size {
			errs = append(errs, fmt.Errorf("variable %s: mask has %d elements, size is %d", v.Key, len(v.Mask), v.Size))
		}
		if v.Prior != nil && v.Type != string(types.VarParameter) {
			errs = append(errs, fmt.Errorf("variable %s: only parameters take a prior", v.Key))
		}
	}
	for _, o := range c.Observations {
		if !vars[o.Data] {
			errs = append(errs, fmt.Errorf("observation %s: unknown variable %s", o.Key, o.Data))
		}
	}
	for i := 1; i < len(c.Schedule); i++ {
		if c.Schedule[i].From != c.Schedule[i-1].To {
			errs = append(errs, fmt.Errorf("schedule entry %d starts at %d, previous ends at %d",
				i, c.Schedule[i].From, c.Schedule[i-1].To))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) resolvePaths() {
	c.Ensemble.EnsPath = c.Path(c.Ensemble.EnsPath)
	c.Ensemble.RunPath = c.Path(c.Ensemble.RunPath)
	c.Ensemble.RunPathList = c.Path(c.Ensemble.RunPathList)
	if c.Analysis.LogPath != "" {
		c.Analysis.LogPath = c.Path(c.Analysis.LogPath)
	}
	if c.LocalConfig != "" {
		c.LocalConfig = c.Path(c.LocalConfig)
	}
}

// Path resolves p against the configuration directory
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// Catalogue builds the variable catalogue
func (c *Config) Catalogue() (*ensemble.Catalogue, error) {
	vars := make([]*ensemble.Variable, 0, len(c.Variables))
	for _, vc := range c.Variables {
		v := ensemble.NewVariable(vc.Key, types.VarType(vc.Type), vc.Size)
		if len(vc.Mask) > 0 {
			v.WithMask(vc.Mask)
		}
		if vc.Prior != nil {
			v.Prior = &ensemble.Prior{Mean: vc.Prior.Mean, Std: vc.Prior.Std}
		}
		v.MinStd = vc.MinStd
		vars = append(vars, v)
	}
	return ensemble.NewCatalogue(vars...)
}

// ObsCatalogue builds the observation catalogue
func (c *Config) ObsCatalogue() (*obs.Catalogue, error) {
	vectors := make([]*obs.Vector, 0, len(c.Observations))
	for _, oc := range c.Observations {
		points := make([]obs.Point, len(oc.Points))
		copy(points, oc.Points)
		vectors = append(vectors, &obs.Vector{Key: oc.Key, DataKey: oc.Data, Points: points})
	}
	return obs.NewCatalogue(vectors...)
}

// Layout returns the member path formats
func (c *Config) Layout() ensemble.Layout {
	return ensemble.Layout{RunPathFormat: c.Ensemble.RunPath, JobNameFormat: c.Ensemble.JobName}
}

// Steps returns the forward model
func (c *Config) Steps() []queue.Step {
	steps := make([]queue.Step, len(c.ForwardModel))
	for i, s := range c.ForwardModel {
		args := make([]string, len(s.Args))
		copy(args, s.Args)
		steps[i] = queue.Step{Name: s.Name, Executable: s.Executable, Args: args}
	}
	return steps
}

// AnalysisOptions returns the module construction options
func (c *Config) AnalysisOptions() analysis.Options {
	return analysis.Options{Truncation: c.Analysis.Truncation, ScaleData: c.Analysis.ScaleData}
}
