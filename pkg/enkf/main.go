package enkf

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/cuemby/enkf/pkg/analysis"
	"github.com/cuemby/enkf/pkg/config"
	"github.com/cuemby/enkf/pkg/ensemble"
	"github.com/cuemby/enkf/pkg/events"
	"github.com/cuemby/enkf/pkg/localconfig"
	"github.com/cuemby/enkf/pkg/log"
	"github.com/cuemby/enkf/pkg/obs"
	"github.com/cuemby/enkf/pkg/parallel"
	"github.com/cuemby/enkf/pkg/queue"
	"github.com/cuemby/enkf/pkg/storage"
	"github.com/cuemby/enkf/pkg/subst"
	"github.com/cuemby/enkf/pkg/types"
)

// Main owns every long-lived object of an experiment: catalogues, the
// ensemble, the case registry and the analysis module
type Main struct {
	Config   *config.Config
	Vars     *ensemble.Catalogue
	Obs      *obs.Catalogue
	Local    *localconfig.Config
	Ensemble *ensemble.Ensemble
	Registry *storage.Registry
	Subst    *subst.List
	Pool     *parallel.Pool
	Module   analysis.Module
	Runner   queue.Runner
	Events   *events.Broker

	seed uint64
}

// Option customizes Bootstrap
type Option func(*Main)

// WithRunner replaces the local process runner
func WithRunner(r queue.Runner) Option {
	return func(m *Main) { m.Runner = r }
}

// WithEvents attaches an event broker
func WithEvents(b *events.Broker) Option {
	return func(m *Main) { m.Events = b }
}

// Bootstrap builds a Main from configuration and selects the starting case:
// the configured one when the file names it, otherwise the case the current
// link points to. The local configuration is validated here so that errors
// surface before any forward run.
func Bootstrap(cfg *config.Config, opts ...Option) (*Main, error) {
	vars, err := cfg.Catalogue()
	if err != nil {
		return nil, fmt.Errorf("failed to build variable catalogue: %w", err)
	}
	obsCat, err := cfg.ObsCatalogue()
	if err != nil {
		return nil, fmt.Errorf("failed to build observation catalogue: %w", err)
	}
	module, err := analysis.New(cfg.Analysis.Module, cfg.AnalysisOptions())
	if err != nil {
		return nil, err
	}

	m := &Main{
		Config: cfg,
		Vars:   vars,
		Obs:    obsCat,
		Subst:  subst.New(),
		Pool:   parallel.NewPool(cfg.Ensemble.Workers),
		Module: module,
		Runner: queue.NewExecRunner(),
		seed:   cfg.Analysis.Seed,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.seed == 0 {
		m.seed = rand.Uint64()
	}

	if m.Local, err = m.loadLocalConfig(); err != nil {
		return nil, err
	}

	m.Subst.Set("<ENSPATH>", cfg.Ensemble.EnsPath, "Root of the case directories")
	m.Registry = storage.NewRegistry(cfg.Ensemble.EnsPath, m.Subst)
	if cfg.Ensemble.Case != "" && cfg.Ensemble.Case != config.DefaultCase {
		err = m.Registry.Select(cfg.Ensemble.Case)
	} else {
		err = m.Registry.SelectDefault()
	}
	if err != nil {
		return nil, err
	}
	logger := log.WithComponent("enkf")
	if err := m.Registry.AppendCaseLog(); err != nil {
		logger.Warn().Err(err).Msg("Failed to append case log")
	}

	m.Ensemble = ensemble.New(cfg.Ensemble.Size, cfg.Layout(), m.Subst)
	logger.Info().
		Int("members", cfg.Ensemble.Size).
		Int("variables", len(vars.Keys())).
		Int("observations", len(obsCat.Keys())).
		Str("module", module.Descriptor().Name).
		Str("case", m.Registry.Case()).
		Uint64("seed", m.seed).
		Msg("Ensemble bootstrapped")
	return m, nil
}

// loadLocalConfig builds the ALL_ACTIVE default and applies the command file
// on top of it
func (m *Main) loadLocalConfig() (*localconfig.Config, error) {
	local := localconfig.AllActive(m.Vars, m.Obs.Keys(), m.allActiveOptions())
	if path := m.Config.LocalConfig; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open local config: %w", err)
		}
		defer f.Close()
		if err := local.Load(f, m.Vars, m.Obs); err != nil {
			return nil, fmt.Errorf("failed to load local config %s: %w", path, err)
		}
	}
	if err := local.Validate(m.Vars, m.Obs); err != nil {
		return nil, fmt.Errorf("invalid local config: %w", err)
	}
	return local, nil
}

func (m *Main) allActiveOptions() localconfig.AllActiveOptions {
	return localconfig.AllActiveOptions{
		SingleNodeUpdate: m.Config.Analysis.SingleNodeUpdate,
		UpdateResults:    m.Config.Analysis.UpdateResults,
	}
}

// SelectCase makes caseName current, re-expanding member run paths that
// depend on the case name
func (m *Main) SelectCase(caseName string) error {
	if err := m.Registry.Select(caseName); err != nil {
		return err
	}
	if err := m.Registry.AppendCaseLog(); err != nil {
		logger := log.WithCase(caseName)
		logger.Warn().Err(err).Msg("Failed to append case log")
	}
	m.Ensemble.Refresh()
	m.Events.Publish(events.New(events.EventCaseSelected,
		fmt.Sprintf("case %s selected", caseName),
		map[string]string{"case": caseName}))
	return nil
}

// Resize changes the ensemble size. It must not be called while a batch or
// an update is running.
func (m *Main) Resize(size int) {
	m.Ensemble.Resize(size)
	m.Config.Ensemble.Size = size
	logger := log.WithComponent("enkf")
	logger.Info().Int("members", size).Msg("Ensemble resized")
}

// Store returns the store of the current case
func (m *Main) Store() storage.Store {
	return m.Registry.Current()
}

// Parameters returns the keys of every parameter variable
func (m *Main) Parameters() []string {
	return m.Vars.KeysOfType(types.VarParameter)
}

// Close releases the current case
func (m *Main) Close() error {
	return m.Registry.Close()
}
