package localconfig

import (
	"errors"
	"fmt"
	"sort"
)

// Ministep pairs one observation set with the datasets it updates
type Ministep struct {
	Name     string
	ObsSet   *ObsSet
	datasets []*Dataset
}

// AttachDataset adds ds to the ministep
func (m *Ministep) AttachDataset(ds *Dataset) error {
	for _, existing := range m.datasets {
		if existing.Name == ds.Name {
			return fmt.Errorf("ministep %s: dataset %s already attached", m.Name, ds.Name)
		}
	}
	m.datasets = append(m.datasets, ds)
	return nil
}

// Datasets returns the attached datasets in attach order
func (m *Ministep) Datasets() []*Dataset {
	out := make([]*Dataset, len(m.datasets))
	copy(out, m.datasets)
	return out
}

// UpdateStep is an ordered list of ministeps applied at one report step
type UpdateStep struct {
	Name      string
	ministeps []*Ministep
}

// AttachMinistep appends m
func (u *UpdateStep) AttachMinistep(m *Ministep) {
	u.ministeps = append(u.ministeps, m)
}

// Ministeps returns the ministeps in run order
func (u *UpdateStep) Ministeps() []*Ministep {
	out := make([]*Ministep, len(u.ministeps))
	copy(out, u.ministeps)
	return out
}

type installation struct {
	from, to int
	step     *UpdateStep
}

// KeySet is the lookup the configuration is validated against
type KeySet interface {
	Has(key string) bool
	Keys() []string
}

// ConfigError reports one invalid reference in the local configuration
type ConfigError struct {
	Ministep string
	Key      string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ministep %s: key %s: %s", e.Ministep, e.Key, e.Reason)
}

// Config holds every named object of the local analysis configuration and
// the mapping from report steps to update steps
type Config struct {
	updateSteps map[string]*UpdateStep
	ministeps   map[string]*Ministep
	datasets    map[string]*Dataset
	obsSets     map[string]*ObsSet

	installed   []installation
	defaultStep *UpdateStep
}

// New creates an empty configuration
func New() *Config {
	return &Config{
		updateSteps: make(map[string]*UpdateStep),
		ministeps:   make(map[string]*Ministep),
		datasets:    make(map[string]*Dataset),
		obsSets:     make(map[string]*ObsSet),
	}
}

// CreateUpdateStep creates a named, empty update step
func (c *Config) CreateUpdateStep(name string) (*UpdateStep, error) {
	if _, exists := c.updateSteps[name]; exists {
		return nil, fmt.Errorf("update step %s already exists", name)
	}
	u := &UpdateStep{Name: name}
	c.updateSteps[name] = u
	return u, nil
}

// UpdateStep looks up an update step by name
func (c *Config) UpdateStep(name string) (*UpdateStep, error) {
	u, ok := c.updateSteps[name]
	if !ok {
		return nil, fmt.Errorf("update step %s not found", name)
	}
	return u, nil
}

// CreateMinistep creates a ministep observing the obs set named obsSet
func (c *Config) CreateMinistep(name, obsSet string) (*Ministep, error) {
	if _, exists := c.ministeps[name]; exists {
		return nil, fmt.Errorf("ministep %s already exists", name)
	}
	o, err := c.ObsSet(obsSet)
	if err != nil {
		return nil, fmt.Errorf("ministep %s: %w", name, err)
	}
	m := &Ministep{Name: name, ObsSet: o}
	c.ministeps[name] = m
	return m, nil
}

// Ministep looks up a ministep by name
func (c *Config) Ministep(name string) (*Ministep, error) {
	m, ok := c.ministeps[name]
	if !ok {
		return nil, fmt.Errorf("ministep %s not found", name)
	}
	return m, nil
}

// CreateDataset creates an empty dataset
func (c *Config) CreateDataset(name string) (*Dataset, error) {
	if _, exists := c.datasets[name]; exists {
		return nil, fmt.Errorf("dataset %s already exists", name)
	}
	d := NewDataset(name)
	c.datasets[name] = d
	return d, nil
}

// Dataset looks up a dataset by name
func (c *Config) Dataset(name string) (*Dataset, error) {
	d, ok := c.datasets[name]
	if !ok {
		return nil, fmt.Errorf("dataset %s not found", name)
	}
	return d, nil
}

// CopyDataset deep-copies src under the name dst
func (c *Config) CopyDataset(src, dst string) (*Dataset, error) {
	d, err := c.Dataset(src)
	if err != nil {
		return nil, err
	}
	if _, exists := c.datasets[dst]; exists {
		return nil, fmt.Errorf("dataset %s already exists", dst)
	}
	cp := d.Copy(dst)
	c.datasets[dst] = cp
	return cp, nil
}

// CreateObsSet creates an empty observation set
func (c *Config) CreateObsSet(name string) (*ObsSet, error) {
	if _, exists := c.obsSets[name]; exists {
		return nil, fmt.Errorf("obsset %s already exists", name)
	}
	o := NewObsSet(name)
	c.obsSets[name] = o
	return o, nil
}

// ObsSet looks up an observation set by name
func (c *Config) ObsSet(name string) (*ObsSet, error) {
	o, ok := c.obsSets[name]
	if !ok {
		return nil, fmt.Errorf("obsset %s not found", name)
	}
	return o, nil
}

// CopyObsSet deep-copies src under the name dst
func (c *Config) CopyObsSet(src, dst string) (*ObsSet, error) {
	o, err := c.ObsSet(src)
	if err != nil {
		return nil, err
	}
	if _, exists := c.obsSets[dst]; exists {
		return nil, fmt.Errorf("obsset %s already exists", dst)
	}
	cp := o.Copy(dst)
	c.obsSets[dst] = cp
	return cp, nil
}

// InstallUpdateStep uses step for every report step in [from, to]. Later
// installations win where ranges overlap.
func (c *Config) InstallUpdateStep(step *UpdateStep, from, to int) error {
	if step == nil {
		return fmt.Errorf("cannot install nil update step")
	}
	if from < 0 || to < from {
		return fmt.Errorf("invalid report step range [%d, %d] for update step %s", from, to, step.Name)
	}
	c.installed = append(c.installed, installation{from: from, to: to, step: step})
	return nil
}

// InstallDefault uses step for every report step without an explicit
// installation
func (c *Config) InstallDefault(step *UpdateStep) {
	c.defaultStep = step
}

// Default returns the default update step, or nil
func (c *Config) Default() *UpdateStep {
	return c.defaultStep
}

// UpdateStepFor returns the update step governing reportStep
func (c *Config) UpdateStepFor(reportStep int) (*UpdateStep, error) {
	for i := len(c.installed) - 1; i >= 0; i-- {
		in := c.installed[i]
		if reportStep >= in.from && reportStep <= in.to {
			return in.step, nil
		}
	}
	if c.defaultStep != nil {
		return c.defaultStep, nil
	}
	return nil, fmt.Errorf("no update step installed for report step %d", reportStep)
}

// MinistepNames returns every ministep name in sorted order
func (c *Config) MinistepNames() []string {
	names := make([]string, 0, len(c.ministeps))
	for name := range c.ministeps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every ministep against the variable and observation
// catalogues. All problems are reported together as joined *ConfigError
// values.
func (c *Config) Validate(vars, obs KeySet) error {
	var errs []error
	for _, name := range c.MinistepNames() {
		m := c.ministeps[name]
		for _, key := range m.ObsSet.Keys() {
			if !obs.Has(key) {
				errs = append(errs, &ConfigError{Ministep: name, Key: key, Reason: "unknown observation key"})
			}
		}

		owner := make(map[string]string)
		for _, ds := range m.datasets {
			for _, key := range ds.Keys() {
				if !vars.Has(key) {
					errs = append(errs, &ConfigError{Ministep: name, Key: key, Reason: "unknown variable key"})
				}
				if prev, dup := owner[key]; dup {
					errs = append(errs, &ConfigError{
						Ministep: name,
						Key:      key,
						Reason:   fmt.Sprintf("variable in both dataset %s and dataset %s", prev, ds.Name),
					})
					continue
				}
				owner[key] = ds.Name
			}
		}
	}
	return errors.Join(errs...)
}
