package localconfig

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cuemby/enkf/pkg/ensemble"
	"github.com/cuemby/enkf/pkg/types"
)

// Names of the objects in the default configuration
const (
	AllActiveName = "ALL_ACTIVE"
	AllObsName    = "ALL_OBS"
	AllDataName   = "ALL_DATA"
)

// AllActiveOptions tunes the default configuration
type AllActiveOptions struct {
	// SingleNodeUpdate puts every variable in its own dataset so each is
	// updated separately against all observations
	SingleNodeUpdate bool

	// UpdateResults includes dynamic result variables
	UpdateResults bool
}

// AllActive builds the default configuration: one update step with one
// ministep seeing every observation and updating every updatable variable.
// The ALL_DATA dataset is always created, even when SingleNodeUpdate leaves
// it unattached, so later commands can refer to it.
func AllActive(vars *ensemble.Catalogue, obsKeys []string, opts AllActiveOptions) *Config {
	c := New()
	step, _ := c.CreateUpdateStep(AllActiveName)
	obsSet, _ := c.CreateObsSet(AllObsName)
	ministep, _ := c.CreateMinistep(AllActiveName, AllObsName)
	step.AttachMinistep(ministep)

	allData, _ := c.CreateDataset(AllDataName)
	if !opts.SingleNodeUpdate {
		ministep.AttachDataset(allData)
	}

	for _, key := range obsKeys {
		obsSet.AddObs(key)
	}

	varTypes := []types.VarType{types.VarParameter, types.VarDynamicState}
	if opts.UpdateResults {
		varTypes = append(varTypes, types.VarDynamicResult)
	}
	for _, key := range vars.KeysOfType(varTypes...) {
		if opts.SingleNodeUpdate {
			if ds, err := c.CreateDataset(key); err == nil {
				ds.AddKey(key)
				ministep.AttachDataset(ds)
			}
		}
		allData.AddKey(key)
	}

	c.InstallDefault(step)
	return c
}

// WriteAllActive writes the default configuration as a command file
func WriteAllActive(w io.Writer, vars *ensemble.Catalogue, obsKeys []string, opts AllActiveOptions) error {
	return AllActive(vars, obsKeys, opts).Write(w)
}

// Write serializes the configuration in the command language. Reading the
// output back with Load reproduces every object, membership and
// installation. Inactive lists are written as all-active.
func (c *Config) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	cmd := func(name string, args ...any) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		fmt.Fprintf(bw, "%-32s %s\n", name, strings.Join(parts, " "))
	}

	for _, name := range sortedKeys(c.obsSets) {
		o := c.obsSets[name]
		cmd(CmdCreateObsSet, name)
		for _, key := range o.Keys() {
			cmd(CmdAddObs, name, key)
			if idx := o.ActiveList(key).Indices(); len(idx) > 0 {
				cmd(CmdActiveListAddManyObs, append([]any{name, key, len(idx)}, toAny(idx)...)...)
			}
		}
	}

	for _, name := range sortedKeys(c.datasets) {
		d := c.datasets[name]
		cmd(CmdCreateDataset, name)
		for _, key := range d.Keys() {
			cmd(CmdAddData, name, key)
			if idx := d.ActiveList(key).Indices(); len(idx) > 0 {
				cmd(CmdActiveListAddManyData, append([]any{name, key, len(idx)}, toAny(idx)...)...)
			}
		}
	}

	for _, name := range c.MinistepNames() {
		m := c.ministeps[name]
		cmd(CmdCreateMinistep, name, m.ObsSet.Name)
		for _, ds := range m.datasets {
			cmd(CmdAttachDataset, name, ds.Name)
		}
	}

	for _, name := range sortedKeys(c.updateSteps) {
		cmd(CmdCreateUpdateStep, name)
		for _, m := range c.updateSteps[name].ministeps {
			cmd(CmdAttachMinistep, name, m.Name)
		}
	}

	for _, in := range c.installed {
		cmd(CmdInstallUpdateStep, in.step.Name, in.from, in.to)
	}
	if c.defaultStep != nil {
		cmd(CmdInstallDefaultUpdateStep, c.defaultStep.Name)
	}

	return bw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toAny(idx []int) []any {
	out := make([]any, len(idx))
	for i, v := range idx {
		out[i] = v
	}
	return out
}
