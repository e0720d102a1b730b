package update

import "github.com/cuemby/enkf/pkg/types"

// Context is the bookkeeping of one update run. It is owned by the
// orchestrating goroutine and never shared with fan-out tasks.
type Context struct {
	usage map[string]int
}

// NewContext starts a fresh update run
func NewContext() *Context {
	return &Context{usage: make(map[string]int)}
}

// Phase returns the phase a key must be loaded from: FORECAST the first time
// it is serialized in this run, ANALYZED afterwards
func (c *Context) Phase(key string) types.StatePhase {
	if c.usage[key] == 0 {
		return types.PhaseForecast
	}
	return types.PhaseAnalyzed
}

// MarkSerialized bumps the usage counter of key
func (c *Context) MarkSerialized(key string) {
	c.usage[key]++
}

// Usage returns how many times key was serialized
func (c *Context) Usage(key string) int {
	return c.usage[key]
}

// UpdatedKeys returns every key serialized at least once
func (c *Context) UpdatedKeys() map[string]struct{} {
	out := make(map[string]struct{}, len(c.usage))
	for k, n := range c.usage {
		if n > 0 {
			out[k] = struct{}{}
		}
	}
	return out
}

// RowEntry places one variable in the state matrix
type RowEntry struct {
	Key        string
	RowOffset  int
	Active     []int // node element of each row
	Phase      types.StatePhase
	Step       int
	FromTarget bool // loaded from the target store rather than the source
}

// Rows returns the number of matrix rows of the entry
func (e RowEntry) Rows() int {
	return len(e.Active)
}

// RowTable maps the variables of one serialized dataset to row ranges. The
// same table must be used to deserialize.
type RowTable struct {
	Dataset string
	Entries []RowEntry
}

// Rows returns the total number of rows
func (t *RowTable) Rows() int {
	n := 0
	for _, e := range t.Entries {
		n += e.Rows()
	}
	return n
}
