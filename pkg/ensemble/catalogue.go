package ensemble

import (
	"fmt"
	"sync"

	"github.com/cuemby/enkf/pkg/types"
)

// Prior describes the normal distribution used to draw initial parameter values
type Prior struct {
	Mean float64
	Std  float64
}

// Variable is one entry of the ensemble catalogue
type Variable struct {
	Key     string
	VarType types.VarType

	// Mask marks which elements of the node take part in updates. A nil mask
	// means every element is active. When set its length fixes the node size.
	Mask []bool

	// Prior is used by scratch initialization of parameters; nil means the
	// variable is never initialized from scratch.
	Prior *Prior

	// MinStd is the inflation floor on the analyzed ensemble spread; zero
	// disables inflation for this variable.
	MinStd float64

	mu    sync.Mutex
	size  int
	fixed bool
}

// NewVariable creates a catalogue entry. size <= 0 marks a runtime-sized
// variable whose size is fixed by the first node loaded.
func NewVariable(key string, varType types.VarType, size int) *Variable {
	v := &Variable{Key: key, VarType: varType}
	if size > 0 {
		v.size = size
		v.fixed = true
	}
	return v
}

// WithMask attaches an activity mask and fixes the size to its length
func (v *Variable) WithMask(mask []bool) *Variable {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Mask = mask
	v.size = len(mask)
	v.fixed = true
	return v
}

// DataSize returns the node length, and false while a runtime-sized variable
// has not seen any data yet
func (v *Variable) DataSize() (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.size, v.fixed
}

// ObserveSize fixes the size of a runtime-sized variable on first load and
// rejects any later node of a different length
func (v *Variable) ObserveSize(n int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.fixed {
		v.size = n
		v.fixed = true
		return nil
	}
	if v.size != n {
		return fmt.Errorf("variable %s: node has %d elements, expected %d", v.Key, n, v.size)
	}
	return nil
}

// ActiveIndices returns the node indices that are eligible for update, in
// ascending order. It returns nil until the size is known.
func (v *Variable) ActiveIndices() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.fixed {
		return nil
	}
	if v.Mask == nil {
		idx := make([]int, v.size)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := make([]int, 0, v.size)
	for i, on := range v.Mask {
		if on {
			idx = append(idx, i)
		}
	}
	return idx
}

// Catalogue is the ordered set of variables known to the ensemble
type Catalogue struct {
	mu    sync.RWMutex
	vars  map[string]*Variable
	order []string
}

// NewCatalogue creates a catalogue from vars, rejecting duplicate keys
func NewCatalogue(vars ...*Variable) (*Catalogue, error) {
	c := &Catalogue{vars: make(map[string]*Variable)}
	for _, v := range vars {
		if err := c.Add(v); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers a variable
func (c *Catalogue) Add(v *Variable) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v.Key == "" {
		return fmt.Errorf("variable key must not be empty")
	}
	if _, exists := c.vars[v.Key]; exists {
		return fmt.Errorf("variable %s already defined", v.Key)
	}
	c.vars[v.Key] = v
	c.order = append(c.order, v.Key)
	return nil
}

// Get looks up a variable by key
func (c *Catalogue) Get(key string) (*Variable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[key]
	return v, ok
}

// Has reports whether key is in the catalogue
func (c *Catalogue) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Keys returns every key in definition order
func (c *Catalogue) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// KeysOfType returns the keys whose type is one of varTypes, in definition order
func (c *Catalogue) KeysOfType(varTypes ...types.VarType) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, key := range c.order {
		for _, t := range varTypes {
			if c.vars[key].VarType == t {
				out = append(out, key)
				break
			}
		}
	}
	return out
}
