// Package obs holds the observation catalogue and builds the observation
// matrices a ministep is analyzed with.
package obs

import (
	"fmt"
	"sort"
)

// Point is one measured value with its error
type Point struct {
	Step  int     `yaml:"step" json:"step"`
	Index int     `yaml:"index" json:"index"` // element of the simulated node compared against
	Value float64 `yaml:"value" json:"value"`
	Std   float64 `yaml:"std" json:"std"`
}

// Vector is a named observation of one variable. Each point compares the
// measured value with element Index of the DataKey node at report step Step.
type Vector struct {
	Key     string
	DataKey string
	Points  []Point
}

// Validate checks the vector is usable
func (v *Vector) Validate() error {
	if v.Key == "" {
		return fmt.Errorf("observation key must not be empty")
	}
	if v.DataKey == "" {
		return fmt.Errorf("observation %s: data key must not be empty", v.Key)
	}
	for i, p := range v.Points {
		if p.Std <= 0 {
			return fmt.Errorf("observation %s point %d: std must be positive, got %g", v.Key, i, p.Std)
		}
		if p.Index < 0 || p.Step < 0 {
			return fmt.Errorf("observation %s point %d: negative step or index", v.Key, i)
		}
	}
	return nil
}

// Catalogue holds every observation vector, keyed by observation key
type Catalogue struct {
	vectors map[string]*Vector
	order   []string
}

// NewCatalogue creates a catalogue, rejecting invalid vectors and duplicate keys
func NewCatalogue(vectors ...*Vector) (*Catalogue, error) {
	c := &Catalogue{vectors: make(map[string]*Vector)}
	for _, v := range vectors {
		if err := v.Validate(); err != nil {
			return nil, err
		}
		if _, exists := c.vectors[v.Key]; exists {
			return nil, fmt.Errorf("observation %s already defined", v.Key)
		}
		c.vectors[v.Key] = v
		c.order = append(c.order, v.Key)
	}
	return c, nil
}

// Get returns the vector for key
func (c *Catalogue) Get(key string) (*Vector, bool) {
	v, ok := c.vectors[key]
	return v, ok
}

// Has reports whether key is defined
func (c *Catalogue) Has(key string) bool {
	_, ok := c.vectors[key]
	return ok
}

// Keys returns the observation keys in definition order
func (c *Catalogue) Keys() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Steps returns every report step with at least one point, ascending
func (c *Catalogue) Steps() []int {
	seen := make(map[int]struct{})
	for _, v := range c.vectors {
		for _, p := range v.Points {
			seen[p.Step] = struct{}{}
		}
	}
	steps := make([]int, 0, len(seen))
	for s := range seen {
		steps = append(steps, s)
	}
	sort.Ints(steps)
	return steps
}

// HasDataAt reports whether any observation has a point at step
func (c *Catalogue) HasDataAt(step int) bool {
	for _, v := range c.vectors {
		for _, p := range v.Points {
			if p.Step == step {
				return true
			}
		}
	}
	return false
}
