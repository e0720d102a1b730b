package analysis

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Mode tells the orchestrator how a module wants to be driven
type Mode int

const (
	// ComputeTransform modules return an ensemble transform X; the caller
	// forms A·X
	ComputeTransform Mode = iota

	// UpdateInPlace modules rewrite A themselves
	UpdateInPlace
)

func (m Mode) String() string {
	if m == UpdateInPlace {
		return "update_in_place"
	}
	return "compute_transform"
}

// Descriptor is the static description of a module
type Descriptor struct {
	Name               string
	Mode               Mode
	NeedsPerturbations bool // E must be drawn
	ScaleData          bool // rows of S, E and D are scaled by the observation std
	UsesA              bool // the transform depends on the state matrix
}

// Input carries the observation matrices of one ministep. S and E are
// centered, D is the innovation dObs + E - S taken before centering.
type Input struct {
	S    *mat.Dense
	R    *mat.Dense
	DObs *mat.Dense
	E    *mat.Dense
	D    *mat.Dense
}

// Module is an analysis algorithm. Per ministep the orchestrator calls
// InitUpdate once, then InitX or UpdateA per dataset (according to
// Descriptor().Mode) and CompleteUpdate last.
type Module interface {
	Descriptor() Descriptor
	InitUpdate(in *Input) error
	InitX(A *mat.Dense) (*mat.Dense, error)
	UpdateA(A *mat.Dense) error
	CompleteUpdate() error
}

// Options configures module construction
type Options struct {
	// Truncation is the share of singular value energy kept when inverting;
	// values outside (0, 1) keep every non-zero singular value
	Truncation float64
	ScaleData  bool
}

type factory func(opts Options) Module

var modules = map[string]factory{
	"std_enkf":    func(o Options) Module { return NewStdEnKF(o) },
	"direct_enkf": func(o Options) Module { return NewDirectEnKF(o) },
	"identity":    func(Options) Module { return &Identity{} },
}

// New returns the module registered as name
func New(name string, opts Options) (Module, error) {
	f, ok := modules[name]
	if !ok {
		return nil, fmt.Errorf("unknown analysis module %q (available: %v)", name, Names())
	}
	return f(opts), nil
}

// Names lists the registered module names
func Names() []string {
	names := make([]string, 0, len(modules))
	for n := range modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
