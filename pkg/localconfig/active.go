package localconfig

import "sort"

// ActiveMode describes how much of a node or observation an ActiveList
// selects
type ActiveMode int

const (
	ModeAllActive ActiveMode = iota
	ModePartlyActive
	ModeInactive
)

func (m ActiveMode) String() string {
	switch m {
	case ModeAllActive:
		return "all_active"
	case ModePartlyActive:
		return "partly_active"
	default:
		return "inactive"
	}
}

// ActiveList restricts which elements of one variable (or points of one
// observation) take part in a ministep. A new list selects everything; the
// first added index switches it to an explicit index set.
type ActiveList struct {
	mode    ActiveMode
	indices map[int]struct{}
}

// NewActiveList returns an all-active list
func NewActiveList() *ActiveList {
	return &ActiveList{mode: ModeAllActive}
}

// Mode returns the current selection mode
func (a *ActiveList) Mode() ActiveMode {
	return a.mode
}

// Add selects index. The first call on an all-active list narrows it to
// exactly this index.
func (a *ActiveList) Add(index int) {
	if a.mode != ModePartlyActive {
		a.mode = ModePartlyActive
		a.indices = make(map[int]struct{})
	}
	a.indices[index] = struct{}{}
}

// AddMany selects every index in indices
func (a *ActiveList) AddMany(indices []int) {
	for _, i := range indices {
		a.Add(i)
	}
}

// SetAllActive resets the list to select everything
func (a *ActiveList) SetAllActive() {
	a.mode = ModeAllActive
	a.indices = nil
}

// SetInactive deselects everything
func (a *ActiveList) SetInactive() {
	a.mode = ModeInactive
	a.indices = nil
}

// Indices returns the explicit index set in ascending order; nil unless the
// list is partly active
func (a *ActiveList) Indices() []int {
	if a.mode != ModePartlyActive {
		return nil
	}
	out := make([]int, 0, len(a.indices))
	for i := range a.indices {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Select filters candidates, which must be ascending, down to the indices
// this list keeps
func (a *ActiveList) Select(candidates []int) []int {
	switch a.mode {
	case ModeAllActive:
		out := make([]int, len(candidates))
		copy(out, candidates)
		return out
	case ModePartlyActive:
		out := make([]int, 0, len(a.indices))
		for _, c := range candidates {
			if _, ok := a.indices[c]; ok {
				out = append(out, c)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns an independent copy
func (a *ActiveList) Clone() *ActiveList {
	c := &ActiveList{mode: a.mode}
	if a.indices != nil {
		c.indices = make(map[int]struct{}, len(a.indices))
		for i := range a.indices {
			c.indices[i] = struct{}{}
		}
	}
	return c
}
