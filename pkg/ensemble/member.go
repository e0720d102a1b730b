package ensemble

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/enkf/pkg/subst"
	"github.com/cuemby/enkf/pkg/types"
)

// Member is one realization of the ensemble
type Member struct {
	Iens    int
	RunPath string
	JobName string

	mu     sync.Mutex
	status types.MemberStatus
}

// Status returns a snapshot of the member's last run status
func (m *Member) Status() types.MemberStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetStatus records the outcome of a forward run
func (m *Member) SetStatus(s types.MemberStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Iens = m.Iens
	if s.RunPath == "" {
		s.RunPath = m.RunPath
	}
	if s.JobName == "" {
		s.JobName = m.JobName
	}
	m.status = s
}

// SetInactive marks the member as excluded from the current batch
func (m *Member) SetInactive() {
	m.SetStatus(types.MemberStatus{Status: types.RunStatusInactive})
}

// Subst returns a per-member substitution list layered on parent
func (m *Member) Subst(parent *subst.List) *subst.List {
	l := parent.Child()
	l.Set("<IENS>", strconv.Itoa(m.Iens), "Member index")
	l.Set("<RUNPATH>", m.RunPath, "Member run path")
	l.Set("<ECLBASE>", m.JobName, "Member job name")
	return l
}

// Layout holds the format strings members derive their paths from. Both
// formats take the member index through a single %d verb and may contain
// substitution keys.
type Layout struct {
	RunPathFormat string
	JobNameFormat string
}

// Expand resolves the run path and job name for iens
func (l Layout) Expand(iens int, vars *subst.List) (runPath, jobName string) {
	runPath = formatIens(l.RunPathFormat, iens)
	jobName = formatIens(l.JobNameFormat, iens)
	if vars != nil {
		runPath = vars.Substitute(runPath)
		jobName = vars.Substitute(jobName)
	}
	return filepath.Clean(runPath), jobName
}

func formatIens(format string, iens int) string {
	if strings.Contains(format, "%d") {
		return fmt.Sprintf(format, iens)
	}
	return format
}

// Ensemble is the member collection. It is resized in bulk and never while
// an update is running.
type Ensemble struct {
	mu      sync.RWMutex
	members []*Member
	layout  Layout
	vars    *subst.List
}

// New creates an ensemble of size members
func New(size int, layout Layout, vars *subst.List) *Ensemble {
	e := &Ensemble{layout: layout, vars: vars}
	e.Resize(size)
	return e
}

// Resize grows or shrinks the collection; surviving members keep their state
func (e *Ensemble) Resize(size int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if size < 0 {
		size = 0
	}
	if size <= len(e.members) {
		e.members = e.members[:size]
		return
	}
	for iens := len(e.members); iens < size; iens++ {
		runPath, jobName := e.layout.Expand(iens, e.vars)
		m := &Member{Iens: iens, RunPath: runPath, JobName: jobName}
		m.status = types.MemberStatus{Iens: iens, RunPath: runPath, JobName: jobName, Status: types.RunStatusPending}
		e.members = append(e.members, m)
	}
}

// Refresh re-expands every member's run path and job name, e.g. after the
// current case changed
func (e *Ensemble) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.members {
		m.RunPath, m.JobName = e.layout.Expand(m.Iens, e.vars)
	}
}

// Size returns the number of members
func (e *Ensemble) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.members)
}

// Member returns member iens
func (e *Ensemble) Member(iens int) *Member {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.members[iens]
}

// Members returns the members in index order
func (e *Ensemble) Members() []*Member {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Member, len(e.members))
	copy(out, e.members)
	return out
}

// Statuses returns a snapshot of every member's last run status
func (e *Ensemble) Statuses() []types.MemberStatus {
	members := e.Members()
	out := make([]types.MemberStatus, len(members))
	for i, m := range members {
		out[i] = m.Status()
	}
	return out
}
