package types

import (
	"fmt"
	"time"
)

// StatePhase distinguishes a node before and after an update
type StatePhase string

const (
	PhaseForecast StatePhase = "forecast"
	PhaseAnalyzed StatePhase = "analyzed"
)

// VarType classifies a variable in the ensemble catalogue
type VarType string

const (
	// VarParameter is a static parameter, updated by both EnKF and smoother
	VarParameter VarType = "parameter"

	// VarDynamicState is simulator state carried between report steps
	VarDynamicState VarType = "dynamic_state"

	// VarDynamicResult is a simulated response; only updated on request
	VarDynamicResult VarType = "dynamic_result"
)

// RunMode selects how the driver sequences forward runs and updates
type RunMode string

const (
	RunModeAssimilation RunMode = "enkf_assimilation"
	RunModeSmoother     RunMode = "smoother_update"
	RunModeExperiment   RunMode = "ensemble_experiment"
	RunModeInitOnly     RunMode = "init_only"
)

// RunStatus is the outcome of one member's forward run
type RunStatus string

const (
	RunStatusPending     RunStatus = "pending"
	RunStatusOK          RunStatus = "run_ok"
	RunStatusFailure     RunStatus = "run_failure"
	RunStatusLoadFailure RunStatus = "load_failure"
	RunStatusInactive    RunStatus = "inactive"
)

// NodeID addresses one cell of the ensemble store for a given variable key
type NodeID struct {
	ReportStep int
	Iens       int
	Phase      StatePhase
}

func (id NodeID) String() string {
	return fmt.Sprintf("step=%d iens=%d phase=%s", id.ReportStep, id.Iens, id.Phase)
}

// Node is the state block of one variable for one member
type Node struct {
	Key  string    `json:"key"`
	Data []float64 `json:"data"`
}

// Clone returns a deep copy of the node
func (n *Node) Clone() *Node {
	data := make([]float64, len(n.Data))
	copy(data, n.Data)
	return &Node{Key: n.Key, Data: data}
}

// MemberStatus reports how a member's last forward run ended
type MemberStatus struct {
	Iens       int
	RunPath    string
	JobName    string
	Status     RunStatus
	FailedJob  string // Name of the forward-model step that failed
	Reason     string // Free text from the job runner
	StderrFile string // Stderr capture of the failing step, if any
	FinishedAt time.Time
}

// OK reports whether the run completed and its results were loaded
func (s *MemberStatus) OK() bool {
	return s.Status == RunStatusOK
}
