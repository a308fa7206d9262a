package models

import "time"

// RunStatus represents the current state of a run
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunTimedOut  RunStatus = "TIMED_OUT"
	RunCancelled RunStatus = "CANCELLED"
)

// StepStatus is the outcome of one run step
type StepStatus string

const (
	StepAttempted StepStatus = "attempted"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step names, in pipeline order.
const (
	StepCreate   = "create"
	StepLaunch   = "launch"
	StepAttach   = "attach"
	StepScripts  = "init_scripts"
	StepAdopt    = "adopt_or_create"
	StepInteract = "interact"
	StepDetach   = "detach"
	StepStop     = "stop"
	StepDelete   = "delete"
)

// Step records a single pipeline step
type Step struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
}

// RunReport is the structured result of one run
type RunReport struct {
	EnvironmentID string `json:"environmentId,omitempty"`
	Port          int    `json:"debuggingPort,omitempty"`
	Outcome       string `json:"outcome,omitempty"` // adopted | created
	Steps         []Step `json:"steps"`
	// Actions lists playbook actions in execution order.
	Actions   []ActionResult `json:"actions,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"errorKind,omitempty"`
}

// ActionResult records one playbook action
type ActionResult struct {
	Index  int        `json:"index"`
	Type   string     `json:"type"`
	Target string     `json:"target,omitempty"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Step returns the last recorded step with the given name.
func (r *RunReport) Step(name string) (Step, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Name == name {
			return r.Steps[i], true
		}
	}
	return Step{}, false
}

// Run is a run tracked by the control API
type Run struct {
	ID         string     `json:"id"`
	ClientID   string     `json:"clientId,omitempty"`
	Driver     string     `json:"driver"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
	DebugHost  string     `json:"-"`
	Report     *RunReport `json:"report"`
}

// CreateRunResponse is returned when a run is accepted
type CreateRunResponse struct {
	ID     string    `json:"id"`
	Status RunStatus `json:"status"`
}
