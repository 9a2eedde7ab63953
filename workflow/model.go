package workflow

import (
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a WorkflowExecution.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunPending, RunRunning, RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of a WorkflowStep.
type StepStatus string

const (
	StepPending       StepStatus = "PENDING"
	StepWaitingInputs StepStatus = "WAITING_INPUTS"
	StepRunning       StepStatus = "RUNNING"
	StepCompleted     StepStatus = "COMPLETED"
	StepFailed        StepStatus = "FAILED"
	StepSkipped       StepStatus = "SKIPPED"
)

// AllStepStatuses lists every step status in lifecycle order.
var AllStepStatuses = []StepStatus{
	StepPending, StepWaitingInputs, StepRunning, StepCompleted, StepFailed, StepSkipped,
}

// IsTerminal reports whether the step can no longer change.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// NotStarted reports whether the step has not been dispatched yet.
func (s StepStatus) NotStarted() bool {
	return s == StepPending || s == StepWaitingInputs
}

// Agent is a pipeline node. The orchestrator only reads agents.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"systemPrompt"`
	IsActive     bool      `json:"isActive"`
	Order        int       `json:"order"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Connection is a directed edge between two agents.
type Connection struct {
	ID            string    `json:"id"`
	SourceAgentID string    `json:"sourceAgentId"`
	TargetAgentID string    `json:"targetAgentId"`
	IsActive      bool      `json:"isActive"`
	Order         int       `json:"order"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Edge returns the connection as a graph edge.
func (c Connection) Edge() Edge {
	return Edge{From: c.SourceAgentID, To: c.TargetAgentID}
}

// Document is an ingested input. Only its extracted text matters here.
type Document struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	ExtractedText string `json:"-"`
}

// HasContent reports whether text extraction produced anything usable.
func (d *Document) HasContent() bool {
	return d != nil && strings.TrimSpace(d.ExtractedText) != ""
}

// Run is one WorkflowExecution against one document.
type Run struct {
	ID           string     `json:"id"`
	DocumentID   string     `json:"documentId"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Step is one agent's execution within a run. Agent fields are a
// snapshot taken at compile time.
type Step struct {
	ID           string     `json:"id"`
	RunID        string     `json:"executionId"`
	AgentID      string     `json:"agentId"`
	AgentName    string     `json:"agentName"`
	SystemPrompt string     `json:"-"`
	Order        int        `json:"order"`
	Level        int        `json:"level"`
	Status       StepStatus `json:"status"`
	JobID        string     `json:"jobId,omitempty"`
	Predecessors []string   `json:"predecessors"`
	Successors   []string   `json:"successors"`
	Input        string     `json:"input,omitempty"`
	Output       string     `json:"output,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// RunPatch carries the optional fields written with a run transition.
type RunPatch struct {
	CompletedAt  *time.Time
	ErrorMessage *string
}

// StepPatch carries the optional fields written with a step transition.
type StepPatch struct {
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
	Input        *string
	Output       *string
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	DocumentID string
	Statuses   []RunStatus
	Limit      int
}

func ptr[T any](v T) *T { return &v }
