package workflow

import (
	"encoding/json"
	"fmt"
)

// JobKind tags the variant carried by a JobPayload.
type JobKind string

const (
	// JobKindAgentExecution runs one step's agent.
	JobKindAgentExecution JobKind = "agent_execution"
	// JobKindCoordinator re-evaluates a run's frontier.
	JobKindCoordinator JobKind = "coordinator"
)

// AgentExecutionJob asks a worker to execute one step.
type AgentExecutionJob struct {
	RunID  string `json:"runId"`
	StepID string `json:"stepId"`
}

// CoordinatorJob asks a worker to reconcile a run.
type CoordinatorJob struct {
	RunID  string `json:"runId"`
	Reason string `json:"reason,omitempty"`
}

// JobPayload is the tagged job body exchanged with the queue. Exactly
// the variant named by Kind is set.
type JobPayload struct {
	Kind           JobKind            `json:"kind"`
	AgentExecution *AgentExecutionJob `json:"agentExecution,omitempty"`
	Coordinator    *CoordinatorJob    `json:"coordinator,omitempty"`
}

// NewAgentExecutionPayload builds an agent execution job.
func NewAgentExecutionPayload(runID, stepID string) JobPayload {
	return JobPayload{
		Kind:           JobKindAgentExecution,
		AgentExecution: &AgentExecutionJob{RunID: runID, StepID: stepID},
	}
}

// NewCoordinatorPayload builds a coordinator job.
func NewCoordinatorPayload(runID, reason string) JobPayload {
	return JobPayload{
		Kind:        JobKindCoordinator,
		Coordinator: &CoordinatorJob{RunID: runID, Reason: reason},
	}
}

// RunID returns the run the job belongs to.
func (p JobPayload) RunID() string {
	switch p.Kind {
	case JobKindAgentExecution:
		if p.AgentExecution != nil {
			return p.AgentExecution.RunID
		}
	case JobKindCoordinator:
		if p.Coordinator != nil {
			return p.Coordinator.RunID
		}
	}
	return ""
}

// Validate enforces the variant invariants.
func (p JobPayload) Validate() error {
	switch p.Kind {
	case JobKindAgentExecution:
		if p.Coordinator != nil {
			return fmt.Errorf("agent execution job carries a coordinator body")
		}
		if p.AgentExecution == nil {
			return fmt.Errorf("agent execution job has no body")
		}
		if p.AgentExecution.RunID == "" || p.AgentExecution.StepID == "" {
			return fmt.Errorf("agent execution job requires runId and stepId")
		}
	case JobKindCoordinator:
		if p.AgentExecution != nil {
			return fmt.Errorf("coordinator job carries an agent execution body")
		}
		if p.Coordinator == nil || p.Coordinator.RunID == "" {
			return fmt.Errorf("coordinator job requires runId")
		}
	default:
		return fmt.Errorf("unknown job kind %q", p.Kind)
	}
	return nil
}

// EncodePayload validates and serializes p.
func EncodePayload(p JobPayload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job payload: %w", err)
	}
	return json.Marshal(p)
}

// DecodePayload parses and validates a serialized payload.
func DecodePayload(data []byte) (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return JobPayload{}, fmt.Errorf("decode job payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return JobPayload{}, fmt.Errorf("invalid job payload: %w", err)
	}
	return p, nil
}
