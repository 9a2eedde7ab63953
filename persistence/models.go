package persistence

import (
	"time"

	"github.com/MerOne-1/cv-reformatter-sub001/workflow"
)

// =============================================================================
// 🗃️ 表结构
// =============================================================================

// AgentRecord agents 表
type AgentRecord struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Name         string    `gorm:"size:255;not null"`
	Description  string    `gorm:"type:text"`
	SystemPrompt string    `gorm:"type:text;not null"`
	IsActive     bool      `gorm:"not null;index:idx_agents_is_active"`
	Order        int       `gorm:"column:display_order;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName 表名
func (AgentRecord) TableName() string { return "agents" }

// ConnectionRecord agent_connections 表，(source, target) 唯一
type ConnectionRecord struct {
	ID            string    `gorm:"primaryKey;size:36"`
	SourceAgentID string    `gorm:"size:36;not null;uniqueIndex:idx_agent_connections_pair,priority:1"`
	TargetAgentID string    `gorm:"size:36;not null;uniqueIndex:idx_agent_connections_pair,priority:2;index:idx_agent_connections_target"`
	IsActive      bool      `gorm:"not null"`
	Order         int       `gorm:"column:display_order;not null"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName 表名
func (ConnectionRecord) TableName() string { return "agent_connections" }

// DocumentRecord documents 表，由上游摄取流程写入
type DocumentRecord struct {
	ID            string    `gorm:"primaryKey;size:36"`
	Filename      string    `gorm:"size:512"`
	ExtractedText string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName 表名
func (DocumentRecord) TableName() string { return "documents" }

// RunRecord workflow_executions 表
type RunRecord struct {
	ID           string     `gorm:"primaryKey;size:36"`
	DocumentID   string     `gorm:"size:36;not null;index:idx_workflow_executions_document_id"`
	Status       string     `gorm:"size:32;not null;index:idx_workflow_executions_status_started,priority:1"`
	StartedAt    time.Time  `gorm:"not null;index:idx_workflow_executions_status_started,priority:2"`
	CompletedAt  *time.Time
	ErrorMessage string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"not null"`
	UpdatedAt    time.Time  `gorm:"not null"`
}

// TableName 表名
func (RunRecord) TableName() string { return "workflow_executions" }

// StepRecord workflow_steps 表。前驱与后继以 JSON 数组存储
type StepRecord struct {
	ID           string     `gorm:"primaryKey;size:36"`
	ExecutionID  string     `gorm:"size:36;not null;index:idx_workflow_steps_execution_id"`
	AgentID      string     `gorm:"size:36;not null"`
	AgentName    string     `gorm:"size:255;not null"`
	SystemPrompt string     `gorm:"type:text"`
	Order        int        `gorm:"column:display_order;not null"`
	Level        int        `gorm:"not null"`
	Status       string     `gorm:"size:32;not null;index:idx_workflow_steps_status"`
	JobID        string     `gorm:"size:64"`
	Predecessors []string   `gorm:"type:text;serializer:json"`
	Successors   []string   `gorm:"type:text;serializer:json"`
	Input        string     `gorm:"type:text"`
	Output       string     `gorm:"type:text"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"not null"`
	UpdatedAt    time.Time  `gorm:"not null"`
}

// TableName 表名
func (StepRecord) TableName() string { return "workflow_steps" }

// =============================================================================
// 🔁 领域模型转换
// =============================================================================

func agentRecordFrom(a *workflow.Agent) *AgentRecord {
	return &AgentRecord{
		ID:           a.ID,
		Name:         a.Name,
		Description:  a.Description,
		SystemPrompt: a.SystemPrompt,
		IsActive:     a.IsActive,
		Order:        a.Order,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func (r *AgentRecord) toDomain() workflow.Agent {
	return workflow.Agent{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		SystemPrompt: r.SystemPrompt,
		IsActive:     r.IsActive,
		Order:        r.Order,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func connectionRecordFrom(c *workflow.Connection) *ConnectionRecord {
	return &ConnectionRecord{
		ID:            c.ID,
		SourceAgentID: c.SourceAgentID,
		TargetAgentID: c.TargetAgentID,
		IsActive:      c.IsActive,
		Order:         c.Order,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func (r *ConnectionRecord) toDomain() workflow.Connection {
	return workflow.Connection{
		ID:            r.ID,
		SourceAgentID: r.SourceAgentID,
		TargetAgentID: r.TargetAgentID,
		IsActive:      r.IsActive,
		Order:         r.Order,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (r *DocumentRecord) toDomain() *workflow.Document {
	return &workflow.Document{
		ID:            r.ID,
		Filename:      r.Filename,
		ExtractedText: r.ExtractedText,
	}
}

func runRecordFrom(run *workflow.Run) *RunRecord {
	return &RunRecord{
		ID:           run.ID,
		DocumentID:   run.DocumentID,
		Status:       string(run.Status),
		StartedAt:    run.StartedAt.UTC(),
		CompletedAt:  utcPtr(run.CompletedAt),
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}

func (r *RunRecord) toDomain() workflow.Run {
	return workflow.Run{
		ID:           r.ID,
		DocumentID:   r.DocumentID,
		Status:       workflow.RunStatus(r.Status),
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func stepRecordFrom(st *workflow.Step) *StepRecord {
	return &StepRecord{
		ID:           st.ID,
		ExecutionID:  st.RunID,
		AgentID:      st.AgentID,
		AgentName:    st.AgentName,
		SystemPrompt: st.SystemPrompt,
		Order:        st.Order,
		Level:        st.Level,
		Status:       string(st.Status),
		JobID:        st.JobID,
		Predecessors: nonNil(st.Predecessors),
		Successors:   nonNil(st.Successors),
		Input:        st.Input,
		Output:       st.Output,
		StartedAt:    utcPtr(st.StartedAt),
		CompletedAt:  utcPtr(st.CompletedAt),
		ErrorMessage: st.ErrorMessage,
		CreatedAt:    st.CreatedAt,
		UpdatedAt:    st.UpdatedAt,
	}
}

func (r *StepRecord) toDomain() workflow.Step {
	return workflow.Step{
		ID:           r.ID,
		RunID:        r.ExecutionID,
		AgentID:      r.AgentID,
		AgentName:    r.AgentName,
		SystemPrompt: r.SystemPrompt,
		Order:        r.Order,
		Level:        r.Level,
		Status:       workflow.StepStatus(r.Status),
		JobID:        r.JobID,
		Predecessors: nonNil(r.Predecessors),
		Successors:   nonNil(r.Successors),
		Input:        r.Input,
		Output:       r.Output,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
