package api

import (
	"time"

	"github.com/MerOne-1/cv-reformatter-sub001/workflow"
)

// =============================================================================
// 运行请求与响应
// =============================================================================

// StartRunRequest 启动工作流运行
type StartRunRequest struct {
	// 待处理文档 ID
	DocumentID string `json:"documentId" example:"8d6f0c3e-1b2a-4c9e-9f10-3b1d2f4a5c6e"`
}

// StartRunResponse 新建运行的 ID 与初始状态
type StartRunResponse struct {
	ExecutionID string             `json:"executionId"`
	Status      workflow.RunStatus `json:"status" example:"RUNNING"`
}

// StepView 步骤详情
type StepView struct {
	ID           string              `json:"id"`
	AgentID      string              `json:"agentId"`
	AgentName    string              `json:"agentName"`
	Status       workflow.StepStatus `json:"status"`
	Level        int                 `json:"level"`
	Order        int                 `json:"order"`
	JobID        string              `json:"jobId,omitempty"`
	Predecessors []string            `json:"predecessors"`
	Successors   []string            `json:"successors"`
	Output       string              `json:"output,omitempty"`
	StartedAt    *time.Time          `json:"startedAt,omitempty"`
	CompletedAt  *time.Time          `json:"completedAt,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
}

// RunDetailResponse 运行详情：运行、全部步骤与进度
type RunDetailResponse struct {
	ExecutionID  string             `json:"executionId"`
	DocumentID   string             `json:"documentId"`
	Status       workflow.RunStatus `json:"status"`
	StartedAt    time.Time          `json:"startedAt"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	Steps        []StepView         `json:"steps"`
	Progress     workflow.Progress  `json:"progress"`
}

// ProgressSummary 轮询接口中的进度摘要
type ProgressSummary struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// StepStatusView 轮询接口中的步骤状态
type StepStatusView struct {
	ID           string              `json:"id"`
	AgentID      string              `json:"agentId"`
	AgentName    string              `json:"agentName"`
	Status       workflow.StepStatus `json:"status"`
	Level        int                 `json:"level"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
}

// RunStatusResponse 轻量轮询载荷，亦用于状态推送
type RunStatusResponse struct {
	ExecutionID  string             `json:"executionId"`
	Status       workflow.RunStatus `json:"status"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	Progress     ProgressSummary    `json:"progress"`
	Steps        []StepStatusView   `json:"steps"`
}

// RunSummary 运行列表项
type RunSummary struct {
	ExecutionID  string             `json:"executionId"`
	DocumentID   string             `json:"documentId"`
	Status       workflow.RunStatus `json:"status"`
	StartedAt    time.Time          `json:"startedAt"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
}

// RunListResponse 运行列表
type RunListResponse struct {
	Runs []RunSummary `json:"runs"`
}

// CleanupResponse 清理扫描结果
type CleanupResponse struct {
	RunsFailed  int `json:"runsFailed"`
	StepsFailed int `json:"stepsFailed"`
}

// =============================================================================
// 转换
// =============================================================================

// NewStepView 由领域步骤构造
func NewStepView(st workflow.Step) StepView {
	return StepView{
		ID:           st.ID,
		AgentID:      st.AgentID,
		AgentName:    st.AgentName,
		Status:       st.Status,
		Level:        st.Level,
		Order:        st.Order,
		JobID:        st.JobID,
		Predecessors: nonNil(st.Predecessors),
		Successors:   nonNil(st.Successors),
		Output:       st.Output,
		StartedAt:    st.StartedAt,
		CompletedAt:  st.CompletedAt,
		ErrorMessage: st.ErrorMessage,
	}
}

// NewRunDetailResponse 由快照构造运行详情
func NewRunDetailResponse(snap *workflow.Snapshot) RunDetailResponse {
	resp := RunDetailResponse{
		ExecutionID:  snap.Run.ID,
		DocumentID:   snap.Run.DocumentID,
		Status:       snap.Run.Status,
		StartedAt:    snap.Run.StartedAt,
		CompletedAt:  snap.Run.CompletedAt,
		ErrorMessage: snap.Run.ErrorMessage,
		Steps:        make([]StepView, 0, len(snap.Steps)),
		Progress:     snap.Progress,
	}
	for _, st := range snap.Steps {
		resp.Steps = append(resp.Steps, NewStepView(st))
	}
	return resp
}

// NewRunStatusResponse 由快照构造轮询载荷
func NewRunStatusResponse(snap *workflow.Snapshot) RunStatusResponse {
	resp := RunStatusResponse{
		ExecutionID:  snap.Run.ID,
		Status:       snap.Run.Status,
		ErrorMessage: snap.Run.ErrorMessage,
		Progress: ProgressSummary{
			Completed:  snap.Progress.Completed,
			Total:      snap.Progress.Total,
			Percentage: snap.Progress.Percentage,
		},
		Steps: make([]StepStatusView, 0, len(snap.Steps)),
	}
	for _, st := range snap.Steps {
		resp.Steps = append(resp.Steps, StepStatusView{
			ID:           st.ID,
			AgentID:      st.AgentID,
			AgentName:    st.AgentName,
			Status:       st.Status,
			Level:        st.Level,
			ErrorMessage: st.ErrorMessage,
		})
	}
	return resp
}

// NewRunSummary 由领域运行构造列表项
func NewRunSummary(run workflow.Run) RunSummary {
	return RunSummary{
		ExecutionID:  run.ID,
		DocumentID:   run.DocumentID,
		Status:       run.Status,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
		ErrorMessage: run.ErrorMessage,
	}
}

// NewCleanupResponse 由扫描结果构造
func NewCleanupResponse(r workflow.SweepResult) CleanupResponse {
	return CleanupResponse{
		RunsFailed:  r.RunsFailed,
		StepsFailed: r.StepsFailed,
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
