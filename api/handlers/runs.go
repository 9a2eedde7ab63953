package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/MerOne-1/cv-reformatter-sub001/api"
	"github.com/MerOne-1/cv-reformatter-sub001/types"
	"github.com/MerOne-1/cv-reformatter-sub001/workflow"
)

// =============================================================================
// 🚀 工作流运行 Handler
// =============================================================================

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunController 启动与取消运行
type RunController interface {
	StartRun(ctx context.Context, documentID string) (*workflow.Run, error)
	Cancel(ctx context.Context, runID string) (*workflow.Run, error)
}

// RunReader 读取运行快照
type RunReader interface {
	Snapshot(ctx context.Context, runID string) (*workflow.Snapshot, error)
}

// RunLister 列出运行
type RunLister interface {
	ListRuns(ctx context.Context, filter workflow.RunFilter) ([]workflow.Run, error)
}

// StaleSweeper 清理卡死的运行
type StaleSweeper interface {
	Sweep(ctx context.Context) (workflow.SweepResult, error)
}

// RunHandler 工作流运行处理器
type RunHandler struct {
	controller RunController
	reader     RunReader
	lister     RunLister
	sweeper    StaleSweeper
	logger     *zap.Logger
}

// NewRunHandler 创建运行处理器
func NewRunHandler(controller RunController, reader RunReader, lister RunLister, sweeper StaleSweeper, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		controller: controller,
		reader:     reader,
		lister:     lister,
		sweeper:    sweeper,
		logger:     logger.With(zap.String("component", "run_handler")),
	}
}

// Register 注册路由
func (h *RunHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs", h.HandleStartRun)
	mux.HandleFunc("GET /api/v1/runs", h.HandleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.HandleGetRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/status", h.HandleGetRunStatus)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", h.HandleCancelRun)
	mux.HandleFunc("POST /api/v1/cleanup", h.HandleCleanup)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleStartRun 为文档启动一次运行
// @Summary 启动运行
// @Tags runs
// @Accept json
// @Produce json
// @Param request body api.StartRunRequest true "文档"
// @Success 201 {object} Response{data=api.StartRunResponse}
// @Failure 400 {object} Response "请求无效或没有启用的 Agent"
// @Failure 404 {object} Response "文档不存在或无内容"
// @Failure 409 {object} Response "已有运行进行中"
// @Router /api/v1/runs [post]
func (h *RunHandler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req api.StartRunRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	if req.DocumentID == "" {
		WriteError(w, r, types.NewValidationError("documentId is required"), h.logger)
		return
	}

	run, err := h.controller.StartRun(r.Context(), req.DocumentID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteData(w, r, http.StatusCreated, api.StartRunResponse{
		ExecutionID: run.ID,
		Status:      run.Status,
	})
}

// HandleListRuns 列出运行，支持 documentId、status（逗号分隔）与 limit
// @Summary 运行列表
// @Tags runs
// @Produce json
// @Param documentId query string false "文档 ID"
// @Param status query string false "状态，逗号分隔"
// @Param limit query int false "条数上限"
// @Success 200 {object} Response{data=api.RunListResponse}
// @Router /api/v1/runs [get]
func (h *RunHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRunFilter(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	runs, err := h.lister.ListRuns(r.Context(), filter)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	resp := api.RunListResponse{Runs: make([]api.RunSummary, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, api.NewRunSummary(run))
	}
	WriteSuccess(w, r, resp)
}

// HandleGetRun 返回运行、全部步骤与进度
// @Summary 运行详情
// @Tags runs
// @Produce json
// @Param id path string true "运行 ID"
// @Success 200 {object} Response{data=api.RunDetailResponse}
// @Failure 404 {object} Response
// @Router /api/v1/runs/{id} [get]
func (h *RunHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := h.reader.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.NewRunDetailResponse(snap))
}

// HandleGetRunStatus 轻量轮询接口
// @Summary 运行状态
// @Tags runs
// @Produce json
// @Param id path string true "运行 ID"
// @Success 200 {object} Response{data=api.RunStatusResponse}
// @Failure 404 {object} Response
// @Router /api/v1/runs/{id}/status [get]
func (h *RunHandler) HandleGetRunStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.reader.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.NewRunStatusResponse(snap))
}

// HandleCancelRun 取消运行，已结束的运行返回 400
// @Summary 取消运行
// @Tags runs
// @Produce json
// @Param id path string true "运行 ID"
// @Success 200 {object} Response{data=api.RunSummary}
// @Failure 400 {object} Response "运行已结束"
// @Failure 404 {object} Response
// @Router /api/v1/runs/{id} [delete]
func (h *RunHandler) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.controller.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.NewRunSummary(*run))
}

// HandleCleanup 执行一次卡死运行清理
// @Summary 清理卡死运行
// @Tags runs
// @Produce json
// @Success 200 {object} Response{data=api.CleanupResponse}
// @Router /api/v1/cleanup [post]
func (h *RunHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("cleanup requested",
		zap.Int("runs_failed", result.RunsFailed),
		zap.Int("steps_failed", result.StepsFailed),
	)
	WriteSuccess(w, r, api.NewCleanupResponse(result))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func parseRunFilter(r *http.Request) (workflow.RunFilter, error) {
	q := r.URL.Query()
	filter := workflow.RunFilter{
		DocumentID: strings.TrimSpace(q.Get("documentId")),
		Limit:      defaultListLimit,
	}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := workflow.RunStatus(strings.ToUpper(strings.TrimSpace(part)))
			if st == "" {
				continue
			}
			if !st.Valid() {
				return filter, types.NewValidationError("unknown run status %q", part)
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, types.NewValidationError("limit must be a positive integer")
		}
		filter.Limit = min(n, maxListLimit)
	}
	return filter, nil
}
