package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/MerOne-1/cv-reformatter-sub001/workflow"
)

// =============================================================================
// 🕸️ Agent 图管理 Handler
// =============================================================================

// GraphManager Agent 与连接的管理接口
type GraphManager interface {
	ListAgents(ctx context.Context) ([]workflow.Agent, error)
	GetAgent(ctx context.Context, id string) (*workflow.Agent, error)
	CreateAgent(ctx context.Context, in workflow.AgentInput) (*workflow.Agent, error)
	UpdateAgent(ctx context.Context, id string, in workflow.AgentInput) (*workflow.Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	ListConnections(ctx context.Context) ([]workflow.Connection, error)
	CreateConnection(ctx context.Context, in workflow.ConnectionInput) (*workflow.Connection, error)
	UpdateConnection(ctx context.Context, id string, patch workflow.ConnectionPatch) (*workflow.Connection, error)
	DeleteConnection(ctx context.Context, id string) error

	Graph(ctx context.Context) (*workflow.GraphView, error)
}

// GraphHandler 图管理处理器
type GraphHandler struct {
	graph  GraphManager
	logger *zap.Logger
}

// NewGraphHandler 创建图管理处理器
func NewGraphHandler(graph GraphManager, logger *zap.Logger) *GraphHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphHandler{
		graph:  graph,
		logger: logger.With(zap.String("component", "graph_handler")),
	}
}

// Register 注册路由
func (h *GraphHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/agents", h.HandleListAgents)
	mux.HandleFunc("POST /api/v1/agents", h.HandleCreateAgent)
	mux.HandleFunc("GET /api/v1/agents/{id}", h.HandleGetAgent)
	mux.HandleFunc("PATCH /api/v1/agents/{id}", h.HandleUpdateAgent)
	mux.HandleFunc("DELETE /api/v1/agents/{id}", h.HandleDeleteAgent)

	mux.HandleFunc("GET /api/v1/connections", h.HandleListConnections)
	mux.HandleFunc("POST /api/v1/connections", h.HandleCreateConnection)
	mux.HandleFunc("PATCH /api/v1/connections/{id}", h.HandleUpdateConnection)
	mux.HandleFunc("DELETE /api/v1/connections/{id}", h.HandleDeleteConnection)

	mux.HandleFunc("GET /api/v1/graph", h.HandleGetGraph)
}

// =============================================================================
// 🤖 Agent
// =============================================================================

// HandleListAgents 按显示顺序列出 Agent
// @Summary Agent 列表
// @Tags graph
// @Produce json
// @Success 200 {object} Response{data=[]workflow.Agent}
// @Router /api/v1/agents [get]
func (h *GraphHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.graph.ListAgents(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if agents == nil {
		agents = []workflow.Agent{}
	}
	WriteSuccess(w, r, agents)
}

// HandleCreateAgent 创建 Agent
// @Summary 创建 Agent
// @Tags graph
// @Accept json
// @Produce json
// @Param request body workflow.AgentInput true "Agent"
// @Success 201 {object} Response{data=workflow.Agent}
// @Failure 400 {object} Response
// @Router /api/v1/agents [post]
func (h *GraphHandler) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var in workflow.AgentInput
	if err := DecodeJSONBody(w, r, &in); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	agent, err := h.graph.CreateAgent(r.Context(), in)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteData(w, r, http.StatusCreated, agent)
}

// HandleGetAgent 获取单个 Agent
// @Summary 获取 Agent
// @Tags graph
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} Response{data=workflow.Agent}
// @Failure 404 {object} Response
// @Router /api/v1/agents/{id} [get]
func (h *GraphHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.graph.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, agent)
}

// HandleUpdateAgent 部分更新 Agent
// @Summary 更新 Agent
// @Tags graph
// @Accept json
// @Produce json
// @Param id path string true "Agent ID"
// @Param request body workflow.AgentInput true "变更字段"
// @Success 200 {object} Response{data=workflow.Agent}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/agents/{id} [patch]
func (h *GraphHandler) HandleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var in workflow.AgentInput
	if err := DecodeJSONBody(w, r, &in); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	agent, err := h.graph.UpdateAgent(r.Context(), r.PathValue("id"), in)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, agent)
}

// HandleDeleteAgent 删除 Agent 及其连接
// @Summary 删除 Agent
// @Tags graph
// @Param id path string true "Agent ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /api/v1/agents/{id} [delete]
func (h *GraphHandler) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.graph.DeleteAgent(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// 🔗 连接
// =============================================================================

// HandleListConnections 列出全部连接
// @Summary 连接列表
// @Tags graph
// @Produce json
// @Success 200 {object} Response{data=[]workflow.Connection}
// @Router /api/v1/connections [get]
func (h *GraphHandler) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.graph.ListConnections(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if conns == nil {
		conns = []workflow.Connection{}
	}
	WriteSuccess(w, r, conns)
}

// HandleCreateConnection 创建连接，自环与成环均被拒绝
// @Summary 创建连接
// @Tags graph
// @Accept json
// @Produce json
// @Param request body workflow.ConnectionInput true "连接"
// @Success 201 {object} Response{data=workflow.Connection}
// @Failure 400 {object} Response "自环或成环"
// @Failure 404 {object} Response "Agent 不存在"
// @Failure 409 {object} Response "连接已存在"
// @Router /api/v1/connections [post]
func (h *GraphHandler) HandleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var in workflow.ConnectionInput
	if err := DecodeJSONBody(w, r, &in); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	conn, err := h.graph.CreateConnection(r.Context(), in)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteData(w, r, http.StatusCreated, conn)
}

// HandleUpdateConnection 启停或调整连接顺序
// @Summary 更新连接
// @Tags graph
// @Accept json
// @Produce json
// @Param id path string true "连接 ID"
// @Param request body workflow.ConnectionPatch true "变更字段"
// @Success 200 {object} Response{data=workflow.Connection}
// @Failure 400 {object} Response "重新启用会成环"
// @Failure 404 {object} Response
// @Router /api/v1/connections/{id} [patch]
func (h *GraphHandler) HandleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	var patch workflow.ConnectionPatch
	if err := DecodeJSONBody(w, r, &patch); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	conn, err := h.graph.UpdateConnection(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, conn)
}

// HandleDeleteConnection 删除连接
// @Summary 删除连接
// @Tags graph
// @Param id path string true "连接 ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /api/v1/connections/{id} [delete]
func (h *GraphHandler) HandleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.graph.DeleteConnection(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// 🗺️ 图视图
// =============================================================================

// HandleGetGraph 返回带层级与校验结果的完整图
// @Summary 图视图
// @Tags graph
// @Produce json
// @Success 200 {object} Response{data=workflow.GraphView}
// @Router /api/v1/graph [get]
func (h *GraphHandler) HandleGetGraph(w http.ResponseWriter, r *http.Request) {
	view, err := h.graph.Graph(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, view)
}
