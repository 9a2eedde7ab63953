package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MerOne-1/cv-reformatter-sub001/types"
)

// AgentInput creates or patches an agent. Nil pointers leave the field
// untouched on update.
type AgentInput struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	SystemPrompt *string `json:"systemPrompt,omitempty"`
	IsActive     *bool   `json:"isActive,omitempty"`
	Order        *int    `json:"order,omitempty"`
}

// ConnectionInput creates a connection.
type ConnectionInput struct {
	SourceAgentID string `json:"sourceAgentId"`
	TargetAgentID string `json:"targetAgentId"`
	IsActive      *bool  `json:"isActive,omitempty"`
	Order         *int   `json:"order,omitempty"`
}

// ConnectionPatch updates a connection.
type ConnectionPatch struct {
	IsActive *bool `json:"isActive,omitempty"`
	Order    *int  `json:"order,omitempty"`
}

// AgentNode is an agent as shown in the graph view. Level is set only
// for active agents of an acyclic graph.
type AgentNode struct {
	Agent
	Level *int `json:"level,omitempty"`
}

// GraphView is the whole pipeline configuration with its validation.
type GraphView struct {
	Agents      []AgentNode      `json:"agents"`
	Connections []Connection     `json:"connections"`
	Validation  ValidationReport `json:"validation"`
}

// GraphService manages agents and connections. Writes are serialized so
// the cycle check and the insert see the same edge set.
type GraphService struct {
	store  GraphStore
	logger *zap.Logger
	newID  func() string

	mu sync.Mutex
}

// NewGraphService creates a graph service over store.
func NewGraphService(store GraphStore, logger *zap.Logger) *GraphService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphService{
		store:  store,
		logger: logger.With(zap.String("component", "graph_service")),
		newID:  func() string { return uuid.NewString() },
	}
}

// ListAgents returns every agent in display order.
func (g *GraphService) ListAgents(ctx context.Context) ([]Agent, error) {
	agents, err := g.store.ListAgents(ctx, false)
	if err != nil {
		return nil, err
	}
	sortAgents(agents)
	return agents, nil
}

// GetAgent returns one agent.
func (g *GraphService) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return g.store.GetAgent(ctx, id)
}

// CreateAgent validates and stores a new agent. Agents are active unless
// stated otherwise.
func (g *GraphService) CreateAgent(ctx context.Context, in AgentInput) (*Agent, error) {
	agent := &Agent{ID: g.newID(), IsActive: true}
	applyAgentInput(agent, in)
	if err := validateAgent(agent); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	g.logger.Info("agent created", zap.String("agent_id", agent.ID), zap.String("name", agent.Name))
	return agent, nil
}

// UpdateAgent applies a partial update.
func (g *GraphService) UpdateAgent(ctx context.Context, id string, in AgentInput) (*Agent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	agent, err := g.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	applyAgentInput(agent, in)
	if err := validateAgent(agent); err != nil {
		return nil, err
	}
	if err := g.store.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// DeleteAgent removes an agent and every connection touching it.
func (g *GraphService) DeleteAgent(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.DeleteAgent(ctx, id); err != nil {
		return err
	}
	g.logger.Info("agent deleted", zap.String("agent_id", id))
	return nil
}

// ListConnections returns every connection.
func (g *GraphService) ListConnections(ctx context.Context) ([]Connection, error) {
	return g.store.ListConnections(ctx, false)
}

// CreateConnection stores a new edge after rejecting self-loops,
// duplicates, unknown agents and edges that would close a cycle. A
// rejected insert leaves the graph unchanged.
func (g *GraphService) CreateConnection(ctx context.Context, in ConnectionInput) (*Connection, error) {
	if in.SourceAgentID == "" || in.TargetAgentID == "" {
		return nil, types.NewValidationError("sourceAgentId and targetAgentId are required")
	}
	if in.SourceAgentID == in.TargetAgentID {
		return nil, types.NewValidationError("an agent cannot be connected to itself")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range []string{in.SourceAgentID, in.TargetAgentID} {
		if _, err := g.store.GetAgent(ctx, id); err != nil {
			return nil, err
		}
	}

	existing, err := g.store.ListConnections(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, c := range existing {
		if c.SourceAgentID == in.SourceAgentID && c.TargetAgentID == in.TargetAgentID {
			return nil, types.NewConflictError("connection %s -> %s already exists", in.SourceAgentID, in.TargetAgentID)
		}
	}

	conn := &Connection{
		ID:            g.newID(),
		SourceAgentID: in.SourceAgentID,
		TargetAgentID: in.TargetAgentID,
		IsActive:      true,
	}
	if in.IsActive != nil {
		conn.IsActive = *in.IsActive
	}
	if in.Order != nil {
		conn.Order = *in.Order
	}

	if conn.IsActive && WouldCreateCycle(conn.SourceAgentID, conn.TargetAgentID, activeEdges(existing, "")) {
		return nil, cycleError(conn)
	}

	if err := g.store.CreateConnection(ctx, conn); err != nil {
		return nil, err
	}
	g.logger.Info("connection created",
		zap.String("connection_id", conn.ID),
		zap.String("source", conn.SourceAgentID),
		zap.String("target", conn.TargetAgentID),
	)
	return conn, nil
}

// UpdateConnection toggles activation or reorders an edge. Re-activating
// an edge is cycle-checked like an insert.
func (g *GraphService) UpdateConnection(ctx context.Context, id string, patch ConnectionPatch) (*Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	conn, err := g.store.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.IsActive != nil && *patch.IsActive && !conn.IsActive {
		existing, err := g.store.ListConnections(ctx, true)
		if err != nil {
			return nil, err
		}
		if WouldCreateCycle(conn.SourceAgentID, conn.TargetAgentID, activeEdges(existing, conn.ID)) {
			return nil, cycleError(conn)
		}
	}

	if patch.IsActive != nil {
		conn.IsActive = *patch.IsActive
	}
	if patch.Order != nil {
		conn.Order = *patch.Order
	}
	if err := g.store.UpdateConnection(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// DeleteConnection removes an edge.
func (g *GraphService) DeleteConnection(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.DeleteConnection(ctx, id)
}

// Graph returns the configuration with levels and a validation report
// computed over active connections between active agents. Invalid
// graphs are still returned.
func (g *GraphService) Graph(ctx context.Context) (*GraphView, error) {
	agents, err := g.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	conns, err := g.store.ListConnections(ctx, false)
	if err != nil {
		return nil, err
	}

	var nodes []string
	for _, a := range agents {
		if a.IsActive {
			nodes = append(nodes, a.ID)
		}
	}
	graph := NewGraph(nodes, activeEdges(conns, ""))
	report := ValidateGraph(graph)

	var levels map[string]int
	if !report.HasCycle {
		levels = ComputeLevels(graph)
	}

	view := &GraphView{
		Agents:      make([]AgentNode, 0, len(agents)),
		Connections: conns,
		Validation:  report,
	}
	if view.Connections == nil {
		view.Connections = []Connection{}
	}
	for _, a := range agents {
		node := AgentNode{Agent: a}
		if lvl, ok := levels[a.ID]; ok {
			node.Level = ptr(lvl)
		}
		view.Agents = append(view.Agents, node)
	}
	return view, nil
}

func applyAgentInput(agent *Agent, in AgentInput) {
	if in.Name != nil {
		agent.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		agent.Description = *in.Description
	}
	if in.SystemPrompt != nil {
		agent.SystemPrompt = *in.SystemPrompt
	}
	if in.IsActive != nil {
		agent.IsActive = *in.IsActive
	}
	if in.Order != nil {
		agent.Order = *in.Order
	}
}

func validateAgent(agent *Agent) error {
	if agent.Name == "" {
		return types.NewValidationError("agent name is required")
	}
	if strings.TrimSpace(agent.SystemPrompt) == "" {
		return types.NewValidationError("agent %q needs a system prompt", agent.Name)
	}
	return nil
}

// activeEdges returns the edges of active connections, leaving out skipID.
func activeEdges(conns []Connection, skipID string) []Edge {
	edges := make([]Edge, 0, len(conns))
	for _, c := range conns {
		if c.IsActive && c.ID != skipID {
			edges = append(edges, c.Edge())
		}
	}
	return edges
}

func cycleError(conn *Connection) error {
	return types.NewValidationError("connecting %s to %s would create a cycle", conn.SourceAgentID, conn.TargetAgentID).
		WithCause(fmt.Errorf("path from %s back to %s already exists", conn.TargetAgentID, conn.SourceAgentID))
}
