package workflow

import (
	"sort"

	"github.com/google/uuid"

	"github.com/MerOne-1/cv-reformatter-sub001/types"
)

// Plan is the per-run execution plan produced by Compile.
type Plan struct {
	RunID string
	Steps []Step
	// Levels maps step id to topological level.
	Levels map[string]int
}

// Roots returns the steps that are dispatch-ready at run start.
func (p *Plan) Roots() []Step {
	var roots []Step
	for _, s := range p.Steps {
		if len(s.Predecessors) == 0 {
			roots = append(roots, s)
		}
	}
	return roots
}

// Compiler materializes a run's steps from a graph snapshot.
type Compiler struct {
	newID func() string
}

// NewCompiler creates a compiler that mints step ids with uuid.
func NewCompiler() *Compiler {
	return &Compiler{newID: func() string { return uuid.NewString() }}
}

// Compile builds one step per active agent. Connections count only when
// both they and their endpoints are active. Roots start PENDING, every
// other step WAITING_INPUTS.
func (c *Compiler) Compile(runID string, agents []Agent, conns []Connection) (*Plan, error) {
	active := make([]Agent, 0, len(agents))
	for _, a := range agents {
		if a.IsActive {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return nil, types.NewNoActiveAgentsError()
	}
	sortAgents(active)

	nodes := make([]string, len(active))
	for i, a := range active {
		nodes[i] = a.ID
	}
	var edges []Edge
	for _, conn := range conns {
		if conn.IsActive {
			edges = append(edges, conn.Edge())
		}
	}
	g := NewGraph(nodes, edges)
	if DetectCycle(g) {
		return nil, types.NewValidationError("active connections form a cycle; fix the pipeline before starting a run")
	}
	levels := ComputeLevels(g)

	stepIDs := make(map[string]string, len(active))
	for _, a := range active {
		stepIDs[a.ID] = c.newID()
	}

	plan := &Plan{RunID: runID, Steps: make([]Step, 0, len(active)), Levels: make(map[string]int, len(active))}
	for _, a := range active {
		preds := mapIDs(g.incoming[a.ID], stepIDs)
		succs := mapIDs(g.outgoing[a.ID], stepIDs)
		status := StepPending
		if len(preds) > 0 {
			status = StepWaitingInputs
		}
		id := stepIDs[a.ID]
		plan.Steps = append(plan.Steps, Step{
			ID:           id,
			RunID:        runID,
			AgentID:      a.ID,
			AgentName:    a.Name,
			SystemPrompt: a.SystemPrompt,
			Order:        a.Order,
			Level:        levels[a.ID],
			Status:       status,
			Predecessors: preds,
			Successors:   succs,
		})
		plan.Levels[id] = levels[a.ID]
	}
	return plan, nil
}

func mapIDs(agentIDs []string, stepIDs map[string]string) []string {
	out := make([]string, 0, len(agentIDs))
	for _, id := range agentIDs {
		out = append(out, stepIDs[id])
	}
	return out
}

// sortAgents orders agents by display order, then name, then id.
func sortAgents(agents []Agent) {
	sort.SliceStable(agents, func(i, j int) bool {
		if agents[i].Order != agents[j].Order {
			return agents[i].Order < agents[j].Order
		}
		if agents[i].Name != agents[j].Name {
			return agents[i].Name < agents[j].Name
		}
		return agents[i].ID < agents[j].ID
	})
}
