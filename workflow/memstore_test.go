package workflow

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/MerOne-1/cv-reformatter-sub001/types"
)

// memStore is an in-memory Store with the same guarded-transition
// semantics as the gorm store.
type memStore struct {
	mu     sync.Mutex
	agents map[string]Agent
	conns  map[string]Connection
	docs   map[string]Document
	runs   map[string]Run
	steps  map[string]Step

	// failOn makes the named method return an error once.
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		agents: map[string]Agent{},
		conns:  map[string]Connection{},
		docs:   map[string]Document{},
		runs:   map[string]Run{},
		steps:  map[string]Step{},
		failOn: map[string]error{},
	}
}

func (m *memStore) injected(method string) error {
	if err, ok := m.failOn[method]; ok {
		delete(m.failOn, method)
		return err
	}
	return nil
}

func (m *memStore) ListAgents(_ context.Context, activeOnly bool) ([]Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Agent
	for _, a := range m.agents {
		if !activeOnly || a.IsActive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, types.NewNotFoundError("agent", id)
	}
	return &a, nil
}

func (m *memStore) CreateAgent(_ context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agent.ID]; ok {
		return types.NewConflictError("agent %s already exists", agent.ID)
	}
	m.agents[agent.ID] = *agent
	return nil
}

func (m *memStore) UpdateAgent(_ context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agent.ID]; !ok {
		return types.NewNotFoundError("agent", agent.ID)
	}
	m.agents[agent.ID] = *agent
	return nil
}

func (m *memStore) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[id]; !ok {
		return types.NewNotFoundError("agent", id)
	}
	delete(m.agents, id)
	for cid, c := range m.conns {
		if c.SourceAgentID == id || c.TargetAgentID == id {
			delete(m.conns, cid)
		}
	}
	return nil
}

func (m *memStore) ListConnections(_ context.Context, activeOnly bool) ([]Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Connection
	for _, c := range m.conns {
		if !activeOnly || c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetConnection(_ context.Context, id string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, types.NewNotFoundError("connection", id)
	}
	return &c, nil
}

func (m *memStore) CreateConnection(_ context.Context, conn *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID] = *conn
	return nil
}

func (m *memStore) UpdateConnection(_ context.Context, conn *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[conn.ID]; !ok {
		return types.NewNotFoundError("connection", conn.ID)
	}
	m.conns[conn.ID] = *conn
	return nil
}

func (m *memStore) DeleteConnection(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[id]; !ok {
		return types.NewNotFoundError("connection", id)
	}
	delete(m.conns, id)
	return nil
}

func (m *memStore) GetDocument(_ context.Context, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, types.NewNotFoundError("document", id)
	}
	return &d, nil
}

func (m *memStore) CreateRun(_ context.Context, run *Run, steps []Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateRun"); err != nil {
		return err
	}
	for _, r := range m.runs {
		if r.DocumentID == run.DocumentID && !r.Status.IsTerminal() {
			return types.NewConflictError("document %s already has a run in progress", run.DocumentID)
		}
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now
	m.runs[run.ID] = *run
	for _, st := range steps {
		st.CreatedAt, st.UpdatedAt = now, now
		m.steps[st.ID] = cloneStep(st)
	}
	return nil
}

func (m *memStore) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, types.NewNotFoundError("workflow execution", id)
	}
	return &r, nil
}

func (m *memStore) ListRuns(_ context.Context, filter RunFilter) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for _, r := range m.runs {
		if filter.DocumentID != "" && r.DocumentID != filter.DocumentID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) ListStaleRuns(_ context.Context, startedBefore time.Time) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for _, r := range m.runs {
		if !r.Status.IsTerminal() && r.StartedAt.Before(startedBefore) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *memStore) TransitionRun(_ context.Context, id string, from []RunStatus, to RunStatus, patch RunPatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("TransitionRun"); err != nil {
		return false, err
	}
	r, ok := m.runs[id]
	if !ok {
		return false, types.NewNotFoundError("workflow execution", id)
	}
	if !slices.Contains(from, r.Status) {
		return false, nil
	}
	r.Status = to
	if patch.CompletedAt != nil {
		r.CompletedAt = ptr(*patch.CompletedAt)
	}
	if patch.ErrorMessage != nil {
		r.ErrorMessage = *patch.ErrorMessage
	}
	r.UpdatedAt = time.Now().UTC()
	m.runs[id] = r
	return true, nil
}

func (m *memStore) GetStep(_ context.Context, id string) (*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.steps[id]
	if !ok {
		return nil, types.NewNotFoundError("workflow step", id)
	}
	st = cloneStep(st)
	return &st, nil
}

func (m *memStore) ListSteps(_ context.Context, runID string) ([]Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Step
	for _, st := range m.steps {
		if st.RunID == runID {
			out = append(out, cloneStep(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.AgentName != b.AgentName {
			return a.AgentName < b.AgentName
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *memStore) TransitionStep(_ context.Context, id string, from []StepStatus, to StepStatus, patch StepPatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("TransitionStep"); err != nil {
		return false, err
	}
	st, ok := m.steps[id]
	if !ok {
		return false, types.NewNotFoundError("workflow step", id)
	}
	if !slices.Contains(from, st.Status) {
		return false, nil
	}
	st.Status = to
	if patch.StartedAt != nil {
		st.StartedAt = ptr(*patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		st.CompletedAt = ptr(*patch.CompletedAt)
	}
	if patch.ErrorMessage != nil {
		st.ErrorMessage = *patch.ErrorMessage
	}
	if patch.Input != nil {
		st.Input = *patch.Input
	}
	if patch.Output != nil {
		st.Output = *patch.Output
	}
	st.UpdatedAt = time.Now().UTC()
	m.steps[id] = st
	return true, nil
}

func (m *memStore) SetStepJob(_ context.Context, id, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.steps[id]
	if !ok {
		return types.NewNotFoundError("workflow step", id)
	}
	st.JobID = jobID
	m.steps[id] = st
	return nil
}

func cloneStep(st Step) Step {
	st.Predecessors = slices.Clone(st.Predecessors)
	st.Successors = slices.Clone(st.Successors)
	return st
}

// =============================================================================
// fakes
// =============================================================================

// fakeQueue records enqueued payloads and cancelled job ids.
type fakeQueue struct {
	mu         sync.Mutex
	seq        int
	jobs       map[string]JobPayload
	order      []string
	cancelled  []string
	enqueueErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[string]JobPayload{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, payload JobPayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return "", q.enqueueErr
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}
	q.seq++
	id := "job-" + string(rune('a'+q.seq-1))
	q.jobs[id] = payload
	q.order = append(q.order, id)
	return id, nil
}

func (q *fakeQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, jobID)
	delete(q.jobs, jobID)
	return nil
}

// pending returns the payloads still queued in enqueue order.
func (q *fakeQueue) pending() []JobPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []JobPayload
	for _, id := range q.order {
		if p, ok := q.jobs[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// take removes and returns the oldest queued payload.
func (q *fakeQueue) take() (JobPayload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.order) > 0 {
		id := q.order[0]
		q.order = q.order[1:]
		if p, ok := q.jobs[id]; ok {
			delete(q.jobs, id)
			return p, true
		}
	}
	return JobPayload{}, false
}

// stepsOf returns the step ids of queued agent execution jobs.
func (q *fakeQueue) stepsOf() []string {
	var ids []string
	for _, p := range q.pending() {
		if p.Kind == JobKindAgentExecution {
			ids = append(ids, p.AgentExecution.StepID)
		}
	}
	return ids
}

var errBoom = errors.New("boom")
