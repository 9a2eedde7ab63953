package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MerOne-1/cv-reformatter-sub001/types"
	"github.com/MerOne-1/cv-reformatter-sub001/workflow"
)

// =============================================================================
// 🧪 GormStore 测试（内存 SQLite）
// =============================================================================

func setupTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 每个连接都是独立的内存库
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return NewGormStore(db, zap.NewNop())
}

func seedDocument(t *testing.T, s *GormStore, id string) {
	t.Helper()
	require.NoError(t, s.CreateDocument(context.Background(), &workflow.Document{
		ID: id, Filename: id + ".pdf", ExtractedText: "Jane Doe, Go engineer",
	}))
}

func newRun(id, docID string, status workflow.RunStatus, startedAt time.Time) *workflow.Run {
	return &workflow.Run{ID: id, DocumentID: docID, Status: status, StartedAt: startedAt}
}

func TestGormStore_AgentCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agents := []workflow.Agent{
		{ID: "a2", Name: "Formatter", SystemPrompt: "format", IsActive: true, Order: 2},
		{ID: "a1", Name: "Extractor", SystemPrompt: "extract", IsActive: true, Order: 1},
		{ID: "a3", Name: "Reviewer", SystemPrompt: "review", IsActive: false, Order: 0},
	}
	for i := range agents {
		require.NoError(t, s.CreateAgent(ctx, &agents[i]))
		assert.False(t, agents[i].CreatedAt.IsZero())
	}

	all, err := s.ListAgents(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a3", "a1", "a2"}, []string{all[0].ID, all[1].ID, all[2].ID})

	active, err := s.ListAgents(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a1", active[0].ID)
	assert.Equal(t, "a2", active[1].ID)

	got, err := s.GetAgent(ctx, "a3")
	require.NoError(t, err)
	assert.False(t, got.IsActive, "inactive flag must survive the round trip")

	got.IsActive = true
	got.Name = "Reviewer v2"
	require.NoError(t, s.UpdateAgent(ctx, got))
	got, err = s.GetAgent(ctx, "a3")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, "Reviewer v2", got.Name)

	_, err = s.GetAgent(ctx, "missing")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	err = s.UpdateAgent(ctx, &workflow.Agent{ID: "missing", Name: "x", SystemPrompt: "y"})
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	err = s.CreateAgent(ctx, &workflow.Agent{ID: "a1", Name: "dup", SystemPrompt: "p"})
	assert.True(t, types.IsErrorCode(err, types.ErrConflict))
}

func TestGormStore_DeleteAgentRemovesConnections(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateAgent(ctx, &workflow.Agent{ID: id, Name: id, SystemPrompt: "p", IsActive: true}))
	}
	require.NoError(t, s.CreateConnection(ctx, &workflow.Connection{ID: "ab", SourceAgentID: "a", TargetAgentID: "b", IsActive: true}))
	require.NoError(t, s.CreateConnection(ctx, &workflow.Connection{ID: "bc", SourceAgentID: "b", TargetAgentID: "c", IsActive: true}))

	require.NoError(t, s.DeleteAgent(ctx, "b"))

	conns, err := s.ListConnections(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, conns)

	err = s.DeleteAgent(ctx, "b")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestGormStore_Connections(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.CreateAgent(ctx, &workflow.Agent{ID: id, Name: id, SystemPrompt: "p", IsActive: true}))
	}
	conn := &workflow.Connection{ID: "ab", SourceAgentID: "a", TargetAgentID: "b", IsActive: true}
	require.NoError(t, s.CreateConnection(ctx, conn))

	err := s.CreateConnection(ctx, &workflow.Connection{ID: "ab2", SourceAgentID: "a", TargetAgentID: "b", IsActive: true})
	assert.True(t, types.IsErrorCode(err, types.ErrConflict))

	conn.IsActive = false
	conn.Order = 3
	require.NoError(t, s.UpdateConnection(ctx, conn))

	active, err := s.ListConnections(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := s.GetConnection(ctx, "ab")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, 3, got.Order)

	require.NoError(t, s.DeleteConnection(ctx, "ab"))
	_, err = s.GetConnection(ctx, "ab")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
	assert.True(t, types.IsErrorCode(s.DeleteConnection(ctx, "ab"), types.ErrNotFound))
}

func TestGormStore_GetDocument(t *testing.T) {
	s := setupTestStore(t)
	seedDocument(t, s, "doc-1")

	doc, err := s.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.True(t, doc.HasContent())

	_, err = s.GetDocument(context.Background(), "nope")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestGormStore_CreateRunWithSteps(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "doc-1")

	started := time.Now().UTC()
	steps := []workflow.Step{
		{ID: "s1", RunID: "run-1", AgentID: "a", AgentName: "Extractor", Status: workflow.StepPending, Successors: []string{"s2"}},
		{ID: "s2", RunID: "run-1", AgentID: "b", AgentName: "Formatter", Level: 1, Status: workflow.StepWaitingInputs, Predecessors: []string{"s1"}},
	}
	require.NoError(t, s.CreateRun(ctx, newRun("run-1", "doc-1", workflow.RunPending, started), steps))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.RunPending, run.Status)
	assert.WithinDuration(t, started, run.StartedAt, time.Millisecond)

	got, err := s.ListSteps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, []string{"s2"}, got[0].Successors)
	assert.Equal(t, []string{}, got[0].Predecessors)
	assert.Equal(t, []string{"s1"}, got[1].Predecessors)
	assert.Equal(t, "run-1", got[1].RunID)
}

func TestGormStore_CreateRunRejectsSecondLiveRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "doc-1")
	seedDocument(t, s, "doc-2")

	now := time.Now().UTC()
	require.NoError(t, s.CreateRun(ctx, newRun("run-1", "doc-1", workflow.RunPending, now), nil))

	err := s.CreateRun(ctx, newRun("run-2", "doc-1", workflow.RunPending, now),
		[]workflow.Step{{ID: "orphan", RunID: "run-2", AgentID: "a", AgentName: "A", Status: workflow.StepPending}})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrConflict))

	_, err = s.GetStep(ctx, "orphan")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound), "rejected run must not leave steps behind")

	require.NoError(t, s.CreateRun(ctx, newRun("run-3", "doc-2", workflow.RunPending, now), nil))

	ok, err := s.TransitionRun(ctx, "run-1", []workflow.RunStatus{workflow.RunPending}, workflow.RunFailed, workflow.RunPatch{})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.CreateRun(ctx, newRun("run-4", "doc-1", workflow.RunPending, now), nil))
}

func TestGormStore_TransitionStepIsGuarded(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "doc-1")
	require.NoError(t, s.CreateRun(ctx, newRun("run-1", "doc-1", workflow.RunRunning, time.Now().UTC()),
		[]workflow.Step{{ID: "s1", RunID: "run-1", AgentID: "a", AgentName: "A", Status: workflow.StepPending}}))

	now := time.Now().UTC()
	ok, err := s.TransitionStep(ctx, "s1",
		[]workflow.StepStatus{workflow.StepPending, workflow.StepWaitingInputs}, workflow.StepRunning,
		workflow.StepPatch{StartedAt: &now})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionStep(ctx, "s1",
		[]workflow.StepStatus{workflow.StepPending, workflow.StepWaitingInputs}, workflow.StepRunning,
		workflow.StepPatch{StartedAt: &now})
	require.NoError(t, err)
	assert.False(t, ok, "second dispatch must lose the guard")

	input, output := "in", "out"
	ok, err = s.TransitionStep(ctx, "s1", []workflow.StepStatus{workflow.StepRunning}, workflow.StepCompleted,
		workflow.StepPatch{CompletedAt: &now, Input: &input, Output: &output})
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := s.GetStep(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StepCompleted, st.Status)
	assert.Equal(t, "out", st.Output)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.CompletedAt)

	_, err = s.TransitionStep(ctx, "nope", []workflow.StepStatus{workflow.StepRunning}, workflow.StepFailed, workflow.StepPatch{})
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestGormStore_SetStepJob(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "doc-1")
	require.NoError(t, s.CreateRun(ctx, newRun("run-1", "doc-1", workflow.RunRunning, time.Now().UTC()),
		[]workflow.Step{{ID: "s1", RunID: "run-1", AgentID: "a", AgentName: "A", Status: workflow.StepRunning}}))

	require.NoError(t, s.SetStepJob(ctx, "s1", "job-42"))
	st, err := s.GetStep(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "job-42", st.JobID)

	assert.True(t, types.IsErrorCode(s.SetStepJob(ctx, "nope", "job"), types.ErrNotFound))
}

func TestGormStore_ListStaleRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"d1", "d2", "d3", "d4"} {
		seedDocument(t, s, id)
	}

	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)
	require.NoError(t, s.CreateRun(ctx, newRun("stale-running", "d1", workflow.RunRunning, old), nil))
	require.NoError(t, s.CreateRun(ctx, newRun("stale-pending", "d2", workflow.RunPending, old.Add(time.Minute)), nil))
	require.NoError(t, s.CreateRun(ctx, newRun("fresh", "d3", workflow.RunRunning, now), nil))
	require.NoError(t, s.CreateRun(ctx, newRun("old-done", "d4", workflow.RunCompleted, old), nil))

	stale, err := s.ListStaleRuns(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "stale-running", stale[0].ID)
	assert.Equal(t, "stale-pending", stale[1].ID)
}

func TestGormStore_ListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "d1")
	seedDocument(t, s, "d2")

	now := time.Now().UTC()
	require.NoError(t, s.CreateRun(ctx, newRun("r1", "d1", workflow.RunCompleted, now), nil))
	require.NoError(t, s.CreateRun(ctx, newRun("r2", "d1", workflow.RunRunning, now), nil))
	require.NoError(t, s.CreateRun(ctx, newRun("r3", "d2", workflow.RunFailed, now), nil))

	byDoc, err := s.ListRuns(ctx, workflow.RunFilter{DocumentID: "d1"})
	require.NoError(t, err)
	assert.Len(t, byDoc, 2)

	failed, err := s.ListRuns(ctx, workflow.RunFilter{Statuses: []workflow.RunStatus{workflow.RunFailed}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "r3", failed[0].ID)

	limited, err := s.ListRuns(ctx, workflow.RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGormStore_TransitionRunPatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "d1")
	require.NoError(t, s.CreateRun(ctx, newRun("r1", "d1", workflow.RunRunning, time.Now().UTC()), nil))

	now := time.Now().UTC()
	msg := "Agent \"Formatter\" failed: boom"
	ok, err := s.TransitionRun(ctx, "r1", []workflow.RunStatus{workflow.RunPending, workflow.RunRunning}, workflow.RunFailed,
		workflow.RunPatch{CompletedAt: &now, ErrorMessage: &msg})
	require.NoError(t, err)
	require.True(t, ok)

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, workflow.RunFailed, run.Status)
	assert.Equal(t, msg, run.ErrorMessage)
	require.NotNil(t, run.CompletedAt)

	ok, err = s.TransitionRun(ctx, "r1", []workflow.RunStatus{workflow.RunPending, workflow.RunRunning}, workflow.RunCancelled, workflow.RunPatch{})
	require.NoError(t, err)
	assert.False(t, ok, "terminal run must not change")

	_, err = s.GetRun(ctx, "nope")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}
