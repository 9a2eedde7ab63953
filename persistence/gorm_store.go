package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MerOne-1/cv-reformatter-sub001/internal/database"
	"github.com/MerOne-1/cv-reformatter-sub001/types"
	"github.com/MerOne-1/cv-reformatter-sub001/workflow"
)

// =============================================================================
// 🗄️ GORM 存储
// =============================================================================

// liveRunStatuses 进行中的执行状态
var liveRunStatuses = []string{string(workflow.RunPending), string(workflow.RunRunning)}

// GormStore 基于 GORM 的 workflow.Store 实现。
// 状态变更全部通过带状态条件的 UPDATE 完成，并发回调无需加锁。
type GormStore struct {
	db         *gorm.DB
	logger     *zap.Logger
	maxRetries int
}

var _ workflow.Store = (*GormStore)(nil)

// NewGormStore 创建存储
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:         db,
		logger:     logger.With(zap.String("component", "gorm_store")),
		maxRetries: 3,
	}
}

// AutoMigrate 按模型建表。PostgreSQL 与 SQLite 额外建立部分唯一索引，
// 保证同一文档最多一个进行中的执行。
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&AgentRecord{},
		&ConnectionRecord{},
		&DocumentRecord{},
		&RunRecord{},
		&StepRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	switch db.Dialector.Name() {
	case "postgres", "sqlite":
		err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_workflow_executions_in_progress
			ON workflow_executions (document_id) WHERE status IN ('PENDING', 'RUNNING')`).Error
		if err != nil {
			return fmt.Errorf("failed to create in-progress index: %w", err)
		}
	}
	return nil
}

func (s *GormStore) now() time.Time {
	return s.db.NowFunc().UTC()
}

// =============================================================================
// 🤖 智能体
// =============================================================================

// ListAgents 按展示顺序列出智能体
func (s *GormStore) ListAgents(ctx context.Context, activeOnly bool) ([]workflow.Agent, error) {
	q := s.db.WithContext(ctx).Order("display_order, name, id")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var records []AgentRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	agents := make([]workflow.Agent, len(records))
	for i := range records {
		agents[i] = records[i].toDomain()
	}
	return agents, nil
}

// GetAgent 获取智能体
func (s *GormStore) GetAgent(ctx context.Context, id string) (*workflow.Agent, error) {
	var rec AgentRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, mapError(err, "agent", id)
	}
	agent := rec.toDomain()
	return &agent, nil
}

// CreateAgent 新建智能体
func (s *GormStore) CreateAgent(ctx context.Context, agent *workflow.Agent) error {
	rec := agentRecordFrom(agent)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return mapError(err, "agent", agent.ID)
	}
	agent.CreatedAt, agent.UpdatedAt = rec.CreatedAt, rec.UpdatedAt
	return nil
}

// UpdateAgent 覆盖智能体的可编辑字段
func (s *GormStore) UpdateAgent(ctx context.Context, agent *workflow.Agent) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&AgentRecord{}).Where("id = ?", agent.ID).Updates(map[string]any{
		"name":          agent.Name,
		"description":   agent.Description,
		"system_prompt": agent.SystemPrompt,
		"is_active":     agent.IsActive,
		"display_order": agent.Order,
		"updated_at":    now,
	})
	if res.Error != nil {
		return mapError(res.Error, "agent", agent.ID)
	}
	if res.RowsAffected == 0 {
		return types.NewNotFoundError("agent", agent.ID)
	}
	agent.UpdatedAt = now
	return nil
}

// DeleteAgent 删除智能体及其所有连接
func (s *GormStore) DeleteAgent(ctx context.Context, id string) error {
	return database.RetryTransaction(ctx, s.db, s.maxRetries, s.logger, func(tx *gorm.DB) error {
		if err := tx.Where("source_agent_id = ? OR target_agent_id = ?", id, id).
			Delete(&ConnectionRecord{}).Error; err != nil {
			return fmt.Errorf("delete connections of agent %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&AgentRecord{})
		if res.Error != nil {
			return mapError(res.Error, "agent", id)
		}
		if res.RowsAffected == 0 {
			return types.NewNotFoundError("agent", id)
		}
		return nil
	})
}

// =============================================================================
// 🔗 连接
// =============================================================================

// ListConnections 列出连接
func (s *GormStore) ListConnections(ctx context.Context, activeOnly bool) ([]workflow.Connection, error) {
	q := s.db.WithContext(ctx).Order("display_order, created_at, id")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var records []ConnectionRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	conns := make([]workflow.Connection, len(records))
	for i := range records {
		conns[i] = records[i].toDomain()
	}
	return conns, nil
}

// GetConnection 获取连接
func (s *GormStore) GetConnection(ctx context.Context, id string) (*workflow.Connection, error) {
	var rec ConnectionRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, mapError(err, "connection", id)
	}
	conn := rec.toDomain()
	return &conn, nil
}

// CreateConnection 新建连接，同一对智能体重复连接返回冲突
func (s *GormStore) CreateConnection(ctx context.Context, conn *workflow.Connection) error {
	rec := connectionRecordFrom(conn)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return types.NewConflictError("connection %s -> %s already exists", conn.SourceAgentID, conn.TargetAgentID).WithCause(err)
		}
		return mapError(err, "connection", conn.ID)
	}
	conn.CreatedAt, conn.UpdatedAt = rec.CreatedAt, rec.UpdatedAt
	return nil
}

// UpdateConnection 更新激活状态与顺序
func (s *GormStore) UpdateConnection(ctx context.Context, conn *workflow.Connection) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&ConnectionRecord{}).Where("id = ?", conn.ID).Updates(map[string]any{
		"is_active":     conn.IsActive,
		"display_order": conn.Order,
		"updated_at":    now,
	})
	if res.Error != nil {
		return mapError(res.Error, "connection", conn.ID)
	}
	if res.RowsAffected == 0 {
		return types.NewNotFoundError("connection", conn.ID)
	}
	conn.UpdatedAt = now
	return nil
}

// DeleteConnection 删除连接
func (s *GormStore) DeleteConnection(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&ConnectionRecord{})
	if res.Error != nil {
		return mapError(res.Error, "connection", id)
	}
	if res.RowsAffected == 0 {
		return types.NewNotFoundError("connection", id)
	}
	return nil
}

// =============================================================================
// 📄 文档
// =============================================================================

// GetDocument 获取文档
func (s *GormStore) GetDocument(ctx context.Context, id string) (*workflow.Document, error) {
	var rec DocumentRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, mapError(err, "document", id)
	}
	return rec.toDomain(), nil
}

// CreateDocument 写入文档。文档通常由摄取流程写入，此方法用于初始化与测试
func (s *GormStore) CreateDocument(ctx context.Context, doc *workflow.Document) error {
	rec := &DocumentRecord{ID: doc.ID, Filename: doc.Filename, ExtractedText: doc.ExtractedText}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return mapError(err, "document", doc.ID)
	}
	return nil
}

// =============================================================================
// 🏃 执行
// =============================================================================

// CreateRun 在一个事务中写入执行及其全部步骤。
// 文档已有 PENDING/RUNNING 执行时返回冲突。
func (s *GormStore) CreateRun(ctx context.Context, run *workflow.Run, steps []workflow.Step) error {
	runRec := runRecordFrom(run)
	stepRecs := make([]*StepRecord, len(steps))
	for i := range steps {
		stepRecs[i] = stepRecordFrom(&steps[i])
	}

	err := database.RetryTransaction(ctx, s.db, s.maxRetries, s.logger, func(tx *gorm.DB) error {
		var live int64
		if err := tx.Model(&RunRecord{}).
			Where("document_id = ? AND status IN ?", run.DocumentID, liveRunStatuses).
			Count(&live).Error; err != nil {
			return fmt.Errorf("check live runs: %w", err)
		}
		if live > 0 {
			return runInProgress(run.DocumentID, nil)
		}
		if err := tx.Create(runRec).Error; err != nil {
			return err
		}
		if len(stepRecs) > 0 {
			if err := tx.CreateInBatches(stepRecs, 100).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := types.AsError(err); ok {
			return err
		}
		if isDuplicate(err) {
			return runInProgress(run.DocumentID, err)
		}
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}

	run.CreatedAt, run.UpdatedAt = runRec.CreatedAt, runRec.UpdatedAt
	for i := range steps {
		steps[i].CreatedAt, steps[i].UpdatedAt = stepRecs[i].CreatedAt, stepRecs[i].UpdatedAt
	}
	return nil
}

// GetRun 获取执行
func (s *GormStore) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	var rec RunRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, mapError(err, "workflow execution", id)
	}
	run := rec.toDomain()
	return &run, nil
}

// ListRuns 按创建时间倒序列出执行
func (s *GormStore) ListRuns(ctx context.Context, filter workflow.RunFilter) ([]workflow.Run, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id")
	if filter.DocumentID != "" {
		q = q.Where("document_id = ?", filter.DocumentID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var records []RunRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runsToDomain(records), nil
}

// ListStaleRuns 列出 startedBefore 之前启动且仍在进行中的执行
func (s *GormStore) ListStaleRuns(ctx context.Context, startedBefore time.Time) ([]workflow.Run, error) {
	var records []RunRecord
	err := s.db.WithContext(ctx).
		Where("status IN ? AND started_at < ?", liveRunStatuses, startedBefore.UTC()).
		Order("started_at, id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	return runsToDomain(records), nil
}

// TransitionRun 仅当当前状态属于 from 时把执行改为 to
func (s *GormStore) TransitionRun(ctx context.Context, id string, from []workflow.RunStatus, to workflow.RunStatus, patch workflow.RunPatch) (bool, error) {
	updates := map[string]any{
		"status":     string(to),
		"updated_at": s.now(),
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = patch.CompletedAt.UTC()
	}
	if patch.ErrorMessage != nil {
		updates["error_message"] = *patch.ErrorMessage
	}

	fromStatuses := make([]string, len(from))
	for i, st := range from {
		fromStatuses[i] = string(st)
	}
	return s.guardedUpdate(ctx, &RunRecord{}, "workflow execution", id, fromStatuses, updates)
}

// =============================================================================
// 🪜 步骤
// =============================================================================

// GetStep 获取步骤
func (s *GormStore) GetStep(ctx context.Context, id string) (*workflow.Step, error) {
	var rec StepRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, mapError(err, "workflow step", id)
	}
	st := rec.toDomain()
	return &st, nil
}

// ListSteps 按层级与展示顺序列出执行的步骤
func (s *GormStore) ListSteps(ctx context.Context, runID string) ([]workflow.Step, error) {
	var records []StepRecord
	err := s.db.WithContext(ctx).
		Where("execution_id = ?", runID).
		Order("level, display_order, agent_name, id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list steps of %s: %w", runID, err)
	}
	steps := make([]workflow.Step, len(records))
	for i := range records {
		steps[i] = records[i].toDomain()
	}
	return steps, nil
}

// TransitionStep 仅当当前状态属于 from 时把步骤改为 to
func (s *GormStore) TransitionStep(ctx context.Context, id string, from []workflow.StepStatus, to workflow.StepStatus, patch workflow.StepPatch) (bool, error) {
	updates := map[string]any{
		"status":     string(to),
		"updated_at": s.now(),
	}
	if patch.StartedAt != nil {
		updates["started_at"] = patch.StartedAt.UTC()
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = patch.CompletedAt.UTC()
	}
	if patch.ErrorMessage != nil {
		updates["error_message"] = *patch.ErrorMessage
	}
	if patch.Input != nil {
		updates["input"] = *patch.Input
	}
	if patch.Output != nil {
		updates["output"] = *patch.Output
	}

	fromStatuses := make([]string, len(from))
	for i, st := range from {
		fromStatuses[i] = string(st)
	}
	return s.guardedUpdate(ctx, &StepRecord{}, "workflow step", id, fromStatuses, updates)
}

// SetStepJob 记录步骤对应的队列任务
func (s *GormStore) SetStepJob(ctx context.Context, id, jobID string) error {
	res := s.db.WithContext(ctx).Model(&StepRecord{}).Where("id = ?", id).Updates(map[string]any{
		"job_id":     jobID,
		"updated_at": s.now(),
	})
	if res.Error != nil {
		return mapError(res.Error, "workflow step", id)
	}
	if res.RowsAffected == 0 {
		return types.NewNotFoundError("workflow step", id)
	}
	return nil
}

// guardedUpdate 执行 UPDATE ... WHERE id = ? AND status IN (?)。
// 没有行被更新时区分记录不存在与状态守卫失败。
func (s *GormStore) guardedUpdate(ctx context.Context, model any, kind, id string, from []string, updates map[string]any) (bool, error) {
	res := s.db.WithContext(ctx).Model(model).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, mapError(res.Error, kind, id)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check %s %s: %w", kind, id, err)
	}
	if count == 0 {
		return false, types.NewNotFoundError(kind, id)
	}
	return false, nil
}

// =============================================================================
// 🧰 辅助函数
// =============================================================================

func runsToDomain(records []RunRecord) []workflow.Run {
	runs := make([]workflow.Run, len(records))
	for i := range records {
		runs[i] = records[i].toDomain()
	}
	return runs
}

func runInProgress(documentID string, cause error) error {
	err := types.NewConflictError("a workflow is already in progress for document %q", documentID)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}

// mapError 把 GORM 错误映射为领域错误
func mapError(err error, kind, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return types.NewNotFoundError(kind, id)
	case isDuplicate(err):
		return types.NewConflictError("%s %q already exists", kind, id).WithCause(err)
	default:
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
}

// isDuplicate 识别唯一约束冲突。未开启 TranslateError 的方言按错误信息识别
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}
