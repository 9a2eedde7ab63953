// Package ctxkeys 定义在 context 中传递的类型化键。
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	runIDKey     contextKey = "run_id"
	stepIDKey    contextKey = "step_id"
	jobIDKey     contextKey = "job_id"
)

func with(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func get(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置 HTTP 请求 ID
func WithRequestID(ctx context.Context, id string) context.Context { return with(ctx, requestIDKey, id) }

// RequestID 获取 HTTP 请求 ID
func RequestID(ctx context.Context) (string, bool) { return get(ctx, requestIDKey) }

// WithRunID 设置工作流运行 ID
func WithRunID(ctx context.Context, id string) context.Context { return with(ctx, runIDKey, id) }

// RunID 获取工作流运行 ID
func RunID(ctx context.Context) (string, bool) { return get(ctx, runIDKey) }

// WithStepID 设置步骤 ID
func WithStepID(ctx context.Context, id string) context.Context { return with(ctx, stepIDKey, id) }

// StepID 获取步骤 ID
func StepID(ctx context.Context) (string, bool) { return get(ctx, stepIDKey) }

// WithJobID 设置队列作业 ID
func WithJobID(ctx context.Context, id string) context.Context { return with(ctx, jobIDKey, id) }

// JobID 获取队列作业 ID
func JobID(ctx context.Context) (string, bool) { return get(ctx, jobIDKey) }
