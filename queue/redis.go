package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MerOne-1/cv-reformatter-sub001/config"
	"github.com/MerOne-1/cv-reformatter-sub001/workflow"
)

// =============================================================================
// 📮 Redis 作业队列
// =============================================================================
//
// 布局:
//   {prefix}pending       LIST，待处理作业 ID，LPUSH 入队 / BRPOP 出队
//   {prefix}job:{id}      HASH，payload/kind/run_id/state/enqueued_at
//
// Cancel 从 pending 中移除 ID 并删除 HASH；已出队的作业不受影响。
// 标记出队与取消都通过 Lua 脚本检查 state，两者互斥。

const (
	defaultKeyPrefix = "orchestrator:queue:"

	stateQueued = "queued"
	stateActive = "active"

	// 已出队但未 ack 的作业保留时间
	activeJobTTL = 24 * time.Hour
)

// ErrQueueClosed 队列已关闭
var ErrQueueClosed = errors.New("queue is closed")

// activateScript 仅当作业仍处于 queued 时标记为 active
var activateScript = redis.NewScript(`
	local key = KEYS[1]
	if redis.call('HGET', key, 'state') ~= ARGV[1] then
		return 0
	end
	redis.call('HSET', key, 'state', ARGV[2])
	redis.call('EXPIRE', key, ARGV[3])
	return 1
`)

// cancelScript 仅移除仍处于 queued 的作业
var cancelScript = redis.NewScript(`
	local pending = KEYS[1]
	local key = KEYS[2]
	if redis.call('HGET', key, 'state') ~= ARGV[2] then
		return 0
	end
	redis.call('LREM', pending, 0, ARGV[1])
	redis.call('DEL', key)
	return 1
`)

// RedisQueue 基于 Redis List + Hash 的作业队列
type RedisQueue struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisClient 按配置创建客户端并测试连接
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisQueue 创建 Redis 队列，keyPrefix 为空时使用默认前缀
func NewRedisQueue(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisQueue {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueue{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "redis_queue")),
	}
}

func (q *RedisQueue) pendingKey() string { return q.keyPrefix + "pending" }

func (q *RedisQueue) jobKey(id string) string { return q.keyPrefix + "job:" + id }

func (q *RedisQueue) checkOpen() error {
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// Enqueue 校验并写入作业，返回作业 ID
func (q *RedisQueue) Enqueue(ctx context.Context, payload workflow.JobPayload) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if err := q.checkOpen(); err != nil {
		return "", err
	}

	data, err := workflow.EncodePayload(payload)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(id), map[string]any{
			"payload":     data,
			"kind":        string(payload.Kind),
			"run_id":      payload.RunID(),
			"state":       stateQueued,
			"enqueued_at": q.now().UnixNano(),
		})
		pipe.LPush(ctx, q.pendingKey(), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	q.logger.Debug("job enqueued",
		zap.String("job_id", id),
		zap.String("kind", string(payload.Kind)),
		zap.String("run_id", payload.RunID()),
	)
	return id, nil
}

// Dequeue 阻塞拉取下一个作业。已取消或无法解析的作业被丢弃
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if err := q.checkOpen(); err != nil {
		return nil, err
	}

	res, err := q.client.BRPop(ctx, timeout, q.pendingKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	id := res[1]
	key := q.jobKey(id)

	fields, err := q.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		// cancelled between LPUSH and BRPOP
		return nil, nil
	}

	payload, err := workflow.DecodePayload([]byte(fields["payload"]))
	if err != nil {
		q.logger.Warn("dropping malformed job", zap.String("job_id", id), zap.Error(err))
		_ = q.client.Del(ctx, key).Err()
		return nil, nil
	}

	ok, err := q.activate(ctx, id)
	if err != nil {
		q.logger.Warn("failed to mark job active", zap.String("job_id", id), zap.Error(err))
	} else if !ok {
		// cancelled between HGETALL and activation
		return nil, nil
	}

	job := &Job{ID: id, Payload: payload}
	if ns, err := strconv.ParseInt(fields["enqueued_at"], 10, 64); err == nil {
		job.EnqueuedAt = time.Unix(0, ns)
	}
	return job, nil
}

// Cancel 移除尚未出队的作业；未知或已出队的作业忽略
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if err := q.checkOpen(); err != nil {
		return err
	}

	removed, err := cancelScript.Run(ctx, q.client,
		[]string{q.pendingKey(), q.jobKey(jobID)}, jobID, stateQueued).Int()
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if removed == 1 {
		q.logger.Debug("job cancelled", zap.String("job_id", jobID))
	}
	return nil
}

// activate 将 queued 作业标记为 active 并设置 TTL；作业已不存在时返回 false
func (q *RedisQueue) activate(ctx context.Context, id string) (bool, error) {
	n, err := activateScript.Run(ctx, q.client, []string{q.jobKey(id)},
		stateQueued, stateActive, int(activeJobTTL.Seconds())).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Ack 删除已处理的作业
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if err := q.checkOpen(); err != nil {
		return err
	}
	if err := q.client.Del(ctx, q.jobKey(jobID)).Err(); err != nil {
		return fmt.Errorf("ack job %s: %w", jobID, err)
	}
	return nil
}

// Depth 待处理作业数
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if err := q.checkOpen(); err != nil {
		return 0, err
	}
	n, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// Ping 检查 Redis 连接
func (q *RedisQueue) Ping(ctx context.Context) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if err := q.checkOpen(); err != nil {
		return err
	}
	return q.client.Ping(ctx).Err()
}

// Close 关闭客户端，可重复调用
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.logger.Info("redis queue closed")
	return q.client.Close()
}
