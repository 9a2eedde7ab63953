// Package pool 提供有界 goroutine 池，worker 用它限制同时执行的作业数。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed 池已关闭
var ErrPoolClosed = errors.New("pool is closed")

// Task 一个作业处理单元
type Task func(ctx context.Context) error

// =============================================================================
// 🧵 Goroutine 池
// =============================================================================

// GoroutinePool 按需启动 worker，最多 MaxWorkers 个并发执行任务
type GoroutinePool struct {
	maxWorkers int
	tasks      chan taskWrapper
	slots      chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool

	workerCount atomic.Int32
	activeCount atomic.Int32
	submitted   atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	rejected    atomic.Int64
	panicked    atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
}

type taskWrapper struct {
	task Task
	ctx  context.Context
}

// GoroutinePoolConfig 池配置
type GoroutinePoolConfig struct {
	// 最大并发数
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`
	// 空闲 worker 退出时间
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	// panic 回调，参数为 recover() 的值
	PanicHandler func(any) `yaml:"-" json:"-"`
}

// DefaultGoroutinePoolConfig 默认配置
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{
		MaxWorkers:  4,
		IdleTimeout: 60 * time.Second,
	}
}

// NewGoroutinePool 创建池。MaxWorkers <= 0 时取 1
func NewGoroutinePool(config GoroutinePoolConfig) *GoroutinePool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultGoroutinePoolConfig().IdleTimeout
	}
	return &GoroutinePool{
		maxWorkers:   config.MaxWorkers,
		tasks:        make(chan taskWrapper),
		slots:        make(chan struct{}, config.MaxWorkers),
		idleTimeout:  config.IdleTimeout,
		panicHandler: config.PanicHandler,
	}
}

// Submit 阻塞直到有空闲槽位或 ctx 结束，然后把任务交给 worker。
// 任务以 taskCtx 执行，其错误只计入统计
func (p *GoroutinePool) Submit(ctx, taskCtx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
	p.submitted.Add(1)

	w := taskWrapper{task: task, ctx: taskCtx}

	// 已有空闲 worker 时直接交付，否则新起一个
	select {
	case p.tasks <- w:
	default:
		p.workerCount.Add(1)
		p.wg.Add(1)
		go p.worker(w)
	}
	return nil
}

func (p *GoroutinePool) worker(first taskWrapper) {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	p.run(first)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()
	for {
		select {
		case w, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(w)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.idleTimeout)
		case <-timer.C:
			return
		}
	}
}

func (p *GoroutinePool) run(w taskWrapper) {
	p.activeCount.Add(1)
	err := p.execute(w)
	p.activeCount.Add(-1)
	<-p.slots

	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

func (p *GoroutinePool) execute(w taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return w.task(w.ctx)
}

// Close 拒绝新任务并等待已提交任务结束，可重复调用
func (p *GoroutinePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats 返回池统计
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Capacity:  p.maxWorkers,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// GoroutinePoolStats 池统计
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Capacity  int   `json:"capacity"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Panicked  int64 `json:"panicked"`
}
