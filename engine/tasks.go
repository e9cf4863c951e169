package engine

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/lwp001/mixlab/module"
	"github.com/lwp001/mixlab/protocol"
	"github.com/lwp001/mixlab/sym"
)

const (
	taskQueueDepth   = 128
	taskResultsDepth = 128
)

type poolJob struct {
	module  protocol.ModuleId
	deliver bool
	fn      func() any
	reply   chan any
}

type taskResult struct {
	module protocol.ModuleId
	value  any
}

// WorkerPool runs module side-tasks and background engine work (workspace
// autosaves) off the engine goroutine. Results of module tasks queue up and
// are drained by the engine at tick boundaries only, never mid-tick, so
// modules stay single-threaded.
type WorkerPool struct {
	ctx     context.Context
	jobs    chan poolJob
	results chan taskResult
	workers int
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	active int

	wg sync.WaitGroup
}

func newWorkerPool(ctx context.Context, workers int, logger *zap.SugaredLogger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}

	pool := &WorkerPool{
		ctx:     ctx,
		jobs:    make(chan poolJob, taskQueueDepth),
		results: make(chan taskResult, taskResultsDepth),
		workers: workers,
		logger:  logger,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	logger.Debugw(sym.Task+" Worker pool started", "workers", workers)
	return pool
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			p.mu.Lock()
			p.active++
			p.mu.Unlock()

			value := job.fn()

			p.mu.Lock()
			p.active--
			p.mu.Unlock()

			switch {
			case job.reply != nil:
				job.reply <- value
			case job.deliver:
				select {
				case p.results <- taskResult{module: job.module, value: value}:
				case <-p.ctx.Done():
					return
				}
			}
		}
	}
}

func (p *WorkerPool) submit(job poolJob) {
	select {
	case p.jobs <- job:
	case <-p.ctx.Done():
	}
}

// Submit runs background engine work with no result delivery.
func (p *WorkerPool) Submit(fn func()) {
	p.submit(poolJob{fn: func() any { fn(); return nil }})
}

// drain hands all queued module task results to fn without blocking.
func (p *WorkerPool) drain(fn func(protocol.ModuleId, any)) {
	for {
		select {
		case result := <-p.results:
			fn(result.module, result.value)
		default:
			return
		}
	}
}

// wait blocks until all workers have observed context cancellation.
func (p *WorkerPool) wait() {
	p.wg.Wait()
}

// scheduler binds the pool to one module id so task results route back to
// their module.
func (p *WorkerPool) scheduler(id protocol.ModuleId) module.TaskScheduler {
	return moduleScheduler{pool: p, id: id}
}

type moduleScheduler struct {
	pool *WorkerPool
	id   protocol.ModuleId
}

func (s moduleScheduler) Spawn(fn func() any) {
	s.pool.submit(poolJob{module: s.id, deliver: true, fn: fn})
}

func (s moduleScheduler) Await(fn func() any) any {
	reply := make(chan any, 1)
	s.pool.submit(poolJob{module: s.id, fn: fn, reply: reply})

	select {
	case value := <-reply:
		return value
	case <-s.pool.ctx.Done():
		return nil
	}
}

// SystemMetrics tracks resource usage for worker pool monitoring.
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`
	WorkersTotal  int     `json:"workers_total"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// GetSystemMetrics returns current system resource usage.
func (p *WorkerPool) GetSystemMetrics() SystemMetrics {
	var memUsedGB, memTotalGB, memPercent float64
	if v, err := mem.VirtualMemory(); err == nil && v.Total > 0 {
		memTotalGB = float64(v.Total) / 1024 / 1024 / 1024
		memUsedGB = float64(v.Total-v.Available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	p.mu.Lock()
	active := p.active
	p.mu.Unlock()

	return SystemMetrics{
		WorkersActive: active,
		WorkersTotal:  p.workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
	}
}
