// Package workerpool provides a small bounded, reusable worker pool.
// The merge orchestrator runs one task per source per record kind, so
// every source's read/canonicalize pipeline streams independently.
package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one unit of work submitted to the pool.
type Task struct {
	ID      string
	Execute func(ctx context.Context) error
}

// Config controls pool sizing and timeouts.
type Config struct {
	MaxWorkers      int
	QueueSize       int
	WorkerTimeout   time.Duration
	ShutdownTimeout time.Duration
}

// Pool is a fixed-size group of workers draining a shared task queue.
type Pool struct {
	workers   []*worker
	taskQueue chan Task
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *logrus.Logger
	config    Config

	totalTasks     int64
	completedTasks int64
	failedTasks    int64

	mu        sync.Mutex
	isRunning bool
}

type worker struct {
	id   int
	pool *Pool
}

// New creates a worker pool. Zero-valued Config fields fall back to
// runtime.NumCPU() workers, a queue ten times that deep, and a 30s task
// timeout.
func New(config Config, logger *logrus.Logger) *Pool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.MaxWorkers * 10
	}
	if config.WorkerTimeout == 0 {
		config.WorkerTimeout = 30 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		config:    config,
	}
	for i := 0; i < config.MaxWorkers; i++ {
		p.workers = append(p.workers, &worker{id: i, pool: p})
	}
	return p
}

// ErrPoolNotRunning is returned by Submit before Start or after Stop.
var ErrPoolNotRunning = fmt.Errorf("worker pool is not running")

// ErrQueueFull reports a task queue with no room. Submit does not return
// it: Submit blocks until there is room or the pool stops.
var ErrQueueFull = fmt.Errorf("task queue is full")

// Start launches every worker goroutine.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return
	}
	p.logger.WithFields(logrus.Fields{
		"max_workers": p.config.MaxWorkers,
		"queue_size":  p.config.QueueSize,
	}).Info("starting worker pool")

	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run()
	}
	p.isRunning = true
}

// Stop cancels outstanding work and waits (up to ShutdownTimeout) for
// every worker to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	}
}

// Submit enqueues a task, blocking until there's room or the pool stops.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	running := p.isRunning
	p.mu.Unlock()
	if !running {
		return ErrPoolNotRunning
	}

	atomic.AddInt64(&p.totalTasks, 1)
	select {
	case p.taskQueue <- task:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Stats reports the pool's running counters.
type Stats struct {
	TotalTasks     int64
	CompletedTasks int64
	FailedTasks    int64
}

// Stats returns a snapshot of the pool's task counters.
func (p *Pool) Stats() Stats {
	return Stats{
		TotalTasks:     atomic.LoadInt64(&p.totalTasks),
		CompletedTasks: atomic.LoadInt64(&p.completedTasks),
		FailedTasks:    atomic.LoadInt64(&p.failedTasks),
	}
}

func (w *worker) run() {
	defer w.pool.wg.Done()
	for {
		select {
		case task := <-w.pool.taskQueue:
			w.execute(task)
		case <-w.pool.ctx.Done():
			return
		}
	}
}

func (w *worker) execute(task Task) {
	taskCtx, cancel := context.WithTimeout(w.pool.ctx, w.pool.config.WorkerTimeout)
	defer cancel()

	start := time.Now()
	err := task.Execute(taskCtx)
	duration := time.Since(start)

	if err != nil {
		atomic.AddInt64(&w.pool.failedTasks, 1)
		w.pool.logger.WithFields(logrus.Fields{
			"worker_id": w.id,
			"task_id":   task.ID,
			"duration":  duration,
			"error":     err,
		}).Error("task execution failed")
		return
	}
	atomic.AddInt64(&w.pool.completedTasks, 1)
}
