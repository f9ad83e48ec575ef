// Package sched runs record-gated commands on a fixed pool of workers, with
// load-based throttling and aggregated error reporting.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/load"

	"stride/internal/core"
)

// Task is one scheduler-queued unit of work. The submitter owns it until
// Submit hands it to a worker; execution then belongs to that worker for the
// task's lifetime.
type Task struct {
	Command    string
	RecordPath string
	Options    core.Options
}

// TaskError is one failed task: its command, its record site, and the exit
// status (or -1 when the command could not be run at all).
type TaskError struct {
	Command    string
	RecordPath string
	ExitStatus int
}

func (e TaskError) Error() string {
	return fmt.Sprintf("command failed with status %d: %s", e.ExitStatus, e.Command)
}

// ErrTasksFailed is returned by Submit and Join when any earlier task failed
// and the pool is not in keep-going mode.
var ErrTasksFailed = errors.New("task(s) failed")

// Runner executes one task; satisfied by *core.Executor.
type Runner interface {
	RunIfNeeded(ctx context.Context, command, recordPath string, opts core.Options) (*core.Result, error)
}

// Pool is a fixed-size pool of long-lived workers pulling tasks from a
// capacity-1 queue. The tiny queue is deliberate: each submission blocks
// until a worker is free, a near-synchronous handoff rather than deep
// buffering. A pool size of zero degrades to running every task synchronously
// in the caller.
//
// There is no cancellation: a running command always runs to completion. The
// only way to stop future work is to stop submitting and call Shutdown,
// which does not kill in-flight children.
type Pool struct {
	runner    Runner
	size      int
	keepGoing bool
	maxLoad   float64
	pollEvery time.Duration
	logEvery  time.Duration
	log       *slog.Logger

	tasks   chan Task
	workers sync.WaitGroup
	pending sync.WaitGroup

	mu     sync.Mutex
	errs   []TaskError
	failed bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithKeepGoing keeps scheduling new tasks after a failure; errors are only
// reported through Errors.
func WithKeepGoing() Option {
	return func(p *Pool) { p.keepGoing = true }
}

// WithMaxLoadAverage blocks task submission while the 1-minute load average
// is at or above ceiling.
func WithMaxLoadAverage(ceiling float64) Option {
	return func(p *Pool) { p.maxLoad = ceiling }
}

// WithPollInterval sets how often the load average is re-checked while
// submission is blocked (default 1s).
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) { p.pollEvery = d }
}

// WithLogInterval sets how often a waiting-for-load diagnostic is logged
// while submission is blocked (default 5s).
func WithLogInterval(d time.Duration) Option {
	return func(p *Pool) { p.logEvery = d }
}

// WithPoolLogger sets the structured logger (default slog.Default).
func WithPoolLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// NewPool starts size workers running tasks through runner.
func NewPool(size int, runner Runner, opts ...Option) *Pool {
	p := &Pool{
		runner:    runner,
		size:      size,
		pollEvery: time.Second,
		logEvery:  5 * time.Second,
		log:       slog.Default(),
		tasks:     make(chan Task, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < size; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for task := range p.tasks {
		p.runTask(task)
	}
}

func (p *Pool) runTask(task Task) {
	defer p.pending.Done()

	res, err := p.runner.RunIfNeeded(context.Background(), task.Command, task.RecordPath, task.Options)
	switch {
	case err != nil:
		p.log.Error("task could not run", "command", task.Command, "error", err)
		p.recordFailure(TaskError{Command: task.Command, RecordPath: task.RecordPath, ExitStatus: -1})
	case !res.Skipped && res.ExitCode != 0:
		p.recordFailure(TaskError{Command: task.Command, RecordPath: task.RecordPath, ExitStatus: res.ExitCode})
	}
}

func (p *Pool) recordFailure(te TaskError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, te)
	p.failed = true
}

func (p *Pool) anyFailed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// Submit schedules a task. It fails immediately with ErrTasksFailed if an
// earlier task failed and the pool is not in keep-going mode. With a load
// ceiling configured it blocks, polling, until the load average drops below
// the ceiling; it then blocks until a worker accepts the task (or, with a
// zero-size pool, runs it synchronously before returning).
func (p *Pool) Submit(task Task) error {
	if !p.keepGoing && p.anyFailed() {
		return ErrTasksFailed
	}

	if p.maxLoad > 0 {
		p.waitForLoad()
	}

	p.pending.Add(1)
	if p.size == 0 {
		p.runTask(task)
		return nil
	}
	p.tasks <- task
	return nil
}

// waitForLoad polls the 1-minute load average until it is below the ceiling,
// logging periodically so a stuck build is diagnosable.
func (p *Pool) waitForLoad() {
	lastLog := time.Now()
	for {
		avg, err := load.Avg()
		if err != nil {
			// No load information on this platform; do not gate.
			return
		}
		if avg.Load1 < p.maxLoad {
			return
		}
		if time.Since(lastLog) >= p.logEvery {
			p.log.Info("waiting for load average to reduce",
				"load", avg.Load1, "ceiling", p.maxLoad)
			lastLog = time.Now()
		}
		time.Sleep(p.pollEvery)
	}
}

// Join blocks until the queue and all in-flight tasks drain, then reports
// ErrTasksFailed if any task failed (unless keep-going). Errors remain
// available from Errors either way.
func (p *Pool) Join() error {
	p.pending.Wait()
	if !p.keepGoing && p.anyFailed() {
		return ErrTasksFailed
	}
	return nil
}

// Errors returns the accumulated failures and clears them; a failure is
// never returned twice. It does not block.
func (p *Pool) Errors() []TaskError {
	p.mu.Lock()
	defer p.mu.Unlock()
	errs := p.errs
	p.errs = nil
	return errs
}

// Shutdown tells all workers to exit and waits for them. Submit must not be
// called afterwards.
func (p *Pool) Shutdown() {
	close(p.tasks)
	p.workers.Wait()
}
