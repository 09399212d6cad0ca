package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/logging"
	"github.com/JakeFAU/contact-harvester/internal/metrics"
)

// ErrShutdown is returned by Start once Shutdown has been called.
var ErrShutdown = errors.New("job manager is shut down")

// Func is the body of a job. The logger is scoped to the job and relayed to
// log subscribers; the returned value is stored as the job result.
type Func func(ctx context.Context, logger *zap.Logger) (any, error)

// LineSink receives job console output.
type LineSink interface {
	io.Writer
	Broadcast(line string)
}

// IDGenerator creates job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Manager starts jobs on their own goroutines without blocking callers.
type Manager struct {
	store  Store
	lines  LineSink
	ids    IDGenerator
	clock  Clock
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders wg.Add in Start before the wg.Wait in Shutdown.
	mu     sync.Mutex
	closed bool
}

// NewManager constructs a Manager; lines may be nil.
func NewManager(store Store, lines LineSink, ids IDGenerator, clock Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:  store,
		lines:  lines,
		ids:    ids,
		clock:  clock,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start records a queued job and runs fn in the background.
func (m *Manager) Start(ctx context.Context, kind string, fn Func) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Job{}, ErrShutdown
	}
	id, err := m.ids.NewID()
	if err != nil {
		return Job{}, fmt.Errorf("job id: %w", err)
	}
	job := Job{ID: id, Kind: kind, Status: StatusQueued, CreatedAt: m.clock.Now()}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}
	metrics.ObserveJob(kind, string(StatusQueued))

	m.wg.Add(1)
	go m.run(job, fn)
	return job, nil
}

func (m *Manager) run(job Job, fn Func) {
	defer m.wg.Done()
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	logger := m.logger.With(zap.String("job_id", job.ID), zap.String("kind", job.Kind))
	if m.lines != nil {
		logger = logging.NewTee(logger, m.lines)
	}

	started := m.clock.Now()
	job.Status, job.StartedAt = StatusRunning, &started
	m.update(job)
	logger.Info("Job started")

	result, err := m.invoke(fn, logger)

	finished := m.clock.Now()
	code := 0
	job.FinishedAt, job.Result = &finished, result
	if err != nil {
		code = 1
		job.Status, job.Error = StatusFailed, err.Error()
		logger.Error("Job failed", zap.Error(err))
	} else {
		job.Status = StatusSucceeded
		logger.Info("Job finished", zap.Duration("elapsed", finished.Sub(started)))
	}
	job.ExitCode = &code
	m.update(job)
	metrics.ObserveJob(job.Kind, string(job.Status))
	if m.lines != nil {
		m.lines.Broadcast(fmt.Sprintf("Process exited with code %d", code))
	}
}

// invoke runs fn and turns a panic into a job failure.
func (m *Manager) invoke(fn Func, logger *zap.Logger) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(m.ctx, logger)
}

func (m *Manager) update(job Job) {
	// Status writes outlive shutdown so the final state is always recorded.
	if err := m.store.UpdateJob(context.WithoutCancel(m.ctx), job); err != nil {
		m.logger.Warn("Failed to update job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Get returns a job by ID.
func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

// List returns every known job.
func (m *Manager) List(ctx context.Context) ([]Job, error) {
	return m.store.ListJobs(ctx)
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels running jobs and waits for them, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.cancel()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}
