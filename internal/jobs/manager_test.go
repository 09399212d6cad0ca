package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mapStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func newMapStore() *mapStore {
	return &mapStore{jobs: make(map[string]Job)}
}

func (s *mapStore) CreateJob(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *mapStore) UpdateJob(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *mapStore) GetJob(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (s *mapStore) ListJobs(context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

type seqIDs struct{ n atomic.Int32 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%d", s.n.Add(1)), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) Write(p []byte) (int, error) {
	r.Broadcast(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func (r *lineRecorder) Broadcast(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestManagerRunsJobToSuccess(t *testing.T) {
	t.Parallel()

	lines := &lineRecorder{}
	m := NewManager(newMapStore(), lines, &seqIDs{}, fixedClock{}, nil)

	release := make(chan struct{})
	job, err := m.Start(context.Background(), "website", func(_ context.Context, logger *zap.Logger) (any, error) {
		<-release
		logger.Info("Processing row 2")
		return map[string]int{"found": 1}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, StatusQueued, job.Status)

	close(release)
	m.Wait()

	final, err := m.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, final.Status)
	require.Equal(t, 0, *final.ExitCode)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.FinishedAt)
	require.Equal(t, map[string]int{"found": 1}, final.Result)

	got := lines.all()
	require.Equal(t, "Process exited with code 0", got[len(got)-1])
	require.True(t, containsLine(got, "Processing row 2"))
}

func TestManagerRecordsFailureAndPanic(t *testing.T) {
	t.Parallel()

	lines := &lineRecorder{}
	m := NewManager(newMapStore(), lines, &seqIDs{}, fixedClock{}, nil)

	failed, err := m.Start(context.Background(), "filter", func(context.Context, *zap.Logger) (any, error) {
		return nil, errors.New("Sheet ID not set")
	})
	require.NoError(t, err)
	panicked, err := m.Start(context.Background(), "social", func(context.Context, *zap.Logger) (any, error) {
		panic("boom")
	})
	require.NoError(t, err)
	m.Wait()

	job, err := m.Get(context.Background(), failed.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, job.Status)
	require.Equal(t, 1, *job.ExitCode)
	require.Equal(t, "Sheet ID not set", job.Error)

	job, err = m.Get(context.Background(), panicked.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, job.Status)
	require.Contains(t, job.Error, "panicked")
	require.True(t, containsLine(lines.all(), "Process exited with code 1"))
}

func TestManagerShutdownCancelsJobs(t *testing.T) {
	t.Parallel()

	m := NewManager(newMapStore(), nil, &seqIDs{}, fixedClock{}, nil)
	started := make(chan struct{})
	job, err := m.Start(context.Background(), "website", func(ctx context.Context, _ *zap.Logger) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	final, err := m.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, final.Status)

	_, err = m.Start(context.Background(), "website", func(context.Context, *zap.Logger) (any, error) { return nil, nil })
	require.ErrorIs(t, err, ErrShutdown)
}

func TestManagerStartRacingShutdown(t *testing.T) {
	t.Parallel()

	store := newMapStore()
	m := NewManager(store, nil, &seqIDs{}, fixedClock{}, nil)
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Start(context.Background(), "website", func(ctx context.Context, _ *zap.Logger) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})
			if err == nil {
				accepted.Add(1)
				return
			}
			if !errors.Is(err, ErrShutdown) {
				t.Errorf("Start() error = %v", err)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	wg.Wait()

	// Every accepted job was waited for, so each one reached a final state.
	jobs, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, int(accepted.Load()))
	for _, j := range jobs {
		require.True(t, j.Status.Terminal(), j.ID)
	}
}

func TestManagerGetUnknown(t *testing.T) {
	t.Parallel()

	m := NewManager(newMapStore(), nil, &seqIDs{}, fixedClock{}, nil)
	_, err := m.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusRunning.Terminal())
}

func containsLine(lines []string, needle string) bool {
	for _, l := range lines {
		if strings.Contains(l, needle) {
			return true
		}
	}
	return false
}
