package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockReaper struct {
	mock.Mock
	inUse func(domain.JobID) bool
}

func (m *MockReaper) ReapOrphans(ctx context.Context, olderThan time.Duration, inUse func(domain.JobID) bool) (int, error) {
	m.inUse = inUse
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Error(1)
}

// MockJobRepo satisfies ports.JobRepository for janitor and orchestrator tests.
type MockJobRepo struct {
	mock.Mock
}

func (m *MockJobRepo) SaveJob(ctx context.Context, job domain.JobRecord) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobRepo) GetJob(ctx context.Context, id domain.JobID) (domain.JobRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.JobRecord), args.Error(1)
}

func (m *MockJobRepo) ListJobs(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]domain.JobRecord), args.Error(1)
}

func (m *MockJobRepo) MarkInterrupted(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func TestJanitor_ReapStartup(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	mgr := NewWorkspaceManager(t.TempDir())

	leftover := filepath.Join(mgr.Root(), string(domain.NewJobID()))
	require.NoError(t, os.MkdirAll(leftover, 0o700))

	reaper := new(MockReaper)
	reaper.On("ReapOrphans", mock.Anything, time.Duration(0)).Return(2, nil)
	repo := new(MockJobRepo)
	repo.On("MarkInterrupted", mock.Anything).Return(int64(3), nil)

	j := NewJanitor(logger, mgr, reaper, repo, JanitorConfig{})
	require.NoError(t, j.ReapStartup(context.Background()))

	assert.NoDirExists(t, leftover)
	reaper.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestJanitor_SweepUsesTTL(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	mgr := NewWorkspaceManager(t.TempDir())

	recent := filepath.Join(mgr.Root(), string(domain.NewJobID()))
	require.NoError(t, os.MkdirAll(recent, 0o700))

	reaper := new(MockReaper)
	reaper.On("ReapOrphans", mock.Anything, 30*time.Minute).Return(0, errors.New("daemon gone"))

	j := NewJanitor(logger, mgr, reaper, nil, JanitorConfig{TTL: 30 * time.Minute})
	err := j.Sweep(context.Background())
	require.ErrorContains(t, err, "daemon gone")
	assert.DirExists(t, recent)
	reaper.AssertExpectations(t)
}

func TestJanitor_SweepSparesRunningJobs(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	mgr := NewWorkspaceManager(t.TempDir())

	running := domain.NewJobID()
	ws, err := mgr.Acquire(running)
	require.NoError(t, err)

	reaper := new(MockReaper)
	reaper.On("ReapOrphans", mock.Anything, time.Minute).Return(0, nil)

	j := NewJanitor(logger, mgr, reaper, nil, JanitorConfig{TTL: time.Minute})
	require.NoError(t, j.Sweep(context.Background()))

	require.NotNil(t, reaper.inUse)
	assert.True(t, reaper.inUse(running))
	assert.False(t, reaper.inUse(domain.NewJobID()))

	require.NoError(t, mgr.Release(ws))
	assert.False(t, reaper.inUse(running))
}

func TestJanitor_RunStopsWithContext(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	mgr := NewWorkspaceManager(t.TempDir())
	j := NewJanitor(logger, mgr, nil, nil, JanitorConfig{Interval: 10 * time.Millisecond, TTL: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
