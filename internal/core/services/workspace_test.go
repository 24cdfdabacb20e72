package services

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceManager_AcquireRelease(t *testing.T) {
	mgr := NewWorkspaceManager(t.TempDir())
	id := domain.NewJobID()

	ws, err := mgr.Acquire(id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(mgr.Root(), string(id)), ws.Path)
	assert.DirExists(t, ws.SourceDir())
	assert.DirExists(t, ws.ProfileDir())
	assert.Equal(t, 1, mgr.Active())

	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "out.pdf"), []byte("%PDF"), 0o600))

	require.NoError(t, mgr.Release(ws))
	assert.NoDirExists(t, ws.Path)
	assert.Equal(t, 0, mgr.Active())

	// releasing twice is harmless
	require.NoError(t, mgr.Release(ws))
}

func TestWorkspaceManager_RejectsReuse(t *testing.T) {
	mgr := NewWorkspaceManager(t.TempDir())
	id := domain.NewJobID()

	ws, err := mgr.Acquire(id)
	require.NoError(t, err)

	_, err = mgr.Acquire(id)
	require.ErrorIs(t, err, domain.ErrWorkspaceExists)

	// a stale directory from another process is not adopted either
	require.NoError(t, mgr.Release(ws))
	require.NoError(t, os.Mkdir(ws.Path, 0o700))
	_, err = mgr.Acquire(id)
	require.ErrorIs(t, err, domain.ErrWorkspaceExists)
	assert.Equal(t, 0, mgr.Active())
}

func TestWorkspaceManager_RejectsBadIDs(t *testing.T) {
	mgr := NewWorkspaceManager(t.TempDir())

	for _, id := range []domain.JobID{"", "../escape", "not-a-uuid"} {
		_, err := mgr.Acquire(id)
		assert.Error(t, err, id)
	}
}

func TestWorkspaceManager_ReleaseOutsideRoot(t *testing.T) {
	mgr := NewWorkspaceManager(t.TempDir())
	outside := t.TempDir()

	err := mgr.Release(domain.Workspace{JobID: domain.NewJobID(), Path: outside})
	require.ErrorIs(t, err, domain.ErrWorkspaceUnknown)
	assert.DirExists(t, outside)
}

func TestWorkspaceManager_ConcurrentAcquireIsolated(t *testing.T) {
	mgr := NewWorkspaceManager(t.TempDir())

	const n = 16
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, err := mgr.Acquire(domain.NewJobID())
			if assert.NoError(t, err) {
				paths[i] = ws.Path
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range paths {
		assert.False(t, seen[p], "workspace %s handed out twice", p)
		seen[p] = true
	}
	assert.Equal(t, n, mgr.Active())
}

func TestWorkspaceManager_SweepSkipsActive(t *testing.T) {
	mgr := NewWorkspaceManager(t.TempDir())

	held, err := mgr.Acquire(domain.NewJobID())
	require.NoError(t, err)

	orphan := filepath.Join(mgr.Root(), string(domain.NewJobID()))
	require.NoError(t, os.MkdirAll(filepath.Join(orphan, "src"), 0o700))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))

	fresh := filepath.Join(mgr.Root(), string(domain.NewJobID()))
	require.NoError(t, os.Mkdir(fresh, 0o700))

	removed, err := mgr.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, orphan)
	assert.DirExists(t, fresh)
	assert.DirExists(t, held.Path)

	removed, err = mgr.Sweep(0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, fresh)
	assert.DirExists(t, held.Path)
}

func TestWorkspaceManager_SweepMissingRoot(t *testing.T) {
	mgr := NewWorkspaceManager(filepath.Join(t.TempDir(), "never-created"))
	removed, err := mgr.Sweep(0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
