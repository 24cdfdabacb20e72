package services

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
)

type WorkspaceManager struct {
	baseDir string

	mu     sync.Mutex
	active map[domain.JobID]string
}

func NewWorkspaceManager(baseDir string) *WorkspaceManager {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "convertd")
	}
	return &WorkspaceManager{
		baseDir: baseDir,
		active:  make(map[domain.JobID]string),
	}
}

// Root is the parent of every job workspace.
// Path: baseDir/jobs
func (s *WorkspaceManager) Root() string {
	return filepath.Join(s.baseDir, "jobs")
}

// Acquire creates a fresh directory for the job. It never reuses an existing directory.
func (s *WorkspaceManager) Acquire(id domain.JobID) (domain.Workspace, error) {
	if _, err := domain.ParseJobID(string(id)); err != nil {
		return domain.Workspace{}, fmt.Errorf("invalid job id %q: %w", id, err)
	}

	root := s.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return domain.Workspace{}, fmt.Errorf("failed to create workspace root: %w", err)
	}

	ws := domain.Workspace{JobID: id, Path: filepath.Join(root, string(id))}

	// Registered before mkdir so a concurrent Sweep never sees it unheld.
	s.mu.Lock()
	if _, held := s.active[id]; held {
		s.mu.Unlock()
		return domain.Workspace{}, fmt.Errorf("%w: %s", domain.ErrWorkspaceExists, id)
	}
	s.active[id] = ws.Path
	s.mu.Unlock()

	if err := s.create(ws); err != nil {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
		return domain.Workspace{}, err
	}
	return ws, nil
}

func (s *WorkspaceManager) create(ws domain.Workspace) error {
	if err := os.Mkdir(ws.Path, 0o700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", domain.ErrWorkspaceExists, ws.JobID)
		}
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	for _, dir := range []string{ws.SourceDir(), ws.ProfileDir()} {
		if err := os.Mkdir(dir, 0o700); err != nil {
			_ = os.RemoveAll(ws.Path)
			return fmt.Errorf("failed to create %s: %w", filepath.Base(dir), err)
		}
	}
	return nil
}

// Release removes the workspace and everything in it. Releasing twice is a no-op.
func (s *WorkspaceManager) Release(ws domain.Workspace) error {
	s.mu.Lock()
	delete(s.active, ws.JobID)
	s.mu.Unlock()

	if ws.Path == "" {
		return nil
	}
	if filepath.Dir(ws.Path) != s.Root() {
		return fmt.Errorf("%w: %s", domain.ErrWorkspaceUnknown, ws.Path)
	}
	if err := os.RemoveAll(ws.Path); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", ws.JobID, err)
	}
	return nil
}

// Held reports whether the job's workspace is currently held by this manager.
func (s *WorkspaceManager) Held(id domain.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// Active returns the number of workspaces currently held.
func (s *WorkspaceManager) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Sweep removes workspace directories left behind by a previous process.
// Workspaces held by this manager are never touched.
func (s *WorkspaceManager) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list workspaces: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := domain.JobID(e.Name())

		s.mu.Lock()
		_, held := s.active[id]
		s.mu.Unlock()
		if held {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.Root(), e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
