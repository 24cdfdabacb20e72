package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
)

// ResolverConfig bounds how long the resolver waits for output to become visible.
type ResolverConfig struct {
	Retries  int
	Interval time.Duration
}

// ArtifactResolver locates the single file a converter run produced.
type ArtifactResolver struct {
	cfg ResolverConfig
}

func NewArtifactResolver(cfg ResolverConfig) *ArtifactResolver {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if cfg.Retries > 0 && time.Duration(cfg.Retries)*cfg.Interval > domain.MaxResolveWait {
		cfg.Interval = domain.MaxResolveWait / time.Duration(cfg.Retries)
	}
	return &ArtifactResolver{cfg: cfg}
}

// ExpectedName is the converter's documented naming rule: input stem plus the target extension.
func ExpectedName(inputFileName string, format domain.Format) string {
	return fileStem(inputFileName) + format.Extension()
}

// Resolve returns the absolute path of the artifact in ws.Path or a
// *domain.ResolutionError. It never picks one of several candidates.
func (r *ArtifactResolver) Resolve(ctx context.Context, ws domain.Workspace, inputFileName string, format domain.Format) (string, error) {
	expected := ExpectedName(inputFileName, format)
	primary := filepath.Join(ws.Path, expected)

	if isRegularFile(primary) {
		return primary, nil
	}

	if r.cfg.Retries > 0 && r.cfg.Interval > 0 {
		timer := time.NewTimer(r.cfg.Interval)
		defer timer.Stop()
		for i := 0; i < r.cfg.Retries; i++ {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-timer.C:
			}
			if isRegularFile(primary) {
				return primary, nil
			}
			timer.Reset(r.cfg.Interval)
		}
	}

	listing, err := listWorkspace(ws.Path)
	if err != nil {
		return "", fmt.Errorf("failed to list workspace: %w", err)
	}

	candidates := heuristicCandidates(listing, inputFileName, format)
	if len(candidates) == 1 {
		return filepath.Join(ws.Path, candidates[0]), nil
	}

	return "", &domain.ResolutionError{
		Expected:   expected,
		Candidates: candidates,
		Listing:    listing,
	}
}

// heuristicCandidates filters top-level regular files: the name starts with
// the input stem, ends with the target extension, is not the input itself and
// does not contain the input's original extension.
func heuristicCandidates(listing []domain.FileEntry, inputFileName string, format domain.Format) []string {
	stem := fileStem(inputFileName)
	inputExt := strings.TrimPrefix(filepath.Ext(inputFileName), ".")
	target := format.Extension()

	var out []string
	for _, f := range listing {
		if f.IsDir {
			continue
		}
		name := f.Name
		if !strings.HasPrefix(name, stem) || !strings.HasSuffix(name, target) {
			continue
		}
		if name == inputFileName {
			continue
		}
		if inputExt != "" && strings.Contains(name, inputExt) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func listWorkspace(dir string) ([]domain.FileEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	listing := make([]domain.FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		if !e.IsDir() && !info.Mode().IsRegular() {
			continue
		}
		listing = append(listing, domain.FileEntry{
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   e.IsDir(),
		})
	}
	return listing, nil
}

func isRegularFile(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode().IsRegular()
}

func fileStem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
