package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/adapters/soffice"
	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/GedeBrawidya/convert-project/internal/core/ports"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	containerWorkspace = "/workspace"
	containerPrefix    = "convert-job-"
	labelManaged       = "convert.managed"
	labelJobID         = "convert.job_id"
	removeTimeout      = 10 * time.Second
)

// dockerAPI is the subset of the Docker client the runner needs.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

type Config struct {
	Image         string
	Binary        string // converter binary inside the image
	Filters       soffice.Filters
	MaxDiagnostic int
	MemoryBytes   int64
	NanoCPUs      int64
}

// Runner executes the converter inside a throwaway container with no network
// and a read-only root filesystem. Only the job workspace is writable.
type Runner struct {
	logger *slog.Logger
	cli    dockerAPI
	cfg    Config

	mu   sync.RWMutex
	auth domain.RegistryAuth
}

// Ensure Runner implements ConverterRunner and OrphanReaper
var (
	_ ports.ConverterRunner = (*Runner)(nil)
	_ ports.OrphanReaper    = (*Runner)(nil)
)

// NewRunner creates a runner talking to the Docker daemon from the environment.
func NewRunner(logger *slog.Logger, cfg Config) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newRunner(logger, cli, cfg), nil
}

func newRunner(logger *slog.Logger, cli dockerAPI, cfg Config) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "soffice"
	}
	if cfg.Filters == nil {
		cfg.Filters = soffice.DefaultFilters()
	}
	if cfg.MaxDiagnostic <= 0 {
		cfg.MaxDiagnostic = soffice.DefaultMaxDiagnostic
	}
	return &Runner{logger: logger, cli: cli, cfg: cfg}
}

func (r *Runner) Name() string {
	return "docker"
}

// SetRegistryAuth replaces the credentials used for image pulls.
func (r *Runner) SetRegistryAuth(auth domain.RegistryAuth) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auth = auth
}

// Command returns the converter command line as seen from inside the container.
func (r *Runner) Command(ws domain.Workspace, inputPath string, format domain.Format) ([]string, error) {
	rel, err := filepath.Rel(ws.Path, inputPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("input %s is outside the workspace", inputPath)
	}
	inside := path.Join(containerWorkspace, filepath.ToSlash(rel))
	profile := path.Join(containerWorkspace, filepath.Base(ws.ProfileDir()))
	args := soffice.Args(profile, containerWorkspace, inside, soffice.ImportFilter(inputPath, format), r.cfg.Filters.Filter(format))
	return append([]string{r.cfg.Binary}, args...), nil
}

func (r *Runner) containerConfig(ws domain.Workspace, cmd []string) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:        r.cfg.Image,
		Cmd:          cmd,
		Env:          []string{"HOME=" + containerWorkspace},
		WorkingDir:   containerWorkspace,
		User:         hostUser(),
		Tty:          false,
		OpenStdin:    false,
		AttachStdout: false,
		AttachStderr: false,
		Labels: map[string]string{
			labelManaged: "true",
			labelJobID:   string(ws.JobID),
		},
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: ws.Path,
				Target: containerWorkspace,
			},
		},
		Resources: container.Resources{
			NanoCPUs: r.cfg.NanoCPUs,
			Memory:   r.cfg.MemoryBytes,
		},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
	}
	return cfg, hostCfg
}

func (r *Runner) Run(ctx context.Context, ws domain.Workspace, inputPath string, format domain.Format) (domain.RunOutcome, error) {
	outcome := domain.RunOutcome{ExitCode: -1}

	cmd, err := r.Command(ws, inputPath, format)
	if err != nil {
		return outcome, err
	}
	cfg, hostCfg := r.containerConfig(ws, cmd)
	name := containerPrefix + string(ws.JobID)

	id, err := r.create(ctx, cfg, hostCfg, name)
	if err != nil {
		if ctx.Err() != nil {
			return outcome, fmt.Errorf("converter not started: %w", ctx.Err())
		}
		return outcome, fmt.Errorf("%w: %v", domain.ErrToolUnavailable, err)
	}
	defer r.remove(id)

	start := time.Now()
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if ctx.Err() != nil {
			return outcome, fmt.Errorf("converter not started: %w", ctx.Err())
		}
		return outcome, fmt.Errorf("%w: start container: %v", domain.ErrToolUnavailable, err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		outcome.Duration = time.Since(start)
		return outcome, fmt.Errorf("converter killed: %w", ctx.Err())
	case err := <-errCh:
		outcome.Duration = time.Since(start)
		if ctx.Err() != nil {
			return outcome, fmt.Errorf("converter killed: %w", ctx.Err())
		}
		return outcome, fmt.Errorf("%w: wait for container: %v", domain.ErrToolUnavailable, err)
	case st := <-statusCh:
		outcome.Duration = time.Since(start)
		outcome.ExitCode = int(st.StatusCode)
	}

	diag, err := r.stderr(ctx, id)
	if err != nil {
		r.logger.Warn("failed to read converter stderr", "job_id", ws.JobID, "error", err)
	}
	outcome.Diagnostic = diag
	return outcome, nil
}

func (r *Runner) create(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	netCfg := &network.NetworkingConfig{}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if client.IsErrNotFound(err) {
		if pullErr := r.pull(ctx); pullErr != nil {
			return "", pullErr
		}
		resp, err = r.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

func (r *Runner) pull(ctx context.Context) error {
	r.mu.RLock()
	auth := r.auth
	r.mu.RUnlock()

	opts := image.PullOptions{}
	if auth.Username != "" || auth.Password != "" {
		encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
			Username:      auth.Username,
			Password:      auth.Password,
			ServerAddress: auth.ServerAddress,
		})
		if err != nil {
			return fmt.Errorf("encode registry auth: %w", err)
		}
		opts.RegistryAuth = encoded
	}

	r.logger.Info("pulling converter image", "image", r.cfg.Image)
	reader, err := r.cli.ImagePull(ctx, r.cfg.Image, opts)
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.cfg.Image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.cfg.Image, err)
	}
	return nil
}

func (r *Runner) stderr(ctx context.Context, id string) (domain.Diagnostic, error) {
	buf := soffice.NewBoundedBuffer(r.cfg.MaxDiagnostic)
	logs, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStderr: true})
	if err != nil {
		return buf.Diagnostic(), err
	}
	defer logs.Close()
	_, err = stdcopy.StdCopy(io.Discard, buf, logs)
	return buf.Diagnostic(), err
}

// remove force-removes the container, which also kills it if still running.
// It must run even when the job context is done.
func (r *Runner) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		r.logger.Error("failed to remove converter container", "container_id", id, "error", err)
	}
}

// ReapOrphans removes managed containers older than olderThan whose job is not in use.
func (r *Runner) ReapOrphans(ctx context.Context, olderThan time.Duration, inUse func(domain.JobID) bool) (int, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: makeFilters(map[string]string{
			"label": labelManaged + "=true",
		}),
	})
	if err != nil {
		return 0, fmt.Errorf("list converter containers: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	reaped := 0
	for _, c := range containers {
		if time.Unix(c.Created, 0).After(cutoff) {
			continue
		}
		if inUse != nil && inUse(domain.JobID(c.Labels[labelJobID])) {
			continue
		}
		if err := r.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			r.logger.Warn("failed to reap container", "container_id", c.ID, "job_id", c.Labels[labelJobID], "error", err)
			continue
		}
		reaped++
	}
	return reaped, nil
}

// Helper to construct list filters
func makeFilters(m map[string]string) filters.Args {
	args := filters.NewArgs()
	for k, v := range m {
		args.Add(k, v)
	}
	return args
}

// hostUser runs the container as the service user so output files stay removable.
func hostUser() string {
	uid, gid := os.Getuid(), os.Getgid()
	if uid < 0 || gid < 0 {
		return ""
	}
	return strconv.Itoa(uid) + ":" + strconv.Itoa(gid)
}
