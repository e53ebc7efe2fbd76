package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	dockerfilters "github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// Mount binds a host path or named volume into a container.
type Mount struct {
	Source   string
	Target   string
	Volume   bool // named volume instead of a bind mount
	ReadOnly bool
}

// Port publishes a container port on the host.
type Port struct {
	HostPort      uint16
	ContainerPort uint16
	Protocol      string
}

// Resources are the hard caps applied at create or update time.
type Resources struct {
	CPUCores        float64
	MemoryBytes     int64
	MemorySwapBytes int64
	PidsLimit       int64
}

// CreateConfig describes a container to create.
type CreateConfig struct {
	Name        string
	Image       string
	Cmd         []string
	Env         []string
	WorkingDir  string
	Labels      map[string]string
	NetworkMode string
	Mounts      []Mount
	Ports       []Port
	Resources   Resources
	AutoRemove  bool
}

// ContainerInfo is the subset of inspect output the core needs.
type ContainerInfo struct {
	Exists    bool
	Running   bool
	ID        string
	Name      string
	Image     string
	Labels    map[string]string
	StartedAt time.Time
}

// ListEntry is one container from a label-filtered listing.
type ListEntry struct {
	ID      string
	Name    string
	Image   string
	State   string
	Running bool
	Labels  map[string]string
	// Volumes are the named volumes this container mounts.
	Volumes []string
}

// CreateContainer creates a container and returns its engine-assigned id.
// The image must already be present; callers pull or build first.
func (r *Runtime) CreateContainer(ctx context.Context, cfg CreateConfig) (string, error) {
	cc := &container.Config{
		Image:      cfg.Image,
		Cmd:        cfg.Cmd,
		Env:        cfg.Env,
		WorkingDir: cfg.WorkingDir,
		Labels:     cfg.Labels,
	}

	hc := &container.HostConfig{
		NetworkMode: container.NetworkMode(cfg.NetworkMode),
		AutoRemove:  cfg.AutoRemove,
	}
	hc.Resources = resourcesConfig(cfg.Resources)

	if len(cfg.Ports) > 0 {
		exposed := make(nat.PortSet, len(cfg.Ports))
		bindings := make(nat.PortMap, len(cfg.Ports))
		for _, p := range cfg.Ports {
			proto := strings.ToLower(strings.TrimSpace(p.Protocol))
			if proto == "" {
				proto = "tcp"
			}
			port := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
			exposed[port] = struct{}{}
			bindings[port] = []nat.PortBinding{{HostPort: strconv.Itoa(int(p.HostPort))}}
		}
		cc.ExposedPorts = exposed
		hc.PortBindings = bindings
	}

	hc.Mounts = make([]mount.Mount, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		typ := mount.TypeBind
		if m.Volume {
			typ = mount.TypeVolume
		}
		hc.Mounts = append(hc.Mounts, mount.Mount{
			Type:     typ,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	resp, err := r.cli.ContainerCreate(ctx, cc, hc, nil, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", cfg.Name, err)
	}
	return resp.ID, nil
}

func resourcesConfig(res Resources) container.Resources {
	out := container.Resources{}
	if res.CPUCores > 0 {
		out.NanoCPUs = int64(res.CPUCores * 1e9)
	}
	if res.MemoryBytes > 0 {
		out.Memory = res.MemoryBytes
	}
	if res.MemorySwapBytes > 0 {
		out.MemorySwap = res.MemorySwapBytes
	}
	if res.PidsLimit > 0 {
		pids := res.PidsLimit
		out.PidsLimit = &pids
	}
	return out
}

// StartContainer starts a created container.
func (r *Runtime) StartContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

// StopAndRemove stops and removes a container. Both operations are
// idempotent — NotFound errors are silently ignored.
func (r *Runtime) StopAndRemove(ctx context.Context, id string) error {
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("stop container %s: %w", id, err)
		}
	}
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove container %s: %w", id, err)
		}
	}
	return nil
}

// RemoveContainer force-removes a container, ignoring NotFound.
func (r *Runtime) RemoveContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

// InspectContainer reports existence, running state and labels.
func (r *Runtime) InspectContainer(ctx context.Context, id string) (ContainerInfo, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerInfo{Exists: false}, nil
		}
		return ContainerInfo{}, fmt.Errorf("inspect container %s: %w", id, err)
	}
	out := ContainerInfo{Exists: true, ID: info.ID}
	if info.State != nil {
		out.Running = info.State.Running
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			out.StartedAt = t
		}
	}
	if info.Config != nil {
		out.Image = info.Config.Image
		out.Labels = info.Config.Labels
	}
	out.Name = strings.TrimPrefix(info.Name, "/")
	return out, nil
}

// ListContainers lists containers matching every label in labelFilter,
// including stopped ones.
func (r *Runtime) ListContainers(ctx context.Context, labelFilter map[string]string) ([]ListEntry, error) {
	filters := dockerfilters.NewArgs()
	for key, value := range labelFilter {
		filters.Add("label", key+"="+value)
	}

	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: filters})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]ListEntry, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		var volumes []string
		for _, m := range c.Mounts {
			if m.Type == mount.TypeVolume && m.Name != "" {
				volumes = append(volumes, m.Name)
			}
		}
		out = append(out, ListEntry{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			State:   c.State,
			Running: c.State == "running",
			Labels:  c.Labels,
			Volumes: volumes,
		})
	}
	return out, nil
}

// Logs returns the last lines of a container's combined output with the
// Docker stream framing stripped.
func (r *Runtime) Logs(ctx context.Context, id string, lines int) (string, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
	}
	rc, err := r.cli.ContainerLogs(ctx, id, opts)
	if err != nil {
		return "", fmt.Errorf("container logs %s: %w", id, err)
	}
	defer rc.Close()

	// Managed containers run without a TTY, so the stream is always
	// multiplexed.
	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, rc); err != nil {
		return "", fmt.Errorf("read logs of %s: %w", id, err)
	}
	return strings.TrimSpace(combined.String()), nil
}

// UpdateResources applies new hard caps to a running container.
func (r *Runtime) UpdateResources(ctx context.Context, id string, res Resources) error {
	update := container.UpdateConfig{Resources: resourcesConfig(res)}
	if _, err := r.cli.ContainerUpdate(ctx, id, update); err != nil {
		return fmt.Errorf("update container %s resources: %w", id, err)
	}
	return nil
}

// WaitContainer blocks until the container exits and returns its exit code.
func (r *Runtime) WaitContainer(ctx context.Context, id string) (int64, error) {
	waitCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("wait for container %s: %w", id, err)
	case resp := <-waitCh:
		if resp.Error != nil {
			return -1, fmt.Errorf("wait for container %s: %s", id, resp.Error.Message)
		}
		return resp.StatusCode, nil
	}
}

// CopyFrom returns a tar stream of the given path inside the container.
func (r *Runtime) CopyFrom(ctx context.Context, id, path string) (io.ReadCloser, error) {
	rc, _, err := r.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, fmt.Errorf("copy from container %s:%s: %w", id, path, err)
	}
	return rc, nil
}

// CopyTo extracts a tar stream into destDir inside the container.
func (r *Runtime) CopyTo(ctx context.Context, id, destDir string, content io.Reader) error {
	if err := r.cli.CopyToContainer(ctx, id, destDir, content, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy to container %s:%s: %w", id, destDir, err)
	}
	return nil
}
