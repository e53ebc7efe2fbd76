// Package volume manages persistent per-deployment workspace volumes and
// their tarball snapshots. Volumes live in the container engine; snapshot
// archives live on the plain filesystem, entirely outside the engine.
package volume

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"warden/internal/engine"
)

// Clock abstracts time.Now() for deterministic testing.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Engine is the adapter subset the volume lifecycle needs.
type Engine interface {
	EnsureImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, cfg engine.CreateConfig) (string, error)
	StartContainer(ctx context.Context, id string) error
	WaitContainer(ctx context.Context, id string) (int64, error)
	RemoveContainer(ctx context.Context, id string) error
	Logs(ctx context.Context, id string, lines int) (string, error)
	CopyFrom(ctx context.Context, id, path string) (io.ReadCloser, error)
	CopyTo(ctx context.Context, id, destDir string, content io.Reader) error
	EnsureVolume(ctx context.Context, name string, labels map[string]string) error
	RemoveVolume(ctx context.Context, name string) error
	ListVolumes(ctx context.Context, labelFilter map[string]string) ([]engine.VolumeInfo, error)
	VolumesInUse(ctx context.Context) (map[string]bool, error)
}

// Manager owns workspace volumes and snapshot archives.
type Manager struct {
	eng         Engine
	snapshotDir string
	clock       Clock
}

func NewManager(eng Engine, snapshotDir string, clock Clock) *Manager {
	if clock == nil {
		clock = RealClock{}
	}
	return &Manager{eng: eng, snapshotDir: snapshotDir, clock: clock}
}

// NewVolumeName derives a fresh deterministic-format volume name:
// warden-{blueprint}-{unix}-{token}. The timestamp makes "latest" cheap
// to compute; the token keeps names unique within a second.
func (m *Manager) NewVolumeName(blueprintID string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("warden-%s-%d-%s", blueprintID, m.clock.Now().Unix(), token)
}

var generatedVolumeName = regexp.MustCompile(`^warden-(.+)-\d+-[0-9a-f]{8}$`)

// blueprintFromVolumeName recovers the owning blueprint id from a
// generated volume name. Operator-named volumes come back unchanged and
// serve as their own blueprint tag.
func blueprintFromVolumeName(name string) string {
	if m := generatedVolumeName.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return name
}

// EnsureVolume creates the named volume tagged with its owning blueprint.
// Idempotent.
func (m *Manager) EnsureVolume(ctx context.Context, name, blueprintID string) error {
	labels := map[string]string{
		engine.LabelManaged:   engine.ManagedValue,
		engine.LabelBlueprint: blueprintID,
	}
	return m.eng.EnsureVolume(ctx, name, labels)
}

// RemoveVolume deletes a volume. Used for rollback when a container
// fails to start after its volume was provisioned.
func (m *Manager) RemoveVolume(ctx context.Context, name string) error {
	return m.eng.RemoveVolume(ctx, name)
}

// ListVolumes lists every warden-managed volume.
func (m *Manager) ListVolumes(ctx context.Context) ([]engine.VolumeInfo, error) {
	return m.eng.ListVolumes(ctx, map[string]string{engine.LabelManaged: engine.ManagedValue})
}

// FindLatestVolume returns the most recently created volume owned by the
// blueprint, for resume scenarios.
func (m *Manager) FindLatestVolume(ctx context.Context, blueprintID string) (string, bool, error) {
	vols, err := m.eng.ListVolumes(ctx, map[string]string{
		engine.LabelManaged:   engine.ManagedValue,
		engine.LabelBlueprint: blueprintID,
	})
	if err != nil {
		return "", false, err
	}
	if len(vols) == 0 {
		return "", false, nil
	}
	sort.Slice(vols, func(i, j int) bool {
		return volumeCreated(vols[i]).After(volumeCreated(vols[j]))
	})
	return vols[0].Name, true, nil
}

// volumeCreated parses the engine's creation timestamp, falling back to
// the unix timestamp embedded in the name.
func volumeCreated(v engine.VolumeInfo) time.Time {
	if t, err := time.Parse(time.RFC3339, v.CreatedAt); err == nil {
		return t
	}
	parts := strings.Split(v.Name, "-")
	if len(parts) >= 2 {
		var unix int64
		if _, err := fmt.Sscanf(parts[len(parts)-2], "%d", &unix); err == nil {
			return time.Unix(unix, 0)
		}
	}
	return time.Time{}
}

// CleanupOrphanedVolumes reports (or removes) every managed volume not
// attached to any container, running or stopped.
func (m *Manager) CleanupOrphanedVolumes(ctx context.Context, dryRun bool) ([]string, error) {
	inUse, err := m.eng.VolumesInUse(ctx)
	if err != nil {
		return nil, err
	}
	managed, err := m.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, v := range managed {
		if !inUse[v.Name] {
			orphans = append(orphans, v.Name)
		}
	}
	sort.Strings(orphans)

	if dryRun {
		return orphans, nil
	}
	for _, name := range orphans {
		if err := m.eng.RemoveVolume(ctx, name); err != nil {
			return orphans, fmt.Errorf("remove orphaned volume %s: %w", name, err)
		}
		slog.Info("Removed orphaned volume.", "volume", name)
	}
	return orphans, nil
}
