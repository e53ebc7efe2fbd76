package volume

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/gzip"

	"warden/internal/engine"
)

// helperImage runs the short-lived archive containers. Anything with a
// gzip-capable tar works.
const helperImage = "alpine:3.20"

const (
	archivePath = "/warden-snapshot.tar.gz"
	dataMount   = "/data"
	snapshotExt = ".tar.gz"
	timeLayout  = "20060102T150405"
)

// Snapshot is one archive on disk.
type Snapshot struct {
	File      string
	Volume    string
	Tag       string
	CreatedAt time.Time
	SizeBytes int64
}

// snapshotFileName encodes volume, tag and capture time. Underscores are
// flattened in both so the double-underscore separator stays unambiguous.
func snapshotFileName(volume, tag string, at time.Time) string {
	if tag == "" {
		tag = "snap"
	}
	volume = strings.ReplaceAll(volume, "_", "-")
	tag = strings.ReplaceAll(tag, "_", "-")
	return fmt.Sprintf("%s__%s__%s%s", volume, tag, at.UTC().Format(timeLayout), snapshotExt)
}

func parseSnapshotFileName(file string) (Snapshot, bool) {
	base := strings.TrimSuffix(filepath.Base(file), snapshotExt)
	parts := strings.Split(base, "__")
	if len(parts) != 3 {
		return Snapshot{}, false
	}
	at, err := time.Parse(timeLayout, parts[2])
	if err != nil {
		return Snapshot{}, false
	}
	return Snapshot{File: filepath.Base(file), Volume: parts[0], Tag: parts[1], CreatedAt: at}, true
}

// CreateSnapshot archives a volume's contents into the snapshot
// directory via an ephemeral helper container that mounts the volume
// read-only. The helper is removed unconditionally.
func (m *Manager) CreateSnapshot(ctx context.Context, volumeName, tag string) (Snapshot, error) {
	if err := os.MkdirAll(m.snapshotDir, 0o755); err != nil {
		return Snapshot{}, fmt.Errorf("create snapshot dir: %w", err)
	}
	lock := flock.New(filepath.Join(m.snapshotDir, ".lock"))
	if err := lock.Lock(); err != nil {
		return Snapshot{}, fmt.Errorf("lock snapshot dir: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := m.eng.EnsureImage(ctx, helperImage); err != nil {
		return Snapshot{}, err
	}

	id, err := m.eng.CreateContainer(ctx, engine.CreateConfig{
		Name:        "warden-snapshot-" + volumeName,
		Image:       helperImage,
		Cmd:         []string{"tar", "-czf", archivePath, "-C", dataMount, "."},
		Labels:      map[string]string{engine.LabelHelper: "snapshot"},
		NetworkMode: "none",
		Mounts: []engine.Mount{
			{Source: volumeName, Target: dataMount, Volume: true, ReadOnly: true},
		},
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("create snapshot helper: %w", err)
	}
	defer m.removeHelper(id)

	if err := m.runHelper(ctx, id); err != nil {
		return Snapshot{}, fmt.Errorf("archive volume %s: %w", volumeName, err)
	}

	snap := Snapshot{Volume: volumeName, Tag: tag, CreatedAt: m.clock.Now()}
	snap.File = snapshotFileName(volumeName, tag, snap.CreatedAt)
	dest := filepath.Join(m.snapshotDir, snap.File)
	if err := m.extractArchive(ctx, id, dest); err != nil {
		return Snapshot{}, fmt.Errorf("extract snapshot of %s: %w", volumeName, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return Snapshot{}, fmt.Errorf("stat snapshot: %w", err)
	}
	snap.SizeBytes = info.Size()
	slog.Info("Created snapshot.", "volume", volumeName, "file", snap.File, "bytes", snap.SizeBytes)
	return snap, nil
}

// RestoreSnapshot unpacks an archive into targetVolume, creating the
// volume if needed. An empty targetVolume restores into a fresh volume
// named after the snapshot's source.
func (m *Manager) RestoreSnapshot(ctx context.Context, file, targetVolume string) (string, error) {
	src := file
	if !filepath.IsAbs(src) {
		src = filepath.Join(m.snapshotDir, file)
	}
	snap, ok := parseSnapshotFileName(src)
	if !ok {
		return "", fmt.Errorf("unrecognized snapshot file name %q", filepath.Base(file))
	}
	if err := validateArchive(src); err != nil {
		return "", err
	}

	lock := flock.New(filepath.Join(m.snapshotDir, ".lock"))
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("lock snapshot dir: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	blueprintID := blueprintFromVolumeName(snap.Volume)
	if targetVolume == "" {
		targetVolume = m.NewVolumeName(blueprintID)
	}
	if err := m.EnsureVolume(ctx, targetVolume, blueprintID); err != nil {
		return "", err
	}

	if err := m.eng.EnsureImage(ctx, helperImage); err != nil {
		return "", err
	}
	id, err := m.eng.CreateContainer(ctx, engine.CreateConfig{
		Name:        "warden-restore-" + targetVolume,
		Image:       helperImage,
		Cmd:         []string{"tar", "-xzf", archivePath, "-C", dataMount},
		Labels:      map[string]string{engine.LabelHelper: "restore"},
		NetworkMode: "none",
		Mounts: []engine.Mount{
			{Source: targetVolume, Target: dataMount, Volume: true},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create restore helper: %w", err)
	}
	defer m.removeHelper(id)

	if err := m.uploadArchive(ctx, id, src); err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", filepath.Base(src), err)
	}
	if err := m.runHelper(ctx, id); err != nil {
		return "", fmt.Errorf("restore snapshot into %s: %w", targetVolume, err)
	}

	slog.Info("Restored snapshot.", "file", filepath.Base(src), "volume", targetVolume)
	return targetVolume, nil
}

// ListSnapshots lists archives in the snapshot directory, newest first.
func (m *Manager) ListSnapshots() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.snapshotDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}

	var out []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		snap, ok := parseSnapshotFileName(entry.Name())
		if !ok {
			continue
		}
		if info, err := entry.Info(); err == nil {
			snap.SizeBytes = info.Size()
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// runHelper starts a helper container and waits for a clean exit.
func (m *Manager) runHelper(ctx context.Context, id string) error {
	if err := m.eng.StartContainer(ctx, id); err != nil {
		return err
	}
	code, err := m.eng.WaitContainer(ctx, id)
	if err != nil {
		return err
	}
	if code != 0 {
		logs, _ := m.eng.Logs(ctx, id, 20)
		return fmt.Errorf("helper exited with code %d: %s", code, logs)
	}
	return nil
}

func (m *Manager) removeHelper(id string) {
	// Detached from the caller's context: the helper must go away even
	// when the operation was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.eng.RemoveContainer(ctx, id); err != nil {
		slog.Warn("Failed to remove helper container.", "container", id, "err", err)
	}
}

// extractArchive pulls the archive file out of the helper's filesystem.
// The engine hands it back wrapped in a tar stream.
func (m *Manager) extractArchive(ctx context.Context, id, dest string) error {
	rc, err := m.eng.CopyFrom(ctx, id, archivePath)
	if err != nil {
		return err
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("archive %s missing from helper", archivePath)
			}
			return fmt.Errorf("read copy stream: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		out, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("create snapshot file: %w", err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			_ = out.Close()
			return fmt.Errorf("write snapshot file: %w", err)
		}
		return out.Close()
	}
}

// uploadArchive wraps the archive in a tar stream and copies it to the
// helper's root, where the extract command expects it.
func (m *Manager) uploadArchive(ctx context.Context, id, src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read snapshot file: %w", err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: strings.TrimPrefix(archivePath, "/"),
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar stream: %w", err)
	}

	return m.eng.CopyTo(ctx, id, "/", &buf)
}

// validateArchive rejects files that are not gzip streams before any
// engine-side work happens.
func validateArchive(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("snapshot %s is not a gzip archive: %w", filepath.Base(path), err)
	}
	return zr.Close()
}
