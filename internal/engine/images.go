package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
)

// PullImage pulls an image and drains the response to completion.
func (r *Runtime) PullImage(ctx context.Context, ref string) error {
	slog.Info("Pulling image.", "image", ref)
	resp, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer resp.Close()
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("pull image %s: read response: %w", ref, err)
	}
	return nil
}

// EnsureImage pulls an image only if it is not already present locally.
func (r *Runtime) EnsureImage(ctx context.Context, ref string) error {
	if _, err := r.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect image %s: %w", ref, err)
	}
	return r.PullImage(ctx, ref)
}

// BuildImage builds an image from an inline Dockerfile and tags it. The
// build context contains only the Dockerfile; blueprints that need files
// must fetch them in build steps.
func (r *Runtime) BuildImage(ctx context.Context, tag, dockerfile string) error {
	buildCtx, err := dockerfileContext(dockerfile)
	if err != nil {
		return fmt.Errorf("build image %s: %w", tag, err)
	}

	slog.Info("Building image.", "tag", tag)
	resp, err := r.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("build image %s: %w", tag, err)
	}
	defer resp.Body.Close()

	// The body is a JSON stream; a failed step arrives as an error
	// message, not a non-nil err from ImageBuild.
	dec := json.NewDecoder(resp.Body)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("build image %s: read response: %w", tag, err)
		}
		if msg.Error != "" {
			return fmt.Errorf("build image %s: %s", tag, strings.TrimSpace(msg.Error))
		}
	}
}

// ImageDigest resolves the content digest of a locally cached image. Repo
// digests win over the local image ID since pinning compares against what
// a registry served.
func (r *Runtime) ImageDigest(ctx context.Context, ref string) (string, error) {
	info, err := r.cli.ImageInspect(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("inspect image %s: %w", ref, err)
	}
	for _, rd := range info.RepoDigests {
		if _, digest, ok := strings.Cut(rd, "@"); ok {
			return digest, nil
		}
	}
	if info.ID != "" {
		return info.ID, nil
	}
	return "", fmt.Errorf("image %s has no resolvable digest", ref)
}

func dockerfileContext(dockerfile string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: "Dockerfile",
		Mode: 0o644,
		Size: int64(len(dockerfile)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write([]byte(dockerfile)); err != nil {
		return nil, fmt.Errorf("write dockerfile: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close build context: %w", err)
	}
	return &buf, nil
}
