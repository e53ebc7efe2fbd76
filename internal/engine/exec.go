package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecResult is the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int
	Output   string // combined stdout and stderr
}

// Exec runs a single command inside a running container and waits for it
// to finish. Cancellation comes from ctx; callers wrap it with their
// timeout.
func (r *Runtime) Exec(ctx context.Context, id string, cmd []string, workdir string) (ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	}

	resp, err := r.cli.ContainerExecCreate(ctx, id, execCfg)
	if err != nil {
		return ExecResult{}, fmt.Errorf("create exec in %s: %w", id, err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("attach exec in %s: %w", id, err)
	}
	defer attach.Close()

	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, attach.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("read exec output in %s: %w", id, err)
	}

	info, err := r.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("inspect exec in %s: %w", id, err)
	}

	return ExecResult{ExitCode: info.ExitCode, Output: combined.String()}, nil
}
