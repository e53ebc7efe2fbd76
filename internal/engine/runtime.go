// Package engine wraps the Docker Engine API for the rest of the
// orchestration core: images, containers, exec, stats, volumes and
// networks. All calls are synchronous and carry the caller's context;
// there are no internal retries — daemon errors surface raw.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/client"
)

// Runtime is the engine client adapter. It is safe for concurrent use.
type Runtime struct {
	cli client.APIClient
}

// New creates a Runtime with a Docker client from the environment.
func New() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// NewFromClient wraps an existing Docker client. Used by tests.
func NewFromClient(cli client.APIClient) *Runtime {
	return &Runtime{cli: cli}
}

var (
	sharedMu sync.Mutex
	shared   *Runtime
)

// Shared returns the process-wide Runtime, creating it on first use. The
// mutex guarantees the client is constructed exactly once.
func Shared() (*Runtime, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		rt, err := New()
		if err != nil {
			return nil, err
		}
		shared = rt
	}
	return shared, nil
}

// WaitReady blocks until the Docker daemon answers a ping or ctx expires.
func (r *Runtime) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if _, err := r.cli.Ping(ctx); err == nil {
			return nil
		} else if !client.IsErrConnectionFailed(err) {
			return fmt.Errorf("connect to docker daemon: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the underlying client.
func (r *Runtime) Close() error {
	return r.cli.Close()
}
