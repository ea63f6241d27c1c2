package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/systemstart/ferry/pkg/api"
	"github.com/systemstart/ferry/pkg/backend"
)

// StepContext provides the runtime context for a step.
type StepContext struct {
	Registry    *backend.Registry // nil means backend.Default
	Connections backend.Resolver
	TempDir     string // parent for scoped temp resources; "" means os.TempDir
}

// StepResult holds the output of a step: the single value a step hands
// to the steps after it.
type StepResult struct {
	Path string
}

// Step is the interface all pipeline steps implement.
type Step interface {
	Name() string
	Run(ctx context.Context, sc StepContext) (*StepResult, error)
}

// Sensor reports a condition once per call. It never retries or sleeps.
type Sensor interface {
	Name() string
	Check(ctx context.Context, sc StepContext) (bool, error)
}

// newBackend builds a fresh backend for loc. Callers own the instance and
// must close it.
func (sc StepContext) newBackend(loc api.Location) (backend.Backend, error) {
	reg := sc.Registry
	if reg == nil {
		reg = backend.Default
	}
	b, err := reg.New(loc.Type, loc.Conn, sc.Connections)
	if err != nil {
		return nil, fmt.Errorf("creating %s backend: %w", loc.Type, err)
	}
	if s, ok := b.(backend.Spooler); ok {
		s.SetSpoolDir(sc.TempDir)
	}
	return b, nil
}

func closeBackend(b backend.Backend) {
	if err := b.Close(); err != nil {
		slog.Warn("failed to close backend", "backend", b.Name(), "error", err)
	}
}
