package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/systemstart/ferry/pkg/api"
	"github.com/systemstart/ferry/pkg/backend"
)

type cleanupStep struct {
	name  string
	typ   string
	conn  string
	paths []string
}

// NewCleanupStep creates a step that deletes paths in order. The backend
// type defaults to local.
func NewCleanupStep(name string, cfg *api.CleanupConfig) Step {
	typ := cfg.Type
	if typ == "" {
		typ = backend.TypeLocal
	}
	return &cleanupStep{name: name, typ: typ, conn: cfg.Conn, paths: cfg.Paths}
}

func (s *cleanupStep) Name() string { return s.name }

// Run stops at the first failing path; later paths are left untouched.
func (s *cleanupStep) Run(ctx context.Context, sc StepContext) (*StepResult, error) {
	b, err := sc.newBackend(api.Location{Type: s.typ, Conn: s.conn})
	if err != nil {
		return nil, err
	}
	defer closeBackend(b)

	for i, p := range s.paths {
		slog.Info("deleting", "step", s.name, "backend", s.typ, "path", p)
		if err := b.Delete(ctx, p); err != nil {
			return nil, fmt.Errorf("step %q: deleting %s (%d of %d): %w", s.name, p, i+1, len(s.paths), err)
		}
	}

	return &StepResult{}, nil
}
