package steps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/systemstart/ferry/pkg/api"
	"github.com/systemstart/ferry/pkg/backend"
)

// chunkSize is the buffer used when streaming between backends.
const chunkSize = 32 * 1024

type transferStep struct {
	name   string
	source api.Location
	dest   api.Location
}

// NewTransferStep creates a step that streams source to dest.
func NewTransferStep(name string, source, dest api.Location) Step {
	return &transferStep{name: name, source: source, dest: dest}
}

func (s *transferStep) Name() string { return s.name }

func (s *transferStep) Run(ctx context.Context, sc StepContext) (*StepResult, error) {
	src, err := sc.newBackend(s.source)
	if err != nil {
		return nil, err
	}
	defer closeBackend(src)

	dst, err := sc.newBackend(s.dest)
	if err != nil {
		return nil, err
	}
	defer closeBackend(dst)

	slog.Info("transferring", "step", s.name, "source", s.source.String(), "dest", s.dest.String())
	n, err := stream(ctx, src, s.source.Path, dst, s.dest.Path)
	if err != nil {
		return nil, &TransferError{Step: s.name, Err: err}
	}
	slog.Info("transfer complete", "step", s.name, "bytes", n)

	return &StepResult{Path: s.dest.Path}, nil
}

// stream copies srcPath to dstPath in fixed-size chunks. The destination
// is opened only after the source opened successfully. Both streams are
// released on every path; a failed copy aborts the destination instead of
// committing it.
func stream(ctx context.Context, src backend.Backend, srcPath string, dst backend.Backend, dstPath string) (int64, error) {
	in, err := src.Open(ctx, srcPath, backend.ModeRead)
	if err != nil {
		return 0, fmt.Errorf("opening source %s: %w", srcPath, err)
	}

	out, err := dst.Open(ctx, dstPath, backend.ModeWrite)
	if err != nil {
		_ = in.Close()
		return 0, fmt.Errorf("opening destination %s: %w", dstPath, err)
	}

	// Hide ReadFrom/WriteTo so every backend sees the same chunking.
	buf := make([]byte, chunkSize)
	n, copyErr := io.CopyBuffer(struct{ io.Writer }{out}, struct{ io.Reader }{in}, buf)

	var errs []error
	if copyErr != nil {
		errs = append(errs, fmt.Errorf("copying %s to %s: %w", srcPath, dstPath, copyErr))
	}
	if err := in.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing source %s: %w", srcPath, err))
	}
	if copyErr != nil {
		if err := abort(out, copyErr); err != nil {
			errs = append(errs, fmt.Errorf("discarding destination %s: %w", dstPath, err))
		}
	} else if err := out.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing destination %s: %w", dstPath, err))
	}
	return n, errors.Join(errs...)
}

func abort(out backend.File, cause error) error {
	if a, ok := out.(backend.Aborter); ok {
		return a.Abort(cause)
	}
	return out.Close()
}
