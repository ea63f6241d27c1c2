package steps

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/systemstart/ferry/pkg/api"
	"github.com/systemstart/ferry/pkg/backend"
)

func TestTransferStep_Sizes(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"one byte", 1},
		{"exactly one chunk", chunkSize},
		{"several chunks", 100*1024 + 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, built := testContext(t)
			dir := t.TempDir()
			content := strings.Repeat("x", tt.size)
			src := writeTestFile(t, dir, "src.bin", content)
			dst := filepath.Join(dir, "dst.bin")

			result, err := NewTransferStep("copy", local(src), rec(dst)).Run(context.Background(), sc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Path != dst {
				t.Errorf("result path = %q, want %q", result.Path, dst)
			}
			if got := readTestFile(t, dst); got != content {
				t.Errorf("copied %d bytes, want %d", len(got), len(content))
			}
			if len(*built) != 1 || (*built)[0].closed != 1 {
				t.Errorf("destination backend not closed exactly once")
			}
		})
	}
}

func TestTransferStep_MissingSource(t *testing.T) {
	sc, built := testContext(t)
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst.bin")

	_, err := NewTransferStep("copy", local(filepath.Join(dir, "absent")), rec(dst)).Run(context.Background(), sc)
	var te *TransferError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransferError", err)
	}
	if te.Step != "copy" {
		t.Errorf("step = %q", te.Step)
	}
	if (*built)[0].opened(backend.ModeWrite) != 0 {
		t.Error("destination opened although source failed")
	}
	assertNotExists(t, dst)
}

func TestTransferStep_DestinationFails(t *testing.T) {
	sc, _ := testContext(t)
	dir := t.TempDir()
	src := writeTestFile(t, dir, "src.txt", "data")

	_, err := NewTransferStep("copy", local(src), rec(filepath.Join(dir, "no", "such", "dir", "x"))).Run(context.Background(), sc)
	if !errors.As(err, new(*TransferError)) {
		t.Fatalf("err = %v, want TransferError", err)
	}
}

func TestTransferStep_UnknownBackend(t *testing.T) {
	sc, _ := testContext(t)
	_, err := NewTransferStep("copy", local("/x"), rec("/y")).Run(context.Background(), StepContext{Registry: backend.NewRegistry(), TempDir: sc.TempDir})
	if err == nil || !strings.Contains(err.Error(), "backend type not found") {
		t.Fatalf("err = %v", err)
	}
}

// failingReader returns data and then err.
type failingReader struct {
	data string
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (r *failingReader) Close() error { return nil }

// spyWriter records whether a stream was committed or aborted.
type spyWriter struct {
	written         strings.Builder
	closed, aborted bool
	abortCause      error
}

func (w *spyWriter) Write(p []byte) (int, error) { return w.written.Write(p) }

func (w *spyWriter) Close() error {
	w.closed = true
	return nil
}

func (w *spyWriter) Abort(cause error) error {
	w.aborted, w.abortCause = true, cause
	return nil
}

// streamBackend serves fixed streams from Open.
type streamBackend struct {
	*backend.Local
	reader   *failingReader
	writer   *spyWriter
	spoolDir string
}

func (b *streamBackend) Open(_ context.Context, _ string, mode backend.Mode) (backend.File, error) {
	if mode == backend.ModeRead {
		return backend.ReadOnly(b.reader), nil
	}
	return backend.WriteOnly(b.writer), nil
}

func (b *streamBackend) SetSpoolDir(dir string) { b.spoolDir = dir }

func TestTransferStep_SourceFailureAbortsDestination(t *testing.T) {
	readErr := errors.New("connection reset")
	src := &streamBackend{Local: backend.NewLocal(), reader: &failingReader{data: "partial", err: readErr}}
	dst := &streamBackend{Local: backend.NewLocal(), writer: &spyWriter{}}

	reg := backend.NewRegistry()
	reg.Register("src", func(string, backend.Resolver) (backend.Backend, error) { return src, nil })
	reg.Register("dst", func(string, backend.Resolver) (backend.Backend, error) { return dst, nil })
	sc := StepContext{Registry: reg, TempDir: t.TempDir()}

	step := NewTransferStep("copy", api.Location{Type: "src", Path: "/a"}, api.Location{Type: "dst", Path: "/b"})
	_, err := step.Run(context.Background(), sc)
	if !errors.Is(err, readErr) {
		t.Fatalf("err = %v, want %v", err, readErr)
	}
	if !dst.writer.aborted || !errors.Is(dst.writer.abortCause, readErr) {
		t.Error("destination was not aborted with the read error")
	}
	if dst.writer.closed {
		t.Error("destination was committed after a failed read")
	}
	if dst.spoolDir != sc.TempDir {
		t.Errorf("spool dir = %q, want %q", dst.spoolDir, sc.TempDir)
	}
}

func TestTransferStep_SuccessCommitsDestination(t *testing.T) {
	src := &streamBackend{Local: backend.NewLocal(), reader: &failingReader{data: "whole", err: io.EOF}}
	dst := &streamBackend{Local: backend.NewLocal(), writer: &spyWriter{}}

	reg := backend.NewRegistry()
	reg.Register("src", func(string, backend.Resolver) (backend.Backend, error) { return src, nil })
	reg.Register("dst", func(string, backend.Resolver) (backend.Backend, error) { return dst, nil })

	step := NewTransferStep("copy", api.Location{Type: "src", Path: "/a"}, api.Location{Type: "dst", Path: "/b"})
	if _, err := step.Run(context.Background(), StepContext{Registry: reg}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dst.writer.closed || dst.writer.aborted {
		t.Errorf("closed=%v aborted=%v, want a plain commit", dst.writer.closed, dst.writer.aborted)
	}
	if dst.writer.written.String() != "whole" {
		t.Errorf("written %q", dst.writer.written.String())
	}
}
