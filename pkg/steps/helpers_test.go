package steps

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/systemstart/ferry/pkg/api"
	"github.com/systemstart/ferry/pkg/backend"
)

// writeTestFile writes content to a file in dir, failing the test on error.
func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func readTestFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func assertNotExists(t *testing.T, p string) {
	t.Helper()
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Errorf("expected %s to not exist, stat err = %v", p, err)
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected %s to be empty, found %v", dir, names)
	}
}

// recordingBackend is a local backend that records calls and closes.
type recordingBackend struct {
	*backend.Local

	mu     sync.Mutex
	opens  []backend.Mode
	closed int
}

func (r *recordingBackend) Name() string { return "rec" }

func (r *recordingBackend) Open(ctx context.Context, p string, mode backend.Mode) (backend.File, error) {
	r.mu.Lock()
	r.opens = append(r.opens, mode)
	r.mu.Unlock()
	return r.Local.Open(ctx, p, mode)
}

func (r *recordingBackend) Close() error {
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

func (r *recordingBackend) opened(mode backend.Mode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.opens {
		if m == mode {
			n++
		}
	}
	return n
}

// testContext returns a StepContext whose registry has local plus a
// recording backend under "rec". Every "rec" construction is appended to
// the returned slice.
func testContext(t *testing.T) (StepContext, *[]*recordingBackend) {
	t.Helper()
	var built []*recordingBackend
	var mu sync.Mutex

	reg := backend.NewRegistry()
	reg.Register(backend.TypeLocal, func(string, backend.Resolver) (backend.Backend, error) {
		return backend.NewLocal(), nil
	})
	reg.Register("rec", func(string, backend.Resolver) (backend.Backend, error) {
		b := &recordingBackend{Local: backend.NewLocal()}
		mu.Lock()
		built = append(built, b)
		mu.Unlock()
		return b, nil
	})
	return StepContext{Registry: reg, TempDir: t.TempDir()}, &built
}

func local(p string) api.Location { return api.Location{Type: backend.TypeLocal, Path: p} }

func rec(p string) api.Location { return api.Location{Type: "rec", Path: p} }
