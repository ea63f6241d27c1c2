package steps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/systemstart/ferry/pkg/api"
	"github.com/systemstart/ferry/pkg/backend"
)

func TestExistenceSensor(t *testing.T) {
	dir := t.TempDir()
	file := writeTestFile(t, dir, "in/report.csv", "x")
	if err := os.MkdirAll(filepath.Join(dir, "in", "sub"), 0o750); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		sensor Sensor
		want   bool
	}{
		{"file present", NewFileSensor("s", local(file)), true},
		{"file absent", NewFileSensor("s", local(filepath.Join(dir, "in", "none.csv"))), false},
		{"parent absent", NewFileSensor("s", local(filepath.Join(dir, "nope", "report.csv"))), false},
		{"folder is not a file", NewFileSensor("s", local(filepath.Join(dir, "in", "sub"))), false},
		{"folder present", NewFolderSensor("s", local(filepath.Join(dir, "in", "sub"))), true},
		{"file is not a folder", NewFolderSensor("s", local(file)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, _ := testContext(t)
			got, err := tt.sensor.Check(context.Background(), sc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

type failingBackend struct {
	*backend.Local
	err error
}

func (f failingBackend) FileExists(context.Context, string) (bool, error) { return false, f.err }

func TestExistenceSensor_Error(t *testing.T) {
	boom := errors.New("listing failed")
	reg := backend.NewRegistry()
	reg.Register("bad", func(string, backend.Resolver) (backend.Backend, error) {
		return failingBackend{Local: backend.NewLocal(), err: boom}, nil
	})

	_, err := NewFileSensor("s", api.Location{Type: "bad", Path: "/x"}).Check(context.Background(), StepContext{Registry: reg})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
