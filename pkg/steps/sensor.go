package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/systemstart/ferry/pkg/api"
)

type existenceSensor struct {
	name   string
	source api.Location
	folder bool
}

// NewFileSensor creates a sensor that reports whether a file matching the
// source path exists.
func NewFileSensor(name string, source api.Location) Sensor {
	return &existenceSensor{name: name, source: source}
}

// NewFolderSensor creates a sensor that reports whether a directory
// matching the source path exists.
func NewFolderSensor(name string, source api.Location) Sensor {
	return &existenceSensor{name: name, source: source, folder: true}
}

func (s *existenceSensor) Name() string { return s.name }

func (s *existenceSensor) Check(ctx context.Context, sc StepContext) (bool, error) {
	b, err := sc.newBackend(s.source)
	if err != nil {
		return false, err
	}
	defer closeBackend(b)

	kind := "file"
	var found bool
	if s.folder {
		kind = "folder"
		found, err = b.FolderExists(ctx, s.source.Path)
	} else {
		found, err = b.FileExists(ctx, s.source.Path)
	}
	if err != nil {
		return false, fmt.Errorf("step %q: checking %s: %w", s.name, s.source.String(), err)
	}

	if found {
		slog.Info(kind+" found", "step", s.name, "path", s.source.String())
	} else {
		slog.Info(kind+" not found", "step", s.name, "path", s.source.String())
	}
	return found, nil
}
