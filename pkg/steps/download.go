package steps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/systemstart/ferry/pkg/api"
)

type downloadStep struct {
	name    string
	source  api.Location
	local   string
	replace bool
	folder  bool
}

// NewDownloadStep creates a step that downloads one remote file. An empty
// local path downloads into a fresh temp file.
func NewDownloadStep(name string, source api.Location, local string, replace bool) Step {
	return &downloadStep{name: name, source: source, local: local, replace: replace}
}

// NewDownloadFolderStep creates a step that downloads a remote tree. An
// empty local path downloads into a fresh temp directory.
func NewDownloadFolderStep(name string, source api.Location, local string, replace bool) Step {
	return &downloadStep{name: name, source: source, local: local, replace: replace, folder: true}
}

func (s *downloadStep) Name() string { return s.name }

func (s *downloadStep) Run(ctx context.Context, sc StepContext) (*StepResult, error) {
	local := s.local
	replace := s.replace
	release := func() {}
	if local == "" {
		var err error
		if s.folder {
			local, release, err = tempDir(sc.TempDir, "ferry-download-*")
		} else {
			local, release, err = tempFile(sc.TempDir, "ferry-download-*")
		}
		if err != nil {
			return nil, err
		}
		// The placeholder we just created must be overwritten.
		replace = true
	}

	b, err := sc.newBackend(s.source)
	if err != nil {
		release()
		return nil, err
	}
	defer closeBackend(b)

	slog.Info("downloading", "step", s.name, "source", s.source.String(), "local", local, "folder", s.folder)
	if s.folder {
		err = b.DownloadFolder(ctx, s.source.Path, local, replace)
	} else {
		err = b.Download(ctx, s.source.Path, local, replace)
	}
	if err != nil {
		release()
		return nil, fmt.Errorf("step %q: downloading %s: %w", s.name, s.source.String(), err)
	}

	return &StepResult{Path: local}, nil
}
