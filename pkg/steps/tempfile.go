package steps

import (
	"log/slog"
	"os"
)

// tempFile creates an empty temp file under dir and returns its path and a
// release func that removes it. The release func is safe to call more
// than once.
func tempFile(dir, pattern string) (string, func(), error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", nil, &TempResourceError{Err: err}
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", nil, &TempResourceError{Err: err}
	}
	return name, func() { removeQuietly(name) }, nil
}

// tempDir is tempFile for directories.
func tempDir(dir, pattern string) (string, func(), error) {
	name, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		return "", nil, &TempResourceError{Err: err}
	}
	return name, func() { removeQuietly(name) }, nil
}

func removeQuietly(p string) {
	if err := os.RemoveAll(p); err != nil {
		slog.Warn("failed to remove temp resource", "path", p, "error", err)
	}
}
