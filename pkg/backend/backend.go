// Package backend implements one file-operation contract over local disk,
// FTP, SFTP and object storage.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Backend is the capability set every storage variant implements.
//
// A Backend is connection-scoped and not safe for concurrent use: each step
// execution constructs its own instance and closes it when done.
type Backend interface {
	// Name returns the type tag the backend was registered under.
	Name() string

	// Open returns a stream scoped to the call. The caller must Close it;
	// for writers, Close commits the content and reports commit failures.
	Open(ctx context.Context, path string, mode Mode) (File, error)

	// Download copies remotePath to localPath on the local filesystem.
	Download(ctx context.Context, remotePath, localPath string, replace bool) error

	// DownloadFolder recursively copies a remote tree to localPath.
	// With replace set, an existing localPath is removed first.
	DownloadFolder(ctx context.Context, remotePath, localPath string, replace bool) error

	// Upload copies localPath to remotePath. The replace=false check is
	// best-effort: it is not atomic with the write that follows.
	Upload(ctx context.Context, localPath, remotePath string, replace bool) error

	// Delete removes a file, or a directory recursively.
	Delete(ctx context.Context, path string) error

	FileExists(ctx context.Context, path string) (bool, error)
	FolderExists(ctx context.Context, path string) (bool, error)

	// Close releases the cached connection, if one was established.
	Close() error
}

// Mode selects the direction of a stream returned by Open.
type Mode int

const (
	ModeRead Mode = iota
	// ModeWrite truncates or creates the target.
	ModeWrite
	ModeAppend
	ModeReadWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeAppend:
		return "append"
	case ModeReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps an fopen-style mode string to a Mode. The binary flag "b"
// is accepted and ignored; an empty string means read.
func ParseMode(s string) (Mode, error) {
	s = strings.ReplaceAll(s, "b", "")
	switch {
	case s == "" || s == "r":
		return ModeRead, nil
	case strings.Contains(s, "+"):
		return ModeReadWrite, nil
	case s == "w":
		return ModeWrite, nil
	case s == "a":
		return ModeAppend, nil
	default:
		return 0, fmt.Errorf("invalid mode string %q", s)
	}
}

// File is a byte stream returned by Open. The direction that was not opened
// fails with ErrNotReadable or ErrNotWritable.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

var (
	ErrNotReadable = errors.New("stream not opened for reading")
	ErrNotWritable = errors.New("stream not opened for writing")
)

type readOnly struct{ io.ReadCloser }

func (readOnly) Write([]byte) (int, error) { return 0, ErrNotWritable }

type writeOnly struct{ io.WriteCloser }

func (writeOnly) Read([]byte) (int, error) { return 0, ErrNotReadable }

// Abort discards the stream through the wrapped writer when it supports
// it, and falls back to Close otherwise.
func (w writeOnly) Abort(cause error) error {
	if a, ok := w.WriteCloser.(Aborter); ok {
		return a.Abort(cause)
	}
	return w.Close()
}

// Aborter is implemented by write streams that can drop what was written
// instead of committing it. Abort releases the stream the same way Close
// does; calling Close afterwards is a no-op.
type Aborter interface {
	Abort(cause error) error
}

// Spooler is implemented by backends that buffer writes in local temp
// files. An empty dir means os.TempDir.
type Spooler interface {
	SetSpoolDir(dir string)
}

// ReadOnly wraps rc as a File whose Write always fails.
func ReadOnly(rc io.ReadCloser) File { return readOnly{rc} }

// WriteOnly wraps wc as a File whose Read always fails.
func WriteOnly(wc io.WriteCloser) File { return writeOnly{wc} }

// streamOnly rejects the modes no network backend can express.
func streamOnly(backend string, mode Mode) error {
	switch mode {
	case ModeRead, ModeWrite:
		return nil
	case ModeReadWrite:
		return &UnsupportedModeError{Backend: backend, Mode: mode, Reason: "cannot open a read/write stream"}
	case ModeAppend:
		return &UnsupportedModeError{Backend: backend, Mode: mode, Reason: "cannot append to a remote file"}
	default:
		return &UnsupportedModeError{Backend: backend, Mode: mode, Reason: "unknown mode"}
	}
}
