package backend

import (
	"fmt"
	"io/fs"
)

// UnsupportedModeError is returned by Open before any I/O when the backend
// cannot express the requested mode.
type UnsupportedModeError struct {
	Backend string
	Mode    Mode
	Reason  string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("%s: unsupported open mode %s: %s", e.Backend, e.Mode, e.Reason)
}

// AlreadyExistsError reports a replace=false collision. The existing target
// is left as it was.
type AlreadyExistsError struct {
	Path string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists", e.Path)
}

func (e *AlreadyExistsError) Is(target error) bool { return target == fs.ErrExist }

// ConnectionError reports that a backend could not resolve credentials,
// connect or authenticate.
type ConnectionError struct {
	Backend string
	Ref     string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection %q: %v", e.Backend, e.Ref, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
