package steps

import (
	"fmt"
	"strings"
)

// TransferError wraps a failure to open, copy or close either end of a
// transfer. A partially written destination is not rolled back.
type TransferError struct {
	Step string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("step %q: transfer failed: %v", e.Step, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// TransformError reports that the external command failed. The
// destination is never opened when this is returned.
type TransformError struct {
	Step     string
	Command  []string
	ExitCode int // -1 when the process did not exit normally
	Stderr   string
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("step %q: command %q failed (exit code %d): %v\nstderr: %s",
		e.Step, strings.Join(e.Command, " "), e.ExitCode, e.Err, e.Stderr)
}

func (e *TransformError) Unwrap() error { return e.Err }

// TempResourceError reports that a scoped temp file or directory could not
// be allocated. No network I/O has happened when it is returned.
type TempResourceError struct {
	Err error
}

func (e *TempResourceError) Error() string {
	return fmt.Sprintf("allocating temp resource: %v", e.Err)
}

func (e *TempResourceError) Unwrap() error { return e.Err }
