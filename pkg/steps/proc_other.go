//go:build !unix

package steps

import "os/exec"

// setProcessGroup is a no-op; cancellation kills only the direct child.
func setProcessGroup(*exec.Cmd) {}
