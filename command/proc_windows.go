//go:build windows

package command

import "os/exec"

// configureProcessGroup is a no-op on Windows; context cancellation kills
// the direct child via the default exec behavior.
func configureProcessGroup(cmd *exec.Cmd) {}
