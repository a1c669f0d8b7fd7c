//go:build !unix

package runner

import "os/exec"

// isolateProcessGroup is a no-op without process groups. Closing stdout on
// cancellation still unblocks the reader.
func isolateProcessGroup(*exec.Cmd) {}
