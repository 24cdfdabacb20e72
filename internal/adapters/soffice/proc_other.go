//go:build !unix

package soffice

import "os/exec"

// configureProcessGroup keeps exec's default: kill the direct child on cancellation.
func configureProcessGroup(cmd *exec.Cmd) {}
