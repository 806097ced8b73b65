//go:build !unix

package plugin

import "os/exec"

const shell = "sh"

func configureProcessGroup(cmd *exec.Cmd) {}
