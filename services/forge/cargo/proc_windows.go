// Copyright (C) 2025 Crucible Labs (oss@cruciblelabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build windows

package cargo

import "os/exec"

// setProcessGroup is a no-op on Windows; exec.CommandContext kills the
// direct child and WaitDelay reaps stragglers.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup kills the direct child process.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
