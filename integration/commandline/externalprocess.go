// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package commandline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ExternalProcess is a helper wrapping a short-lived command line execution.
type ExternalProcess struct {
	// CommandName stores console command name
	CommandName string

	// Arguments stores console command arguments
	Arguments []string

	// WorkingDir is the directory the command runs in.  Empty means the
	// current directory.
	WorkingDir string

	// Output, if set, receives the combined output of the command.
	Output io.Writer
}

// FullConsoleCommand returns full console command string
func (process *ExternalProcess) FullConsoleCommand() string {
	return process.CommandName + " " + strings.Join(process.Arguments, " ")
}

// Run launches the process and waits for it to exit.  The combined output is
// included in the returned error when the command fails.
func (process *ExternalProcess) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, process.CommandName, process.Arguments...)
	cmd.Dir = process.WorkingDir

	var output bytes.Buffer
	if process.Output != nil {
		cmd.Stdout = io.MultiWriter(&output, process.Output)
	} else {
		cmd.Stdout = &output
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w\n%s", process.FullConsoleCommand(), err,
			output.String())
	}
	return nil
}
