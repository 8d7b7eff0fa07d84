// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build !windows

package node

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr puts the node in its own process group so that a forced kill
// also reaches anything it spawned.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// interruptProcess asks the node to shut down.
func interruptProcess(proc *os.Process) error {
	return unix.Kill(proc.Pid, unix.SIGINT)
}

// killProcessGroup kills the node and every process in its group.
func killProcessGroup(proc *os.Process) error {
	if err := unix.Kill(-proc.Pid, unix.SIGKILL); err != nil {
		return proc.Kill()
	}
	return nil
}
