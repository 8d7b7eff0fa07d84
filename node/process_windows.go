// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build windows

package node

import (
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// On windows, interrupt is not supported, so a kill signal is used instead.
func interruptProcess(proc *os.Process) error {
	return proc.Signal(os.Kill)
}

func killProcessGroup(proc *os.Process) error {
	return proc.Kill()
}
