// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build linux || darwin

package limits

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// fileLimitPerNode is the number of descriptors a node of the network is
// expected to hold open through the harness: its pipes, RPC connections and
// the files copied in and out of the chain cache.
const fileLimitPerNode = 64

const (
	fileLimitWant = 2048
	fileLimitMin  = 1024
)

// SetLimits raises the soft limit on open files so that the given number of
// nodes fit within it.
func SetLimits(nodes int) error {
	want := uint64(fileLimitWant)
	if n := uint64(nodes) * fileLimitPerNode; n > want {
		want = n
	}

	var rLimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return err
	}
	if rLimit.Cur > want {
		return nil
	}
	if rLimit.Max < fileLimitMin {
		return fmt.Errorf("need at least %v file descriptors",
			fileLimitMin)
	}
	if rLimit.Max < want {
		rLimit.Cur = rLimit.Max
	} else {
		rLimit.Cur = want
	}
	err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		// Try the minimum.
		rLimit.Cur = fileLimitMin
		return unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit)
	}
	return nil
}
