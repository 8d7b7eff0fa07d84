// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/chainharness/internal/lockfile"
)

const (
	// PortMin is the first port handed out by a PortAllocator.
	PortMin = 11000

	// PortRange is the number of ports in each of the P2P and RPC ranges.
	PortRange = 5000

	// MaxNodes bounds the ordinals a single run spreads over a range
	// before runs with neighbouring port seeds start to overlap.
	MaxNodes = 12
)

// PortKind selects the range a port is allocated from.
type PortKind int

// These constants define the port ranges.
const (
	P2PPort PortKind = iota
	RPCPort
)

// DefaultPortLockDir is where port reservations are recorded so concurrent
// runs on the same host do not hand out the same port.
var DefaultPortLockDir = filepath.Join(os.TempDir(), "chainharness_port_locks")

// PortAllocator reserves listen ports for nodes.  The preferred port of a
// node only depends on the seed, the node ordinal and the kind, so runs with
// distinct seeds use disjoint ports unless something else already holds them.
//
// A reservation is an OS file lock that dies with the process, so a crashed
// run never leaks its ports.
type PortAllocator struct {
	mtx     sync.Mutex
	lockDir string
	seed    int
	held    map[int]*lockfile.Lock
}

// NewPortAllocator returns an allocator recording its reservations in lockDir.
func NewPortAllocator(lockDir string, seed int) *PortAllocator {
	if lockDir == "" {
		lockDir = DefaultPortLockDir
	}
	// Only the seed modulo the range affects the ports.
	seed %= PortRange - 1
	if seed < 0 {
		seed += PortRange - 1
	}
	return &PortAllocator{
		lockDir: lockDir,
		seed:    seed,
		held:    make(map[int]*lockfile.Lock),
	}
}

// preferred returns the first port tried for the node and kind.
func (a *PortAllocator) preferred(index int, kind PortKind) int {
	base := PortMin + int(kind)*PortRange
	return base + (index+MaxNodes*a.seed)%(PortRange-1)
}

// Reserve returns a free port for the node ordinal and kind.  Ports that are
// bound by another process or reserved by another allocator are skipped.
func (a *PortAllocator) Reserve(index int, kind PortKind) (int, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	base := PortMin + int(kind)*PortRange
	start := a.preferred(index, kind)
	for i := 0; i < PortRange; i++ {
		port := base + (start-base+i)%PortRange
		if _, ok := a.held[port]; ok {
			continue
		}

		lockPath := filepath.Join(a.lockDir, fmt.Sprintf("port_%d.lock", port))
		lock, err := lockfile.TryAcquire(lockPath)
		if errors.Is(err, lockfile.ErrLocked) {
			continue
		}
		if err != nil {
			return 0, err
		}

		// Verify the port is actually usable.
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			lock.Release()
			continue
		}
		l.Close()

		a.held[port] = lock
		return port, nil
	}
	return 0, makeError(ErrNoPortAvailable, index, fmt.Sprintf("no "+
		"available ports in range %d-%d", base, base+PortRange-1))
}

// ReserveAddress is Reserve returning a loopback host:port pair.
func (a *PortAllocator) ReserveAddress(index int, kind PortKind) (string, error) {
	port, err := a.Reserve(index, kind)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort("127.0.0.1", fmt.Sprint(port)), nil
}

// Release gives a reserved port back.
func (a *PortAllocator) Release(port int) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	lock, ok := a.held[port]
	if !ok {
		return nil
	}
	delete(a.held, port)
	return lock.Release()
}

// ReleaseAll gives every reserved port back.
func (a *PortAllocator) ReleaseAll() {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	for port, lock := range a.held {
		lock.Release()
		delete(a.held, port)
	}
}
