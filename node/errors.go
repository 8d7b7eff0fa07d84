// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import "fmt"

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrStartup indicates the node process could not be launched or exited
	// during its startup grace period.
	ErrStartup = ErrorKind("ErrStartup")

	// ErrHealthCheckTimeout indicates the node did not answer the liveness
	// call within the allotted time.
	ErrHealthCheckTimeout = ErrorKind("ErrHealthCheckTimeout")

	// ErrProcessCrashed indicates the node process exited without being
	// asked to, or exited with a failure status while being stopped.
	ErrProcessCrashed = ErrorKind("ErrProcessCrashed")

	// ErrNotHealthy indicates an RPC session was requested from a node that
	// is not in the healthy state.
	ErrNotHealthy = ErrorKind("ErrNotHealthy")

	// ErrInvalidState indicates an operation was attempted in a lifecycle
	// state that does not permit it, such as starting a node twice.
	ErrInvalidState = ErrorKind("ErrInvalidState")

	// ErrNoPortAvailable indicates the port allocator exhausted its range.
	ErrNoPortAvailable = ErrorKind("ErrNoPortAvailable")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to a node process.  Node is the ordinal
// of the node, or -1 when the error is not tied to one.
type Error struct {
	Err         error
	Node        int
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Node < 0 {
		return e.Description
	}
	return fmt.Sprintf("node%d: %s", e.Node, e.Description)
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, node int, desc string) Error {
	return Error{Err: kind, Node: node, Description: desc}
}
