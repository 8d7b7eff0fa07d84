// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import "fmt"

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrInvalidSpec indicates a topology references a node ordinal outside
	// the network or connects a node to itself.
	ErrInvalidSpec = ErrorKind("ErrInvalidSpec")

	// ErrNodeNotHealthy indicates an edge endpoint was not healthy when the
	// topology was applied.
	ErrNodeNotHealthy = ErrorKind("ErrNodeNotHealthy")

	// ErrAddPeer indicates a node refused to add a peer.
	ErrAddPeer = ErrorKind("ErrAddPeer")

	// ErrNotConnected indicates the requested connections did not show up
	// in time.
	ErrNotConnected = ErrorKind("ErrNotConnected")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to building a topology.  Node is the
// ordinal of the offending node, or -1 when the error is not tied to one.
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
