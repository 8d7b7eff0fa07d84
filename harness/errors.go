// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package harness

import (
	"errors"
	"fmt"

	"github.com/btcsuite/chainharness/node"
	"github.com/btcsuite/chainharness/topology"
)

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrInvalidConfig indicates the harness configuration, or the network
	// requested by a scenario, cannot be run.
	ErrInvalidConfig = ErrorKind("ErrInvalidConfig")

	// ErrAlreadyRun indicates Run was called more than once on a harness.
	ErrAlreadyRun = ErrorKind("ErrAlreadyRun")

	// ErrScenarioPanic indicates the scenario panicked.
	ErrScenarioPanic = ErrorKind("ErrScenarioPanic")

	// ErrSyncTimeout indicates the nodes did not converge on the same
	// chain tip or mempool in time.
	ErrSyncTimeout = ErrorKind("ErrSyncTimeout")

	// ErrNoSuchNode indicates a node ordinal outside the network.
	ErrNoSuchNode = ErrorKind("ErrNoSuchNode")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to the harness itself.
type Error struct {
	Err         error
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}

// RunError is the result of a failed run.  It names the state the run was in
// when it failed and, when the failure is tied to one node, its ordinal.
type RunError struct {
	Phase State
	Node  int
	Err   error
}

// Error satisfies the error interface and prints human-readable errors.  The
// wrapped errors already name the node.
func (e *RunError) Error() string {
	return fmt.Sprintf("%v: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying wrapped error.
func (e *RunError) Unwrap() error {
	return e.Err
}

// NodeError ties an error to the node it happened on.
type NodeError struct {
	Node int
	Err  error
}

// Error satisfies the error interface and prints human-readable errors.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node%d: %v", e.Node, e.Err)
}

// Unwrap returns the underlying wrapped error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// failedNode returns the ordinal of the node err is about, or -1.
func failedNode(err error) int {
	var nodeErr node.Error
	if errors.As(err, &nodeErr) {
		return nodeErr.Node
	}
	var topoErr topology.Error
	if errors.As(err, &topoErr) {
		return topoErr.Node
	}
	var nErr *NodeError
	if errors.As(err, &nErr) {
		return nErr.Node
	}
	return -1
}

// phaseError wraps err into a RunError for phase.  A RunError is returned
// unchanged.
func phaseError(phase State, err error) error {
	if err == nil {
		return nil
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return err
	}
	return &RunError{Phase: phase, Node: failedNode(err), Err: err}
}
