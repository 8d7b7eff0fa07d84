// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import "fmt"

// State is the lifecycle state of a node process.
type State uint8

// These constants define the lifecycle states.  A process moves
// NotStarted -> Starting -> Healthy -> Stopping -> Stopped, and to Crashed
// from Starting, Healthy or Stopping whenever it exits unexpectedly.
const (
	NotStarted State = iota
	Starting
	Healthy
	Stopping
	Stopped
	Crashed
)

// Map of State values back to their constant names for pretty printing.
var stateStrings = map[State]string{
	NotStarted: "NotStarted",
	Starting:   "Starting",
	Healthy:    "Healthy",
	Stopping:   "Stopping",
	Stopped:    "Stopped",
	Crashed:    "Crashed",
}

// String returns the State as a human-readable name.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown State (%d)", uint8(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Stopped || s == Crashed
}
