// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package harness

import "fmt"

// State is a step of a harness run.  A run goes through the states in order
// and always ends in Done, skipping to TearingDown on failure or interrupt.
type State int

// These constants define the states of a run.
const (
	Configuring State = iota
	Priming
	NodesStarting
	TopologyBuilding
	ScenarioRunning
	TearingDown
	Done
)

// stateStrings is a map of states back to their constant names for pretty
// printing.
var stateStrings = map[State]string{
	Configuring:      "Configuring",
	Priming:          "Priming",
	NodesStarting:    "NodesStarting",
	TopologyBuilding: "TopologyBuilding",
	ScenarioRunning:  "ScenarioRunning",
	TearingDown:      "TearingDown",
	Done:             "Done",
}

// String returns the State as a human-readable name.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown State (%d)", int(s))
}
