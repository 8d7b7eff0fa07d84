// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package harness

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/btcsuite/chainharness/node"
	"github.com/btcsuite/chainharness/topology"
)

// NetworkRequest is the network a scenario asks for.  It starts out with the
// values of the harness Config.
type NetworkRequest struct {
	// NodeCount is the number of nodes.
	NodeCount int

	// Topology is applied once every node is healthy.  It must be empty
	// when StartNodes is false.
	Topology topology.Spec

	// StartNodes starts every node before RunTest.  When false the nodes
	// are only created and the scenario starts them with StartNode.
	StartNodes bool

	// NoShutdown leaves the nodes running after a successful run.
	NoShutdown bool

	// NodeArgs holds additional command line arguments per node ordinal.
	// They override the ExtraArgs of the Config.
	NodeArgs map[int]map[string]interface{}
}

// validate checks the request can be run.
func (r *NetworkRequest) validate() error {
	if r.NodeCount < 1 || r.NodeCount > node.MaxNodes {
		return makeError(ErrInvalidConfig, fmt.Sprintf("node count %d "+
			"not in 1-%d", r.NodeCount, node.MaxNodes))
	}
	if err := r.Topology.Validate(r.NodeCount); err != nil {
		return err
	}
	if !r.StartNodes && r.Topology.Len() > 0 {
		return makeError(ErrInvalidConfig, "a topology requires the "+
			"nodes to be started")
	}
	for i := range r.NodeArgs {
		if i < 0 || i >= r.NodeCount {
			return makeError(ErrInvalidConfig, fmt.Sprintf("arguments "+
				"for node%d outside the network", i))
		}
	}
	return nil
}

// Scenario is a test run on top of the harness.  The harness only depends on
// this interface.
type Scenario interface {
	// SetupNetwork adjusts the network before anything is started.
	SetupNetwork(req *NetworkRequest)

	// RunTest runs the test logic against the started network.  The
	// context is cancelled when the run is interrupted.
	RunTest(ctx context.Context, h *Harness) error
}

// safeSetup calls SetupNetwork, turning a panic into an error.
func safeSetup(s Scenario, req *NetworkRequest) (err error) {
	defer recoverScenario(&err)
	s.SetupNetwork(req)
	return nil
}

// safeRun calls RunTest, turning a panic into an error.
func safeRun(ctx context.Context, s Scenario, h *Harness) (err error) {
	defer recoverScenario(&err)
	return s.RunTest(ctx, h)
}

// recoverScenario stores a recovered scenario panic into err.
func recoverScenario(err *error) {
	if r := recover(); r != nil {
		log.Errorf("Scenario panicked: %v\n%s", r, debug.Stack())
		*err = makeError(ErrScenarioPanic, fmt.Sprintf("scenario "+
			"panicked: %v", r))
	}
}
