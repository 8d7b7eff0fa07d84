// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scenarios

import (
	"context"

	"github.com/btcsuite/chainharness/harness"
	"github.com/btcsuite/chainharness/topology"
)

// CreateCache starts the configured number of unconnected nodes and runs no
// test logic.  The priming that precedes every run leaves the chain in the
// cache.
type CreateCache struct{}

// SetupNetwork leaves the nodes unconnected.
func (*CreateCache) SetupNetwork(req *harness.NetworkRequest) {
	req.Topology = topology.None()
}

// RunTest does nothing.
func (*CreateCache) RunTest(context.Context, *harness.Harness) error {
	return nil
}
