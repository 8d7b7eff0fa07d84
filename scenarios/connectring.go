// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/chainharness/harness"
	"github.com/btcsuite/chainharness/topology"
)

// ConnectRing connects the nodes in a ring and checks every node ends up with
// an outbound connection to its successor.  Reapplying the ring must not add
// connections.
type ConnectRing struct {
	// Timeout bounds the wait for the connections.
	Timeout time.Duration
}

// SetupNetwork asks for a ring of at least three nodes.
func (s *ConnectRing) SetupNetwork(req *harness.NetworkRequest) {
	if req.NodeCount < 3 {
		req.NodeCount = 3
	}
	req.Topology = topology.Ring(req.NodeCount)
}

// ringConnections is the number of connections of every node of a ring: one
// outbound to its successor and one inbound from its predecessor.
const ringConnections = 2

// waitConnectionCount polls every peer until it reports want connections.
func waitConnectionCount(ctx context.Context, peers []topology.Peer,
	want int64, timeout time.Duration) error {

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; i < len(peers); {
		client, err := peers[i].RPC()
		if err != nil {
			return err
		}
		count, err := client.GetConnectionCount(ctx)
		if err != nil && ctx.Err() == nil {
			return err
		}
		if err == nil && count == want {
			i++
			continue
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("node%d has %d connections after %v, "+
				"want %d", i, count, timeout, want)
		case <-ticker.C:
		}
	}
	return nil
}

// RunTest waits for the ring and verifies it.
func (s *ConnectRing) RunTest(ctx context.Context, h *harness.Harness) error {
	ring := topology.Ring(h.NodeCount())
	peers := h.Peers()
	if err := topology.WaitConnected(ctx, ring, peers, s.Timeout); err != nil {
		return err
	}
	err := waitConnectionCount(ctx, peers, ringConnections, s.Timeout)
	if err != nil {
		return err
	}

	for i, p := range peers {
		client, err := p.RPC()
		if err != nil {
			return err
		}
		infos, err := client.GetPeerInfo(ctx)
		if err != nil {
			return err
		}
		next := peers[(i+1)%len(peers)].P2PAddress()
		var outbound int
		for _, info := range infos {
			if info.Inbound {
				continue
			}
			outbound++
			if info.Addr != next {
				return fmt.Errorf("node%d connected to %s, want %s", i,
					info.Addr, next)
			}
		}
		if outbound != 1 {
			return fmt.Errorf("node%d has %d outbound peers, want 1", i,
				outbound)
		}
	}

	if err := topology.Apply(ctx, ring, peers); err != nil {
		return err
	}
	for i, p := range peers {
		client, err := p.RPC()
		if err != nil {
			return err
		}
		count, err := client.GetConnectionCount(ctx)
		if err != nil {
			return err
		}
		if count != ringConnections {
			return fmt.Errorf("node%d has %d connections after reapplying "+
				"the ring, want %d", i, count, ringConnections)
		}
	}
	return nil
}
