// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/chainharness/node"
	"github.com/btcsuite/chainharness/rpcclient"
)

// Peer is a node a topology can be applied to.  *node.Process satisfies it.
type Peer interface {
	Index() int
	State() node.State
	P2PAddress() string
	RPC() (*rpcclient.Client, error)
}

// checkPeers verifies that every node referenced by the topology exists and
// is healthy.
func checkPeers(spec Spec, peers []Peer) error {
	if err := spec.Validate(len(peers)); err != nil {
		return err
	}
	for _, i := range spec.Nodes() {
		if state := peers[i].State(); state != node.Healthy {
			return makeError(ErrNodeNotHealthy, i, fmt.Sprintf(
				"cannot connect a node in state %v", state))
		}
	}
	return nil
}

// Apply asks the source of every edge to add its target as a peer.  Every
// referenced node must be healthy before any call is made.  A node reporting
// the peer as already added counts as success, so applying a topology twice
// is harmless.  Apply does not wait for the connections to be established,
// see WaitConnected.
func Apply(ctx context.Context, spec Spec, peers []Peer) error {
	if err := checkPeers(spec, peers); err != nil {
		return err
	}

	for _, e := range spec.Edges() {
		client, err := peers[e.From].RPC()
		if err != nil {
			return Error{Err: ErrNodeNotHealthy, Node: e.From,
				Description: err.Error()}
		}

		addr := peers[e.To].P2PAddress()
		err = client.AddNode(ctx, addr, btcjson.ANAdd)
		var rpcErr *btcjson.RPCError
		switch {
		case err == nil:
			log.Debugf("Connected node%d to node%d (%s)", e.From, e.To, addr)

		case errors.As(err, &rpcErr) &&
			rpcErr.Code == btcjson.ErrRPCClientNodeAlreadyAdded:
			log.Debugf("node%d already has node%d as peer", e.From, e.To)

		default:
			return Error{
				Err:  ErrAddPeer,
				Node: e.From,
				Description: fmt.Sprintf("addnode %s (node%d) failed: %v",
					addr, e.To, err),
			}
		}
	}

	log.Infof("Applied topology %v", spec)
	return nil
}

// connected reports whether the source of the edge lists its target among
// its peers.
func connected(ctx context.Context, e Edge, peers []Peer) (bool, error) {
	client, err := peers[e.From].RPC()
	if err != nil {
		return false, Error{Err: ErrNodeNotHealthy, Node: e.From,
			Description: err.Error()}
	}
	info, err := client.GetPeerInfo(ctx)
	if err != nil {
		return false, err
	}
	target := peers[e.To].P2PAddress()
	for _, p := range info {
		if p.Addr == target {
			return true, nil
		}
	}
	return false, nil
}

// WaitConnected polls the peer lists of the edge sources until every edge of
// the topology is established, or fails with ErrNotConnected after timeout.
func WaitConnected(ctx context.Context, spec Spec, peers []Peer,
	timeout time.Duration) error {

	if err := checkPeers(spec, peers); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pending := spec.Edges()
	for {
		remaining := pending[:0]
		for _, e := range pending {
			ok, err := connected(ctx, e, peers)
			if err != nil && ctx.Err() == nil {
				return err
			}
			if !ok {
				remaining = append(remaining, e)
			}
		}
		pending = remaining
		if len(pending) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return makeError(ErrNotConnected, pending[0].From, fmt.Sprintf(
				"%d %s still missing after %v, first %v", len(pending),
				pickNoun(len(pending), "connection", "connections"),
				timeout, pending[0]))
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// pickNoun returns the singular or plural form of a noun depending on the
// count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
