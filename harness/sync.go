// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/chainharness/rpcclient"
)

// JoinMode selects what JoinNodes waits for.
type JoinMode int

// These constants define the join modes.  They may be combined.
const (
	// JoinBlocks waits until every node has the same best block.
	JoinBlocks JoinMode = 1 << iota

	// JoinMempools waits until every node has the same mempool.
	JoinMempools
)

// joinPollInterval is the delay between two rounds of JoinNodes queries.
const joinPollInterval = 50 * time.Millisecond

// RPCNode is a node reachable over RPC.  *node.Process satisfies it.
type RPCNode interface {
	Index() int
	RPC() (*rpcclient.Client, error)
}

// JoinNodes waits until the nodes agree on what mode asks for.  It fails with
// ErrSyncTimeout once timeout elapses, and at once when a node cannot be
// queried.
func JoinNodes[N RPCNode](ctx context.Context, nodes []N, mode JoinMode,
	timeout time.Duration) error {

	if len(nodes) < 2 {
		return nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var blocksDesc, mempoolDesc string
	for {
		synced := true
		if mode&JoinBlocks != 0 {
			ok, desc, err := blocksJoined(pollCtx, nodes)
			if err != nil && pollCtx.Err() == nil {
				return err
			}
			synced = synced && ok
			blocksDesc = desc
		}
		if mode&JoinMempools != 0 {
			ok, desc, err := mempoolsJoined(pollCtx, nodes)
			if err != nil && pollCtx.Err() == nil {
				return err
			}
			synced = synced && ok
			mempoolDesc = desc
		}
		if synced {
			return nil
		}

		select {
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			desc := strings.TrimSpace(blocksDesc + " " + mempoolDesc)
			return makeError(ErrSyncTimeout, fmt.Sprintf("nodes did not "+
				"sync within %v: %s", timeout, desc))
		case <-time.After(joinPollInterval):
		}
	}
}

// blocksJoined reports whether every node has the same best block.
func blocksJoined[N RPCNode](ctx context.Context, nodes []N) (bool, string, error) {
	tips := make([]string, len(nodes))
	for i, n := range nodes {
		client, err := n.RPC()
		if err != nil {
			return false, "", err
		}
		hash, err := client.GetBestBlockHash(ctx)
		if err != nil {
			return false, "", &NodeError{Node: n.Index(), Err: err}
		}
		tips[i] = hash.String()
	}

	joined := true
	for _, tip := range tips[1:] {
		joined = joined && tip == tips[0]
	}
	return joined, "best blocks " + strings.Join(tips, ", "), nil
}

// mempoolsJoined reports whether every node has the same mempool.
func mempoolsJoined[N RPCNode](ctx context.Context, nodes []N) (bool, string, error) {
	pools := make([]string, len(nodes))
	for i, n := range nodes {
		client, err := n.RPC()
		if err != nil {
			return false, "", err
		}
		hashes, err := client.GetRawMempool(ctx)
		if err != nil {
			return false, "", &NodeError{Node: n.Index(), Err: err}
		}
		txids := make([]string, len(hashes))
		for j, hash := range hashes {
			txids[j] = hash.String()
		}
		sort.Strings(txids)
		pools[i] = "[" + strings.Join(txids, " ") + "]"
	}

	joined := true
	for _, pool := range pools[1:] {
		joined = joined && pool == pools[0]
	}
	return joined, "mempools " + strings.Join(pools, ", "), nil
}
