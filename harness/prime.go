// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/chainharness/chaincache"
	"github.com/btcsuite/chainharness/node"
	"github.com/btcsuite/chainharness/topology"
)

// primeDirName is the run subdirectory the priming nodes work in.
const primeDirName = "prime"

// MiningKey returns the deterministic private key node i mines to.
func MiningKey(i int) *btcec.PrivateKey {
	seed := chainhash.HashB([]byte(fmt.Sprintf("chainharness mining key %d", i)))
	key, _ := btcec.PrivKeyFromBytes(seed)
	return key
}

// MiningAddress returns the pay-to-pubkey-hash address of the mining key of
// node i on the network described by params.
func MiningAddress(params *chaincfg.Params, i int) (*btcutil.AddressPubKeyHash, error) {
	pubKey := MiningKey(i).PubKey().SerializeCompressed()
	return btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey), params)
}

// dataDirs returns the data directories of the nodes.
func (h *Harness) dataDirs() []string {
	nodes := h.Nodes()
	dirs := make([]string, len(nodes))
	for i, p := range nodes {
		dirs[i] = p.DataDir()
	}
	return dirs
}

// prime seeds the data directories of the nodes with the primed chain,
// building it first unless a valid cache entry exists.
func (h *Harness) prime(ctx context.Context) error {
	if h.cache == nil {
		log.Infof("Chain cache disabled, nodes start from genesis")
		return nil
	}

	if h.cfg.CacheMode == CacheAuto {
		err := h.cache.Restore(h.fp, h.dataDirs())
		switch {
		case err == nil:
			h.cacheHit = true
			return nil

		case errors.Is(err, chaincache.ErrCacheMiss),
			errors.Is(err, chaincache.ErrCacheCorrupt):

			log.Infof("Cache entry %s unusable (%v), priming a new chain",
				h.fp.Short(), err)

		default:
			return err
		}
	}

	if err := h.buildCache(ctx); err != nil {
		return err
	}
	return h.cache.Restore(h.fp, h.dataDirs())
}

// buildCache mines the primed chain on a throwaway network of the same size
// and stores the data directories of its nodes in the cache.  Nothing is
// stored unless every node shuts down cleanly.
func (h *Harness) buildCache(ctx context.Context) error {
	n := h.req.NodeCount
	primers := make([]*node.Process, n)
	peers := make([]topology.Peer, n)
	for i := range primers {
		primers[i] = node.New(h.nodeSpec(i, primeDirName), h.cfg.nodeConfig())
		peers[i] = primers[i]
	}
	defer func() {
		for i := n - 1; i >= 0; i-- {
			primers[i].Dispose()
		}
	}()

	log.Infof("Priming %d %s: %d %s of %d %s per node", n,
		pickNoun(n, "node", "nodes"), h.cfg.PrimeRounds,
		pickNoun(h.cfg.PrimeRounds, "round", "rounds"), h.cfg.BlocksPerRound,
		pickNoun(h.cfg.BlocksPerRound, "block", "blocks"))

	err := startAll(ctx, primers, h.cfg.StartupTimeout, func(*node.Process) {})
	if err != nil {
		return err
	}
	chain := topology.Chain(n)
	if err := topology.Apply(ctx, chain, peers); err != nil {
		return err
	}
	if err := topology.WaitConnected(ctx, chain, peers, h.cfg.SyncTimeout); err != nil {
		return err
	}

	if err := h.mine(ctx, primers); err != nil {
		return err
	}

	var stopErr error
	for i := n - 1; i >= 0; i-- {
		if err := primers[i].Stop(true); err != nil && stopErr == nil {
			stopErr = err
		}
	}
	if stopErr != nil {
		return stopErr
	}

	contributors := make([]chaincache.Contributor, n)
	for i, p := range primers {
		contributors[i] = p
	}
	if err := h.cache.Capture(h.fp, contributors); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(h.tmp.Path(), primeDirName))
}

// mine has every node in turn mine BlocksPerRound blocks at deterministic
// mock times, waiting for the network to sync after every turn.
func (h *Harness) mine(ctx context.Context, primers []*node.Process) error {
	mockTime := h.cfg.MockTimeStart
	for round := 0; round < h.cfg.PrimeRounds; round++ {
		for i, p := range primers {
			client, err := p.RPC()
			if err != nil {
				return err
			}
			addr, err := MiningAddress(h.cfg.Chain, i)
			if err != nil {
				return err
			}
			for j := 0; j < h.cfg.BlocksPerRound; j++ {
				if err := client.SetMockTime(ctx, mockTime); err != nil {
					return &NodeError{Node: i, Err: err}
				}
				_, err := client.GenerateToAddress(ctx, 1, addr)
				if err != nil {
					return &NodeError{Node: i, Err: err}
				}
				mockTime += primeBlockSpacing
			}
			err = JoinNodes(ctx, primers, JoinBlocks, h.cfg.SyncTimeout)
			if err != nil {
				return err
			}
		}
		log.Debugf("Priming round %d done", round+1)
	}
	return nil
}
