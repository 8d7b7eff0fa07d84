// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package simnode implements a stand-in full node for exercising the harness
// without a real one.  It keeps a chain of unvalidated blocks in an embedded
// store, mines on request, relays blocks and transactions to its peers over
// the bitcoin wire protocol, and answers the JSON-RPC calls the harness
// relies on.
package simnode

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/chainharness/simnode/store"
)

var (
	// ErrInjectedCrash is returned by Run when the node was configured to
	// crash after a delay.
	ErrInjectedCrash = errors.New("injected crash")

	// ErrInjectedStopFailure is returned by Run after a requested stop when
	// the node was configured to fail on shutdown.
	ErrInjectedStopFailure = errors.New("injected shutdown failure")
)

// chainDirName is the store directory below the network directory.
const chainDirName = "chain"

// Config holds the settings of a node.
type Config struct {
	// DataDir is the root of the node state.  The chain lives below a
	// directory named after the network.
	DataDir string

	// ChainParams selects the network.
	ChainParams *chaincfg.Params

	// Listen and RPCListen are the P2P and RPC listen addresses.
	Listen    string
	RPCListen string

	// RPCUser and RPCPass are the credentials RPC clients must present.
	RPCUser string
	RPCPass string

	// Engine is the store engine of the chain.
	Engine store.Kind

	// StartupDelay postpones opening the listeners.
	StartupDelay time.Duration

	// Warmup is how long RPC calls are answered with a warming up error
	// after the listeners open.
	Warmup time.Duration

	// CrashAfter makes Run fail with ErrInjectedCrash once it elapses.
	CrashAfter time.Duration

	// FailStop makes Run fail with ErrInjectedStopFailure after a stop.
	FailStop bool
}

// NetDir returns the network directory of the node.
func (c *Config) NetDir() string {
	return filepath.Join(c.DataDir, c.ChainParams.Name)
}

// Node is a running stand-in node.
type Node struct {
	cfg   *Config
	db    store.Engine
	chain *Chain
	p2p   *p2pServer
	rpc   *rpcServer

	started     time.Time
	warmupUntil time.Time

	// mockTime is the block timestamp override in unix seconds, or 0.
	mockTime atomic.Int64

	stopOnce sync.Once
	stopReq  chan struct{}
}

// New opens the chain of the node.
func New(cfg *Config) (*Node, error) {
	if cfg.ChainParams == nil {
		return nil, errors.New("no chain parameters")
	}
	if cfg.Engine == "" {
		cfg.Engine = store.LevelDB
	}
	if err := os.MkdirAll(cfg.NetDir(), 0700); err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Engine, filepath.Join(cfg.NetDir(), chainDirName))
	if err != nil {
		return nil, fmt.Errorf("unable to open chain store: %w", err)
	}
	chain, err := NewChain(cfg.ChainParams, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		db.Close()
		return nil, err
	}

	n := &Node{
		cfg:     cfg,
		db:      db,
		chain:   chain,
		stopReq: make(chan struct{}),
	}
	n.p2p = newP2PServer(cfg.ChainParams, chain,
		binary.LittleEndian.Uint64(nonce[:]))
	n.rpc = newRPCServer(n, cfg.RPCUser, cfg.RPCPass)
	return n, nil
}

// Chain returns the chain of the node.
func (n *Node) Chain() *Chain {
	return n.chain
}

// Start opens the P2P and RPC listeners after the configured startup delay.
func (n *Node) Start(ctx context.Context) error {
	if n.cfg.StartupDelay > 0 {
		log.Infof("Delaying startup by %v", n.cfg.StartupDelay)
		select {
		case <-time.After(n.cfg.StartupDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	n.started = time.Now()
	n.warmupUntil = n.started.Add(n.cfg.Warmup)
	if err := n.p2p.start(n.cfg.Listen); err != nil {
		return err
	}
	if err := n.rpc.start(n.cfg.RPCListen); err != nil {
		n.p2p.stop()
		return err
	}
	return nil
}

// inWarmup reports whether RPC calls should still be refused.
func (n *Node) inWarmup() bool {
	return time.Now().Before(n.warmupUntil)
}

// now returns the time stamped on new blocks.
func (n *Node) now() int64 {
	if t := n.mockTime.Load(); t != 0 {
		return t
	}
	return time.Now().Unix()
}

// RequestStop asks Run to return.
func (n *Node) RequestStop() {
	n.stopOnce.Do(func() {
		close(n.stopReq)
	})
}

// Run serves until ctx is done or a stop is requested, then shuts the node
// down.
func (n *Node) Run(ctx context.Context) error {
	var crash <-chan time.Time
	if n.cfg.CrashAfter > 0 {
		crash = time.After(n.cfg.CrashAfter)
	}

	var result error
	select {
	case <-ctx.Done():
		log.Infof("Interrupted, shutting down")
	case <-n.stopReq:
		log.Infof("Stop requested, shutting down")
		if n.cfg.FailStop {
			result = ErrInjectedStopFailure
		}
	case <-crash:
		log.Errorf("Crashing as configured after %v", n.cfg.CrashAfter)
		return ErrInjectedCrash
	}

	n.shutdown()
	return result
}

// shutdown stops the listeners and closes the store.
func (n *Node) shutdown() {
	if err := n.rpc.stop(); err != nil {
		log.Errorf("Unable to stop RPC server: %v", err)
	}
	n.p2p.stop()
	if err := n.db.Close(); err != nil {
		log.Errorf("Unable to close chain store: %v", err)
	}
	log.Infof("Shutdown complete")
}

// P2PAddr returns the address the P2P server listens on, or "" before Start.
func (n *Node) P2PAddr() string {
	if n.p2p.listener == nil {
		return ""
	}
	return n.p2p.listener.Addr().String()
}

// RPCAddr returns the address the RPC server listens on, or "" before Start.
func (n *Node) RPCAddr() string {
	if n.rpc.listener == nil {
		return ""
	}
	return n.rpc.listener.Addr().String()
}
