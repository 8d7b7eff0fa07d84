// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/chainharness/node"
	"github.com/btcsuite/chainharness/rpcclient"
	"github.com/btcsuite/chainharness/topology"
)

// CacheMode selects how a run uses the chain cache.
type CacheMode string

// These constants define the cache modes.
const (
	// CacheAuto restores the cached chain and primes a new one on a miss.
	CacheAuto CacheMode = "auto"

	// CacheBuild always primes the chain and stores it.
	CacheBuild CacheMode = "build"

	// CacheOff starts every node on an empty chain.
	CacheOff CacheMode = "off"
)

const (
	// defaultMockTimeStart is the timestamp of the first primed block,
	// 2014-01-01 00:00:00 UTC.
	defaultMockTimeStart = 1388534400

	// primeBlockSpacing is the mock time between two primed blocks.
	primeBlockSpacing = 10 * 60
)

// defaultCacheDir is where primed chains are kept between runs.
var defaultCacheDir = filepath.Join(btcutil.AppDataDir("chainharness", false),
	"cache")

// Config is the configuration of a harness run.  Scenarios adjust the network
// through SetupNetwork; everything else is fixed for the run.
type Config struct {
	// NodeCount is the number of nodes of the network.
	NodeCount int

	// Topology is the set of peer connections made once every node is
	// healthy.
	Topology topology.Spec

	// CacheMode selects whether the primed chain is restored, rebuilt or
	// not used at all.
	CacheMode CacheMode

	// NoShutdown leaves the nodes running after a successful run for
	// manual inspection.  Failed or interrupted runs are always torn down.
	NoShutdown bool

	// NoCleanup keeps the run directory after a successful run.
	NoCleanup bool

	// NodeExecutable is the path of the node binary.
	NodeExecutable string

	// Chain is the network the nodes run on.
	Chain *chaincfg.Params

	// TmpDir is the parent of the run directory.
	TmpDir string

	// CacheDir is the root of the chain cache.
	CacheDir string

	// PrimeRounds is the number of times every node takes its turn mining
	// while the cached chain is built, and BlocksPerRound the number of
	// blocks mined per turn.
	PrimeRounds    int
	BlocksPerRound int

	// MockTimeStart is the timestamp of the first primed block.  Later
	// blocks are ten minutes apart.
	MockTimeStart int64

	// ExtraArgs are passed to every node on its command line.
	ExtraArgs map[string]interface{}

	// CacheKeyArgs names the ExtraArgs that change the primed chain.  They
	// enter the cache fingerprint; other ExtraArgs do not.
	CacheKeyArgs []string

	// StartupTimeout bounds the wait for a node to answer RPC calls.
	StartupTimeout time.Duration

	// StopTimeout bounds the wait for a node to exit before it is killed.
	StopTimeout time.Duration

	// RPCTimeout bounds every RPC call.
	RPCTimeout time.Duration

	// SyncTimeout bounds the block and mempool joins of the priming.
	SyncTimeout time.Duration

	// RPCEndpoint selects the RPC transport, "" for HTTP POST or "ws".
	RPCEndpoint string

	// TraceRPC logs every RPC request and reply.
	TraceRPC bool

	// CoverageDir, when set, receives the RPC methods called on every node.
	CoverageDir string

	// Proxy routes the RPC sessions through a SOCKS5 proxy when set.
	Proxy     string
	ProxyUser string
	ProxyPass string

	// PortSeed separates the ports of concurrent runs.
	PortSeed int

	// PortLockDir records port reservations shared by concurrent runs.
	PortLockDir string

	// OnStateChange, when set, is called from the run goroutine on every
	// state transition.
	OnStateChange func(State)
}

// DefaultConfig returns a configuration for four regression test nodes
// connected in a chain and primed with a 200 block chain.
func DefaultConfig() Config {
	return Config{
		NodeCount:      4,
		Topology:       topology.Chain(4),
		CacheMode:      CacheAuto,
		Chain:          &chaincfg.RegressionNetParams,
		TmpDir:         os.TempDir(),
		CacheDir:       defaultCacheDir,
		PrimeRounds:    2,
		BlocksPerRound: 25,
		MockTimeStart:  defaultMockTimeStart,
		StartupTimeout: 60 * time.Second,
		StopTimeout:    20 * time.Second,
		RPCTimeout:     30 * time.Second,
		SyncTimeout:    60 * time.Second,
		PortSeed:       os.Getpid(),
		PortLockDir:    node.DefaultPortLockDir,
	}
}

// withDefaults fills the zero fields of cfg from DefaultConfig.  The network
// shape fields are left alone.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.CacheMode == "" {
		cfg.CacheMode = def.CacheMode
	}
	if cfg.Chain == nil {
		cfg.Chain = def.Chain
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = def.TmpDir
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = def.CacheDir
	}
	if cfg.MockTimeStart == 0 {
		cfg.MockTimeStart = def.MockTimeStart
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = def.StartupTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = def.RPCTimeout
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = def.SyncTimeout
	}
	if cfg.PortLockDir == "" {
		cfg.PortLockDir = def.PortLockDir
	}
	return cfg
}

// validate checks the settings that do not depend on the scenario.
func (cfg *Config) validate() error {
	switch cfg.CacheMode {
	case CacheAuto, CacheBuild, CacheOff:
	default:
		return makeError(ErrInvalidConfig, fmt.Sprintf("unknown cache "+
			"mode %q", cfg.CacheMode))
	}
	if cfg.NodeExecutable == "" {
		return makeError(ErrInvalidConfig, "no node executable")
	}
	if cfg.PrimeRounds < 0 || cfg.BlocksPerRound < 0 {
		return makeError(ErrInvalidConfig, "negative priming shape")
	}
	if cfg.RPCEndpoint != "" && cfg.RPCEndpoint != rpcclient.EndpointWebsocket {
		return makeError(ErrInvalidConfig, fmt.Sprintf("unknown RPC "+
			"endpoint %q", cfg.RPCEndpoint))
	}
	for _, name := range cfg.CacheKeyArgs {
		if _, ok := cfg.ExtraArgs[name]; !ok {
			return makeError(ErrInvalidConfig, fmt.Sprintf("cache key "+
				"argument %q is not among the node arguments", name))
		}
	}
	return nil
}

// cacheKeyArgs returns the declared cache key arguments with their values.
func (cfg *Config) cacheKeyArgs() map[string]string {
	if len(cfg.CacheKeyArgs) == 0 {
		return nil
	}
	keys := append([]string(nil), cfg.CacheKeyArgs...)
	sort.Strings(keys)
	args := make(map[string]string, len(keys))
	for _, key := range keys {
		args[key] = fmt.Sprint(cfg.ExtraArgs[key])
	}
	return args
}

// nodeConfig returns the process settings derived from cfg.
func (cfg *Config) nodeConfig() node.Config {
	ncfg := node.DefaultConfig()
	ncfg.StopTimeout = cfg.StopTimeout
	ncfg.RPCTimeout = cfg.RPCTimeout
	ncfg.TraceRPC = cfg.TraceRPC
	ncfg.CoverageDir = cfg.CoverageDir
	ncfg.Proxy = cfg.Proxy
	ncfg.ProxyUser = cfg.ProxyUser
	ncfg.ProxyPass = cfg.ProxyPass
	return ncfg
}
