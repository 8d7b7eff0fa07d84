// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package harness

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/chainharness/chaincache"
	"github.com/btcsuite/chainharness/integration"
	"github.com/btcsuite/chainharness/node"
	"github.com/btcsuite/chainharness/rpcclient"
	"github.com/btcsuite/chainharness/topology"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// rpcUser is the RPC user name of every node.
const rpcUser = "chainharness"

// Harness runs one scenario on a network of node processes.  Every process it
// starts is stopped before Run returns, whatever the outcome, unless the run
// succeeded with NoShutdown set.
type Harness struct {
	cfg     Config
	runID   string
	rpcPass string
	tmp     *integration.TempDirHandler
	ports   *node.PortAllocator
	cache   *chaincache.Manager

	req      NetworkRequest
	p2pAddrs []string
	rpcAddrs []string
	fp       chaincache.Fingerprint
	cacheHit bool
	ran      atomic.Bool

	mtx     sync.Mutex
	state   State
	nodes   []*node.Process
	started []*node.Process
}

// New checks cfg and creates the run directory.  Run must be called to
// release it.
func New(cfg Config) (*Harness, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	exe, err := exec.LookPath(cfg.NodeExecutable)
	if err != nil {
		return nil, makeError(ErrInvalidConfig, fmt.Sprintf("node "+
			"executable: %v", err))
	}
	if cfg.NodeExecutable, err = filepath.Abs(exe); err != nil {
		return nil, err
	}

	var cache *chaincache.Manager
	if cfg.CacheMode != CacheOff {
		cache, err = chaincache.NewManager(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
	}

	runID := uuid.New()
	tmp := integration.NewTempDir(cfg.TmpDir, "chainharness_"+
		runID.String()[:8])
	if err := tmp.MakeDir(); err != nil {
		return nil, err
	}

	h := &Harness{
		cfg:     cfg,
		runID:   runID.String(),
		rpcPass: fmt.Sprintf("%x", runID[:]),
		tmp:     tmp,
		ports:   node.NewPortAllocator(cfg.PortLockDir, cfg.PortSeed),
		cache:   cache,
		state:   Configuring,
	}
	log.Infof("Run %s in %s", h.runID, tmp.Path())
	return h, nil
}

// Config returns the configuration of the run.
func (h *Harness) Config() Config {
	return h.cfg
}

// RunID returns the unique identifier of the run.
func (h *Harness) RunID() string {
	return h.runID
}

// TmpDir returns the run directory holding the node working directories.
func (h *Harness) TmpDir() string {
	return h.tmp.Path()
}

// State returns the current state of the run.
func (h *Harness) State() State {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.state
}

// Fingerprint returns the cache key of the network, or "" when the cache is
// off.
func (h *Harness) Fingerprint() chaincache.Fingerprint {
	return h.fp
}

// CacheHit reports whether the nodes were seeded from an existing cache
// entry.
func (h *Harness) CacheHit() bool {
	return h.cacheHit
}

// NodeCount returns the number of nodes of the network.
func (h *Harness) NodeCount() int {
	return h.req.NodeCount
}

// Nodes returns the node processes ordered by ordinal.
func (h *Harness) Nodes() []*node.Process {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return append([]*node.Process(nil), h.nodes...)
}

// Node returns the process of node i.
func (h *Harness) Node(i int) (*node.Process, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if i < 0 || i >= len(h.nodes) {
		return nil, makeError(ErrNoSuchNode, fmt.Sprintf("no node%d in a "+
			"network of %d", i, len(h.nodes)))
	}
	return h.nodes[i], nil
}

// Client returns the RPC session of node i, which must be healthy.
func (h *Harness) Client(i int) (*rpcclient.Client, error) {
	p, err := h.Node(i)
	if err != nil {
		return nil, err
	}
	return p.RPC()
}

// Peers returns the nodes as topology peers.
func (h *Harness) Peers() []topology.Peer {
	nodes := h.Nodes()
	peers := make([]topology.Peer, len(nodes))
	for i, p := range nodes {
		peers[i] = p
	}
	return peers
}

// StartNode starts node i and waits until it is healthy.  It is meant for
// scenarios that do not start the network up front.
func (h *Harness) StartNode(ctx context.Context, i int) error {
	p, err := h.Node(i)
	if err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}
	h.markStarted(p)
	return p.AwaitHealthy(ctx, h.cfg.StartupTimeout)
}

// StopNode stops node i.
func (h *Harness) StopNode(i int, graceful bool) error {
	p, err := h.Node(i)
	if err != nil {
		return err
	}
	return p.Stop(graceful)
}

// markStarted records p for teardown.
func (h *Harness) markStarted(p *node.Process) {
	h.mtx.Lock()
	h.started = append(h.started, p)
	h.mtx.Unlock()
}

// enter moves the run to state and reports whether it was interrupted.
func (h *Harness) enter(ctx context.Context, state State) error {
	h.mtx.Lock()
	h.state = state
	h.mtx.Unlock()

	log.Debugf("Entering state %v", state)
	if h.cfg.OnStateChange != nil {
		h.cfg.OnStateChange(state)
	}
	return ctx.Err()
}

// Run drives the run through every state.  The nodes are torn down on every
// path, including a failure, a scenario panic and the cancellation of ctx.
// A failure is returned as a *RunError naming the state it happened in.
func (h *Harness) Run(ctx context.Context, s Scenario) (err error) {
	if !h.ran.CompareAndSwap(false, true) {
		return makeError(ErrAlreadyRun, "a harness runs a single scenario")
	}
	defer h.teardown(&err)

	if err := h.enter(ctx, Configuring); err != nil {
		return phaseError(Configuring, err)
	}
	if err := h.configure(s); err != nil {
		return phaseError(Configuring, err)
	}

	if err := h.enter(ctx, Priming); err != nil {
		return phaseError(Priming, err)
	}
	if err := h.prime(ctx); err != nil {
		return phaseError(Priming, err)
	}

	if err := h.enter(ctx, NodesStarting); err != nil {
		return phaseError(NodesStarting, err)
	}
	if h.req.StartNodes {
		err := startAll(ctx, h.Nodes(), h.cfg.StartupTimeout, h.markStarted)
		if err != nil {
			return phaseError(NodesStarting, err)
		}
	}

	if err := h.enter(ctx, TopologyBuilding); err != nil {
		return phaseError(TopologyBuilding, err)
	}
	if h.req.Topology.Len() > 0 {
		if err := topology.Apply(ctx, h.req.Topology, h.Peers()); err != nil {
			return phaseError(TopologyBuilding, err)
		}
	}

	if err := h.enter(ctx, ScenarioRunning); err != nil {
		return phaseError(ScenarioRunning, err)
	}
	if err := safeRun(ctx, s, h); err != nil {
		return phaseError(ScenarioRunning, err)
	}
	if err := ctx.Err(); err != nil {
		return phaseError(ScenarioRunning, err)
	}
	if err := h.checkCrashed(); err != nil {
		return phaseError(ScenarioRunning, err)
	}
	return nil
}

// checkCrashed returns an error naming the first started node that exited
// on its own.
func (h *Harness) checkCrashed() error {
	h.mtx.Lock()
	started := append([]*node.Process(nil), h.started...)
	h.mtx.Unlock()

	for _, p := range started {
		if p.State() == node.Crashed {
			return &NodeError{
				Node: p.Index(),
				Err: fmt.Errorf("%w: exited with code %d",
					node.ErrProcessCrashed, p.ExitCode()),
			}
		}
	}
	return nil
}

// configure settles the network with the scenario and creates the node
// processes.
func (h *Harness) configure(s Scenario) error {
	req := NetworkRequest{
		NodeCount:  h.cfg.NodeCount,
		Topology:   h.cfg.Topology,
		StartNodes: true,
		NoShutdown: h.cfg.NoShutdown,
	}
	if err := safeSetup(s, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	h.req = req

	if h.cache != nil {
		fp, err := chaincache.ComputeFingerprint(chaincache.FingerprintParams{
			NodeExecutable: h.cfg.NodeExecutable,
			ChainParams:    h.cfg.Chain,
			NodeCount:      req.NodeCount,
			PrimeRounds:    h.cfg.PrimeRounds,
			BlocksPerRound: h.cfg.BlocksPerRound,
			MockTimeStart:  h.cfg.MockTimeStart,
			BlockSpacing:   primeBlockSpacing,
			KeyArgs:        h.cfg.cacheKeyArgs(),
		})
		if err != nil {
			return err
		}
		h.fp = fp
	}

	h.p2pAddrs = make([]string, req.NodeCount)
	h.rpcAddrs = make([]string, req.NodeCount)
	for i := 0; i < req.NodeCount; i++ {
		var err error
		h.p2pAddrs[i], err = h.ports.ReserveAddress(i, node.P2PPort)
		if err != nil {
			return err
		}
		h.rpcAddrs[i], err = h.ports.ReserveAddress(i, node.RPCPort)
		if err != nil {
			return err
		}
	}

	nodes := make([]*node.Process, req.NodeCount)
	for i := range nodes {
		spec := h.nodeSpec(i, "")
		spec.ExtraArgs = h.nodeArgs(i)
		nodes[i] = node.New(spec, h.cfg.nodeConfig())
	}

	h.mtx.Lock()
	h.nodes = nodes
	h.mtx.Unlock()

	log.Infof("Network of %d %s, topology %v, cache %s", req.NodeCount,
		pickNoun(req.NodeCount, "node", "nodes"), req.Topology,
		h.cfg.CacheMode)
	return nil
}

// nodeSpec returns the spec of node i with its working directory below
// subdir of the run directory.  The priming and the test network share the
// ports reserved for the run.
func (h *Harness) nodeSpec(i int, subdir string) node.Spec {
	return node.Spec{
		Index:       i,
		Executable:  h.cfg.NodeExecutable,
		WorkingDir:  filepath.Join(h.tmp.Path(), subdir, fmt.Sprintf("node%d", i)),
		ChainParams: h.cfg.Chain,
		P2PAddress:  h.p2pAddrs[i],
		RPCAddress:  h.rpcAddrs[i],
		RPCUser:     rpcUser,
		RPCPass:     h.rpcPass,
		RPCEndpoint: h.cfg.RPCEndpoint,
		ExtraArgs:   h.cfg.ExtraArgs,
	}
}

// nodeArgs returns the command line arguments of node i.
func (h *Harness) nodeArgs(i int) map[string]interface{} {
	args := make(map[string]interface{}, len(h.cfg.ExtraArgs))
	for k, v := range h.cfg.ExtraArgs {
		args[k] = v
	}
	for k, v := range h.req.NodeArgs[i] {
		args[k] = v
	}
	return args
}

// startAll fires the start of every process, then waits for all of them to
// be healthy.  started is called for every process that was launched.
func startAll(ctx context.Context, procs []*node.Process, timeout time.Duration,
	started func(*node.Process)) error {

	var g errgroup.Group
	for _, p := range procs {
		p := p
		g.Go(func() error {
			if err := p.Start(); err != nil {
				return err
			}
			started(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	hg, hctx := errgroup.WithContext(ctx)
	for _, p := range procs {
		p := p
		hg.Go(func() error {
			return p.AwaitHealthy(hctx, timeout)
		})
	}
	return hg.Wait()
}

// teardown stops the started nodes in reverse start order and releases the
// run resources.  A failure to stop becomes the run error when the run had
// succeeded.
func (h *Harness) teardown(runErr *error) {
	h.enter(context.Background(), TearingDown)

	failed := *runErr != nil
	if failed {
		log.Errorf("Run failed: %v", *runErr)
	}

	h.mtx.Lock()
	started := append([]*node.Process(nil), h.started...)
	h.mtx.Unlock()

	keepRunning := !failed && h.req.NoShutdown
	for i := len(started) - 1; i >= 0; i-- {
		p := started[i]
		if keepRunning {
			if p.Alive() {
				integration.DeRegisterDisposableAsset(p)
				log.Infof("Leaving %v running with pid %d", p, p.Pid())
			}
			continue
		}

		err := p.Stop(p.State() == node.Healthy)
		switch {
		case err == nil:
		case failed:
			log.Warnf("Unable to stop %v: %v", p, err)
		default:
			*runErr = phaseError(TearingDown, err)
			failed = true
			log.Errorf("Run failed: %v", err)
		}
	}
	if !keepRunning {
		h.ports.ReleaseAll()
	}

	switch {
	case failed:
		h.tmp.Keep()
		log.Infof("Logs left in %s", h.tmp.Path())
	case keepRunning || h.cfg.NoCleanup:
		h.tmp.Keep()
		log.Infof("Keeping %s", h.tmp.Path())
	default:
		h.tmp.Dispose()
	}

	h.enter(context.Background(), Done)
}

// pickNoun returns the singular or plural form of a noun depending on the
// count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
