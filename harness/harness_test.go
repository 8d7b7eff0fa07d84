// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package harness

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/chainharness/chaincache"
	"github.com/btcsuite/chainharness/integration"
	"github.com/btcsuite/chainharness/integration/commandline"
	"github.com/btcsuite/chainharness/integration/gobuilder"
	"github.com/btcsuite/chainharness/node"
	"github.com/btcsuite/chainharness/topology"
	"github.com/stretchr/testify/require"
)

// simnodeExe is the stand-in node built for the tests, or "" under -short.
var simnodeExe string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	root, err := gobuilder.FindModuleRoot(".")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	outDir, err := os.MkdirTemp("", "chainharness_bin")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	builder := &gobuilder.GoBuilder{
		ModuleDir:        root,
		PackagePath:      "./cmd/simnode",
		BuildFileName:    "simnode",
		OutputFolderPath: outDir,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	err = builder.Build(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to build simnode: %v\n", err)
		os.RemoveAll(outDir)
		os.Exit(1)
	}
	simnodeExe = builder.Executable()

	code := m.Run()
	builder.Dispose()
	os.RemoveAll(outDir)
	os.Exit(code)
}

// testScenario is a Scenario built from functions.
type testScenario struct {
	setup func(*NetworkRequest)
	run   func(context.Context, *Harness) error
}

func (s *testScenario) SetupNetwork(req *NetworkRequest) {
	if s.setup != nil {
		s.setup(req)
	}
}

func (s *testScenario) RunTest(ctx context.Context, h *Harness) error {
	if s.run != nil {
		return s.run(ctx, h)
	}
	return nil
}

// testConfig returns a small network configuration using the stand-in node.
func testConfig(t *testing.T, cacheDir string) Config {
	t.Helper()
	if simnodeExe == "" {
		t.Skip("stand-in node is not built in short mode")
	}

	cfg := DefaultConfig()
	cfg.NodeExecutable = simnodeExe
	cfg.NodeCount = 2
	cfg.Topology = topology.None()
	cfg.TmpDir = t.TempDir()
	cfg.CacheDir = cacheDir
	cfg.PrimeRounds = 1
	cfg.BlocksPerRound = 3
	cfg.StartupTimeout = 20 * time.Second
	cfg.StopTimeout = 10 * time.Second
	cfg.SyncTimeout = 20 * time.Second
	return cfg
}

// requireNoLeaks checks every process of the run is gone and nothing new is
// left in the leaked-asset registry.
func requireNoLeaks(t *testing.T, h *Harness, baseline int) {
	t.Helper()
	for _, p := range h.Nodes() {
		require.False(t, p.Alive(), "%v still running", p)
	}
	require.Equal(t, baseline, integration.RegisteredAssets())
}

func TestCreateCacheMissThenHit(t *testing.T) {
	cacheDir := t.TempDir()
	baseline := integration.RegisteredAssets()

	var tips [2]string
	for run := 0; run < 2; run++ {
		var states []State
		cfg := testConfig(t, cacheDir)
		cfg.OnStateChange = func(s State) {
			states = append(states, s)
		}
		h, err := New(cfg)
		require.NoError(t, err)

		err = h.Run(context.Background(), &testScenario{
			run: func(ctx context.Context, h *Harness) error {
				for i := 0; i < h.NodeCount(); i++ {
					client, err := h.Client(i)
					if err != nil {
						return err
					}
					count, err := client.GetBlockCount(ctx)
					if err != nil {
						return err
					}
					if count != 6 {
						return fmt.Errorf("node%d has %d blocks", i, count)
					}
				}
				client, err := h.Client(0)
				if err != nil {
					return err
				}
				tip, err := client.GetBestBlockHash(ctx)
				if err != nil {
					return err
				}
				tips[run] = tip.String()
				return nil
			},
		})
		require.NoError(t, err)
		require.Equal(t, run == 1, h.CacheHit())
		require.Equal(t, []State{Configuring, Priming, NodesStarting,
			TopologyBuilding, ScenarioRunning, TearingDown, Done}, states)
		require.Equal(t, Done, h.State())
		require.NoDirExists(t, h.TmpDir())
		requireNoLeaks(t, h, baseline)

		cache, err := chaincache.NewManager(cacheDir)
		require.NoError(t, err)
		require.True(t, cache.Has(h.Fingerprint()))
	}
	require.Equal(t, tips[0], tips[1])
}

func TestMockTimeStartChangesCache(t *testing.T) {
	cacheDir := t.TempDir()

	var fps [2]chaincache.Fingerprint
	var tips [2]string
	for run, start := range []int64{1388534400, 1500000000} {
		cfg := testConfig(t, cacheDir)
		cfg.MockTimeStart = start
		h, err := New(cfg)
		require.NoError(t, err)

		err = h.Run(context.Background(), &testScenario{
			run: func(ctx context.Context, h *Harness) error {
				client, err := h.Client(0)
				if err != nil {
					return err
				}
				tip, err := client.GetBestBlockHash(ctx)
				if err != nil {
					return err
				}
				tips[run] = tip.String()
				return nil
			},
		})
		require.NoError(t, err)
		require.False(t, h.CacheHit())
		fps[run] = h.Fingerprint()
	}
	require.NotEqual(t, fps[0], fps[1])
	require.NotEqual(t, tips[0], tips[1])
}

func TestInterruptFromEveryState(t *testing.T) {
	for _, state := range []State{Configuring, Priming, NodesStarting,
		TopologyBuilding, ScenarioRunning} {

		state := state
		t.Run(state.String(), func(t *testing.T) {
			baseline := integration.RegisteredAssets()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cfg := testConfig(t, t.TempDir())
			cfg.Topology = topology.Chain(2)
			cfg.OnStateChange = func(s State) {
				if s == state {
					cancel()
				}
			}
			h, err := New(cfg)
			require.NoError(t, err)

			err = h.Run(ctx, &testScenario{
				run: func(ctx context.Context, _ *Harness) error {
					<-ctx.Done()
					return ctx.Err()
				},
			})
			require.ErrorIs(t, err, context.Canceled)
			var runErr *RunError
			require.ErrorAs(t, err, &runErr)
			require.Equal(t, state, runErr.Phase)
			require.Equal(t, Done, h.State())
			require.DirExists(t, h.TmpDir())
			requireNoLeaks(t, h, baseline)
		})
	}
}

func TestInterruptWhilePriming(t *testing.T) {
	baseline := integration.RegisteredAssets()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t, t.TempDir())
	cfg.CacheMode = CacheBuild
	cfg.PrimeRounds = 3
	cfg.BlocksPerRound = 20
	cfg.OnStateChange = func(s State) {
		if s == Priming {
			time.AfterFunc(300*time.Millisecond, cancel)
		}
	}
	h, err := New(cfg)
	require.NoError(t, err)

	err = h.Run(ctx, &testScenario{})
	require.ErrorIs(t, err, context.Canceled)
	requireNoLeaks(t, h, baseline)

	cache, err := chaincache.NewManager(cfg.CacheDir)
	require.NoError(t, err)
	require.False(t, cache.Has(h.Fingerprint()))
}

func TestHealthTimeout(t *testing.T) {
	baseline := integration.RegisteredAssets()

	cfg := testConfig(t, "")
	cfg.CacheMode = CacheOff
	cfg.StartupTimeout = time.Second
	cfg.ExtraArgs = map[string]interface{}{"warmup": "30s"}
	h, err := New(cfg)
	require.NoError(t, err)

	start := time.Now()
	err = h.Run(context.Background(), &testScenario{})
	require.ErrorIs(t, err, node.ErrHealthCheckTimeout)
	require.Less(t, time.Since(start), 15*time.Second)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, NodesStarting, runErr.Phase)
	require.Contains(t, []int{0, 1}, runErr.Node)
	require.FileExists(t, filepath.Join(h.Nodes()[0].Spec().WorkingDir,
		"stdout.log"))
	requireNoLeaks(t, h, baseline)
}

func TestNoCommitAfterCrash(t *testing.T) {
	baseline := integration.RegisteredAssets()

	cfg := testConfig(t, t.TempDir())
	cfg.CacheMode = CacheBuild
	cfg.ExtraArgs = map[string]interface{}{
		"failstop": commandline.NoArgumentValue,
	}
	h, err := New(cfg)
	require.NoError(t, err)

	err = h.Run(context.Background(), &testScenario{})
	require.ErrorIs(t, err, node.ErrProcessCrashed)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, Priming, runErr.Phase)
	requireNoLeaks(t, h, baseline)

	cache, err := chaincache.NewManager(cfg.CacheDir)
	require.NoError(t, err)
	require.False(t, cache.Has(h.Fingerprint()))
	entries, err := cache.Entries()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestScenarioPanicTearsDown(t *testing.T) {
	baseline := integration.RegisteredAssets()

	cfg := testConfig(t, "")
	cfg.CacheMode = CacheOff
	h, err := New(cfg)
	require.NoError(t, err)

	err = h.Run(context.Background(), &testScenario{
		run: func(context.Context, *Harness) error {
			panic("boom")
		},
	})
	require.ErrorIs(t, err, ErrScenarioPanic)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, ScenarioRunning, runErr.Phase)
	requireNoLeaks(t, h, baseline)
}

func TestCrashDuringScenarioReported(t *testing.T) {
	baseline := integration.RegisteredAssets()

	cfg := testConfig(t, "")
	cfg.CacheMode = CacheOff
	h, err := New(cfg)
	require.NoError(t, err)

	err = h.Run(context.Background(), &testScenario{
		setup: func(req *NetworkRequest) {
			req.NodeArgs = map[int]map[string]interface{}{
				1: {"crashafter": "3s"},
			}
		},
		run: func(ctx context.Context, h *Harness) error {
			p, err := h.Node(1)
			if err != nil {
				return err
			}
			select {
			case <-p.Done():
				return nil
			case <-time.After(20 * time.Second):
				return errors.New("node1 did not crash")
			}
		},
	})
	require.ErrorIs(t, err, node.ErrProcessCrashed)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, ScenarioRunning, runErr.Phase)
	require.Equal(t, 1, runErr.Node)
	require.Equal(t, node.Crashed, h.Nodes()[1].State())
	requireNoLeaks(t, h, baseline)
}

func TestDeferredStart(t *testing.T) {
	baseline := integration.RegisteredAssets()

	cfg := testConfig(t, "")
	cfg.CacheMode = CacheOff
	cfg.RPCEndpoint = "ws"
	h, err := New(cfg)
	require.NoError(t, err)

	err = h.Run(context.Background(), &testScenario{
		setup: func(req *NetworkRequest) {
			req.NodeCount = 3
			req.StartNodes = false
		},
		run: func(ctx context.Context, h *Harness) error {
			for _, p := range h.Nodes() {
				if p.State() != node.NotStarted {
					return fmt.Errorf("%v is %v", p, p.State())
				}
			}
			if err := h.StartNode(ctx, 2); err != nil {
				return err
			}
			client, err := h.Client(2)
			if err != nil {
				return err
			}
			_, err = client.GetBlockCount(ctx)
			if err != nil {
				return err
			}
			if _, err := h.Client(3); !errors.Is(err, ErrNoSuchNode) {
				return fmt.Errorf("unexpected error %v", err)
			}
			_, err = h.Client(0)
			if !errors.Is(err, node.ErrNotHealthy) {
				return fmt.Errorf("unexpected error %v", err)
			}
			return nil
		},
	})
	require.NoError(t, err)
	require.Len(t, h.Nodes(), 3)
	requireNoLeaks(t, h, baseline)
}

func TestNoShutdownLeavesNodesRunning(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.CacheMode = CacheOff
	cfg.NoShutdown = true
	h, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, h.Run(context.Background(), &testScenario{}))
	require.DirExists(t, h.TmpDir())
	for _, p := range h.Nodes() {
		require.True(t, p.Alive())
		require.NoError(t, p.Stop(false))
		require.False(t, p.Alive())
	}
	h.ports.ReleaseAll()
}

func TestRunOnlyOnce(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.CacheMode = CacheOff
	cfg.NodeCount = 1
	h, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, h.Run(context.Background(), &testScenario{}))
	err = h.Run(context.Background(), &testScenario{})
	require.ErrorIs(t, err, ErrAlreadyRun)
}
