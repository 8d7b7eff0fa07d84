// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scenarios

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/btcsuite/chainharness/chaincache"
	"github.com/btcsuite/chainharness/harness"
	"github.com/btcsuite/chainharness/integration"
	"github.com/btcsuite/chainharness/integration/gobuilder"
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

// testConfig returns a small network configuration using the stand-in node.
func testConfig(t *testing.T, nodes int, cacheDir string) harness.Config {
	t.Helper()
	if simnodeExe == "" {
		t.Skip("stand-in node is not built in short mode")
	}

	cfg := harness.DefaultConfig()
	cfg.NodeExecutable = simnodeExe
	cfg.NodeCount = nodes
	cfg.TmpDir = t.TempDir()
	cfg.CacheDir = cacheDir
	cfg.CacheMode = harness.CacheAuto
	if cacheDir == "" {
		cfg.CacheMode = harness.CacheOff
	}
	cfg.PrimeRounds = 1
	cfg.BlocksPerRound = 2
	cfg.StartupTimeout = 20 * time.Second
	cfg.StopTimeout = 10 * time.Second
	cfg.SyncTimeout = 20 * time.Second
	return cfg
}

func TestRegistry(t *testing.T) {
	require.Equal(t, []string{"connect_ring", "create_cache", "mine_and_sync"},
		Names())
	for _, name := range Names() {
		s, err := Lookup(name)
		require.NoError(t, err)
		require.NotNil(t, s)
	}
	_, err := Lookup("reorg")
	require.Error(t, err)
}

func TestSetupNetwork(t *testing.T) {
	req := harness.NetworkRequest{NodeCount: 4, Topology: topology.Chain(4)}
	(&CreateCache{}).SetupNetwork(&req)
	require.Equal(t, 4, req.NodeCount)
	require.Zero(t, req.Topology.Len())

	req = harness.NetworkRequest{NodeCount: 1}
	(&ConnectRing{}).SetupNetwork(&req)
	require.Equal(t, 3, req.NodeCount)
	require.Equal(t, "0->1,1->2,2->0", req.Topology.String())

	req = harness.NetworkRequest{NodeCount: 1}
	(&MineAndSync{}).SetupNetwork(&req)
	require.Equal(t, 2, req.NodeCount)
	require.Equal(t, topology.Chain(2).Edges(), req.Topology.Edges())
}

func TestCreateCacheTwice(t *testing.T) {
	cacheDir := t.TempDir()
	baseline := integration.RegisteredAssets()

	var fingerprints []chaincache.Fingerprint
	for run := 0; run < 2; run++ {
		h, err := harness.New(testConfig(t, 2, cacheDir))
		require.NoError(t, err)

		require.NoError(t, h.Run(context.Background(), &CreateCache{}))
		require.Equal(t, run == 1, h.CacheHit())
		require.Equal(t, harness.Done, h.State())
		require.Equal(t, baseline, integration.RegisteredAssets())
		fingerprints = append(fingerprints, h.Fingerprint())
	}
	require.Equal(t, fingerprints[0], fingerprints[1])

	cache, err := chaincache.NewManager(cacheDir)
	require.NoError(t, err)
	entries, err := cache.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, fingerprints[0], entries[0].Fingerprint)
	require.Equal(t, 2, entries[0].NodeCount)
}

func TestConnectRing(t *testing.T) {
	h, err := harness.New(testConfig(t, 3, ""))
	require.NoError(t, err)
	require.NoError(t, h.Run(context.Background(),
		&ConnectRing{Timeout: 20 * time.Second}))
	require.Equal(t, 3, h.NodeCount())
}

func TestMineAndSync(t *testing.T) {
	tests := []struct {
		name     string
		cacheDir string
	}{
		{name: "empty chain"},
		{name: "primed chain", cacheDir: t.TempDir()},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h, err := harness.New(testConfig(t, 3, test.cacheDir))
			require.NoError(t, err)
			err = h.Run(context.Background(), &MineAndSync{
				Blocks:  5,
				Timeout: 20 * time.Second,
			})
			require.NoError(t, err)
		})
	}
}
