// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/chainharness/harness"
	"github.com/btcsuite/chainharness/integration/commandline"
	"github.com/btcsuite/chainharness/topology"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), defaultConfigName)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoadConfigFileAndOverrides(t *testing.T) {
	path := writeConfigFile(t, `[Application Options]
scenario=connect_ring
nodes=3
cachemode=off
synctimeout=5s
`)
	cfg, params, err := loadConfig([]string{"-C", path, "--nodes=5",
		"--simnet", "--nodearg=warmup=1s", "--nodearg=failstop",
		"--proxy=127.0.0.1:9050", "--proxyuser=alice"})
	require.NoError(t, err)
	require.Equal(t, &chaincfg.SimNetParams, params)
	require.Equal(t, "connect_ring", cfg.Scenario)
	require.Equal(t, 5, cfg.Nodes)
	require.Equal(t, "off", cfg.CacheMode)
	require.Equal(t, 5*time.Second, cfg.SyncTimeout)
	require.Equal(t, []string{"warmup=1s", "failstop"}, cfg.NodeArgs)
	require.Equal(t, -1, cfg.PruneCache)
	require.Equal(t, defaultNodeExe, cfg.NodeExe)
	require.Equal(t, "127.0.0.1:9050", cfg.Proxy)
	require.Equal(t, "alice", cfg.ProxyUser)
	require.Empty(t, cfg.ProxyPass)
}

func TestLoadConfigRejects(t *testing.T) {
	path := writeConfigFile(t, "")
	tests := []struct {
		name string
		args []string
	}{
		{name: "two networks", args: []string{"--regtest", "--simnet"}},
		{name: "negative nodes", args: []string{"--nodes=-1"}},
		{name: "negative timeout", args: []string{"--rpctimeout=-1s"}},
		{name: "bad debug level", args: []string{"--debuglevel=loud"}},
		{name: "unknown flag", args: []string{"--nosuchflag"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			args := append([]string{"-C", path}, test.args...)
			_, _, err := loadConfig(args)
			require.Error(t, err)
		})
	}

	_, _, err := loadConfig([]string{"-C", filepath.Join(t.TempDir(),
		"missing.conf")})
	require.Error(t, err)
}

func TestParseNodeArgs(t *testing.T) {
	args, err := parseNodeArgs([]string{"warmup=1s", "--failstop",
		"dbtype=pebble", "empty="})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{
		"warmup":   "1s",
		"failstop": commandline.NoArgumentValue,
		"dbtype":   "pebble",
		"empty":    "",
	}, args)

	args, err = parseNodeArgs(nil)
	require.NoError(t, err)
	require.Nil(t, args)

	_, err = parseNodeArgs([]string{"=1"})
	require.Error(t, err)
}

func TestHarnessConfig(t *testing.T) {
	cfg := &config{
		Nodes:          3,
		Topology:       "ring",
		CacheMode:      "build",
		NodeExe:        "/usr/local/bin/simnode",
		NodeArgs:       []string{"dbtype=pebble"},
		CacheKeyArgs:   []string{"dbtype"},
		PrimeRounds:    1,
		BlocksPerRound: 5,
		SyncTimeout:    time.Second,
		PortSeed:       7,
		Proxy:          "127.0.0.1:9050",
		ProxyUser:      "alice",
		ProxyPass:      "secret",
	}
	hcfg, err := cfg.harnessConfig(&chaincfg.SimNetParams)
	require.NoError(t, err)
	require.Equal(t, 3, hcfg.NodeCount)
	require.Equal(t, topology.Ring(3).Edges(), hcfg.Topology.Edges())
	require.Equal(t, harness.CacheBuild, hcfg.CacheMode)
	require.Equal(t, "/usr/local/bin/simnode", hcfg.NodeExecutable)
	require.Equal(t, map[string]interface{}{"dbtype": "pebble"}, hcfg.ExtraArgs)
	require.Equal(t, []string{"dbtype"}, hcfg.CacheKeyArgs)
	require.Equal(t, 1, hcfg.PrimeRounds)
	require.Equal(t, 5, hcfg.BlocksPerRound)
	require.Equal(t, time.Second, hcfg.SyncTimeout)
	require.Equal(t, 7, hcfg.PortSeed)
	require.Equal(t, "127.0.0.1:9050", hcfg.Proxy)
	require.Equal(t, "alice", hcfg.ProxyUser)
	require.Equal(t, "secret", hcfg.ProxyPass)
	require.Equal(t, &chaincfg.SimNetParams, hcfg.Chain)

	def := harness.DefaultConfig()
	require.Equal(t, def.StartupTimeout, hcfg.StartupTimeout)
	require.Equal(t, def.CacheDir, hcfg.CacheDir)

	cfg.Topology = "tree"
	_, err = cfg.harnessConfig(&chaincfg.SimNetParams)
	require.Error(t, err)
}
