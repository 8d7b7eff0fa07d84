// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/chainharness/chaincache"
	"github.com/btcsuite/chainharness/harness"
	"github.com/btcsuite/chainharness/internal/limits"
	"github.com/btcsuite/chainharness/internal/log"
	"github.com/btcsuite/chainharness/internal/version"
	"github.com/btcsuite/chainharness/scenarios"
	"github.com/btcsuite/chainharness/simnode"
	"github.com/fatih/color"
	flags "github.com/jessevdk/go-flags"
)

// Exit codes of the process.
const (
	exitSuccess     = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// hrnsLog is the logger of the main package, shared with the harness
// subsystem.
var hrnsLog = log.HrnsLog

// cacheMain lists or prunes the chain cache.
func cacheMain(cfg *config) int {
	root := cfg.CacheDir
	if root == "" {
		root = harness.DefaultConfig().CacheDir
	}
	cache, err := chaincache.NewManager(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to open the chain cache: %v\n", err)
		return exitFailure
	}

	if cfg.PruneCache >= 0 {
		removed, err := cache.Prune(cfg.PruneCache)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to prune the chain cache: "+
				"%v\n", err)
			return exitFailure
		}
		fmt.Printf("Removed %d cached %s\n", removed,
			log.PickNoun(uint64(removed), "chain", "chains"))
	}

	entries, err := cache.Entries()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to list the chain cache: %v\n", err)
		return exitFailure
	}
	printCacheEntries(os.Stdout, cache.Root(), entries)
	return exitSuccess
}

// chainharnessMain is the real main function for chainharness.  It is
// necessary to work around the fact that deferred functions do not run when
// os.Exit() is called.
func chainharnessMain() int {
	cfg, params, err := loadConfig(os.Args[1:])
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			return exitSuccess
		}
		return exitUsage
	}
	if cfg.ShowVersion {
		appName := filepath.Base(os.Args[0])
		appName = strings.TrimSuffix(appName, filepath.Ext(appName))
		fmt.Println(appName, "version", version.String())
		return exitSuccess
	}

	log.Quiet = cfg.Quiet
	if cfg.NoColor {
		color.NoColor = true
	}

	switch {
	case cfg.ListScenarios:
		for _, name := range scenarios.Names() {
			fmt.Println(name)
		}
		return exitSuccess

	case cfg.ListCache || cfg.PruneCache >= 0:
		return cacheMain(cfg)
	}

	scenario, err := scenarios.Lookup(cfg.Scenario)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	hcfg, err := cfg.harnessConfig(params)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	// Every node holds pipes, sockets and cache files open through the
	// harness.
	if err := limits.SetLimits(hcfg.NodeCount); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set limits: %v\n", err)
		return exitFailure
	}

	rec := newRunRecorder()
	hcfg.OnStateChange = rec.enter
	h, err := harness.New(hcfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	if err := log.InitLogRotator(filepath.Join(h.TmpDir(), defaultLogName)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	defer log.CloseLogRotator()

	hrnsLog.Infof("Version %s", version.String())
	hrnsLog.Infof("Running scenario %s", cfg.Scenario)

	ctx := withShutdownCancel(context.Background())
	runErr := h.Run(ctx, scenario)
	printSummary(os.Stdout, cfg.Scenario, h, rec, runErr)
	if cfg.CoverageDir != "" {
		err := printCoverage(os.Stdout, cfg.CoverageDir, simnode.Methods())
		if err != nil {
			hrnsLog.Warnf("Unable to read RPC coverage: %v", err)
		}
	}

	switch {
	case runErr == nil:
		return exitSuccess
	case errors.Is(runErr, context.Canceled):
		return exitInterrupted
	default:
		return exitFailure
	}
}

func main() {
	os.Exit(chainharnessMain())
}
