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
	"runtime/debug"

	"github.com/btcsuite/chainharness/internal/limits"
	"github.com/btcsuite/chainharness/internal/log"
	"github.com/btcsuite/chainharness/internal/version"
	"github.com/btcsuite/chainharness/simnode"
	"github.com/btcsuite/chainharness/simnode/store"
)

// Exit codes of the process.  A graceful stop exits with zero.
const (
	exitFailure = 1
	exitCrash   = 3
)

// simnLog is the logger of the main package, shared with the simnode
// subsystem.
var simnLog = log.SimnLog

// simnodeMain is the real main function for simnode.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func simnodeMain() error {
	cfg, params, err := loadConfig()
	if err != nil {
		return err
	}

	log.Quiet = cfg.Quiet
	logFile := filepath.Join(cfg.DataDir, "logs", params.Name,
		defaultLogFilename)
	if err := log.InitLogRotator(logFile); err != nil {
		return err
	}
	defer log.CloseLogRotator()

	simnLog.Infof("Version %s", version.String())
	simnLog.Infof("Loading chain from %s", cfg.DataDir)

	n, err := simnode.New(&simnode.Config{
		DataDir:      cfg.DataDir,
		ChainParams:  params,
		Listen:       cfg.Listen,
		RPCListen:    cfg.RPCListen,
		RPCUser:      cfg.RPCUser,
		RPCPass:      cfg.RPCPass,
		Engine:       store.Kind(cfg.DbType),
		StartupDelay: cfg.StartupDelay,
		Warmup:       cfg.Warmup,
		CrashAfter:   cfg.CrashAfter,
		FailStop:     cfg.FailStop,
	})
	if err != nil {
		simnLog.Errorf("Unable to load chain: %v", err)
		return err
	}

	ctx := withShutdownCancel(context.Background())
	if err := n.Start(ctx); err != nil {
		simnLog.Errorf("Unable to start node: %v", err)
		return err
	}
	simnLog.Infof("Listening for peers on %s and RPC on %s", n.P2PAddr(),
		n.RPCAddr())

	return n.Run(ctx)
}

func main() {
	// Block and transaction processing can cause bursty allocations.  This
	// limits the garbage collector from excessively overallocating during
	// bursts.
	debug.SetGCPercent(10)

	// Up some limits.
	if err := limits.SetLimits(1); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set limits: %v\n", err)
		os.Exit(exitFailure)
	}

	if err := simnodeMain(); err != nil {
		if errors.Is(err, simnode.ErrInjectedCrash) {
			os.Exit(exitCrash)
		}
		os.Exit(exitFailure)
	}
}
