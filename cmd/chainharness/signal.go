// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/btcsuite/chainharness/integration"
	"github.com/btcsuite/chainharness/internal/log"
)

// interruptSignals defines the default signals to catch in order to do a proper
// shutdown.  This may be modified during init depending on the platform.
var interruptSignals = []os.Signal{os.Interrupt}

// withShutdownCancel returns a context that is cancelled when one of the
// interrupt signals is received.  The run then tears the network down.  A
// second signal kills every node still registered and exits at once.
func withShutdownCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	interruptChannel := make(chan os.Signal, 2)
	signal.Notify(interruptChannel, interruptSignals...)
	go func() {
		select {
		case sig := <-interruptChannel:
			hrnsLog.Infof("Received signal (%s).  Tearing down the "+
				"network...", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(interruptChannel)
			return
		}

		sig := <-interruptChannel
		hrnsLog.Warnf("Received signal (%s) again.  Killing every node...",
			sig)
		n := integration.ForceDisposeLeakyAssets()
		hrnsLog.Warnf("Disposed of %d leftover %s", n,
			log.PickNoun(uint64(n), "asset", "assets"))
		log.CloseLogRotator()
		os.Exit(exitInterrupted)
	}()
	return ctx
}
