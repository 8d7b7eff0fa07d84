// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/chainharness/chaincache"
	"github.com/btcsuite/chainharness/harness"
	"github.com/btcsuite/chainharness/node"
	"github.com/btcsuite/chainharness/rpcclient"
	"github.com/fatih/color"
)

// phaseTiming is the time a run spent in one state.
type phaseTiming struct {
	state    harness.State
	duration time.Duration
}

// runRecorder times the states of a run.  Its enter method is installed as
// the OnStateChange hook of the harness.
type runRecorder struct {
	start  time.Time
	since  time.Time
	phases []phaseTiming
}

func newRunRecorder() *runRecorder {
	now := time.Now()
	return &runRecorder{start: now, since: now}
}

func (r *runRecorder) enter(state harness.State) {
	now := time.Now()
	if n := len(r.phases); n > 0 {
		r.phases[n-1].duration = now.Sub(r.since)
	}
	r.since = now
	r.phases = append(r.phases, phaseTiming{state: state})
}

// elapsed returns the time since the recorder was created.
func (r *runRecorder) elapsed() time.Duration {
	return time.Since(r.start)
}

// resultString returns the colored outcome of a run.
func resultString(runErr error) string {
	switch {
	case runErr == nil:
		return color.GreenString("PASSED")
	case errors.Is(runErr, context.Canceled):
		return color.YellowString("INTERRUPTED")
	default:
		return color.RedString("FAILED")
	}
}

// nodeStateString returns the colored lifecycle state of a node.
func nodeStateString(state node.State) string {
	switch state {
	case node.Healthy:
		return color.GreenString(state.String())
	case node.Stopped:
		return color.CyanString(state.String())
	case node.Crashed:
		return color.RedString(state.String())
	default:
		return color.YellowString(state.String())
	}
}

// cacheString describes how the run used the chain cache.
func cacheString(h *harness.Harness) string {
	if h.Config().CacheMode == harness.CacheOff {
		return "off"
	}
	fp := h.Fingerprint()
	if fp == "" {
		return "unused"
	}
	if h.CacheHit() {
		return fmt.Sprintf("hit %s", fp.Short())
	}
	return fmt.Sprintf("built %s", fp.Short())
}

// printSummary writes the outcome of a run to w.
func printSummary(w io.Writer, scenario string, h *harness.Harness,
	rec *runRecorder, runErr error) {

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scenario:  %s\n", scenario)
	fmt.Fprintf(w, "Run:       %s\n", h.RunID())
	fmt.Fprintf(w, "Result:    %s\n", resultString(runErr))
	if runErr != nil {
		fmt.Fprintf(w, "Error:     %s\n", color.RedString(runErr.Error()))
		var rerr *harness.RunError
		if errors.As(runErr, &rerr) && rerr.Node >= 0 {
			fmt.Fprintf(w, "Node:      node%d\n", rerr.Node)
		}
	}
	fmt.Fprintf(w, "Cache:     %s\n", cacheString(h))
	fmt.Fprintf(w, "Duration:  %v\n", rec.elapsed().Round(time.Millisecond))

	if len(rec.phases) > 0 {
		strs := make([]string, 0, len(rec.phases))
		for _, p := range rec.phases {
			if p.state == harness.Done {
				continue
			}
			strs = append(strs, fmt.Sprintf("%v %v", p.state,
				p.duration.Round(time.Millisecond)))
		}
		fmt.Fprintf(w, "Phases:    %s\n", strings.Join(strs, ", "))
	}

	nodes := h.Nodes()
	if len(nodes) > 0 {
		fmt.Fprintln(w, "Nodes:")
	}
	for _, p := range nodes {
		spec := p.Spec()
		line := fmt.Sprintf("  node%-3d p2p %-21s rpc %-21s %s", p.Index(),
			spec.P2PAddress, spec.RPCAddress, nodeStateString(p.State()))
		switch {
		case p.Alive():
			line += fmt.Sprintf(" pid %d", p.Pid())
		case p.State().Terminal():
			line += fmt.Sprintf(" exit %d", p.ExitCode())
		}
		fmt.Fprintln(w, line)
	}

	if _, err := os.Stat(h.TmpDir()); err == nil {
		fmt.Fprintf(w, "Logs:      %s\n", h.TmpDir())
	}
}

// printCacheEntries writes the committed entries of the chain cache to w.
func printCacheEntries(w io.Writer, root string, entries []chaincache.EntryInfo) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No cached chains in %s\n", root)
		return
	}
	fmt.Fprintf(w, "Cached chains in %s:\n", root)
	for _, e := range entries {
		fmt.Fprintf(w, "  %s  %2d nodes  %4d files  %10d bytes  %s\n",
			color.CyanString(e.Fingerprint.Short()), e.NodeCount, e.Files,
			e.Size, e.CreatedAt.Local().Format(time.RFC3339))
	}
}

// printCoverage writes the RPC methods of the node that no client called
// during the run, as recorded in the coverage directory.
func printCoverage(w io.Writer, dir string, methods []string) error {
	counts, err := rpcclient.ReadCoverage(dir)
	if err != nil {
		return err
	}
	var calls int
	for _, n := range counts {
		calls += n
	}
	missing := rpcclient.UncoveredMethods(counts, methods)
	fmt.Fprintf(w, "Coverage:  %d calls, %d of %d methods used\n", calls,
		len(methods)-len(missing), len(methods))
	if len(missing) > 0 {
		fmt.Fprintf(w, "Uncovered: %s\n",
			color.YellowString(strings.Join(missing, ", ")))
	}
	return nil
}
