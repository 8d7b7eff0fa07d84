// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/chainharness/chaincache"
	"github.com/btcsuite/chainharness/harness"
	"github.com/btcsuite/chainharness/rpcclient"
	"github.com/btcsuite/chainharness/simnode"
	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func TestRunRecorder(t *testing.T) {
	rec := newRunRecorder()
	rec.enter(harness.Configuring)
	time.Sleep(5 * time.Millisecond)
	rec.enter(harness.Priming)
	rec.enter(harness.Done)

	require.Len(t, rec.phases, 3)
	require.Equal(t, harness.Configuring, rec.phases[0].state)
	require.GreaterOrEqual(t, rec.phases[0].duration, 5*time.Millisecond)
	require.Equal(t, harness.Done, rec.phases[2].state)
	require.GreaterOrEqual(t, rec.elapsed(), 5*time.Millisecond)
}

func TestResultString(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	require.Equal(t, "PASSED", resultString(nil))
	require.Equal(t, "INTERRUPTED", resultString(&harness.RunError{
		Phase: harness.Priming, Node: -1, Err: context.Canceled}))
	require.Equal(t, "FAILED", resultString(errors.New("boom")))
}

func TestPrintCacheEntries(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	var buf bytes.Buffer
	printCacheEntries(&buf, "/cache", nil)
	require.Equal(t, "No cached chains in /cache\n", buf.String())

	buf.Reset()
	fp := chaincache.Fingerprint("0123456789abcdef0123456789abcdef" +
		"0123456789abcdef0123456789abcdef")
	printCacheEntries(&buf, "/cache", []chaincache.EntryInfo{{
		Fingerprint: fp,
		NodeCount:   4,
		CreatedAt:   time.Unix(1388534400, 0),
		Files:       12,
		Size:        4096,
	}})
	require.Contains(t, buf.String(), "Cached chains in /cache:\n")
	require.Contains(t, buf.String(), fmt.Sprintf("  %s   4 nodes", fp.Short()))
	require.Contains(t, buf.String(), "12 files")
	require.Contains(t, buf.String(), "4096 bytes")
}

func TestPrintCoverage(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir,
		rpcclient.CoverageFilePrefix+"node0"),
		[]byte("getblockcount\ngetbestblockhash\ngetblockcount\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir,
		rpcclient.CoverageFilePrefix+"node1"),
		[]byte("uptime\n"), 0600))

	var buf bytes.Buffer
	methods := []string{"uptime", "getblockcount", "stop",
		"getbestblockhash", "addnode"}
	require.NoError(t, printCoverage(&buf, dir, methods))
	require.Equal(t, "Coverage:  4 calls, 3 of 5 methods used\n"+
		"Uncovered: addnode, stop\n", buf.String())

	// Every method the node answers is reported when nothing was called.
	buf.Reset()
	empty := t.TempDir()
	require.NoError(t, printCoverage(&buf, empty, simnode.Methods()))
	require.Contains(t, buf.String(), fmt.Sprintf("0 of %d methods used",
		len(simnode.Methods())))
	require.Contains(t, buf.String(), "getblockcount")
}
