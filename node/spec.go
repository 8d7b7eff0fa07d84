// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"fmt"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// DefaultConfigFilename is the name of the config file written into
	// every node data directory.
	DefaultConfigFilename = "node.conf"

	// dataDirName is the data directory below the node working directory.
	dataDirName = "data"

	// Names of the files written into the node working directory.
	stdoutLogName = "stdout.log"
	stderrLogName = "stderr.log"
	pidFileName   = "node.pid"
)

// Spec describes one node of a harness run: which executable to launch, where
// it keeps its state, and how to reach it.  A Process keeps its own copy, so
// changing a Spec after New has no effect on the process.
type Spec struct {
	// Index is the ordinal of the node within the run, starting at 0.
	Index int

	// Executable is the path of the node binary.
	Executable string

	// WorkingDir holds the data directory, the stdout/stderr logs and the
	// pid file of the node.
	WorkingDir string

	// ChainParams selects the network the node runs on.
	ChainParams *chaincfg.Params

	// P2PAddress and RPCAddress are the host:port pairs the node listens
	// on for peers and for RPC clients.
	P2PAddress string
	RPCAddress string

	// RPCUser and RPCPass are the RPC credentials written to the node
	// config file.
	RPCUser string
	RPCPass string

	// RPCEndpoint selects the RPC transport, "" for HTTP POST or "ws".
	RPCEndpoint string

	// ExtraArgs are appended to the command line, see
	// commandline.ArgumentsToStringArray for the value conventions.
	ExtraArgs map[string]interface{}
}

// DataDir returns the data directory of the node.
func (s *Spec) DataDir() string {
	return filepath.Join(s.WorkingDir, dataDirName)
}

// ConfigFile returns the path of the node config file.
func (s *Spec) ConfigFile() string {
	return filepath.Join(s.DataDir(), DefaultConfigFilename)
}

// Validate checks that every field required to launch the node is set.
func (s *Spec) Validate() error {
	switch {
	case s.Index < 0:
		return fmt.Errorf("invalid node index %d", s.Index)
	case s.Executable == "":
		return fmt.Errorf("node%d: no executable", s.Index)
	case s.WorkingDir == "":
		return fmt.Errorf("node%d: no working directory", s.Index)
	case s.ChainParams == nil:
		return fmt.Errorf("node%d: no chain parameters", s.Index)
	case s.P2PAddress == "" || s.RPCAddress == "":
		return fmt.Errorf("node%d: listen addresses not assigned", s.Index)
	}
	return nil
}

// clone returns a deep copy of the spec.
func (s *Spec) clone() Spec {
	c := *s
	if s.ExtraArgs != nil {
		c.ExtraArgs = make(map[string]interface{}, len(s.ExtraArgs))
		for k, v := range s.ExtraArgs {
			c.ExtraArgs[k] = v
		}
	}
	return c
}

// NetworkFlag returns the command line flag selecting the network of params,
// or "" for the main network.
func NetworkFlag(params *chaincfg.Params) string {
	switch params.Name {
	case chaincfg.RegressionNetParams.Name:
		return "regtest"
	case chaincfg.SimNetParams.Name:
		return "simnet"
	case chaincfg.TestNet3Params.Name:
		return "testnet"
	case chaincfg.SigNetParams.Name:
		return "signet"
	default:
		return ""
	}
}
