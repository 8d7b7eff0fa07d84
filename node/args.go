// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/btcsuite/chainharness/integration/commandline"
)

// arguments returns the command line for the node.  Settings that define the
// node identity live in the config file; the command line only points at it.
func (s *Spec) arguments() []string {
	args := map[string]interface{}{
		"configfile": s.ConfigFile(),
		"datadir":    s.DataDir(),
	}
	return append(commandline.ArgumentsToStringArray(args),
		commandline.ArgumentsToStringArray(s.ExtraArgs)...)
}

// configOptions returns the key/value pairs of the node config file.
func (s *Spec) configOptions() map[string]string {
	opts := map[string]string{
		"listen":    s.P2PAddress,
		"rpclisten": s.RPCAddress,
		"rpcuser":   s.RPCUser,
		"rpcpass":   s.RPCPass,
	}
	if flag := NetworkFlag(s.ChainParams); flag != "" {
		opts[flag] = "1"
	}
	return opts
}

// WriteConfig renders the config file of the node to w in the INI format
// understood by go-flags based nodes.
func (s *Spec) WriteConfig(w io.Writer) error {
	opts := s.configOptions()
	keys := make([]string, 0, len(opts))
	for key := range opts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if _, err := fmt.Fprintf(w, "[Application Options]\n"); err != nil {
		return err
	}
	for _, key := range keys {
		if opts[key] == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", key, opts[key]); err != nil {
			return err
		}
	}
	return nil
}

// writeConfigFile creates the data directory and the config file inside it.
func (s *Spec) writeConfigFile() error {
	if err := os.MkdirAll(s.DataDir(), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.ConfigFile(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY,
		0600)
	if err != nil {
		return err
	}
	if err := s.WriteConfig(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// logFile opens one of the output capture files of the node.
func (s *Spec) logFile(name string) (*os.File, error) {
	return os.OpenFile(filepath.Join(s.WorkingDir, name),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
}
