// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package commandline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgumentsToStringArray(t *testing.T) {
	args := map[string]interface{}{
		"regtest":    NoArgumentValue,
		"datadir":    "/tmp/node0",
		"debuglevel": "debug",
		"skipped":    NoArgument,
		"nilvalue":   NoArgumentNil,
		"maxpeers":   8,
	}

	want := []string{
		"--datadir=/tmp/node0",
		"--debuglevel=debug",
		"--maxpeers=8",
		"--regtest",
	}
	for i := 0; i < 5; i++ {
		require.Equal(t, want, ArgumentsToStringArray(args))
	}
}

// TestGoExample launches example `go env` process.
func TestGoExample(t *testing.T) {
	proc := &ExternalProcess{
		CommandName: "go",
		Arguments:   []string{"env", "GOOS"},
	}
	require.NoError(t, proc.Run(context.Background()))

	proc = &ExternalProcess{CommandName: "go", Arguments: []string{"no-such-command"}}
	require.Error(t, proc.Run(context.Background()))
}
