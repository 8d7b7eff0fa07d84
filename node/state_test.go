// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateStringer(t *testing.T) {
	tests := []struct {
		in       State
		want     string
		terminal bool
	}{
		{NotStarted, "NotStarted", false},
		{Starting, "Starting", false},
		{Healthy, "Healthy", false},
		{Stopping, "Stopping", false},
		{Stopped, "Stopped", true},
		{Crashed, "Crashed", true},
		{State(0xff), "Unknown State (255)", false},
	}

	for _, test := range tests {
		require.Equal(t, test.want, test.in.String())
		require.Equal(t, test.terminal, test.in.Terminal(), test.want)
	}
}
