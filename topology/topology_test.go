// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package topology

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{"none", None(), "none"},
		{"chain", Chain(3), "1->0,2->1"},
		{"ring", Ring(3), "0->1,1->2,2->0"},
		{"small ring", Ring(2), "1->0"},
		{"star", Star(1, 3), "0->1,2->1"},
		{"mesh", Mesh(3), "1->0,2->0,2->1"},
	}

	for _, test := range tests {
		require.Equal(t, test.want, test.spec.String(), test.name)
		require.NoError(t, test.spec.Validate(3), test.name)
	}
}

func TestParse(t *testing.T) {
	spec, err := Parse("RING", 4)
	require.NoError(t, err)
	require.Equal(t, 4, spec.Len())

	spec, err = Parse("", 4)
	require.NoError(t, err)
	require.Zero(t, spec.Len())

	_, err = Parse("torus", 4)
	require.ErrorIs(t, err, ErrInvalidSpec)
}

func TestEdgesCollapseDuplicates(t *testing.T) {
	spec := New(Edge{0, 1}, Edge{1, 2}, Edge{0, 1}, Edge{1, 0})
	require.Equal(t, []Edge{{0, 1}, {1, 2}, {1, 0}}, spec.Edges())
	require.Equal(t, 3, spec.Len())
	require.Equal(t, []int{0, 1, 2}, spec.Nodes())
}

func TestValidate(t *testing.T) {
	require.ErrorIs(t, New(Edge{0, 3}).Validate(3), ErrInvalidSpec)
	require.ErrorIs(t, New(Edge{-1, 0}).Validate(3), ErrInvalidSpec)

	err := New(Edge{2, 2}).Validate(3)
	require.ErrorIs(t, err, ErrInvalidSpec)
	var topoErr Error
	require.ErrorAs(t, err, &topoErr)
	require.Equal(t, 2, topoErr.Node)

	require.NoError(t, None().Validate(0))
}
