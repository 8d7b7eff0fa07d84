// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package integration

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingAsset appends its name to a shared log when disposed.
type recordingAsset struct {
	name string
	log  *[]string
}

func (r *recordingAsset) Dispose() {
	*r.log = append(*r.log, r.name)
}

// TestLeakyAssets creates example leaky assets and checks they were properly
// disposed.
func TestLeakyAssets(t *testing.T) {
	root := t.TempDir()
	a := NewTempDir(root, "a")
	b := NewTempDir(root, filepath.Join("a", "b"))
	c := NewTempDir(root, filepath.Join("a", "b", "c"))

	require.NoError(t, a.MakeDir())
	require.NoError(t, b.MakeDir())
	require.NoError(t, c.MakeDir())
	require.Error(t, c.MakeDir(), "double registration")
	require.True(t, c.Exists())

	c.Dispose()
	b.Dispose()
	a.Dispose()
	require.False(t, a.Exists())
	require.NoError(t, VerifyNoAssetsLeaked())

	require.NoError(t, b.MakeDir())
	require.NoError(t, a.MakeDir())
	require.Error(t, VerifyNoAssetsLeaked())
	b.Keep()
	a.Dispose()
	require.NoError(t, VerifyNoAssetsLeaked())
}

// TestForceDisposeOrder checks assets are disposed newest first.
func TestForceDisposeOrder(t *testing.T) {
	var disposed []string
	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, RegisterDisposableAsset(&recordingAsset{
			name: name,
			log:  &disposed,
		}))
	}
	require.Equal(t, 3, RegisteredAssets())

	require.Equal(t, 3, ForceDisposeLeakyAssets())
	require.Equal(t, []string{"third", "second", "first"}, disposed)
	require.NoError(t, VerifyNoAssetsLeaked())

	require.False(t, DeRegisterDisposableAsset(&recordingAsset{}))
}
