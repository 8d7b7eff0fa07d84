// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package integration

import (
	"os"
	"path/filepath"
)

// TempDirHandler offers temporary directories management.
type TempDirHandler struct {
	target string
}

// NewTempDir creates new immutable instance of the TempDirHandler.
func NewTempDir(targetParent string, targetName string) *TempDirHandler {
	return &TempDirHandler{
		target: filepath.Join(targetParent, targetName),
	}
}

// Dispose removes the directory and everything below it.  It is required for
// TempDirHandler to implement LeakyAsset.
func (t *TempDirHandler) Dispose() {
	os.RemoveAll(t.target)
	DeRegisterDisposableAsset(t)
}

// Keep forgets the directory without removing it, leaving its contents for
// inspection.
func (t *TempDirHandler) Keep() {
	DeRegisterDisposableAsset(t)
}

// MakeDir ensures target folder and all it's parents exist and registers the
// folder as a leaky asset.
func (t *TempDirHandler) MakeDir() error {
	if err := os.MkdirAll(t.target, 0700); err != nil {
		return err
	}
	return RegisterDisposableAsset(t)
}

// Exists returns true when target exists.
func (t *TempDirHandler) Exists() bool {
	return FileExists(t.target)
}

// Path string of the temp folder.
func (t *TempDirHandler) Path() string {
	return t.target
}

// String returns the path of the folder.
func (t *TempDirHandler) String() string {
	return t.target
}
