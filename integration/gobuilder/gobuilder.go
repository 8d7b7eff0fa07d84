// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gobuilder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/btcsuite/chainharness/integration"
	"github.com/btcsuite/chainharness/integration/commandline"
)

// GoBuilder helps to build a target Go package into an executable.
type GoBuilder struct {
	// ModuleDir is the root of the Go module holding the package.
	ModuleDir string

	// PackagePath is the package to build, relative to ModuleDir, for
	// example "./cmd/simnode".
	PackagePath string

	// BuildFileName stores executable file name
	BuildFileName string

	// OutputFolderPath points to output executable parent folder
	OutputFolderPath string

	compileMtx sync.Mutex
}

// Dispose removes the built executable.  It is required to implement
// integration.LeakyAsset.
func (builder *GoBuilder) Dispose() {
	os.Remove(builder.Executable())
	integration.DeRegisterDisposableAsset(builder)
}

// Executable returns full path to an executable target file
func (builder *GoBuilder) Executable() string {
	outputPath := filepath.Join(
		builder.OutputFolderPath, builder.BuildFileName)
	if runtime.GOOS == "windows" {
		outputPath += ".exe"
	}
	return outputPath
}

// Build compiles the target package and writes the executable to the output
// folder.
func (builder *GoBuilder) Build(ctx context.Context) error {
	builder.compileMtx.Lock()
	defer builder.compileMtx.Unlock()

	if err := os.MkdirAll(builder.OutputFolderPath, 0700); err != nil {
		return err
	}

	target := builder.Executable()
	if integration.FileExists(target) {
		builder.Dispose()
	}

	proc := &commandline.ExternalProcess{
		CommandName: "go",
		Arguments:   []string{"build", "-o", target, builder.PackagePath},
		WorkingDir:  builder.ModuleDir,
	}
	if err := proc.Run(ctx); err != nil {
		return err
	}
	return integration.RegisterDisposableAsset(builder)
}

// FindModuleRoot climbs up from dir to the closest folder holding a go.mod
// file.
func FindModuleRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if integration.FileExists(filepath.Join(dir, "go.mod")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found")
		}
		dir = parent
	}
}
