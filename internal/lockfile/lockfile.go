// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package lockfile provides advisory file locks that are released by the
// operating system when the holding process exits.
package lockfile

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrLocked is returned by TryAcquire when another holder owns the lock.
var ErrLocked = errors.New("lockfile: already locked")

// Lock is a held lock on a file.
type Lock struct {
	file *os.File
}

// Acquire blocks until it holds the lock on path, creating the file if
// needed.  Any number of shared holders may coexist; an exclusive holder
// excludes every other holder.
func Acquire(path string, exclusive bool) (*Lock, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f, exclusive, true); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{file: f}, nil
}

// TryAcquire takes the exclusive lock on path without waiting.  It returns
// ErrLocked when the lock is held elsewhere, including by another Lock of the
// same process.
func TryAcquire(path string) (*Lock, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f, true, false); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{file: f}, nil
}

// Path returns the path of the locked file.
func (l *Lock) Path() string {
	return l.file.Name()
}

// Release unlocks and closes the file.  The file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlockFile(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

func open(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
}
