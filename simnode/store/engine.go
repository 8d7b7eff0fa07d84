// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store keeps the chain of a simulated node in an embedded key/value
// engine.  Two engines are available, goleveldb and pebble, behind the same
// Engine interface.
package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Snapshot.Get when the key does not exist,
	// whatever the engine.
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed is returned when the engine was closed.
	ErrClosed = errors.New("store: closed")

	// ErrTxClosed is returned when a committed or discarded transaction is
	// used.
	ErrTxClosed = errors.New("store: transaction already closed")

	// ErrSnapshotReleased is returned when a released snapshot is used.
	ErrSnapshotReleased = errors.New("store: snapshot released")

	// ErrIterReleased is returned by Error once an iterator is released.
	ErrIterReleased = errors.New("store: iterator released")
)

// Engine is an ordered key/value store.
type Engine interface {
	Transaction() (Transaction, error)
	Snapshot() (Snapshot, error)
	Close() error
}

// Transaction buffers writes until Commit.
type Transaction interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Discard()
}

// Snapshot is a consistent read view of the engine.
type Snapshot interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	NewIterator(*Range) Iterator
	Releaser
}

// Releaser releases the resources held by a snapshot or an iterator.
// Calling Release more than once is safe.
type Releaser interface {
	Release()
}

// Iterator walks a key range in ascending order.  It starts before the first
// pair, so the first call to Next moves to it.
type Iterator interface {
	// Next moves to the next pair and reports whether one exists.
	Next() bool

	// Key and Value return the current pair, or nil once exhausted.  The
	// slices are only valid until the next call to Next.
	Key() []byte
	Value() []byte

	// Error returns any accumulated error.  Exhausting the range is not
	// an error.
	Error() error

	Releaser
}

// Range is the key range [Start, Limit).  A nil Start means the first key and
// a nil Limit the end of the keyspace.
type Range struct {
	Start []byte
	Limit []byte
}

// BytesPrefix returns the range of keys starting with prefix.
func BytesPrefix(prefix []byte) *Range {
	var limit []byte
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i]
		if c < 0xff {
			limit = make([]byte, i+1)
			copy(limit, prefix)
			limit[i] = c + 1
			break
		}
	}
	return &Range{Start: prefix, Limit: limit}
}

// Kind names an engine implementation.
type Kind string

// These constants define the supported engines.
const (
	LevelDB Kind = "leveldb"
	Pebble  Kind = "pebble"
)

// SupportedKinds lists the engines accepted by Open.
var SupportedKinds = []Kind{LevelDB, Pebble}

// Open opens or creates the engine of the given kind in dir.
func Open(kind Kind, dir string) (Engine, error) {
	log.Debugf("Opening %s store in %s", kind, dir)
	switch kind {
	case LevelDB:
		return openLevelDB(dir, false)
	case Pebble:
		return openPebble(dir, false, 0, 0)
	}
	return nil, fmt.Errorf("unsupported store engine %q", kind)
}
