// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

const (
	// defaultPebbleCache is the block cache size in MiB.
	defaultPebbleCache = 16

	// defaultPebbleHandles is the number of open files pebble may keep.
	defaultPebbleHandles = 16
)

// pebbleDB is the pebble engine.
type pebbleDB struct {
	db     *pebble.DB
	closed atomic.Bool
}

// openPebble opens the database in dir.  With create set it fails when a
// database already exists.
func openPebble(dir string, create bool, cache, handles int) (Engine, error) {
	if cache <= 0 {
		cache = defaultPebbleCache
	}
	if handles <= 0 {
		handles = defaultPebbleHandles
	}

	levels := make([]pebble.LevelOptions, 7)
	for i := range levels {
		levels[i] = pebble.LevelOptions{
			TargetFileSize: int64(2<<i) * 1024 * 1024,
			FilterPolicy:   bloom.FilterPolicy(10),
		}
	}
	blockCache := pebble.NewCache(int64(cache) * 1024 * 1024)
	defer blockCache.Unref()

	opts := &pebble.Options{
		Cache:                    blockCache,
		ErrorIfExists:            create,
		MaxOpenFiles:             handles,
		MaxConcurrentCompactions: runtime.NumCPU,
		Levels:                   levels,
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &pebbleDB{db: db}, nil
}

func (d *pebbleDB) Transaction() (Transaction, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	return &pebbleTx{batch: d.db.NewBatch()}, nil
}

func (d *pebbleDB) Snapshot() (Snapshot, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	return &pebbleSnapshot{snap: d.db.NewSnapshot()}, nil
}

func (d *pebbleDB) Close() error {
	if d.closed.Swap(true) {
		return ErrClosed
	}
	return d.db.Close()
}

type pebbleTx struct {
	batch  *pebble.Batch
	closed bool
}

func (t *pebbleTx) Put(key, value []byte) error {
	if t.closed {
		return ErrTxClosed
	}
	return t.batch.Set(key, value, pebble.NoSync)
}

func (t *pebbleTx) Delete(key []byte) error {
	if t.closed {
		return ErrTxClosed
	}
	return t.batch.Delete(key, pebble.NoSync)
}

func (t *pebbleTx) Commit() error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true
	err := t.batch.Commit(pebble.Sync)
	t.batch.Close()
	return err
}

func (t *pebbleTx) Discard() {
	if !t.closed {
		t.closed = true
		t.batch.Close()
	}
}

type pebbleSnapshot struct {
	snap     *pebble.Snapshot
	released bool
}

func (s *pebbleSnapshot) Get(key []byte) ([]byte, error) {
	if s.released {
		return nil, ErrSnapshotReleased
	}
	val, closer, err := s.snap.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *pebbleSnapshot) Has(key []byte) (bool, error) {
	_, err := s.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (s *pebbleSnapshot) NewIterator(r *Range) Iterator {
	if s.released {
		return &pebbleIterator{err: ErrSnapshotReleased}
	}
	if r == nil {
		r = &Range{}
	}
	iter, err := s.snap.NewIter(&pebble.IterOptions{
		LowerBound: r.Start,
		UpperBound: r.Limit,
	})
	if err != nil {
		return &pebbleIterator{err: err}
	}
	return &pebbleIterator{iter: iter}
}

func (s *pebbleSnapshot) Release() {
	if !s.released {
		s.released = true
		s.snap.Close()
	}
}

// pebbleIterator positions the pebble iterator on its first key on the
// first call to Next.
type pebbleIterator struct {
	iter     *pebble.Iterator
	started  bool
	released bool
	err      error
}

func (i *pebbleIterator) Next() bool {
	if i.iter == nil || i.released {
		return false
	}
	if !i.started {
		i.started = true
		return i.iter.First()
	}
	return i.iter.Next()
}

func (i *pebbleIterator) Key() []byte {
	if i.iter == nil || i.released || !i.iter.Valid() {
		return nil
	}
	return i.iter.Key()
}

func (i *pebbleIterator) Value() []byte {
	if i.iter == nil || i.released || !i.iter.Valid() {
		return nil
	}
	return i.iter.Value()
}

func (i *pebbleIterator) Error() error {
	switch {
	case i.released:
		return ErrIterReleased
	case i.err != nil:
		return i.err
	}
	return i.iter.Error()
}

func (i *pebbleIterator) Release() {
	if i.released {
		return
	}
	i.released = true
	if i.iter != nil {
		i.iter.Close()
	}
}
