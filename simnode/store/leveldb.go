// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"errors"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelDB is the goleveldb engine.
type levelDB struct {
	db     *leveldb.DB
	closed atomic.Bool
}

// openLevelDB opens the database in dir.  With create set it fails when a
// database already exists.
func openLevelDB(dir string, create bool) (Engine, error) {
	opts := opt.Options{
		ErrorIfExist: create,
		Strict:       opt.DefaultStrict,
		Compression:  opt.NoCompression,
		Filter:       filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(dir, &opts)
	if err != nil {
		return nil, err
	}
	return &levelDB{db: db}, nil
}

func (d *levelDB) Transaction() (Transaction, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	tx, err := d.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &levelTx{tx: tx}, nil
}

func (d *levelDB) Snapshot() (Snapshot, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	snap, err := d.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &levelSnapshot{snap: snap}, nil
}

func (d *levelDB) Close() error {
	if d.closed.Swap(true) {
		return ErrClosed
	}
	return d.db.Close()
}

type levelTx struct {
	tx     *leveldb.Transaction
	closed bool
}

func (t *levelTx) Put(key, value []byte) error {
	if t.closed {
		return ErrTxClosed
	}
	return t.tx.Put(key, value, nil)
}

func (t *levelTx) Delete(key []byte) error {
	if t.closed {
		return ErrTxClosed
	}
	return t.tx.Delete(key, nil)
}

func (t *levelTx) Commit() error {
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true
	return t.tx.Commit()
}

func (t *levelTx) Discard() {
	if !t.closed {
		t.closed = true
		t.tx.Discard()
	}
}

type levelSnapshot struct {
	snap     *leveldb.Snapshot
	released bool
}

func (s *levelSnapshot) Get(key []byte) ([]byte, error) {
	if s.released {
		return nil, ErrSnapshotReleased
	}
	val, err := s.snap.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *levelSnapshot) Has(key []byte) (bool, error) {
	if s.released {
		return false, ErrSnapshotReleased
	}
	return s.snap.Has(key, nil)
}

func (s *levelSnapshot) NewIterator(r *Range) Iterator {
	if r == nil {
		r = &Range{}
	}
	return &levelIterator{iter: s.snap.NewIterator(&util.Range{
		Start: r.Start,
		Limit: r.Limit,
	}, nil)}
}

func (s *levelSnapshot) Release() {
	if !s.released {
		s.released = true
		s.snap.Release()
	}
}

// levelIterator reports ErrIterReleased after Release like the pebble
// iterator does.
type levelIterator struct {
	iter interface {
		Next() bool
		Key() []byte
		Value() []byte
		Error() error
		Release()
	}
	released bool
}

func (i *levelIterator) Next() bool {
	return !i.released && i.iter.Next()
}

func (i *levelIterator) Key() []byte {
	if i.released {
		return nil
	}
	return i.iter.Key()
}

func (i *levelIterator) Value() []byte {
	if i.released {
		return nil
	}
	return i.iter.Value()
}

func (i *levelIterator) Error() error {
	if i.released {
		return ErrIterReleased
	}
	return i.iter.Error()
}

func (i *levelIterator) Release() {
	if !i.released {
		i.released = true
		i.iter.Release()
	}
}
