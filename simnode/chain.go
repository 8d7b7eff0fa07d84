// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package simnode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/chainharness/simnode/store"
)

// Key prefixes of the chain records.
var (
	// blockPrefix + hash -> height (8 bytes) | serialized block
	blockPrefix = []byte("b")

	// heightPrefix + big endian height -> hash of the main chain block
	heightPrefix = []byte("h")

	// tipKey -> hash of the main chain tip
	tipKey = []byte("tip")
)

// maxLocatorHashes bounds the size of a block locator.
const maxLocatorHashes = 64

// blockKey returns the record key of a block.
func blockKey(hash *chainhash.Hash) []byte {
	return append(append([]byte(nil), blockPrefix...), hash[:]...)
}

// heightKey returns the main chain index key of a height.
func heightKey(height int32) []byte {
	key := make([]byte, len(heightPrefix)+8)
	copy(key, heightPrefix)
	binary.BigEndian.PutUint64(key[len(heightPrefix):], uint64(height))
	return key
}

// Chain is the block chain of a simulated node.  Blocks are not validated
// beyond linking to a known parent; the longest chain wins and ties keep the
// block seen first.
type Chain struct {
	params *chaincfg.Params
	db     store.Engine

	mtx       sync.RWMutex
	tipHash   chainhash.Hash
	tipHeight int32
	tipTime   int64
	mempool   *mempool
}

// NewChain loads the chain kept in db, writing the genesis block of params
// when db is empty.
func NewChain(params *chaincfg.Params, db store.Engine) (*Chain, error) {
	c := &Chain{
		params:  params,
		db:      db,
		mempool: newMempool(),
	}

	snap, err := db.Snapshot()
	if err != nil {
		return nil, err
	}
	tip, err := snap.Get(tipKey)
	snap.Release()

	switch {
	case errors.Is(err, store.ErrNotFound):
		genesis := params.GenesisBlock
		if err := c.writeBlocks(nil, []*wire.MsgBlock{genesis}, 0); err != nil {
			return nil, err
		}
		c.tipHash = genesis.BlockHash()
		c.tipHeight = 0
		c.tipTime = genesis.Header.Timestamp.Unix()
		log.Infof("Initialized %s chain with genesis block %v",
			params.Name, c.tipHash)
		return c, nil

	case err != nil:
		return nil, err
	}

	copy(c.tipHash[:], tip)
	block, height, err := c.fetchBlock(&c.tipHash)
	if err != nil {
		return nil, fmt.Errorf("unable to load tip %v: %w", c.tipHash, err)
	}
	c.tipHeight = height
	c.tipTime = block.Header.Timestamp.Unix()
	log.Infof("Loaded %s chain at height %d (%v)", params.Name, height,
		c.tipHash)
	return c, nil
}

// Tip returns the hash and height of the best block.
func (c *Chain) Tip() (chainhash.Hash, int32) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.tipHash, c.tipHeight
}

// fetchBlock returns a stored block and its height.
func (c *Chain) fetchBlock(hash *chainhash.Hash) (*wire.MsgBlock, int32, error) {
	snap, err := c.db.Snapshot()
	if err != nil {
		return nil, 0, err
	}
	defer snap.Release()

	raw, err := snap.Get(blockKey(hash))
	if err != nil {
		return nil, 0, err
	}
	if len(raw) < 8 {
		return nil, 0, fmt.Errorf("short block record %v", hash)
	}
	var block wire.MsgBlock
	if err := block.Deserialize(bytes.NewReader(raw[8:])); err != nil {
		return nil, 0, err
	}
	return &block, int32(binary.BigEndian.Uint64(raw[:8])), nil
}

// Block returns a stored block, main chain or not.
func (c *Chain) Block(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	block, _, err := c.fetchBlock(hash)
	return block, err
}

// HaveBlock reports whether the block is stored.
func (c *Chain) HaveBlock(hash *chainhash.Hash) bool {
	snap, err := c.db.Snapshot()
	if err != nil {
		return false
	}
	defer snap.Release()
	ok, _ := snap.Has(blockKey(hash))
	return ok
}

// BlockHash returns the hash of the main chain block at height.
func (c *Chain) BlockHash(height int32) (*chainhash.Hash, error) {
	snap, err := c.db.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return mainChainHash(snap, height)
}

// mainChainHash reads the main chain index.
func mainChainHash(snap store.Snapshot, height int32) (*chainhash.Hash, error) {
	if height < 0 {
		return nil, store.ErrNotFound
	}
	raw, err := snap.Get(heightKey(height))
	if err != nil {
		return nil, err
	}
	var hash chainhash.Hash
	copy(hash[:], raw)
	return &hash, nil
}

// writeBlocks stores blocks as the main chain from height start on and moves
// the tip to the last of them.  Blocks listed in side are stored without
// touching the index.
func (c *Chain) writeBlocks(side []*wire.MsgBlock, main []*wire.MsgBlock, start int32) error {
	tx, err := c.db.Transaction()
	if err != nil {
		return err
	}

	put := func(block *wire.MsgBlock, height int32) error {
		var buf bytes.Buffer
		var h [8]byte
		binary.BigEndian.PutUint64(h[:], uint64(height))
		buf.Write(h[:])
		if err := block.Serialize(&buf); err != nil {
			return err
		}
		hash := block.BlockHash()
		return tx.Put(blockKey(&hash), buf.Bytes())
	}

	for _, block := range side {
		height, err := c.sideHeight(block)
		if err != nil {
			tx.Discard()
			return err
		}
		if err := put(block, height); err != nil {
			tx.Discard()
			return err
		}
	}
	var tip chainhash.Hash
	for i, block := range main {
		height := start + int32(i)
		if err := put(block, height); err != nil {
			tx.Discard()
			return err
		}
		tip = block.BlockHash()
		if err := tx.Put(heightKey(height), tip[:]); err != nil {
			tx.Discard()
			return err
		}
	}
	if len(main) > 0 {
		if err := tx.Put(tipKey, tip[:]); err != nil {
			tx.Discard()
			return err
		}
	}
	return tx.Commit()
}

// sideHeight returns the height of a block whose parent is stored.
func (c *Chain) sideHeight(block *wire.MsgBlock) (int32, error) {
	_, height, err := c.fetchBlock(&block.Header.PrevBlock)
	if err != nil {
		return 0, err
	}
	return height + 1, nil
}

// ProcessResult tells what ProcessBlock did with a block.
type ProcessResult int

// These constants define the outcomes of ProcessBlock.
const (
	// BlockDuplicate means the block was already stored.
	BlockDuplicate ProcessResult = iota

	// BlockOrphan means the parent of the block is unknown.
	BlockOrphan

	// BlockSideChain means the block was stored but the tip did not move.
	BlockSideChain

	// BlockConnected means the block became the new tip.
	BlockConnected
)

// ProcessBlock stores the block and moves the tip to it when it extends the
// longest chain, reorganizing if it lives on a branch.
func (c *Chain) ProcessBlock(block *wire.MsgBlock) (ProcessResult, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.processBlock(block)
}

// processBlock is ProcessBlock with the chain lock held.
func (c *Chain) processBlock(block *wire.MsgBlock) (ProcessResult, error) {
	hash := block.BlockHash()
	if c.HaveBlock(&hash) {
		return BlockDuplicate, nil
	}

	prev := block.Header.PrevBlock
	if prev == c.tipHash {
		if err := c.writeBlocks(nil, []*wire.MsgBlock{block}, c.tipHeight+1); err != nil {
			return 0, err
		}
		c.setTip(block, c.tipHeight+1)
		return BlockConnected, nil
	}

	_, prevHeight, err := c.fetchBlock(&prev)
	if errors.Is(err, store.ErrNotFound) {
		return BlockOrphan, nil
	}
	if err != nil {
		return 0, err
	}

	height := prevHeight + 1
	if height <= c.tipHeight {
		if err := c.writeBlocks([]*wire.MsgBlock{block}, nil, 0); err != nil {
			return 0, err
		}
		log.Debugf("Stored side chain block %v at height %d", hash, height)
		return BlockSideChain, nil
	}

	// The branch is now the longest one: collect it back to the fork point
	// and index it as the main chain.
	branch := []*wire.MsgBlock{block}
	forkHeight := prevHeight
	cursor := prev
	for {
		mainHash, err := c.BlockHash(forkHeight)
		if err != nil {
			return 0, err
		}
		if *mainHash == cursor {
			break
		}
		parent, _, err := c.fetchBlock(&cursor)
		if err != nil {
			return 0, err
		}
		branch = append([]*wire.MsgBlock{parent}, branch...)
		cursor = parent.Header.PrevBlock
		forkHeight--
	}
	if err := c.writeBlocks(nil, branch, forkHeight+1); err != nil {
		return 0, err
	}
	log.Infof("Reorganized from height %d to %d, fork at %d", c.tipHeight,
		height, forkHeight)
	c.setTip(block, height)
	return BlockConnected, nil
}

// setTip records a new tip and drops its transactions from the mempool.
func (c *Chain) setTip(block *wire.MsgBlock, height int32) {
	c.tipHash = block.BlockHash()
	c.tipHeight = height
	c.tipTime = block.Header.Timestamp.Unix()
	for _, tx := range block.Transactions[1:] {
		c.mempool.remove(tx.TxHash())
	}
	log.Debugf("New tip %v at height %d", c.tipHash, height)
}

// Locator returns hashes of the main chain going back from the tip with
// growing steps, ending with the genesis block.
func (c *Chain) Locator() []*chainhash.Hash {
	c.mtx.RLock()
	tipHeight := c.tipHeight
	c.mtx.RUnlock()

	var locator []*chainhash.Hash
	step := int32(1)
	for height := tipHeight; height > 0 && len(locator) < maxLocatorHashes-1; height -= step {
		hash, err := c.BlockHash(height)
		if err != nil {
			break
		}
		locator = append(locator, hash)
		if len(locator) > 10 {
			step *= 2
		}
	}
	genesis := *c.params.GenesisHash
	return append(locator, &genesis)
}

// HashesAfter returns up to max main chain hashes following the first
// locator hash found in the main chain, stopping after hashStop.
func (c *Chain) HashesAfter(locator []*chainhash.Hash, hashStop *chainhash.Hash, max int) []chainhash.Hash {
	c.mtx.RLock()
	tipHeight := c.tipHeight
	c.mtx.RUnlock()

	start := int32(0)
	for _, hash := range locator {
		_, height, err := c.fetchBlock(hash)
		if err != nil {
			continue
		}
		if mainHash, err := c.BlockHash(height); err == nil && *mainHash == *hash {
			start = height + 1
			break
		}
	}

	var hashes []chainhash.Hash
	for height := start; height <= tipHeight && len(hashes) < max; height++ {
		hash, err := c.BlockHash(height)
		if err != nil {
			break
		}
		hashes = append(hashes, *hash)
		if hashStop != nil && *hash == *hashStop {
			break
		}
	}
	return hashes
}
