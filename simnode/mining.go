// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package simnode

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// blockVersion is the version of mined blocks.
const blockVersion = 4

// anyoneCanSpend is the output script of blocks mined without an address.
var anyoneCanSpend = []byte{txscript.OP_TRUE}

// calcSubsidy returns the coinbase value of a block at height.
func (c *Chain) calcSubsidy(height int32) int64 {
	interval := c.params.SubsidyReductionInterval
	if interval == 0 {
		return 50 * btcutil.SatoshiPerBitcoin
	}
	halvings := uint(height) / uint(interval)
	if halvings >= 64 {
		return 0
	}
	return (50 * btcutil.SatoshiPerBitcoin) >> halvings
}

// coinbaseTx returns the coinbase of a block at height paying to pkScript.
func (c *Chain) coinbaseTx(height int32, pkScript []byte) *wire.MsgTx {
	var script [9]byte
	script[0] = 8
	binary.LittleEndian.PutUint64(script[1:], uint64(height))

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{},
			wire.MaxPrevOutIndex),
		SignatureScript: script[:],
		Sequence:        wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(c.calcSubsidy(height), pkScript))
	return tx
}

// merkleRoot returns the merkle root of the transaction hashes, duplicating
// the last hash of odd levels.
func merkleRoot(txs []*wire.MsgTx) chainhash.Hash {
	level := make([]chainhash.Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.TxHash()
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			var pair [chainhash.HashSize * 2]byte
			copy(pair[:], level[i][:])
			copy(pair[chainhash.HashSize:], level[i+1][:])
			next = append(next, chainhash.DoubleHashH(pair[:]))
		}
		level = next
	}
	return level[0]
}

// Generate mines n blocks on the tip paying to pkScript and returns them.
// Blocks are stamped with now, or one second after their parent if now is not
// later.  Every mempool transaction goes into the first block.
func (c *Chain) Generate(n int, pkScript []byte, now int64) ([]*wire.MsgBlock, error) {
	if pkScript == nil {
		pkScript = anyoneCanSpend
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	blocks := make([]*wire.MsgBlock, 0, n)
	for i := 0; i < n; i++ {
		height := c.tipHeight + 1
		txs := append([]*wire.MsgTx{c.coinbaseTx(height, pkScript)},
			c.mempool.txs()...)

		timestamp := now
		if timestamp <= c.tipTime {
			timestamp = c.tipTime + 1
		}
		root := merkleRoot(txs)
		prev := c.tipHash
		header := wire.NewBlockHeader(blockVersion, &prev, &root,
			c.params.PowLimitBits, uint32(height))
		header.Timestamp = time.Unix(timestamp, 0)

		block := wire.NewMsgBlock(header)
		for _, tx := range txs {
			if err := block.AddTransaction(tx); err != nil {
				return blocks, err
			}
		}

		result, err := c.processBlock(block)
		if err != nil {
			return blocks, err
		}
		if result != BlockConnected {
			return blocks, fmt.Errorf("mined block %v not connected",
				block.BlockHash())
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// AcceptTx adds a transaction to the mempool.  It returns false when the
// transaction is already known.
func (c *Chain) AcceptTx(tx *wire.MsgTx) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.mempool.add(tx)
}

// HaveTx reports whether the transaction is in the mempool.
func (c *Chain) HaveTx(hash *chainhash.Hash) bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.mempool.get(*hash) != nil
}

// MempoolTx returns a mempool transaction, or nil.
func (c *Chain) MempoolTx(hash *chainhash.Hash) *wire.MsgTx {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.mempool.get(*hash)
}

// MempoolHashes returns the hashes of the mempool transactions in arrival
// order.
func (c *Chain) MempoolHashes() []chainhash.Hash {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return append([]chainhash.Hash(nil), c.mempool.order...)
}

// mempool holds unconfirmed transactions in arrival order.
type mempool struct {
	pool  map[chainhash.Hash]*wire.MsgTx
	order []chainhash.Hash
}

func newMempool() *mempool {
	return &mempool{pool: make(map[chainhash.Hash]*wire.MsgTx)}
}

func (m *mempool) add(tx *wire.MsgTx) bool {
	hash := tx.TxHash()
	if _, ok := m.pool[hash]; ok {
		return false
	}
	m.pool[hash] = tx
	m.order = append(m.order, hash)
	return true
}

func (m *mempool) get(hash chainhash.Hash) *wire.MsgTx {
	return m.pool[hash]
}

func (m *mempool) remove(hash chainhash.Hash) {
	if _, ok := m.pool[hash]; !ok {
		return
	}
	delete(m.pool, hash)
	for i, h := range m.order {
		if h == hash {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *mempool) txs() []*wire.MsgTx {
	txs := make([]*wire.MsgTx, len(m.order))
	for i, hash := range m.order {
		txs[i] = m.pool[hash]
	}
	return txs
}
