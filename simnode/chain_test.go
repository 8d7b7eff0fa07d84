// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package simnode

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/chainharness/simnode/store"
	"github.com/stretchr/testify/require"
)

func openTestChain(t *testing.T, kind store.Kind, dir string) (*Chain, store.Engine) {
	t.Helper()
	db, err := store.Open(kind, dir)
	require.NoError(t, err)
	chain, err := NewChain(&chaincfg.RegressionNetParams, db)
	require.NoError(t, err)
	return chain, db
}

// testTx returns a transaction spending a made up outpoint.
func testTx(seed byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{seed}, 0),
		nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, anyoneCanSpend))
	return tx
}

func TestChainGenerateAndReload(t *testing.T) {
	for _, kind := range store.SupportedKinds {
		dir := filepath.Join(t.TempDir(), string(kind))
		chain, db := openTestChain(t, kind, dir)

		hash, height := chain.Tip()
		require.Equal(t, *chaincfg.RegressionNetParams.GenesisHash, hash)
		require.Zero(t, height)

		blocks, err := chain.Generate(5, nil, 1700000000)
		require.NoError(t, err)
		require.Len(t, blocks, 5)

		hash, height = chain.Tip()
		require.EqualValues(t, 5, height)
		require.Equal(t, blocks[4].BlockHash(), hash)
		for i, block := range blocks {
			got, err := chain.BlockHash(int32(i + 1))
			require.NoError(t, err)
			require.Equal(t, block.BlockHash(), *got)
			require.Equal(t, int64(1700000000+i),
				block.Header.Timestamp.Unix())
		}
		require.NoError(t, db.Close())

		chain, db = openTestChain(t, kind, dir)
		reloaded, height := chain.Tip()
		require.EqualValues(t, 5, height)
		require.Equal(t, hash, reloaded)
		require.NoError(t, db.Close())
	}
}

func TestChainMempool(t *testing.T) {
	chain, db := openTestChain(t, store.LevelDB, t.TempDir())
	defer db.Close()

	tx := testTx(1)
	require.True(t, chain.AcceptTx(tx))
	require.False(t, chain.AcceptTx(tx))
	txHash := tx.TxHash()
	require.True(t, chain.HaveTx(&txHash))
	require.Equal(t, []chainhash.Hash{txHash}, chain.MempoolHashes())

	blocks, err := chain.Generate(1, nil, 0)
	require.NoError(t, err)
	require.Len(t, blocks[0].Transactions, 2)
	require.Equal(t, txHash, blocks[0].Transactions[1].TxHash())
	require.Empty(t, chain.MempoolHashes())
	require.Nil(t, chain.MempoolTx(&txHash))
}

func TestChainSync(t *testing.T) {
	a, dbA := openTestChain(t, store.LevelDB, t.TempDir())
	defer dbA.Close()
	b, dbB := openTestChain(t, store.Pebble, t.TempDir())
	defer dbB.Close()

	blocks, err := a.Generate(12, nil, 0)
	require.NoError(t, err)

	// Blocks after the locator of b are everything a mined.
	hashes := a.HashesAfter(b.Locator(), nil, wire.MaxBlocksPerMsg)
	require.Len(t, hashes, 12)

	// An orphan is not connected.
	result, err := b.ProcessBlock(blocks[1])
	require.NoError(t, err)
	require.Equal(t, BlockOrphan, result)

	for _, block := range blocks {
		result, err := b.ProcessBlock(block)
		require.NoError(t, err)
		require.Equal(t, BlockConnected, result)
	}
	result, err = b.ProcessBlock(blocks[3])
	require.NoError(t, err)
	require.Equal(t, BlockDuplicate, result)

	tipA, _ := a.Tip()
	tipB, _ := b.Tip()
	require.Equal(t, tipA, tipB)
	require.Empty(t, a.HashesAfter(b.Locator(), nil, wire.MaxBlocksPerMsg))

	stop := blocks[2].BlockHash()
	require.Len(t, a.HashesAfter(nil, &stop, wire.MaxBlocksPerMsg), 4)
}

func TestChainReorganize(t *testing.T) {
	a, dbA := openTestChain(t, store.LevelDB, t.TempDir())
	defer dbA.Close()
	b, dbB := openTestChain(t, store.LevelDB, t.TempDir())
	defer dbB.Close()

	common, err := a.Generate(2, nil, 100)
	require.NoError(t, err)
	for _, block := range common {
		_, err := b.ProcessBlock(block)
		require.NoError(t, err)
	}

	// a mines a short branch, b a longer one with other timestamps.
	short, err := a.Generate(2, nil, 200)
	require.NoError(t, err)
	long, err := b.Generate(3, []byte{txscript.OP_2}, 300)
	require.NoError(t, err)

	result, err := a.ProcessBlock(long[0])
	require.NoError(t, err)
	require.Equal(t, BlockSideChain, result)
	result, err = a.ProcessBlock(long[1])
	require.NoError(t, err)
	require.Equal(t, BlockSideChain, result)
	result, err = a.ProcessBlock(long[2])
	require.NoError(t, err)
	require.Equal(t, BlockConnected, result)

	tip, height := a.Tip()
	require.EqualValues(t, 5, height)
	require.Equal(t, long[2].BlockHash(), tip)
	for i, block := range long {
		hash, err := a.BlockHash(int32(3 + i))
		require.NoError(t, err)
		require.Equal(t, block.BlockHash(), *hash)
	}

	// The old branch is still stored.
	oldHash := short[1].BlockHash()
	require.True(t, a.HaveBlock(&oldHash))
}

func TestMerkleRoot(t *testing.T) {
	one := []*wire.MsgTx{testTx(1)}
	require.Equal(t, one[0].TxHash(), merkleRoot(one))

	three := []*wire.MsgTx{testTx(1), testTx(2), testTx(3)}
	require.NotEqual(t, merkleRoot(three[:2]), merkleRoot(three))
}
