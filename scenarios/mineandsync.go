// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/chainharness/harness"
	"github.com/btcsuite/chainharness/topology"
)

// spendFee is the fee paid by the transaction MineAndSync relays.
const spendFee = 1000

// MineAndSync mines on the first node and checks the blocks reach every other
// node.  It then relays a transaction spending the first coinbase of the
// first node and has the last node confirm it.
type MineAndSync struct {
	// Blocks is the number of blocks the first node mines.
	Blocks int64

	// Timeout bounds every wait for the nodes to sync.
	Timeout time.Duration
}

// SetupNetwork asks for at least two nodes connected in a chain.
func (s *MineAndSync) SetupNetwork(req *harness.NetworkRequest) {
	if req.NodeCount < 2 {
		req.NodeCount = 2
	}
	req.Topology = topology.Chain(req.NodeCount)
}

// RunTest mines, relays and confirms.
func (s *MineAndSync) RunTest(ctx context.Context, h *harness.Harness) error {
	nodes := h.Nodes()
	chain := topology.Chain(len(nodes))
	if err := topology.WaitConnected(ctx, chain, h.Peers(), s.Timeout); err != nil {
		return err
	}

	first, err := h.Client(0)
	if err != nil {
		return err
	}
	params := h.Config().Chain
	addr, err := harness.MiningAddress(params, 0)
	if err != nil {
		return err
	}
	if _, err := first.GenerateToAddress(ctx, s.Blocks, addr); err != nil {
		return err
	}
	err = harness.JoinNodes(ctx, nodes, harness.JoinBlocks, s.Timeout)
	if err != nil {
		return err
	}

	// Block 1 is always mined by the first node, during the priming or
	// above.
	hash, err := first.GetBlockHash(ctx, 1)
	if err != nil {
		return err
	}
	block, err := first.GetBlock(ctx, hash)
	if err != nil {
		return err
	}
	last := len(nodes) - 1
	tx, err := spendCoinbase(block.Transactions[0], h, last)
	if err != nil {
		return err
	}
	txHash, err := first.SendRawTransaction(ctx, tx)
	if err != nil {
		return err
	}
	err = harness.JoinNodes(ctx, nodes, harness.JoinMempools, s.Timeout)
	if err != nil {
		return err
	}

	confirmer, err := h.Client(last)
	if err != nil {
		return err
	}
	lastAddr, err := harness.MiningAddress(params, last)
	if err != nil {
		return err
	}
	if _, err := confirmer.GenerateToAddress(ctx, 1, lastAddr); err != nil {
		return err
	}
	err = harness.JoinNodes(ctx, nodes, harness.JoinBlocks|harness.JoinMempools,
		s.Timeout)
	if err != nil {
		return err
	}

	mempool, err := first.GetRawMempool(ctx)
	if err != nil {
		return err
	}
	if len(mempool) != 0 {
		return fmt.Errorf("transaction %v still unconfirmed", txHash)
	}
	return nil
}

// spendCoinbase returns a transaction paying the first output of coinbase,
// which pays the mining address of node 0, to the mining address of node to.
func spendCoinbase(coinbase *wire.MsgTx, h *harness.Harness, to int) (*wire.MsgTx, error) {
	params := h.Config().Chain
	toAddr, err := harness.MiningAddress(params, to)
	if err != nil {
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(toAddr)
	if err != nil {
		return nil, err
	}

	prevOut := coinbase.TxOut[0]
	if prevOut.Value <= spendFee {
		return nil, fmt.Errorf("coinbase value %d too small", prevOut.Value)
	}
	coinbaseHash := coinbase.TxHash()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&coinbaseHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(prevOut.Value-spendFee, pkScript))

	sigScript, err := txscript.SignatureScript(tx, 0, prevOut.PkScript,
		txscript.SigHashAll, harness.MiningKey(0), true)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].SignatureScript = sigScript
	return tx, nil
}
