// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package simnode

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/chainharness/rpcclient"
	"github.com/btcsuite/chainharness/simnode/store"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	*Node
	client *rpcclient.Client
	done   chan error
}

// startTestNode runs a node on loopback ports until the test ends.
func startTestNode(t *testing.T, mutate func(*Config)) *testNode {
	t.Helper()

	cfg := &Config{
		DataDir:     t.TempDir(),
		ChainParams: &chaincfg.RegressionNetParams,
		Listen:      "127.0.0.1:0",
		RPCListen:   "127.0.0.1:0",
		RPCUser:     "user",
		RPCPass:     "pass",
		Engine:      store.LevelDB,
	}
	if mutate != nil {
		mutate(cfg)
	}
	n, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, n.Start(ctx))

	tn := &testNode{Node: n, done: make(chan error, 1)}
	go func() {
		tn.done <- n.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-tn.done
	})

	tn.client = newTestClient(t, n.RPCAddr(), "")
	return tn
}

func newTestClient(t *testing.T, host, endpoint string) *rpcclient.Client {
	t.Helper()
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:     host,
		Endpoint: endpoint,
		User:     "user",
		Pass:     "pass",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(client.Shutdown)
	return client
}

func requireRPCError(t *testing.T, err error, code btcjson.RPCErrorCode) {
	t.Helper()
	var rpcErr *btcjson.RPCError
	require.True(t, errors.As(err, &rpcErr), "got %v", err)
	require.Equal(t, code, rpcErr.Code)
}

func testAddress(t *testing.T) btcutil.Address {
	t.Helper()
	addr, err := btcutil.NewAddressPubKeyHash(make([]byte, 20),
		&chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr
}

func TestNodeRPC(t *testing.T) {
	n := startTestNode(t, func(cfg *Config) {
		cfg.Engine = store.Pebble
		cfg.Warmup = 300 * time.Millisecond
	})
	ctx := context.Background()

	_, err := n.client.GetBlockCount(ctx)
	requireRPCError(t, err, btcjson.ErrRPCInWarmup)
	time.Sleep(350 * time.Millisecond)

	count, err := n.client.GetBlockCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	require.NoError(t, n.client.SetMockTime(ctx, 1700000000))
	hashes, err := n.client.GenerateToAddress(ctx, 3, testAddress(t))
	require.NoError(t, err)
	require.Len(t, hashes, 3)

	best, err := n.client.GetBestBlockHash(ctx)
	require.NoError(t, err)
	require.Equal(t, hashes[2], best)
	hash, err := n.client.GetBlockHash(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, hashes[0], hash)

	_, err = n.client.GetBlockHash(ctx, 4)
	requireRPCError(t, err, btcjson.ErrRPCInvalidParameter)

	var blockHex string
	require.NoError(t, n.client.CallResult(ctx, &blockHex, "getblock",
		hashes[0].String(), 0))
	raw, err := hex.DecodeString(blockHex)
	require.NoError(t, err)
	var block wire.MsgBlock
	require.NoError(t, block.Deserialize(bytes.NewReader(raw)))
	require.Equal(t, *hashes[0], block.BlockHash())
	require.Equal(t, int64(1700000000), block.Header.Timestamp.Unix())

	mainnetAddr, err := btcutil.NewAddressPubKeyHash(make([]byte, 20),
		&chaincfg.MainNetParams)
	require.NoError(t, err)
	_, err = n.client.GenerateToAddress(ctx, 1, mainnetAddr)
	requireRPCError(t, err, btcjson.ErrRPCInvalidAddressOrKey)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hashes[0], 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, anyoneCanSpend))
	txHash, err := n.client.SendRawTransaction(ctx, tx)
	require.NoError(t, err)
	mempool, err := n.client.GetRawMempool(ctx)
	require.NoError(t, err)
	require.Len(t, mempool, 1)
	require.Equal(t, txHash, mempool[0])

	_, err = n.client.Call(ctx, "sendrawtransaction", "00ff")
	requireRPCError(t, err, btcjson.ErrRPCDeserialization)
	_, err = n.client.Call(ctx, "getnetworkhashps")
	requireRPCError(t, err, btcjson.ErrRPCMethodNotFound.Code)
	_, err = n.client.Call(ctx, "getblockhash")
	requireRPCError(t, err, btcjson.ErrRPCInvalidParameter)

	ws := newTestClient(t, n.RPCAddr(), rpcclient.EndpointWebsocket)
	count, err = ws.GetBlockCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	bad, err := rpcclient.New(&rpcclient.ConnConfig{
		Host: n.RPCAddr(),
		User: "user",
		Pass: "wrong",
	})
	require.NoError(t, err)
	defer bad.Shutdown()
	_, err = bad.GetBlockCount(ctx)
	require.ErrorIs(t, err, rpcclient.ErrAuthFailed)

	require.NoError(t, n.client.Stop(ctx))
	select {
	case err := <-n.done:
		require.NoError(t, err)
		n.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, timeout, 20*time.Millisecond)
}

func TestNodesRelay(t *testing.T) {
	a := startTestNode(t, nil)
	b := startTestNode(t, func(cfg *Config) {
		cfg.Engine = store.Pebble
	})
	ctx := context.Background()

	// b starts ahead and a catches up on connect.
	_, err := b.client.GenerateToAddress(ctx, 4, testAddress(t))
	require.NoError(t, err)

	require.NoError(t, a.client.AddNode(ctx, b.P2PAddr(), btcjson.ANAdd))
	err = a.client.AddNode(ctx, b.P2PAddr(), btcjson.ANAdd)
	requireRPCError(t, err, btcjson.ErrRPCClientNodeAlreadyAdded)

	waitFor(t, 5*time.Second, func() bool {
		count, err := b.client.GetConnectionCount(ctx)
		return err == nil && count == 1
	})
	peers, err := a.client.GetPeerInfo(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, b.P2PAddr(), peers[0].Addr)
	require.False(t, peers[0].Inbound)

	sameTip := func() bool {
		hashA, errA := a.client.GetBestBlockHash(ctx)
		hashB, errB := b.client.GetBestBlockHash(ctx)
		return errA == nil && errB == nil && *hashA == *hashB
	}
	waitFor(t, 5*time.Second, sameTip)

	// New blocks are relayed both ways.
	_, err = a.client.GenerateToAddress(ctx, 2, testAddress(t))
	require.NoError(t, err)
	waitFor(t, 5*time.Second, sameTip)
	count, err := b.client.GetBlockCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 6, count)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, anyoneCanSpend))
	txHash, err := b.client.SendRawTransaction(ctx, tx)
	require.NoError(t, err)
	waitFor(t, 5*time.Second, func() bool {
		mempool, err := a.client.GetRawMempool(ctx)
		return err == nil && len(mempool) == 1 && *mempool[0] == *txHash
	})

	require.NoError(t, a.client.AddNode(ctx, b.P2PAddr(), btcjson.ANRemove))
	err = a.client.AddNode(ctx, b.P2PAddr(), btcjson.ANRemove)
	requireRPCError(t, err, btcjson.ErrRPCClientNodeNotAdded)
	waitFor(t, 5*time.Second, func() bool {
		count, err := a.client.GetConnectionCount(ctx)
		return err == nil && count == 0
	})
}

func TestInjectedFailures(t *testing.T) {
	n := startTestNode(t, func(cfg *Config) {
		cfg.FailStop = true
	})
	require.NoError(t, n.client.Stop(context.Background()))
	err := <-n.done
	require.ErrorIs(t, err, ErrInjectedStopFailure)
	n.done <- err

	crashing := startTestNode(t, func(cfg *Config) {
		cfg.CrashAfter = 100 * time.Millisecond
	})
	err = <-crashing.done
	require.ErrorIs(t, err, ErrInjectedCrash)
	crashing.done <- err
}
