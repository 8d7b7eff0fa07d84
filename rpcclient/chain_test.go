// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// recordedParams holds the parameters a recordingServer received, keyed by
// method.
type recordedParams struct {
	mtx    sync.Mutex
	params map[string][]json.RawMessage
}

func (r *recordedParams) get(t *testing.T, method string) string {
	t.Helper()
	r.mtx.Lock()
	defer r.mtx.Unlock()

	b, err := json.Marshal(r.params[method])
	require.NoError(t, err)
	return string(b)
}

// recordingServer answers every request from results and records the
// parameters it received.
func recordingServer(t *testing.T, results map[string]interface{}) (*Client,
	*recordedParams) {

	t.Helper()
	params := &recordedParams{params: make(map[string][]json.RawMessage)}
	srv := newTestServer(t, func(_ *http.Request, req *btcjson.Request) (interface{}, *btcjson.RPCError) {
		params.mtx.Lock()
		params.params[req.Method] = req.Params
		params.mtx.Unlock()
		result, ok := results[req.Method]
		if !ok {
			return nil, btcjson.ErrRPCMethodNotFound
		}
		return result, nil
	})
	return newTestClient(t, srv, nil), params
}

func TestChainCalls(t *testing.T) {
	block := wire.NewMsgBlock(&chaincfg.RegressionNetParams.GenesisBlock.Header)
	for _, tx := range chaincfg.RegressionNetParams.GenesisBlock.Transactions {
		require.NoError(t, block.AddTransaction(tx))
	}
	var buf bytes.Buffer
	require.NoError(t, block.Serialize(&buf))
	genesisHash := chaincfg.RegressionNetParams.GenesisHash

	client, params := recordingServer(t, map[string]interface{}{
		"getblock":           hex.EncodeToString(buf.Bytes()),
		"getbestblockhash":   genesisHash.String(),
		"generatetoaddress":  []string{genesisHash.String()},
		"getrawmempool":      []string{},
		"sendrawtransaction": genesisHash.String(),
		"setmocktime":        nil,
	})
	ctx := context.Background()

	got, err := client.GetBlock(ctx, genesisHash)
	require.NoError(t, err)
	require.Equal(t, *genesisHash, got.BlockHash())
	require.Equal(t, `["`+genesisHash.String()+`",0]`, params.get(t, "getblock"))

	best, err := client.GetBestBlockHash(ctx)
	require.NoError(t, err)
	require.Equal(t, genesisHash, best)

	addr, err := btcutil.NewAddressPubKeyHash(make([]byte, 20),
		&chaincfg.RegressionNetParams)
	require.NoError(t, err)
	hashes, err := client.GenerateToAddress(ctx, 1, addr)
	require.NoError(t, err)
	require.Equal(t, []*chainhash.Hash{genesisHash}, hashes)
	require.Equal(t, `[1,"`+addr.EncodeAddress()+`"]`, params.get(t, "generatetoaddress"))

	mempool, err := client.GetRawMempool(ctx)
	require.NoError(t, err)
	require.Empty(t, mempool)

	txHash, err := client.SendRawTransaction(ctx, block.Transactions[0])
	require.NoError(t, err)
	require.Equal(t, genesisHash, txHash)

	require.NoError(t, client.SetMockTime(ctx, 1388534400))
	require.Equal(t, `[1388534400]`, params.get(t, "setmocktime"))
}

func TestNetCalls(t *testing.T) {
	client, params := recordingServer(t, map[string]interface{}{
		"addnode": nil,
		"getpeerinfo": []btcjson.GetPeerInfoResult{{
			ID:   1,
			Addr: "127.0.0.1:18444",
		}},
		"getconnectioncount": 1,
	})
	ctx := context.Background()

	require.NoError(t, client.AddNode(ctx, "127.0.0.1:18444", btcjson.ANAdd))
	require.Equal(t, `["127.0.0.1:18444","add"]`, params.get(t, "addnode"))

	peers, err := client.GetPeerInfo(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "127.0.0.1:18444", peers[0].Addr)

	count, err := client.GetConnectionCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}
