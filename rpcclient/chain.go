// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2015-2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcclient

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// GetBlockCount returns the number of blocks in the longest block chain.
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var count int64
	err := c.CallResult(ctx, &count, "getblockcount")
	return count, err
}

// GetBestBlockHash returns the hash of the best block in the longest block
// chain.
func (c *Client) GetBestBlockHash(ctx context.Context) (*chainhash.Hash, error) {
	var txHashStr string
	if err := c.CallResult(ctx, &txHashStr, "getbestblockhash"); err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(txHashStr)
}

// GetBlockHash returns the hash of the block in the best block chain at the
// given height.
func (c *Client) GetBlockHash(ctx context.Context, blockHeight int64) (*chainhash.Hash, error) {
	var txHashStr string
	err := c.CallResult(ctx, &txHashStr, "getblockhash", blockHeight)
	if err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(txHashStr)
}

// GenerateToAddress generates numBlocks blocks paying the coinbase to the
// given address and returns their hashes.
func (c *Client) GenerateToAddress(ctx context.Context, numBlocks int64,
	address btcutil.Address) ([]*chainhash.Hash, error) {

	var result []string
	err := c.CallResult(ctx, &result, "generatetoaddress", numBlocks,
		address.EncodeAddress())
	if err != nil {
		return nil, err
	}
	return decodeHashes(result)
}

// GetBlock returns the block with the given hash, as serialized by the node.
func (c *Client) GetBlock(ctx context.Context, blockHash *chainhash.Hash) (*wire.MsgBlock, error) {
	var blockHex string
	err := c.CallResult(ctx, &blockHex, "getblock", blockHash.String(), 0)
	if err != nil {
		return nil, err
	}
	serializedBlock, err := hex.DecodeString(blockHex)
	if err != nil {
		return nil, err
	}

	var msgBlock wire.MsgBlock
	if err := msgBlock.Deserialize(bytes.NewReader(serializedBlock)); err != nil {
		return nil, err
	}
	return &msgBlock, nil
}

// GetRawMempool returns the hashes of all transactions in the memory pool.
func (c *Client) GetRawMempool(ctx context.Context) ([]*chainhash.Hash, error) {
	var txHashStrs []string
	if err := c.CallResult(ctx, &txHashStrs, "getrawmempool"); err != nil {
		return nil, err
	}
	return decodeHashes(txHashStrs)
}

// SendRawTransaction submits a transaction to the mempool of the node and
// returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	var txHashStr string
	err := c.CallResult(ctx, &txHashStr, "sendrawtransaction",
		hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(txHashStr)
}

// SetMockTime pins the clock of the node to the given unix time.  A zero time
// returns the node to the system clock.
func (c *Client) SetMockTime(ctx context.Context, unixTime int64) error {
	return c.CallResult(ctx, nil, "setmocktime", unixTime)
}

// Ping queues a ping to every connected peer.
func (c *Client) Ping(ctx context.Context) error {
	return c.CallResult(ctx, nil, "ping")
}

// Stop asks the node to shut down.  The node acknowledges before it exits.
func (c *Client) Stop(ctx context.Context) error {
	return c.CallResult(ctx, nil, "stop")
}

func decodeHashes(strs []string) ([]*chainhash.Hash, error) {
	hashes := make([]*chainhash.Hash, 0, len(strs))
	for _, str := range strs {
		hash, err := chainhash.NewHashFromStr(str)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}
