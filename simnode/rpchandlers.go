// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package simnode

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// maxGenerate bounds the number of blocks mined by a single call.
const maxGenerate = 1000

// commandHandler answers one RPC method.  Returned *btcjson.RPCError values
// are passed to the client unchanged.
type commandHandler func(*Node, []json.RawMessage) (interface{}, error)

// rpcHandlers maps RPC methods to their handlers.
var rpcHandlers map[string]commandHandler

func init() {
	rpcHandlers = map[string]commandHandler{
		"addnode":            handleAddNode,
		"generate":           handleGenerate,
		"generatetoaddress":  handleGenerateToAddress,
		"getbestblockhash":   handleGetBestBlockHash,
		"getblock":           handleGetBlock,
		"getblockcount":      handleGetBlockCount,
		"getblockhash":       handleGetBlockHash,
		"getconnectioncount": handleGetConnectionCount,
		"getpeerinfo":        handleGetPeerInfo,
		"getrawmempool":      handleGetRawMempool,
		"ping":               handlePing,
		"sendrawtransaction": handleSendRawTransaction,
		"setmocktime":        handleSetMockTime,
		"stop":               handleStop,
		"uptime":             handleUptime,
	}
}

// Methods returns the RPC methods the node answers.
func Methods() []string {
	methods := make([]string, 0, len(rpcHandlers))
	for method := range rpcHandlers {
		methods = append(methods, method)
	}
	return methods
}

// parseParams decodes the positional parameters into dst.  The first
// required parameters must be present; the others keep their value when
// omitted.
func parseParams(params []json.RawMessage, required int, dst ...interface{}) error {
	if len(params) < required || len(params) > len(dst) {
		return btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter, fmt.Sprintf(
			"wrong number of params (expected %d to %d, received %d)",
			required, len(dst), len(params)))
	}
	for i, param := range params {
		if err := json.Unmarshal(param, dst[i]); err != nil {
			return btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
				fmt.Sprintf("parameter #%d: %v", i+1, err))
		}
	}
	return nil
}

// handleAddNode implements the addnode command.
func handleAddNode(n *Node, params []json.RawMessage) (interface{}, error) {
	var addr, subCmd string
	if err := parseParams(params, 2, &addr, &subCmd); err != nil {
		return nil, err
	}
	if rpcErr := n.p2p.AddNode(addr, btcjson.AddNodeSubCmd(subCmd)); rpcErr != nil {
		return nil, rpcErr
	}
	return nil, nil
}

// generate mines blocks paying to pkScript and returns their hashes.
func (n *Node) generate(count int64, pkScript []byte) ([]string, error) {
	if count <= 0 || count > maxGenerate {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			fmt.Sprintf("block count must be in 1-%d", maxGenerate))
	}
	blocks, err := n.chain.Generate(int(count), pkScript, n.now())
	hashes := make([]string, 0, len(blocks))
	for _, block := range blocks {
		hash := block.BlockHash()
		hashes = append(hashes, hash.String())
		n.p2p.relay(wire.InvTypeBlock, hash, nil)
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("Generated %d blocks", len(blocks))
	return hashes, nil
}

// handleGenerate implements the generate command.
func handleGenerate(n *Node, params []json.RawMessage) (interface{}, error) {
	var count int64
	if err := parseParams(params, 1, &count); err != nil {
		return nil, err
	}
	return n.generate(count, nil)
}

// handleGenerateToAddress implements the generatetoaddress command.
func handleGenerateToAddress(n *Node, params []json.RawMessage) (interface{}, error) {
	var count int64
	var address string
	if err := parseParams(params, 2, &count, &address); err != nil {
		return nil, err
	}

	addr, err := btcutil.DecodeAddress(address, n.cfg.ChainParams)
	if err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey,
			"Invalid address: "+err.Error())
	}
	if !addr.IsForNet(n.cfg.ChainParams) {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey,
			"Address is for another network")
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey,
			err.Error())
	}
	return n.generate(count, pkScript)
}

// handleGetBestBlockHash implements the getbestblockhash command.
func handleGetBestBlockHash(n *Node, _ []json.RawMessage) (interface{}, error) {
	hash, _ := n.chain.Tip()
	return hash.String(), nil
}

// handleGetBlock implements the getblock command with verbosity 0, returning
// the serialized block as hex.
func handleGetBlock(n *Node, params []json.RawMessage) (interface{}, error) {
	var hashStr string
	verbosity := 0
	if err := parseParams(params, 1, &hashStr, &verbosity); err != nil {
		return nil, err
	}
	if verbosity != 0 {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"only verbosity 0 is supported")
	}
	hash, err := chainhash.NewHashFromStr(hashStr)
	if err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			err.Error())
	}
	block, err := n.chain.Block(hash)
	if err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCBlockNotFound,
			"Block not found")
	}
	var buf bytes.Buffer
	if err := block.Serialize(&buf); err != nil {
		return nil, err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// handleGetBlockCount implements the getblockcount command.
func handleGetBlockCount(n *Node, _ []json.RawMessage) (interface{}, error) {
	_, height := n.chain.Tip()
	return int64(height), nil
}

// handleGetBlockHash implements the getblockhash command.
func handleGetBlockHash(n *Node, params []json.RawMessage) (interface{}, error) {
	var height int64
	if err := parseParams(params, 1, &height); err != nil {
		return nil, err
	}
	if _, tip := n.chain.Tip(); height < 0 || height > int64(tip) {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"Block height out of range")
	}
	hash, err := n.chain.BlockHash(int32(height))
	if err != nil {
		return nil, err
	}
	return hash.String(), nil
}

// handleGetConnectionCount implements the getconnectioncount command.
func handleGetConnectionCount(n *Node, _ []json.RawMessage) (interface{}, error) {
	return int64(len(n.p2p.Peers())), nil
}

// handleGetPeerInfo implements the getpeerinfo command.
func handleGetPeerInfo(n *Node, _ []json.RawMessage) (interface{}, error) {
	peers := n.p2p.Peers()
	infos := make([]btcjson.GetPeerInfoResult, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, p.peerInfo())
	}
	return infos, nil
}

// handleGetRawMempool implements the non-verbose getrawmempool command.
func handleGetRawMempool(n *Node, params []json.RawMessage) (interface{}, error) {
	var verbose bool
	if err := parseParams(params, 0, &verbose); err != nil {
		return nil, err
	}
	if verbose {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"verbose mempool is not supported")
	}
	hashes := n.chain.MempoolHashes()
	txids := make([]string, len(hashes))
	for i := range hashes {
		txids[i] = hashes[i].String()
	}
	return txids, nil
}

// handlePing implements the ping command.
func handlePing(n *Node, _ []json.RawMessage) (interface{}, error) {
	n.p2p.ping()
	return nil, nil
}

// handleSendRawTransaction implements the sendrawtransaction command.  The
// transaction is only checked to decode.
func handleSendRawTransaction(n *Node, params []json.RawMessage) (interface{}, error) {
	var txHex string
	if err := parseParams(params, 1, &txHex); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCDeserialization,
			"TX decode failed: "+err.Error())
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCDeserialization,
			"TX decode failed: "+err.Error())
	}
	hash := tx.TxHash()
	if n.chain.AcceptTx(&tx) {
		n.p2p.relay(wire.InvTypeTx, hash, nil)
	}
	return hash.String(), nil
}

// handleSetMockTime implements the setmocktime command.  Zero restores the
// wall clock.
func handleSetMockTime(n *Node, params []json.RawMessage) (interface{}, error) {
	var ts int64
	if err := parseParams(params, 1, &ts); err != nil {
		return nil, err
	}
	if ts < 0 {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"Mocktime can not be negative")
	}
	n.mockTime.Store(ts)
	return nil, nil
}

// handleStop implements the stop command.
func handleStop(n *Node, _ []json.RawMessage) (interface{}, error) {
	// Let the reply go out before the listeners close.
	time.AfterFunc(50*time.Millisecond, n.RequestStop)
	return "simnode stopping.", nil
}

// handleUptime implements the uptime command.
func handleUptime(n *Node, _ []json.RawMessage) (interface{}, error) {
	return int64(time.Since(n.started).Seconds()), nil
}
