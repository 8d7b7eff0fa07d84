// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcclient

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"
)

// AddNode attempts to perform the passed command on the passed persistent
// peer.  For example, it can be used to add or a remove a persistent peer,
// or to do a one time connection to a peer.
func (c *Client) AddNode(ctx context.Context, host string,
	command btcjson.AddNodeSubCmd) error {

	return c.CallResult(ctx, nil, "addnode", host, string(command))
}

// GetPeerInfo returns data about each connected network peer.
func (c *Client) GetPeerInfo(ctx context.Context) ([]btcjson.GetPeerInfoResult, error) {
	var peerInfo []btcjson.GetPeerInfoResult
	if err := c.CallResult(ctx, &peerInfo, "getpeerinfo"); err != nil {
		return nil, err
	}
	return peerInfo, nil
}

// GetConnectionCount returns the number of active connections to other peers.
func (c *Client) GetConnectionCount(ctx context.Context) (int64, error) {
	var count int64
	err := c.CallResult(ctx, &count, "getconnectioncount")
	return count, err
}
