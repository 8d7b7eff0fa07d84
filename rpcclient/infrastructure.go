// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2015-2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/go-socks/socks"
	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
)

const (
	// DefaultTimeout is the per-call timeout used when ConnConfig.Timeout
	// is zero.
	DefaultTimeout = 30 * time.Second

	// EndpointWebsocket selects the websocket transport for ConnConfig.
	EndpointWebsocket = "ws"
)

// ConnConfig describes the connection configuration parameters for the client.
type ConnConfig struct {
	// Host is the IP address and port of the RPC server you want to connect
	// to.
	Host string

	// Endpoint is the websocket endpoint on the RPC server.  This is
	// typically "ws".  When empty, every request is a separate HTTP POST.
	Endpoint string

	// User is the username to use to authenticate to the RPC server.
	User string

	// Pass is the passphrase to use to authenticate to the RPC server.
	Pass string

	// Timeout bounds every call, including the time spent waiting for the
	// session to become free.
	Timeout time.Duration

	// Proxy specifies to connect through a SOCKS 5 proxy server.  It may
	// be an empty string if a proxy is not required.
	Proxy string

	// ProxyUser is an optional username to use for the proxy server if it
	// requires authentication.  It has no effect if the Proxy parameter
	// is not set.
	ProxyUser string

	// ProxyPass is an optional password to use for the proxy server if it
	// requires authentication.  It has no effect if the Proxy parameter
	// is not set.
	ProxyPass string

	// Trace logs every request and response at the debug level.
	Trace bool

	// CoverageFile, when set, receives the name of every method called
	// through this client, one per line.
	CoverageFile string
}

// Client represents a JSON-RPC session with a single node.
//
// Requests on one session are serialized; a second Call blocks until the
// first one has completed.  No call is ever retried by the client.
type Client struct {
	id uint64 // atomic, so must stay 64-bit aligned

	config *ConnConfig

	// sendSem serializes requests and guards wsConn.
	sendSem chan struct{}
	wsConn  *websocket.Conn

	httpClient *http.Client
	coverage   *coverageLog

	shutdown     atomic.Bool
	shutdownOnce sync.Once
	quit         chan struct{}
}

// New creates a new RPC client based on the provided connection
// configuration details.  No connection is made until the first call.
func New(config *ConnConfig) (*Client, error) {
	if config == nil || config.Host == "" {
		return nil, errors.New("rpcclient: host must be specified")
	}
	if config.Endpoint != "" && config.Endpoint != EndpointWebsocket {
		return nil, fmt.Errorf("rpcclient: unsupported endpoint %q",
			config.Endpoint)
	}

	cfgCopy := *config
	if cfgCopy.Timeout <= 0 {
		cfgCopy.Timeout = DefaultTimeout
	}

	coverage, err := openCoverageLog(cfgCopy.CoverageFile)
	if err != nil {
		return nil, err
	}

	return &Client{
		config:     &cfgCopy,
		httpClient: newHTTPClient(&cfgCopy),
		coverage:   coverage,
		sendSem:    make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}, nil
}

// Host returns the address of the node this client talks to.
func (c *Client) Host() string {
	return c.config.Host
}

// NextID returns the next id to be used when sending a JSON-RPC message.
func (c *Client) NextID() uint64 {
	return atomic.AddUint64(&c.id, 1)
}

// Call issues method with the given positional parameters and returns the raw
// result.  A node side failure is returned as *btcjson.RPCError with its code
// and message untouched.
func (c *Client) Call(ctx context.Context, method string,
	params ...interface{}) (json.RawMessage, error) {

	if c.shutdown.Load() {
		return nil, makeError(ErrClientShutdown, fmt.Sprintf("%s: "+
			"client for %s has been shut down", method, c.config.Host))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-callCtx.Done():
		}
	}()

	select {
	case c.sendSem <- struct{}{}:
	case <-callCtx.Done():
		return nil, c.classify(ctx, callCtx, method, callCtx.Err())
	}
	defer func() { <-c.sendSem }()

	id := c.NextID()
	req, err := btcjson.NewRequest(btcjson.RpcVersion1, id, method, params)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if c.config.Trace {
		log.Debugf("%s -> %s(%d): %v", c.config.Host, method, id,
			newLogClosure(func() string {
				return spew.Sdump(params)
			}))
	} else {
		log.Tracef("%s -> %s(%d)", c.config.Host, method, id)
	}

	var raw []byte
	if c.config.Endpoint == EndpointWebsocket {
		raw, err = c.sendWS(callCtx, id, body)
	} else {
		raw, err = c.sendPost(callCtx, body)
	}
	if err != nil {
		return nil, c.classify(ctx, callCtx, method, err)
	}
	c.coverage.record(method)

	var resp btcjson.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, makeError(ErrInvalidResponse, fmt.Sprintf("%s: "+
			"malformed response from %s: %v", method, c.config.Host, err))
	}

	if c.config.Trace {
		log.Debugf("%s <- %s(%d): %v", c.config.Host, method, id,
			newLogClosure(func() string {
				if resp.Error != nil {
					return spew.Sdump(resp.Error)
				}
				return string(resp.Result)
			}))
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// CallResult is like Call but decodes the result into result, which must be
// a pointer.  A nil result discards the payload.
func (c *Client) CallResult(ctx context.Context, result interface{},
	method string, params ...interface{}) error {

	raw, err := c.Call(ctx, method, params...)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return makeError(ErrInvalidResponse, fmt.Sprintf("%s: cannot "+
			"decode result: %v", method, err))
	}
	return nil
}

// classify maps a low level failure of a call to the client error taxonomy.
func (c *Client) classify(parent, callCtx context.Context, method string,
	err error) error {

	if c.shutdown.Load() {
		return makeError(ErrClientShutdown, fmt.Sprintf("%s: client for "+
			"%s was shut down during the call", method, c.config.Host))
	}
	var kindErr Error
	if errors.As(err, &kindErr) {
		return err
	}
	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("%s: %w", method, parentErr)
	}

	var netErr net.Error
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())
	if timedOut {
		return makeError(ErrRPCTimeout, fmt.Sprintf("%s: no response "+
			"from %s within %v", method, c.config.Host, c.config.Timeout))
	}

	return makeError(ErrTransport, fmt.Sprintf("%s: %v", method, err))
}

// sendPost sends the marshalled request as an HTTP POST and returns the raw
// body of the reply.
func (c *Client) sendPost(ctx context.Context, body []byte) ([]byte, error) {
	url := "http://" + c.config.Host
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url,
		bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Close = true
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.config.User, c.config.Pass)

	httpResponse, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResponse.Body.Close()

	respBytes, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, err
	}

	// Nodes reply with a non-200 status together with a JSON-RPC error
	// object for failed commands, so only reject replies that carry no
	// JSON at all.
	if httpResponse.StatusCode == http.StatusUnauthorized {
		return nil, makeError(ErrAuthFailed, fmt.Sprintf("authentication "+
			"rejected by %s", c.config.Host))
	}
	if httpResponse.StatusCode != http.StatusOK && !json.Valid(respBytes) {
		return nil, makeError(ErrInvalidResponse, fmt.Sprintf("status "+
			"code %d from %s: %s", httpResponse.StatusCode,
			c.config.Host, bytes.TrimSpace(respBytes)))
	}
	return respBytes, nil
}

// sendWS writes the request to the session websocket, dialing it first when
// needed, and waits for the reply carrying id.  Notifications and replies to
// earlier, abandoned requests are discarded.
func (c *Client) sendWS(ctx context.Context, id uint64, body []byte) ([]byte, error) {
	if c.wsConn == nil {
		conn, err := c.dialWS(ctx)
		if err != nil {
			return nil, err
		}
		c.wsConn = conn
	}
	conn := c.wsConn

	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		c.dropWS()
		return nil, err
	}

	conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			// The connection state is unknown after a failed read, so
			// a fresh one is dialed on the next call.
			c.dropWS()
			return nil, err
		}

		var hdr struct {
			ID *uint64 `json:"id"`
		}
		if err := json.Unmarshal(msg, &hdr); err != nil || hdr.ID == nil {
			log.Tracef("%s: discarding notification", c.config.Host)
			continue
		}
		if *hdr.ID != id {
			log.Debugf("%s: discarding stale reply with id %d",
				c.config.Host, *hdr.ID)
			continue
		}
		return msg, nil
	}
}

// dialWS opens the websocket endpoint of the node.
func (c *Client) dialWS(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.Timeout,
	}
	if c.config.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     c.config.Proxy,
			Username: c.config.ProxyUser,
			Password: c.config.ProxyPass,
		}
		dialer.NetDial = proxy.Dial
	}

	login := c.config.User + ":" + c.config.Pass
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))
	requestHeader := make(http.Header)
	requestHeader.Add("Authorization", auth)

	url := fmt.Sprintf("ws://%s/%s", c.config.Host, c.config.Endpoint)
	wsConn, resp, err := dialer.DialContext(ctx, url, requestHeader)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, makeError(ErrAuthFailed, fmt.Sprintf(
				"authentication rejected by %s", c.config.Host))
		}
		return nil, err
	}
	return wsConn, nil
}

// dropWS closes and forgets the session websocket.  The send semaphore must
// be held.
func (c *Client) dropWS() {
	if c.wsConn != nil {
		c.wsConn.Close()
		c.wsConn = nil
	}
}

// Shutdown invalidates the session.  Calls in flight are aborted and every
// later call fails with ErrClientShutdown.  It is safe to call more than once.
func (c *Client) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.shutdown.Store(true)
		close(c.quit)

		c.sendSem <- struct{}{}
		c.dropWS()
		<-c.sendSem

		c.coverage.close()
		log.Tracef("Client for %s shut down", c.config.Host)
	})
}

// IsShutdown reports whether Shutdown has been called.
func (c *Client) IsShutdown() bool {
	return c.shutdown.Load()
}

// newHTTPClient returns a new http client that is configured according to the
// proxy settings in the associated connection configuration.
func newHTTPClient(config *ConnConfig) *http.Client {
	transport := &http.Transport{
		DisableKeepAlives: true,
	}
	if config.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     config.Proxy,
			Username: config.ProxyUser,
			Password: config.ProxyPass,
		}
		transport.DialContext = func(_ context.Context, network,
			addr string) (net.Conn, error) {

			return proxy.Dial(network, addr)
		}
	}

	return &http.Client{Transport: transport}
}
