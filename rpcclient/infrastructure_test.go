// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser = "user"
	testPass = "pass"
)

// handlerFunc answers one decoded request.
type handlerFunc func(r *http.Request, req *btcjson.Request) (interface{}, *btcjson.RPCError)

// newTestServer returns an HTTP JSON-RPC server that checks credentials and
// dispatches every request to handler.
func newTestServer(t *testing.T, handler handlerFunc) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testUser || pass != testPass {
			http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
			return
		}

		if r.URL.Path == "/ws" {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var req btcjson.Request
				if err := json.Unmarshal(msg, &req); err != nil {
					return
				}

				// An unsolicited notification must be skipped by the
				// client.
				conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"jsonrpc":"1.0","method":"blockconnected","params":[]}`))

				result, rpcErr := handler(r, &req)
				reply, err := btcjson.MarshalResponse(btcjson.RpcVersion1,
					req.ID, result, rpcErr)
				if err != nil {
					return
				}
				conn.WriteMessage(websocket.TextMessage, reply)
			}
		}

		var req btcjson.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, rpcErr := handler(r, &req)
		reply, err := btcjson.MarshalResponse(btcjson.RpcVersion1, req.ID,
			result, rpcErr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if rpcErr != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
		w.Write(reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate func(*ConnConfig)) *Client {
	t.Helper()

	cfg := &ConnConfig{
		Host:    strings.TrimPrefix(srv.URL, "http://"),
		User:    testUser,
		Pass:    testPass,
		Timeout: 2 * time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}
	client, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(client.Shutdown)
	return client
}

func TestCallPost(t *testing.T) {
	srv := newTestServer(t, func(_ *http.Request, req *btcjson.Request) (interface{}, *btcjson.RPCError) {
		if req.Method != "getblockcount" {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCMethodNotFound.Code,
				"Method not found")
		}
		return 200, nil
	})
	coverage := filepath.Join(t.TempDir(), CoverageFilePrefix+"node0")
	client := newTestClient(t, srv, func(cfg *ConnConfig) {
		cfg.CoverageFile = coverage
		cfg.Trace = true
	})

	count, err := client.GetBlockCount(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 200, count)

	counts, err := ReadCoverage(filepath.Dir(coverage))
	require.NoError(t, err)
	require.Equal(t, 1, counts["getblockcount"])
	require.Equal(t, []string{"stop"},
		UncoveredMethods(counts, []string{"stop", "getblockcount"}))
}

func TestCallSurfacesNodeErrorUnchanged(t *testing.T) {
	srv := newTestServer(t, func(_ *http.Request, _ *btcjson.Request) (interface{}, *btcjson.RPCError) {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInWarmup,
			"Loading block index...")
	})
	for _, endpoint := range []string{"", EndpointWebsocket} {
		client := newTestClient(t, srv, func(cfg *ConnConfig) {
			cfg.Endpoint = endpoint
		})

		_, err := client.Call(context.Background(), "getblockcount")
		var rpcErr *btcjson.RPCError
		require.True(t, errors.As(err, &rpcErr), "endpoint %q: %v", endpoint, err)
		require.Equal(t, btcjson.ErrRPCInWarmup, rpcErr.Code)
		require.Equal(t, "Loading block index...", rpcErr.Message)
	}
}

func TestCallTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := newTestServer(t, func(r *http.Request, _ *btcjson.Request) (interface{}, *btcjson.RPCError) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
		return 0, nil
	})
	client := newTestClient(t, srv, func(cfg *ConnConfig) {
		cfg.Timeout = 100 * time.Millisecond
	})

	start := time.Now()
	_, err := client.Call(context.Background(), "getblockcount")
	require.True(t, errors.Is(err, ErrRPCTimeout), "got %v", err)
	require.Less(t, time.Since(start), time.Second)
}

func TestCallConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	client, err := New(&ConnConfig{Host: addr, User: testUser, Pass: testPass})
	require.NoError(t, err)
	defer client.Shutdown()

	_, err = client.Call(context.Background(), "getblockcount")
	require.True(t, errors.Is(err, ErrTransport), "got %v", err)
}

func TestCallAuthFailure(t *testing.T) {
	srv := newTestServer(t, func(_ *http.Request, _ *btcjson.Request) (interface{}, *btcjson.RPCError) {
		return 0, nil
	})
	client := newTestClient(t, srv, func(cfg *ConnConfig) {
		cfg.Pass = "wrong"
	})

	_, err := client.Call(context.Background(), "getblockcount")
	require.True(t, errors.Is(err, ErrAuthFailed), "got %v", err)
}

func TestShutdownInvalidatesSession(t *testing.T) {
	srv := newTestServer(t, func(_ *http.Request, _ *btcjson.Request) (interface{}, *btcjson.RPCError) {
		return 0, nil
	})
	client := newTestClient(t, srv, nil)

	require.NoError(t, client.Ping(context.Background()))
	client.Shutdown()
	client.Shutdown()
	require.True(t, client.IsShutdown())

	err := client.Ping(context.Background())
	require.True(t, errors.Is(err, ErrClientShutdown), "got %v", err)
}

func TestWebsocketMatchesReplies(t *testing.T) {
	srv := newTestServer(t, func(_ *http.Request, req *btcjson.Request) (interface{}, *btcjson.RPCError) {
		var height int64
		if err := json.Unmarshal(req.Params[0], &height); err != nil {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
				err.Error())
		}
		return "0000000000000000000000000000000000000000000000000000000000000001", nil
	})
	client := newTestClient(t, srv, func(cfg *ConnConfig) {
		cfg.Endpoint = EndpointWebsocket
	})

	for i := int64(0); i < 3; i++ {
		hash, err := client.GetBlockHash(context.Background(), i)
		require.NoError(t, err)
		require.Equal(t, "0000000000000000000000000000000000000000000000000000000000000001",
			hash.String())
	}
}

func TestCallsAreSerialized(t *testing.T) {
	var inFlight, maxInFlight int32
	srv := newTestServer(t, func(_ *http.Request, _ *btcjson.Request) (interface{}, *btcjson.RPCError) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return 1, nil
	})
	client := newTestClient(t, srv, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetBlockCount(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, atomic.LoadInt32(&maxInFlight))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(&ConnConfig{})
	require.Error(t, err)

	_, err = New(&ConnConfig{Host: "127.0.0.1:1", Endpoint: "wallet"})
	require.Error(t, err)
}
