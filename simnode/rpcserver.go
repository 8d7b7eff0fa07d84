// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package simnode

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/gorilla/websocket"
)

// maxRequestSize bounds the body of an HTTP request.
const maxRequestSize = 1 << 20

// rpcServer answers JSON-RPC 1.0 requests over HTTP POST on "/" and over a
// websocket on "/ws".
type rpcServer struct {
	node     *Node
	authsha  [sha256.Size]byte
	started  int32
	shutdown int32

	listener   net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader

	wsMtx   sync.Mutex
	wsConns map[*websocket.Conn]struct{}

	wg sync.WaitGroup
}

// newRPCServer returns a server for node accepting the given credentials.
func newRPCServer(node *Node, user, pass string) *rpcServer {
	login := user + ":" + pass
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))
	return &rpcServer{
		node:    node,
		authsha: sha256.Sum256([]byte(auth)),
		wsConns: make(map[*websocket.Conn]struct{}),
	}
}

// checkAuth checks the HTTP Basic authentication of the request in constant
// time.
func (s *rpcServer) checkAuth(r *http.Request) error {
	authhdr := r.Header["Authorization"]
	if len(authhdr) == 0 {
		log.Warnf("Auth failure from %s", r.RemoteAddr)
		return errors.New("auth failure")
	}

	authsha := sha256.Sum256([]byte(authhdr[0]))
	if subtle.ConstantTimeCompare(authsha[:], s.authsha[:]) != 1 {
		log.Warnf("Auth failure from %s", r.RemoteAddr)
		return errors.New("auth failure")
	}
	return nil
}

// start listens on addr and serves requests in the background.
func (s *rpcServer) start(addr string) error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if err := s.checkAuth(r); err != nil {
			http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
			return
		}
		s.handlePost(w, r)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := s.checkAuth(r); err != nil {
			http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Errorf("Unable to upgrade websocket: %v", err)
			return
		}
		s.handleWebsocket(conn)
	})
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Infof("RPC server listening on %s", listener.Addr())
		s.httpServer.Serve(listener)
		log.Tracef("RPC listener done for %s", listener.Addr())
	}()
	return nil
}

// stop closes the listener and every websocket client.
func (s *rpcServer) stop() error {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		return nil
	}
	if s.httpServer == nil {
		return nil
	}

	err := s.httpServer.Close()
	s.wsMtx.Lock()
	for conn := range s.wsConns {
		conn.Close()
	}
	s.wsMtx.Unlock()
	s.wg.Wait()
	log.Infof("RPC server shutdown complete")
	return err
}

// handlePost answers one request read from the body.
func (s *rpcServer) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		http.Error(w, "400 Bad Request.", http.StatusBadRequest)
		return
	}

	reply := s.process(body)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")
	if _, err := w.Write(reply); err != nil {
		log.Debugf("Unable to write reply to %s: %v", r.RemoteAddr, err)
	}
}

// handleWebsocket answers requests in order until the client disconnects.
func (s *rpcServer) handleWebsocket(conn *websocket.Conn) {
	s.wsMtx.Lock()
	s.wsConns[conn] = struct{}{}
	s.wsMtx.Unlock()
	defer func() {
		s.wsMtx.Lock()
		delete(s.wsConns, conn)
		s.wsMtx.Unlock()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, s.process(msg)); err != nil {
			return
		}
	}
}

// process decodes a request, runs its handler and returns the marshalled
// response.
func (s *rpcServer) process(body []byte) []byte {
	var req btcjson.Request
	if err := json.Unmarshal(body, &req); err != nil {
		reply, _ := btcjson.MarshalResponse(btcjson.RpcVersion1, nil, nil,
			btcjson.NewRPCError(btcjson.ErrRPCParse.Code, err.Error()))
		return reply
	}

	result, rpcErr := s.dispatch(&req)
	reply, err := btcjson.MarshalResponse(btcjson.RpcVersion1, req.ID,
		result, rpcErr)
	if err != nil {
		log.Errorf("Unable to marshal reply to %s: %v", req.Method, err)
		reply, _ = btcjson.MarshalResponse(btcjson.RpcVersion1, req.ID,
			nil, btcjson.NewRPCError(btcjson.ErrRPCInternal.Code,
				err.Error()))
	}
	return reply
}

// dispatch runs the handler of the request method.
func (s *rpcServer) dispatch(req *btcjson.Request) (interface{}, *btcjson.RPCError) {
	log.Debugf("Received command <%s>", req.Method)

	handler, ok := rpcHandlers[req.Method]
	if !ok {
		return nil, btcjson.ErrRPCMethodNotFound
	}
	if req.Method != "stop" && s.node.inWarmup() {
		return nil, btcjson.NewRPCError(btcjson.ErrRPCInWarmup,
			"Loading block index...")
	}

	result, err := handler(s.node, req.Params)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}
		return nil, btcjson.NewRPCError(btcjson.ErrRPCMisc, err.Error())
	}
	return result, nil
}
