// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package simnode

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/chainharness/internal/version"
	"github.com/decred/dcrd/lru"
)

const (
	// userAgentName is announced in version messages.
	userAgentName = "simnode"

	// knownInventorySize bounds the inventory remembered per peer.
	knownInventorySize = 1000

	// dialTimeout bounds a single outbound connection attempt.
	dialTimeout = 2 * time.Second

	// retryInterval is the delay between connection attempts to a
	// persistent peer.
	retryInterval = 250 * time.Millisecond

	// writeTimeout bounds a single message write.
	writeTimeout = 10 * time.Second
)

// peer is a connection to another node.
type peer struct {
	server  *p2pServer
	id      int32
	conn    net.Conn
	addr    string
	inbound bool

	// knownInventory holds blocks and transactions the peer is known to
	// have, so they are not announced back to it.
	knownInventory lru.Cache

	writeMtx sync.Mutex

	connTime       time.Time
	lastSend       atomic.Int64
	lastRecv       atomic.Int64
	bytesSent      atomic.Uint64
	bytesRecv      atomic.Uint64
	startingHeight atomic.Int32
	protocol       atomic.Uint32
	userAgent      atomic.Value

	// continueHash is the last block of a full inventory batch; once it
	// arrives the next batch is requested.
	continueHash atomic.Pointer[chainhash.Hash]

	quit     chan struct{}
	quitOnce sync.Once
}

// String returns the peer address and direction.
func (p *peer) String() string {
	if p.inbound {
		return p.addr + " (inbound)"
	}
	return p.addr + " (outbound)"
}

// disconnect closes the connection.  It is safe to call more than once.
func (p *peer) disconnect() {
	p.quitOnce.Do(func() {
		close(p.quit)
		p.conn.Close()
	})
}

// send writes a message to the peer.
func (p *peer) send(msg wire.Message) error {
	p.writeMtx.Lock()
	defer p.writeMtx.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	n, err := wire.WriteMessageN(p.conn, msg, wire.ProtocolVersion,
		p.server.params.Net)
	p.bytesSent.Add(uint64(n))
	if err != nil {
		log.Debugf("Unable to send %s to %v: %v", msg.Command(), p, err)
		p.disconnect()
		return err
	}
	p.lastSend.Store(time.Now().Unix())
	return nil
}

// pushVersion sends the version message opening the handshake.
func (p *peer) pushVersion() error {
	_, height := p.server.chain.Tip()
	msg := wire.NewMsgVersion(netAddress(p.conn.LocalAddr()),
		netAddress(p.conn.RemoteAddr()), p.server.nonce, height)
	if err := msg.AddUserAgent(userAgentName, version.String()); err != nil {
		return err
	}
	return p.send(msg)
}

// pushGetBlocks asks the peer for the blocks following our tip.
func (p *peer) pushGetBlocks() error {
	msg := wire.NewMsgGetBlocks(&chainhash.Hash{})
	for _, hash := range p.server.chain.Locator() {
		if err := msg.AddBlockLocatorHash(hash); err != nil {
			return err
		}
	}
	return p.send(msg)
}

// netAddress converts a TCP address for version messages.
func netAddress(addr net.Addr) *wire.NetAddress {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return wire.NewNetAddressIPPort(net.IPv4zero, 0, wire.SFNodeNetwork)
	}
	return wire.NewNetAddressIPPort(tcp.IP, uint16(tcp.Port),
		wire.SFNodeNetwork)
}

// readLoop handles messages until the connection fails or the peer is
// disconnected.
func (p *peer) readLoop() {
	defer p.disconnect()
	for {
		n, msg, _, err := wire.ReadMessageN(p.conn, wire.ProtocolVersion,
			p.server.params.Net)
		p.bytesRecv.Add(uint64(n))
		if err != nil {
			var msgErr *wire.MessageError
			if errors.As(err, &msgErr) {
				log.Debugf("Ignoring bad message from %v: %v", p, err)
				continue
			}
			select {
			case <-p.quit:
			default:
				log.Debugf("Lost peer %v: %v", p, err)
			}
			return
		}
		p.lastRecv.Store(time.Now().Unix())
		log.Tracef("Received %s from %v", msg.Command(), p)

		if err := p.handleMessage(msg); err != nil {
			log.Debugf("Disconnecting %v: %v", p, err)
			return
		}
	}
}

// handleMessage dispatches one message.
func (p *peer) handleMessage(msg wire.Message) error {
	chain := p.server.chain

	switch m := msg.(type) {
	case *wire.MsgVersion:
		if m.Nonce == p.server.nonce {
			return errors.New("connected to self")
		}
		p.startingHeight.Store(m.LastBlock)
		p.protocol.Store(uint32(m.ProtocolVersion))
		p.userAgent.Store(m.UserAgent)
		if err := p.send(wire.NewMsgVerAck()); err != nil {
			return err
		}
		if _, height := chain.Tip(); m.LastBlock > height {
			return p.pushGetBlocks()
		}

	case *wire.MsgPing:
		return p.send(wire.NewMsgPong(m.Nonce))

	case *wire.MsgGetBlocks:
		var stop *chainhash.Hash
		if m.HashStop != (chainhash.Hash{}) {
			stop = &m.HashStop
		}
		hashes := chain.HashesAfter(m.BlockLocatorHashes, stop,
			wire.MaxBlocksPerMsg)
		if len(hashes) == 0 {
			return nil
		}
		inv := wire.NewMsgInvSizeHint(uint(len(hashes)))
		for i := range hashes {
			p.knownInventory.Add(hashes[i])
			inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hashes[i]))
		}
		return p.send(inv)

	case *wire.MsgInv:
		getData := wire.NewMsgGetData()
		var lastBlock *chainhash.Hash
		blocks := 0
		for _, iv := range m.InvList {
			p.knownInventory.Add(iv.Hash)
			switch iv.Type {
			case wire.InvTypeBlock:
				blocks++
				hash := iv.Hash
				lastBlock = &hash
				if chain.HaveBlock(&iv.Hash) {
					continue
				}
			case wire.InvTypeTx:
				if chain.HaveTx(&iv.Hash) {
					continue
				}
			default:
				continue
			}
			getData.AddInvVect(iv)
		}
		if blocks == wire.MaxBlocksPerMsg {
			p.continueHash.Store(lastBlock)
		}
		if len(getData.InvList) > 0 {
			return p.send(getData)
		}

	case *wire.MsgGetData:
		notFound := wire.NewMsgNotFound()
		for _, iv := range m.InvList {
			var reply wire.Message
			switch iv.Type {
			case wire.InvTypeBlock:
				if block, err := chain.Block(&iv.Hash); err == nil {
					reply = block
				}
			case wire.InvTypeTx:
				if tx := chain.MempoolTx(&iv.Hash); tx != nil {
					reply = tx
				}
			}
			if reply == nil {
				notFound.AddInvVect(iv)
				continue
			}
			if err := p.send(reply); err != nil {
				return err
			}
		}
		if len(notFound.InvList) > 0 {
			return p.send(notFound)
		}

	case *wire.MsgBlock:
		hash := m.BlockHash()
		p.knownInventory.Add(hash)
		result, err := chain.ProcessBlock(m)
		if err != nil {
			return err
		}
		switch result {
		case BlockConnected:
			p.server.relay(wire.InvTypeBlock, hash, p)
		case BlockOrphan:
			return p.pushGetBlocks()
		}
		if cont := p.continueHash.Load(); cont != nil && *cont == hash {
			p.continueHash.Store(nil)
			return p.pushGetBlocks()
		}

	case *wire.MsgTx:
		hash := m.TxHash()
		p.knownInventory.Add(hash)
		if chain.AcceptTx(m) {
			p.server.relay(wire.InvTypeTx, hash, p)
		}
	}
	return nil
}

// p2pServer accepts and maintains peer connections.
type p2pServer struct {
	params *chaincfg.Params
	chain  *Chain
	nonce  uint64

	listener net.Listener

	mtx        sync.Mutex
	peers      map[int32]*peer
	persistent map[string]chan struct{}
	nextID     int32

	wg   sync.WaitGroup
	quit chan struct{}
}

// newP2PServer returns a server for chain.  Nothing listens until start.
func newP2PServer(params *chaincfg.Params, chain *Chain, nonce uint64) *p2pServer {
	return &p2pServer{
		params:     params,
		chain:      chain,
		nonce:      nonce,
		peers:      make(map[int32]*peer),
		persistent: make(map[string]chan struct{}),
		quit:       make(chan struct{}),
	}
}

// start listens for inbound peers on addr.
func (s *p2pServer) start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	log.Infof("P2P server listening on %s", listener.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(conn, conn.RemoteAddr().String(), true)
			}()
		}
	}()
	return nil
}

// stop disconnects every peer and waits for the connection goroutines.
func (s *p2pServer) stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mtx.Lock()
	for _, p := range s.peers {
		p.disconnect()
	}
	s.mtx.Unlock()
	s.wg.Wait()
}

// handleConn runs a peer until it disconnects.
func (s *p2pServer) handleConn(conn net.Conn, addr string, inbound bool) {
	s.mtx.Lock()
	select {
	case <-s.quit:
		s.mtx.Unlock()
		conn.Close()
		return
	default:
	}
	s.nextID++
	p := &peer{
		server:         s,
		id:             s.nextID,
		conn:           conn,
		addr:           addr,
		inbound:        inbound,
		knownInventory: lru.NewCache(knownInventorySize),
		connTime:       time.Now(),
		quit:           make(chan struct{}),
	}
	p.userAgent.Store("")
	s.peers[p.id] = p
	s.mtx.Unlock()

	log.Infof("Connected to peer %v", p)
	if err := p.pushVersion(); err == nil {
		p.readLoop()
	}
	p.disconnect()

	s.mtx.Lock()
	delete(s.peers, p.id)
	s.mtx.Unlock()
	log.Infof("Disconnected from peer %v", p)
}

// connectPersistent keeps a connection to addr open until cancel is closed.
func (s *p2pServer) connectPersistent(addr string, cancel chan struct{}) {
	defer s.wg.Done()
	for {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			done := make(chan struct{})
			go func() {
				select {
				case <-cancel:
					conn.Close()
				case <-done:
				}
			}()
			s.handleConn(conn, addr, false)
			close(done)
		} else {
			log.Tracef("Unable to connect to %s: %v", addr, err)
		}

		select {
		case <-cancel:
			return
		case <-s.quit:
			return
		case <-time.After(retryInterval):
		}
	}
}

// AddNode performs an addnode command.
func (s *p2pServer) AddNode(addr string, cmd btcjson.AddNodeSubCmd) *btcjson.RPCError {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"invalid address: "+err.Error())
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	switch cmd {
	case btcjson.ANAdd:
		if _, ok := s.persistent[addr]; ok {
			return btcjson.NewRPCError(
				btcjson.ErrRPCClientNodeAlreadyAdded,
				"Error: Node already added")
		}
		cancel := make(chan struct{})
		s.persistent[addr] = cancel
		s.wg.Add(1)
		go s.connectPersistent(addr, cancel)

	case btcjson.ANRemove:
		cancel, ok := s.persistent[addr]
		if !ok {
			return btcjson.NewRPCError(btcjson.ErrRPCClientNodeNotAdded,
				"Error: Node has not been added")
		}
		delete(s.persistent, addr)
		close(cancel)

	case btcjson.ANOneTry:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			conn, err := net.DialTimeout("tcp", addr, dialTimeout)
			if err != nil {
				log.Debugf("Unable to connect to %s: %v", addr, err)
				return
			}
			s.handleConn(conn, addr, false)
		}()

	default:
		return btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter,
			"invalid subcommand for addnode: "+string(cmd))
	}
	return nil
}

// Peers returns the connected peers ordered by id.
func (s *p2pServer) Peers() []*peer {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	peers := make([]*peer, 0, len(s.peers))
	for id := int32(1); id <= s.nextID; id++ {
		if p, ok := s.peers[id]; ok {
			peers = append(peers, p)
		}
	}
	return peers
}

// relay announces new inventory to every peer not known to have it.
func (s *p2pServer) relay(typ wire.InvType, hash chainhash.Hash, from *peer) {
	for _, p := range s.Peers() {
		if p == from || p.knownInventory.Contains(hash) {
			continue
		}
		p.knownInventory.Add(hash)
		inv := wire.NewMsgInv()
		inv.AddInvVect(wire.NewInvVect(typ, &hash))
		p.send(inv)
	}
}

// ping sends a ping to every peer.
func (s *p2pServer) ping() {
	nonce := uint64(time.Now().UnixNano())
	for _, p := range s.Peers() {
		p.send(wire.NewMsgPing(nonce))
	}
}

// peerInfo describes a peer for getpeerinfo.
func (p *peer) peerInfo() btcjson.GetPeerInfoResult {
	ua, _ := p.userAgent.Load().(string)
	return btcjson.GetPeerInfoResult{
		ID:             p.id,
		Addr:           p.addr,
		AddrLocal:      p.conn.LocalAddr().String(),
		Services:       strconv.FormatUint(uint64(wire.SFNodeNetwork), 16),
		LastSend:       p.lastSend.Load(),
		LastRecv:       p.lastRecv.Load(),
		BytesSent:      p.bytesSent.Load(),
		BytesRecv:      p.bytesRecv.Load(),
		ConnTime:       p.connTime.Unix(),
		Version:        p.protocol.Load(),
		SubVer:         ua,
		Inbound:        p.inbound,
		StartingHeight: p.startingHeight.Load(),
	}
}
