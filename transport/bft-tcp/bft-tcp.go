package bfttcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/transport/frame"
)

// peerConn wraps a connection with a mutex for thread-safe writing.
type peerConn struct {
	conn net.Conn
	mu   sync.Mutex
}

// TCPTransport implements core.Transport using TCP connections in a full-mesh topology.
// Each node listens for incoming connections and maintains outgoing connections to all peers.
// A send to a group endpoint is written to every peer; receivers keep the frames addressed
// to themselves or to a group they joined.
type TCPTransport struct {
	eid   string
	addr  string
	codec *frame.Codec
	inbox *frame.Inbox

	listener net.Listener

	peers    map[string]string
	outPeers map[string]*peerConn
	outMu    sync.RWMutex

	inConns []net.Conn
	inMu    sync.Mutex

	readyCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// NewTCPTransport creates a new TCP transport and starts listening on the given address.
// Use ":0" to let the OS assign a random port, then call Addr() to discover it.
// Call Connect() to establish outgoing connections to peers.
func NewTCPTransport(
	eid string,
	listenAddr string,
	groups []string,
	codec *frame.Codec,
	logger *zap.Logger,
) (*TCPTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if codec == nil {
		codec = frame.NewCodec(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	done := make(chan struct{})
	t := &TCPTransport{
		eid:      eid,
		addr:     listener.Addr().String(),
		codec:    codec,
		inbox:    frame.NewInbox(eid, groups, done),
		listener: listener,
		outPeers: make(map[string]*peerConn),
		readyCh:  make(chan struct{}),
		done:     done,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}

	t.wg.Add(1)
	go t.acceptLoop()

	t.logger.Info("TCP transport listening", zap.String("eid", eid), zap.String("addr", t.addr))

	return t, nil
}

// Addr returns the actual listen address (useful when listening on ":0").
func (t *TCPTransport) Addr() string {
	return t.addr
}

// Connect starts establishing outgoing TCP connections to all peers, keyed by endpoint id.
// WaitForReady() blocks until all connections are established.
func (t *TCPTransport) Connect(peers map[string]string) {
	t.peers = peers
	if len(peers) == 0 {
		close(t.readyCh)
		return
	}
	t.wg.Add(1)
	go t.connectToPeers()
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
				t.logger.Error("accept error", zap.Error(err))
				continue
			}
		}

		t.inMu.Lock()
		t.inConns = append(t.inConns, conn)
		t.inMu.Unlock()

		t.wg.Add(1)
		go t.handleIncoming(conn)
	}
}

func (t *TCPTransport) handleIncoming(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	for {
		f, err := t.codec.Read(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			select {
			case <-t.ctx.Done():
				return
			default:
				t.logger.Warn("read error", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
				return
			}
		}

		if !t.inbox.Deliver(f) {
			return
		}
	}
}

func (t *TCPTransport) connectToPeers() {
	defer t.wg.Done()

	var connectWg sync.WaitGroup
	for peerId, peerAddr := range t.peers {
		connectWg.Add(1)
		go func(id, addr string) {
			defer connectWg.Done()
			t.connectWithRetry(id, addr)
		}(peerId, peerAddr)
	}

	connectWg.Wait()
	close(t.readyCh)
	t.logger.Info("all peers connected", zap.String("eid", t.eid))
}

func (t *TCPTransport) connectWithRetry(peerId string, peerAddr string) {
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", peerAddr, time.Second)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		t.outMu.Lock()
		t.outPeers[peerId] = &peerConn{conn: conn}
		t.outMu.Unlock()

		t.logger.Debug("connected to peer", zap.String("eid", t.eid), zap.String("peer", peerId))
		return
	}
}

// reconnect drops a broken outgoing connection and dials the peer again.
func (t *TCPTransport) reconnect(peerId string, pc *peerConn) {
	t.outMu.Lock()
	if t.outPeers[peerId] != pc {
		t.outMu.Unlock()
		return
	}
	delete(t.outPeers, peerId)
	t.outMu.Unlock()
	pc.conn.Close()

	addr, ok := t.peers[peerId]
	if !ok {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.connectWithRetry(peerId, addr)
	}()
}

// writeFrame writes a frame to a peer connection.
func (t *TCPTransport) writeFrame(pc *peerConn, f *frame.Frame) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	return t.codec.Write(pc.conn, f)
}

// Send writes the message to every connected peer and delivers a copy to self when
// the destination is local. Peers not connected yet miss the message, as with any
// unreliable multicast.
func (t *TCPTransport) Send(ctx context.Context, dest string, payload []byte, ttl time.Duration) (core.BundleId, error) {
	select {
	case <-t.done:
		return "", core.ErrStopped
	default:
	}

	f := &frame.Frame{
		Source:   t.eid,
		Dest:     dest,
		BundleId: core.BundleId(uuid.New().String()),
		Payload:  append([]byte(nil), payload...),
	}
	if ttl > 0 {
		f.Expires = time.Now().Add(ttl)
	}

	t.outMu.RLock()
	peers := make([]*peerConn, 0, len(t.outPeers))
	peerIds := make([]string, 0, len(t.outPeers))
	for id, pc := range t.outPeers {
		peers = append(peers, pc)
		peerIds = append(peerIds, id)
	}
	t.outMu.RUnlock()

	var errs []error
	for i, pc := range peers {
		if err := ctx.Err(); err != nil {
			return f.BundleId, err
		}
		if err := t.writeFrame(pc, f); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", peerIds[i], err))
			t.reconnect(peerIds[i], pc)
		}
	}

	// Deliver to self
	t.inbox.Deliver(f)

	return f.BundleId, errors.Join(errs...)
}

// Receive returns the next message addressed to this endpoint or one of its groups.
func (t *TCPTransport) Receive(ctx context.Context, timeout time.Duration) (core.Delivery, error) {
	return t.inbox.Receive(ctx, timeout)
}

// WaitForReady blocks until all outgoing peer connections are established.
func (t *TCPTransport) WaitForReady() {
	<-t.readyCh
}

// Close shuts down the transport, closing all connections and the listener.
func (t *TCPTransport) Close() error {
	t.closeOnce.Do(t.shutdown)
	return nil
}

func (t *TCPTransport) shutdown() {
	t.cancel()
	close(t.done)

	if t.listener != nil {
		t.listener.Close()
	}

	t.inMu.Lock()
	for _, conn := range t.inConns {
		conn.Close()
	}
	t.inMu.Unlock()

	t.outMu.Lock()
	for _, pc := range t.outPeers {
		pc.conn.Close()
	}
	t.outMu.Unlock()

	t.wg.Wait()
}
