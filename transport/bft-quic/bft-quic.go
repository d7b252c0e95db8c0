package bftquic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/transport/frame"
)

// Stream type identifiers for the multi-stream architecture.
// Separating control and data planes at the QUIC stream level
// mitigates Head-of-Line blocking: packet loss on one stream
// does not stall reads on another stream.
const (
	StreamTypeControl byte = 0x00 // records and proposed bulletins
	StreamTypeData    byte = 0x01 // erasure-coded blocks
)

// MessageClassifier determines which QUIC stream a message for dest should use.
type MessageClassifier interface {
	StreamType(dest string) byte
}

// DefaultClassifier routes all messages to the control plane stream.
type DefaultClassifier struct{}

func (c *DefaultClassifier) StreamType(dest string) byte {
	return StreamTypeControl
}

// GroupClassifier routes messages for the listed destinations to the data plane.
type GroupClassifier map[string]bool

func (c GroupClassifier) StreamType(dest string) byte {
	if c[dest] {
		return StreamTypeData
	}
	return StreamTypeControl
}

// peerStreams holds the QUIC connection and dedicated streams to a single peer.
type peerStreams struct {
	conn    *quic.Conn
	control *quic.Stream
	data    *quic.Stream
	ctrlMu  sync.Mutex
	dataMu  sync.Mutex
}

// QUICTransport implements core.Transport over QUIC in a full-mesh topology,
// with one control and one data stream per peer.
type QUICTransport struct {
	eid        string
	codec      *frame.Codec
	classifier MessageClassifier
	inbox      *frame.Inbox

	quicTr   *quic.Transport
	udpConn  *net.UDPConn
	listener *quic.Listener

	peers    map[string]string
	outPeers map[string]*peerStreams
	outMu    sync.RWMutex

	inConns []*quic.Conn
	inMu    sync.Mutex

	readyCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// NewQUICTransport creates a QUIC transport and starts listening for connections.
// Use ":0" for listenAddr to let the OS assign a random port.
// If classifier is nil, DefaultClassifier (all control plane) is used.
func NewQUICTransport(
	eid string,
	listenAddr string,
	groups []string,
	codec *frame.Codec,
	classifier MessageClassifier,
	logger *zap.Logger,
) (*QUICTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if classifier == nil {
		classifier = &DefaultClassifier{}
	}
	if codec == nil {
		codec = frame.NewCodec(nil)
	}

	cert, err := NewCertificate(eid)
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}
	serverTLS := ServerConfig(cert)

	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr: %w", err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	qtr := &quic.Transport{Conn: udpConn}

	quicConf := &quic.Config{
		MaxIncomingStreams: 10,
		MaxIdleTimeout:     30 * time.Second,
		KeepAlivePeriod:    10 * time.Second,
	}

	listener, err := qtr.Listen(serverTLS, quicConf)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("quic listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t := &QUICTransport{
		eid:        eid,
		codec:      codec,
		classifier: classifier,
		inbox:      frame.NewInbox(eid, groups, done),
		quicTr:     qtr,
		udpConn:    udpConn,
		listener:   listener,
		outPeers:   make(map[string]*peerStreams),
		readyCh:    make(chan struct{}),
		done:       done,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}

	t.wg.Add(1)
	go t.acceptLoop()

	t.logger.Info("QUIC transport listening", zap.String("eid", eid), zap.String("addr", udpConn.LocalAddr().String()))

	return t, nil
}

// Addr returns the local UDP address the transport is listening on.
func (t *QUICTransport) Addr() string {
	return t.udpConn.LocalAddr().String()
}

// Connect starts establishing outgoing QUIC connections to all peers.
// Each connection opens two bidirectional streams: control and data.
func (t *QUICTransport) Connect(peers map[string]string) {
	t.peers = peers
	if len(peers) == 0 {
		close(t.readyCh)
		return
	}
	t.wg.Add(1)
	go t.connectToPeers()
}

func (t *QUICTransport) connectToPeers() {
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
	t.logger.Info("all QUIC peers connected", zap.String("eid", t.eid))
}

func (t *QUICTransport) connectWithRetry(peerId string, peerAddr string) {
	clientTLS := ClientConfig(peerId)

	quicConf := &quic.Config{
		MaxIncomingStreams: 10,
	}

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		udpAddr, err := net.ResolveUDPAddr("udp", peerAddr)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		conn, err := t.quicTr.Dial(t.ctx, udpAddr, clientTLS, quicConf)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		// Open control plane stream
		controlStream, err := conn.OpenStreamSync(t.ctx)
		if err != nil {
			conn.CloseWithError(0, "failed to open control stream")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if _, err := controlStream.Write([]byte{StreamTypeControl}); err != nil {
			conn.CloseWithError(0, "failed to write control header")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		// Open data plane stream
		dataStream, err := conn.OpenStreamSync(t.ctx)
		if err != nil {
			conn.CloseWithError(0, "failed to open data stream")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if _, err := dataStream.Write([]byte{StreamTypeData}); err != nil {
			conn.CloseWithError(0, "failed to write data header")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		t.outMu.Lock()
		t.outPeers[peerId] = &peerStreams{
			conn:    conn,
			control: controlStream,
			data:    dataStream,
		}
		t.outMu.Unlock()

		t.logger.Debug("connected to QUIC peer", zap.String("eid", t.eid), zap.String("peer", peerId))
		return
	}
}

func (t *QUICTransport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept(t.ctx)
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
				t.logger.Error("QUIC accept error", zap.Error(err))
				return
			}
		}

		t.inMu.Lock()
		t.inConns = append(t.inConns, conn)
		t.inMu.Unlock()

		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

func (t *QUICTransport) handleConnection(conn *quic.Conn) {
	defer t.wg.Done()

	// Accept and handle streams
	for {
		stream, err := conn.AcceptStream(t.ctx)
		if err != nil {
			return
		}

		t.wg.Add(1)
		go t.handleStream(stream)
	}
}

func (t *QUICTransport) handleStream(stream *quic.Stream) {
	defer t.wg.Done()
	defer stream.Close()

	// First byte identifies the stream type (control or data)
	var typeBuf [1]byte
	if _, err := io.ReadFull(stream, typeBuf[:]); err != nil {
		t.logger.Debug("read stream type", zap.Error(err))
		return
	}

	streamType := typeBuf[0]
	t.logger.Debug("accepted QUIC stream", zap.Uint8("type", streamType))

	for {
		f, err := t.codec.Read(stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case <-t.ctx.Done():
				return
			default:
				// Suppress expected errors during transport shutdown
				if isClosingError(err) {
					return
				}
				t.logger.Warn("read frame error", zap.Error(err), zap.Uint8("streamType", streamType))
				return
			}
		}

		if !t.inbox.Deliver(f) {
			return
		}
	}
}

// Send writes the message to every connected peer on the stream chosen by the
// classifier and delivers a copy to self when the destination is local.
func (t *QUICTransport) Send(ctx context.Context, dest string, payload []byte, ttl time.Duration) (core.BundleId, error) {
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
	streamType := t.classifier.StreamType(dest)

	t.outMu.RLock()
	peers := make([]*peerStreams, 0, len(t.outPeers))
	peerIds := make([]string, 0, len(t.outPeers))
	for id, ps := range t.outPeers {
		peers = append(peers, ps)
		peerIds = append(peerIds, id)
	}
	t.outMu.RUnlock()

	var errs []error
	for i, ps := range peers {
		if err := ctx.Err(); err != nil {
			return f.BundleId, err
		}
		if err := t.writeToStream(ps, streamType, f); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", peerIds[i], err))
		}
	}

	// Deliver to self
	t.inbox.Deliver(f)

	return f.BundleId, errors.Join(errs...)
}

// Receive returns the next message addressed to this endpoint or one of its groups.
func (t *QUICTransport) Receive(ctx context.Context, timeout time.Duration) (core.Delivery, error) {
	return t.inbox.Receive(ctx, timeout)
}

// WaitForReady blocks until all outgoing peer connections and streams are established.
func (t *QUICTransport) WaitForReady() {
	<-t.readyCh
}

// Close shuts down the QUIC transport, closing all connections and the listener.
func (t *QUICTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.shutdown()
	})
	return err
}

func (t *QUICTransport) shutdown() error {
	t.cancel()
	close(t.done)

	if t.listener != nil {
		t.listener.Close()
	}

	t.inMu.Lock()
	for _, conn := range t.inConns {
		conn.CloseWithError(0, "transport closing")
	}
	t.inMu.Unlock()

	t.outMu.Lock()
	for _, ps := range t.outPeers {
		ps.conn.CloseWithError(0, "transport closing")
	}
	t.outMu.Unlock()

	t.wg.Wait()

	if t.quicTr != nil {
		return t.quicTr.Close()
	}
	return nil
}

func (t *QUICTransport) writeToStream(ps *peerStreams, streamType byte, f *frame.Frame) error {
	var stream *quic.Stream
	var mu *sync.Mutex

	switch streamType {
	case StreamTypeData:
		stream = ps.data
		mu = &ps.dataMu
	default:
		stream = ps.control
		mu = &ps.ctrlMu
	}

	mu.Lock()
	defer mu.Unlock()

	return t.codec.Write(stream, f)
}

func isClosingError(err error) bool {
	var appErr *quic.ApplicationError
	return errors.As(err, &appErr)
}
