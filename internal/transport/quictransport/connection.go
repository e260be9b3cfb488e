package quictransport

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "quictransport")

// State is a connection's lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "connecting"
	}
}

// Stream is one multiplexed stream within a Connection.
type Stream struct {
	ID     uint64
	qs     quic.Stream
	closed atomic.Bool

	mu            sync.Mutex
	bytesSent     uint64
	bytesReceived uint64
	inbound       [][]byte
}

// Send writes bytes directly to the underlying QUIC stream, when there is
// one, and adds them to the stream's sent-byte count. There is no outbound
// buffer.
func (s *Stream) Send(b []byte) error {
	if s.closed.Load() {
		return errors.New("quictransport: stream closed")
	}
	if s.qs != nil {
		if _, err := s.qs.Write(b); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.bytesSent += uint64(len(b))
	s.mu.Unlock()
	metricBytesSent.Add(float64(len(b)))
	return nil
}

// deliver enqueues an inbound chunk for Receive. Connection has no read
// loop, and nothing in this package calls deliver, so Receive returns only
// chunks enqueued here.
func (s *Stream) deliver(b []byte) {
	s.mu.Lock()
	s.inbound = append(s.inbound, b)
	s.bytesReceived += uint64(len(b))
	s.mu.Unlock()
	metricBytesReceived.Add(float64(len(b)))
}

// Receive pops the next reassembled inbound chunk, or false if none is
// queued. Within one stream, chunks are returned in delivery order.
func (s *Stream) Receive() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbound) == 0 {
		return nil, false
	}
	chunk := s.inbound[0]
	s.inbound = s.inbound[1:]
	return chunk, true
}

// Close marks the stream closed; further Send calls fail.
func (s *Stream) Close() error {
	s.closed.Store(true)
	if s.qs != nil {
		return s.qs.Close()
	}
	return nil
}

// Closed reports whether the stream has been closed.
func (s *Stream) Closed() bool { return s.closed.Load() }

// BytesCounters returns the stream's cumulative sent/received byte counts.
func (s *Stream) BytesCounters() (sent, received uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent, s.bytesReceived
}

// Connection owns a table of streams and tracks its own lifecycle state.
// It wraps an already-handshaken quic.Connection and starts in
// StateConnected. Only a failure to open a stream (CreateStream) moves it
// to StateFailed; a write error in Stream.Send is returned to the caller
// and leaves the connection's state unchanged.
type Connection struct {
	ID             uint64
	RemoteEndpoint string

	qconn quic.Connection

	state      atomic.Int32
	nextStream atomic.Uint64
	rttEstimate atomic.Int64 // nanoseconds

	mu      sync.Mutex
	streams map[uint64]*Stream
}

func newConnection(id uint64, remote string, qconn quic.Connection) *Connection {
	c := &Connection{
		ID:             id,
		RemoteEndpoint: remote,
		qconn:          qconn,
		streams:        make(map[uint64]*Stream),
	}
	c.nextStream.Store(1)
	c.state.Store(int32(StateConnected))
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// MarkFailed transitions the connection to StateFailed, making it eligible
// for pool eviction.
func (c *Connection) MarkFailed() { c.state.Store(int32(StateFailed)) }

// RTT returns the most recently observed round-trip estimate.
func (c *Connection) RTT() time.Duration { return time.Duration(c.rttEstimate.Load()) }

func (c *Connection) recordRTT(d time.Duration) { c.rttEstimate.Store(int64(d)) }

// CreateStream allocates a new stream with the next monotonically
// increasing stream ID.
func (c *Connection) CreateStream(ctx context.Context) (*Stream, error) {
	id := c.nextStream.Add(1) - 1
	var qs quic.Stream
	if c.qconn != nil {
		s, err := c.qconn.OpenStreamSync(ctx)
		if err != nil {
			c.MarkFailed()
			return nil, err
		}
		qs = s
	}
	st := &Stream{ID: id, qs: qs}
	c.mu.Lock()
	c.streams[id] = st
	c.mu.Unlock()
	return st, nil
}

// Stream looks up a previously created stream by ID.
func (c *Connection) Stream(id uint64) (*Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[id]
	return s, ok
}

// StreamCount returns the number of streams currently tracked.
func (c *Connection) StreamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// Close tears down every stream and the underlying QUIC connection.
func (c *Connection) Close() error {
	c.state.Store(int32(StateClosed))
	c.mu.Lock()
	for _, s := range c.streams {
		_ = s.Close()
	}
	c.streams = make(map[uint64]*Stream)
	c.mu.Unlock()
	if c.qconn != nil {
		return c.qconn.CloseWithError(0, "closed")
	}
	return nil
}

// insecureClientTLSConfig is used only when the caller supplies no explicit
// tls.Config; production deployments are expected to pass their own
// mutual-TLS certificate configuration.
func insecureClientTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"slonana-cluster"}}
}
