package quictransport

import (
	"context"
	"crypto/tls"
	"errors"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// Stats is a point-in-time snapshot of transport counters.
type Stats struct {
	BytesSent       uint64
	BytesReceived   uint64
	ActiveSessions  int
	ActiveStreams   int
	AverageRTT      time.Duration
	Uptime          time.Duration
}

// Server accepts inbound QUIC connections, admits each into a SessionTable
// and exposes aggregate Stats, using quic-go directly for the listener and
// handshake.
type Server struct {
	listener *quic.Listener
	sessions *SessionTable
	pool     *Pool // reused for the handshake rate limiter

	startedAt time.Time
	nextNonce atomic.Uint64

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewServer constructs a Server bound to addr with the given session
// limits.
func NewServer(addr string, tlsConf *tls.Config, maxSessions int, idleTimeout time.Duration) (*Server, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener:  ln,
		sessions:  NewSessionTable(maxSessions, idleTimeout, nil),
		pool:      NewPool(maxSessions, nil, tlsConf),
		startedAt: time.Now(),
	}
	s.sessions.StartSweeper(100 * time.Millisecond)
	return s, nil
}

// Accept blocks for the next inbound QUIC connection, performs the
// handshake rate-limit check, and admits the resulting session.
func (s *Server) Accept(ctx context.Context) (*Session, error) {
	qconn, err := s.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	remote := qconn.RemoteAddr().String()
	if !s.pool.allowHandshake(remote, time.Now()) {
		_ = qconn.CloseWithError(0, "rate limited")
		return nil, errors.New("quictransport: handshake rate limited")
	}

	id := s.nextNonce.Add(1)
	conn := newConnection(id, remote, qconn)
	key := SessionKey{ClientAddr: remote, Nonce: id}
	return s.sessions.Admit(key, conn)
}

// RecordSent/RecordReceived update the server's cumulative byte counters.
// Nothing in this package calls them, so Stats reports only the bytes that
// callers record through them.
func (s *Server) RecordSent(n int)     { s.bytesSent.Add(uint64(n)) }
func (s *Server) RecordReceived(n int) { s.bytesReceived.Add(uint64(n)) }

// Stats returns a point-in-time snapshot of transport counters.
func (s *Server) Stats() Stats {
	sessions := s.sessions.Sessions()
	streams := 0
	var rttSum time.Duration
	for _, sess := range sessions {
		streams += sess.Conn.StreamCount()
		rttSum += sess.Conn.RTT()
	}
	var avgRTT time.Duration
	if len(sessions) > 0 {
		avgRTT = rttSum / time.Duration(len(sessions))
	}
	return Stats{
		BytesSent:      s.bytesSent.Load(),
		BytesReceived:  s.bytesReceived.Load(),
		ActiveSessions: len(sessions),
		ActiveStreams:  streams,
		AverageRTT:     avgRTT,
		Uptime:         time.Since(s.startedAt),
	}
}

// Close stops the sweeper and the underlying listener.
func (s *Server) Close() error {
	s.sessions.Stop()
	return s.listener.Close()
}
