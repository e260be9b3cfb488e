package quictransport

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go"
	"golang.org/x/time/rate"
)

var (
	metricActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quictransport_active_connections",
		Help: "Live pooled client connections.",
	})
	metricBytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quictransport_bytes_sent_total",
		Help: "Bytes written across all connections.",
	})
	metricBytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quictransport_bytes_received_total",
		Help: "Bytes read across all connections.",
	})
)

func init() {
	prometheus.MustRegister(metricActiveConnections, metricBytesSent, metricBytesReceived)
}

// Dialer is the minimal capability the pool needs to establish a new QUIC
// connection; production wiring supplies quicDial, tests substitute a fake.
type Dialer func(ctx context.Context, addr string, tlsConf *tls.Config) (quic.Connection, error)

// quicDial dials addr over QUIC using quic-go directly.
func quicDial(ctx context.Context, addr string, tlsConf *tls.Config) (quic.Connection, error) {
	if tlsConf == nil {
		tlsConf = insecureClientTLSConfig()
	}
	return quic.DialAddr(ctx, addr, tlsConf, nil)
}

// Pool is the client-side connection pool: connections are cached by
// "host:port", reused on lookup, and LRU-evicted on reaching MaxConnections.
// A single mutex guards a hashicorp/golang-lru/v2 cache, which supplies the
// eviction policy; the pool runs no background cleanup goroutine.
type Pool struct {
	dial     Dialer
	tlsConf  *tls.Config
	nextID   atomic.Uint64

	mu    sync.Mutex
	cache *lru.Cache[string, *Connection]

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewPool constructs a client Pool with the given maximum live connection
// count.
func NewPool(maxConnections int, dial Dialer, tlsConf *tls.Config) *Pool {
	if dial == nil {
		dial = quicDial
	}
	p := &Pool{dial: dial, tlsConf: tlsConf, limiters: make(map[string]*rate.Limiter)}
	cache, _ := lru.NewWithEvict[string, *Connection](maxConnections, func(_ string, conn *Connection) {
		_ = conn.Close()
		metricActiveConnections.Dec()
	})
	p.cache = cache
	return p
}

// Get returns a live connection for "host:port", dialing a new one if none
// is cached or the cached one has failed.
func (p *Pool) Get(ctx context.Context, hostport string) (*Connection, error) {
	p.mu.Lock()
	if conn, ok := p.cache.Get(hostport); ok && conn.State() == StateConnected {
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	qconn, err := p.dial(ctx, hostport, p.tlsConf)
	if err != nil {
		return nil, err
	}
	id := p.nextID.Add(1)
	conn := newConnection(id, hostport, qconn)

	p.mu.Lock()
	p.cache.Add(hostport, conn)
	p.mu.Unlock()
	metricActiveConnections.Inc()
	return conn, nil
}

// Remove evicts hostport's cached connection, if any, and closes it.
func (p *Pool) Remove(hostport string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.cache.Get(hostport); ok {
		_ = conn.Close()
		p.cache.Remove(hostport)
		metricActiveConnections.Dec()
	}
}

// Len returns the number of currently pooled connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

// Close tears down every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hostport := range p.cache.Keys() {
		if conn, ok := p.cache.Peek(hostport); ok {
			_ = conn.Close()
		}
	}
	p.cache.Purge()
}

// allowHandshake applies a 100ms-per-client-address handshake rate limit: a
// handshake from the same address within 100ms of the prior one is
// rejected. Each address gets its own token-bucket limiter (one token,
// refilled every 100ms) via golang.org/x/time/rate.
func (p *Pool) allowHandshake(addr string, now time.Time) bool {
	p.limiterMu.Lock()
	defer p.limiterMu.Unlock()
	lim, ok := p.limiters[addr]
	if !ok {
		lim = rate.NewLimiter(rate.Every(100*time.Millisecond), 1)
		p.limiters[addr] = lim
	}
	return lim.AllowN(now, 1)
}
