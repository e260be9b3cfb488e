// Package cluster implements validator cluster membership: bootstrap
// against per-network default peers, HANDSHAKE/PING heartbeat over the
// QUIC transport, message-type dispatch, and BLOCK_ANNOUNCEMENT/VOTE
// gossip over libp2p-pubsub.
//
// Built on the libp2p.New plus pubsub.NewGossipSub host-bootstrap shape
// and a peer table behind one mutex with Connect/Disconnect/DiscoverPeers,
// generalized to the cluster's own message types instead of token-gossip
// topics.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	golibp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"slonana-validator-core/internal/transport/quictransport"
)

var log = logrus.WithField("component", "cluster")

// NetworkID selects the default bootstrap peer list.
type NetworkID string

const (
	NetworkMainnet NetworkID = "mainnet"
	NetworkTestnet NetworkID = "testnet"
	NetworkDevnet  NetworkID = "devnet"
	NetworkLocalnet NetworkID = "localnet"
)

// defaultBootstrapPeers is the per-network seed list. Production
// deployments are expected to override/extend these via configuration.
var defaultBootstrapPeers = map[NetworkID][]string{
	NetworkMainnet:  {"mainnet-entrypoint-1.slonana.io:8001", "mainnet-entrypoint-2.slonana.io:8001"},
	NetworkTestnet:  {"testnet-entrypoint-1.slonana.io:8001"},
	NetworkDevnet:   {"devnet-entrypoint-1.slonana.io:8001"},
	NetworkLocalnet: {"127.0.0.1:8001"},
}

// requiredBootstrapConnections is how many successful bootstrap connections
// stop the bootstrap attempt loop.
const requiredBootstrapConnections = 3

// Peer is a connected cluster member.
type Peer struct {
	NodeID   string
	Addr     string
	Conn     *quictransport.Connection
	LastSeen time.Time
}

// HandshakePayload is the JSON body of a HANDSHAKE message.
type HandshakePayload struct {
	Type    string `json:"type"`
	NodeID  string `json:"node_id"`
	Version string `json:"version"`
}

// PingPayload is the JSON body of a PING message.
type PingPayload struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// BlockAnnouncementPayload is the JSON body of a BLOCK_ANNOUNCEMENT message
//.
type BlockAnnouncementPayload struct {
	Slot uint64 `json:"slot"`
	Hash string `json:"hash"`
	Size uint64 `json:"size"`
}

// Handler processes one inbound message of a given type. Returning an error
// only logs; dispatch always continues.
type Handler func(from *Peer, frame quictransport.Frame) error

// DisconnectCallback fires when a peer is evicted by the heartbeat sweep.
type DisconnectCallback func(*Peer)

// Config controls bootstrap/heartbeat behavior.
type Config struct {
	Network            NetworkID
	NodeID             string
	Version            string
	ExtraBootstrapAddrs []string
	HeartbeatInterval  time.Duration
	PeerTimeout        time.Duration
	ListenAddr         string
	EnableGossip       bool
}

// DefaultConfig returns sensible defaults for a standalone or local node.
func DefaultConfig() Config {
	return Config{
		Network:           NetworkLocalnet,
		NodeID:            "node_" + uuid.NewString()[:16],
		Version:           "1.0.0",
		HeartbeatInterval: time.Second,
		PeerTimeout:       60 * time.Second,
		ListenAddr:        "/ip4/0.0.0.0/tcp/0",
		EnableGossip:      true,
	}
}

// Membership tracks connected peers, the current leader/slot and dispatches
// inbound cluster messages by type.
type Membership struct {
	cfg  Config
	pool *quictransport.Pool

	host   host.Host
	pubsub *pubsub.PubSub
	topics map[string]*pubsub.Topic

	mu              sync.Mutex
	peers           map[string]*Peer
	currentLeader   string
	currentSlot     uint64
	handlers        map[quictransport.MessageType]Handler
	onDisconnect    DisconnectCallback

	stopped chan struct{}
}

// New constructs a Membership over the given connection pool.
func New(cfg Config, pool *quictransport.Pool, onDisconnect DisconnectCallback) (*Membership, error) {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Second
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = 60 * time.Second
	}

	m := &Membership{
		cfg:          cfg,
		pool:         pool,
		peers:        make(map[string]*Peer),
		handlers:     make(map[quictransport.MessageType]Handler),
		onDisconnect: onDisconnect,
		topics:       make(map[string]*pubsub.Topic),
	}

	if cfg.EnableGossip {
		h, err := golibp2p.New(golibp2p.ListenAddrStrings(cfg.ListenAddr))
		if err != nil {
			return nil, fmt.Errorf("cluster: create libp2p host: %w", err)
		}
		ps, err := pubsub.NewGossipSub(context.Background(), h)
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("cluster: create pubsub: %w", err)
		}
		m.host = h
		m.pubsub = ps

		if err := mdns.NewMdnsService(h, "slonana-cluster", &mdnsNotifee{host: h}).Start(); err != nil {
			log.WithError(err).Warn("mDNS discovery failed to start")
		}
	}

	m.RegisterHandler(quictransport.MsgHandshake, m.handleHandshake)
	m.RegisterHandler(quictransport.MsgPing, m.handlePing)
	m.RegisterHandler(quictransport.MsgVote, m.handleVote)
	return m, nil
}

// RegisterHandler installs (or replaces) the handler for a message type.
func (m *Membership) RegisterHandler(t quictransport.MessageType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = h
}

// Bootstrap attempts connections to the network's default peers plus any
// user-supplied addresses, in order, stopping after 3 successes.
func (m *Membership) Bootstrap(ctx context.Context) int {
	addrs := append([]string{}, defaultBootstrapPeers[m.cfg.Network]...)
	addrs = append(addrs, m.cfg.ExtraBootstrapAddrs...)

	successes := 0
	for _, addr := range addrs {
		if successes >= requiredBootstrapConnections {
			break
		}
		if err := m.connectAndHandshake(ctx, addr); err != nil {
			log.WithError(err).WithField("addr", addr).Warn("bootstrap connection failed")
			continue
		}
		successes++
	}
	return successes
}

func (m *Membership) connectAndHandshake(ctx context.Context, addr string) error {
	conn, err := m.pool.Get(ctx, addr)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(HandshakePayload{Type: "handshake", NodeID: m.cfg.NodeID, Version: m.cfg.Version})
	frame := quictransport.Encode(quictransport.Frame{
		Type:      quictransport.MsgHandshake,
		Timestamp: uint64(time.Now().UnixMilli()),
		SenderID:  m.cfg.NodeID,
		Payload:   payload,
	})
	stream, err := conn.CreateStream(ctx)
	if err != nil {
		return err
	}
	if err := stream.Send(frame); err != nil {
		return err
	}

	m.mu.Lock()
	m.peers[addr] = &Peer{NodeID: addr, Addr: addr, Conn: conn, LastSeen: time.Now()}
	m.mu.Unlock()
	return nil
}

// Dispatch routes an inbound frame to its registered handler by type,
// logging and dropping if none is registered.
func (m *Membership) Dispatch(from *Peer, frame quictransport.Frame) {
	m.mu.Lock()
	h, ok := m.handlers[frame.Type]
	m.mu.Unlock()
	if !ok {
		log.WithField("type", frame.Type).Debug("no handler registered, dropping message")
		return
	}
	if err := h(from, frame); err != nil {
		log.WithError(err).WithField("type", frame.Type).Warn("handler returned error")
	}
}

func (m *Membership) handleHandshake(from *Peer, frame quictransport.Frame) error {
	var hs HandshakePayload
	if err := json.Unmarshal(frame.Payload, &hs); err != nil {
		return err
	}
	m.mu.Lock()
	if p, ok := m.peers[from.Addr]; ok {
		p.NodeID = hs.NodeID
		p.LastSeen = time.Now()
	}
	m.mu.Unlock()
	return nil
}

func (m *Membership) handlePing(from *Peer, frame quictransport.Frame) error {
	m.mu.Lock()
	if p, ok := m.peers[from.Addr]; ok {
		p.LastSeen = time.Now()
	}
	m.mu.Unlock()
	return nil
}

// VotePayload carries a leader-election vote.
type VotePayload struct {
	NodeID string `json:"node_id"`
	Slot   uint64 `json:"slot"`
}

func (m *Membership) handleVote(from *Peer, frame quictransport.Frame) error {
	var v VotePayload
	if err := json.Unmarshal(frame.Payload, &v); err != nil {
		return err
	}
	m.mu.Lock()
	m.currentLeader = v.NodeID
	m.currentSlot = v.Slot
	m.mu.Unlock()
	return nil
}

// CurrentLeader returns the tracked leader node-id and slot.
func (m *Membership) CurrentLeader() (string, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLeader, m.currentSlot
}

// Broadcast sends msg to every connected peer, returning false if there are
// none.
func (m *Membership) Broadcast(ctx context.Context, frame quictransport.Frame) bool {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	if len(peers) == 0 {
		return false
	}
	wire := quictransport.Encode(frame)
	for _, p := range peers {
		stream, err := p.Conn.CreateStream(ctx)
		if err != nil {
			log.WithError(err).WithField("peer", p.Addr).Warn("broadcast stream failed")
			continue
		}
		if err := stream.Send(wire); err != nil {
			log.WithError(err).WithField("peer", p.Addr).Warn("broadcast send failed")
		}
	}
	return true
}

// GossipBlockAnnouncement publishes a BLOCK_ANNOUNCEMENT over the
// libp2p-pubsub "blocks" topic, lazily joining it on first use.
func (m *Membership) GossipBlockAnnouncement(ctx context.Context, b BlockAnnouncementPayload) error {
	return m.publish(ctx, "blocks", b)
}

// GossipVote publishes a VOTE over the libp2p-pubsub "votes" topic.
func (m *Membership) GossipVote(ctx context.Context, v VotePayload) error {
	return m.publish(ctx, "votes", v)
}

func (m *Membership) publish(ctx context.Context, topicName string, v any) error {
	if m.pubsub == nil {
		return fmt.Errorf("cluster: gossip disabled")
	}
	m.mu.Lock()
	topic, ok := m.topics[topicName]
	if !ok {
		t, err := m.pubsub.Join(topicName)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.topics[topicName] = t
		topic = t
	}
	m.mu.Unlock()

	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return topic.Publish(ctx, body)
}

// Peers returns a snapshot slice of connected peers.
func (m *Membership) Peers() []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// StartHeartbeat launches the PING/eviction loop on its own goroutine.
func (m *Membership) StartHeartbeat(ctx context.Context) {
	stop := make(chan struct{})
	m.stopped = stop
	go func() {
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.heartbeatOnce(ctx)
			}
		}
	}()
}

func (m *Membership) heartbeatOnce(ctx context.Context) {
	payload, _ := json.Marshal(PingPayload{Type: "ping", Timestamp: time.Now().UnixMilli()})
	pingFrame := quictransport.Frame{
		Type:      quictransport.MsgPing,
		Timestamp: uint64(time.Now().UnixMilli()),
		SenderID:  m.cfg.NodeID,
		Payload:   payload,
	}
	m.Broadcast(ctx, pingFrame)

	now := time.Now()
	var evicted []*Peer
	m.mu.Lock()
	for addr, p := range m.peers {
		if now.Sub(p.LastSeen) > m.cfg.PeerTimeout {
			delete(m.peers, addr)
			evicted = append(evicted, p)
		}
	}
	m.mu.Unlock()

	for _, p := range evicted {
		if m.onDisconnect != nil {
			m.onDisconnect(p)
		}
	}
}

// StopHeartbeat halts the heartbeat goroutine, if running.
func (m *Membership) StopHeartbeat() {
	if m.stopped != nil {
		close(m.stopped)
		m.stopped = nil
	}
}

// Close tears down the libp2p host, if one was created.
func (m *Membership) Close() error {
	m.StopHeartbeat()
	if m.host != nil {
		return m.host.Close()
	}
	return nil
}

// mdnsNotifee connects to locally-discovered libp2p peers as they appear.
type mdnsNotifee struct {
	host host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, pi); err != nil {
		log.WithError(err).WithField("peer", pi.ID.String()).Debug("mDNS peer connect failed")
	}
}
