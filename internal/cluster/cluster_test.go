package cluster_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"slonana-validator-core/internal/cluster"
	"slonana-validator-core/internal/transport/quictransport"
)

func newTestMembership(t *testing.T) *cluster.Membership {
	t.Helper()
	cfg := cluster.DefaultConfig()
	cfg.EnableGossip = false
	m, err := cluster.New(cfg, quictransport.NewPool(4, nil, nil), nil)
	if err != nil {
		t.Fatalf("cluster.New: %v", err)
	}
	return m
}

func TestDispatchDropsUnregisteredType(t *testing.T) {
	m := newTestMembership(t)
	// No handler registered for MsgShredData by default; Dispatch should
	// not panic and should simply drop it.
	m.Dispatch(&cluster.Peer{Addr: "x"}, quictransport.Frame{Type: quictransport.MsgShredData})
}

func TestHandleVoteUpdatesLeaderAndSlot(t *testing.T) {
	m := newTestMembership(t)
	payload, _ := json.Marshal(cluster.VotePayload{NodeID: "node_abc", Slot: 42})
	m.Dispatch(&cluster.Peer{Addr: "x"}, quictransport.Frame{Type: quictransport.MsgVote, Payload: payload})

	leader, slot := m.CurrentLeader()
	if leader != "node_abc" || slot != 42 {
		t.Fatalf("expected leader=node_abc slot=42, got leader=%s slot=%d", leader, slot)
	}
}

func TestBroadcastReturnsFalseWithNoPeers(t *testing.T) {
	m := newTestMembership(t)
	ok := m.Broadcast(context.Background(), quictransport.Frame{Type: quictransport.MsgPing})
	if ok {
		t.Fatal("expected broadcast with no connected peers to return false")
	}
}

func TestDefaultConfigHasRequiredFields(t *testing.T) {
	cfg := cluster.DefaultConfig()
	if cfg.HeartbeatInterval != time.Second {
		t.Fatalf("unexpected heartbeat interval: %v", cfg.HeartbeatInterval)
	}
	if cfg.PeerTimeout != 60*time.Second {
		t.Fatalf("unexpected peer timeout: %v", cfg.PeerTimeout)
	}
	if cfg.NodeID == "" {
		t.Fatal("expected a generated node id")
	}
}
