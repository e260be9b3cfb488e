package quictransport

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
)

func fakeDial(calls *int) Dialer {
	return func(ctx context.Context, addr string, tlsConf *tls.Config) (quic.Connection, error) {
		*calls++
		return nil, nil
	}
}

func TestPoolReusesLiveConnection(t *testing.T) {
	var calls int
	p := NewPool(4, fakeDial(&calls), nil)

	c1, err := p.Get(context.Background(), "127.0.0.1:9000")
	if err != nil {
		t.Fatal(err)
	}
	c2, err := p.Get(context.Background(), "127.0.0.1:9000")
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatal("expected the cached connection to be reused")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 dial, got %d", calls)
	}
}

func TestPoolEvictsLRUOnOverflow(t *testing.T) {
	var calls int
	p := NewPool(2, fakeDial(&calls), nil)

	ctx := context.Background()
	if _, err := p.Get(ctx, "a:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get(ctx, "b:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get(ctx, "c:1"); err != nil {
		t.Fatal(err)
	}
	if p.Len() != 2 {
		t.Fatalf("expected pool capped at 2 entries, got %d", p.Len())
	}
}

func TestHandshakeRateLimitRejectsRapidRetries(t *testing.T) {
	var calls int
	p := NewPool(4, fakeDial(&calls), nil)
	now := time.Now()
	if !p.allowHandshake("client-a", now) {
		t.Fatal("expected first handshake to be allowed")
	}
	if p.allowHandshake("client-a", now.Add(50*time.Millisecond)) {
		t.Fatal("expected retry within 100ms to be rejected")
	}
	if !p.allowHandshake("client-a", now.Add(150*time.Millisecond)) {
		t.Fatal("expected retry after 100ms to be allowed")
	}
}
