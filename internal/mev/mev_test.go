package mev_test

import (
	"testing"

	"slonana-validator-core/internal/mev"
)

func txWith(sigPrefix byte, msgLen int, hashByte byte) mev.Tx {
	var sender [8]byte
	for i := range sender {
		sender[i] = sigPrefix
	}
	var hash [32]byte
	hash[0] = hashByte
	return mev.Tx{Hash: hash, Sender: sender, MsgLength: msgLen}
}

func TestSandwichDetection(t *testing.T) {
	d := mev.New(mev.WithThreshold(0.7))
	t0 := txWith(0xAA, 100, 1)
	t1 := txWith(0xBB, 100, 2)
	t2 := txWith(0xAA, 102, 3)

	alerts := d.Detect([]mev.Tx{t0, t1, t2})
	var sandwich *mev.Alert
	for i := range alerts {
		if alerts[i].Kind == mev.KindSandwich {
			sandwich = &alerts[i]
		}
	}
	if sandwich == nil {
		t.Fatalf("expected a sandwich alert, got %+v", alerts)
	}
	if sandwich.Confidence < 0.7 {
		t.Fatalf("confidence %v below threshold", sandwich.Confidence)
	}
	if len(sandwich.TxHashes) != 3 {
		t.Fatalf("expected 3 tx hashes in alert, got %d", len(sandwich.TxHashes))
	}
}

func TestFrontRunDetection(t *testing.T) {
	d := mev.New()
	a := txWith(0x01, 50, 1)
	b := txWith(0x02, 55, 2)
	alerts := d.Detect([]mev.Tx{a, b})
	if len(alerts) != 1 || alerts[0].Kind != mev.KindFrontRun {
		t.Fatalf("expected one front-run alert, got %+v", alerts)
	}
	if alerts[0].Confidence != 0.75 {
		t.Fatalf("expected confidence 0.75, got %v", alerts[0].Confidence)
	}
}

func TestNoPatternBelowTwoTxs(t *testing.T) {
	d := mev.New()
	if alerts := d.Detect([]mev.Tx{txWith(0x01, 10, 1)}); alerts != nil {
		t.Fatalf("expected nil for batch < 2, got %+v", alerts)
	}
}

func TestAlertHistoryBounded(t *testing.T) {
	d := mev.New(mev.WithThreshold(0.0))
	for i := 0; i < 1100; i++ {
		a := txWith(byte(i%250), 10, byte(i))
		b := txWith(byte((i+1)%250+1), 11, byte(i+1))
		d.Detect([]mev.Tx{a, b})
	}
	recent := d.Recent(2000)
	if len(recent) > 1000 {
		t.Fatalf("alert history exceeded bound: %d", len(recent))
	}
}

func TestFairOrderingIdempotent(t *testing.T) {
	d := mev.New(mev.WithPolicy(mev.PolicyFairOrdering))
	batch := []mev.Tx{txWith(1, 1, 1), txWith(2, 2, 2), txWith(3, 3, 3)}
	once := d.Reorder(batch)
	twice := d.Reorder(once)
	for i := range once {
		if once[i].Hash != twice[i].Hash {
			t.Fatalf("fair ordering not idempotent at %d", i)
		}
	}
}

func TestNonePolicyIsIdentity(t *testing.T) {
	d := mev.New(mev.WithPolicy(mev.PolicyNone))
	batch := []mev.Tx{txWith(1, 1, 1), txWith(2, 2, 2)}
	out := d.Reorder(batch)
	if len(out) != len(batch) {
		t.Fatalf("expected identity length, got %d", len(out))
	}
}
