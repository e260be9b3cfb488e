package feemarket_test

import (
	"math"
	"testing"

	"slonana-validator-core/internal/feemarket"
)

func TestPercentileScenario(t *testing.T) {
	m := feemarket.New()
	for i := 1; i <= 100; i++ {
		m.Record(uint64(i)*1000, true)
	}
	stats := m.Stats()
	if stats.Min != 1000 {
		t.Fatalf("min = %d, want 1000", stats.Min)
	}
	if stats.Median < 49_000 || stats.Median > 51_000 {
		t.Fatalf("median = %d, want in [49000,51000]", stats.Median)
	}
	if stats.P90 < 89_000 {
		t.Fatalf("p90 = %d, want >= 89000", stats.P90)
	}
	if stats.P99 < 99_000 {
		t.Fatalf("p99 = %d, want >= 99000", stats.P99)
	}
	if stats.Max != 100_000 {
		t.Fatalf("max = %d, want 100000", stats.Max)
	}
	if stats.Count != 100 {
		t.Fatalf("count = %d, want 100", stats.Count)
	}
	if rate := m.InclusionRate(); rate != 1.0 {
		t.Fatalf("inclusion rate = %v, want 1.0", rate)
	}
}

func TestBaseFeeDriftUpward(t *testing.T) {
	m := feemarket.New()
	for i := 0; i < 10; i++ {
		m.UpdateBaseFee(1.0)
	}
	got := m.BaseFee()
	lowerBound := uint64(math.Floor(5000 * math.Pow(1.0625, 10) * 0.999))
	upperBound := uint64(math.Ceil(5000 * math.Pow(1.125, 10)))
	if got < lowerBound || got > upperBound {
		t.Fatalf("base fee %d out of expected range [%d,%d]", got, lowerBound, upperBound)
	}
	if got >= uint64(5000*math.Pow(1.125, 10))+1 {
		t.Fatalf("base fee exceeded max possible growth: %d", got)
	}
}

func TestBaseFeeNeverDropsBelowFloor(t *testing.T) {
	m := feemarket.New()
	for i := 0; i < 1000; i++ {
		m.UpdateBaseFee(0.0)
	}
	if m.BaseFee() < 1000 {
		t.Fatalf("base fee dropped below floor: %d", m.BaseFee())
	}
}

func TestAdaptiveDisabledIsNoop(t *testing.T) {
	m := feemarket.New()
	m.EnableAdaptiveFees(false)
	before := m.BaseFee()
	m.UpdateBaseFee(1.0)
	if m.BaseFee() != before {
		t.Fatalf("base fee changed while adaptive fees disabled: %d -> %d", before, m.BaseFee())
	}
}

func TestClassifyTierEmptyHistory(t *testing.T) {
	m := feemarket.New() // base fee 5000
	cases := []struct {
		fee  uint64
		want feemarket.Tier
	}{
		{1000, feemarket.TierLow},
		{5000, feemarket.TierNormal},
		{15_000, feemarket.TierHigh},
		{25_000, feemarket.TierUrgent},
	}
	for _, c := range cases {
		if got := m.ClassifyFeeTier(c.fee); got != c.want {
			t.Fatalf("classify(%d) = %v, want %v", c.fee, got, c.want)
		}
	}
}

func TestWindowEvictsFIFO(t *testing.T) {
	m := feemarket.New(feemarket.WithMaxHistory(5))
	for i := 1; i <= 8; i++ {
		m.Record(uint64(i), true)
	}
	if m.TrackedCount() != 5 {
		t.Fatalf("tracked count = %d, want 5", m.TrackedCount())
	}
	stats := m.Stats()
	if stats.Min != 4 {
		t.Fatalf("oldest retained sample should be 4, min = %d", stats.Min)
	}
}
