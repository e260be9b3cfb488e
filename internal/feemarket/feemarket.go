// Package feemarket implements the adaptive base-fee controller and
// percentile-based priority-fee classifier.
//
// Ported from the original banking/fee_market.{h,cpp}
// (slonana.cpp): classify_fee_tier, estimate_fee_for_priority,
// update_base_fee and calculate_percentile map directly onto the methods
// below, with the base fee held in a plain atomic and the rolling window
// guarded by a single short-critical-section mutex, the same "one mutex,
// bounded critical section" shape used elsewhere for shared pool state.
package feemarket

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "feemarket")

// Tier is a coarse fee bucket derived from recent fee percentiles.
type Tier int

const (
	TierLow Tier = iota
	TierNormal
	TierHigh
	TierUrgent
)

func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierHigh:
		return "high"
	case TierUrgent:
		return "urgent"
	default:
		return "low"
	}
}

const (
	defaultBaseFee           uint64  = 5_000
	minBaseFee               uint64  = 1_000
	defaultTargetUtilization float64 = 0.5
	defaultMaxHistory        int     = 10_000
	adjustmentFactor         float64 = 0.125
	minMultiplier            float64 = 0.875
	maxMultiplier            float64 = 1.125

	p25 = 0.25
	p90 = 0.90
	p99 = 0.99
)

// Sample is a single recorded transaction fee and whether it was included
// in a block.
type Sample struct {
	Fee      uint64
	Included bool
}

// Stats is a derived, point-in-time view over the current fee window.
type Stats struct {
	Min, Median, P90, P99, Max uint64
	Count                      int
}

// Market tracks a rolling window of recent fees and an adaptively-updated
// base fee. The base fee is a single atomic word; the window is guarded by
// one mutex whose critical sections are O(1) for Record and O(window size)
// for percentile/stat queries.
type Market struct {
	baseFee             atomic.Uint64
	targetUtilization   atomic.Uint64 // bits of a float64, via math.Float64bits
	adaptiveEnabled     atomic.Bool

	mu          sync.Mutex
	window      []Sample
	maxHistory  int
}

// Option configures a new Market.
type Option func(*Market)

// WithTargetUtilization overrides the default target utilization (0.5).
func WithTargetUtilization(u float64) Option {
	return func(m *Market) { m.SetTargetUtilization(u) }
}

// WithMaxHistory overrides the default window capacity (10,000).
func WithMaxHistory(n int) Option {
	return func(m *Market) { m.maxHistory = n }
}

// New constructs a Market with the default base fee (5,000 lamports),
// default target utilization (0.5) and adaptive fees enabled.
func New(opts ...Option) *Market {
	m := &Market{maxHistory: defaultMaxHistory}
	m.baseFee.Store(defaultBaseFee)
	m.adaptiveEnabled.Store(true)
	m.SetTargetUtilization(defaultTargetUtilization)
	for _, o := range opts {
		o(m)
	}
	log.WithField("base_fee", defaultBaseFee).Info("fee market initialized")
	return m
}

// SetTargetUtilization clamps and stores the target utilization.
func (m *Market) SetTargetUtilization(u float64) {
	u = clamp01(u)
	m.targetUtilization.Store(math.Float64bits(u))
}

func (m *Market) targetUtil() float64 {
	return math.Float64frombits(m.targetUtilization.Load())
}

// EnableAdaptiveFees toggles whether UpdateBaseFee has any effect.
func (m *Market) EnableAdaptiveFees(enabled bool) { m.adaptiveEnabled.Store(enabled) }

// BaseFee returns the current base fee.
func (m *Market) BaseFee() uint64 { return m.baseFee.Load() }

// ClassifyFeeTier buckets fee into LOW/NORMAL/HIGH/URGENT using recent
// percentiles when history exists, or base-fee multiples otherwise,
// preserving the original's "f >= p25 -> NORMAL" boundary.
func (m *Market) ClassifyFeeTier(fee uint64) Tier {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.window) == 0 {
		base := m.baseFee.Load()
		switch {
		case fee >= base*5:
			return TierUrgent
		case fee >= base*3:
			return TierHigh
		case fee >= base:
			return TierNormal
		default:
			return TierLow
		}
	}

	switch {
	case fee >= m.percentileLocked(p99):
		return TierUrgent
	case fee >= m.percentileLocked(p90):
		return TierHigh
	case fee >= m.percentileLocked(p25):
		return TierNormal
	default:
		return TierLow
	}
}

// EstimateFeeForTier returns a reference fee for the requested tier: p99,
// p90, median or p25 of recent fees when history exists, or 5x, 3x, 2x or
// 1x the base fee otherwise. The TierLow value (p25, or the base fee) is
// itself classified as TierNormal by ClassifyFeeTier.
func (m *Market) EstimateFeeForTier(tier Tier) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.baseFee.Load()
	if len(m.window) == 0 {
		switch tier {
		case TierUrgent:
			return base * 5
		case TierHigh:
			return base * 3
		case TierNormal:
			return base * 2
		default:
			return base
		}
	}

	switch tier {
	case TierUrgent:
		return m.percentileLocked(p99)
	case TierHigh:
		return m.percentileLocked(p90)
	case TierNormal:
		return m.percentileLocked(0.5)
	default:
		return m.percentileLocked(p25)
	}
}

// Record appends a fee sample, evicting the oldest entry in FIFO order once
// the window exceeds its configured capacity.
func (m *Market) Record(fee uint64, included bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = append(m.window, Sample{Fee: fee, Included: included})
	if over := len(m.window) - m.maxHistory; over > 0 {
		m.window = m.window[over:]
	}
}

// Percentile sorts the current window ascending and returns
// window[floor(p*(n-1))]. The sort is performed per call; callers doing
// repeated queries should prefer Stats for a single sorted pass.
func (m *Market) Percentile(p float64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.percentileLocked(p)
}

// percentileLocked assumes mu is held.
func (m *Market) percentileLocked(p float64) uint64 {
	if len(m.window) == 0 {
		return m.baseFee.Load()
	}
	sorted := m.sortedFeesLocked()
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func (m *Market) sortedFeesLocked() []uint64 {
	fees := make([]uint64, len(m.window))
	for i, s := range m.window {
		fees[i] = s.Fee
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })
	return fees
}

// Stats returns a derived view over the current window: min, median, p90,
// p99, max and sample count.
func (m *Market) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.window) == 0 {
		return Stats{}
	}
	sorted := m.sortedFeesLocked()
	return Stats{
		Min:    sorted[0],
		Median: sorted[int(0.5*float64(len(sorted)-1))],
		P90:    sorted[int(p90*float64(len(sorted)-1))],
		P99:    sorted[int(p99*float64(len(sorted)-1))],
		Max:    sorted[len(sorted)-1],
		Count:  len(sorted),
	}
}

// InclusionRate returns the fraction of recorded samples marked included.
// With no history it returns 1.0.
func (m *Market) InclusionRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.window) == 0 {
		return 1.0
	}
	included := 0
	for _, s := range m.window {
		if s.Included {
			included++
		}
	}
	return float64(included) / float64(len(m.window))
}

// TrackedCount returns the number of samples currently in the window.
func (m *Market) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.window)
}

// UpdateBaseFee applies an EIP-1559-style adjustment step: utilization is
// clamped to [0,1], the adjustment multiplier is derived from the
// deviation from target and clamped to [0.875, 1.125], and the new base
// fee is floored at 1,000. It is a no-op when adaptive fees are disabled.
func (m *Market) UpdateBaseFee(utilization float64) {
	if !m.adaptiveEnabled.Load() {
		return
	}
	utilization = clamp01(utilization)

	current := m.baseFee.Load()
	deviation := utilization - m.targetUtil()
	multiplier := 1.0 + deviation*adjustmentFactor
	if multiplier < minMultiplier {
		multiplier = minMultiplier
	}
	if multiplier > maxMultiplier {
		multiplier = maxMultiplier
	}

	newBase := uint64(float64(current) * multiplier)
	if newBase < minBaseFee {
		newBase = minBaseFee
	}
	m.baseFee.Store(newBase)
	log.WithFields(logrus.Fields{
		"from":        current,
		"to":          newBase,
		"utilization": utilization,
	}).Debug("base fee adjusted")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
