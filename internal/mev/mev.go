// Package mev implements sandwich/front-run pattern detection and the
// ordering policies used to mitigate them, ported from the original
// banking/mev_protection.{h,cpp}.
package mev

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "mev")

const (
	defaultAlertThreshold    = 0.7
	frontRunConfidence       = 0.75
	maxAlertHistory          = 1000
	similarityLengthFraction = 0.20
)

// Kind classifies a detected MEV pattern.
type Kind int

const (
	KindSandwich Kind = iota
	KindFrontRun
	KindBackRun
	KindBundle
	KindSuspicious
)

func (k Kind) String() string {
	switch k {
	case KindFrontRun:
		return "front-run"
	case KindBackRun:
		return "back-run"
	case KindBundle:
		return "bundle"
	case KindSuspicious:
		return "suspicious"
	default:
		return "sandwich"
	}
}

// Policy controls how a batch of transactions is reordered before
// execution.
type Policy int

const (
	PolicyNone Policy = iota
	PolicyFairOrdering
	PolicyShuffled
	PolicyPrivate
)

// Tx is the minimal view of a transaction the MEV detector needs: its
// identifying hash, a sender proxy (its first signature bytes) and its
// serialized message length, used for the account-overlap and
// operation-similarity heuristics.
type Tx struct {
	Hash      [32]byte
	Sender    [8]byte // first 8 bytes of the first signature
	MsgLength int
}

// Alert records a single detected MEV pattern.
type Alert struct {
	Kind        Kind
	TxHashes    [][32]byte
	Confidence  float64
	Description string
	DetectedAt  time.Time
}

// Detector runs pattern detection over transaction batches and maintains a
// bounded alert history.
type Detector struct {
	mu        sync.Mutex
	history   []Alert
	threshold float64
	enabled   bool
	policy    Policy
	rng       *rand.Rand
}

// Option configures a new Detector.
type Option func(*Detector)

// WithThreshold overrides the default alert confidence threshold (0.7).
func WithThreshold(t float64) Option { return func(d *Detector) { d.threshold = t } }

// WithPolicy sets the ordering policy applied by Reorder.
func WithPolicy(p Policy) Option { return func(d *Detector) { d.policy = p } }

// WithDetectionEnabled toggles whether Detect runs pattern matching at all.
func WithDetectionEnabled(enabled bool) Option { return func(d *Detector) { d.enabled = enabled } }

// New constructs a Detector with fair ordering enabled and the default 0.7
// confidence threshold, matching known production defaults.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold: defaultAlertThreshold,
		enabled:   true,
		policy:    PolicyFairOrdering,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(d)
	}
	log.Info("MEV protection initialized with fair ordering enabled")
	return d
}

func accountsOverlap(a, b Tx) bool {
	var zero [8]byte
	return a.Sender != zero && b.Sender != zero
}

func similarOperations(a, b Tx) bool {
	la, lb := a.MsgLength, b.MsgLength
	larger := la
	if lb > larger {
		larger = lb
	}
	if larger == 0 {
		return la == lb
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) < similarityLengthFraction*float64(larger)
}

func isSandwich(a, victim, b Tx) bool {
	if a.Sender != b.Sender || a.Sender == victim.Sender {
		return false
	}
	return accountsOverlap(a, victim) && accountsOverlap(victim, b)
}

func sandwichConfidence(a, victim, b Tx) float64 {
	confidence := 0.0
	if a.Sender == b.Sender {
		confidence += 0.4
	}
	if accountsOverlap(a, victim) && accountsOverlap(victim, b) {
		confidence += 0.3
	}
	if similarOperations(a, victim) || similarOperations(victim, b) {
		confidence += 0.3
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func isFrontRun(a, b Tx) bool {
	if a.Sender == b.Sender {
		return false
	}
	return accountsOverlap(a, b) && similarOperations(a, b)
}

// Detect scans a batch for sandwich and front-running patterns, appends any
// alerts at or above threshold to the bounded history (oldest evicted first) and
// returns them. With fewer than 2 transactions, or detection disabled, it
// returns nil without touching history.
func (d *Detector) Detect(batch []Tx) []Alert {
	if !d.enabled || len(batch) < 2 {
		return nil
	}

	var alerts []Alert
	now := time.Now()

	if len(batch) >= 3 {
		for i := 0; i+2 < len(batch); i++ {
			a, victim, b := batch[i], batch[i+1], batch[i+2]
			if !isSandwich(a, victim, b) {
				continue
			}
			confidence := sandwichConfidence(a, victim, b)
			if confidence >= d.threshold {
				alerts = append(alerts, Alert{
					Kind:        KindSandwich,
					TxHashes:    [][32]byte{a.Hash, victim.Hash, b.Hash},
					Confidence:  confidence,
					Description: "potential sandwich attack detected",
					DetectedAt:  now,
				})
			}
		}
	}

	for i := 0; i+1 < len(batch); i++ {
		a, b := batch[i], batch[i+1]
		if !isFrontRun(a, b) {
			continue
		}
		if frontRunConfidence >= d.threshold {
			alerts = append(alerts, Alert{
				Kind:        KindFrontRun,
				TxHashes:    [][32]byte{a.Hash, b.Hash},
				Confidence:  frontRunConfidence,
				Description: "potential front-running detected",
				DetectedAt:  now,
			})
		}
	}

	if len(alerts) > 0 {
		d.mu.Lock()
		for _, al := range alerts {
			d.history = append(d.history, al)
		}
		if over := len(d.history) - maxAlertHistory; over > 0 {
			d.history = d.history[over:]
		}
		d.mu.Unlock()
	}
	return alerts
}

// Recent returns the last min(n, len) alerts in insertion order.
func (d *Detector) Recent(n int) []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > len(d.history) {
		n = len(d.history)
	}
	out := make([]Alert, n)
	copy(out, d.history[len(d.history)-n:])
	return out
}

// Reorder applies the configured ordering policy to a batch.
//
//   - PolicyNone: identity.
//   - PolicyFairOrdering / PolicyPrivate: stable copy of the batch in its
//     original order (the routing difference between fair and private
//     delivery is external to this package).
//   - PolicyShuffled: uniform random permutation of the whole batch.
func (d *Detector) Reorder(batch []Tx) []Tx {
	switch d.policy {
	case PolicyNone:
		return batch
	case PolicyShuffled:
		out := make([]Tx, len(batch))
		copy(out, batch)
		d.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	default: // PolicyFairOrdering, PolicyPrivate
		out := make([]Tx, 0, len(batch))
		out = append(out, batch...)
		return out
	}
}

// Policy returns the currently configured ordering policy.
func (d *Detector) Policy() Policy { return d.policy }

// SetPolicy updates the ordering policy applied by Reorder.
func (d *Detector) SetPolicy(p Policy) { d.policy = p }
