// Package banking implements the transaction pipeline: a sequence of
// bounded-queue stages that ingest, verify, classify, reorder, execute and
// commit transactions, backed by the fee market, MEV protection and BPF
// runtime packages.
//
// Ingress generalizes an AddTx shape (dedup by hash, mutex-guarded
// map+slice) into a full staged pipeline with work-stealing-style
// parallel execution via golang.org/x/sync/errgroup.
package banking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"slonana-validator-core/internal/bpf"
	"slonana-validator-core/internal/bpf/costtable"
	"slonana-validator-core/internal/feemarket"
	"slonana-validator-core/internal/mev"
)

var log = logrus.WithField("component", "banking")

// Transaction is the pipeline's unit of work. The message body is opaque to
// the banking stage beyond its length and first signature; the
// writable-account set is supplied pre-parsed by the caller (the ledger
// layer decodes the wire message; that decoding is out of scope here).
type Transaction struct {
	Signatures       [][]byte
	Message          []byte
	WritableAccounts [][32]byte
	Fee              uint64
	Program          []costtable.Opcode
}

// Hash returns the transaction's identifying hash: its first signature.
func (t *Transaction) Hash() [32]byte {
	var h [32]byte
	if len(t.Signatures) > 0 {
		copy(h[:], t.Signatures[0])
	}
	return h
}

func (t *Transaction) senderProxy() [8]byte {
	var s [8]byte
	if len(t.Signatures) > 0 {
		copy(s[:], t.Signatures[0])
	}
	return s
}

// Outcome is the per-transaction result of a pipeline run.
type Outcome struct {
	Tx          *Transaction
	Accepted    bool
	Reason      string
	ComputeUsed uint64
	Mutations   []bpf.AccountMutation
}

// Block is the committed set produced by one pipeline pass.
type Block struct {
	Committed []Outcome
	Sequence  uint64
}

// BlockCallback is invoked once per committed batch, in total, monotonic
// commit order.
type BlockCallback func(Block)

// Config controls pipeline shape.
type Config struct {
	BatchSize             int
	ParallelStages        int
	MaxConcurrentBatches  int
	ComputeBudgetPerTx    uint64
	MinFeeToAccept        uint64
}

// DefaultConfig returns sensible defaults for a single validator node.
func DefaultConfig() Config {
	return Config{
		BatchSize:            128,
		ParallelStages:       4,
		MaxConcurrentBatches: 4,
		ComputeBudgetPerTx:   200_000,
		MinFeeToAccept:       0,
	}
}

var (
	metricIngress = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "banking_ingress_total",
		Help: "Transactions accepted into the ingress queue.",
	})
	metricRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "banking_rejected_total",
		Help: "Transactions rejected by pipeline stage.",
	}, []string{"stage"})
	metricCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "banking_committed_total",
		Help: "Transactions committed to the ledger.",
	})
)

func init() {
	prometheus.MustRegister(metricIngress, metricRejected, metricCommitted)
}

// ErrDuplicate is returned by Ingress when a transaction's hash has already
// been seen.
var ErrDuplicate = errors.New("banking: duplicate transaction")

// Pipeline wires C4/C5/C6 into the seven pipeline stages and dispatches
// batches to a configurable number of parallel workers.
type Pipeline struct {
	cfg     Config
	fees    *feemarket.Market
	mevDet  *mev.Detector
	onBlock BlockCallback

	mu       sync.Mutex
	seen     map[[32]byte]struct{}
	pending  []*Transaction
	sequence uint64

	batchSizeOverride int // set by pressure signal; 0 means use cfg.BatchSize
}

// New constructs a Pipeline over the given fee market and MEV detector.
func New(cfg Config, fees *feemarket.Market, mevDet *mev.Detector, onBlock BlockCallback) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		fees:    fees,
		mevDet:  mevDet,
		onBlock: onBlock,
		seen:    make(map[[32]byte]struct{}),
	}
}

// Ingress stage 1: deduplicate by first-signature, reject malformed.
func (p *Pipeline) Ingress(tx *Transaction) error {
	if tx == nil || len(tx.Signatures) == 0 {
		metricRejected.WithLabelValues("ingress").Inc()
		return errors.New("banking: malformed transaction")
	}
	h := tx.Hash()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.seen[h]; dup {
		metricRejected.WithLabelValues("ingress").Inc()
		return ErrDuplicate
	}
	p.seen[h] = struct{}{}
	p.pending = append(p.pending, tx)
	metricIngress.Inc()
	return nil
}

// effectiveBatchSize halves under resource pressure and never drops
// below 1.
func (p *Pipeline) effectiveBatchSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	size := p.cfg.BatchSize
	if p.batchSizeOverride > 0 {
		size = p.batchSizeOverride
	}
	if size < 1 {
		size = 1
	}
	return size
}

// OnResourcePressure halves the effective batch size; called by the
// resource monitor's warning callback. Clearing pressure (pressured=false)
// restores the configured batch size.
func (p *Pipeline) OnResourcePressure(pressured bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !pressured {
		p.batchSizeOverride = 0
		return
	}
	cur := p.cfg.BatchSize
	if p.batchSizeOverride > 0 {
		cur = p.batchSizeOverride
	}
	half := cur / 2
	if half < 1 {
		half = 1
	}
	p.batchSizeOverride = half
}

// DrainBatch pulls up to the effective batch size of pending transactions
// for one pipeline pass, in ingress order.
func (p *Pipeline) DrainBatch() []*Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.effectiveBatchSizeLocked()
	if n > len(p.pending) {
		n = len(p.pending)
	}
	batch := p.pending[:n]
	p.pending = p.pending[n:]
	return batch
}

func (p *Pipeline) effectiveBatchSizeLocked() int {
	size := p.cfg.BatchSize
	if p.batchSizeOverride > 0 {
		size = p.batchSizeOverride
	}
	if size < 1 {
		size = 1
	}
	return size
}

// RunBatch drives one full pass of stages 2-7 over batch, returning the
// committed outcomes in total commit order.
func (p *Pipeline) RunBatch(ctx context.Context, batch []*Transaction) Block {
	verified := p.verifySignatures(batch)
	classified := p.classifyFees(verified)
	ordered := p.applyMEV(classified)
	groups := p.groupByWritableAccounts(ordered)
	outcomes := p.executeGroups(ctx, groups)
	return p.commit(outcomes)
}

// SignatureVerifier is the shape of a per-transaction signature check.
// Stage 2 (verifySignatures) always applies DefaultVerifier; a Pipeline
// has no field or option for supplying a different SignatureVerifier.
type SignatureVerifier func(tx *Transaction) bool

// DefaultVerifier accepts every transaction with at least one non-empty
// signature. It performs no Ed25519 cryptographic verification.
func DefaultVerifier(tx *Transaction) bool {
	return len(tx.Signatures) > 0 && len(tx.Signatures[0]) > 0
}

func (p *Pipeline) verifySignatures(batch []*Transaction) []*Transaction {
	out := make([]*Transaction, 0, len(batch))
	for _, tx := range batch {
		if DefaultVerifier(tx) {
			out = append(out, tx)
		} else {
			metricRejected.WithLabelValues("sigverify").Inc()
		}
	}
	return out
}

// classifyFees is stage 3: classify and record each fee; below-threshold
// fees are deferred (left out of this pass, returned to pending for a
// later attempt).
func (p *Pipeline) classifyFees(batch []*Transaction) []*Transaction {
	out := make([]*Transaction, 0, len(batch))
	for _, tx := range batch {
		tier := p.fees.ClassifyFeeTier(tx.Fee)
		accepted := tx.Fee >= p.cfg.MinFeeToAccept
		p.fees.Record(tx.Fee, accepted)
		if !accepted {
			metricRejected.WithLabelValues("fee").Inc()
			p.mu.Lock()
			p.pending = append(p.pending, tx)
			p.mu.Unlock()
			continue
		}
		_ = tier
		out = append(out, tx)
	}
	return out
}

// applyMEV is stage 4.
func (p *Pipeline) applyMEV(batch []*Transaction) []*Transaction {
	if p.mevDet == nil {
		return batch
	}
	mevTxs := make([]mev.Tx, len(batch))
	for i, tx := range batch {
		mevTxs[i] = mev.Tx{Hash: tx.Hash(), Sender: tx.senderProxy(), MsgLength: len(tx.Message)}
	}
	if alerts := p.mevDet.Detect(mevTxs); len(alerts) > 0 {
		log.WithField("count", len(alerts)).Warn("MEV patterns detected in batch")
	}
	reordered := p.mevDet.Reorder(mevTxs)
	byHash := make(map[[32]byte]*Transaction, len(batch))
	for _, tx := range batch {
		byHash[tx.Hash()] = tx
	}
	out := make([]*Transaction, 0, len(reordered))
	for _, t := range reordered {
		if tx, ok := byHash[t.Hash]; ok {
			out = append(out, tx)
		}
	}
	return out
}

// txGroup is a set of transactions that must serialize against each other
// because they share a writable account.
type txGroup struct {
	txs []*Transaction
}

// groupByWritableAccounts is stage 5: transactions sharing a writable
// account serialize within their group; disjoint groups run in parallel.
func (p *Pipeline) groupByWritableAccounts(batch []*Transaction) []txGroup {
	groups := make([]txGroup, 0, len(batch))
	accountGroup := map[[32]byte]int{}

	find := func(acc [32]byte) (int, bool) {
		g, ok := accountGroup[acc]
		return g, ok
	}

	for _, tx := range batch {
		target := -1
		for _, acc := range tx.WritableAccounts {
			g, ok := find(acc)
			if !ok || g == target {
				continue
			}
			if target == -1 {
				target = g
				continue
			}
			// tx bridges two existing groups: fold g into target.
			groups[target].txs = append(groups[target].txs, groups[g].txs...)
			groups[g].txs = nil
			for a, ag := range accountGroup {
				if ag == g {
					accountGroup[a] = target
				}
			}
		}
		if target == -1 {
			groups = append(groups, txGroup{})
			target = len(groups) - 1
		}
		groups[target].txs = append(groups[target].txs, tx)
		for _, acc := range tx.WritableAccounts {
			accountGroup[acc] = target
		}
	}
	return groups
}

// executeGroups is stage 6: independent groups run on a worker pool (up to
// cfg.ParallelStages concurrent groups); within a group, transactions
// execute serially in arrival order.
func (p *Pipeline) executeGroups(ctx context.Context, groups []txGroup) []Outcome {
	outcomes := make([][]Outcome, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(1, p.cfg.ParallelStages))

	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			outcomes[i] = p.executeGroupSerially(gctx, grp)
			return nil
		})
	}
	_ = g.Wait()

	flat := make([]Outcome, 0, len(groups))
	for _, o := range outcomes {
		flat = append(flat, o...)
	}
	return flat
}

func (p *Pipeline) executeGroupSerially(_ context.Context, grp txGroup) []Outcome {
	out := make([]Outcome, 0, len(grp.txs))
	for _, tx := range grp.txs {
		rt := bpf.New(p.cfg.ComputeBudgetPerTx)
		result := rt.Execute(tx.Program, nil)
		if result.Fault != nil {
			out = append(out, Outcome{Tx: tx, Accepted: false, Reason: result.Fault.Error(), ComputeUsed: result.ComputeUsed})
			continue
		}
		out = append(out, Outcome{Tx: tx, Accepted: true, ComputeUsed: result.ComputeUsed, Mutations: result.Mutations})
	}
	return out
}

// commit is the final stage: apply mutations atomically per tx
// (conceptually; actual ledger application is external) and emit a block
// notification with the committed set, in total monotonic sequence order.
func (p *Pipeline) commit(outcomes []Outcome) Block {
	p.mu.Lock()
	p.sequence++
	seq := p.sequence
	p.mu.Unlock()

	committed := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Accepted {
			committed = append(committed, o)
			metricCommitted.Inc()
		} else {
			metricRejected.WithLabelValues("execute").Inc()
		}
	}
	block := Block{Committed: committed, Sequence: seq}
	if p.onBlock != nil {
		p.onBlock(block)
	}
	return block
}

// Run drives the pipeline in a loop until ctx is cancelled, polling for
// pending work and running one batch per tick.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch := p.DrainBatch()
			if len(batch) == 0 {
				continue
			}
			p.RunBatch(ctx, batch)
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
