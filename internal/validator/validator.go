// Package validator sequences the validator's startup and shutdown:
// identity, then the fee market, MEV detector, banking pipeline, resource
// monitor and transport pool, then cluster membership with its message
// handlers, then ledger bootstrap, and last the banking loop. It forwards
// block notifications from the banking stage to the ledger and to cluster
// gossip, and pushes inbound cluster TRANSACTION_FORWARD messages into the
// banking stage. Inbound block announcements are only logged, and votes
// update the cluster's leader/slot tracking without reaching the banking
// stage.
package validator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"slonana-validator-core/internal/alerting"
	"slonana-validator-core/internal/banking"
	"slonana-validator-core/internal/cluster"
	"slonana-validator-core/internal/feemarket"
	"slonana-validator-core/internal/identity"
	"slonana-validator-core/internal/mev"
	"slonana-validator-core/internal/monitoring"
	"slonana-validator-core/internal/transport/quictransport"
	"slonana-validator-core/pkg/config"
)

var log = logrus.WithField("component", "validator")

// LedgerBootstrapper is the external ledger/block-store collaborator,
// referenced only through its interface.
type LedgerBootstrapper interface {
	Bootstrap(ctx context.Context) error
	CommitBlock(ctx context.Context, block banking.Block) error
}

// Validator wires every component together per the startup sequence.
type Validator struct {
	cfg     config.Config
	keypair identity.Keypair

	monitor   *monitoring.Monitor
	fees      *feemarket.Market
	mevDet    *mev.Detector
	pipeline  *banking.Pipeline
	pool      *quictransport.Pool
	server    *quictransport.Server
	members   *cluster.Membership
	alerts    *alerting.Dispatcher
	ledger    LedgerBootstrapper

	cancel context.CancelFunc
}

// Option configures a Validator during New.
type Option func(*Validator)

// WithLedger installs the external ledger collaborator.
func WithLedger(l LedgerBootstrapper) Option { return func(v *Validator) { v.ledger = l } }

// New constructs a Validator. It does not start any background loop; call
// Start for that.
func New(cfg config.Config, opts ...Option) (*Validator, error) {
	v := &Validator{cfg: cfg}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Start sequences startup: identity -> fee market, MEV, banking, resource
// monitor, transport pool -> cluster membership (handler registration,
// bootstrap, heartbeat) -> ledger bootstrap -> banking loop.
func (v *Validator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel

	kp, err := identity.LoadOrGenerate(v.cfg.IdentityKeypairPath)
	if err != nil {
		return fmt.Errorf("validator: identity: %w", err)
	}
	v.keypair = kp
	log.WithField("node_id", kp.NodeID()).Info("identity loaded")

	v.alerts = alerting.NewDispatcher(alerting.NewConsoleChannel(true))

	v.fees = feemarket.New(
		feemarket.WithTargetUtilization(v.cfg.FeeMarket.TargetUtilization),
		feemarket.WithMaxHistory(v.cfg.FeeMarket.MaxHistorySize),
	)
	v.fees.EnableAdaptiveFees(v.cfg.FeeMarket.AdaptiveFees)

	v.mevDet = mev.New(
		mev.WithThreshold(v.cfg.MEVProtection.AlertThreshold),
		mev.WithDetectionEnabled(v.cfg.MEVProtection.DetectionEnabled),
		mev.WithPolicy(protectionLevelToPolicy(v.cfg.MEVProtection.ProtectionLevel)),
	)

	bankingCfg := banking.DefaultConfig()
	bankingCfg.BatchSize = v.cfg.Banking.BatchSize
	bankingCfg.ParallelStages = v.cfg.Banking.ParallelStages
	bankingCfg.MaxConcurrentBatches = v.cfg.Banking.MaxConcurrentBatches
	v.pipeline = banking.New(bankingCfg, v.fees, v.mevDet, v.onBankingBlock)

	monCfg := monitoring.Config{
		MemoryWarning:  v.cfg.ResourceMonitor.MemoryWarning,
		MemoryCritical: v.cfg.ResourceMonitor.MemoryCritical,
		CPUWarning:     v.cfg.ResourceMonitor.CPUWarning,
		CPUCritical:    v.cfg.ResourceMonitor.CPUCritical,
		DiskWarning:    v.cfg.ResourceMonitor.DiskWarning,
		DiskCritical:   v.cfg.ResourceMonitor.DiskCritical,
		CheckInterval:  v.cfg.ResourceMonitor.CheckInterval,
		DiskPath:       "/",
	}
	v.monitor = monitoring.New(monCfg, v.onResourcePressure)
	v.monitor.Start(ctx)

	if v.cfg.EnableQUIC {
		v.pool = quictransport.NewPool(64, nil, nil)
	}

	if v.cfg.EnableGossip {
		clusterCfg := cluster.DefaultConfig()
		clusterCfg.Network = cluster.NetworkID(v.cfg.NetworkID)
		clusterCfg.NodeID = kp.NodeID()
		clusterCfg.ListenAddr = v.cfg.GossipBindAddress
		clusterCfg.EnableGossip = v.cfg.EnableGossip

		members, err := cluster.New(clusterCfg, v.pool, v.onPeerDisconnect)
		if err != nil {
			return fmt.Errorf("validator: cluster membership: %w", err)
		}
		v.members = members
		members.RegisterHandler(quictransport.MsgBlockAnnouncement, v.onClusterBlockAnnouncement)
		members.RegisterHandler(quictransport.MsgTransactionForward, v.onClusterTransactionForward)

		members.Bootstrap(ctx)
		members.StartHeartbeat(ctx)
	}

	if v.ledger != nil {
		if err := v.ledger.Bootstrap(ctx); err != nil {
			return fmt.Errorf("validator: ledger bootstrap: %w", err)
		}
	}

	go v.pipeline.Run(ctx)

	log.Info("validator started")
	return nil
}

// Stop cancels the shared context, which ends the banking loop, then closes
// cluster membership, the transport pool and server, and the monitor.
func (v *Validator) Stop() {
	if v.cancel != nil {
		v.cancel()
	}
	if v.members != nil {
		_ = v.members.Close()
	}
	if v.pool != nil {
		v.pool.Close()
	}
	if v.server != nil {
		_ = v.server.Close()
	}
	if v.monitor != nil {
		v.monitor.Stop()
	}
	log.Info("validator stopped")
}

// onBankingBlock forwards a committed block notification to the ledger and
// broadcasts it over cluster membership.
func (v *Validator) onBankingBlock(block banking.Block) {
	ctx := context.Background()
	if v.ledger != nil {
		if err := v.ledger.CommitBlock(ctx, block); err != nil {
			log.WithError(err).Error("ledger commit failed")
			v.alerts.Fire(alerting.Entry{Module: "validator", Code: "ledger_commit_failed", Message: err.Error()})
		}
	}
	if v.members != nil {
		if err := v.members.GossipBlockAnnouncement(ctx, cluster.BlockAnnouncementPayload{Slot: block.Sequence}); err != nil {
			log.WithError(err).Debug("block gossip failed")
		}
	}
}

// onClusterBlockAnnouncement decodes an inbound block announcement and logs
// its slot. It does not pass the announced block to the banking stage.
func (v *Validator) onClusterBlockAnnouncement(from *cluster.Peer, frame quictransport.Frame) error {
	var payload cluster.BlockAnnouncementPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return err
	}
	log.WithField("slot", payload.Slot).Debug("received block announcement")
	return nil
}

// onClusterTransactionForward decodes a forwarded transaction and pushes it
// into the banking stage's ingress queue.
func (v *Validator) onClusterTransactionForward(from *cluster.Peer, frame quictransport.Frame) error {
	var tx banking.Transaction
	if err := json.Unmarshal(frame.Payload, &tx); err != nil {
		return err
	}
	return v.pipeline.Ingress(&tx)
}

func (v *Validator) onResourcePressure(usage monitoring.Usage, level monitoring.Level) {
	v.pipeline.OnResourcePressure(level == monitoring.LevelWarning || level == monitoring.LevelCritical)
	if level == monitoring.LevelCritical {
		v.alerts.Fire(alerting.Entry{
			Module:  "resource_monitor",
			Code:    "critical",
			Message: fmt.Sprintf("cpu=%.1f%% mem=%.1f%% disk=%.1f%%", usage.CPUPercent, usage.MemoryRatio*100, usage.DiskRatio*100),
		})
	}
}

func (v *Validator) onPeerDisconnect(p *cluster.Peer) {
	log.WithField("peer", p.Addr).Info("peer disconnected")
}

func protectionLevelToPolicy(level string) mev.Policy {
	switch level {
	case "SHUFFLED":
		return mev.PolicyShuffled
	case "PRIVATE":
		return mev.PolicyPrivate
	case "NONE":
		return mev.PolicyNone
	default:
		return mev.PolicyFairOrdering
	}
}
