// Package config loads the validator's configuration surface from YAML
// files and environment overrides via viper.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"slonana-validator-core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// NetworkID selects the default bootstrap peer list.
type NetworkID string

const (
	NetworkMainnet  NetworkID = "mainnet"
	NetworkTestnet  NetworkID = "testnet"
	NetworkDevnet   NetworkID = "devnet"
	NetworkLocalnet NetworkID = "localnet"
)

// Config is the unified validator configuration surface.
type Config struct {
	NetworkID NetworkID `mapstructure:"network_id" json:"network_id"`

	EnableRPC               bool `mapstructure:"enable_rpc" json:"enable_rpc"`
	EnableGossip            bool `mapstructure:"enable_gossip" json:"enable_gossip"`
	EnableQUIC              bool `mapstructure:"enable_quic" json:"enable_quic"`
	EnableSecureMessaging   bool `mapstructure:"enable_secure_messaging" json:"enable_secure_messaging"`
	RequireMutualTLS        bool `mapstructure:"require_mutual_tls" json:"require_mutual_tls"`
	EnableMessageEncryption bool `mapstructure:"enable_message_encryption" json:"enable_message_encryption"`
	EnableReplayProtection  bool `mapstructure:"enable_replay_protection" json:"enable_replay_protection"`

	RPCBindAddress     string `mapstructure:"rpc_bind_address" json:"rpc_bind_address"`
	GossipBindAddress  string `mapstructure:"gossip_bind_address" json:"gossip_bind_address"`
	IdentityKeypairPath string `mapstructure:"identity_keypair_path" json:"identity_keypair_path"`

	PoH struct {
		TickDuration   time.Duration `mapstructure:"tick_duration" json:"tick_duration"`
		TicksPerSlot   int           `mapstructure:"ticks_per_slot" json:"ticks_per_slot"`
		HashingThreads int           `mapstructure:"hashing_threads" json:"hashing_threads"`
		BatchSize      int           `mapstructure:"batch_size" json:"batch_size"`
	} `mapstructure:"poh" json:"poh"`

	FeeMarket struct {
		TargetUtilization float64 `mapstructure:"target_utilization" json:"target_utilization"`
		MaxHistorySize    int     `mapstructure:"max_history_size" json:"max_history_size"`
		AdaptiveFees      bool    `mapstructure:"adaptive_fees" json:"adaptive_fees"`
	} `mapstructure:"fee_market" json:"fee_market"`

	MEVProtection struct {
		ProtectionLevel   string  `mapstructure:"protection_level" json:"protection_level"`
		AlertThreshold    float64 `mapstructure:"alert_threshold" json:"alert_threshold"`
		DetectionEnabled  bool    `mapstructure:"detection_enabled" json:"detection_enabled"`
	} `mapstructure:"mev_protection" json:"mev_protection"`

	Banking struct {
		BatchSize            int `mapstructure:"batch_size" json:"batch_size"`
		ParallelStages        int `mapstructure:"parallel_stages" json:"parallel_stages"`
		MaxConcurrentBatches int `mapstructure:"max_concurrent_batches" json:"max_concurrent_batches"`
	} `mapstructure:"banking" json:"banking"`

	ResourceMonitor struct {
		MemoryWarning  float64       `mapstructure:"memory_warning" json:"memory_warning"`
		MemoryCritical float64       `mapstructure:"memory_critical" json:"memory_critical"`
		CPUWarning     float64       `mapstructure:"cpu_warning" json:"cpu_warning"`
		CPUCritical    float64       `mapstructure:"cpu_critical" json:"cpu_critical"`
		DiskWarning    float64       `mapstructure:"disk_warning" json:"disk_warning"`
		DiskCritical   float64       `mapstructure:"disk_critical" json:"disk_critical"`
		CheckInterval  time.Duration `mapstructure:"check_interval" json:"check_interval"`
	} `mapstructure:"resource_monitor" json:"resource_monitor"`
}

// Default returns a Config whose fee-market, MEV, banking and resource-
// monitor values equal the defaults of feemarket.New, mev.New,
// banking.DefaultConfig and monitoring.DefaultConfig, and whose network id
// matches cluster.DefaultConfig, so a validator can start with zero
// configuration files present. GossipBindAddress is a "host:port" string,
// not the libp2p multiaddr form of cluster.DefaultConfig's ListenAddr.
func Default() Config {
	var c Config
	c.NetworkID = NetworkLocalnet
	c.EnableRPC = true
	c.EnableGossip = true
	c.EnableQUIC = true
	c.RPCBindAddress = "127.0.0.1:8899"
	c.GossipBindAddress = "0.0.0.0:8001"
	c.IdentityKeypairPath = "identity.json"

	c.PoH.TickDuration = 6250 * time.Microsecond
	c.PoH.TicksPerSlot = 64
	c.PoH.HashingThreads = 1
	c.PoH.BatchSize = 1

	c.FeeMarket.TargetUtilization = 0.5
	c.FeeMarket.MaxHistorySize = 10_000
	c.FeeMarket.AdaptiveFees = true

	c.MEVProtection.ProtectionLevel = "FAIR"
	c.MEVProtection.AlertThreshold = 0.7
	c.MEVProtection.DetectionEnabled = true

	c.Banking.BatchSize = 128
	c.Banking.ParallelStages = 4
	c.Banking.MaxConcurrentBatches = 4

	c.ResourceMonitor.MemoryWarning = 0.80
	c.ResourceMonitor.MemoryCritical = 0.95
	c.ResourceMonitor.CPUWarning = 80.0
	c.ResourceMonitor.CPUCritical = 95.0
	c.ResourceMonitor.DiskWarning = 0.85
	c.ResourceMonitor.DiskCritical = 0.95
	c.ResourceMonitor.CheckInterval = 30 * time.Second
	return c
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig = Default()

// Load reads configuration files and merges any environment-specific
// overrides on top of Default(). The resulting configuration is stored in
// AppConfig and returned.
func Load(env string) (*Config, error) {
	AppConfig = Default()

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the VALIDATOR_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("VALIDATOR_ENV", ""))
}
