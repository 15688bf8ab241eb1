// Package config loads the process-wide configuration described in spec.md
// §6. It follows go-ethereum's own TOML config-file convention, using the
// same naoina/toml library go-ethereum pins for its node config.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/naoina/toml"
)

// Exit codes: one per component family, per spec.md §6. A non-zero exit
// should always be one of these rather than a bare os.Exit(1), so operators
// can distinguish which subsystem failed without parsing logs.
const (
	ExitClean         = 0
	ExitConfig        = 2
	ExitChain         = 10
	ExitBroker        = 20
	ExitServerManager = 30
	ExitSnapshot      = 40
	ExitTxSubmitter   = 50
)

// Dapp holds the §6 `dapp.*` options.
type Dapp struct {
	ChainID          uint64         `toml:"chain_id"`
	Address          common.Address `toml:"address"`
	InputBoxAddress  common.Address `toml:"input_box_address"`
	RollupsAddress   common.Address `toml:"rollups_address"`
	AuthorityAddress common.Address `toml:"authority_address"`
	InitialEpoch     uint64         `toml:"initial_epoch"`
	GenesisTimestamp uint64         `toml:"genesis_timestamp"`
	EpochLength      uint64         `toml:"epoch_length"`
}

// Chain holds the §6 `chain.*` options.
type Chain struct {
	HTTPEndpoint          string  `toml:"http_endpoint"`
	WSEndpoint            string  `toml:"ws_endpoint"`
	GenesisBlock          uint64  `toml:"genesis_block"`
	QueryLimitErrorCodes  []int   `toml:"query_limit_error_codes"`
	ConcurrentEventsFetch int     `toml:"concurrent_events_fetch"`
	MaxEventsPerResponse  int     `toml:"max_events_per_response"`
	RequestsPerSecond     float64 `toml:"requests_per_second"`
}

// Dispatcher holds the §6 `dispatcher.*` options.
type Dispatcher struct {
	Confirmations uint64 `toml:"confirmations"`
	SafetyMargin  uint64 `toml:"safety_margin"`
}

// Broker holds the §6 `broker.*` options.
type Broker struct {
	RedisEndpoint       string `toml:"redis_endpoint"`
	ConsumeTimeoutMS    int64  `toml:"consume_timeout_ms"`
	BackoffMaxElapsedMS int64  `toml:"backoff_max_elapsed_ms"`
}

func (b Broker) ConsumeTimeout() time.Duration {
	return time.Duration(b.ConsumeTimeoutMS) * time.Millisecond
}

func (b Broker) BackoffMaxElapsed() time.Duration {
	return time.Duration(b.BackoffMaxElapsedMS) * time.Millisecond
}

// ServerManager holds the §6 `server_manager.*` options.
type ServerManager struct {
	Endpoint               string `toml:"endpoint"`
	SessionID              string `toml:"session_id"`
	SnapshotRoot           string `toml:"snapshot_root"`
	ScratchDirectory       string `toml:"scratch_directory"`
	PendingInputsMaxRetries int   `toml:"pending_inputs_max_retries"`
	PendingInputsSleepMS    int64 `toml:"pending_inputs_sleep_ms"`
	RuntimeConfig          string `toml:"runtime_config"`
	CyclesConfig           string `toml:"cycles_config"`
	DeadlineConfig         string `toml:"deadline_config"`
}

func (s ServerManager) PendingInputsSleep() time.Duration {
	return time.Duration(s.PendingInputsSleepMS) * time.Millisecond
}

// Tx holds the §6 `tx.*` options.
type Tx struct {
	ProviderHTTPEndpoint  string `toml:"provider_http_endpoint"`
	DefaultConfirmations  uint64 `toml:"default_confirmations"`
	Priority              string `toml:"priority"`
	DatabasePath          string `toml:"database_path"`
	ResubmitAfterMS       int64  `toml:"resubmit_after_ms"`
	ReceiptPollIntervalMS int64  `toml:"receipt_poll_interval_ms"`
}

func (t Tx) ResubmitAfter() time.Duration {
	return time.Duration(t.ResubmitAfterMS) * time.Millisecond
}

func (t Tx) ReceiptPollInterval() time.Duration {
	return time.Duration(t.ReceiptPollIntervalMS) * time.Millisecond
}

// Auth holds the §6 `auth.{mnemonic|aws_kms}` options. Exactly one of
// Mnemonic or AWSKMSKeyID must be set; Validate enforces this.
type Auth struct {
	Mnemonic   string `toml:"mnemonic"`
	AWSKMSKeyID string `toml:"aws_kms_key_id"`
	AWSRegion  string `toml:"aws_region"`
}

// Fee holds the §6 `fee.*` options.
type Fee struct {
	MinimumRequiredFee   uint64 `toml:"minimum_required_fee"`
	NumBufferEpochs      uint64 `toml:"num_buffer_epochs"`
	NumClaimsTriggerRedeem uint64 `toml:"num_claims_trigger_redeem"`
}

// Config aggregates every §6 configuration section.
type Config struct {
	Dapp          Dapp          `toml:"dapp"`
	Chain         Chain         `toml:"chain"`
	Dispatcher    Dispatcher    `toml:"dispatcher"`
	Broker        Broker        `toml:"broker"`
	ServerManager ServerManager `toml:"server_manager"`
	Tx            Tx            `toml:"tx"`
	Auth          Auth          `toml:"auth"`
	Fee           Fee           `toml:"fee"`
}

// Load reads and decodes a TOML config file, then validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would make downstream components
// fail in confusing ways, per spec.md §7 "Config/crypto" (fatal at startup).
func (c *Config) Validate() error {
	if c.Dapp.EpochLength == 0 {
		return fmt.Errorf("config: dapp.epoch_length must be non-zero")
	}
	if c.Chain.HTTPEndpoint == "" && c.Chain.WSEndpoint == "" {
		return fmt.Errorf("config: chain.http_endpoint or chain.ws_endpoint is required")
	}
	if c.Auth.Mnemonic == "" && c.Auth.AWSKMSKeyID == "" {
		return fmt.Errorf("config: auth.mnemonic or auth.aws_kms_key_id is required")
	}
	if c.Auth.Mnemonic != "" && c.Auth.AWSKMSKeyID != "" {
		return fmt.Errorf("config: auth.mnemonic and auth.aws_kms_key_id are mutually exclusive")
	}
	return nil
}
