package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	if value.Tag == "!!int" {
		var v int64
		if err := value.Decode(&v); err != nil {
			return err
		}
		d.Duration = time.Duration(v) * time.Millisecond
		return nil
	}
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = dur
	return nil
}

type Config struct {
	ChainID uint64 `yaml:"chain_id"`

	RPC struct {
		HTTP              string   `yaml:"http"`
		WS                string   `yaml:"ws"`
		RequestTimeout    Duration `yaml:"request_timeout"`
		ReadTimeout       Duration `yaml:"read_timeout"`
		MaxReadsPerSecond float64  `yaml:"max_reads_per_second"`
		ReadBurst         int      `yaml:"read_burst"`
	} `yaml:"rpc"`

	Contract struct {
		Address string `yaml:"address"`
		ABIPath string `yaml:"abi_path"`
	} `yaml:"contract"`

	Tracker struct {
		Confirmations    uint64   `yaml:"confirmations"`
		BlockTime        Duration `yaml:"block_time"`
		RetryBudget      int      `yaml:"retry_budget"`
		Timeout          Duration `yaml:"timeout"`
		InitialBackoff   Duration `yaml:"initial_backoff"`
		MaxBackoff       Duration `yaml:"max_backoff"`
		MaxAttempts      int      `yaml:"max_attempts"`
		UnknownTolerance int      `yaml:"unknown_tolerance"`
		UnknownGrace     Duration `yaml:"unknown_grace"`
	} `yaml:"tracker"`

	Tx struct {
		GasLimitMultiplier float64  `yaml:"gas_limit_multiplier"`
		MaxFeeMultiplier   float64  `yaml:"max_fee_multiplier"`
		MinPriorityFeeGwei float64  `yaml:"min_priority_fee_gwei"`
		FeeRefreshSeconds  uint64   `yaml:"fee_refresh_seconds"`
		NonceSettle        Duration `yaml:"nonce_settle"`
	} `yaml:"tx"`

	KeyStore struct {
		Dir           string `yaml:"dir"`
		PassphraseEnv string `yaml:"passphrase_env"`
		Account       string `yaml:"account"`
	} `yaml:"keystore"`

	API struct {
		Listen    string `yaml:"listen"`
		AuthToken string `yaml:"auth_token"`
	} `yaml:"api"`

	Journal struct {
		Path string   `yaml:"path"`
		TTL  Duration `yaml:"ttl"`
	} `yaml:"journal"`

	Greeter struct {
		RefreshOnNewHead bool     `yaml:"refresh_on_new_head"`
		HeadPollInterval Duration `yaml:"head_poll_interval"`
	} `yaml:"greeter"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RPC.RequestTimeout.Duration == 0 {
		c.RPC.RequestTimeout = Duration{Duration: 15 * time.Second}
	}
	if c.RPC.ReadTimeout.Duration == 0 {
		c.RPC.ReadTimeout = Duration{Duration: 5 * time.Second}
	}
	if c.RPC.MaxReadsPerSecond == 0 {
		c.RPC.MaxReadsPerSecond = 20
	}
	if c.RPC.ReadBurst == 0 {
		c.RPC.ReadBurst = 10
	}
	if c.Tracker.Confirmations == 0 {
		c.Tracker.Confirmations = 1
	}
	if c.Tracker.BlockTime.Duration == 0 {
		c.Tracker.BlockTime = Duration{Duration: 12 * time.Second}
	}
	if c.Tracker.RetryBudget == 0 {
		c.Tracker.RetryBudget = 25
	}
	if c.Tracker.Timeout.Duration == 0 {
		c.Tracker.Timeout = Duration{Duration: c.Tracker.BlockTime.Duration * time.Duration(c.Tracker.RetryBudget)}
	}
	if c.Tracker.InitialBackoff.Duration == 0 {
		c.Tracker.InitialBackoff = Duration{Duration: 500 * time.Millisecond}
	}
	if c.Tracker.MaxBackoff.Duration == 0 {
		c.Tracker.MaxBackoff = Duration{Duration: 10 * time.Second}
	}
	if c.Tracker.MaxAttempts == 0 {
		c.Tracker.MaxAttempts = 120
	}
	if c.Tracker.UnknownTolerance == 0 {
		c.Tracker.UnknownTolerance = 2
	}
	if c.Tracker.UnknownGrace.Duration == 0 {
		c.Tracker.UnknownGrace = Duration{Duration: c.Tracker.BlockTime.Duration}
	}
	if c.Tx.GasLimitMultiplier == 0 {
		c.Tx.GasLimitMultiplier = 1.2
	}
	if c.Tx.MaxFeeMultiplier == 0 {
		c.Tx.MaxFeeMultiplier = 2.0
	}
	if c.Tx.FeeRefreshSeconds == 0 {
		c.Tx.FeeRefreshSeconds = 5
	}
	if c.Tx.NonceSettle.Duration == 0 {
		c.Tx.NonceSettle = Duration{Duration: 5 * time.Second}
	}
	if c.KeyStore.Dir == "" {
		c.KeyStore.Dir = "data/keystore"
	}
	if c.KeyStore.PassphraseEnv == "" {
		c.KeyStore.PassphraseEnv = "GREETERD_KEYSTORE_PASSPHRASE"
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/dropped.json"
	}
	if c.Journal.TTL.Duration == 0 {
		c.Journal.TTL = Duration{Duration: time.Hour}
	}
	if c.Greeter.HeadPollInterval.Duration == 0 {
		c.Greeter.HeadPollInterval = Duration{Duration: 5 * time.Second}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) validate() error {
	if c.RPC.HTTP == "" {
		return fmt.Errorf("rpc.http is required")
	}
	if c.Contract.Address == "" {
		return fmt.Errorf("contract.address is required")
	}
	if !common.IsHexAddress(c.Contract.Address) {
		return fmt.Errorf("contract.address %q is not a hex address", c.Contract.Address)
	}
	if c.KeyStore.Account != "" && !common.IsHexAddress(c.KeyStore.Account) {
		return fmt.Errorf("keystore.account %q is not a hex address", c.KeyStore.Account)
	}
	if c.RPC.MaxReadsPerSecond < 0 {
		return fmt.Errorf("max_reads_per_second must be >= 0")
	}
	if c.Tracker.MaxAttempts < 1 {
		return fmt.Errorf("tracker.max_attempts must be >= 1")
	}
	if c.Tracker.MaxBackoff.Duration < c.Tracker.InitialBackoff.Duration {
		return fmt.Errorf("tracker.max_backoff must be >= tracker.initial_backoff")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text")
	}
	return nil
}

func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract.Address)
}

// DefaultAccount returns the keystore account to connect on startup, if any.
func (c *Config) DefaultAccount() (common.Address, bool) {
	if c.KeyStore.Account == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(c.KeyStore.Account), true
}
