package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/olehkaliuzhnyi/coinvault/internal/chain"
	"github.com/olehkaliuzhnyi/coinvault/internal/crypto"
	"github.com/olehkaliuzhnyi/coinvault/internal/explorer"
	"github.com/olehkaliuzhnyi/coinvault/internal/tx"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// COINVAULT_ETHEREUM_RPC_URL.
const EnvPrefix = "COINVAULT"

// Config holds all configurable parameters of the wallet.
type Config struct {
	DataDir     string `mapstructure:"data_dir"`
	DatabaseURL string `mapstructure:"database_url"` // Postgres DSN; empty selects the file store
	LogLevel    string `mapstructure:"log_level"`

	Ethereum EthereumConfig `mapstructure:"ethereum"`

	// Remote calls
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	ConfirmTimeout      time.Duration `mapstructure:"confirm_timeout"`
	BroadcastMaxRetries int           `mapstructure:"broadcast_max_retries"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`

	// Fee floor in wei, used when gas price estimation is unavailable.
	MinTokenFee string `mapstructure:"min_token_fee"`

	BTCMainnet    bool `mapstructure:"btc_mainnet"`
	KDFIterations int  `mapstructure:"kdf_iterations"`
}

// EthereumConfig locates the node and the history indexer.
type EthereumConfig struct {
	RPCURL         string `mapstructure:"rpc_url"`
	ExplorerURL    string `mapstructure:"explorer_url"`
	ExplorerAPIKey string `mapstructure:"explorer_api_key"`
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		DataDir:  "./data",
		LogLevel: "info",

		Ethereum: EthereumConfig{
			ExplorerURL: explorer.DefaultBaseURL,
		},

		CallTimeout:         15 * time.Second,
		ConfirmTimeout:      5 * time.Minute,
		BroadcastMaxRetries: 3,
		RetryBackoff:        time.Second,

		MinTokenFee: "420000000000000", // 21000 gas * 20 gwei

		BTCMainnet:    true,
		KDFIterations: crypto.DefaultIterations,
	}
}

// Load reads path, if given, on top of the defaults and then applies
// COINVAULT_* environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it during
// Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("ethereum.rpc_url", d.Ethereum.RPCURL)
	v.SetDefault("ethereum.explorer_url", d.Ethereum.ExplorerURL)
	v.SetDefault("ethereum.explorer_api_key", d.Ethereum.ExplorerAPIKey)
	v.SetDefault("call_timeout", d.CallTimeout)
	v.SetDefault("confirm_timeout", d.ConfirmTimeout)
	v.SetDefault("broadcast_max_retries", d.BroadcastMaxRetries)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("min_token_fee", d.MinTokenFee)
	v.SetDefault("btc_mainnet", d.BTCMainnet)
	v.SetDefault("kdf_iterations", d.KDFIterations)
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("data_dir or database_url must be set"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call_timeout must be positive, got %s", c.CallTimeout))
	}
	if c.BroadcastMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("broadcast_max_retries must be at least 1, got %d", c.BroadcastMaxRetries))
	}
	if c.KDFIterations < crypto.MinIterations {
		errs = append(errs, fmt.Errorf("kdf_iterations must be at least %d, got %d", crypto.MinIterations, c.KDFIterations))
	}
	if _, err := c.minFee(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) minFee() (*big.Int, error) {
	fee, ok := new(big.Int).SetString(c.MinTokenFee, 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("min_token_fee must be a non-negative integer in wei, got %q", c.MinTokenFee)
	}
	return fee, nil
}

// Chain maps the settings onto the chain environment.
func (c Config) Chain() chain.Config {
	fee, err := c.minFee()
	if err != nil {
		fee = new(big.Int)
	}
	return chain.Config{
		RPCURL:         c.Ethereum.RPCURL,
		ExplorerURL:    c.Ethereum.ExplorerURL,
		ExplorerAPIKey: c.Ethereum.ExplorerAPIKey,
		CallTimeout:    c.CallTimeout,
		MinFee:         fee,
		Tx: tx.BuilderConfig{
			MaxRetries:     c.BroadcastMaxRetries,
			RetryBackoff:   c.RetryBackoff,
			CallTimeout:    c.CallTimeout,
			ConfirmTimeout: c.ConfirmTimeout,
		},
	}
}
