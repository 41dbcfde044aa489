// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	RPCList     []string `mapstructure:"rpc_list"`
	PostgresURL string   `mapstructure:"postgres_url"`

	// Fetch / pricing loop timings, in milliseconds.
	RefreshInterval int `mapstructure:"refresh_interval"`
	AccountTTL      int `mapstructure:"account_ttl"`
	RPCTimeout      int `mapstructure:"rpc_timeout"`
	Retries         int `mapstructure:"retries"`
	BatchSize       int `mapstructure:"batch_size"`
	Workers         int `mapstructure:"workers"`

	// Reconciliation thresholds.
	MinLiquidityUSD  float64 `mapstructure:"min_liquidity_usd"`
	MaxDivergencePct float64 `mapstructure:"max_divergence_pct"`

	// Aggregator rate limits, requests per minute.
	DexScreenerRPM   int `mapstructure:"dexscreener_rpm"`
	GeckoTerminalRPM int `mapstructure:"geckoterminal_rpm"`

	MaxPoolFailures int `mapstructure:"max_pool_failures"`

	// MetricsAddr serves prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics_addr"`

	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
}

const (
	DefaultRefreshInterval  = 2000
	DefaultAccountTTL       = 2000
	DefaultRPCTimeout       = 10000
	DefaultRetries          = 3
	DefaultBatchSize        = 16
	DefaultWorkers          = 4
	DefaultMinLiquidityUSD  = 1000.0
	DefaultMaxDivergencePct = 10.0
	DefaultDexScreenerRPM   = 60
	DefaultGeckoTerminalRPM = 30
	DefaultMaxPoolFailures  = 3
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"refresh_interval":   DefaultRefreshInterval,
		"account_ttl":        DefaultAccountTTL,
		"rpc_timeout":        DefaultRPCTimeout,
		"retries":            DefaultRetries,
		"batch_size":         DefaultBatchSize,
		"workers":            DefaultWorkers,
		"min_liquidity_usd":  DefaultMinLiquidityUSD,
		"max_divergence_pct": DefaultMaxDivergencePct,
		"dexscreener_rpm":    DefaultDexScreenerRPM,
		"geckoterminal_rpm":  DefaultGeckoTerminalRPM,
		"max_pool_failures":  DefaultMaxPoolFailures,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.PostgresURL == "" {
		return errors.New("missing postgres_url in configuration")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.RefreshInterval <= 0 {
		return errors.New("invalid refresh_interval")
	}
	if cfg.AccountTTL <= 0 {
		return errors.New("invalid account_ttl")
	}
	if cfg.RPCTimeout <= 0 {
		return errors.New("invalid rpc_timeout")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > 100 {
		return errors.New("invalid batch_size")
	}
	if cfg.Workers <= 0 {
		return errors.New("invalid workers count")
	}
	if cfg.MinLiquidityUSD < 0 {
		return errors.New("invalid min_liquidity_usd")
	}
	if cfg.MaxDivergencePct <= 0 {
		return errors.New("invalid max_divergence_pct")
	}
	if cfg.DexScreenerRPM <= 0 || cfg.GeckoTerminalRPM <= 0 {
		return errors.New("invalid aggregator rate limit")
	}
	if cfg.MaxPoolFailures <= 0 {
		return errors.New("invalid max_pool_failures")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("SOLANA_PRICEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}

	envPostgres := v.GetString("POSTGRES_URL")
	if envPostgres != "" {
		cfg.PostgresURL = envPostgres
	}
	return nil
}
