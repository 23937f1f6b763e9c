// Package config loads the settings shared by bookctl and bookgatewayd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"bookchain/chain"
	"bookchain/history"
	"bookchain/metadata"
	"bookchain/observability/logging"
)

// EnvPrefix prefixes every environment override, e.g. BOOKCHAIN_CHAIN_ENDPOINT.
const EnvPrefix = "BOOKCHAIN"

type ChainConfig struct {
	Endpoint           string        `yaml:"endpoint" toml:"Endpoint"`
	Contract           string        `yaml:"contract" toml:"Contract"`
	ChainID            uint64        `yaml:"chainId" toml:"ChainID" envconfig:"chain_id"`
	PollInterval       time.Duration `yaml:"pollInterval" toml:"PollInterval" envconfig:"poll_interval"`
	GasHeadroomPercent uint64        `yaml:"gasHeadroomPercent" toml:"GasHeadroomPercent" envconfig:"gas_headroom_percent"`
}

// WalletConfig selects the signing identity. Keystore wins over Address;
// Address alone yields a watch-only session.
type WalletConfig struct {
	Keystore string `yaml:"keystore" toml:"Keystore"`
	Address  string `yaml:"address" toml:"Address"`
}

type MetadataConfig struct {
	GatewayURL        string        `yaml:"gatewayUrl" toml:"GatewayURL" envconfig:"gateway_url"`
	PinningURL        string        `yaml:"pinningUrl" toml:"PinningURL" envconfig:"pinning_url"`
	Token             string        `yaml:"token" toml:"Token"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" toml:"RequestsPerSecond" envconfig:"requests_per_second"`
	Burst             int           `yaml:"burst" toml:"Burst"`
	Timeout           time.Duration `yaml:"timeout" toml:"Timeout"`
	CachePath         string        `yaml:"cachePath" toml:"CachePath" envconfig:"cache_path"`
}

type GatewayConfig struct {
	Listen            string        `yaml:"listen" toml:"Listen"`
	ReadTimeout       time.Duration `yaml:"readTimeout" toml:"ReadTimeout" envconfig:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout" toml:"WriteTimeout" envconfig:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout" toml:"IdleTimeout" envconfig:"idle_timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" toml:"RequestsPerSecond" envconfig:"requests_per_second"`
	Burst             int           `yaml:"burst" toml:"Burst"`
	Metrics           bool          `yaml:"metrics" toml:"Metrics"`
}

type LoggingConfig struct {
	Env        string `yaml:"env" toml:"Env"`
	Level      string `yaml:"level" toml:"Level"`
	File       string `yaml:"file" toml:"File"`
	MaxSizeMB  int    `yaml:"maxSizeMB" toml:"MaxSizeMB" envconfig:"max_size_mb"`
	MaxBackups int    `yaml:"maxBackups" toml:"MaxBackups" envconfig:"max_backups"`
	MaxAgeDays int    `yaml:"maxAgeDays" toml:"MaxAgeDays" envconfig:"max_age_days"`
}

type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint" toml:"Endpoint"`
	Insecure bool   `yaml:"insecure" toml:"Insecure"`
	Headers  string `yaml:"headers" toml:"Headers"`
	Traces   bool   `yaml:"traces" toml:"Traces"`
	Metrics  bool   `yaml:"metrics" toml:"Metrics"`
}

// Config is the full client configuration.
type Config struct {
	Chain     ChainConfig     `yaml:"chain" toml:"chain"`
	Wallet    WalletConfig    `yaml:"wallet" toml:"wallet"`
	History   history.Config  `yaml:"history" toml:"history"`
	Metadata  MetadataConfig  `yaml:"metadata" toml:"metadata"`
	Gateway   GatewayConfig   `yaml:"gateway" toml:"gateway"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Chain: ChainConfig{
			Endpoint:           "http://127.0.0.1:8545",
			PollInterval:       2 * time.Second,
			GasHeadroomPercent: chain.DefaultGasHeadroomPercent,
		},
		History: history.Config{
			LookbackBlocks: history.DefaultLookbackBlocks,
			MaxEntries:     history.DefaultMaxEntries,
		},
		Metadata: MetadataConfig{
			GatewayURL:        "https://ipfs.io",
			RequestsPerSecond: 5,
			Burst:             5,
			Timeout:           10 * time.Second,
		},
		Gateway: GatewayConfig{
			Listen:            ":8080",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
			Metrics:           true,
		},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4318",
		},
	}
}

// Load reads path (YAML or TOML by extension; empty for defaults only), applies
// BOOKCHAIN_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
		return nil
	default:
		return fmt.Errorf("config file %s: unsupported format %q", path, ext)
	}
}

// Validate checks the fields every command relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Chain.Endpoint) == "" {
		return fmt.Errorf("chain.endpoint is required")
	}
	if !common.IsHexAddress(c.Chain.Contract) {
		return fmt.Errorf("chain.contract %q is not an address", c.Chain.Contract)
	}
	if c.Wallet.Address != "" && !common.IsHexAddress(c.Wallet.Address) {
		return fmt.Errorf("wallet.address %q is not an address", c.Wallet.Address)
	}
	if c.History.MaxEntries < 0 {
		return fmt.Errorf("history.maxEntries must not be negative")
	}
	if c.Gateway.RequestsPerSecond < 0 || c.Metadata.RequestsPerSecond < 0 {
		return fmt.Errorf("requestsPerSecond must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// ContractAddress returns the validated contract address.
func (c Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Chain.Contract)
}

// ClientConfig maps the chain section onto chain.Config.
func (c Config) ClientConfig() chain.Config {
	return chain.Config{
		Endpoint:           c.Chain.Endpoint,
		Contract:           c.ContractAddress(),
		ChainID:            c.Chain.ChainID,
		PollInterval:       c.Chain.PollInterval,
		GasHeadroomPercent: c.Chain.GasHeadroomPercent,
	}
}

// IPFSConfig maps the metadata section onto metadata.IPFSConfig.
func (c Config) IPFSConfig() metadata.IPFSConfig {
	return metadata.IPFSConfig{
		GatewayURL:        c.Metadata.GatewayURL,
		PinningURL:        c.Metadata.PinningURL,
		Token:             c.Metadata.Token,
		RequestsPerSecond: c.Metadata.RequestsPerSecond,
		Burst:             c.Metadata.Burst,
		Timeout:           c.Metadata.Timeout,
		CachePath:         c.Metadata.CachePath,
	}
}

// LogOptions maps the logging section onto logging.Options.
func (c Config) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}
