package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/opensale/saleapi"
)

type Config struct {
	Sale      SaleConfig      `yaml:"sale"`
	Whitelist WhitelistConfig `yaml:"whitelist"`
	Server    ServerConfig    `yaml:"server"`
	Reporting ReportingConfig `yaml:"reporting"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Finalizer FinalizerConfig `yaml:"finalizer"`
}

// SaleConfig describes the sale. Amounts are in display units.
type SaleConfig struct {
	ID               string        `yaml:"id"`
	Beneficiary      string        `yaml:"beneficiary"`
	BaseIndex        uint64        `yaml:"base_index"`
	NumberOfBuckets  uint64        `yaml:"number_of_buckets"`
	BucketDuration   time.Duration `yaml:"bucket_duration"`
	StartTime        time.Time     `yaml:"start_time"`
	TokensForSale    string        `yaml:"tokens_for_sale"`
	TokenDecimals    int32         `yaml:"token_decimals"`
	CurrencyDecimals int32         `yaml:"currency_decimals"`
}

type WhitelistConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxBaseContribution caps the cumulative contribution of base-tier bidders.
	MaxBaseContribution string   `yaml:"max_base_contribution"`
	Base                []string `yaml:"base"`
	Reinforced          []string `yaml:"reinforced"`
}

type ServerConfig struct {
	// Listener is "vsock" inside an enclave, "tcp" elsewhere.
	Listener    string        `yaml:"listener"`
	VsockPort   uint32        `yaml:"vsock_port"`
	TCPAddr     string        `yaml:"tcp_addr"`
	MaxWorkers  int           `yaml:"max_workers"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type ReportingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type SnapshotConfig struct {
	// Path is empty to run without persistence.
	Path string `yaml:"path"`
}

type FinalizerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	MaxSteps int           `yaml:"max_steps"`
}

func Default() Config {
	return Config{
		Sale: SaleConfig{
			ID:               "opensale",
			NumberOfBuckets:  1,
			BucketDuration:   24 * time.Hour,
			TokenDecimals:    18,
			CurrencyDecimals: 18,
		},
		Server: ServerConfig{
			Listener:    "vsock",
			VsockPort:   5000,
			TCPAddr:     "127.0.0.1:5000",
			MaxWorkers:  16,
			ReadTimeout: 30 * time.Second,
		},
		Reporting: ReportingConfig{
			Addr: ":8080",
		},
		Finalizer: FinalizerConfig{
			Interval: 10 * time.Second,
			MaxSteps: 500,
		},
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides the file with SALE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := strings.TrimSpace(os.Getenv("SALE_LISTEN")); v != "" {
		c.Server.Listener = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("SALE_TCP_ADDR")); v != "" {
		c.Server.TCPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("SALE_SNAPSHOT_PATH")); v != "" {
		c.Snapshot.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("SALE_REPORTING_ADDR")); v != "" {
		c.Reporting.Enabled = true
		c.Reporting.Addr = v
	}
	if _, ok := os.LookupEnv("SALE_MAX_WORKERS"); ok {
		n, err := getEnvInt("SALE_MAX_WORKERS")
		if err != nil {
			return err
		}
		c.Server.MaxWorkers = n
	}
	return nil
}

func getEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}
	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, nil
}

// Validate checks the configuration before the sale is built from it.
func (c Config) Validate() error {
	if c.Sale.ID == "" {
		return fmt.Errorf("sale.id must be set")
	}
	if c.Sale.Beneficiary == "" {
		return fmt.Errorf("sale.beneficiary must be set")
	}
	if c.Sale.NumberOfBuckets == 0 {
		return fmt.Errorf("sale.number_of_buckets must be > 0, got %d", c.Sale.NumberOfBuckets)
	}
	if c.Sale.BucketDuration <= 0 {
		return fmt.Errorf("sale.bucket_duration must be > 0, got %s", c.Sale.BucketDuration)
	}
	if c.Sale.StartTime.IsZero() {
		return fmt.Errorf("sale.start_time must be set")
	}
	if c.Sale.TokenDecimals < 0 || c.Sale.CurrencyDecimals < 0 {
		return fmt.Errorf("sale decimals must be >= 0, got token %d and currency %d",
			c.Sale.TokenDecimals, c.Sale.CurrencyDecimals)
	}
	if _, err := c.TokensForSale(); err != nil {
		return fmt.Errorf("sale.tokens_for_sale: %w", err)
	}

	if c.Whitelist.Enabled {
		if _, err := c.MaxBaseContribution(); err != nil {
			return fmt.Errorf("whitelist.max_base_contribution: %w", err)
		}
	}

	switch c.Server.Listener {
	case "vsock", "tcp":
	default:
		return fmt.Errorf("server.listener must be 'vsock' or 'tcp', got %q", c.Server.Listener)
	}
	if c.Server.MaxWorkers <= 0 {
		return fmt.Errorf("server.max_workers must be > 0, got %d", c.Server.MaxWorkers)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0, got %s", c.Server.ReadTimeout)
	}

	if c.Finalizer.Enabled {
		if c.Finalizer.Interval <= 0 {
			return fmt.Errorf("finalizer.interval must be > 0, got %s", c.Finalizer.Interval)
		}
		if c.Finalizer.MaxSteps <= 0 {
			return fmt.Errorf("finalizer.max_steps must be > 0, got %d", c.Finalizer.MaxSteps)
		}
	}
	return nil
}

// TokensForSale returns the tokens for sale in base units.
func (c Config) TokensForSale() (*uint256.Int, error) {
	return saleapi.ParseUnits(c.Sale.TokensForSale, c.Sale.TokenDecimals)
}

// MaxBaseContribution returns the base-tier ceiling in base units.
func (c Config) MaxBaseContribution() (*uint256.Int, error) {
	return saleapi.ParseUnits(c.Whitelist.MaxBaseContribution, c.Sale.CurrencyDecimals)
}

func (c Config) Units() saleapi.Units {
	return saleapi.Units{Currency: c.Sale.CurrencyDecimals, Token: c.Sale.TokenDecimals}
}
