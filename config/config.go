package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rustyeddy/margin/internal/logging"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Margin     MarginConfig     `json:"margin" yaml:"margin"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Funding    FundingConfig    `json:"funding" yaml:"funding"`
	Risk       RiskConfig       `json:"risk" yaml:"risk"`
	Oracle     OracleConfig     `json:"oracle" yaml:"oracle"`
	Events     EventsConfig     `json:"events" yaml:"events"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Compliance ComplianceConfig `json:"compliance" yaml:"compliance"`
	Settlement SettlementConfig `json:"settlement" yaml:"settlement"`
	Logging    logging.Config   `json:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

// MarginConfig holds leverage limits and the margin level thresholds.
type MarginConfig struct {
	MaxLeverage            int     `json:"max_leverage" yaml:"max_leverage"`
	MaintenanceMarginRatio float64 `json:"maintenance_margin_ratio" yaml:"maintenance_margin_ratio"`
	LiquidationThreshold   float64 `json:"liquidation_threshold" yaml:"liquidation_threshold"`
	PenaltyFeeRate         float64 `json:"penalty_fee_rate" yaml:"penalty_fee_rate"`
	Currency               string  `json:"currency" yaml:"currency"`
}

type SchedulerConfig struct {
	SweepInterval       Duration `json:"sweep_interval" yaml:"sweep_interval"`
	LiquidationInterval Duration `json:"liquidation_interval" yaml:"liquidation_interval"`
	Workers             int      `json:"workers" yaml:"workers"`
	PriceTimeout        Duration `json:"price_timeout" yaml:"price_timeout"`
}

type FundingConfig struct {
	RefreshInterval Duration           `json:"refresh_interval" yaml:"refresh_interval"`
	FundingInterval Duration           `json:"funding_interval" yaml:"funding_interval"`
	InterestRate    float64            `json:"interest_rate" yaml:"interest_rate"`
	Rates           map[string]float64 `json:"rates,omitempty" yaml:"rates,omitempty"`
}

// RiskConfig limits exposure. Zero disables a limit.
type RiskConfig struct {
	MaxOpenPositions    int     `json:"max_open_positions" yaml:"max_open_positions"`
	MaxPositionNotional float64 `json:"max_position_notional" yaml:"max_position_notional"`
	MaxAccountNotional  float64 `json:"max_account_notional" yaml:"max_account_notional"`
}

type OracleConfig struct {
	Type          string             `json:"type" yaml:"type"` // "static", "http" or "redis"
	Prices        map[string]float64 `json:"prices,omitempty" yaml:"prices,omitempty"`
	URL           string             `json:"url,omitempty" yaml:"url,omitempty"`
	Token         string             `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout       Duration           `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RedisAddr     string             `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string             `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int                `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	RedisPrefix   string             `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`
}

type EventsConfig struct {
	Log          bool     `json:"log" yaml:"log"`
	KafkaBrokers []string `json:"kafka_brokers,omitempty" yaml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `json:"kafka_topic,omitempty" yaml:"kafka_topic,omitempty"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type             string `json:"type" yaml:"type"` // "none", "csv" or "sqlite"
	LiquidationsFile string `json:"liquidations_file,omitempty" yaml:"liquidations_file,omitempty"`
	EquityFile       string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath           string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type ComplianceConfig struct {
	Blocked []string `json:"blocked,omitempty" yaml:"blocked,omitempty"`
}

type SettlementConfig struct {
	Workers   int      `json:"workers" yaml:"workers"`
	QueueSize int      `json:"queue_size" yaml:"queue_size"`
	Attempts  int      `json:"attempts" yaml:"attempts"`
	Backoff   Duration `json:"backoff" yaml:"backoff"`
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Duration is a time.ParseDuration string such as "1s" or "8h".
type Duration string

// Parse converts the string; empty means zero.
func (d Duration) Parse() (time.Duration, error) {
	if d == "" {
		return 0, nil
	}
	return time.ParseDuration(string(d))
}

// LoadFromFile loads configuration from a file (YAML or JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func positiveDuration(name string, d Duration) error {
	v, err := d.Parse()
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if v <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	m := c.Margin
	if m.MaxLeverage < 1 {
		return fmt.Errorf("margin.max_leverage must be at least 1")
	}
	if m.LiquidationThreshold <= 0 {
		return fmt.Errorf("margin.liquidation_threshold must be positive")
	}
	if m.MaintenanceMarginRatio <= m.LiquidationThreshold {
		return fmt.Errorf("margin.maintenance_margin_ratio must be greater than liquidation_threshold")
	}
	if m.PenaltyFeeRate < 0 || m.PenaltyFeeRate >= 1 {
		return fmt.Errorf("margin.penalty_fee_rate must be in [0, 1)")
	}
	if m.Currency == "" {
		return fmt.Errorf("margin.currency is required")
	}

	if err := positiveDuration("scheduler.sweep_interval", c.Scheduler.SweepInterval); err != nil {
		return err
	}
	if err := positiveDuration("scheduler.liquidation_interval", c.Scheduler.LiquidationInterval); err != nil {
		return err
	}
	if _, err := c.Scheduler.PriceTimeout.Parse(); err != nil {
		return fmt.Errorf("scheduler.price_timeout: %w", err)
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must not be negative")
	}

	if err := positiveDuration("funding.refresh_interval", c.Funding.RefreshInterval); err != nil {
		return err
	}
	if err := positiveDuration("funding.funding_interval", c.Funding.FundingInterval); err != nil {
		return err
	}
	if c.Funding.InterestRate < 0 {
		return fmt.Errorf("funding.interest_rate must not be negative")
	}

	if c.Risk.MaxOpenPositions < 0 || c.Risk.MaxPositionNotional < 0 || c.Risk.MaxAccountNotional < 0 {
		return fmt.Errorf("risk limits must not be negative")
	}

	switch c.Oracle.Type {
	case "static":
	case "http":
		if c.Oracle.URL == "" {
			return fmt.Errorf("oracle.url required for http type")
		}
	case "redis":
		if c.Oracle.RedisAddr == "" {
			return fmt.Errorf("oracle.redis_addr required for redis type")
		}
	default:
		return fmt.Errorf("oracle.type must be 'static', 'http' or 'redis'")
	}
	if _, err := c.Oracle.Timeout.Parse(); err != nil {
		return fmt.Errorf("oracle.timeout: %w", err)
	}

	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		return fmt.Errorf("events.kafka_topic required with kafka_brokers")
	}

	switch c.Journal.Type {
	case "none":
	case "csv":
		if c.Journal.LiquidationsFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal liquidations_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv' or 'sqlite'")
	}

	if c.Settlement.Workers < 1 || c.Settlement.QueueSize < 1 || c.Settlement.Attempts < 1 {
		return fmt.Errorf("settlement workers, queue_size and attempts must be at least 1")
	}
	if _, err := c.Settlement.Backoff.Parse(); err != nil {
		return fmt.Errorf("settlement.backoff: %w", err)
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Margin: MarginConfig{
			MaxLeverage:            100,
			MaintenanceMarginRatio: 0.5,
			LiquidationThreshold:   0.25,
			PenaltyFeeRate:         0.005,
			Currency:               "USDT",
		},
		Scheduler: SchedulerConfig{
			SweepInterval:       "1s",
			LiquidationInterval: "250ms",
			Workers:             8,
			PriceTimeout:        "2s",
		},
		Funding: FundingConfig{
			RefreshInterval: "1m",
			FundingInterval: "8h",
		},
		Oracle: OracleConfig{
			Type: "static",
			Prices: map[string]float64{
				"BTCUSDT": 45000,
				"ETHUSDT": 3000,
			},
		},
		Events: EventsConfig{
			Log: true,
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./margin.db",
		},
		Settlement: SettlementConfig{
			Workers:   4,
			QueueSize: 1024,
			Attempts:  5,
			Backoff:   "200ms",
		},
		Logging: logging.Config{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}
