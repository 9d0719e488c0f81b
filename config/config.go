package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/market"
)

// Environment overrides applied on top of the config file.
const (
	EnvLedgerDSN      = "FXHEDGE_LEDGER_DSN"
	EnvOandaToken     = "FXHEDGE_OANDA_TOKEN"
	EnvTelegramToken  = "FXHEDGE_TELEGRAM_TOKEN"
	EnvTelegramChatID = "FXHEDGE_TELEGRAM_CHAT_ID"
	EnvLogLevel       = "FXHEDGE_LOG_LEVEL"
)

const dateLayout = "2006-01-02"

// Config is the complete hedging deployment configuration
type Config struct {
	Log       LogConfig          `json:"log" yaml:"log"`
	Ledger    LedgerConfig       `json:"ledger" yaml:"ledger"`
	Broker    BrokerConfig       `json:"broker" yaml:"broker"`
	Notifier  NotifierConfig     `json:"notifier" yaml:"notifier"`
	Schedule  ScheduleConfig     `json:"schedule" yaml:"schedule"`
	Margin    MarginConfig       `json:"margin" yaml:"margin"`
	Liquidity LiquidityConfig    `json:"liquidity" yaml:"liquidity"`
	Market    MarketConfig       `json:"market" yaml:"market"`
	Rates     map[string]float64 `json:"rates,omitempty" yaml:"rates,omitempty"`
	Tracing   TracingConfig      `json:"tracing" yaml:"tracing"`
	Companies []CompanyConfig    `json:"companies" yaml:"companies"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json or console
}

type LedgerConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite3" or "pgx"
	DSN    string `json:"dsn" yaml:"dsn"`
}

type BrokerConfig struct {
	Type  string  `json:"type" yaml:"type"` // "sim" or "oanda"
	Env   string  `json:"env,omitempty" yaml:"env,omitempty"`
	Token string  `json:"token,omitempty" yaml:"token,omitempty"`
	RPS   float64 `json:"rps,omitempty" yaml:"rps,omitempty"`
	// OrderRPS paces order submission and ticket polling.
	OrderRPS float64 `json:"order_rps,omitempty" yaml:"order_rps,omitempty"`
	// RatesAccount is the OANDA account used to price the configured pairs.
	RatesAccount string `json:"rates_account,omitempty" yaml:"rates_account,omitempty"`
}

type NotifierConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty" yaml:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// ScheduleConfig drives the daemon. Durations use time.ParseDuration syntax.
type ScheduleConfig struct {
	TickInterval string `json:"tick_interval" yaml:"tick_interval"`
	PollTimeout  string `json:"poll_timeout" yaml:"poll_timeout"`
	PollInterval string `json:"poll_interval" yaml:"poll_interval"`
	MaxAttempts  int    `json:"max_attempts" yaml:"max_attempts"`
	Concurrency  int    `json:"concurrency" yaml:"concurrency"`
}

// Tick, Timeout and Interval return the parsed schedule durations.
func (s ScheduleConfig) Tick() (time.Duration, error)     { return parseDuration(s.TickInterval) }
func (s ScheduleConfig) Timeout() (time.Duration, error)  { return parseDuration(s.PollTimeout) }
func (s ScheduleConfig) Interval() (time.Duration, error) { return parseDuration(s.PollInterval) }

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

type MarginConfig struct {
	MaxUsage float64 `json:"max_usage" yaml:"max_usage"`
}

type LiquidityConfig struct {
	Utilization float64 `json:"utilization" yaml:"utilization"`
}

type MarketConfig struct {
	LotSizes map[string]float64  `json:"lot_sizes,omitempty" yaml:"lot_sizes,omitempty"`
	Holidays map[string][]string `json:"holidays,omitempty" yaml:"holidays,omitempty"` // currency -> YYYY-MM-DD
}

// Conventions builds the lot size and calendar conventions.
func (m MarketConfig) Conventions() (market.Conventions, error) {
	conv := market.Conventions{LotSizes: make(map[string]float64, len(m.LotSizes))}
	for pair, lot := range m.LotSizes {
		conv.LotSizes[market.NormalizePair(pair)] = lot
	}
	if len(m.Holidays) > 0 {
		conv.Calendar.Holidays = make(map[string][]time.Time, len(m.Holidays))
	}
	for ccy, days := range m.Holidays {
		ccy = strings.ToUpper(ccy)
		for _, d := range days {
			t, err := time.Parse(dateLayout, d)
			if err != nil {
				return market.Conventions{}, fmt.Errorf("market.holidays.%s: %w", ccy, err)
			}
			conv.Calendar.Holidays[ccy] = append(conv.Calendar.Holidays[ccy], t)
		}
	}
	return conv, nil
}

type TracingConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host,omitempty" yaml:"host,omitempty"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
}

// CompanyConfig describes one hedged company and its static hedge targets.
type CompanyConfig struct {
	ID            string         `json:"id" yaml:"id"`
	Currency      string         `json:"currency" yaml:"currency"`
	BrokerAccount string         `json:"broker_account" yaml:"broker_account"`
	Equity        float64        `json:"equity" yaml:"equity"`
	Targets       []TargetConfig `json:"targets,omitempty" yaml:"targets,omitempty"`
}

func (c CompanyConfig) Company() hedge.Company {
	return hedge.Company{ID: c.ID, Currency: strings.ToUpper(c.Currency), BrokerAccountID: c.BrokerAccount}
}

// TargetConfig is the position an internal account should hold in a pair.
type TargetConfig struct {
	Account  string  `json:"account" yaml:"account"`
	Type     string  `json:"type" yaml:"type"` // LIVE or DEMO
	Pair     string  `json:"pair" yaml:"pair"`
	Exposure float64 `json:"exposure,omitempty" yaml:"exposure,omitempty"`
	Desired  float64 `json:"desired" yaml:"desired"`
}

func (t TargetConfig) AccountType() hedge.AccountType {
	return hedge.AccountType(strings.ToUpper(t.Type))
}

// Company returns the configured company with the given id.
func (c *Config) Company(id string) (CompanyConfig, error) {
	for _, cc := range c.Companies {
		if cc.ID == id {
			return cc, nil
		}
	}
	return CompanyConfig{}, fmt.Errorf("unknown company %q", id)
}

// LoadEnv loads .env files into the process environment. Missing files are
// ignored.
func LoadEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// ApplyEnv overrides secrets and the log level from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvLedgerDSN); v != "" {
		c.Ledger.DSN = v
	}
	if v := os.Getenv(EnvOandaToken); v != "" {
		c.Broker.Token = v
	}
	if v := os.Getenv(EnvTelegramToken); v != "" {
		c.Notifier.Telegram.Token = v
	}
	if v := os.Getenv(EnvTelegramChatID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTelegramChatID, err)
		}
		c.Notifier.Telegram.ChatID = id
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

// LoadFromFile loads configuration from a file (YAML, or JSON as a fallback),
// applies environment overrides and validates the result.
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

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
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

	// Secrets may be in here.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug|info|warn|error")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console'")
	}

	switch c.Ledger.Driver {
	case "sqlite3", "sqlite", "pgx", "postgres", "postgresql":
	default:
		return fmt.Errorf("ledger.driver must be 'sqlite3' or 'pgx'")
	}
	if c.Ledger.DSN == "" {
		return fmt.Errorf("ledger.dsn is required")
	}

	switch c.Broker.Type {
	case "sim":
	case "oanda":
		if c.Broker.Token == "" {
			return fmt.Errorf("broker.token is required for oanda (or set %s)", EnvOandaToken)
		}
		if c.Broker.Env != "practice" && c.Broker.Env != "live" {
			return fmt.Errorf("broker.env must be 'practice' or 'live'")
		}
	default:
		return fmt.Errorf("broker.type must be 'sim' or 'oanda'")
	}
	if c.Broker.RPS < 0 || c.Broker.OrderRPS < 0 {
		return fmt.Errorf("broker rates must not be negative")
	}

	if c.Notifier.Telegram.Token != "" && c.Notifier.Telegram.ChatID == 0 {
		return fmt.Errorf("notifier.telegram.chat_id is required with a token")
	}

	tick, err := c.Schedule.Tick()
	if err != nil {
		return fmt.Errorf("schedule.tick_interval: %w", err)
	}
	if tick <= 0 {
		return fmt.Errorf("schedule.tick_interval must be positive")
	}
	timeout, err := c.Schedule.Timeout()
	if err != nil {
		return fmt.Errorf("schedule.poll_timeout: %w", err)
	}
	interval, err := c.Schedule.Interval()
	if err != nil {
		return fmt.Errorf("schedule.poll_interval: %w", err)
	}
	if timeout <= 0 || interval <= 0 {
		return fmt.Errorf("schedule poll durations must be positive")
	}
	if c.Schedule.MaxAttempts <= 0 {
		return fmt.Errorf("schedule.max_attempts must be positive")
	}
	if c.Schedule.Concurrency < 0 {
		return fmt.Errorf("schedule.concurrency must not be negative")
	}

	if c.Margin.MaxUsage <= 0 || c.Margin.MaxUsage > 1 {
		return fmt.Errorf("margin.max_usage must be between 0 and 1")
	}
	if c.Liquidity.Utilization < 0 || c.Liquidity.Utilization > 1 {
		return fmt.Errorf("liquidity.utilization must be between 0 and 1")
	}

	for pair, lot := range c.Market.LotSizes {
		if _, err := market.LookupPair(pair); err != nil {
			return fmt.Errorf("market.lot_sizes: %w", err)
		}
		if lot <= 0 || !hedge.Finite(lot) {
			return fmt.Errorf("market.lot_sizes.%s must be positive", pair)
		}
	}
	if _, err := c.Market.Conventions(); err != nil {
		return err
	}
	for pair, r := range c.Rates {
		if _, _, err := market.SplitPair(pair); err != nil {
			return fmt.Errorf("rates: %w", err)
		}
		if r <= 0 || !hedge.Finite(r) {
			return fmt.Errorf("rates.%s must be positive", pair)
		}
	}

	if c.Tracing.Enabled && (c.Tracing.Host == "" || c.Tracing.Port <= 0) {
		return fmt.Errorf("tracing host and port are required when enabled")
	}

	if len(c.Companies) == 0 {
		return fmt.Errorf("at least one company is required")
	}
	seen := make(map[string]bool, len(c.Companies))
	for _, cc := range c.Companies {
		if err := cc.validate(); err != nil {
			return err
		}
		if seen[cc.ID] {
			return fmt.Errorf("duplicate company %q", cc.ID)
		}
		seen[cc.ID] = true
	}
	return nil
}

func (cc CompanyConfig) validate() error {
	if cc.ID == "" {
		return fmt.Errorf("company id is required")
	}
	if len(cc.Currency) != 3 {
		return fmt.Errorf("company %s: currency must be a 3 letter code", cc.ID)
	}
	if cc.BrokerAccount == "" {
		return fmt.Errorf("company %s: broker_account is required", cc.ID)
	}
	if cc.Equity < 0 || math.IsNaN(cc.Equity) {
		return fmt.Errorf("company %s: equity must not be negative", cc.ID)
	}
	for _, t := range cc.Targets {
		if t.Account == "" {
			return fmt.Errorf("company %s: target account is required", cc.ID)
		}
		if !t.AccountType().Valid() {
			return fmt.Errorf("company %s: target %s: type must be LIVE or DEMO", cc.ID, t.Account)
		}
		if _, err := market.LookupPair(t.Pair); err != nil {
			return fmt.Errorf("company %s: target %s: %w", cc.ID, t.Account, err)
		}
		if !hedge.Finite(t.Desired) || !hedge.Finite(t.Exposure) {
			return fmt.Errorf("company %s: target %s: amounts must be finite", cc.ID, t.Account)
		}
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ledger: LedgerConfig{
			Driver: "sqlite3",
			DSN:    "./fxhedge.db",
		},
		Broker: BrokerConfig{
			Type:     "sim",
			OrderRPS: 10,
		},
		Schedule: ScheduleConfig{
			TickInterval: "1m",
			PollTimeout:  "10m",
			PollInterval: "5s",
			MaxAttempts:  5,
			Concurrency:  4,
		},
		Margin: MarginConfig{
			MaxUsage: 0.5,
		},
		Liquidity: LiquidityConfig{
			Utilization: 1,
		},
		Rates: map[string]float64{
			"EUR_USD": 1.0850,
			"GBP_USD": 1.2700,
			"USD_JPY": 150.00,
		},
		Companies: []CompanyConfig{
			{
				ID:            "acme",
				Currency:      "USD",
				BrokerAccount: "SIM-001",
				Equity:        1000000,
				Targets: []TargetConfig{
					{Account: "acme-ops", Type: "LIVE", Pair: "EUR_USD", Exposure: -250000, Desired: 200000},
					{Account: "acme-treasury", Type: "LIVE", Pair: "EUR_USD", Exposure: 50000, Desired: -40000},
					{Account: "acme-demo", Type: "DEMO", Pair: "USD_JPY", Desired: 100000},
				},
			},
		},
	}
}
