// Package config loads the process configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/misterlabs/venuex/pkg/types"
)

// Config is the full process configuration.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Registry RegistryConfig `mapstructure:"registry"`
	Router   RouterConfig   `mapstructure:"router"`
	Shadow   ShadowConfig   `mapstructure:"shadow"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Events   EventsConfig   `mapstructure:"events"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Venues   []VenueConfig  `mapstructure:"venues"`
}

// RegistryConfig tunes health probing.
type RegistryConfig struct {
	ProbeIntervalSeconds int `mapstructure:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int `mapstructure:"probe_timeout_seconds"`
	DegradedThreshold    int `mapstructure:"degraded_threshold"`
	DownThreshold        int `mapstructure:"down_threshold"`
}

// RouterConfig carries the default scoring weights.
type RouterConfig struct {
	Weights WeightsConfig `mapstructure:"weights"`
}

// WeightsConfig mirrors the router's scoring weights.
type WeightsConfig struct {
	Slippage float64 `mapstructure:"slippage"`
	Fee      float64 `mapstructure:"fee"`
	Funding  float64 `mapstructure:"funding"`
	Latency  float64 `mapstructure:"latency"`
}

// ShadowConfig tunes the shadow-mode comparator.
type ShadowConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	MaxConcurrent         int  `mapstructure:"max_concurrent"`
	StalenessBoundSeconds int  `mapstructure:"staleness_bound_seconds"`
	EvalTimeoutSeconds    int  `mapstructure:"eval_timeout_seconds"`
}

// RiskConfig sets the liquidation-risk tier boundaries as fractions of
// mark price.
type RiskConfig struct {
	CriticalDistance float64 `mapstructure:"critical_distance"`
	HighDistance     float64 `mapstructure:"high_distance"`
	MediumDistance   float64 `mapstructure:"medium_distance"`
}

// EventsConfig enables NATS mirroring of provider events.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// AuditConfig controls decision and shadow persistence.
type AuditConfig struct {
	Dir string `mapstructure:"dir"`
}

// VenueConfig is the YAML shape of one venue; decimal fields travel as
// floats in the file and are converted on the way out.
type VenueConfig struct {
	Name             string           `mapstructure:"name"`
	Chain            string           `mapstructure:"chain"`
	Endpoint         string           `mapstructure:"endpoint"`
	Assets           []string         `mapstructure:"assets"`
	MinOrderUSD      float64          `mapstructure:"min_order_usd"`
	MaxOrderUSD      float64          `mapstructure:"max_order_usd"`
	MakerRate        float64          `mapstructure:"maker_rate"`
	TakerRate        float64          `mapstructure:"taker_rate"`
	NetworkFee       float64          `mapstructure:"network_fee"`
	MaxLeverage      int              `mapstructure:"max_leverage"`
	SupportsStopLoss bool             `mapstructure:"supports_stop_loss"`
	SupportsFunding  bool             `mapstructure:"supports_funding"`
	Maintenance      bool             `mapstructure:"maintenance"`
	RateLimits       RateLimitsConfig `mapstructure:"rate_limits"`
}

// RateLimitsConfig is the YAML shape of a venue's call budget.
type RateLimitsConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	OrdersPerSecond   int `mapstructure:"orders_per_second"`
	OrdersPerDay      int `mapstructure:"orders_per_day"`
}

// Load reads the config file at path, applying VENUEX_* environment
// overrides on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("VENUEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("registry.probe_interval_seconds", 30)
	v.SetDefault("registry.probe_timeout_seconds", 5)
	v.SetDefault("registry.degraded_threshold", 3)
	v.SetDefault("registry.down_threshold", 5)
	v.SetDefault("router.weights.slippage", 0.4)
	v.SetDefault("router.weights.fee", 0.4)
	v.SetDefault("router.weights.funding", 0.1)
	v.SetDefault("router.weights.latency", 0.1)
	v.SetDefault("risk.critical_distance", 0.05)
	v.SetDefault("risk.high_distance", 0.15)
	v.SetDefault("risk.medium_distance", 0.30)
	v.SetDefault("shadow.max_concurrent", 4)
	v.SetDefault("shadow.staleness_bound_seconds", 30)
	v.SetDefault("shadow.eval_timeout_seconds", 10)
	v.SetDefault("audit.dir", "./data/audit")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("no venues configured")
	}
	seen := make(map[string]bool)
	for _, vc := range c.Venues {
		if vc.Name == "" {
			return fmt.Errorf("venue with empty name")
		}
		if seen[vc.Name] {
			return fmt.Errorf("duplicate venue %s", vc.Name)
		}
		seen[vc.Name] = true
		switch types.ChainKind(vc.Chain) {
		case types.ChainCardano, types.ChainEVM:
		default:
			return fmt.Errorf("venue %s: unknown chain %q", vc.Name, vc.Chain)
		}
		if len(vc.Assets) == 0 {
			return fmt.Errorf("venue %s: no assets", vc.Name)
		}
	}
	if c.Registry.DownThreshold <= c.Registry.DegradedThreshold {
		return fmt.Errorf("registry: down_threshold must exceed degraded_threshold")
	}
	return nil
}

// ProbeInterval returns the registry probe interval.
func (c *RegistryConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe timeout.
func (c *RegistryConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// ToVenueConfig converts the file shape to the runtime venue config.
func (vc *VenueConfig) ToVenueConfig() types.VenueConfig {
	return types.VenueConfig{
		Name:        vc.Name,
		Chain:       types.ChainKind(vc.Chain),
		Endpoint:    vc.Endpoint,
		Assets:      vc.Assets,
		MinOrderUSD: decimal.NewFromFloat(vc.MinOrderUSD),
		MaxOrderUSD: decimal.NewFromFloat(vc.MaxOrderUSD),
		Fees: types.FeeSchedule{
			MakerRate: decimal.NewFromFloat(vc.MakerRate),
			TakerRate: decimal.NewFromFloat(vc.TakerRate),
		},
		NetworkFee:       decimal.NewFromFloat(vc.NetworkFee),
		MaxLeverage:      vc.MaxLeverage,
		SupportsStopLoss: vc.SupportsStopLoss,
		SupportsFunding:  vc.SupportsFunding,
		Maintenance:      vc.Maintenance,
		RateLimits: types.RateLimits{
			RequestsPerMinute: vc.RateLimits.RequestsPerMinute,
			OrdersPerSecond:   vc.RateLimits.OrdersPerSecond,
			OrdersPerDay:      vc.RateLimits.OrdersPerDay,
		},
	}
}
