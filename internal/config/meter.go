package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MeterConfig is the runtime-tunable part of the metering pipeline.
type MeterConfig struct {
	TaxRate                string             `mapstructure:"taxRate"`
	PersistChunkSize       int                `mapstructure:"persistChunkSize"`
	PGSubscriptionSuffixes []string           `mapstructure:"pgSubscriptionSuffixes"`
	Tenants                []TenantCredential `mapstructure:"tenants"`
}

// TenantCredential holds the platform API key pair for one tenant.
type TenantCredential struct {
	ID        string `mapstructure:"id"`
	APIKey    string `mapstructure:"apiKey"`
	APISecret string `mapstructure:"apiSecret"`
}

// Each persisted row binds five parameters; 5000 rows stays under the drivers' placeholder limits.
const maxPersistChunkSize = 5000

func DefaultMeterConfig() MeterConfig {
	return MeterConfig{
		TaxRate:                "0.18",
		PersistChunkSize:       1000,
		PGSubscriptionSuffixes: []string{"_VOLUME", "_COUNT"},
	}
}

// TaxRateDecimal returns the validated tax rate.
func (c MeterConfig) TaxRateDecimal() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.TaxRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// Tenant returns the credentials configured for tenantID.
func (c MeterConfig) Tenant(tenantID string) (TenantCredential, bool) {
	for _, t := range c.Tenants {
		if strings.EqualFold(strings.TrimSpace(t.ID), strings.TrimSpace(tenantID)) {
			return t, true
		}
	}
	return TenantCredential{}, false
}

type MeterConfigHolder struct {
	current atomic.Value // holds MeterConfig
}

// NewStaticMeterConfig wraps cfg in a holder that never reloads.
func NewStaticMeterConfig(cfg MeterConfig) *MeterConfigHolder {
	holder := &MeterConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewMeterConfigHolder reads meter.yml and keeps it live across file changes.
// Callers read Get() once per operation, so a reload takes effect on the next stage run.
func NewMeterConfigHolder(appCfg Config, log *zap.Logger) (*MeterConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.meter")

	v := viper.New()
	if appCfg.MeterConfigFile != "" {
		v.SetConfigFile(appCfg.MeterConfigFile)
	} else {
		v.SetConfigName("meter")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/meter")
		v.AddConfigPath(".")
	}

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	var cfg MeterConfig
	if err := v.UnmarshalKey("meter", &cfg); err != nil {
		return nil, err
	}
	cfg = withMeterDefaults(cfg)
	if err := validateMeterConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticMeterConfig(cfg)
	if !watch {
		log.Info("meter config file not found, using defaults")
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MeterConfig
		if err := v.UnmarshalKey("meter", &updated); err != nil {
			log.Warn("meter config reload failed", zap.Error(err))
			return
		}
		updated = withMeterDefaults(updated)
		if err := validateMeterConfig(updated); err != nil {
			log.Warn("invalid meter config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("meter config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *MeterConfigHolder) Get() MeterConfig {
	if h == nil {
		return DefaultMeterConfig()
	}
	cfg, ok := h.current.Load().(MeterConfig)
	if !ok {
		return DefaultMeterConfig()
	}
	return cfg
}

func withMeterDefaults(cfg MeterConfig) MeterConfig {
	defaults := DefaultMeterConfig()
	if strings.TrimSpace(cfg.TaxRate) == "" {
		cfg.TaxRate = defaults.TaxRate
	}
	if cfg.PersistChunkSize == 0 {
		cfg.PersistChunkSize = defaults.PersistChunkSize
	}
	if len(cfg.PGSubscriptionSuffixes) == 0 {
		cfg.PGSubscriptionSuffixes = defaults.PGSubscriptionSuffixes
	}
	return cfg
}

func validateMeterConfig(cfg MeterConfig) error {
	rate, err := decimal.NewFromString(strings.TrimSpace(cfg.TaxRate))
	if err != nil {
		return fmt.Errorf("meter.taxRate: %w", err)
	}
	if rate.IsNegative() {
		return errors.New("meter.taxRate cannot be negative")
	}
	if cfg.PersistChunkSize <= 0 || cfg.PersistChunkSize > maxPersistChunkSize {
		return fmt.Errorf("meter.persistChunkSize must be between 1 and %d", maxPersistChunkSize)
	}
	if len(cfg.PGSubscriptionSuffixes) == 0 {
		return errors.New("meter.pgSubscriptionSuffixes cannot be empty")
	}
	for _, t := range cfg.Tenants {
		if strings.TrimSpace(t.ID) == "" {
			return errors.New("meter.tenants[].id is required")
		}
	}
	return nil
}
