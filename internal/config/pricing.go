package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PackConfig describes one purchasable credit pack.
type PackConfig struct {
	ID      string           `mapstructure:"id"`
	Name    string           `mapstructure:"name"`
	Credits int64            `mapstructure:"credits"`
	Prices  map[string]int64 `mapstructure:"prices"`
}

// PricingConfig is the pack catalog plus the currency to credit conversion
// used for custom-amount purchases.
type PricingConfig struct {
	Packs             []PackConfig       `mapstructure:"packs"`
	ConversionFactors map[string]float64 `mapstructure:"conversionFactors"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Packs: []PackConfig{
			{ID: "starter", Name: "Starter", Credits: 100, Prices: map[string]int64{"INR": 99, "USD": 2}},
			{ID: "pro", Name: "Pro", Credits: 600, Prices: map[string]int64{"INR": 499, "USD": 8}},
			{ID: "scale", Name: "Scale", Credits: 1500, Prices: map[string]int64{"INR": 999, "USD": 15}},
		},
		ConversionFactors: map[string]float64{"INR": 1, "USD": 10},
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingConfigHolder wraps a fixed configuration.
func NewStaticPricingConfigHolder(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(normalizePricingConfig(cfg))
	return holder
}

func NewPricingConfigHolder(log *zap.Logger) (*PricingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("pricing.config")

	v := viper.New()
	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/creditcore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("pricing config file not found, using defaults")
		return NewStaticPricingConfigHolder(DefaultPricingConfig()), nil
	}

	cfg, err := readPricingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readPricingConfig(v)
		if err != nil {
			log.Warn("pricing config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func readPricingConfig(v *viper.Viper) (PricingConfig, error) {
	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return PricingConfig{}, err
	}
	cfg = normalizePricingConfig(cfg)
	if err := validatePricingConfig(cfg); err != nil {
		return PricingConfig{}, err
	}
	return cfg, nil
}

// normalizePricingConfig upper-cases currency codes; viper lower-cases map keys.
func normalizePricingConfig(cfg PricingConfig) PricingConfig {
	out := PricingConfig{
		Packs:             make([]PackConfig, 0, len(cfg.Packs)),
		ConversionFactors: make(map[string]float64, len(cfg.ConversionFactors)),
	}
	for currency, factor := range cfg.ConversionFactors {
		out.ConversionFactors[strings.ToUpper(strings.TrimSpace(currency))] = factor
	}
	for _, pack := range cfg.Packs {
		prices := make(map[string]int64, len(pack.Prices))
		for currency, amount := range pack.Prices {
			prices[strings.ToUpper(strings.TrimSpace(currency))] = amount
		}
		pack.Prices = prices
		out.Packs = append(out.Packs, pack)
	}
	return out
}

func validatePricingConfig(cfg PricingConfig) error {
	if len(cfg.Packs) == 0 {
		return errors.New("pricing.packs cannot be empty")
	}
	seen := map[string]struct{}{}
	for _, pack := range cfg.Packs {
		if strings.TrimSpace(pack.ID) == "" {
			return errors.New("pricing.packs[].id is required")
		}
		if _, ok := seen[pack.ID]; ok {
			return fmt.Errorf("pricing.packs: duplicate id %q", pack.ID)
		}
		seen[pack.ID] = struct{}{}
		if pack.Credits <= 0 {
			return fmt.Errorf("pricing.packs[%s].credits must be positive", pack.ID)
		}
		if len(pack.Prices) == 0 {
			return fmt.Errorf("pricing.packs[%s].prices cannot be empty", pack.ID)
		}
	}
	for currency, factor := range cfg.ConversionFactors {
		if factor <= 0 {
			return fmt.Errorf("pricing.conversionFactors[%s] must be positive", currency)
		}
	}
	return nil
}
