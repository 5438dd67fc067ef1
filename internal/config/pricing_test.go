package config

import (
	"testing"
)

func TestValidatePricingConfigRejectsDuplicatePacks(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.Packs = append(cfg.Packs, cfg.Packs[0])
	if err := validatePricingConfig(cfg); err == nil {
		t.Fatalf("expected duplicate pack id to be rejected")
	}
}

func TestValidatePricingConfigRejectsNonPositiveFactor(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.ConversionFactors["EUR"] = 0
	if err := validatePricingConfig(cfg); err == nil {
		t.Fatalf("expected zero conversion factor to be rejected")
	}
}

func TestNormalizePricingConfigUppercasesCurrencies(t *testing.T) {
	cfg := normalizePricingConfig(PricingConfig{
		Packs:             []PackConfig{{ID: "starter", Credits: 100, Prices: map[string]int64{"inr": 99}}},
		ConversionFactors: map[string]float64{"usd": 10},
	})
	if cfg.Packs[0].Prices["INR"] != 99 {
		t.Fatalf("expected INR price 99, got %v", cfg.Packs[0].Prices)
	}
	if cfg.ConversionFactors["USD"] != 10 {
		t.Fatalf("expected USD factor 10, got %v", cfg.ConversionFactors)
	}
}

func TestStaticHolderReturnsDefaults(t *testing.T) {
	holder := NewStaticPricingConfigHolder(DefaultPricingConfig())
	cfg := holder.Get()
	if len(cfg.Packs) != 3 {
		t.Fatalf("expected 3 packs, got %d", len(cfg.Packs))
	}
	if err := validatePricingConfig(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
