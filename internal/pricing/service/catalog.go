package service

import (
	"math"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/creditcore/internal/config"
	"github.com/smallbiznis/creditcore/internal/pricing/domain"
)

type catalog struct {
	holder *config.PricingConfigHolder
}

// NewCatalog reads packs and conversion factors from holder on every call, so
// reloaded pricing applies without a restart.
func NewCatalog(holder *config.PricingConfigHolder) domain.Catalog {
	return &catalog{holder: holder}
}

func (c *catalog) ListPacks() []domain.Pack {
	cfg := c.holder.Get()
	packs := make([]domain.Pack, 0, len(cfg.Packs))
	for _, pack := range cfg.Packs {
		packs = append(packs, toPack(pack))
	}
	sort.SliceStable(packs, func(i, j int) bool { return packs[i].Credits < packs[j].Credits })
	return packs
}

func (c *catalog) GetPack(id string) (domain.Pack, error) {
	wanted := NormalizePackID(id)
	if wanted == "" {
		return domain.Pack{}, domain.ErrPackNotFound
	}
	for _, pack := range c.holder.Get().Packs {
		if NormalizePackID(pack.ID) == wanted {
			return toPack(pack), nil
		}
	}
	return domain.Pack{}, domain.ErrPackNotFound
}

func (c *catalog) PriceOf(pack domain.Pack, currency string) (int64, error) {
	price, ok := pack.Prices[normalizeCurrency(currency)]
	if !ok || price <= 0 {
		return 0, domain.ErrUnsupportedCurrency
	}
	return price, nil
}

func (c *catalog) CreditsForAmount(amount int64, currency string) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	factor, ok := c.holder.Get().ConversionFactors[normalizeCurrency(currency)]
	if !ok || factor <= 0 {
		return 0, domain.ErrPricingNotSet
	}
	credits := math.Floor(float64(amount) * factor)
	if credits < 1 {
		return 0, domain.ErrInvalidAmount
	}
	return int64(credits), nil
}

func (c *catalog) SupportsCurrency(currency string) bool {
	factor, ok := c.holder.Get().ConversionFactors[normalizeCurrency(currency)]
	return ok && factor > 0
}

// NormalizePackID maps display ids such as "Starter Pack" to "starter-pack".
func NormalizePackID(id string) string {
	return slug.Make(strings.TrimSpace(id))
}

func toPack(pack config.PackConfig) domain.Pack {
	prices := make(map[string]int64, len(pack.Prices))
	for currency, amount := range pack.Prices {
		prices[currency] = amount
	}
	name := pack.Name
	if name == "" {
		name = pack.ID
	}
	return domain.Pack{
		ID:      NormalizePackID(pack.ID),
		Name:    name,
		Credits: pack.Credits,
		Prices:  prices,
	}
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
