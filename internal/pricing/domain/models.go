package domain

import "errors"

// Pack is a fixed bundle of credits sold at a price per currency.
type Pack struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Credits int64            `json:"credits"`
	Prices  map[string]int64 `json:"price"`
}

type Catalog interface {
	ListPacks() []Pack
	GetPack(id string) (Pack, error)
	PriceOf(pack Pack, currency string) (int64, error)
	// CreditsForAmount converts a custom purchase amount with the fixed
	// currency factor, rounding down.
	CreditsForAmount(amount int64, currency string) (int64, error)
	SupportsCurrency(currency string) bool
}

var (
	ErrPackNotFound        = errors.New("pack_not_found")
	ErrPricingNotSet       = errors.New("pricing_not_set")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrUnsupportedCurrency = errors.New("unsupported_currency")
)
