package service

import (
	"context"
	"strings"

	paymentdomain "github.com/smallbiznis/creditcore/internal/payment/domain"
)

// BuyPack prices a catalog pack in the requested currency and opens an order
// for its credits.
func (s *Service) BuyPack(ctx context.Context, req paymentdomain.BuyPackRequest) (*paymentdomain.CreateOrderResponse, error) {
	pack, err := s.catalog.GetPack(req.PackID)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	price, err := s.catalog.PriceOf(pack, currency)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{"packId": pack.ID}
	for key, value := range req.Metadata {
		metadata[key] = value
	}
	return s.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		UserID:         req.UserID,
		Provider:       req.Provider,
		CurrencyAmount: price,
		Currency:       currency,
		CreditAmount:   pack.Credits,
		Metadata:       metadata,
	})
}

// BuyCustom converts an arbitrary amount to credits with the currency's
// conversion factor.
func (s *Service) BuyCustom(ctx context.Context, req paymentdomain.BuyCustomRequest) (*paymentdomain.CreateOrderResponse, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	credits, err := s.catalog.CreditsForAmount(req.Amount, currency)
	if err != nil {
		return nil, err
	}
	return s.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		UserID:         req.UserID,
		Provider:       req.Provider,
		CurrencyAmount: req.Amount,
		Currency:       currency,
		CreditAmount:   credits,
		Metadata:       req.Metadata,
	})
}
