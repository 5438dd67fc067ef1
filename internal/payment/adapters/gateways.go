package adapters

import (
	"errors"
	"net/http"
	"time"

	"github.com/smallbiznis/creditcore/internal/config"
	obsmetrics "github.com/smallbiznis/creditcore/internal/observability/metrics"
	"github.com/smallbiznis/creditcore/internal/payment/adapters/cashfree"
	"github.com/smallbiznis/creditcore/internal/payment/adapters/mpesa"
	"github.com/smallbiznis/creditcore/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Gateways holds the adapters that could be built from configuration, each
// wrapped with the retry policy.
type Gateways struct {
	adapters        map[string]domain.GatewayAdapter
	defaultProvider string
}

func NewStaticGateways(defaultProvider string, adapters ...domain.GatewayAdapter) *Gateways {
	g := &Gateways{
		adapters:        map[string]domain.GatewayAdapter{},
		defaultProvider: normalizeProvider(defaultProvider),
	}
	for _, adapter := range adapters {
		g.adapters[normalizeProvider(adapter.Provider())] = adapter
	}
	return g
}

func (g *Gateways) Resolve(provider string) (domain.GatewayAdapter, error) {
	adapter, ok := g.adapters[normalizeProvider(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}

func (g *Gateways) DefaultProvider() string {
	return g.defaultProvider
}

func NewDefaultRegistry() *Registry {
	return NewRegistry(cashfree.NewFactory(), mpesa.NewFactory())
}

type GatewaysParams struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Registry   *Registry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewGateways(p GatewaysParams) (*Gateways, error) {
	log := p.Log.Named("payment.gateways")
	gw := p.Cfg.Gateways

	client := &http.Client{Timeout: gw.Timeout + 5*time.Second}
	configs := map[string]domain.AdapterConfig{
		cashfree.Provider: {
			Environment: gw.Cashfree.Environment,
			HTTPClient:  client,
			Credentials: map[string]string{
				cashfree.CredentialClientID:     gw.Cashfree.ClientID,
				cashfree.CredentialClientSecret: gw.Cashfree.ClientSecret,
				cashfree.CredentialAPIVersion:   gw.Cashfree.APIVersion,
				cashfree.CredentialReturnURL:    gw.Cashfree.ReturnURL,
			},
		},
		mpesa.Provider: {
			Environment: gw.Mpesa.Environment,
			HTTPClient:  client,
			Credentials: map[string]string{
				mpesa.CredentialConsumerKey:    gw.Mpesa.ConsumerKey,
				mpesa.CredentialConsumerSecret: gw.Mpesa.ConsumerSecret,
				mpesa.CredentialShortCode:      gw.Mpesa.ShortCode,
				mpesa.CredentialPasskey:        gw.Mpesa.Passkey,
				mpesa.CredentialCallbackURL:    gw.Mpesa.CallbackURL,
			},
		},
	}

	policy := RetryPolicy{Timeout: gw.Timeout, MaxRetries: gw.MaxRetries}
	gateways := &Gateways{
		adapters:        map[string]domain.GatewayAdapter{},
		defaultProvider: normalizeProvider(gw.DefaultProvider),
	}
	for _, provider := range p.Registry.Providers() {
		adapter, err := p.Registry.NewAdapter(provider, configs[provider])
		if err != nil {
			if errors.Is(err, domain.ErrInvalidConfig) {
				log.Warn("payment provider not configured", zap.String("provider", provider))
				continue
			}
			return nil, err
		}
		gateways.adapters[provider] = WithRetry(adapter, policy, log, p.ObsMetrics)
		log.Info("payment provider enabled", zap.String("provider", provider))
	}
	return gateways, nil
}
