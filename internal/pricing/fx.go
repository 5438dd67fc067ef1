package pricing

import (
	"github.com/smallbiznis/creditcore/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing.catalog",
	fx.Provide(service.NewCatalog),
)
