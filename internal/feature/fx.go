package feature

import (
	"github.com/smallbiznis/creditcore/internal/feature/service"
	"go.uber.org/fx"
)

var Module = fx.Module("feature.registry",
	fx.Provide(service.NewDefaultRegistry),
)
