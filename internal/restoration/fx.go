package restoration

import (
	"github.com/smallbiznis/creditcore/internal/events"
	"github.com/smallbiznis/creditcore/internal/restoration/domain"
	"github.com/smallbiznis/creditcore/internal/restoration/service"
	"go.uber.org/fx"
)

var Module = fx.Module("restoration.service",
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Provide(func(s *service.Service) events.LoginHandler { return s }),
)
