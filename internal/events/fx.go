package events

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/smallbiznis/creditcore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewNATSConn),
	fx.Provide(NewBus),
	fx.Provide(NewPublisher),
	fx.Invoke(RegisterLoginConsumer),
)

type PublisherParams struct {
	fx.In

	Cfg  config.Config
	Bus  *Bus
	Conn *nats.Conn `optional:"true"`
}

// NewPublisher publishes over NATS when connected, otherwise in process.
func NewPublisher(p PublisherParams) Publisher {
	if p.Conn != nil {
		return NewNATSPublisher(p.Conn, p.Cfg.NATS.LoginSubject)
	}
	return p.Bus
}

type ConsumerParams struct {
	fx.In

	Lc      fx.Lifecycle
	Cfg     config.Config
	Log     *zap.Logger
	Bus     *Bus
	Conn    *nats.Conn `optional:"true"`
	Handler LoginHandler
}

func RegisterLoginConsumer(p ConsumerParams) {
	if p.Conn != nil {
		consumer := NewNATSConsumer(p.Conn, p.Cfg.NATS.LoginSubject, p.Cfg.NATS.QueueGroup, p.Handler, p.Log)
		p.Lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return consumer.Start() },
			OnStop:  func(context.Context) error { return consumer.Stop() },
		})
		return
	}

	p.Bus.Subscribe(p.Handler)
	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Bus.Start()
			return nil
		},
		OnStop: p.Bus.Stop,
	})
}
