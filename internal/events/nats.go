package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smallbiznis/creditcore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewNATSConn returns nil when NATS is disabled.
func NewNATSConn(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*nats.Conn, error) {
	if !cfg.NATS.Enabled {
		return nil, nil
	}
	url := strings.TrimSpace(cfg.NATS.URL)
	if url == "" {
		url = nats.DefaultURL
	}
	log = log.Named("events.nats")

	nc, err := nats.Connect(url,
		nats.Name(cfg.AppName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return nc.Drain()
		},
	})
	return nc, nil
}

type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject}
}

func (p *NATSPublisher) PublishLogin(ctx context.Context, event LoginEvent) error {
	if event.UserID == 0 {
		return ErrInvalidEvent
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// NATSConsumer feeds a queue-group subscription into a LoginHandler so each
// event is handled by one replica.
type NATSConsumer struct {
	nc      *nats.Conn
	subject string
	queue   string
	handler LoginHandler
	log     *zap.Logger

	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

func NewNATSConsumer(nc *nats.Conn, subject, queue string, handler LoginHandler, log *zap.Logger) *NATSConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &NATSConsumer{
		nc:      nc,
		subject: subject,
		queue:   queue,
		handler: handler,
		log:     log.Named("events.nats"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *NATSConsumer) Start() error {
	sub, err := c.nc.QueueSubscribe(c.subject, c.queue, c.onMessage)
	if err != nil {
		return err
	}
	c.sub = sub
	c.log.Info("login consumer subscribed",
		zap.String("subject", c.subject),
		zap.String("queue", c.queue),
	)
	return nil
}

func (c *NATSConsumer) Stop() error {
	defer c.cancel()
	if c.sub == nil {
		return nil
	}
	return c.sub.Drain()
}

func (c *NATSConsumer) onMessage(msg *nats.Msg) {
	var event LoginEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.log.Error("failed to decode login event", zap.Error(err))
		return
	}
	if event.UserID == 0 {
		c.log.Warn("login event without user id")
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, handlerTimeout)
	defer cancel()
	c.handler.HandleLogin(ctx, event)
}
