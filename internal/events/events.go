package events

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// LoginEvent is emitted by the identity flow after a successful login.
type LoginEvent struct {
	UserID     snowflake.ID `json:"userId"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// LoginHandler consumes login events. Handlers own their error reporting;
// nothing is returned to the publisher.
type LoginHandler interface {
	HandleLogin(ctx context.Context, event LoginEvent)
}

type Publisher interface {
	PublishLogin(ctx context.Context, event LoginEvent) error
}

var (
	ErrBusFull      = errors.New("event_bus_full")
	ErrBusStopped   = errors.New("event_bus_stopped")
	ErrInvalidEvent = errors.New("invalid_event")
)
