package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []LoginEvent
	block  chan struct{}
}

func (h *recordingHandler) HandleLogin(ctx context.Context, event LoginEvent) {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

type panickingHandler struct{}

func (panickingHandler) HandleLogin(context.Context, LoginEvent) { panic("boom") }

func TestBusDeliversToAllHandlers(t *testing.T) {
	bus := newBus(zap.NewNop(), 8, 2)
	first := &recordingHandler{}
	second := &recordingHandler{}
	bus.Subscribe(panickingHandler{})
	bus.Subscribe(first)
	bus.Subscribe(second)
	bus.Start()

	for i := 1; i <= 3; i++ {
		require.NoError(t, bus.PublishLogin(context.Background(), LoginEvent{UserID: snowflake.ID(i), OccurredAt: time.Now()}))
	}
	require.NoError(t, bus.Stop(context.Background()))

	assert.Equal(t, 3, first.count())
	assert.Equal(t, 3, second.count())
	assert.ErrorIs(t, bus.PublishLogin(context.Background(), LoginEvent{UserID: 1}), ErrBusStopped)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := newBus(zap.NewNop(), 1, 1)
	handler := &recordingHandler{block: make(chan struct{})}
	bus.Subscribe(handler)

	ctx := context.Background()
	require.NoError(t, bus.PublishLogin(ctx, LoginEvent{UserID: 1}))
	assert.ErrorIs(t, bus.PublishLogin(ctx, LoginEvent{UserID: 2}), ErrBusFull)

	bus.Start()
	close(handler.block)
	require.NoError(t, bus.Stop(ctx))
	assert.Equal(t, 1, handler.count())
}

func TestBusRejectsEmptyUser(t *testing.T) {
	bus := newBus(zap.NewNop(), 1, 1)
	assert.ErrorIs(t, bus.PublishLogin(context.Background(), LoginEvent{}), ErrInvalidEvent)
}
