package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBusBuffer  = 256
	defaultBusWorkers = 4
	handlerTimeout    = 30 * time.Second
)

// Bus delivers login events to in-process handlers on a small worker pool.
// Publishing never blocks: a full buffer drops the event.
type Bus struct {
	log     *zap.Logger
	queue   chan LoginEvent
	workers int

	mu       sync.RWMutex
	handlers []LoginHandler
	stopped  bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewBus(log *zap.Logger) *Bus {
	return newBus(log, defaultBusBuffer, defaultBusWorkers)
}

func newBus(log *zap.Logger, buffer, workers int) *Bus {
	return &Bus{
		log:     log.Named("events.bus"),
		queue:   make(chan LoginEvent, buffer),
		workers: workers,
	}
}

func (b *Bus) Subscribe(handler LoginHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

func (b *Bus) PublishLogin(ctx context.Context, event LoginEvent) error {
	if event.UserID == 0 {
		return ErrInvalidEvent
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrBusStopped
	}
	select {
	case b.queue <- event:
		return nil
	default:
		b.log.Warn("login event dropped", zap.String("user_id", event.UserID.String()))
		return ErrBusFull
	}
}

func (b *Bus) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.run(ctx)
	}
}

// Stop rejects new events, drains queued ones and waits for workers.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.queue)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if b.cancel != nil {
			b.cancel()
		}
		return ctx.Err()
	}
}

func (b *Bus) run(ctx context.Context) {
	defer b.wg.Done()
	for event := range b.queue {
		b.dispatch(ctx, event)
	}
}

func (b *Bus) dispatch(ctx context.Context, event LoginEvent) {
	b.mu.RLock()
	handlers := append([]LoginHandler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("login handler panicked",
						zap.String("user_id", event.UserID.String()),
						zap.Any("panic", r),
					)
				}
			}()
			handlerCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
			defer cancel()
			handler.HandleLogin(handlerCtx, event)
		}()
	}
}
