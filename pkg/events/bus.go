package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/stockex/pkg/metrics"
)

// Sink consumes events. Handle is called from the bus goroutine only, in
// publish order.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// Bus is an ordered, buffered fan-out. Publish enqueues and returns; a single
// dispatcher delivers each event to every sink in publish order. Publish
// blocks only while the buffer is full.
type Bus struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	ch      chan Event
	done    chan struct{}

	mu     sync.RWMutex
	sinks  []Sink
	closed bool
}

func NewBus(buffer int, log *zap.Logger, m *metrics.Metrics) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{
		log:     log.Named("events"),
		metrics: m,
		ch:      make(chan Event, buffer),
		done:    make(chan struct{}),
	}
}

// Subscribe registers a sink
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
	b.log.Info("sink_subscribed", zap.String("sink", s.Name()))
}

// Publish enqueues ev. Events published after Close are dropped.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.metrics.EventDropped()
		b.log.Warn("event_dropped_bus_closed", zap.String("type", string(ev.Type())), zap.String("instrument", ev.Instrument()))
		return
	}
	b.ch <- ev
}

// Run dispatches until Close is called and the buffer is drained
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	for ev := range b.ch {
		b.dispatch(ctx, ev)
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, s := range sinks {
		b.deliver(ctx, s, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, s Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("sink_panic", zap.String("sink", s.Name()), zap.Any("recover", r))
		}
	}()
	if err := s.Handle(ctx, ev); err != nil {
		b.log.Warn("sink_failed",
			zap.String("sink", s.Name()),
			zap.String("type", string(ev.Type())),
			zap.String("instrument", ev.Instrument()),
			zap.Error(err),
		)
	}
}

// Close stops accepting events. Run returns once the buffer is drained.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Done is closed when Run has returned
func (b *Bus) Done() <-chan struct{} { return b.done }
