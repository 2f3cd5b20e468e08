// Package security provides a buffered, asynchronous audit publisher for
// security signals. Emit never blocks the caller; a background loop drains the
// ring buffer to the configured sinks. Under sustained overload the oldest
// events are dropped and counted.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "covenant/pkg/platform/audit"
	"covenant/pkg/requestcontext"
)

// Sink receives drained security events. A failing sink is logged and the
// remaining sinks still run.
type Sink interface {
	Deliver(ctx context.Context, event audit.SecurityEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event audit.SecurityEvent) error

func (f SinkFunc) Deliver(ctx context.Context, event audit.SecurityEvent) error {
	return f(ctx, event)
}

// StoreSink persists security events to an audit store.
func StoreSink(store audit.Store) Sink {
	return SinkFunc(func(ctx context.Context, event audit.SecurityEvent) error {
		return store.Append(ctx, event.ToEvent())
	})
}

type Publisher struct {
	buffer        *RingBuffer
	sinks         []Sink
	logger        *slog.Logger
	flushInterval time.Duration
	batchSize     int

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		p.buffer = NewRingBuffer(n)
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

// New starts the drain loop. Call Close to flush and stop it.
func New(sinks []Sink, opts ...Option) *Publisher {
	p := &Publisher{
		buffer:        NewRingBuffer(defaultBufferSize),
		sinks:         sinks,
		logger:        slog.Default(),
		flushInterval: time.Second,
		batchSize:     100,
		notify:        make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Emit enqueues a security event. Missing actor, IP, request ID and
// timestamp are filled from the request context.
func (p *Publisher) Emit(ctx context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx).UTC()
	}
	if event.ActorID == "" {
		event.ActorID = requestcontext.ActorID(ctx)
	}
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	p.buffer.Enqueue(event)
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.buffer.Dropped()
}

// Flush delivers everything currently buffered.
func (p *Publisher) Flush(ctx context.Context) {
	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			p.deliver(ctx, event)
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, event audit.SecurityEvent) {
	for _, sink := range p.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "security audit delivery failed",
				"action", event.Action,
				"entity_id", event.EntityID,
				"error", err,
			)
		}
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-p.done:
			p.Flush(ctx)
			return
		case <-p.notify:
			p.Flush(ctx)
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Close drains the buffer and stops the background loop.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	return nil
}
