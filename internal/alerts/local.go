package alerts

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"covenant/pkg/requestcontext"
)

// LogPublisher writes alerts to the structured log. It is the fallback when
// no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, alert Alert) error {
	alert.normalize(requestcontext.Now(ctx))
	p.logger.ErrorContext(ctx, "ALERT: "+alert.Title,
		"alert_id", alert.ID,
		"kind", alert.Kind,
		"severity", alert.Severity,
		"subject", alert.Subject,
		"message", alert.Message,
	)
	return nil
}

// MemoryPublisher records alerts in order.
type MemoryPublisher struct {
	mu     sync.Mutex
	alerts []Alert
	Err    error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, alert Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	alert.normalize(requestcontext.Now(ctx))
	p.alerts = append(p.alerts, alert)
	return nil
}

func (p *MemoryPublisher) Alerts() []Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Alert(nil), p.alerts...)
}

// Fanout publishes to every target and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, alert Alert) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
