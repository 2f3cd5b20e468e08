// Package idempotency runs an operation at most once per client-supplied key
// and replays the stored result to later callers within the TTL window.
// Failures are never cached, so a failed attempt can be retried under the
// same key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"covenant/internal/idempotency/models"
	"covenant/internal/integrity/hash"
	dErrors "covenant/pkg/domain-errors"
	audit "covenant/pkg/platform/audit"
	"covenant/pkg/platform/sentinel"
	"covenant/pkg/requestcontext"
)

const DefaultTTL = 24 * time.Hour

type Store interface {
	Find(ctx context.Context, key string) (*models.Record, error)
	Insert(ctx context.Context, rec *models.Record) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SecurityEmitter receives a signal when two callers raced on one key.
type SecurityEmitter interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

type Guard struct {
	store    Store
	logger   *slog.Logger
	metrics  *Metrics
	security SecurityEmitter
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

func WithSecurityEmitter(e SecurityEmitter) Option {
	return func(g *Guard) {
		g.security = e
	}
}

func New(store Store, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("idempotency store is required")
	}
	g := &Guard{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type execConfig struct {
	ttl time.Duration
}

type ExecOption func(*execConfig)

// WithTTL overrides how long a successful result is replayed.
func WithTTL(ttl time.Duration) ExecOption {
	return func(c *execConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// Execute returns the cached result for key when a live one exists, and
// otherwise runs fn and caches its result. Go has no generic methods, so the
// guard is passed in.
func Execute[T any](
	ctx context.Context,
	g *Guard,
	key, operation, userID string,
	fn func(ctx context.Context) (T, error),
	opts ...ExecOption,
) (T, error) {
	var zero T
	if strings.TrimSpace(key) == "" {
		return zero, dErrors.New(dErrors.CodeValidation, "idempotency key is required")
	}
	cfg := execConfig{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}

	now := requestcontext.Now(ctx).UTC()
	cached, err := g.store.Find(ctx, key)
	switch {
	case err == nil && !cached.IsExpired(now):
		g.logger.DebugContext(ctx, "idempotency hit",
			"key", key,
			"operation", cached.Operation,
		)
		if g.metrics != nil {
			g.metrics.IncHit(operation)
		}
		return decode[T](cached)
	case err != nil && !errors.Is(err, sentinel.ErrNotFound):
		return zero, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up idempotency key")
	}
	if g.metrics != nil {
		g.metrics.IncMiss(operation)
	}

	result, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return zero, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode idempotent result")
	}
	rec := &models.Record{
		Key:        key,
		UserID:     userID,
		Operation:  operation,
		ResultData: data,
		ResultHash: hash.ResultHash(data),
		CreatedAt:  now,
		ExpiresAt:  now.Add(cfg.ttl),
	}
	err = g.store.Insert(ctx, rec)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, sentinel.ErrDuplicate) {
		return zero, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store idempotency key")
	}

	// A concurrent caller stored first; its result is the one every caller sees.
	winner, findErr := g.store.Find(ctx, key)
	if findErr != nil {
		return zero, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to read winning idempotency result")
	}
	g.logger.WarnContext(ctx, "idempotency race resolved to stored result",
		"key", key,
		"operation", operation,
		"user_id", userID,
	)
	if g.metrics != nil {
		g.metrics.IncRace(operation)
	}
	if g.security != nil {
		g.security.Emit(ctx, audit.SecurityEvent{
			ActorID:    userID,
			Action:     audit.EventIdempotencyRaceResolved,
			EntityType: "IDEMPOTENCY_KEY",
			EntityID:   key,
			Severity:   audit.SeverityLow,
			Details:    map[string]any{"operation": operation},
		})
	}
	return decode[T](winner)
}

func decode[T any](rec *models.Record) (T, error) {
	var out T
	if err := json.Unmarshal(rec.ResultData, &out); err != nil {
		return out, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode cached result")
	}
	return out, nil
}

// CleanupExpiredKeys removes records whose expiry has passed.
func (g *Guard) CleanupExpiredKeys(ctx context.Context) (int64, error) {
	n, err := g.store.DeleteExpired(ctx, requestcontext.Now(ctx).UTC())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to clean up idempotency keys")
	}
	if n > 0 {
		g.logger.InfoContext(ctx, "expired idempotency keys removed", "count", n)
	}
	return n, nil
}
