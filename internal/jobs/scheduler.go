// Package jobs runs periodic maintenance work: the dispute deadline sweep,
// the legal-integrity verification and idempotency key cleanup. Every run
// holds a named lease so only one replica executes a job at a time.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"covenant/internal/platform/metrics"
	dErrors "covenant/pkg/domain-errors"
)

// Lock is a named lease shared by all replicas.
type Lock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	lock    Lock
	lockTTL time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu   sync.Mutex
	jobs map[string]Job
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLockTTL bounds how long a crashed instance can block a job. Running
// jobs renew their lease every third of the TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Scheduler) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func New(lock Lock, opts ...Option) *Scheduler {
	s := &Scheduler{
		lock:    lock,
		lockTTL: 5 * time.Minute,
		logger:  slog.Default(),
		tracer:  otel.Tracer("covenant/jobs"),
		jobs:    make(map[string]Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job name and run func are required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs[job.Name] = job
	return nil
}

// Run ticks every registered job until ctx is cancelled and waits for
// in-flight runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, job)
		}()
	}
	s.logger.InfoContext(ctx, "scheduler started", "jobs", len(jobs))
	wg.Wait()
	s.logger.InfoContext(ctx, "scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Failures are logged and counted in execute; the loop keeps going.
			_ = s.execute(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow executes a registered job once, outside its schedule. It fails with
// a conflict when another instance holds the job's lease.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "unknown job: "+name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) (err error) {
	acquired, err := s.lock.Acquire(ctx, job.Name, s.lockTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to acquire job lock", "job", job.Name, "error", err)
		s.observe(job.Name, "lock_error", 0)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire job lock")
	}
	if !acquired {
		s.logger.DebugContext(ctx, "job skipped: lease held elsewhere", "job", job.Name)
		if s.metrics != nil {
			s.metrics.IncLeaderSkip(job.Name)
		}
		return dErrors.New(dErrors.CodeConflict, "job "+job.Name+" is running on another instance")
	}
	defer func() {
		if rerr := s.lock.Release(context.WithoutCancel(ctx), job.Name); rerr != nil {
			s.logger.WarnContext(ctx, "failed to release job lock", "job", job.Name, "error", rerr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.keepLease(ctx, cancel, job.Name)()

	ctx, span := s.tracer.Start(ctx, "jobs."+job.Name, trace.WithAttributes(attribute.String("job.name", job.Name)))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = dErrors.Newf(dErrors.CodeInternal, "job %s panicked: %v", job.Name, r)
			s.logger.ErrorContext(ctx, "job panicked",
				"job", job.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
		outcome := "success"
		if err != nil {
			outcome = "failure"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.observe(job.Name, outcome, time.Since(start))
	}()

	if err = job.Run(ctx); err != nil {
		s.logger.ErrorContext(ctx, "job failed",
			"job", job.Name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return err
	}
	s.logger.InfoContext(ctx, "job finished",
		"job", job.Name,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// keepLease renews the job's lease until the returned stop func is called.
// A lease that can no longer be renewed cancels the run.
func (s *Scheduler) keepLease(ctx context.Context, cancel context.CancelFunc, name string) (stop func()) {
	interval := s.lockTTL / 3
	if interval <= 0 {
		interval = s.lockTTL
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := s.lock.Extend(ctx, name, s.lockTTL)
				if err != nil {
					s.logger.WarnContext(ctx, "failed to extend job lease", "job", name, "error", err)
					continue
				}
				if !ok {
					s.logger.ErrorContext(ctx, "job lease lost, cancelling run", "job", name)
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Scheduler) observe(job, outcome string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveRun(job, outcome, d)
	}
}
