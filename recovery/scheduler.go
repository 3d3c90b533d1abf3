package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Resumer restarts stalled executions. *workflow.Runner satisfies it.
type Resumer interface {
	ResumeStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Retrier retries dead letters whose backoff has elapsed. *dlq.Service
// satisfies it.
type Retrier interface {
	RetryDue(ctx context.Context) (int, error)
}

// Emitter reports sweep results. ext.Registry satisfies it via
// EmitRecoverySwept.
type Emitter interface {
	EmitRecoverySwept(ctx context.Context, resumed, retried int)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSchedule sets the cron expression driving the sweep.
func WithSchedule(expr string) Option {
	return func(s *Scheduler) { s.expr = expr }
}

// WithStaleAfter sets how long a running execution may go without an
// update before it is resumed.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Scheduler) { s.staleAfter = d }
}

// WithTickInterval sets how often the scheduler checks whether a sweep
// is due.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler sweeps for stalled executions and due dead letters on a
// cron schedule. A sweep never overlaps with another.
type Scheduler struct {
	resumer Resumer
	retrier Retrier
	emitter Emitter
	logger  *slog.Logger

	expr         string
	schedule     cronlib.Schedule
	staleAfter   time.Duration
	tickInterval time.Duration

	sweepMu sync.Mutex

	mu      sync.Mutex
	nextRun time.Time
	lastRun time.Time
	running bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. The retrier and emitter may be nil.
func NewScheduler(resumer Resumer, retrier Retrier, emitter Emitter, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		resumer:      resumer,
		retrier:      retrier,
		emitter:      emitter,
		logger:       slog.Default(),
		expr:         "@every 30s",
		staleAfter:   2 * time.Minute,
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	sched, err := ParseSchedule(s.expr)
	if err != nil {
		return nil, fmt.Errorf("invalid recovery schedule %q: %w", s.expr, err)
	}
	s.schedule = sched
	return s, nil
}

// Start launches the tick goroutine. The first sweep happens at the
// schedule's first activation after now.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.nextRun = s.schedule.Next(time.Now())

	s.wg.Add(1)
	go s.tickLoop(s.stopCh)

	s.logger.Info("recovery scheduler started",
		slog.String("schedule", s.expr),
		slog.Duration("stale_after", s.staleAfter),
		slog.Time("next_run_at", s.nextRun),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for an in-progress sweep
// to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("recovery scheduler stopped")
	return nil
}

// NextRun returns when the next sweep is due. It is zero before Start.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// LastRun returns when the last sweep started.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Scheduler) tickLoop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			due := !now.Before(s.nextRun)
			if due {
				s.nextRun = s.schedule.Next(now)
			}
			s.mu.Unlock()
			if due {
				_, _, _ = s.Sweep(context.Background())
			}
		}
	}
}

// Sweep resumes stale executions and retries due dead letters once. It
// returns the number of executions resumed and dead letters retried.
// Errors from one half do not prevent the other.
func (s *Scheduler) Sweep(ctx context.Context) (resumed, retried int, err error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	s.mu.Lock()
	s.lastRun = time.Now().UTC()
	s.mu.Unlock()

	var errs []error

	resumed, resumeErr := s.resumer.ResumeStale(ctx, s.staleAfter)
	if resumeErr != nil {
		s.logger.Warn("recovery: resume stale executions failed",
			slog.String("error", resumeErr.Error()),
		)
		errs = append(errs, resumeErr)
	}

	if s.retrier != nil {
		var retryErr error
		retried, retryErr = s.retrier.RetryDue(ctx)
		if retryErr != nil {
			s.logger.Warn("recovery: retry dead letters failed",
				slog.String("error", retryErr.Error()),
			)
			errs = append(errs, retryErr)
		}
	}

	if resumed > 0 || retried > 0 {
		s.logger.Info("recovery sweep",
			slog.Int("resumed", resumed),
			slog.Int("retried", retried),
		)
	}
	if s.emitter != nil {
		s.emitter.EmitRecoverySwept(ctx, resumed, retried)
	}

	if len(errs) > 0 {
		return resumed, retried, fmt.Errorf("recovery sweep: %w", errors.Join(errs...))
	}
	return resumed, retried, nil
}
