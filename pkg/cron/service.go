package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/contoso/sofia/internal/observability"
	"github.com/contoso/sofia/internal/tracing"
)

// Service runs registered maintenance jobs on their schedules. Jobs are
// wired in code before Start; a job that fails is retried with backoff
// instead of waiting for its next scheduled slot.
type Service struct {
	logger  zerolog.Logger
	jobs    map[string]*job
	order   []string
	timers  map[string]*time.Timer
	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	now func() time.Time
}

type job struct {
	name     string
	schedule Schedule
	run      JobFunc

	running           bool
	nextRun           time.Time
	lastRun           time.Time
	lastDuration      time.Duration
	lastStatus        string
	lastError         string
	consecutiveErrors int
	runs              int
}

// NewService creates an empty maintenance service.
func NewService(logger zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		logger: logger.With().Str("component", "maintenance").Logger(),
		jobs:   make(map[string]*job),
		timers: make(map[string]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Register adds a named job with a schedule spec (see ParseSchedule).
// Jobs must be registered before Start.
func (s *Service) Register(name, spec string, run JobFunc) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if run == nil {
		return fmt.Errorf("job %s has no run function", name)
	}

	schedule, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot register %s after start", name)
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s is already registered", name)
	}

	s.jobs[name] = &job{name: name, schedule: schedule, run: run}
	s.order = append(s.order, name)
	return nil
}

// Start schedules all registered jobs. Calling Start twice is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true

	for _, name := range s.order {
		s.scheduleLocked(s.jobs[name], s.now())
	}

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Maintenance service started")
}

// Stop cancels all timers, waits for in-flight runs and cancels their
// context. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()

	for name, timer := range s.timers {
		timer.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Maintenance service stopped")
}

// Jobs returns a snapshot of every job's state in registration order.
func (s *Service) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		j := s.jobs[name]
		statuses = append(statuses, JobStatus{
			Name:              j.name,
			Spec:              j.schedule.Spec,
			NextRun:           j.nextRun,
			LastRun:           j.lastRun,
			LastDuration:      j.lastDuration,
			LastStatus:        j.lastStatus,
			LastError:         j.lastError,
			ConsecutiveErrors: j.consecutiveErrors,
			Runs:              j.runs,
		})
	}
	return statuses
}

// scheduleLocked arms the timer for a job's next run. Must hold s.mu.
func (s *Service) scheduleLocked(j *job, from time.Time) {
	next, err := CalculateNextRun(j.schedule, from)
	if err != nil {
		s.logger.Error().Err(err).Str("job", j.name).Msg("Failed to calculate next run")
		return
	}
	s.armLocked(j, next)
}

// armLocked sets a job's next run time and timer. Must hold s.mu.
func (s *Service) armLocked(j *job, next time.Time) {
	j.nextRun = next

	delay := next.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	name := j.name
	s.timers[name] = time.AfterFunc(delay, func() { s.fire(name) })

	s.logger.Debug().
		Str("job", name).
		Time("next_run", next).
		Msg("Maintenance job scheduled")
}

func (s *Service) fire(name string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	j, exists := s.jobs[name]
	if !exists || j.running {
		s.mu.Unlock()
		return
	}
	j.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	ctx, span := tracing.StartSpan(s.ctx, "sofia.cron", "cron.run",
		attribute.String("job", name),
	)
	defer span.End()

	start := s.now()
	s.logger.Info().Str("job", name).Msg("Maintenance job started")

	err := j.run(ctx)
	duration := s.now().Sub(start)
	observability.RecordMaintenanceRun(name, duration, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j.running = false
	j.lastRun = start
	j.lastDuration = duration
	j.runs++

	if err != nil {
		j.lastStatus = "error"
		j.lastError = err.Error()
		j.consecutiveErrors++

		s.logger.Error().
			Err(err).
			Str("job", name).
			Dur("duration", duration).
			Int("consecutive_errors", j.consecutiveErrors).
			Msg("Maintenance job failed")
	} else {
		j.lastStatus = "ok"
		j.lastError = ""
		j.consecutiveErrors = 0

		s.logger.Info().
			Str("job", name).
			Dur("duration", duration).
			Msg("Maintenance job finished")
	}

	if s.stopped {
		return
	}

	// Failed runs retry with backoff rather than waiting out the
	// regular schedule.
	if err != nil {
		s.armLocked(j, s.now().Add(retryBackoff(j.consecutiveErrors)))
		return
	}
	s.scheduleLocked(j, s.now())
}
