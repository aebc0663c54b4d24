// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrDuplicateJob     = errors.New("job already registered")
	ErrAlreadyStarted   = errors.New("scheduler already started")
	ErrInvalidInterval  = errors.New("job interval must be positive")
	ErrJobAlreadyActive = errors.New("job is already running")
)

// Job is a unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means no limit beyond the scheduler context.
	Timeout time.Duration
	// RunOnStart fires the job once as soon as the scheduler starts.
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Recorder observes job outcomes, e.g. for metrics.
type Recorder interface {
	JobSkipped(name string)
	JobFinished(name string, duration time.Duration, err error)
}

type entry struct {
	job     Job
	running atomic.Bool
}

// Scheduler runs registered jobs on fixed intervals. A run that is due while
// the previous run of the same job is still executing is skipped.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*entry
	order    []string
	started  bool
	recorder Recorder
	wg       sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{
		jobs: make(map[string]*entry),
	}
}

// SetRecorder must be called before Start.
func (s *Scheduler) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return errors.New("job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("%s: %w", job.Name, ErrInvalidInterval)
	}
	if job.Run == nil {
		return fmt.Errorf("%s: job has no run function", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%s: %w", job.Name, ErrDuplicateJob)
	}

	s.jobs[job.Name] = &entry{job: job}
	s.order = append(s.order, job.Name)

	return nil
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start launches one ticker per job. Cancelling ctx stops future runs; use
// Wait to block until in-flight runs return.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	for _, name := range s.order {
		e := s.jobs[name]
		log.Info().Str("job", name).Dur("interval", e.job.Interval).Bool("runOnStart", e.job.RunOnStart).Msg("Scheduling job")

		s.wg.Add(1)
		go s.loop(ctx, e)
	}

	return nil
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	if e.job.RunOnStart {
		s.dispatch(ctx, e)
	}

	ticker := time.NewTicker(e.job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("job", e.job.Name).Msg("Job loop stopped")
			return
		case <-ticker.C:
			s.dispatch(ctx, e)
		}
	}
}

// dispatch starts a run in the background unless one is already active.
func (s *Scheduler) dispatch(ctx context.Context, e *entry) bool {
	if !e.running.CompareAndSwap(false, true) {
		log.Warn().Str("job", e.job.Name).Msg("Previous run still in progress, skipping")
		if s.recorder != nil {
			s.recorder.JobSkipped(e.job.Name)
		}
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer e.running.Store(false)
		_ = s.execute(ctx, e)
	}()

	return true
}

// execute runs the job body, converting panics into errors.
func (s *Scheduler) execute(ctx context.Context, e *entry) (err error) {
	runID := uuid.NewString()
	logger := log.With().Str("job", e.job.Name).Str("runID", runID).Logger()

	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}
	ctx = logger.WithContext(ctx)

	start := time.Now()
	logger.Debug().Msg("Job started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", e.job.Name, r)
			logger.Error().Str("stack", string(debug.Stack())).Msg("Job panicked")
		}

		elapsed := time.Since(start)
		if err != nil {
			logger.Error().Err(err).Dur("duration", elapsed).Msg("Job failed")
		} else {
			logger.Info().Dur("duration", elapsed).Msg("Job finished")
		}

		if s.recorder != nil {
			s.recorder.JobFinished(e.job.Name, elapsed, err)
		}
	}()

	return e.job.Run(ctx)
}

// RunNow runs a job immediately and waits for it. It returns
// ErrJobAlreadyActive when a run of the same job is in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", name, ErrJobNotFound)
	}

	if !e.running.CompareAndSwap(false, true) {
		if s.recorder != nil {
			s.recorder.JobSkipped(name)
		}
		return fmt.Errorf("%s: %w", name, ErrJobAlreadyActive)
	}
	defer e.running.Store(false)

	return s.execute(ctx, e)
}

// Wait blocks until every job loop and in-flight run has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
