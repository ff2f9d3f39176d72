// Package cron runs background jobs on an "@every <duration>" schedule.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a periodic task. Ticks that arrive while the previous run is still
// active are skipped.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error

	running atomic.Bool
	runs    atomic.Int64
}

// Runs reports how many times the job has been fired.
func (j *Job) Runs() int64 { return j.runs.Load() }

// ParseEvery parses schedules of the form "@every <duration>".
func ParseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("@every duration must be > 0")
	}
	return d, nil
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("cron job requires a name")
	}
	if j.Schedule == "" {
		return errors.New("cron job requires a schedule")
	}
	if j.Run == nil {
		return errors.New("cron job requires a run func")
	}
	_, err := ParseEvery(j.Schedule)
	return err
}

// Scheduler owns a set of jobs. Start launches one ticker per job; Stop
// cancels them and waits for in-flight runs.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []*Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler() *Scheduler { return &Scheduler{} }

func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return fmt.Errorf("cron job %s already added", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		d, _ := ParseEvery(j.Schedule)
		s.wg.Add(1)
		go s.runJob(ctx, j, d)
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, j *Job, period time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !j.running.CompareAndSwap(false, true) {
				slog.Debug("cron tick skipped, previous run active", "job", j.Name)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer j.running.Store(false)
				j.runs.Add(1)
				if err := j.Run(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("cron job failed", "job", j.Name, "error", err)
				}
			}()
		}
	}
}

// Stop cancels all jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}
