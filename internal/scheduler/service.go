/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler drives recurring backup and sync tasks. A single
// coarse tick loop inspects every registered task, fires the ones that
// are due on worker goroutines and re-arms each task from its completion
// time. A task never runs twice concurrently; occurrences that come due
// while the previous run is still going are dropped, not queued.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_sync/internal/scheduler/state"
	"github.com/friendsincode/skuld_sync/internal/telemetry"
)

// Service owns the registered tasks and the tick loop.
type Service struct {
	store    *state.Store
	interval time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*taskState
	wg    sync.WaitGroup
}

// New constructs the scheduler. Interval is the tick resolution; zero or
// negative falls back to one second.
func New(store *state.Store, interval time.Duration, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		store:    store,
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		tasks:    make(map[string]*taskState),
	}
}

// Register adds a recurring task, restoring its last-fired time from the
// state store so restarts do not re-run tasks ahead of schedule. A task
// that never ran before is due immediately.
func (s *Service) Register(ctx context.Context, task Task) error {
	if task.ID == "" {
		return fmt.Errorf("task has no id")
	}
	if task.Schedule == nil {
		return fmt.Errorf("task %s has no schedule", task.ID)
	}
	if task.Run == nil {
		return fmt.Errorf("task %s has no runner", task.ID)
	}

	lastFired, err := s.store.LastFired(ctx, task.ID)
	if err != nil {
		return err
	}

	ts := &taskState{task: task, state: StateIdle, lastFired: lastFired}
	if lastFired != nil {
		ts.nextDue = task.Schedule.Next(*lastFired)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already registered", task.ID)
	}
	s.tasks[task.ID] = ts

	event := s.logger.Info().
		Str("task", task.ID).
		Str("operation", string(task.Operation)).
		Str("cron", task.Schedule.Expr())
	if lastFired != nil {
		event = event.Time("last_fired", *lastFired).Time("next_due", ts.nextDue)
	} else {
		event = event.Str("next_due", "immediately")
	}
	event.Msg("task registered")
	return nil
}

// PruneState drops persisted schedule rows for tasks that are no longer
// registered, typically after an instance was removed from configuration.
func (s *Service) PruneState(ctx context.Context) error {
	s.mu.Lock()
	keep := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		keep = append(keep, id)
	}
	s.mu.Unlock()

	pruned, err := s.store.PruneExcept(ctx, keep)
	if err != nil {
		return err
	}
	if pruned > 0 {
		s.logger.Info().Int64("pruned", pruned).Msg("stale schedule state removed")
	}
	return nil
}

// Run executes the tick loop until the context is cancelled, then waits
// for in-flight tasks to wind down. Cancellation is cooperative: running
// tasks see the same context and stop after their current item.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.mu.Lock()
	count := len(s.tasks)
	s.mu.Unlock()
	s.logger.Info().Int("tasks", count).Dur("interval", s.interval).Msg("scheduler loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler loop stopping, draining running tasks")
			s.wg.Wait()
			s.logger.Info().Msg("scheduler loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every due task. Scheduler-level problems never escape the
// loop; the next tick always happens.
func (s *Service) tick(ctx context.Context) {
	telemetry.SchedulerTicksTotal.Inc()
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ts := range s.tasks {
		switch ts.state {
		case StateRunning:
			// The previous run is still going. If its next occurrence has
			// already passed, that occurrence is dropped, not queued.
			if !ts.nextNominal.IsZero() && !now.Before(ts.nextNominal) {
				telemetry.TasksSkippedBusyTotal.WithLabelValues(string(ts.task.Operation)).Inc()
				s.logger.Warn().
					Str("task", ts.task.ID).
					Time("missed", ts.nextNominal).
					Msg("task still running at next due time, occurrence dropped")
				ts.nextNominal = ts.task.Schedule.Next(now)
			}

		case StateIdle:
			if !ts.due(now) {
				continue
			}
			ts.state = StateDue
			s.fire(ctx, ts, now)
		}
	}
}

// fire transitions Due -> Running and launches the worker. Caller holds
// the service mutex.
func (s *Service) fire(ctx context.Context, ts *taskState, now time.Time) {
	ts.state = StateRunning
	ts.nextNominal = ts.task.Schedule.Next(now)

	telemetry.TasksFiredTotal.WithLabelValues(string(ts.task.Operation)).Inc()
	s.logger.Info().
		Str("task", ts.task.ID).
		Str("operation", string(ts.task.Operation)).
		Msg("task fired")

	s.wg.Add(1)
	go s.execute(ctx, ts)
}

// execute runs one occurrence. Panics are contained here so a broken task
// cannot take down the loop; the task still transitions back to Idle and
// keeps its future schedule.
func (s *Service) execute(ctx context.Context, ts *taskState) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			telemetry.SchedulerErrorsTotal.WithLabelValues(ts.task.ID, "panic").Inc()
			s.logger.Error().
				Str("task", ts.task.ID).
				Interface("panic", r).
				Msg("task panicked")
		}
		s.complete(ts)
	}()

	out := ts.task.Run(ctx)
	if !out.Success {
		s.logger.Warn().
			Str("task", ts.task.ID).
			Str("error", out.Error).
			Msg("task run failed, will retry at next occurrence")
	}
}

// complete transitions Running -> Idle unconditionally and re-arms the
// task from the completion instant, never from the nominal schedule, so a
// slow or failing task cannot build up a catch-up storm.
func (s *Service) complete(ts *taskState) {
	now := time.Now().UTC()
	next := ts.task.Schedule.Next(now)

	s.mu.Lock()
	ts.lastFired = &now
	ts.nextDue = next
	ts.nextNominal = time.Time{}
	ts.state = StateIdle
	s.mu.Unlock()

	// Persist on a fresh context: completion must be durable even when the
	// run itself was cut short by shutdown.
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.MarkFired(persistCtx, ts.task.ID, ts.task.Schedule.Expr(), now); err != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues(ts.task.ID, "persist_state").Inc()
		s.logger.Error().Err(err).
			Str("task", ts.task.ID).
			Msg("failed to persist schedule state")
	}

	s.logger.Debug().
		Str("task", ts.task.ID).
		Time("next_due", next).
		Msg("task rescheduled")
}

// Tasks snapshots every registered task for the operational API, sorted
// by id.
func (s *Service) Tasks() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, ts := range s.tasks {
		status := TaskStatus{
			ID:        ts.task.ID,
			Operation: string(ts.task.Operation),
			State:     ts.state,
			Cron:      ts.task.Schedule.Expr(),
			LastFired: ts.lastFired,
		}
		if !ts.nextDue.IsZero() {
			due := ts.nextDue
			status.NextDue = &due
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
