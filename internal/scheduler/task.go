/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"time"

	"github.com/friendsincode/skuld_sync/internal/reconciler"
	"github.com/friendsincode/skuld_sync/internal/schedule"
)

// State is where a task sits in its lifecycle. Tasks cycle
// Idle -> Due -> Running -> Idle for as long as the process lives.
type State string

const (
	StateIdle    State = "idle"
	StateDue     State = "due"
	StateRunning State = "running"
)

// Runner executes one occurrence of a task and reports its outcome.
type Runner func(ctx context.Context) reconciler.Outcome

// Task is one registered recurring operation. Tasks are immutable after
// registration; all runtime state lives inside the scheduler.
type Task struct {
	ID        string
	Operation reconciler.Operation
	Schedule  *schedule.Schedule
	Run       Runner
}

// taskState is the scheduler-owned runtime state of one task, guarded by
// the service mutex.
type taskState struct {
	task      Task
	state     State
	lastFired *time.Time

	// nextDue is the next activation computed from the last completion.
	// Zero means the task never ran and is due immediately.
	nextDue time.Time

	// nextNominal tracks, while the task is running, the occurrence that
	// will be dropped if the run outlasts it. Advanced each time an
	// occurrence is dropped so every miss is counted once.
	nextNominal time.Time
}

func (ts *taskState) due(now time.Time) bool {
	if ts.nextDue.IsZero() {
		return true
	}
	return !now.Before(ts.nextDue)
}

// TaskStatus is the externally visible snapshot of one task.
type TaskStatus struct {
	ID        string     `json:"id"`
	Operation string     `json:"operation"`
	State     State      `json:"state"`
	Cron      string     `json:"cron"`
	LastFired *time.Time `json:"last_fired,omitempty"`
	NextDue   *time.Time `json:"next_due,omitempty"`
}
