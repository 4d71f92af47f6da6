/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule wraps cron expression parsing and due-time arithmetic
// for the task scheduler.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a parsed cron expression.
type Schedule struct {
	expr string
	spec cron.Schedule
}

// Parse validates a five-field cron expression and returns its schedule.
// Descriptors such as @daily are accepted too.
func Parse(expr string) (*Schedule, error) {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &Schedule{expr: expr, spec: spec}, nil
}

// MustParse parses expr and panics on error. For tests and literals only.
func MustParse(expr string) *Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Expr returns the original expression text.
func (s *Schedule) Expr() string {
	return s.expr
}

// Next returns the first activation strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.spec.Next(t)
}

// IsDue reports whether the schedule should fire at now. A task that has
// never fired is immediately due; otherwise it is due once now reaches the
// first activation after the last firing.
func (s *Schedule) IsDue(lastFired *time.Time, now time.Time) bool {
	if lastFired == nil {
		return true
	}
	return !now.Before(s.spec.Next(*lastFired))
}
