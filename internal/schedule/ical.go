/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Calendar renders planned task occurrences as an iCal feed, so operators
// can subscribe to the backup and sync schedule from a calendar client.
type Calendar struct {
	// Name becomes the calendar's display name.
	Name string

	// Horizon bounds how far ahead schedules are expanded. Zero means
	// seven days.
	Horizon time.Duration

	// Limit caps occurrences per task. Zero means 100; a dense cron like
	// "* * * * *" would otherwise flood the feed.
	Limit int
}

// CalendarTask is one recurring task to expand into the feed.
type CalendarTask struct {
	ID        string
	Operation string
	Schedule  *Schedule
}

// Render expands every task's schedule from now to the horizon and writes
// the occurrences as VEVENT blocks.
func (c Calendar) Render(tasks []CalendarTask, now time.Time) []byte {
	horizon := c.Horizon
	if horizon <= 0 {
		horizon = 7 * 24 * time.Hour
	}
	limit := c.Limit
	if limit <= 0 {
		limit = 100
	}
	until := now.Add(horizon)

	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:-//Skuld Sync//Task Schedule//EN\r\n")
	buf.WriteString(fmt.Sprintf("X-WR-CALNAME:%s\r\n", escapeICalText(c.Name)))
	buf.WriteString("CALSCALE:GREGORIAN\r\n")
	buf.WriteString("METHOD:PUBLISH\r\n")

	stamp := formatICalTime(now)
	for _, task := range tasks {
		if task.Schedule == nil {
			continue
		}
		at := task.Schedule.Next(now)
		for i := 0; i < limit && !at.IsZero() && at.Before(until); i++ {
			buf.WriteString("BEGIN:VEVENT\r\n")
			buf.WriteString(fmt.Sprintf("UID:%s-%s@skuldsync\r\n", slugify(task.ID), formatICalTime(at)))
			buf.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", stamp))
			buf.WriteString(fmt.Sprintf("DTSTART:%s\r\n", formatICalTime(at)))
			buf.WriteString(fmt.Sprintf("DTEND:%s\r\n", formatICalTime(at.Add(time.Minute))))
			buf.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICalText(task.ID)))
			buf.WriteString(fmt.Sprintf("DESCRIPTION:%s run\\, cron %s\r\n",
				escapeICalText(task.Operation), escapeICalText(task.Schedule.Expr())))
			buf.WriteString("END:VEVENT\r\n")

			at = task.Schedule.Next(at)
		}
	}

	buf.WriteString("END:VCALENDAR\r\n")
	return buf.Bytes()
}

// Filename returns a dated name for serving the feed as a download.
func (c Calendar) Filename(now time.Time) string {
	return fmt.Sprintf("%s-schedule-%s.ics", slugify(c.Name), now.UTC().Format("2006-01-02"))
}

func formatICalTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func escapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, ":", "-")
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
