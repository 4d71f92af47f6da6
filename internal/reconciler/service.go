/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package reconciler executes backup, sync and restore operations: it
// fetches catalogs through the server adapters, classifies items with the
// diff engine and applies the resulting changes, tolerating partial
// failure. Operations against the same instance are serialized; different
// instances run concurrently.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_sync/internal/arr"
	"github.com/friendsincode/skuld_sync/internal/catalog"
	"github.com/friendsincode/skuld_sync/internal/diff"
	"github.com/friendsincode/skuld_sync/internal/events"
	"github.com/friendsincode/skuld_sync/internal/snapshot"
	"github.com/friendsincode/skuld_sync/internal/telemetry"
)

// Operation names the kind of reconciliation a task performs.
type Operation string

const (
	OperationBackup  Operation = "backup"
	OperationSync    Operation = "sync"
	OperationRestore Operation = "restore"
)

// Counts are the exact item-level results of one operation. They are
// reported whether or not the operation succeeded overall.
type Counts struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Skipped  int `json:"skipped"`
	Current  int `json:"current"`
	Previous int `json:"previous"`
}

// Outcome is the structured record of one operation. Every run produces
// exactly one, success or not, so downstream logging and run history never
// miss a count-bearing record.
type Outcome struct {
	TaskID    string        `json:"task_id"`
	Operation Operation     `json:"operation"`
	Source    string        `json:"source"`
	Target    string        `json:"target"`
	Success   bool          `json:"success"`
	Counts    Counts        `json:"counts"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Instances returns the distinct instance names this outcome touched.
func (o Outcome) Instances() []string {
	if o.Source == o.Target {
		return []string{o.Target}
	}
	return []string{o.Source, o.Target}
}

// ClientFactory builds the server adapter for an instance. Injected so
// tests can substitute fakes.
type ClientFactory func(inst catalog.Instance) (arr.Client, error)

// releasePushDelay paces restore-side release grabs so the destination
// server is not hammered.
const releasePushDelay = 500 * time.Millisecond

// Service orchestrates reconciliation operations.
type Service struct {
	snapshots *snapshot.Store
	bus       *events.Bus
	gate      *Gate
	clients   ClientFactory
	logger    zerolog.Logger
	pushDelay time.Duration
}

// NewService creates a reconciler. A nil factory uses the HTTP adapters.
func NewService(snapshots *snapshot.Store, bus *events.Bus, clients ClientFactory, logger zerolog.Logger) *Service {
	componentLogger := logger.With().Str("component", "reconciler").Logger()
	if clients == nil {
		clients = func(inst catalog.Instance) (arr.Client, error) {
			return arr.NewClient(inst, componentLogger)
		}
	}
	return &Service{
		snapshots: snapshots,
		bus:       bus,
		gate:      NewGate(),
		clients:   clients,
		logger:    componentLogger,
		pushDelay: releasePushDelay,
	}
}

// Gate exposes the per-instance serialization gate.
func (s *Service) Gate() *Gate { return s.gate }

// Backup captures the instance's live catalog into the snapshot store.
// An empty catalog wipes the stored snapshot; a fetch error leaves it
// untouched. When the instance opts in, grab/import history is captured
// alongside the items; history errors degrade the backup but do not fail
// it.
func (s *Service) Backup(ctx context.Context, taskID string, inst catalog.Instance) Outcome {
	out := s.begin(taskID, OperationBackup, inst.Name, inst.Name)

	if !s.gate.TryAcquire(inst.Name) {
		return s.finish(out, ErrInstanceBusy)
	}
	defer s.gate.Release(inst.Name)

	client, err := s.clients(inst)
	if err != nil {
		return s.finish(out, err)
	}

	items, err := client.FetchCatalog(ctx)
	if err != nil {
		return s.finish(out, fmt.Errorf("fetch catalog: %w", err))
	}

	counts, err := s.snapshots.Apply(ctx, inst.Name, inst.MediaKind(), items)
	if err != nil {
		return s.finish(out, err)
	}
	out.Counts = Counts{
		Added:    counts.Added,
		Removed:  counts.Removed,
		Current:  counts.Current,
		Previous: counts.Previous,
	}

	if inst.Backup.IncludeReleases {
		captured, failures := s.backupReleases(ctx, client, inst, items)
		if failures > 0 {
			s.logger.Warn().
				Str("instance", inst.Name).
				Int("failures", failures).
				Msg("release history backup incomplete")
		}
		s.logger.Info().
			Str("instance", inst.Name).
			Int("captured", captured).
			Msg("release history captured")
	}

	return s.finish(out, nil)
}

// Sync makes the child's catalog mirror the parent's, subject to the
// child's filters. The parent is never mutated. A parent fetch that yields
// zero items is treated as a failure rather than a wipe signal: an empty
// response is indistinguishable from a half-dead server, and destroying
// the child's catalog over it is not recoverable.
func (s *Service) Sync(ctx context.Context, taskID string, parent, child catalog.Instance) Outcome {
	out := s.begin(taskID, OperationSync, parent.Name, child.Name)

	if parent.Kind != child.Kind {
		return s.finish(out, fmt.Errorf("cannot sync %s catalog into %s instance", parent.Kind, child.Kind))
	}

	if !s.gate.TryAcquire(child.Name) {
		return s.finish(out, ErrInstanceBusy)
	}
	defer s.gate.Release(child.Name)

	parentClient, err := s.clients(parent)
	if err != nil {
		return s.finish(out, err)
	}
	childClient, err := s.clients(child)
	if err != nil {
		return s.finish(out, err)
	}

	sourceItems, err := parentClient.FetchCatalog(ctx)
	if err != nil {
		return s.finish(out, fmt.Errorf("fetch parent catalog: %w", err))
	}
	if len(sourceItems) == 0 {
		return s.finish(out, errors.New("parent returned an empty catalog, refusing to clear the child"))
	}

	destItems, err := childClient.FetchCatalog(ctx)
	if err != nil {
		return s.finish(out, fmt.Errorf("fetch child catalog: %w", err))
	}

	counts, applyErr := s.apply(ctx, childClient, sourceItems, destItems, child.Filters)
	out.Counts = counts
	return s.finish(out, applyErr)
}

// Restore replays a stored snapshot onto the destination's live catalog,
// subject to the destination's filters. The snapshot may have been
// captured from a different instance than the one being restored to. A
// missing snapshot is a failure with zero side effects.
func (s *Service) Restore(ctx context.Context, taskID, backupName string, dest catalog.Instance) Outcome {
	out := s.begin(taskID, OperationRestore, backupName, dest.Name)

	if !s.gate.TryAcquire(dest.Name) {
		return s.finish(out, ErrInstanceBusy)
	}
	defer s.gate.Release(dest.Name)

	stored, err := s.snapshots.Load(ctx, backupName, dest.MediaKind())
	if err != nil {
		return s.finish(out, err)
	}
	if len(stored) == 0 {
		return s.finish(out, fmt.Errorf("no %s snapshot stored for %s", dest.MediaKind(), backupName))
	}

	client, err := s.clients(dest)
	if err != nil {
		return s.finish(out, err)
	}

	destItems, err := client.FetchCatalog(ctx)
	if err != nil {
		return s.finish(out, fmt.Errorf("fetch destination catalog: %w", err))
	}

	counts, applyErr := s.apply(ctx, client, stored, destItems, dest.Filters)
	out.Counts = counts
	return s.finish(out, applyErr)
}

// apply pushes a diff result onto the destination. Creation defaults are
// resolved before any mutation; without them the whole operation fails
// with zero side effects. Item-level errors are accumulated and reported
// once at the end so one bad item never aborts the batch. Counts reflect
// what was actually applied, not what was classified.
func (s *Service) apply(ctx context.Context, client arr.Client, source, dest []catalog.Item, filters *catalog.FilterSet) (Counts, error) {
	inst := client.Instance()

	defaults, err := client.ServerDefaults(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("resolve destination defaults: %w", err)
	}

	result := diff.Reconcile(source, dest, filters)
	counts := Counts{Skipped: result.Skipped}

	var failed int
	for _, item := range result.ToAdd {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		err := client.CreateItem(ctx, item, defaults)
		switch {
		case err == nil:
			counts.Added++
			s.logger.Debug().
				Str("instance", inst.Name).
				Str("title", item.Title).
				Int64("external_id", item.ExternalID).
				Msg("item added")
		case errors.Is(err, arr.ErrConflict):
			// Already present in the destination database even though the
			// listing did not show it (soft-deleted records do this). Not
			// missing, so not a failure and not an addition.
			s.logger.Info().
				Str("instance", inst.Name).
				Str("title", item.Title).
				Int64("external_id", item.ExternalID).
				Msg("item already in destination database, skipping")
		default:
			failed++
			s.logger.Error().Err(err).
				Str("instance", inst.Name).
				Str("title", item.Title).
				Int64("external_id", item.ExternalID).
				Msg("create failed")
		}
	}

	for _, item := range result.ToRemove {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		if item.InternalID == 0 {
			s.logger.Warn().
				Str("instance", inst.Name).
				Str("title", item.Title).
				Int64("external_id", item.ExternalID).
				Msg("cannot remove item without an internal id")
			continue
		}
		if err := client.DeleteItem(ctx, item.InternalID); err != nil {
			failed++
			s.logger.Error().Err(err).
				Str("instance", inst.Name).
				Str("title", item.Title).
				Int64("internal_id", item.InternalID).
				Msg("delete failed")
			continue
		}
		counts.Removed++
		s.logger.Debug().
			Str("instance", inst.Name).
			Str("title", item.Title).
			Int64("external_id", item.ExternalID).
			Msg("item removed")
	}

	if failed > 0 {
		return counts, fmt.Errorf("%d items failed to apply", failed)
	}
	return counts, nil
}

func (s *Service) begin(taskID string, op Operation, source, target string) Outcome {
	out := Outcome{
		TaskID:    taskID,
		Operation: op,
		Source:    source,
		Target:    target,
		StartedAt: time.Now().UTC(),
	}
	s.bus.Publish(events.EventTaskStarted, events.Payload{
		"task_id":   taskID,
		"operation": string(op),
		"source":    source,
		"target":    target,
	})
	return out
}

func (s *Service) finish(out Outcome, err error) Outcome {
	out.Duration = time.Since(out.StartedAt)
	out.Success = err == nil
	if err != nil {
		out.Error = err.Error()
	}

	op := string(out.Operation)
	outcome := "success"
	if !out.Success {
		outcome = "failure"
	}
	telemetry.TaskRunsTotal.WithLabelValues(op, outcome).Inc()
	telemetry.TaskDurationSeconds.WithLabelValues(op).Observe(out.Duration.Seconds())
	telemetry.ItemsAddedTotal.WithLabelValues(op).Add(float64(out.Counts.Added))
	telemetry.ItemsRemovedTotal.WithLabelValues(op).Add(float64(out.Counts.Removed))
	telemetry.ItemsSkippedTotal.WithLabelValues(op).Add(float64(out.Counts.Skipped))

	event := s.logger.Info()
	if !out.Success {
		event = s.logger.Error()
	}
	event.
		Str("task_id", out.TaskID).
		Str("operation", op).
		Str("source", out.Source).
		Str("target", out.Target).
		Bool("success", out.Success).
		Int("added", out.Counts.Added).
		Int("removed", out.Counts.Removed).
		Int("skipped", out.Counts.Skipped).
		Dur("duration", out.Duration).
		Str("error", out.Error).
		Msg("operation finished")

	s.bus.Publish(events.EventTaskCompleted, events.Payload{"outcome": out})
	return out
}
