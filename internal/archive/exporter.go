/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_sync/internal/catalog"
	"github.com/friendsincode/skuld_sync/internal/events"
	"github.com/friendsincode/skuld_sync/internal/reconciler"
	"github.com/friendsincode/skuld_sync/internal/snapshot"
	"github.com/friendsincode/skuld_sync/internal/telemetry"
)

// Document is the JSON envelope one export produces.
type Document struct {
	Instance   string     `json:"instance"`
	Kind       string     `json:"kind"`
	ExportedAt time.Time  `json:"exported_at"`
	Items      []itemJSON `json:"items"`
}

type itemJSON struct {
	ExternalID     int64    `json:"external_id"`
	Title          string   `json:"title"`
	Year           int      `json:"year,omitempty"`
	QualityProfile string   `json:"quality_profile,omitempty"`
	RootFolder     string   `json:"root_folder,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// Exporter writes a snapshot export after every successful backup.
type Exporter struct {
	store     Store
	snapshots *snapshot.Store
	instances map[string]catalog.Instance
	bus       *events.Bus
	backend   string
	logger    zerolog.Logger
}

// NewExporter wires the exporter to a backend. backend is only a metric
// label ("fs" or "s3").
func NewExporter(store Store, snapshots *snapshot.Store, instances []catalog.Instance, bus *events.Bus, backend string, logger zerolog.Logger) *Exporter {
	byName := make(map[string]catalog.Instance, len(instances))
	for _, inst := range instances {
		byName[inst.Name] = inst
	}
	return &Exporter{
		store:     store,
		snapshots: snapshots,
		instances: byName,
		bus:       bus,
		backend:   backend,
		logger:    logger.With().Str("component", "archive").Logger(),
	}
}

// Start exports after each successful backup until ctx ends.
func (e *Exporter) Start(ctx context.Context) {
	completed := e.bus.Subscribe(events.EventTaskCompleted)
	defer e.bus.Unsubscribe(events.EventTaskCompleted, completed)

	e.logger.Info().Str("backend", e.backend).Msg("archive exporter started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("archive exporter stopping")
			return

		case payload := <-completed:
			outcome, ok := payload["outcome"].(reconciler.Outcome)
			if !ok {
				continue
			}
			if outcome.Operation != reconciler.OperationBackup || !outcome.Success {
				continue
			}
			if _, err := e.Export(ctx, outcome.Target); err != nil {
				e.logger.Error().Err(err).
					Str("instance", outcome.Target).
					Msg("snapshot export failed")
			}
		}
	}
}

// Export writes the current snapshot of the named instance and returns
// the object key.
func (e *Exporter) Export(ctx context.Context, instanceName string) (string, error) {
	inst, ok := e.instances[instanceName]
	if !ok {
		return "", fmt.Errorf("unknown instance %q", instanceName)
	}

	items, err := e.snapshots.Load(ctx, inst.Name, inst.MediaKind())
	if err != nil {
		telemetry.ArchiveExportsTotal.WithLabelValues(e.backend, "failure").Inc()
		return "", err
	}

	now := time.Now().UTC()
	doc := Document{
		Instance:   inst.Name,
		Kind:       string(inst.MediaKind()),
		ExportedAt: now,
		Items:      make([]itemJSON, 0, len(items)),
	}
	for _, item := range items {
		doc.Items = append(doc.Items, itemJSON{
			ExternalID:     item.ExternalID,
			Title:          item.Title,
			Year:           item.Year,
			QualityProfile: item.QualityProfile,
			RootFolder:     item.RootFolder,
			Tags:           item.Tags,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		telemetry.ArchiveExportsTotal.WithLabelValues(e.backend, "failure").Inc()
		return "", fmt.Errorf("encode export: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s.json", inst.Name, inst.MediaKind(), now.Format("20060102T150405Z"))
	if err := e.store.Put(ctx, key, data); err != nil {
		telemetry.ArchiveExportsTotal.WithLabelValues(e.backend, "failure").Inc()
		return "", err
	}

	telemetry.ArchiveExportsTotal.WithLabelValues(e.backend, "success").Inc()
	e.logger.Info().
		Str("instance", inst.Name).
		Str("key", key).
		Int("items", len(doc.Items)).
		Msg("snapshot exported")

	e.bus.Publish(events.EventArchiveExported, events.Payload{
		"instance": inst.Name,
		"key":      key,
		"items":    len(doc.Items),
	})
	return key, nil
}
