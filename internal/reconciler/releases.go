/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/skuld_sync/internal/arr"
	"github.com/friendsincode/skuld_sync/internal/catalog"
	"github.com/friendsincode/skuld_sync/internal/models"
	"github.com/friendsincode/skuld_sync/internal/telemetry"
)

// ReleaseCounts summarizes one release restore pass.
type ReleaseCounts struct {
	Attempted int `json:"attempted"`
	Pushed    int `json:"pushed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// backupReleases captures grab/import history for every item in the
// snapshot. Returns the number of newly stored events and the number of
// items whose history could not be fetched.
func (s *Service) backupReleases(ctx context.Context, client arr.Client, inst catalog.Instance, items []catalog.Item) (int, int) {
	kind := inst.MediaKind()
	now := time.Now().UTC()

	var rows []models.ReleaseEvent
	var failures int
	for _, item := range items {
		if item.InternalID == 0 {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		history, err := client.FetchHistory(ctx, item.InternalID)
		if err != nil {
			failures++
			s.logger.Debug().Err(err).
				Str("instance", inst.Name).
				Str("title", item.Title).
				Int64("internal_id", item.InternalID).
				Msg("history fetch failed")
			continue
		}
		for _, h := range history {
			rows = append(rows, models.ReleaseEvent{
				InstanceName:   inst.Name,
				EventID:        h.EventID,
				MediaKind:      string(kind),
				MediaID:        h.MediaID,
				ExternalID:     item.ExternalID,
				EventType:      h.EventType,
				SourceTitle:    h.SourceTitle,
				Indexer:        h.Indexer,
				DownloadClient: h.DownloadClient,
				GUID:           h.GUID,
				InfoHash:       h.InfoHash,
				DownloadID:     h.DownloadID,
				OccurredAt:     h.OccurredAt,
				CapturedAt:     now,
			})
		}
	}

	captured, err := s.snapshots.InsertReleases(ctx, rows)
	if err != nil {
		s.logger.Error().Err(err).
			Str("instance", inst.Name).
			Msg("release history store failed")
		return 0, failures + 1
	}
	telemetry.ReleasesCapturedTotal.WithLabelValues(inst.Name).Add(float64(captured))
	return captured, failures
}

// RestoreReleases replays stored grab history against the destination:
// every event whose library item still exists and still has no file is
// pushed back to the server's release endpoint so the download is grabbed
// again. Events referencing indexers no longer configured are skipped.
// Pushes are paced to avoid hammering the destination.
func (s *Service) RestoreReleases(ctx context.Context, backupName string, dest catalog.Instance) (ReleaseCounts, error) {
	var counts ReleaseCounts

	if !s.gate.TryAcquire(dest.Name) {
		return counts, ErrInstanceBusy
	}
	defer s.gate.Release(dest.Name)

	records, err := s.snapshots.LoadReleases(ctx, backupName)
	if err != nil {
		return counts, err
	}
	if len(records) == 0 {
		return counts, fmt.Errorf("no release history stored for %s", backupName)
	}

	client, err := s.clients(dest)
	if err != nil {
		return counts, err
	}

	indexers, err := client.FetchIndexers(ctx)
	if err != nil {
		return counts, fmt.Errorf("fetch indexers: %w", err)
	}
	indexerIDs := make(map[string]int64, len(indexers))
	for _, idx := range indexers {
		indexerIDs[idx.Name] = idx.ID
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		counts.Attempted++

		if rec.GUID == "" || rec.Indexer == "" || rec.MediaID == 0 {
			counts.Skipped++
			continue
		}

		hasFile, err := client.HasFile(ctx, rec.MediaID)
		if errors.Is(err, arr.ErrNotFound) {
			// The library item itself is gone; nothing to attach a grab to.
			counts.Skipped++
			continue
		}
		if err != nil {
			counts.Errors++
			s.logger.Error().Err(err).
				Str("instance", dest.Name).
				Int64("media_id", rec.MediaID).
				Msg("library item lookup failed")
			continue
		}
		if hasFile {
			counts.Skipped++
			continue
		}

		indexerID, ok := indexerIDs[rec.Indexer]
		if !ok {
			counts.Skipped++
			s.logger.Debug().
				Str("instance", dest.Name).
				Str("indexer", rec.Indexer).
				Str("title", rec.SourceTitle).
				Msg("indexer no longer configured, skipping")
			continue
		}

		if err := client.PushRelease(ctx, rec.GUID, indexerID, rec.SourceTitle); err != nil {
			counts.Errors++
			s.logger.Error().Err(err).
				Str("instance", dest.Name).
				Str("title", rec.SourceTitle).
				Msg("release push failed")
		} else {
			counts.Pushed++
			telemetry.ReleasesPushedTotal.WithLabelValues(dest.Name).Inc()
			s.logger.Info().
				Str("instance", dest.Name).
				Str("title", rec.SourceTitle).
				Msg("release push triggered")
		}

		select {
		case <-ctx.Done():
			return counts, ctx.Err()
		case <-time.After(s.pushDelay):
		}
	}

	s.logger.Info().
		Str("instance", dest.Name).
		Int("attempted", counts.Attempted).
		Int("pushed", counts.Pushed).
		Int("skipped", counts.Skipped).
		Int("errors", counts.Errors).
		Msg("release restore finished")

	if counts.Errors > 0 {
		return counts, fmt.Errorf("%d release pushes failed", counts.Errors)
	}
	return counts, nil
}
