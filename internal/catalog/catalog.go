/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog defines the domain model shared by the snapshot store,
// the diff engine and the reconciler: server instances, catalog items and
// filter rules.
package catalog

import "fmt"

// Kind identifies a supported catalog server implementation.
type Kind string

const (
	KindRadarr Kind = "radarr"
	KindSonarr Kind = "sonarr"
)

// ParseKind validates a configured server kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindRadarr, KindSonarr:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unsupported server kind %q", s)
	}
}

// MediaKind distinguishes the catalog contents of an instance.
type MediaKind string

const (
	MediaMovie  MediaKind = "movie"
	MediaSeries MediaKind = "series"
)

// MediaKind returns the media type managed by servers of this kind.
func (k Kind) MediaKind() MediaKind {
	if k == KindSonarr {
		return MediaSeries
	}
	return MediaMovie
}

// Item is one catalog entry. ExternalID is the cross-server identifier
// (TMDB for movies, TVDB for series) and is the only key items are
// reconciled by. InternalID is meaningful only inside the instance the
// item came from and is what delete calls are keyed by. An item with a
// zero ExternalID cannot take part in reconciliation.
type Item struct {
	ExternalID     int64
	InternalID     int64
	Title          string
	Year           int
	QualityProfile string
	RootFolder     string
	Tags           []string
}

// Instance is one configured catalog server. Instances are immutable
// once loaded; the scheduler and reconciler only ever read them.
type Instance struct {
	Name    string
	URL     string
	APIKey  string
	Kind    Kind
	Filters *FilterSet

	Backup BackupConfig
	Sync   *SyncConfig
}

// MediaKind returns the media type of this instance's catalog.
func (i Instance) MediaKind() MediaKind { return i.Kind.MediaKind() }

// BackupConfig is the per-instance snapshot schedule.
type BackupConfig struct {
	Enabled         bool
	Cron            string
	IncludeReleases bool
}

// SyncConfig marks an instance as a child mirroring a parent's catalog.
type SyncConfig struct {
	Parent string
	Cron   string
}
