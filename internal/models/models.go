package models

import (
	"strings"
	"time"
)

// MediaItem is one snapshot row: a catalog entry as last captured from an
// instance. The (instance, kind, external id) triple is the identity a
// backup replaces by; internal ids are stored so a restore can issue
// deletes but are never compared across instances.
type MediaItem struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	InstanceName   string `gorm:"size:128;uniqueIndex:idx_media_identity;index"`
	MediaKind      string `gorm:"size:16;uniqueIndex:idx_media_identity"`
	ExternalID     int64  `gorm:"uniqueIndex:idx_media_identity"`
	InternalID     int64
	Title          string
	Year           int
	QualityProfile string   `gorm:"size:128"`
	RootFolder     string   `gorm:"size:255"`
	Tags           []string `gorm:"serializer:json"`
	CapturedAt     time.Time
}

// ReleaseEvent is one grab/import history record captured during a
// release backup. EventID is the originating server's history id and
// dedupes re-captures of the same event.
type ReleaseEvent struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	InstanceName   string `gorm:"size:128;uniqueIndex:idx_release_identity;index"`
	EventID        int64  `gorm:"uniqueIndex:idx_release_identity"`
	MediaKind      string `gorm:"size:16"`
	MediaID        int64  // internal movie or episode id the event belongs to
	ExternalID     int64
	EventType      string `gorm:"size:64;index"`
	SourceTitle    string
	Indexer        string `gorm:"size:128"`
	DownloadClient string `gorm:"size:128"`
	GUID           string `gorm:"size:512"`
	InfoHash       string `gorm:"size:128"`
	DownloadID     string `gorm:"size:128"`
	OccurredAt     time.Time
	CapturedAt     time.Time
}

// ScheduleState persists the last completion time of a recurring task so
// schedules survive restarts. A missing row means the task never ran.
type ScheduleState struct {
	TaskID    string `gorm:"size:255;primaryKey"`
	CronExpr  string `gorm:"size:64"`
	LastFired *time.Time
	UpdatedAt time.Time
}

// RunRecord is the durable outcome of one task execution, kept for the
// operational API and pruned beyond a configured retention. The json tags
// are the wire shape of /api/v1/runs.
type RunRecord struct {
	ID        string        `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID    string        `gorm:"size:255;index" json:"task_id"`
	Operation string        `gorm:"size:32;index" json:"operation"`
	Instances string        `gorm:"size:512" json:"instances"`
	Success   bool          `json:"success"`
	Added     int           `json:"added"`
	Removed   int           `json:"removed"`
	Skipped   int           `json:"skipped"`
	Current   int           `json:"current"`
	Previous  int           `json:"previous"`
	Error     string        `gorm:"type:text" json:"error,omitempty"`
	StartedAt time.Time     `gorm:"index" json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// InstanceList renders the comma-joined instance column.
func (r RunRecord) InstanceList() []string {
	if r.Instances == "" {
		return nil
	}
	return strings.Split(r.Instances, ",")
}
