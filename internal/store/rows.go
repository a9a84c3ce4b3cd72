package store

import "time"

// TimelineRow is the persisted row for a Timeline.
type TimelineRow struct {
	ID          string
	TimeCreated time.Time
}

// SnapshotRow is the persisted row for a Snapshot.
type SnapshotRow struct {
	ID          string
	TimelineID  string
	Revision    int64
	TimeCreated time.Time
	Name        *string
	Description string
	Pinned      bool
}

// VersionRow is the persisted row for a Version.
type VersionRow struct {
	ID               string
	SnapshotID       string
	Path             string
	LastModifiedTime time.Time
	Permissions      *int64 // nil when the filesystem reported none
	Size             int64
	Checksum         string
}

// BlockRow is the persisted row for a Block.
type BlockRow struct {
	VersionID string
	Index     int64
	Checksum  string
}

// BlobRow is the persisted row for a BlobRecord.
type BlobRow struct {
	Checksum string
	Size     int64
}

// CleanupPolicyRow is the persisted row for a CleanupPolicy.
type CleanupPolicyRow struct {
	ID          string
	MinInterval int64 // nanoseconds, math.MaxInt64 = infinite
	TimeFrame   int64 // nanoseconds, math.MaxInt64 = infinite
	MaxVersions int64
	Description string
}
