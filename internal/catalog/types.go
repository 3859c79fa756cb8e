package catalog

import "time"

// Status is an artifact's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Kind distinguishes a file-collection artifact from a volume artifact.
type Kind string

const (
	KindFiles  Kind = "files"
	KindVolume Kind = "volume"
)

// Destination names one of the two possible storage backends. "Both"
// is accepted as a deletion-log target and by MarkDeleted, and is
// never stored on a DestinationState.
type Destination string

const (
	DestinationLocal  Destination = "local"
	DestinationRemote Destination = "remote"
	DestinationBoth   Destination = "both"
)

// DestinationState is the per-destination triple: whether the artifact is present there, its location, and when (if
// ever) it was deleted from that destination.
type DestinationState struct {
	Present   bool
	Location  string // local filesystem path
	DeletedAt *time.Time
}

// IsRecorded reports whether this destination was ever populated (i.e.
// the artifact had a location there at all, whether or not it has
// since been deleted).
func (d DestinationState) IsRecorded() bool {
	return d.Present || d.DeletedAt != nil
}

// ArtifactRecord is the catalog's primary entity.
type ArtifactRecord struct {
	// RowID is the catalog-assigned numeric identity. Zero until
	// Insert has stored the record.
	RowID int64
	// ArtifactID is the globally unique opaque external identifier.
	ArtifactID string

	Schedule         string
	ArchiveFilename  string
	ArchiveSizeBytes int64
	Checksum         string // SHA-256 hex
	FilesCount       int
	SourcePaths      []string
	CreatedAt        time.Time
	Status           Status
	Kind             Kind

	VolumeName     string // only set when Kind == KindVolume
	VolumeWasInUse bool

	Local  DestinationState
	Remote RemoteDestinationState
}

// RemoteDestinationState is the remote destination's triple, split into
// bucket and key so the safety validator's gate 6 (prefix and bucket
// containment) can check each independently.
type RemoteDestinationState struct {
	Present   bool
	Bucket    string
	Key       string
	DeletedAt *time.Time
}

// IsRecorded reports whether the remote destination was ever populated.
func (r RemoteDestinationState) IsRecorded() bool {
	return r.Present || r.DeletedAt != nil
}

// Location renders the bucket/key pair as one "bucket/key" display
// string. The deletion log and the replicator use the bare Key.
func (r RemoteDestinationState) Location() string {
	if r.Bucket == "" && r.Key == "" {
		return ""
	}
	return r.Bucket + "/" + r.Key
}

// DeletionLogEntry is one append-only audit row.
type DeletionLogEntry struct {
	RowID       int64
	ArtifactID  string
	Targeted    Destination
	LocalValue  string
	RemoteValue string
	Reason      string // "retention_count" | "retention_days" | "manual"
	DeletedAt   time.Time
	Success     bool
	ErrorText   string
}

// Reasons for a deletion-log entry
const (
	ReasonRetentionCount = "retention_count"
	ReasonRetentionDays  = "retention_days"
	ReasonManual         = "manual"
)
