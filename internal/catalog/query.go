package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// timeLayout is fixed-width so the stored strings sort the same way
// the instants do; RFC3339Nano strips trailing zeros, which would make
// ORDER BY created_at misorder sub-second neighbors.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Insert stores record and returns the stored copy. It is idempotent
// on ArtifactID: a second Insert for the same id returns the record
// already on file instead of erroring.
func (c *Catalog) Insert(ctx context.Context, r ArtifactRecord) (ArtifactRecord, error) {
	// Insert strictly precedes any destination save, so a record may
	// be inserted with every location still
	// null; the "at least one destination" invariant is a
	// property of a completed artifact, which the backup orchestrator
	// is responsible for upholding by always populating at least one
	// destination before it reports success.
	if r.ArtifactID == "" {
		return ArtifactRecord{}, fmt.Errorf("catalog: insert: artifact id is required")
	}

	if existing, err := c.Get(ctx, r.ArtifactID); err == nil {
		return existing, nil
	} else if err != ErrNotFound {
		return ArtifactRecord{}, err
	}

	sourcePaths, err := encodeSourcePaths(r.SourcePaths)
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("catalog: insert: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = StatusActive
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO backups (
			artifact_id, schedule, archive_filename, archive_size_bytes, checksum,
			files_count, source_paths, created_at, status, kind, volume_name,
			volume_was_in_use, local_present, local_location, local_deleted_at,
			remote_present, remote_bucket, remote_key, remote_deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ArtifactID, r.Schedule, r.ArchiveFilename, r.ArchiveSizeBytes, r.Checksum,
		r.FilesCount, sourcePaths, r.CreatedAt.UTC().Format(timeLayout), string(r.Status), string(r.Kind),
		nullableString(r.VolumeName), nullableBoolPtr(r.Kind == KindVolume, r.VolumeWasInUse),
		boolToInt(r.Local.Present), nullableString(r.Local.Location), formatTimePtr(r.Local.DeletedAt),
		boolToInt(r.Remote.Present), nullableString(r.Remote.Bucket), nullableString(r.Remote.Key), formatTimePtr(r.Remote.DeletedAt),
	)
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("catalog: insert: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("catalog: insert: reading row id: %w", err)
	}
	r.RowID = rowID
	return r, nil
}

// Get returns the record for artifactId, or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, artifactID string) (ArtifactRecord, error) {
	row := c.db.QueryRowContext(ctx, selectColumns+` WHERE artifact_id = ?`, artifactID)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return ArtifactRecord{}, ErrNotFound
	}
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("catalog: get: %w", err)
	}
	return r, nil
}

// ListActiveBySchedule returns active artifacts for a schedule, newest
// first.
func (c *Catalog) ListActiveBySchedule(ctx context.Context, schedule string) ([]ArtifactRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		selectColumns+` WHERE status = ? AND schedule = ? ORDER BY created_at DESC`,
		string(StatusActive), schedule,
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: list active by schedule: %w", err)
	}
	return scanRecords(rows)
}

// ListActiveByKind returns active artifacts of one kind, newest first.
func (c *Catalog) ListActiveByKind(ctx context.Context, kind Kind) ([]ArtifactRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		selectColumns+` WHERE status = ? AND kind = ? ORDER BY created_at DESC`,
		string(StatusActive), string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: list active by kind: %w", err)
	}
	return scanRecords(rows)
}

// ListAllActive returns every active artifact, newest first.
func (c *Catalog) ListAllActive(ctx context.Context) ([]ArtifactRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		selectColumns+` WHERE status = ? ORDER BY created_at DESC`,
		string(StatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: list all active: %w", err)
	}
	return scanRecords(rows)
}

// UpdateLocal sets the local destination's location for artifactId.
// Only the backup orchestrator calls this.
func (c *Catalog) UpdateLocal(ctx context.Context, artifactID, path string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE backups SET local_present = 1, local_location = ? WHERE artifact_id = ?`,
		path, artifactID,
	)
	return checkUpdated(res, err, artifactID, "update local")
}

// UpdateRemote sets the remote destination's bucket/key for
// artifactId. Only the backup orchestrator calls this.
func (c *Catalog) UpdateRemote(ctx context.Context, artifactID, bucket, key string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE backups SET remote_present = 1, remote_bucket = ?, remote_key = ? WHERE artifact_id = ?`,
		bucket, key, artifactID,
	)
	return checkUpdated(res, err, artifactID, "update remote")
}

// MarkDeleted stamps deleted-at for "local", "remote", or "both", then
// transitions status to deleted once every destination the record ever
// had is stamped. Only the cleanup orchestrator calls this.
func (c *Catalog) MarkDeleted(ctx context.Context, artifactID string, which Destination) error {
	now := time.Now().UTC().Format(timeLayout)

	var query string
	switch which {
	case DestinationLocal:
		query = `UPDATE backups SET local_deleted_at = ?, local_present = 0 WHERE artifact_id = ?`
	case DestinationRemote:
		query = `UPDATE backups SET remote_deleted_at = ?, remote_present = 0 WHERE artifact_id = ?`
	case DestinationBoth:
		query = `UPDATE backups SET local_deleted_at = ?, local_present = 0, remote_deleted_at = ?, remote_present = 0 WHERE artifact_id = ?`
	default:
		return fmt.Errorf("catalog: mark deleted: unknown destination %q", which)
	}

	var res sql.Result
	var err error
	if which == DestinationBoth {
		res, err = c.db.ExecContext(ctx, query, now, now, artifactID)
	} else {
		res, err = c.db.ExecContext(ctx, query, now, artifactID)
	}
	if err := checkUpdated(res, err, artifactID, "mark deleted"); err != nil {
		return err
	}

	return c.maybeTransitionToDeleted(ctx, artifactID)
}

// maybeTransitionToDeleted flips status to "deleted" once every
// destination the record ever had is stamped with a deletion time (or
// was never present).
func (c *Catalog) maybeTransitionToDeleted(ctx context.Context, artifactID string) error {
	r, err := c.Get(ctx, artifactID)
	if err != nil {
		return err
	}

	localDone := !r.Local.IsRecorded() || r.Local.DeletedAt != nil
	remoteDone := !r.Remote.IsRecorded() || r.Remote.DeletedAt != nil
	if !localDone || !remoteDone {
		return nil
	}

	_, err = c.db.ExecContext(ctx,
		`UPDATE backups SET status = ? WHERE artifact_id = ?`,
		string(StatusDeleted), artifactID,
	)
	if err != nil {
		return fmt.Errorf("catalog: transitioning %s to deleted: %w", artifactID, err)
	}
	return nil
}

// LogDeletion appends an entry to the deletion log. Append-only: never
// updated or removed once written.
func (c *Catalog) LogDeletion(ctx context.Context, e DeletionLogEntry) error {
	if e.DeletedAt.IsZero() {
		e.DeletedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO deletion_log (
			artifact_id, targeted, local_value, remote_value, reason, deleted_at, success, error_text
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ArtifactID, string(e.Targeted), nullableString(e.LocalValue), nullableString(e.RemoteValue),
		e.Reason, e.DeletedAt.Format(timeLayout), boolToInt(e.Success), nullableString(e.ErrorText),
	)
	if err != nil {
		return fmt.Errorf("catalog: logging deletion for %s: %w", e.ArtifactID, err)
	}
	return nil
}

func checkUpdated(res sql.Result, err error, artifactID, op string) error {
	if err != nil {
		return fmt.Errorf("catalog: %s %s: %w", op, artifactID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: %s %s: reading rows affected: %w", op, artifactID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `
	SELECT
		id, artifact_id, schedule, archive_filename, archive_size_bytes, checksum,
		files_count, source_paths, created_at, status, kind, volume_name,
		volume_was_in_use, local_present, local_location, local_deleted_at,
		remote_present, remote_bucket, remote_key, remote_deleted_at
	FROM backups`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (ArtifactRecord, error) {
	var r ArtifactRecord
	var status, kind, createdAt string
	var sourcePaths, volumeName, localLocation, localDeletedAt sql.NullString
	var remoteBucket, remoteKey, remoteDeletedAt sql.NullString
	var volumeWasInUse sql.NullBool
	var localPresent, remotePresent int

	err := row.Scan(
		&r.RowID, &r.ArtifactID, &r.Schedule, &r.ArchiveFilename, &r.ArchiveSizeBytes, &r.Checksum,
		&r.FilesCount, &sourcePaths, &createdAt, &status, &kind, &volumeName,
		&volumeWasInUse, &localPresent, &localLocation, &localDeletedAt,
		&remotePresent, &remoteBucket, &remoteKey, &remoteDeletedAt,
	)
	if err != nil {
		return ArtifactRecord{}, err
	}

	r.Status = Status(status)
	r.Kind = Kind(kind)
	r.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	if sourcePaths.Valid {
		if err := json.Unmarshal([]byte(sourcePaths.String), &r.SourcePaths); err != nil {
			return ArtifactRecord{}, fmt.Errorf("decoding source_paths: %w", err)
		}
	}
	if volumeName.Valid {
		r.VolumeName = volumeName.String
	}
	if volumeWasInUse.Valid {
		r.VolumeWasInUse = volumeWasInUse.Bool
	}

	r.Local = DestinationState{
		Present:   localPresent != 0,
		Location:  localLocation.String,
		DeletedAt: parseTimePtr(localDeletedAt),
	}
	r.Remote = RemoteDestinationState{
		Present:   remotePresent != 0,
		Bucket:    remoteBucket.String,
		Key:       remoteKey.String,
		DeletedAt: parseTimePtr(remoteDeletedAt),
	}

	return r, nil
}

func scanRecords(rows *sql.Rows) ([]ArtifactRecord, error) {
	defer func() { _ = rows.Close() }()

	var out []ArtifactRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scanning row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterating rows: %w", err)
	}
	return out, nil
}

func encodeSourcePaths(paths []string) (any, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(paths)
	if err != nil {
		return nil, fmt.Errorf("encoding source_paths: %w", err)
	}
	return string(b), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBoolPtr(applicable bool, v bool) any {
	if !applicable {
		return nil
	}
	return boolToInt(v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}
