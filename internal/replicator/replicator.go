// Package replicator carries backup artifacts to their storage
// destinations: a local filesystem root and/or a remote S3-compatible
// bucket
package replicator

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Checksum when the addressed object does
// not exist. Delete treats a missing object as success instead.
var ErrNotFound = errors.New("replicator: object not found")

// ErrChecksumMismatch is returned by Save when a destination's
// post-write verification disagrees with the source checksum.
var ErrChecksumMismatch = errors.New("replicator: checksum mismatch after save")

// Replicator is the single contract both the local and remote
// storage backends implement.
type Replicator interface {
	// Save copies the file at sourcePath to this destination under
	// archiveName, verifies the write, and returns the resulting
	// location and checksum. sourceGrouping is the backup's
	// source-grouping string (or volumes/<name> for volume kind); the
	// local backend ignores it, the remote backend folds it into the
	// object key.
	Save(ctx context.Context, sourcePath, archiveName, sourceGrouping string) (location, checksum string, err error)

	// Delete removes the object at location. A missing object is not
	// an error.
	Delete(ctx context.Context, location string) error

	// Exists reports whether an object lives at location.
	Exists(ctx context.Context, location string) (bool, error)

	// Checksum returns the hex checksum of the object at location, or
	// "" with ok=false when the backend doesn't expose one.
	Checksum(ctx context.Context, location string) (sum string, ok bool, err error)
}
