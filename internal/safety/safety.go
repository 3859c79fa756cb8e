// Package safety runs the seven-gate validation pipeline that guards
// every deletion Cleanup is the most dangerous
// operation in the system; each gate closes a distinct failure mode.
package safety

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/backitup/backitup/internal/archive"
	"github.com/backitup/backitup/internal/catalog"
	"github.com/backitup/backitup/internal/replicator"
)

// Verdict is the outcome of validating one candidate.
type Verdict struct {
	Valid    bool
	Reason   string // set when Valid is false: why the gate rejected
	Warnings []string
}

// Config carries the configured invariants the gates check against.
type Config struct {
	ArchivePrefix             string
	LocalRoot                 string
	RemotePrefix              string
	RemoteBucket              string
	VerifyChecksumBeforeDelete bool
}

// Validator runs the gates against a catalog and storage backends.
type Validator struct {
	catalog *catalog.Catalog
	local   replicator.Replicator
	remote  replicator.Replicator
	cfg     Config
}

// New builds a Validator. local and/or remote may be nil when that
// destination is disabled.
func New(cat *catalog.Catalog, local, remote replicator.Replicator, cfg Config) *Validator {
	return &Validator{catalog: cat, local: local, remote: remote, cfg: cfg}
}

// Validate runs all seven gates against the artifact identified by
// artifactID, in order, stopping at the first rejection.
func (v *Validator) Validate(ctx context.Context, artifactID string) (Verdict, error) {
	// Gate 1: re-fetch by id.
	r, err := v.catalog.Get(ctx, artifactID)
	if err != nil {
		if err == catalog.ErrNotFound {
			return Verdict{Valid: false, Reason: "not in catalog"}, nil
		}
		return Verdict{}, fmt.Errorf("safety: gate 1 fetch: %w", err)
	}

	var warnings []string

	// Gate 2: name convention.
	if reason, ok := checkNameConvention(r.ArchiveFilename, v.cfg.ArchivePrefix); !ok {
		return Verdict{Valid: false, Reason: reason}, nil
	}

	// Gate 3: local path containment.
	if r.Local.IsRecorded() && r.Local.DeletedAt == nil && r.Local.Location != "" {
		within, err := isPathWithinDir(r.Local.Location, v.cfg.LocalRoot)
		if err != nil {
			return Verdict{}, fmt.Errorf("safety: gate 3 canonicalize: %w", err)
		}
		if !within {
			return Verdict{Valid: false, Reason: "local location escapes configured root"}, nil
		}

		// Gate 4: local presence.
		present, err := v.localExists(ctx, r.Local.Location)
		if err != nil {
			return Verdict{}, fmt.Errorf("safety: gate 4 exists: %w", err)
		}
		if !present {
			warnings = append(warnings, "local artifact already missing")
		} else if v.cfg.VerifyChecksumBeforeDelete {
			// Gate 5: local checksum.
			ok, err := v.localChecksumMatches(r.Local.Location, r.Checksum)
			if err != nil {
				return Verdict{}, fmt.Errorf("safety: gate 5 checksum: %w", err)
			}
			if !ok {
				return Verdict{Valid: false, Reason: "local checksum does not match recorded value"}, nil
			}
		}
	}

	// Gate 6: remote prefix and bucket containment.
	if r.Remote.IsRecorded() && r.Remote.DeletedAt == nil && r.Remote.Key != "" {
		if r.Remote.Bucket != v.cfg.RemoteBucket {
			return Verdict{Valid: false, Reason: "remote bucket does not match configuration"}, nil
		}
		normalizedPrefix := strings.TrimRight(v.cfg.RemotePrefix, "/")
		if normalizedPrefix != "" && !strings.HasPrefix(r.Remote.Key, normalizedPrefix+"/") && r.Remote.Key != normalizedPrefix {
			return Verdict{Valid: false, Reason: "remote key does not begin with configured prefix"}, nil
		}

		// Gate 7: remote presence.
		if v.remote != nil {
			present, err := v.remote.Exists(ctx, r.Remote.Key)
			if err != nil {
				return Verdict{}, fmt.Errorf("safety: gate 7 exists: %w", err)
			}
			if !present {
				warnings = append(warnings, "remote artifact already missing")
			}
		}
	}

	return Verdict{Valid: true, Warnings: warnings}, nil
}

func (v *Validator) localExists(ctx context.Context, location string) (bool, error) {
	if v.local != nil {
		return v.local.Exists(ctx, location)
	}
	_, err := os.Stat(location)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (v *Validator) localChecksumMatches(location, want string) (bool, error) {
	f, err := os.Open(location)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == want, nil
}

func checkNameConvention(filename, prefix string) (string, bool) {
	switch {
	case archive.IsFileName(filename):
		info, err := archive.ParseFileName(filename)
		if err != nil || info.Prefix != prefix {
			return "archive name prefix does not match configuration", false
		}
		return "", true
	case archive.IsVolumeName(filename):
		info, err := archive.ParseVolumeName(filename)
		if err != nil || info.Prefix != prefix {
			return "archive name prefix does not match configuration", false
		}
		return "", true
	default:
		return "archive filename does not match any known convention", false
	}
}

// isPathWithinDir reports whether path, once canonicalized, is equal
// to root or a strict descendant of it. It is false whenever the
// resolved path merely shares root as a string prefix without a path
// separator boundary (e.g. root+"-suffix"+tail) — the prefix-collision
// guard.
func isPathWithinDir(path, root string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false, err
	}

	cleanPath := filepath.Clean(absPath)
	cleanRoot := filepath.Clean(absRoot)

	if cleanPath == cleanRoot {
		return true, nil
	}
	return strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator)), nil
}
