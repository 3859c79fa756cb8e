// Package cleanup implements the per-schedule retention-enforcement
// loop: select candidates, validate each through the safety gates,
// delete, then record the outcome.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/backitup/backitup/internal/catalog"
	"github.com/backitup/backitup/internal/replicator"
	"github.com/backitup/backitup/internal/retention"
	"github.com/backitup/backitup/internal/safety"
)

// Outcome summarizes one schedule's cleanup pass.
type Outcome struct {
	Schedule  string
	Deleted   []string // artifact ids successfully deleted (all targeted destinations)
	Rejected  []string // artifact ids the safety validator rejected
	Failed    []string // artifact ids where a destination delete failed
	WouldDrop []string // artifact ids that would be deleted, in dryRun
}

// Orchestrator runs cleanup for one schedule at a time.
type Orchestrator struct {
	catalog   *catalog.Catalog
	validator *safety.Validator
	local     replicator.Replicator
	remote    replicator.Replicator
	logger    *slog.Logger
}

// New builds an Orchestrator. local and/or remote may be nil when
// that destination is disabled.
func New(cat *catalog.Catalog, validator *safety.Validator, local, remote replicator.Replicator, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{catalog: cat, validator: validator, local: local, remote: remote, logger: logger}
}

// Run enforces policy for one schedule. now is the reference time
// maxDays is evaluated against; dryRun performs selection and
// validation but no deletion.
func (o *Orchestrator) Run(ctx context.Context, schedule string, policy retention.Policy, now time.Time, dryRun bool) (Outcome, error) {
	out := Outcome{Schedule: schedule}

	records, err := o.catalog.ListActiveBySchedule(ctx, schedule)
	if err != nil {
		return out, fmt.Errorf("cleanup: list active: %w", err)
	}

	candidates := retention.Select(records, policy, now)

	for _, cand := range candidates {
		id := cand.Record.ArtifactID

		verdict, err := o.validator.Validate(ctx, id)
		if err != nil {
			return out, fmt.Errorf("cleanup: validate %s: %w", id, err)
		}
		if !verdict.Valid {
			out.Rejected = append(out.Rejected, id)
			o.logFailure(ctx, cand.Record, cand.Reason, verdict.Reason)
			continue
		}

		if dryRun {
			out.WouldDrop = append(out.WouldDrop, id)
			continue
		}

		if err := o.deleteArtifact(ctx, cand.Record, cand.Reason); err != nil {
			out.Failed = append(out.Failed, id)
			o.logger.ErrorContext(ctx, "cleanup delete failed", "artifact_id", id, "error", err)
			continue
		}
		out.Deleted = append(out.Deleted, id)
	}

	return out, nil
}

// deleteArtifact deletes every recorded, non-deleted destination for
// r and marks each deleted in the catalog. A per-destination failure
// aborts subsequent destinations for this candidate.
func (o *Orchestrator) deleteArtifact(ctx context.Context, r catalog.ArtifactRecord, reason string) error {
	if r.Local.IsRecorded() && r.Local.DeletedAt == nil {
		if err := o.deleteOne(ctx, o.local, r.ArtifactID, catalog.DestinationLocal, r.Local.Location, reason); err != nil {
			return err
		}
	}
	if r.Remote.IsRecorded() && r.Remote.DeletedAt == nil {
		if err := o.deleteOne(ctx, o.remote, r.ArtifactID, catalog.DestinationRemote, r.Remote.Key, reason); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) deleteOne(ctx context.Context, repl replicator.Replicator, artifactID string, which catalog.Destination, location, reason string) error {
	if repl == nil {
		return fmt.Errorf("cleanup: no replicator configured for destination %s", which)
	}

	if err := repl.Delete(ctx, location); err != nil {
		_ = o.catalog.LogDeletion(ctx, catalog.DeletionLogEntry{
			ArtifactID: artifactID,
			Targeted:   which,
			Reason:     reason,
			DeletedAt:  time.Now(),
			Success:    false,
			ErrorText:  err.Error(),
		})
		return fmt.Errorf("cleanup: delete %s: %w", which, err)
	}

	if err := o.catalog.MarkDeleted(ctx, artifactID, which); err != nil {
		return fmt.Errorf("cleanup: mark deleted %s: %w", which, err)
	}

	entry := catalog.DeletionLogEntry{
		ArtifactID: artifactID,
		Targeted:   which,
		Reason:     reason,
		DeletedAt:  time.Now(),
		Success:    true,
	}
	if which == catalog.DestinationLocal {
		entry.LocalValue = location
	} else {
		entry.RemoteValue = location
	}
	return o.catalog.LogDeletion(ctx, entry)
}

func (o *Orchestrator) logFailure(ctx context.Context, r catalog.ArtifactRecord, reason, rejectReason string) {
	_ = o.catalog.LogDeletion(ctx, catalog.DeletionLogEntry{
		ArtifactID: r.ArtifactID,
		Targeted:   catalog.DestinationBoth,
		Reason:     reason,
		DeletedAt:  time.Now(),
		Success:    false,
		ErrorText:  rejectReason,
	})
}
