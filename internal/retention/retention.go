// Package retention selects which active artifacts a schedule's
// retention policy marks for deletion
package retention

import (
	"time"

	"github.com/backitup/backitup/internal/catalog"
)

// Candidate pairs an artifact record with the reason its retention
// policy selected it.
type Candidate struct {
	Record catalog.ArtifactRecord
	Reason string
}

// Policy is the per-schedule retention configuration.
type Policy struct {
	MaxCount int
	MaxDays  int
}

// Select returns the artifacts in records (sorted newest-first, as
// the catalog returns them) that the policy marks for deletion.
//
// An artifact at zero-based index i is selected with reason
// retention_count when i >= MaxCount. Otherwise, if its creation time
// predates now-MaxDays, it is selected with reason retention_days.
// retention_count is checked first and wins ties.
func Select(records []catalog.ArtifactRecord, policy Policy, now time.Time) []Candidate {
	cutoff := now.AddDate(0, 0, -policy.MaxDays)

	var out []Candidate
	for i, r := range records {
		switch {
		case i >= policy.MaxCount:
			out = append(out, Candidate{Record: r, Reason: catalog.ReasonRetentionCount})
		case r.CreatedAt.Before(cutoff):
			out = append(out, Candidate{Record: r, Reason: catalog.ReasonRetentionDays})
		}
	}
	return out
}
