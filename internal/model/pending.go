package model

import "time"

// PendingRecord is a program staged by a completed pipeline run, waiting for
// operator approval. The diff that produced it rides along so reviewers can
// see what changed without re-running the comparison.
type PendingRecord struct {
	ID             string       `json:"id"`
	JobID          string       `json:"job_id"`
	UniversityID   string       `json:"university_id"`
	Program        Program      `json:"program"`
	Diff           *ProgramDiff `json:"diff,omitempty"`
	RequiresReview bool         `json:"requires_review"`
	CreatedAt      time.Time    `json:"created_at"`
}
