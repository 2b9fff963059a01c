package model

import "time"

// ChangeType classifies how a field moved between two snapshots.
type ChangeType string

const (
	ChangeUnchanged  ChangeType = "unchanged"
	ChangeChanged    ChangeType = "changed"
	ChangeMissing    ChangeType = "missing"
	ChangeNewlyAdded ChangeType = "newly_added"
)

// FieldDiff is the result of comparing one field across two snapshots.
// It is derived deterministically from the (previous, current) pair.
type FieldDiff struct {
	FieldName      string      `json:"field_name"`
	ChangeType     ChangeType  `json:"change_type"`
	PreviousValue  any         `json:"previous_value,omitempty"`
	PreviousSource *SourceMeta `json:"previous_source,omitempty"`
	NewValue       any         `json:"new_value,omitempty"`
	NewSource      *SourceMeta `json:"new_source,omitempty"`
	Confidence     float64     `json:"confidence"`
	RequiresReview bool        `json:"requires_review"`
}

// ProgramDiff aggregates field-level changes for one program.
type ProgramDiff struct {
	ProgramID         string      `json:"program_id"`
	IsNew             bool        `json:"is_new"`
	IsDeleted         bool        `json:"is_deleted"`
	FieldDiffs        []FieldDiff `json:"field_diffs"`
	OverallConfidence float64     `json:"overall_confidence"`
	RequiresReview    bool        `json:"requires_review"`
}

// Changed reports whether the diff carries any non-unchanged field.
func (d ProgramDiff) Changed() bool {
	for _, fd := range d.FieldDiffs {
		if fd.ChangeType != ChangeUnchanged {
			return true
		}
	}
	return false
}

// DiffSummary holds aggregate counts over a diff result.
type DiffSummary struct {
	TotalPrograms  int `json:"total_programs"`
	Unchanged      int `json:"unchanged"`
	Changed        int `json:"changed"`
	New            int `json:"new"`
	Deleted        int `json:"deleted"`
	RequiresReview int `json:"requires_review"`
}

// DiffResult is the complete comparison output for one job.
type DiffResult struct {
	JobID        string        `json:"job_id"`
	UniversityID string        `json:"university_id"`
	ProgramDiffs []ProgramDiff `json:"program_diffs"`
	Summary      DiffSummary   `json:"summary"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Summarize recomputes the summary counts from the program diffs.
func (r *DiffResult) Summarize() {
	s := DiffSummary{TotalPrograms: 0}
	for _, d := range r.ProgramDiffs {
		switch {
		case d.IsDeleted:
			s.Deleted++
		case d.IsNew:
			s.New++
			s.TotalPrograms++
		case d.Changed():
			s.Changed++
			s.TotalPrograms++
		default:
			s.Unchanged++
			s.TotalPrograms++
		}
		if d.RequiresReview {
			s.RequiresReview++
		}
	}
	r.Summary = s
}
