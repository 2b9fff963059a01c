package pipeline

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-sync/internal/config"
	"github.com/sells-group/catalog-sync/internal/model"
)

// DiffEngine compares a fresh extraction against the accepted data set. It
// never modifies either side; it only reports differences.
type DiffEngine struct {
	reviewThreshold   float64
	financialDeltaPct float64
}

// NewDiffEngine creates a DiffEngine from review config.
func NewDiffEngine(cfg config.ReviewConfig) *DiffEngine {
	return &DiffEngine{
		reviewThreshold:   cfg.ConfidenceThreshold,
		financialDeltaPct: cfg.FinancialDeltaPct,
	}
}

// comparedFields is the full set of field names the engine walks, required
// fields first.
var comparedFields = append([]string{"university_name", "program_name"}, model.OptionalFieldNames...)

// Compute compares current programs against the previously accepted set.
// Records are matched by ID; accepted programs with no current counterpart
// are reported as deletions.
func (e *DiffEngine) Compute(jobID, universityID string, previous, current []model.Program) model.DiffResult {
	log := zap.L().Named("diff")

	prevByID := make(map[string]*model.Program, len(previous))
	for i := range previous {
		prevByID[previous[i].ID] = &previous[i]
	}
	curByID := make(map[string]bool, len(current))
	for i := range current {
		curByID[current[i].ID] = true
	}

	result := model.DiffResult{
		JobID:        jobID,
		UniversityID: universityID,
		CreatedAt:    time.Now().UTC(),
	}

	for i := range current {
		result.ProgramDiffs = append(result.ProgramDiffs,
			e.comparePrograms(prevByID[current[i].ID], &current[i]))
	}

	for i := range previous {
		if curByID[previous[i].ID] {
			continue
		}
		result.ProgramDiffs = append(result.ProgramDiffs, model.ProgramDiff{
			ProgramID:         previous[i].ID,
			IsDeleted:         true,
			OverallConfidence: 100, // the absence itself is certain
			RequiresReview:    true,
		})
	}

	result.Summarize()
	log.Info("diff computation complete",
		zap.String("job_id", jobID),
		zap.Int("previous", len(previous)),
		zap.Int("current", len(current)),
		zap.Int("new", result.Summary.New),
		zap.Int("changed", result.Summary.Changed),
		zap.Int("deleted", result.Summary.Deleted),
		zap.Int("requires_review", result.Summary.RequiresReview))
	return result
}

func (e *DiffEngine) comparePrograms(previous, current *model.Program) model.ProgramDiff {
	var fieldDiffs []model.FieldDiff

	for _, name := range comparedFields {
		var prevField, curField *model.Field[string]
		if previous != nil {
			prevField = fieldByName(previous, name)
		}
		curField = fieldByName(current, name)

		if fd := e.compareField(name, prevField, curField); fd != nil {
			fieldDiffs = append(fieldDiffs, *fd)
		}
	}

	fieldDiffs = append(fieldDiffs, e.compareDeadlines(previous, current)...)

	// Overall confidence averages the fields that actually moved; a diff
	// with no movement is fully trusted.
	var sum float64
	var n int
	for _, fd := range fieldDiffs {
		if fd.ChangeType == model.ChangeUnchanged {
			continue
		}
		sum += fd.Confidence
		n++
	}
	overall := 100.0
	if n > 0 {
		overall = sum / float64(n)
	}

	requiresReview := overall < e.reviewThreshold
	for _, fd := range fieldDiffs {
		if fd.RequiresReview {
			requiresReview = true
			break
		}
	}

	return model.ProgramDiff{
		ProgramID:         current.ID,
		IsNew:             previous == nil,
		FieldDiffs:        fieldDiffs,
		OverallConfidence: overall,
		RequiresReview:    requiresReview,
	}
}

// compareField classifies one field's movement. Returns nil when the field
// is absent on both sides.
func (e *DiffEngine) compareField(name string, previous, current *model.Field[string]) *model.FieldDiff {
	switch {
	case previous == nil && current == nil:
		return nil

	case previous == nil:
		return &model.FieldDiff{
			FieldName:      name,
			ChangeType:     model.ChangeNewlyAdded,
			NewValue:       current.Value,
			NewSource:      &current.Source,
			Confidence:     current.Source.Confidence,
			RequiresReview: current.Source.Confidence < e.reviewThreshold,
		}

	case current == nil:
		return &model.FieldDiff{
			FieldName:      name,
			ChangeType:     model.ChangeMissing,
			PreviousValue:  previous.Value,
			PreviousSource: &previous.Source,
			Confidence:     previous.Source.Confidence,
			RequiresReview: true, // data that disappears always gets eyes on it
		}

	case previous.Value == current.Value:
		return &model.FieldDiff{
			FieldName:      name,
			ChangeType:     model.ChangeUnchanged,
			PreviousValue:  previous.Value,
			PreviousSource: &previous.Source,
			NewValue:       current.Value,
			NewSource:      &current.Source,
			Confidence:     math.Max(previous.Source.Confidence, current.Source.Confidence),
		}

	default:
		avg := (previous.Source.Confidence + current.Source.Confidence) / 2
		return &model.FieldDiff{
			FieldName:      name,
			ChangeType:     model.ChangeChanged,
			PreviousValue:  previous.Value,
			PreviousSource: &previous.Source,
			NewValue:       current.Value,
			NewSource:      &current.Source,
			Confidence:     avg,
			RequiresReview: avg < e.reviewThreshold || e.isSignificantChange(name, previous.Value, current.Value),
		}
	}
}

// compareDeadlines flattens intake deadlines into field diffs keyed by
// term, year and deadline type so date movements surface like any other
// field change.
func (e *DiffEngine) compareDeadlines(previous, current *model.Program) []model.FieldDiff {
	prevDates := deadlineFields(previous)
	curDates := deadlineFields(current)

	names := make(map[string]bool, len(prevDates)+len(curDates))
	for name := range prevDates {
		names[name] = true
	}
	for name := range curDates {
		names[name] = true
	}

	var diffs []model.FieldDiff
	for name := range names {
		if fd := e.compareField(name, prevDates[name], curDates[name]); fd != nil {
			diffs = append(diffs, *fd)
		}
	}
	return diffs
}

func deadlineFields(p *model.Program) map[string]*model.Field[string] {
	fields := make(map[string]*model.Field[string])
	if p == nil {
		return fields
	}
	for i := range p.Intakes {
		intake := &p.Intakes[i]
		for j := range intake.Deadlines {
			d := &intake.Deadlines[j]
			name := fmt.Sprintf("deadline.%s-%d.%s", strings.ToLower(string(intake.Term)), intake.Year, d.Type)
			fields[name] = &d.Date
		}
	}
	return fields
}

// isSignificantChange flags changes that always need review regardless of
// confidence: large monetary swings, any score movement, any date movement.
func (e *DiffEngine) isSignificantChange(name, oldValue, newValue string) bool {
	switch name {
	case "tuition_fee", "application_fee":
		oldNum, ook := extractNumber(oldValue)
		newNum, nok := extractNumber(newValue)
		if ook && nok && oldNum != 0 {
			pctChange := math.Abs(float64(newNum-oldNum)/float64(oldNum)) * 100
			return pctChange > e.financialDeltaPct
		}
		return false
	case "ielts_score", "toefl_score":
		return true
	}
	return strings.Contains(name, "deadline") || strings.Contains(name, "date")
}

func fieldByName(p *model.Program, name string) *model.Field[string] {
	switch name {
	case "university_name":
		return &p.UniversityName
	case "program_name":
		return &p.ProgramName
	}
	return p.OptionalField(name)
}
