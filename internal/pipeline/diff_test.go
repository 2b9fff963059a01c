package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-sync/internal/config"
	"github.com/sells-group/catalog-sync/internal/model"
)

func testEngine() *DiffEngine {
	return NewDiffEngine(config.ReviewConfig{ConfidenceThreshold: 70, FinancialDeltaPct: 20})
}

func diffProgram(tuition string) model.Program {
	now := time.Now().UTC()
	src := model.DirectSource("https://uni.example.edu/msc", now)
	p := model.Program{
		ID:             "example-university-msc-data-science",
		UniversityName: *model.NewField("Example University", src),
		ProgramName:    *model.NewField("MSc Data Science", src),
		Level:          model.LevelPostgraduate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if tuition != "" {
		p.TuitionFee = model.NewField(tuition, src)
	}
	return p
}

func findFieldDiff(t *testing.T, diffs []model.FieldDiff, name string) model.FieldDiff {
	t.Helper()
	for _, fd := range diffs {
		if fd.FieldName == name {
			return fd
		}
	}
	t.Fatalf("no field diff for %s", name)
	return model.FieldDiff{}
}

func TestCompute_IdenticalSnapshotsAreUnchanged(t *testing.T) {
	e := testEngine()
	prog := diffProgram("25,000")

	result := e.Compute("job-1", "example-university",
		[]model.Program{prog}, []model.Program{prog})

	require.Len(t, result.ProgramDiffs, 1)
	d := result.ProgramDiffs[0]
	assert.False(t, d.IsNew)
	assert.False(t, d.RequiresReview)
	assert.Equal(t, 100.0, d.OverallConfidence)
	for _, fd := range d.FieldDiffs {
		assert.Equal(t, model.ChangeUnchanged, fd.ChangeType)
	}
	assert.Equal(t, 1, result.Summary.Unchanged)
}

func TestCompute_UnchangedFieldUsesMaxConfidence(t *testing.T) {
	e := testEngine()
	prev := diffProgram("")
	cur := diffProgram("")
	now := time.Now().UTC()
	prev.TuitionFee = model.NewField("25,000", model.InferredSource("https://uni.example.edu", now))
	cur.TuitionFee = model.NewField("25,000", model.DirectSource("https://uni.example.edu", now))

	result := e.Compute("job-1", "example-university", []model.Program{prev}, []model.Program{cur})
	fd := findFieldDiff(t, result.ProgramDiffs[0].FieldDiffs, "tuition_fee")
	assert.Equal(t, model.ChangeUnchanged, fd.ChangeType)
	assert.Equal(t, model.ConfidenceDirect, fd.Confidence)
}

func TestCompute_ChangedFieldAveragesConfidence(t *testing.T) {
	e := testEngine()
	prev := diffProgram("")
	cur := diffProgram("")
	now := time.Now().UTC()
	prev.BacklogPolicy = model.NewField("no backlogs accepted", model.DirectSource("https://uni.example.edu", now))
	cur.BacklogPolicy = model.NewField("up to 2 backlogs accepted", model.InferredSource("https://uni.example.edu", now))

	result := e.Compute("job-1", "example-university", []model.Program{prev}, []model.Program{cur})
	fd := findFieldDiff(t, result.ProgramDiffs[0].FieldDiffs, "backlog_policy")
	assert.Equal(t, model.ChangeChanged, fd.ChangeType)
	assert.Equal(t, 75.0, fd.Confidence) // (90 + 60) / 2
}

func TestCompute_MissingFieldAlwaysReviewed(t *testing.T) {
	e := testEngine()
	prev := diffProgram("25,000")
	cur := diffProgram("")

	result := e.Compute("job-1", "example-university", []model.Program{prev}, []model.Program{cur})
	fd := findFieldDiff(t, result.ProgramDiffs[0].FieldDiffs, "tuition_fee")
	assert.Equal(t, model.ChangeMissing, fd.ChangeType)
	assert.True(t, fd.RequiresReview)
	assert.True(t, result.ProgramDiffs[0].RequiresReview)
}

func TestCompute_NewlyAddedHighConfidenceNotReviewed(t *testing.T) {
	e := testEngine()
	prev := diffProgram("")
	cur := diffProgram("25,000")

	result := e.Compute("job-1", "example-university", []model.Program{prev}, []model.Program{cur})
	fd := findFieldDiff(t, result.ProgramDiffs[0].FieldDiffs, "tuition_fee")
	assert.Equal(t, model.ChangeNewlyAdded, fd.ChangeType)
	assert.False(t, fd.RequiresReview)
}

func TestCompute_SmallTuitionChangeNotSignificant(t *testing.T) {
	e := testEngine()
	prev := diffProgram("25,000")
	cur := diffProgram("26,000") // 4% change

	result := e.Compute("job-1", "example-university", []model.Program{prev}, []model.Program{cur})
	fd := findFieldDiff(t, result.ProgramDiffs[0].FieldDiffs, "tuition_fee")
	assert.Equal(t, model.ChangeChanged, fd.ChangeType)
	assert.False(t, fd.RequiresReview, "both sides direct, delta under 20%")
}

func TestCompute_LargeTuitionChangeForcesReview(t *testing.T) {
	e := testEngine()
	prev := diffProgram("25,000")
	cur := diffProgram("35,000") // 40% change

	result := e.Compute("job-1", "example-university", []model.Program{prev}, []model.Program{cur})
	fd := findFieldDiff(t, result.ProgramDiffs[0].FieldDiffs, "tuition_fee")
	assert.True(t, fd.RequiresReview)
}

func TestCompute_AnyScoreChangeForcesReview(t *testing.T) {
	e := testEngine()
	prev := diffProgram("")
	cur := diffProgram("")
	now := time.Now().UTC()
	prev.IELTSScore = model.NewField("6.5", model.DirectSource("https://uni.example.edu", now))
	cur.IELTSScore = model.NewField("7.0", model.DirectSource("https://uni.example.edu", now))

	result := e.Compute("job-1", "example-university", []model.Program{prev}, []model.Program{cur})
	fd := findFieldDiff(t, result.ProgramDiffs[0].FieldDiffs, "ielts_score")
	assert.True(t, fd.RequiresReview, "score changes always need review")
}

func TestCompute_DeadlineChangeForcesReview(t *testing.T) {
	e := testEngine()
	now := time.Now().UTC()
	src := model.DirectSource("https://uni.example.edu", now)

	prev := diffProgram("")
	prev.Intakes = []model.Intake{{
		Term: model.TermFall, Year: 2026,
		Deadlines: []model.Deadline{{Date: *model.NewField("2026-06-01", src), Type: model.DeadlineApplication}},
		IsActive:  *model.NewField(true, src),
	}}
	cur := diffProgram("")
	cur.Intakes = []model.Intake{{
		Term: model.TermFall, Year: 2026,
		Deadlines: []model.Deadline{{Date: *model.NewField("2026-05-01", src), Type: model.DeadlineApplication}},
		IsActive:  *model.NewField(true, src),
	}}

	result := e.Compute("job-1", "example-university", []model.Program{prev}, []model.Program{cur})
	fd := findFieldDiff(t, result.ProgramDiffs[0].FieldDiffs, "deadline.fall-2026.application")
	assert.Equal(t, model.ChangeChanged, fd.ChangeType)
	assert.True(t, fd.RequiresReview)
}

func TestCompute_DeletedProgram(t *testing.T) {
	e := testEngine()
	prev := diffProgram("25,000")

	result := e.Compute("job-1", "example-university", []model.Program{prev}, nil)
	require.Len(t, result.ProgramDiffs, 1)
	d := result.ProgramDiffs[0]
	assert.True(t, d.IsDeleted)
	assert.True(t, d.RequiresReview)
	assert.Equal(t, 100.0, d.OverallConfidence)
	assert.Equal(t, 1, result.Summary.Deleted)
	assert.Equal(t, 0, result.Summary.TotalPrograms)
}

func TestCompute_NewProgram(t *testing.T) {
	e := testEngine()
	cur := diffProgram("25,000")

	result := e.Compute("job-1", "example-university", nil, []model.Program{cur})
	require.Len(t, result.ProgramDiffs, 1)
	assert.True(t, result.ProgramDiffs[0].IsNew)
	assert.Equal(t, 1, result.Summary.New)
}
