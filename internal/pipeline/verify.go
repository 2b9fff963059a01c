package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-sync/internal/model"
	"github.com/sells-group/catalog-sync/pkg/verify"
)

// ReviewItem flags a program (or one of its fields) for a human.
type ReviewItem struct {
	ProgramID string `json:"program_id"`
	FieldName string `json:"field_name"`
	Reason    string `json:"reason"`
}

// VerificationResult is the output of the verification stage.
type VerificationResult struct {
	Programs     []model.Program
	Scores       map[string]model.ConfidenceScore
	ManualReview []ReviewItem
}

// Verifier re-scores low-trust fields through a verification client. It
// adjusts confidence only; field values pass through untouched. A nil
// client disables the stage and programs pass through as-is.
type Verifier struct {
	client    verify.Client
	threshold float64
}

// NewVerifier creates a Verifier. Pass a nil client to disable verification.
func NewVerifier(client verify.Client, threshold float64) *Verifier {
	return &Verifier{client: client, threshold: threshold}
}

// fieldCategories groups optional fields for per-category confidence.
var fieldCategories = map[string]string{
	"tuition_fee":            "financial",
	"application_fee":        "financial",
	"ielts_score":            "requirements",
	"toefl_score":            "requirements",
	"language_waiver":        "requirements",
	"admission_requirements": "requirements",
	"backlog_policy":         "requirements",
	"scholarships":           "scholarships",
}

// Verify re-scores each program's flagged fields. Input programs are never
// mutated; adjusted copies are returned.
func (v *Verifier) Verify(ctx context.Context, programs []model.Program, diffs []model.ProgramDiff) VerificationResult {
	log := zap.L().Named("verifier")

	if v.client == nil {
		log.Warn("verification disabled, passing programs through")
		return VerificationResult{Programs: programs, Scores: map[string]model.ConfidenceScore{}}
	}

	diffByID := make(map[string]*model.ProgramDiff, len(diffs))
	for i := range diffs {
		diffByID[diffs[i].ProgramID] = &diffs[i]
	}

	result := VerificationResult{Scores: make(map[string]model.ConfidenceScore, len(programs))}

	for i := range programs {
		verified := v.verifyProgram(ctx, &programs[i], diffByID[programs[i].ID])
		result.Programs = append(result.Programs, *verified)

		score, ok := overallScore(verified)
		if !ok {
			continue
		}
		result.Scores[verified.ID] = score
		if score.Overall < v.threshold {
			result.ManualReview = append(result.ManualReview, ReviewItem{
				ProgramID: verified.ID,
				FieldName: "overall",
				Reason:    fmt.Sprintf("low confidence score: %.1f", score.Overall),
			})
		}
	}

	log.Info("verification complete",
		zap.Int("programs", len(result.Programs)),
		zap.Int("manual_review", len(result.ManualReview)))
	return result
}

// verifyProgram re-scores the fields that earned distrust: low confidence,
// inferred extraction, or movement in the diff.
func (v *Verifier) verifyProgram(ctx context.Context, program *model.Program, diff *model.ProgramDiff) *model.Program {
	log := zap.L().Named("verifier")
	verified := program.Clone()

	changedFields := make(map[string]bool)
	if diff != nil {
		for _, fd := range diff.FieldDiffs {
			if fd.ChangeType != model.ChangeUnchanged {
				changedFields[fd.FieldName] = true
			}
		}
	}

	for _, name := range model.OptionalFieldNames {
		field := verified.OptionalField(name)
		if field == nil {
			continue
		}

		needsVerification := field.Source.Confidence < v.threshold ||
			field.Source.Method == model.MethodInferred ||
			changedFields[name]
		if !needsVerification {
			continue
		}

		res, err := v.client.Verify(ctx, verify.FieldContext{
			UniversityName: verified.UniversityName.Value,
			ProgramName:    verified.ProgramName.Value,
			FieldName:      name,
			Value:          field.Value,
			SourceURL:      field.Source.SourceURL,
			Confidence:     field.Source.Confidence,
		})
		if err != nil {
			// Fail open: keep the original confidence and route to review.
			log.Error("field verification failed",
				zap.String("program_id", verified.ID),
				zap.String("field", name),
				zap.Error(err))
			field.Source.Notes = "verification failed: " + err.Error()
			continue
		}

		field.Source.Confidence = res.Confidence
		field.Source.Method = model.MethodAIVerified
		if res.Notes != "" {
			field.Source.Notes = res.Notes
		}
	}

	now := time.Now().UTC()
	verified.LastVerifiedAt = &now
	return verified
}

// overallScore averages confidence over the optional fields a program
// actually has. Returns false when there is nothing to score.
func overallScore(p *model.Program) (model.ConfidenceScore, bool) {
	catSum := make(map[string]float64)
	catN := make(map[string]int)
	var sum float64
	var n int
	var hasDirect, hasVerified bool

	for _, name := range model.OptionalFieldNames {
		field := p.OptionalField(name)
		if field == nil {
			continue
		}
		sum += field.Source.Confidence
		n++
		cat := fieldCategories[name]
		catSum[cat] += field.Source.Confidence
		catN[cat]++
		switch field.Source.Method {
		case model.MethodDirect:
			hasDirect = true
		case model.MethodAIVerified:
			hasVerified = true
		}
	}
	if n == 0 {
		return model.ConfidenceScore{}, false
	}

	byCategory := make(map[string]float64, len(catSum))
	for cat, total := range catSum {
		byCategory[cat] = total / float64(catN[cat])
	}

	return model.ConfidenceScore{
		Overall:    sum / float64(n),
		ByCategory: byCategory,
		Factors: model.ConfidenceFactors{
			HasDirectSource: hasDirect,
			IsVerified:      hasVerified,
			IsRecent:        true,
		},
	}, true
}
