package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-sync/internal/model"
)

// Severity classifies validation findings. Errors drop the record; warnings
// are logged and the record is retained.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one finding against a program.
type ValidationIssue struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// InvalidProgram pairs a dropped program with the errors that disqualified it.
type InvalidProgram struct {
	Program model.Program `json:"program"`
	Errors  []string      `json:"errors"`
}

// ValidationResult splits a batch into retained and dropped programs.
type ValidationResult struct {
	Valid   []model.Program
	Invalid []InvalidProgram
}

// Validator checks format and consistency. It never checks accuracy; that is
// the verification stage's job.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks each program and splits the batch. A program with at least
// one error-severity issue is dropped; warnings alone never drop a record.
func (v *Validator) Validate(programs []model.Program) ValidationResult {
	log := zap.L().Named("validator")
	var result ValidationResult

	for i := range programs {
		issues := v.validateProgram(&programs[i])

		var errs []string
		var warns []string
		for _, issue := range issues {
			if issue.Severity == SeverityError {
				errs = append(errs, issue.Field+": "+issue.Message)
			} else {
				warns = append(warns, issue.Field+": "+issue.Message)
			}
		}

		if len(errs) > 0 {
			result.Invalid = append(result.Invalid, InvalidProgram{Program: programs[i], Errors: errs})
			log.Warn("program failed validation",
				zap.String("program_id", programs[i].ID),
				zap.Strings("errors", errs))
			continue
		}

		result.Valid = append(result.Valid, programs[i])
		if len(warns) > 0 {
			log.Debug("program passed validation with warnings",
				zap.String("program_id", programs[i].ID),
				zap.Strings("warnings", warns))
		}
	}

	log.Info("validation complete",
		zap.Int("total", len(programs)),
		zap.Int("valid", len(result.Valid)),
		zap.Int("invalid", len(result.Invalid)))
	return result
}

func (v *Validator) validateProgram(p *model.Program) []ValidationIssue {
	var issues []ValidationIssue

	if strings.TrimSpace(p.ID) == "" {
		issues = append(issues, ValidationIssue{"id", "program ID is required", SeverityError})
	}
	if p.UniversityName.Value == "" {
		issues = append(issues, ValidationIssue{"university_name", "university name is required", SeverityError})
	}
	if p.ProgramName.Value == "" {
		issues = append(issues, ValidationIssue{"program_name", "program name is required", SeverityError})
	}

	if p.TuitionFee != nil && !isValidCurrency(p.TuitionFee.Value) {
		issues = append(issues, ValidationIssue{"tuition_fee",
			fmt.Sprintf("invalid currency format: %s", p.TuitionFee.Value), SeverityError})
	}
	if p.ApplicationFee != nil && !isValidCurrency(p.ApplicationFee.Value) {
		issues = append(issues, ValidationIssue{"application_fee",
			fmt.Sprintf("invalid currency format: %s", p.ApplicationFee.Value), SeverityError})
	}
	if p.IELTSScore != nil && !isValidIELTS(p.IELTSScore.Value) {
		issues = append(issues, ValidationIssue{"ielts_score",
			fmt.Sprintf("invalid IELTS score: %s (expected 0-9)", p.IELTSScore.Value), SeverityError})
	}
	if p.TOEFLScore != nil && !isValidTOEFL(p.TOEFLScore.Value) {
		issues = append(issues, ValidationIssue{"toefl_score",
			fmt.Sprintf("invalid TOEFL score: %s (expected 0-120)", p.TOEFLScore.Value), SeverityError})
	}

	for i := range p.Intakes {
		issues = append(issues, validateIntake(&p.Intakes[i])...)
	}

	issues = append(issues, validateConsistency(p)...)
	return issues
}

func validateIntake(intake *model.Intake) []ValidationIssue {
	var issues []ValidationIssue

	currentYear := time.Now().Year()
	if intake.Year < currentYear-1 || intake.Year > currentYear+5 {
		issues = append(issues, ValidationIssue{"intake.year",
			fmt.Sprintf("year %d seems invalid (expected %d to %d)", intake.Year, currentYear-1, currentYear+5),
			SeverityWarning})
	}

	for _, deadline := range intake.Deadlines {
		parsed, ok := parseDate(deadline.Date.Value)
		if !ok {
			issues = append(issues, ValidationIssue{"deadline.date",
				fmt.Sprintf("invalid date format: %s", deadline.Date.Value), SeverityError})
			continue
		}
		// Past deadlines are suspicious but can be legitimate historical data.
		if parsed.Before(time.Now()) {
			issues = append(issues, ValidationIssue{"deadline.date",
				fmt.Sprintf("deadline %s is in the past", deadline.Date.Value), SeverityWarning})
		}
	}
	return issues
}

// validateConsistency runs cross-field sanity checks. Everything here is a
// warning; a suspicious combination is worth a look, not a drop.
func validateConsistency(p *model.Program) []ValidationIssue {
	var issues []ValidationIssue

	if p.IELTSScore != nil && p.TOEFLScore != nil {
		ielts, ierr := strconv.ParseFloat(p.IELTSScore.Value, 64)
		toefl, terr := strconv.Atoi(strings.TrimSpace(p.TOEFLScore.Value))
		if ierr == nil && terr == nil {
			// Rough equivalence: IELTS 6.5 sits near TOEFL 79-93.
			expectedMin := (ielts-5)*30 + 35
			expectedMax := (ielts-4)*30 + 45
			if float64(toefl) < expectedMin-20 || float64(toefl) > expectedMax+20 {
				issues = append(issues, ValidationIssue{"language_scores",
					fmt.Sprintf("IELTS %s and TOEFL %d seem inconsistent", p.IELTSScore.Value, toefl),
					SeverityWarning})
			}
		}
	}

	if p.TuitionFee != nil && p.ApplicationFee != nil {
		tuition, tok := extractNumber(p.TuitionFee.Value)
		appFee, aok := extractNumber(p.ApplicationFee.Value)
		if tok && aok && appFee > tuition/10 {
			issues = append(issues, ValidationIssue{"fees",
				fmt.Sprintf("application fee (%d) seems unusually high compared to tuition (%d)", appFee, tuition),
				SeverityWarning})
		}
	}
	return issues
}

var currencyPattern = regexp.MustCompile(`[\d,]+`)

func isValidCurrency(value string) bool {
	return currencyPattern.MatchString(value) && len(value) < 100
}

func isValidIELTS(value string) bool {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	return err == nil && n >= 0 && n <= 9
}

func isValidTOEFL(value string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	return err == nil && n >= 0 && n <= 120
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "January 2, 2006", "2 January 2006"}

func parseDate(value string) (time.Time, bool) {
	if len(value) < 10 {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// extractNumber pulls the first integer out of a currency-ish string.
func extractNumber(value string) (int, bool) {
	m := currencyPattern.FindString(value)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}
