package model

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Level classifies the academic level of a program.
type Level string

const (
	LevelUndergraduate Level = "Undergraduate"
	LevelPostgraduate  Level = "Postgraduate"
	LevelPhD           Level = "PhD"
)

// Country is the country a university operates in.
type Country string

const (
	CountryCanada    Country = "Canada"
	CountryUK        Country = "UK"
	CountryUSA       Country = "USA"
	CountryAustralia Country = "Australia"
	CountryOther     Country = "Other"
)

// IntakeTerm is the academic term an intake starts in.
type IntakeTerm string

const (
	TermFall   IntakeTerm = "Fall"
	TermSpring IntakeTerm = "Spring"
	TermSummer IntakeTerm = "Summer"
	TermWinter IntakeTerm = "Winter"
)

// DeadlineType distinguishes the kinds of intake deadlines.
type DeadlineType string

const (
	DeadlineApplication  DeadlineType = "application"
	DeadlineDocument     DeadlineType = "document"
	DeadlineDeposit      DeadlineType = "deposit"
	DeadlineRegistration DeadlineType = "registration"
	DeadlineOther        DeadlineType = "other"
)

// Deadline is a dated cutoff within an intake, tracked with provenance.
type Deadline struct {
	Date  Field[string] `json:"date"`
	Type  DeadlineType  `json:"type"`
	Notes string        `json:"notes,omitempty"`
}

// Intake is one admission cycle for a program.
type Intake struct {
	Term      IntakeTerm  `json:"term"`
	Year      int         `json:"year"`
	Deadlines []Deadline  `json:"deadlines"`
	IsActive  Field[bool] `json:"is_active"`
}

// Program is one extracted degree-program record. Identifying fields are
// required; everything else is optional and nil when the source pages never
// stated it. Missing data stays missing.
type Program struct {
	ID string `json:"id"`

	UniversityName Field[string] `json:"university_name"`
	ProgramName    Field[string] `json:"program_name"`
	Level          Level         `json:"level"`
	Country        Country       `json:"country"`

	TuitionFee     *Field[string] `json:"tuition_fee,omitempty"`
	ApplicationFee *Field[string] `json:"application_fee,omitempty"`

	IELTSScore     *Field[string] `json:"ielts_score,omitempty"`
	TOEFLScore     *Field[string] `json:"toefl_score,omitempty"`
	LanguageWaiver *Field[string] `json:"language_waiver,omitempty"`

	AdmissionRequirements *Field[string] `json:"admission_requirements,omitempty"`
	BacklogPolicy         *Field[string] `json:"backlog_policy,omitempty"`
	Scholarships          *Field[string] `json:"scholarships,omitempty"`

	Intakes []Intake `json:"intakes"`

	Version     int        `json:"version"`
	IsDeleted   bool       `json:"is_deleted,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	PublishedBy string     `json:"published_by,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
}

// OptionalFieldNames lists the comparable optional fields in a stable order.
// The diff engine and verifier iterate this instead of reflecting.
var OptionalFieldNames = []string{
	"tuition_fee",
	"application_fee",
	"ielts_score",
	"toefl_score",
	"language_waiver",
	"admission_requirements",
	"backlog_policy",
	"scholarships",
}

// OptionalField returns the named optional field, or nil when absent or the
// name is unknown.
func (p *Program) OptionalField(name string) *Field[string] {
	switch name {
	case "tuition_fee":
		return p.TuitionFee
	case "application_fee":
		return p.ApplicationFee
	case "ielts_score":
		return p.IELTSScore
	case "toefl_score":
		return p.TOEFLScore
	case "language_waiver":
		return p.LanguageWaiver
	case "admission_requirements":
		return p.AdmissionRequirements
	case "backlog_policy":
		return p.BacklogPolicy
	case "scholarships":
		return p.Scholarships
	}
	return nil
}

// SetOptionalField replaces the named optional field on the program.
func (p *Program) SetOptionalField(name string, f *Field[string]) {
	switch name {
	case "tuition_fee":
		p.TuitionFee = f
	case "application_fee":
		p.ApplicationFee = f
	case "ielts_score":
		p.IELTSScore = f
	case "toefl_score":
		p.TOEFLScore = f
	case "language_waiver":
		p.LanguageWaiver = f
	case "admission_requirements":
		p.AdmissionRequirements = f
	case "backlog_policy":
		p.BacklogPolicy = f
	case "scholarships":
		p.Scholarships = f
	}
}

// Clone returns a deep copy of the program. The verifier adjusts confidence
// on the copy so earlier stages never see mutated records.
func (p *Program) Clone() *Program {
	c := *p
	c.TuitionFee = p.TuitionFee.Clone()
	c.ApplicationFee = p.ApplicationFee.Clone()
	c.IELTSScore = p.IELTSScore.Clone()
	c.TOEFLScore = p.TOEFLScore.Clone()
	c.LanguageWaiver = p.LanguageWaiver.Clone()
	c.AdmissionRequirements = p.AdmissionRequirements.Clone()
	c.BacklogPolicy = p.BacklogPolicy.Clone()
	c.Scholarships = p.Scholarships.Clone()
	if p.Intakes != nil {
		c.Intakes = make([]Intake, len(p.Intakes))
		for i, in := range p.Intakes {
			cp := in
			cp.Deadlines = append([]Deadline(nil), in.Deadlines...)
			c.Intakes[i] = cp
		}
	}
	if p.LastVerifiedAt != nil {
		t := *p.LastVerifiedAt
		c.LastVerifiedAt = &t
	}
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

// asciiFold strips diacritics so "Université Laval" and "Universite Laval"
// map to the same subject ID.
var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SubjectID derives the stable store key for a university name.
func SubjectID(universityName string) string {
	s := strings.TrimSpace(universityName)
	if folded, _, err := transform.String(asciiFold, s); err == nil {
		s = folded
	}
	return strings.ReplaceAll(strings.ToLower(s), " ", "-")
}
