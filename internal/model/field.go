package model

import "time"

// VerificationMethod describes how a field value was obtained or verified.
type VerificationMethod string

const (
	MethodDirect     VerificationMethod = "direct"
	MethodInferred   VerificationMethod = "inferred"
	MethodAIVerified VerificationMethod = "ai_verified"
)

// Extraction-time confidence by method. Values are preserved verbatim
// through the pipeline until the verification stage adjusts them.
const (
	ConfidenceDirect   = 90.0
	ConfidenceInferred = 60.0
)

// SourceMeta records where a field value came from and how much we trust it.
type SourceMeta struct {
	SourceURL  string             `json:"source_url"`
	FetchedAt  time.Time          `json:"fetched_at"`
	Confidence float64            `json:"confidence"`
	Method     VerificationMethod `json:"method"`
	Notes      string             `json:"notes,omitempty"`
}

// Field pairs an extracted value with its provenance. A field either exists
// with full provenance or is absent (a nil *Field); there is no half state.
type Field[T any] struct {
	Value  T          `json:"value"`
	Source SourceMeta `json:"source"`
}

// NewField builds a Field with the given value and source.
func NewField[T any](value T, source SourceMeta) *Field[T] {
	return &Field[T]{Value: value, Source: source}
}

// DirectSource builds SourceMeta for a verbatim extraction.
func DirectSource(url string, fetchedAt time.Time) SourceMeta {
	return SourceMeta{
		SourceURL:  url,
		FetchedAt:  fetchedAt,
		Confidence: ConfidenceDirect,
		Method:     MethodDirect,
	}
}

// InferredSource builds SourceMeta for a value derived from context rather
// than an explicit label.
func InferredSource(url string, fetchedAt time.Time) SourceMeta {
	return SourceMeta{
		SourceURL:  url,
		FetchedAt:  fetchedAt,
		Confidence: ConfidenceInferred,
		Method:     MethodInferred,
	}
}

// Clone returns a copy of the field, or nil for an absent field.
func (f *Field[T]) Clone() *Field[T] {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}
