package domain

import (
	"fmt"
	"time"
)

// SplitMethod records which strategy produced an atomic candidate.
type SplitMethod string

const (
	SplitMethodNone      SplitMethod = "none"
	SplitMethodPattern   SplitMethod = "pattern_based"
	SplitMethodLLM       SplitMethod = "llm_analysis"
	SplitMethodHeuristic SplitMethod = "heuristic"
)

// TextSpan addresses a region of a document by character offsets.
// End is exclusive.
type TextSpan struct {
	DocumentID string
	Start      int
	End        int
}

// Within reports whether the span lies inside a document of the given length.
func (s TextSpan) Within(docLen int) bool {
	return s.Start >= 0 && s.End > s.Start && s.End <= docLen
}

// ConceptCandidate is a raw or atomic concept surfaced from a case
// narrative. Candidates are created by the extractor and splitter and
// consumed unmodified by the matcher; once surfaced for review they seed
// version 1 of an Annotation.
type ConceptCandidate struct {
	ID             string
	Span           TextSpan
	Category       ConceptCategory
	RawLabel       string
	Confidence     float64
	PassNumber     Pass
	SplitMethod    SplitMethod
	ParentCompound string // original compound text when produced by splitting
	Reasoning      string
	LowContext     bool // extracted without prior-pass entity context
	CreatedAt      time.Time
}

// IsValidSplitMethod reports whether m is a recognized split method.
func IsValidSplitMethod(m SplitMethod) bool {
	switch m {
	case SplitMethodNone, SplitMethodPattern, SplitMethodLLM, SplitMethodHeuristic:
		return true
	}
	return false
}

// ValidateCandidate validates a ConceptCandidate against a document of the
// given length. Malformed candidates are rejected at ingestion and never
// retried.
func ValidateCandidate(c *ConceptCandidate, docLen int) error {
	if c == nil {
		return NewDomainError(ErrCodeValidation, "candidate cannot be nil")
	}
	if c.RawLabel == "" {
		return NewDomainError(ErrCodeValidation, "candidate label is required")
	}
	if !IsValidCategory(c.Category) {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("unrecognized concept category: %s", c.Category))
	}
	if c.PassNumber != PassFor(c.Category) {
		return NewDomainError(ErrCodeValidation,
			fmt.Sprintf("category %s belongs to pass %d, not %d", c.Category, PassFor(c.Category), c.PassNumber))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("confidence %f outside [0,1]", c.Confidence))
	}
	if !IsValidSplitMethod(c.SplitMethod) {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("invalid split method: %s", c.SplitMethod))
	}
	if !c.Span.Within(docLen) {
		return NewDomainError(ErrCodeValidation,
			fmt.Sprintf("text span [%d,%d) outside document bounds (length %d)", c.Span.Start, c.Span.End, docLen))
	}
	return nil
}
