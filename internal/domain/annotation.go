package domain

import (
	"fmt"
	"time"
)

// ApprovalStage is the review state of an annotation version.
type ApprovalStage string

const (
	StageLLMExtracted ApprovalStage = "llm_extracted"
	StageLLMApproved  ApprovalStage = "llm_approved"
	StageUserApproved ApprovalStage = "user_approved"
	StageRejected     ApprovalStage = "rejected"
)

// Annotation is one immutable version in a reviewable annotation lineage.
// LineageID is stable across versions; VersionNumber starts at 1 and
// strictly increases. Versions are append-only and permanently retained.
type Annotation struct {
	ID            string
	LineageID     string
	VersionNumber int64
	DocumentID    string
	TextSegment   string
	SpanStart     int
	SpanEnd       int
	Category      ConceptCategory
	ConceptURI    string // matched or proposed
	Confidence    float64
	Stage         ApprovalStage
	Reasoning     string
	Actor         string // who produced this version; empty for automated stages
	CreatedAt     time.Time
}

// IsValidStage reports whether s is a recognized approval stage.
func IsValidStage(s ApprovalStage) bool {
	switch s {
	case StageLLMExtracted, StageLLMApproved, StageUserApproved, StageRejected:
		return true
	}
	return false
}

// IsTerminalStage reports whether s admits no further transition absent an
// explicit reopen.
func IsTerminalStage(s ApprovalStage) bool {
	return s == StageUserApproved || s == StageRejected
}

// NextStage returns the stage an approval advances to from the current one.
func NextStage(current ApprovalStage) (ApprovalStage, error) {
	switch current {
	case StageLLMExtracted:
		return StageLLMApproved, nil
	case StageLLMApproved:
		return StageUserApproved, nil
	default:
		return "", NewDomainError(ErrCodeInvalidOperation,
			fmt.Sprintf("cannot approve from stage %s", current))
	}
}

// CanTransition reports whether from → to is a legal stage transition.
// Rejection is reachable from any non-terminal stage; reopen (back to
// llm_extracted) is modeled separately because it carries edited fields.
func CanTransition(from, to ApprovalStage) bool {
	if IsTerminalStage(from) {
		return false
	}
	switch to {
	case StageLLMApproved:
		return from == StageLLMExtracted
	case StageUserApproved:
		return from == StageLLMApproved
	case StageRejected:
		return true
	}
	return false
}

// ValidateAnnotation validates a single annotation version.
func ValidateAnnotation(a *Annotation) error {
	if a == nil {
		return NewDomainError(ErrCodeValidation, "annotation cannot be nil")
	}
	if a.LineageID == "" {
		return NewDomainError(ErrCodeValidation, "annotation lineage id is required")
	}
	if a.VersionNumber < 1 {
		return NewDomainError(ErrCodeValidation, "annotation version number must be >= 1")
	}
	if a.DocumentID == "" {
		return NewDomainError(ErrCodeValidation, "annotation document id is required")
	}
	if a.TextSegment == "" {
		return NewDomainError(ErrCodeValidation, "annotation text segment is required")
	}
	if a.SpanStart < 0 || a.SpanEnd <= a.SpanStart {
		return NewDomainError(ErrCodeValidation,
			fmt.Sprintf("invalid annotation span [%d,%d)", a.SpanStart, a.SpanEnd))
	}
	if !IsValidCategory(a.Category) {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("unrecognized concept category: %s", a.Category))
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("confidence %f outside [0,1]", a.Confidence))
	}
	if !IsValidStage(a.Stage) {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("invalid approval stage: %s", a.Stage))
	}
	return nil
}
