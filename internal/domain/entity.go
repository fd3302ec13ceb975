package domain

import (
	"fmt"
	"time"
)

// EntityKind distinguishes generalized concepts (classes) from
// case-specific instances (individuals) in the ontology store.
type EntityKind string

const (
	EntityKindClass      EntityKind = "class"
	EntityKindIndividual EntityKind = "individual"
)

// OntologyEntity is a node in the hierarchical entity store. The parent
// edges under each category root form a DAG; category roots have no parent.
type OntologyEntity struct {
	URI        string
	Label      string
	ParentURI  string // empty for category roots
	Kind       EntityKind
	Category   ConceptCategory
	Definition string
}

// CachedEntity is a locally cached copy of an OntologyEntity together with
// sync bookkeeping. The cache backs matching and drift detection; it is
// updated only by hierarchy sync and refresh.
type CachedEntity struct {
	OntologyEntity
	MissingUpstream bool
	SyncedAt        time.Time
}

// IsValidEntityKind reports whether k is a recognized entity kind.
func IsValidEntityKind(k EntityKind) bool {
	return k == EntityKindClass || k == EntityKindIndividual
}

// ValidateEntity validates an OntologyEntity.
func ValidateEntity(e *OntologyEntity) error {
	if e == nil {
		return NewDomainError(ErrCodeValidation, "entity cannot be nil")
	}
	if e.URI == "" {
		return NewDomainError(ErrCodeValidation, "entity URI is required")
	}
	if e.Label == "" {
		return NewDomainError(ErrCodeValidation, "entity label is required")
	}
	if !IsValidEntityKind(e.Kind) {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("invalid entity kind: %s", e.Kind))
	}
	if !IsValidCategory(e.Category) {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("unrecognized concept category: %s", e.Category))
	}
	if e.ParentURI == e.URI {
		return NewDomainError(ErrCodeValidation, "entity cannot be its own parent")
	}
	return nil
}
