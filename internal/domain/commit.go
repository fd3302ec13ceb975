package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// CommitRecord tracks a lineage that has been persisted to the external
// ontology store. At most one active record exists per lineage. Records are
// never deleted; entities that disappear upstream are flagged instead.
type CommitRecord struct {
	LineageID       string
	ExternalURI     string
	Kind            EntityKind
	LastSyncedAt    time.Time
	LastKnownHash   string
	MissingUpstream bool
}

// SyncReport summarizes one refresh() run over all commit records. Drift
// and missing-upstream outcomes are data, not errors.
type SyncReport struct {
	Checked   int      `json:"checked"`
	Unchanged int      `json:"unchanged"`
	Modified  int      `json:"modified"`
	Missing   int      `json:"missing"`
	Drifted   []string `json:"drifted,omitempty"` // external URIs with field-level drift

	// DriftedFields breaks each drifted URI down to the fields that moved,
	// diffed against the local cache before it was updated.
	DriftedFields []FieldDiff `json:"drifted_fields,omitempty"`
}

// EntityContentHash digests the synchronized fields of an entity. Commit is
// idempotent under an unchanged hash, and refresh() detects drift by
// comparing against it. Fields are joined in a fixed order so the digest is
// stable across processes.
func EntityContentHash(e *OntologyEntity) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		e.Label,
		e.ParentURI,
		e.Definition,
		string(e.Kind),
	}, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}

// FieldDiff lists entity fields whose upstream value diverged from the
// local cache.
type FieldDiff struct {
	URI     string   `json:"uri"`
	Changed []string `json:"changed"`
}

// DiffEntities compares a cached entity against its upstream counterpart
// field by field.
func DiffEntities(local, upstream *OntologyEntity) FieldDiff {
	d := FieldDiff{URI: local.URI}
	if local.Label != upstream.Label {
		d.Changed = append(d.Changed, "label")
	}
	if local.ParentURI != upstream.ParentURI {
		d.Changed = append(d.Changed, "parent_uri")
	}
	if local.Definition != upstream.Definition {
		d.Changed = append(d.Changed, "definition")
	}
	if local.Kind != upstream.Kind {
		d.Changed = append(d.Changed, "kind")
	}
	return d
}
