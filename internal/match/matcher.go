package match

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethos-works/ethosgraph/internal/domain"
)

// Classification is the matcher's verdict for an atomic candidate.
type Classification string

const (
	ClassificationExisting  Classification = "existing"
	ClassificationAmbiguous Classification = "ambiguous"
	ClassificationNew       Classification = "new"
)

// Thresholds separate existing/ambiguous/new. They are validated
// configuration, not constants: observed values vary by category.
type Thresholds struct {
	High float64
	Low  float64
	TopK int
}

// Validate checks threshold ordering and bounds.
func (t Thresholds) Validate() error {
	if t.Low < 0 || t.High > 1 || t.Low >= t.High {
		return domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("thresholds must satisfy 0 <= low < high <= 1, got low=%f high=%f", t.Low, t.High))
	}
	if t.TopK < 1 {
		return domain.NewDomainError(domain.ErrCodeValidation, "top-k must be >= 1")
	}
	return nil
}

// DefaultThresholds returns the global threshold defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.85, Low: 0.55, TopK: 5}
}

// Config holds matcher configuration with optional per-category overrides.
type Config struct {
	Default     Thresholds
	PerCategory map[domain.ConceptCategory]Thresholds
}

// ThresholdsFor resolves the thresholds for a category.
func (c Config) ThresholdsFor(category domain.ConceptCategory) Thresholds {
	if t, ok := c.PerCategory[category]; ok {
		return t
	}
	return c.Default
}

// ParseOverrides builds per-category threshold overrides from the
// "high;low;topk" value strings configuration carries, keyed by category
// name. Bounds are checked later by Config.Validate.
func ParseOverrides(raw map[string]string) (map[domain.ConceptCategory]Thresholds, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[domain.ConceptCategory]Thresholds, len(raw))
	for name, spec := range raw {
		category := domain.ConceptCategory(name)
		if !domain.IsValidCategory(category) {
			return nil, domain.NewDomainError(domain.ErrCodeValidation,
				fmt.Sprintf("unrecognized concept category in threshold overrides: %s", name))
		}
		parts := strings.Split(spec, ";")
		if len(parts) != 3 {
			return nil, domain.NewDomainError(domain.ErrCodeValidation,
				fmt.Sprintf("threshold override for %s must be high;low;topk, got %q", name, spec))
		}
		high, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, domain.NewDomainError(domain.ErrCodeValidation,
				fmt.Sprintf("invalid high threshold for %s: %q", name, parts[0]))
		}
		low, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, domain.NewDomainError(domain.ErrCodeValidation,
				fmt.Sprintf("invalid low threshold for %s: %q", name, parts[1]))
		}
		topK, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, domain.NewDomainError(domain.ErrCodeValidation,
				fmt.Sprintf("invalid top-k for %s: %q", name, parts[2]))
		}
		out[category] = Thresholds{High: high, Low: low, TopK: topK}
	}
	return out, nil
}

// Validate checks the default and every per-category override.
func (c Config) Validate() error {
	if err := c.Default.Validate(); err != nil {
		return err
	}
	for cat, t := range c.PerCategory {
		if !domain.IsValidCategory(cat) {
			return domain.NewDomainError(domain.ErrCodeValidation,
				fmt.Sprintf("unrecognized concept category in threshold overrides: %s", cat))
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ScoredEntity pairs a cached entity with its similarity score in [0,1].
type ScoredEntity struct {
	Entity domain.OntologyEntity
	Score  float64
}

// Result is the matcher's classification of one atomic candidate.
// TopCandidates is populated for ambiguous results so a human reviewer can
// disambiguate.
type Result struct {
	Classification Classification
	MatchedURI     string
	Score          float64
	TopCandidates  []ScoredEntity
}

// HierarchyStore exposes "all entities transitively under category root X",
// paginated. Implemented by the external ontology store client.
type HierarchyStore interface {
	EntitiesUnder(ctx context.Context, category domain.ConceptCategory, cursor string, limit int) ([]domain.OntologyEntity, string, error)
}

// EmbeddingClient generates embeddings for labels and definitions.
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// CacheRepository persists the local hierarchy snapshot with definition
// embeddings. SearchByEmbedding must order by descending similarity with
// URI as tiebreaker so matching stays deterministic for a fixed snapshot.
type CacheRepository interface {
	UpsertEntity(ctx context.Context, e *domain.OntologyEntity, syncedAt time.Time) error
	GetByNormalizedLabel(ctx context.Context, category domain.ConceptCategory, label string) (*domain.CachedEntity, error)
	SearchByEmbedding(ctx context.Context, category domain.ConceptCategory, embedding []float32, limit int) ([]ScoredEntity, error)
	ListWithoutEmbedding(ctx context.Context, category domain.ConceptCategory, limit int) ([]domain.CachedEntity, error)
	UpdateEmbedding(ctx context.Context, uri string, embedding []float32) error
}

const (
	hierarchyPageSize = 200
	embedBatchLimit   = 100
)

// Matcher classifies atomic candidates against the hierarchical entity
// store as existing, ambiguous, or new.
type Matcher struct {
	store HierarchyStore
	embed EmbeddingClient
	cache CacheRepository
	cfg   Config
}

// NewMatcher creates a Matcher.
func NewMatcher(store HierarchyStore, embed EmbeddingClient, cache CacheRepository, cfg Config) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{store: store, embed: embed, cache: cache, cfg: cfg}, nil
}

// SyncHierarchy pulls the full transitive candidate set under the
// category's root into the local cache and embeds definitions that lack an
// embedding. Matching operates on this snapshot, which keeps repeated
// calls deterministic between syncs.
func (m *Matcher) SyncHierarchy(ctx context.Context, category domain.ConceptCategory) error {
	if !domain.IsValidCategory(category) {
		return domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("unrecognized concept category: %s", category))
	}

	syncedAt := time.Now().UTC()
	cursor := ""
	total := 0
	for {
		entities, nextCursor, err := m.store.EntitiesUnder(ctx, category, cursor, hierarchyPageSize)
		if err != nil {
			return domain.NewTransientError(
				fmt.Sprintf("hierarchy fetch failed for category %s", category), err)
		}
		for i := range entities {
			if err := m.cache.UpsertEntity(ctx, &entities[i], syncedAt); err != nil {
				return fmt.Errorf("failed to cache entity %s: %w", entities[i].URI, err)
			}
		}
		total += len(entities)
		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}
	log.Printf("match: synced %d entities under %s root", total, category)

	return m.embedMissing(ctx, category)
}

func (m *Matcher) embedMissing(ctx context.Context, category domain.ConceptCategory) error {
	for {
		pending, err := m.cache.ListWithoutEmbedding(ctx, category, embedBatchLimit)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		for _, entity := range pending {
			text := entity.Definition
			if text == "" {
				text = entity.Label
			}
			vec, err := m.embed.GenerateEmbedding(ctx, text)
			if err != nil {
				return domain.NewTransientError(
					fmt.Sprintf("embedding failed for entity %s", entity.URI), err)
			}
			if err := m.cache.UpdateEmbedding(ctx, entity.URI, vec); err != nil {
				return err
			}
		}
		if len(pending) < embedBatchLimit {
			return nil
		}
	}
}

// Match classifies one atomic candidate. Exact normalized-label equality
// scores 1.0; otherwise the candidate label's embedding is ranked against
// cached definition embeddings. For an unchanged snapshot and label the
// classification and matched URI are identical across calls.
func (m *Matcher) Match(ctx context.Context, cand domain.ConceptCandidate) (*Result, error) {
	if !domain.IsValidCategory(cand.Category) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("unrecognized concept category: %s", cand.Category))
	}
	thresholds := m.cfg.ThresholdsFor(cand.Category)
	normalized := NormalizeLabel(cand.RawLabel)
	if normalized == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "candidate label is empty")
	}

	if exact, err := m.cache.GetByNormalizedLabel(ctx, cand.Category, normalized); err == nil && exact != nil {
		return &Result{
			Classification: ClassificationExisting,
			MatchedURI:     exact.URI,
			Score:          1.0,
			TopCandidates:  []ScoredEntity{{Entity: exact.OntologyEntity, Score: 1.0}},
		}, nil
	} else if err != nil && !domain.IsNotFound(err) {
		return nil, err
	}

	vec, err := m.embed.GenerateEmbedding(ctx, cand.RawLabel)
	if err != nil {
		return nil, domain.NewTransientError(
			fmt.Sprintf("embedding failed for label %q", cand.RawLabel), err)
	}

	scored, err := m.cache.SearchByEmbedding(ctx, cand.Category, vec, thresholds.TopK)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return &Result{Classification: ClassificationNew}, nil
	}

	// The repository orders by similarity; re-assert the URI tiebreak so a
	// misbehaving implementation cannot make classification flap.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entity.URI < scored[j].Entity.URI
	})

	best := scored[0]
	switch {
	case best.Score >= thresholds.High:
		return &Result{
			Classification: ClassificationExisting,
			MatchedURI:     best.Entity.URI,
			Score:          best.Score,
			TopCandidates:  scored,
		}, nil
	case best.Score >= thresholds.Low:
		return &Result{
			Classification: ClassificationAmbiguous,
			Score:          best.Score,
			TopCandidates:  scored,
		}, nil
	default:
		return &Result{Classification: ClassificationNew, Score: best.Score}, nil
	}
}

// NormalizeLabel lowercases a label and collapses internal whitespace so
// exact-label comparison is insensitive to casing and spacing.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}
