package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ethos-works/ethosgraph/internal/domain"
)

// Confidence damping per strategy. Splitting must never manufacture
// evidence: every atomic candidate's confidence stays at or below its
// compound's.
const (
	patternDamping   = 1.0
	llmDamping       = 0.9
	heuristicDamping = 0.75

	decompositionMaxTokens = 512
)

// Splitter decomposes compound candidate labels into atomic candidates.
// Strategies run in a fixed order and the first applicable one wins; the
// winning strategy is recorded on each atomic result.
type Splitter struct {
	llm ChatClient
}

// NewSplitter creates a Splitter. llm may be nil, in which case semantic
// decomposition is skipped and only the pattern and heuristic tiers run.
func NewSplitter(llm ChatClient) *Splitter {
	return &Splitter{llm: llm}
}

// Split decomposes a candidate into atomic candidates. Splitting is
// idempotent: a candidate that already carries a resolved split method, or
// whose category is not registered for splitting, or that shows no
// structural signal below the semantic threshold, is returned unchanged.
func (s *Splitter) Split(ctx context.Context, cand domain.ConceptCandidate) ([]domain.ConceptCandidate, error) {
	// Already atomic: produced by a prior split or explicitly resolved.
	if cand.SplitMethod != domain.SplitMethodNone || cand.ParentCompound != "" {
		return []domain.ConceptCandidate{cand}, nil
	}

	profile, ok := domain.ProfileFor(cand.Category)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("unrecognized concept category: %s", cand.Category))
	}
	if !profile.Splittable {
		return []domain.ConceptCandidate{cand}, nil
	}

	// Tier 1: structural conjunction/enumeration detection.
	if parts := splitByPattern(cand.RawLabel); len(parts) > 1 {
		return s.materialize(cand, parts, domain.SplitMethodPattern, patternDamping), nil
	}

	// Tier 2: semantic decomposition, only past the category's length
	// threshold. A failed LLM call falls back to the heuristic tier rather
	// than aborting the candidate.
	if profile.SplitLengthThreshold > 0 && len([]rune(cand.RawLabel)) > profile.SplitLengthThreshold {
		if s.llm != nil {
			parts, err := s.decompose(ctx, cand, profile)
			if err != nil {
				log.Printf("split: semantic decomposition failed for %q, trying heuristic: %v", cand.RawLabel, err)
			} else if len(parts) > 1 {
				return s.materialize(cand, parts, domain.SplitMethodLLM, llmDamping), nil
			} else {
				return []domain.ConceptCandidate{cand}, nil
			}
		}
		if parts := splitHeuristic(cand.RawLabel); len(parts) > 1 {
			return s.materialize(cand, parts, domain.SplitMethodHeuristic, heuristicDamping), nil
		}
	}

	// Tier 3: no split.
	return []domain.ConceptCandidate{cand}, nil
}

// SplitAll splits a batch of candidates, preserving order.
func (s *Splitter) SplitAll(ctx context.Context, cands []domain.ConceptCandidate) ([]domain.ConceptCandidate, error) {
	out := make([]domain.ConceptCandidate, 0, len(cands))
	for _, cand := range cands {
		atoms, err := s.Split(ctx, cand)
		if err != nil {
			return nil, err
		}
		out = append(out, atoms...)
	}
	return out, nil
}

func (s *Splitter) materialize(
	compound domain.ConceptCandidate,
	labels []string,
	method domain.SplitMethod,
	damping float64,
) []domain.ConceptCandidate {
	atoms := make([]domain.ConceptCandidate, 0, len(labels))
	for _, label := range labels {
		atom := compound
		atom.ID = ""
		atom.RawLabel = label
		atom.SplitMethod = method
		atom.ParentCompound = compound.RawLabel
		atom.Confidence = compound.Confidence * damping
		if atom.Confidence > compound.Confidence {
			atom.Confidence = compound.Confidence
		}
		atoms = append(atoms, atom)
	}
	return atoms
}

func (s *Splitter) decompose(
	ctx context.Context,
	cand domain.ConceptCandidate,
	profile domain.CategoryProfile,
) ([]string, error) {
	prompt := fmt.Sprintf(decompositionUserPrompt, profile.Category, cand.RawLabel)
	content, err := s.llm.Complete(ctx, decompositionSystemPrompt, prompt, decompositionMaxTokens)
	if err != nil {
		return nil, domain.NewTransientError("decomposition call failed", err)
	}

	jsonStr := extractJSONArray(content)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON array found in decomposition response")
	}

	var labels []string
	if err := json.Unmarshal([]byte(jsonStr), &labels); err != nil {
		return nil, fmt.Errorf("invalid decomposition response: %w", err)
	}

	cleaned := make([]string, 0, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label != "" {
			cleaned = append(cleaned, label)
		}
	}
	return cleaned, nil
}
