package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/ethos-works/ethosgraph/internal/domain"
)

const (
	// DefaultLowContextPenalty attenuates candidate confidence when the
	// hierarchical entity store was unreachable and extraction ran on the
	// input text alone.
	DefaultLowContextPenalty = 0.8

	// maxContextLabels caps how many known concept labels are injected
	// into the prompt as disambiguating context.
	maxContextLabels = 40

	extractionMaxTokens = 2048
)

// ChatClient defines the LLM capability consumed by extraction and
// semantic splitting.
type ChatClient interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// ContextSource supplies known concept labels under a category root, used
// as disambiguating context for extraction prompts. Implemented by the
// hierarchical entity store client.
type ContextSource interface {
	KnownLabels(ctx context.Context, category domain.ConceptCategory) ([]string, error)
}

// Extractor runs per-category LLM extraction over case narratives.
type Extractor struct {
	llm        ChatClient
	contextSrc ContextSource
	penalty    float64
	windowCfg  WindowConfig
}

// NewExtractor creates an Extractor. contextSrc may be nil, in which case
// every extraction runs in degraded (low-context) mode.
func NewExtractor(llm ChatClient, contextSrc ContextSource) *Extractor {
	return &Extractor{
		llm:        llm,
		contextSrc: contextSrc,
		penalty:    DefaultLowContextPenalty,
		windowCfg:  DefaultWindowConfig(),
	}
}

// NewExtractorWithPenalty creates an Extractor with an explicit low-context
// confidence penalty factor.
func NewExtractorWithPenalty(llm ChatClient, contextSrc ContextSource, penalty float64) *Extractor {
	e := NewExtractor(llm, contextSrc)
	if penalty > 0 && penalty <= 1 {
		e.penalty = penalty
	}
	return e
}

// Input describes one per-category extraction call. PriorEntities carries
// labels surfaced by earlier passes on the same document.
type Input struct {
	Document      *domain.Document
	Category      domain.ConceptCategory
	PriorEntities []string
}

// Result is the outcome of one extraction call. LowContext marks degraded
// operation: the entity store was unreachable, candidates were kept but
// flagged and attenuated rather than dropped. Skipped counts malformed
// candidates rejected at ingestion.
type Result struct {
	Candidates []domain.ConceptCandidate
	LowContext bool
	Skipped    int
}

// rawCandidate mirrors the JSON contract of the extraction prompt.
type rawCandidate struct {
	Label      string  `json:"label"`
	Quote      string  `json:"quote"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Extract runs one per-category extraction call against the document,
// windowing long narratives. Candidates whose spans or fields fail
// validation are rejected and counted, never silently repaired.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Result, error) {
	if in.Document == nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "document is required")
	}
	profile, ok := domain.ProfileFor(in.Category)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("unrecognized concept category: %s", in.Category))
	}

	contextLabels, lowContext := e.loadContext(ctx, in.Category)

	docRunes := []rune(in.Document.Body)
	result := &Result{LowContext: lowContext}
	seen := make(map[string]struct{})

	for _, window := range windowText(in.Document.Body, e.windowCfg) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prompt := buildExtractionPrompt(profile, contextLabels, in.PriorEntities, window.Text)
		content, err := e.llm.Complete(ctx, extractionSystemPrompt, prompt, extractionMaxTokens)
		if err != nil {
			return nil, domain.NewTransientError(
				fmt.Sprintf("extraction call failed for category %s", in.Category), err)
		}

		raws, err := parseCandidateArray(content)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation,
				fmt.Sprintf("unparseable extraction response for category %s", in.Category), err)
		}

		now := time.Now().UTC()
		for _, raw := range raws {
			cand, err := e.buildCandidate(raw, in, profile, window, len(docRunes), lowContext, now)
			if err != nil {
				log.Printf("extract: rejected candidate %q for %s: %v", raw.Label, in.Category, err)
				result.Skipped++
				continue
			}
			// Window overlap can surface the same concept twice.
			key := fmt.Sprintf("%s|%d|%d", strings.ToLower(cand.RawLabel), cand.Span.Start, cand.Span.End)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			result.Candidates = append(result.Candidates, cand)
		}
	}

	return result, nil
}

// loadContext fetches known concept labels for the category. A transient
// store failure switches the call into degraded mode instead of failing:
// candidates are never dropped because of missing context.
func (e *Extractor) loadContext(ctx context.Context, category domain.ConceptCategory) ([]string, bool) {
	if e.contextSrc == nil {
		return nil, true
	}
	labels, err := e.contextSrc.KnownLabels(ctx, category)
	if err != nil {
		log.Printf("extract: entity store unavailable for %s, proceeding low-context: %v", category, err)
		return nil, true
	}
	if len(labels) > maxContextLabels {
		labels = labels[:maxContextLabels]
	}
	return labels, false
}

func (e *Extractor) buildCandidate(
	raw rawCandidate,
	in Input,
	profile domain.CategoryProfile,
	window Window,
	docLen int,
	lowContext bool,
	now time.Time,
) (domain.ConceptCandidate, error) {
	start := raw.Start + window.Offset
	end := raw.End + window.Offset

	// Offsets from the model drift; re-anchor on the quoted text when the
	// reported span does not reproduce the quote.
	if raw.Quote != "" && !spanMatchesQuote(window.Text, raw.Start, raw.End, raw.Quote) {
		if idx := runeIndex(window.Text, raw.Quote); idx >= 0 {
			start = idx + window.Offset
			end = start + len([]rune(raw.Quote))
		}
	}

	confidence := raw.Confidence
	if lowContext {
		confidence *= e.penalty
	}

	cand := domain.ConceptCandidate{
		Span: domain.TextSpan{
			DocumentID: in.Document.ID,
			Start:      start,
			End:        end,
		},
		Category:    in.Category,
		RawLabel:    strings.TrimSpace(raw.Label),
		Confidence:  confidence,
		PassNumber:  profile.Pass,
		SplitMethod: domain.SplitMethodNone,
		Reasoning:   strings.TrimSpace(raw.Reasoning),
		LowContext:  lowContext,
		CreatedAt:   now,
	}

	if err := domain.ValidateCandidate(&cand, docLen); err != nil {
		return domain.ConceptCandidate{}, err
	}
	return cand, nil
}

func buildExtractionPrompt(profile domain.CategoryProfile, known, prior []string, text string) string {
	var contextBlock strings.Builder
	if len(known) > 0 {
		contextBlock.WriteString("Known concepts of this category already in the ontology (reuse these labels when the narrative refers to the same concept):\n")
		for _, label := range known {
			contextBlock.WriteString("- " + label + "\n")
		}
		contextBlock.WriteString("\n")
	}
	if len(prior) > 0 {
		contextBlock.WriteString("Concepts surfaced by earlier passes on this narrative (use for disambiguation only, do not re-extract):\n")
		for _, label := range prior {
			contextBlock.WriteString("- " + label + "\n")
		}
		contextBlock.WriteString("\n")
	}

	return fmt.Sprintf(extractionUserPrompt,
		profile.Category, profile.Description, contextBlock.String(), profile.Category, text)
}

func spanMatchesQuote(text string, start, end int, quote string) bool {
	runes := []rune(text)
	if start < 0 || end > len(runes) || end <= start {
		return false
	}
	return string(runes[start:end]) == quote
}

// runeIndex returns the rune offset of substr in s, or -1.
func runeIndex(s, substr string) int {
	byteIdx := strings.Index(s, substr)
	if byteIdx < 0 {
		return -1
	}
	return len([]rune(s[:byteIdx]))
}

var codeBlockPattern = regexp.MustCompile("```(?:json)?\\s*\\n?([\\s\\S]*?)\\n?```")

// parseCandidateArray extracts the candidate array from an LLM response
// that may wrap the JSON in markdown formatting.
func parseCandidateArray(content string) ([]rawCandidate, error) {
	jsonStr := extractJSONArray(content)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var raws []rawCandidate
	if err := json.Unmarshal([]byte(jsonStr), &raws); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	return raws, nil
}

// extractJSONArray extracts a JSON array from a response that may include
// markdown code fences or surrounding prose.
func extractJSONArray(content string) string {
	if matches := codeBlockPattern.FindStringSubmatch(content); len(matches) > 1 {
		content = strings.TrimSpace(matches[1])
	}

	start := strings.Index(content, "[")
	if start == -1 {
		return ""
	}

	// json.Decoder finds the valid array boundary, which handles strings
	// containing brackets properly.
	decoder := json.NewDecoder(strings.NewReader(content[start:]))
	var raw json.RawMessage
	if err := decoder.Decode(&raw); err != nil {
		return ""
	}
	return string(raw)
}
