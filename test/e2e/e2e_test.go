//go:build e2e

package e2e

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const caseNarrative = "The engineer reported the hazard to the city without delay, because public safety outweighed the client's interest in confidentiality."

type annotationItem struct {
	ID            string  `json:"id"`
	LineageID     string  `json:"lineage_id"`
	VersionNumber int64   `json:"version_number"`
	DocumentID    string  `json:"document_id"`
	TextSegment   string  `json:"text_segment"`
	SpanStart     int     `json:"span_start"`
	SpanEnd       int     `json:"span_end"`
	Category      string  `json:"category"`
	ConceptURI    string  `json:"concept_uri"`
	Confidence    float64 `json:"confidence"`
	Stage         string  `json:"stage"`
	Reasoning     string  `json:"reasoning"`
	Actor         string  `json:"actor"`
}

type queuePage struct {
	Items   []*annotationItem `json:"items"`
	Cursor  string            `json:"cursor"`
	HasMore bool              `json:"has_more"`
}

func (e *E2ETestEnv) queue(query string) *queuePage {
	resp, err := e.Get("/annotations?"+query, e2eAPIKey)
	require.NoError(e.T, err)

	var page queuePage
	require.NoError(e.T, json.Unmarshal(resp.Data, &page))
	return &page
}

func TestE2E_HealthAndAuth(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	resp, err := env.Get("/health", "")
	require.NoError(t, err)
	assert.Contains(t, string(resp.Data), "ok")

	_, err = env.Get("/documents", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")

	_, err = env.Get("/documents", "sk-wrong-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestE2E_DocumentLifecycle(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	docID := env.CreateDocument("Hazard disclosure", caseNarrative)
	require.NotEmpty(t, docID)

	resp, err := env.Get("/documents/"+docID, e2eAPIKey)
	require.NoError(t, err)

	var doc struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		Body       string `json:"body"`
		StorageKey string `json:"storage_key"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &doc))
	assert.Equal(t, "Hazard disclosure", doc.Title)
	assert.Equal(t, caseNarrative, doc.Body)
	require.NotEmpty(t, doc.StorageKey)

	// The raw narrative is archived verbatim in object storage.
	archived, err := env.S3Client.GetObject(env.Ctx, doc.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, caseNarrative, string(archived))

	// Listing omits bodies.
	listResp, err := env.Get("/documents", e2eAPIKey)
	require.NoError(t, err)

	var docs []struct {
		ID   string `json:"id"`
		Body string `json:"body"`
	}
	require.NoError(t, json.Unmarshal(listResp.Data, &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, docID, docs[0].ID)
	assert.Empty(t, docs[0].Body)
}

func TestE2E_ExtractionReviewCommit(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	docID := env.CreateDocument("Hazard disclosure", caseNarrative)
	report := env.RunExtraction(docID)

	assert.Equal(t, docID, report.DocumentID)
	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, 3, report.Annotations)
	assert.Empty(t, report.FailedCategories)

	page := env.queue("stage=llm_extracted&document_id=" + docID)
	require.Len(t, page.Items, 3)

	byCategory := make(map[string]*annotationItem)
	for _, item := range page.Items {
		assert.Equal(t, int64(1), item.VersionNumber)
		assert.Equal(t, caseNarrative[item.SpanStart:item.SpanEnd], item.TextSegment)
		byCategory[item.Category] = item
	}

	// Matched concept carries the ontology URI with attenuated confidence.
	engineer := byCategory["role"]
	require.NotNil(t, engineer)
	assert.Equal(t, "eth:Engineer", engineer.ConceptURI)
	assert.InDelta(t, 0.9*0.95, engineer.Confidence, 1e-9)

	// Ambiguous match surfaces its top candidates for the reviewer.
	duty := byCategory["obligation"]
	require.NotNil(t, duty)
	assert.Empty(t, duty.ConceptURI)
	assert.Contains(t, duty.Reasoning, "ambiguous_match_candidates")
	assert.Contains(t, duty.Reasoning, "eth:DutyToWarn")

	// New concept proposal has no URI and keeps its raw confidence.
	safety := byCategory["principle"]
	require.NotNil(t, safety)
	assert.Empty(t, safety.ConceptURI)
	assert.InDelta(t, 0.85, safety.Confidence, 1e-9)

	// Two-step approval: llm_approved, then user_approved.
	resp, err := env.Post("/annotations/"+engineer.LineageID+"/approve", map[string]int64{"expected_version": 1}, e2eAPIKey)
	require.NoError(t, err)
	var approved annotationItem
	require.NoError(t, json.Unmarshal(resp.Data, &approved))
	assert.Equal(t, "llm_approved", approved.Stage)
	assert.Equal(t, int64(2), approved.VersionNumber)
	assert.Equal(t, e2eActor, approved.Actor)

	resp, err = env.Post("/annotations/"+engineer.LineageID+"/approve", map[string]int64{"expected_version": 2}, e2eAPIKey)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(resp.Data, &approved))
	assert.Equal(t, "user_approved", approved.Stage)

	// Committing before user approval is rejected.
	_, err = env.Post("/commits/"+duty.LineageID, nil, e2eAPIKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")

	// Commit pushes an individual under the matched concept.
	resp, err = env.Post("/commits/"+engineer.LineageID, nil, e2eAPIKey)
	require.NoError(t, err)

	var record struct {
		LineageID       string `json:"lineage_id"`
		ExternalURI     string `json:"external_uri"`
		Kind            string `json:"kind"`
		MissingUpstream bool   `json:"missing_upstream"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &record))
	assert.Equal(t, engineer.LineageID, record.LineageID)
	assert.Equal(t, "individual", record.Kind)
	assert.True(t, strings.HasPrefix(record.ExternalURI, "https://ontology.example.org/ethics/"))
	assert.False(t, record.MissingUpstream)

	entity, err := env.Store.GetEntity(env.Ctx, record.ExternalURI)
	require.NoError(t, err)
	assert.Equal(t, "eth:Engineer", entity.ParentURI)
	assert.Equal(t, engineer.TextSegment, entity.Label)

	// Recommitting an unchanged lineage is idempotent.
	resp, err = env.Post("/commits/"+engineer.LineageID, nil, e2eAPIKey)
	require.NoError(t, err)
	var recommit struct {
		ExternalURI string `json:"external_uri"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &recommit))
	assert.Equal(t, record.ExternalURI, recommit.ExternalURI)

	// Refresh against the store: nothing drifted yet.
	resp, err = env.Post("/sync/refresh", nil, e2eAPIKey)
	require.NoError(t, err)

	var sync struct {
		Checked   int `json:"checked"`
		Unchanged int `json:"unchanged"`
		Missing   int `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &sync))
	assert.Equal(t, 1, sync.Checked)
	assert.Equal(t, 1, sync.Unchanged)

	// Out-of-band deletion upstream is detected on the next refresh.
	env.Store.RemoveEntity(record.ExternalURI)
	resp, err = env.Post("/sync/refresh", nil, e2eAPIKey)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(resp.Data, &sync))
	assert.Equal(t, 1, sync.Missing)
}

func TestE2E_ApprovalVersionConflict(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	docID := env.CreateDocument("Hazard disclosure", caseNarrative)
	env.RunExtraction(docID)

	page := env.queue("category=role&document_id=" + docID)
	require.Len(t, page.Items, 1)
	lineageID := page.Items[0].LineageID

	_, err := env.Post("/annotations/"+lineageID+"/approve", map[string]int64{"expected_version": 1}, e2eAPIKey)
	require.NoError(t, err)

	// A second reviewer working from the same stale version loses.
	_, err = env.Post("/annotations/"+lineageID+"/approve", map[string]int64{"expected_version": 1}, e2eAPIKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 409")

	// The chain is unaffected by the lost write.
	versionsResp, err := env.Get("/annotations/"+lineageID+"/versions", e2eAPIKey)
	require.NoError(t, err)
	var versions []*annotationItem
	require.NoError(t, json.Unmarshal(versionsResp.Data, &versions))
	require.Len(t, versions, 2)
	assert.Equal(t, "llm_approved", versions[1].Stage)
}

func TestE2E_RejectAndReopen(t *testing.T) {
	env := SetupE2EEnv(t)
	defer env.Cleanup()

	docID := env.CreateDocument("Hazard disclosure", caseNarrative)
	env.RunExtraction(docID)

	page := env.queue("category=principle&document_id=" + docID)
	require.Len(t, page.Items, 1)
	lineageID := page.Items[0].LineageID

	resp, err := env.Post("/annotations/"+lineageID+"/reject", map[string]interface{}{
		"expected_version": 1,
		"reason":           "span cuts the phrase in half",
	}, e2eAPIKey)
	require.NoError(t, err)

	var rejected annotationItem
	require.NoError(t, json.Unmarshal(resp.Data, &rejected))
	assert.Equal(t, "rejected", rejected.Stage)
	assert.Equal(t, "span cuts the phrase in half", rejected.Reasoning)

	// Terminal lineages cannot be edited in place.
	_, err = env.Patch("/annotations/"+lineageID, map[string]interface{}{
		"expected_version": 2,
		"confidence":       0.6,
	}, e2eAPIKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")

	// Reopen returns the lineage to the start of the review ladder.
	resp, err = env.Post("/annotations/"+lineageID+"/reopen", map[string]interface{}{
		"expected_version": 2,
		"confidence":       0.6,
	}, e2eAPIKey)
	require.NoError(t, err)

	var reopened annotationItem
	require.NoError(t, json.Unmarshal(resp.Data, &reopened))
	assert.Equal(t, "llm_extracted", reopened.Stage)
	assert.Equal(t, int64(3), reopened.VersionNumber)
	assert.InDelta(t, 0.6, reopened.Confidence, 1e-9)

	versionsResp, err := env.Get("/annotations/"+lineageID+"/versions", e2eAPIKey)
	require.NoError(t, err)
	var versions []*annotationItem
	require.NoError(t, json.Unmarshal(versionsResp.Data, &versions))
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v.VersionNumber)
	}
}
