//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethos-works/ethosgraph/internal/api/handlers"
	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/extract"
	"github.com/ethos-works/ethosgraph/internal/match"
	"github.com/ethos-works/ethosgraph/internal/repository"
	"github.com/ethos-works/ethosgraph/internal/server"
	"github.com/ethos-works/ethosgraph/internal/service"
	"github.com/ethos-works/ethosgraph/internal/storage"
	"github.com/ethos-works/ethosgraph/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	e2eActor  = "reviewer"
	e2eAPIKey = "sk-e2e-key"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	Store        *fakeOntologyStore
	Matcher      *scriptedMatcher
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers and an
// in-process server. The LLM-backed extractor and matcher are replaced by
// deterministic scripted stubs; everything else is the real stack.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-narratives",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	store := newFakeOntologyStore()
	matcher := newScriptedMatcher()
	serverURL, serverCloser := startServer(t, pool, s3Client, store, matcher, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		S3Client:     s3Client,
		Store:        store,
		Matcher:      matcher,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, authToken)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest("POST", path, body, authToken)
}

// Patch performs a PATCH request
func (e *E2ETestEnv) Patch(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest("PATCH", path, body, authToken)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d [%s]: %s", resp.StatusCode, apiResp.Code, apiResp.Error)
	}

	return &apiResp, nil
}

// CreateDocument creates a document and returns its ID.
func (e *E2ETestEnv) CreateDocument(title, body string) string {
	resp, err := e.Post("/documents", map[string]string{"title": title, "body": body}, e2eAPIKey)
	if err != nil {
		e.T.Fatalf("failed to create document: %v", err)
	}
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Data, &doc); err != nil {
		e.T.Fatalf("failed to parse document response: %v", err)
	}
	return doc.ID
}

// RunExtraction runs the pipeline synchronously for the document.
func (e *E2ETestEnv) RunExtraction(documentID string) *service.RunReport {
	resp, err := e.Post("/extract", map[string]interface{}{
		"document_id": documentID,
		"synchronous": true,
	}, e2eAPIKey)
	if err != nil {
		e.T.Fatalf("failed to run extraction: %v", err)
	}
	var report service.RunReport
	if err := json.Unmarshal(resp.Data, &report); err != nil {
		e.T.Fatalf("failed to parse run report: %v", err)
	}
	return &report
}

// startServer starts the HTTP server with real repositories and services,
// backed by scripted extraction stubs instead of an LLM provider.
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, store *fakeOntologyStore, matcher *scriptedMatcher, port int) (string, func()) {
	documentRepo := repository.NewDocumentRepository(pool)
	candidateRepo := repository.NewCandidateRepository(pool)
	annotationRepo := repository.NewAnnotationRepository(pool)
	commitRepo := repository.NewCommitRecordRepository(pool)
	entityCacheRepo := repository.NewEntityCacheRepository(pool)
	runJobRepo := repository.NewRunJobRepository(pool)

	documentSvc := service.NewDocumentService(documentRepo, runJobRepo, s3Client)
	annotationSvc := service.NewAnnotationService(annotationRepo)
	pipelineSvc := service.NewPipelineService(documentRepo, candidateRepo, annotationRepo, &scriptedExtractor{}, passthroughSplitter{}, matcher)
	pipelineSvc.SetTxRunner(repository.NewTxRunner(pool))
	commitSvc := service.NewCommitService(annotationRepo, commitRepo, entityCacheRepo, store, "https://ontology.example.org/ethics")
	authSvc := service.NewAuthService([]string{e2eActor + ":" + e2eAPIKey})

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:     authSvc,
		DocumentHandler:   handlers.NewDocumentHandler(documentSvc),
		ExtractHandler:    handlers.NewExtractHandler(documentSvc, pipelineSvc),
		AnnotationHandler: handlers.NewAnnotationHandler(annotationSvc),
		SyncHandler:       handlers.NewSyncHandler(commitSvc),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// scriptedExtractor surfaces candidates deterministically by locating known
// phrases in the narrative, standing in for the LLM extractor.
type scriptedExtractor struct{}

type scriptedPhrase struct {
	label      string
	quote      string
	confidence float64
}

var extractionScript = map[domain.ConceptCategory][]scriptedPhrase{
	domain.CategoryRole:      {{label: "Engineer", quote: "engineer", confidence: 0.9}},
	domain.CategoryPrinciple: {{label: "Public Safety", quote: "public safety", confidence: 0.85}},
	domain.CategoryObligation: {
		{label: "Duty to Report", quote: "reported the hazard", confidence: 0.8},
	},
}

func (scriptedExtractor) Extract(ctx context.Context, in extract.Input) (*extract.Result, error) {
	result := &extract.Result{}
	for _, phrase := range extractionScript[in.Category] {
		idx := strings.Index(strings.ToLower(in.Document.Body), phrase.quote)
		if idx < 0 {
			continue
		}
		result.Candidates = append(result.Candidates, domain.ConceptCandidate{
			Span: domain.TextSpan{
				DocumentID: in.Document.ID,
				Start:      idx,
				End:        idx + len(phrase.quote),
			},
			Category:    in.Category,
			RawLabel:    phrase.label,
			Confidence:  phrase.confidence,
			PassNumber:  domain.PassFor(in.Category),
			SplitMethod: domain.SplitMethodNone,
			CreatedAt:   time.Now().UTC(),
		})
	}
	return result, nil
}

// passthroughSplitter treats every scripted candidate as already atomic.
type passthroughSplitter struct{}

func (passthroughSplitter) SplitAll(ctx context.Context, cands []domain.ConceptCandidate) ([]domain.ConceptCandidate, error) {
	return cands, nil
}

// scriptedMatcher classifies candidates from a fixed label script.
type scriptedMatcher struct {
	mu      sync.Mutex
	results map[string]*match.Result
}

func newScriptedMatcher() *scriptedMatcher {
	return &scriptedMatcher{results: map[string]*match.Result{
		"Engineer": {
			Classification: match.ClassificationExisting,
			MatchedURI:     "eth:Engineer",
			Score:          0.95,
		},
		"Duty to Report": {
			Classification: match.ClassificationAmbiguous,
			TopCandidates: []match.ScoredEntity{
				{Entity: domain.OntologyEntity{URI: "eth:DutyToReport", Label: "duty to report"}, Score: 0.74},
				{Entity: domain.OntologyEntity{URI: "eth:DutyToWarn", Label: "duty to warn"}, Score: 0.71},
			},
		},
	}}
}

func (m *scriptedMatcher) SyncHierarchy(ctx context.Context, category domain.ConceptCategory) error {
	return nil
}

func (m *scriptedMatcher) Match(ctx context.Context, cand domain.ConceptCandidate) (*match.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.results[cand.RawLabel]; ok {
		return r, nil
	}
	return &match.Result{Classification: match.ClassificationNew}, nil
}

// fakeOntologyStore is an in-memory external entity store.
type fakeOntologyStore struct {
	mu       sync.Mutex
	entities map[string]*domain.OntologyEntity
}

func newFakeOntologyStore() *fakeOntologyStore {
	return &fakeOntologyStore{entities: make(map[string]*domain.OntologyEntity)}
}

func (s *fakeOntologyStore) GetEntity(ctx context.Context, uri string) (*domain.OntologyEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[uri]
	if !ok {
		return nil, domain.ErrEntityNotFound
	}
	copied := *e
	return &copied, nil
}

func (s *fakeOntologyStore) CreateEntity(ctx context.Context, e *domain.OntologyEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *e
	s.entities[e.URI] = &copied
	return nil
}

func (s *fakeOntologyStore) UpdateEntity(ctx context.Context, e *domain.OntologyEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.URI]; !ok {
		return domain.ErrEntityNotFound
	}
	copied := *e
	s.entities[e.URI] = &copied
	return nil
}

// RemoveEntity simulates out-of-band deletion in the external store.
func (s *fakeOntologyStore) RemoveEntity(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, uri)
}
