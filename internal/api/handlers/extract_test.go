package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/service"
)

// MockExtractService is a mock implementation of ExtractService
type MockExtractService struct {
	mock.Mock
}

func (m *MockExtractService) QueueRun(ctx context.Context, documentID string) (*domain.RunJob, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunJob), args.Error(1)
}

func (m *MockExtractService) GetRunJob(ctx context.Context, id string) (*domain.RunJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunJob), args.Error(1)
}

// MockPipelineService is a mock implementation of PipelineService
type MockPipelineService struct {
	mock.Mock
}

func (m *MockPipelineService) Run(ctx context.Context, documentID string) (*service.RunReport, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RunReport), args.Error(1)
}

func (m *MockPipelineService) ExtractSlice(ctx context.Context, documentID string, pass domain.Pass, category domain.ConceptCategory) ([]domain.ConceptCandidate, error) {
	args := m.Called(ctx, documentID, pass, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ConceptCandidate), args.Error(1)
}

func extractRouter(svc ExtractService, pipeline PipelineService) http.Handler {
	h := NewExtractHandler(svc, pipeline)
	r := chi.NewRouter()
	r.Post("/extract", h.Extract)
	r.Get("/extract/jobs/{id}", h.Job)
	return r
}

func TestExtractHandler_Extract(t *testing.T) {
	t.Run("default request enqueues a background run", func(t *testing.T) {
		svc := new(MockExtractService)
		pipeline := new(MockPipelineService)
		svc.On("QueueRun", mock.Anything, "doc-1").Return(&domain.RunJob{
			ID:         "job-1",
			DocumentID: "doc-1",
			Status:     domain.RunJobStatusPending,
			CreatedAt:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		}, nil)

		body := bytes.NewBufferString(`{"document_id": "doc-1"}`)
		req := httptest.NewRequest(http.MethodPost, "/extract", body)
		rec := httptest.NewRecorder()
		extractRouter(svc, pipeline).ServeHTTP(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		var resp struct {
			Data RunJobResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "job-1", resp.Data.ID)
		assert.Equal(t, "pending", resp.Data.Status)
		pipeline.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	})

	t.Run("synchronous request runs inline and returns the report", func(t *testing.T) {
		svc := new(MockExtractService)
		pipeline := new(MockPipelineService)
		pipeline.On("Run", mock.Anything, "doc-1").Return(&service.RunReport{
			DocumentID:  "doc-1",
			Candidates:  7,
			Annotations: 6,
			Skipped:     1,
		}, nil)

		body := bytes.NewBufferString(`{"document_id": "doc-1", "synchronous": true}`)
		req := httptest.NewRequest(http.MethodPost, "/extract", body)
		rec := httptest.NewRecorder()
		extractRouter(svc, pipeline).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data service.RunReport `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 7, resp.Data.Candidates)
		assert.Equal(t, 6, resp.Data.Annotations)
		svc.AssertNotCalled(t, "QueueRun", mock.Anything, mock.Anything)
	})

	t.Run("document_id is required", func(t *testing.T) {
		svc := new(MockExtractService)
		req := httptest.NewRequest(http.MethodPost, "/extract", bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()
		extractRouter(svc, new(MockPipelineService)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "QueueRun", mock.Anything, mock.Anything)
	})

	t.Run("unknown document maps to 404", func(t *testing.T) {
		svc := new(MockExtractService)
		svc.On("QueueRun", mock.Anything, "missing").Return(nil, domain.ErrDocumentNotFound)

		body := bytes.NewBufferString(`{"document_id": "missing"}`)
		req := httptest.NewRequest(http.MethodPost, "/extract", body)
		rec := httptest.NewRecorder()
		extractRouter(svc, new(MockPipelineService)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("transient pipeline failure maps to 503", func(t *testing.T) {
		pipeline := new(MockPipelineService)
		pipeline.On("Run", mock.Anything, "doc-1").
			Return(nil, domain.NewTransientError("model unavailable", nil))

		body := bytes.NewBufferString(`{"document_id": "doc-1", "synchronous": true}`)
		req := httptest.NewRequest(http.MethodPost, "/extract", body)
		rec := httptest.NewRecorder()
		extractRouter(new(MockExtractService), pipeline).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("category request runs the slice and returns candidates", func(t *testing.T) {
		svc := new(MockExtractService)
		pipeline := new(MockPipelineService)
		pipeline.On("ExtractSlice", mock.Anything, "doc-1", domain.Pass(0), domain.CategoryRole).
			Return([]domain.ConceptCandidate{
				{
					ID:          "cand-1",
					Span:        domain.TextSpan{Start: 4, End: 12},
					Category:    domain.CategoryRole,
					RawLabel:    "engineer",
					Confidence:  0.9,
					PassNumber:  domain.PassContextual,
					SplitMethod: domain.SplitMethodNone,
				},
			}, nil)

		body := bytes.NewBufferString(`{"document_id": "doc-1", "category": "role"}`)
		req := httptest.NewRequest(http.MethodPost, "/extract", body)
		rec := httptest.NewRecorder()
		extractRouter(svc, pipeline).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data SliceResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "doc-1", resp.Data.DocumentID)
		require.Len(t, resp.Data.Candidates, 1)
		assert.Equal(t, "engineer", resp.Data.Candidates[0].Label)
		assert.Equal(t, "role", resp.Data.Candidates[0].Category)
		assert.Equal(t, 1, resp.Data.Candidates[0].Pass)
		svc.AssertNotCalled(t, "QueueRun", mock.Anything, mock.Anything)
	})

	t.Run("pass request runs the whole pass", func(t *testing.T) {
		pipeline := new(MockPipelineService)
		pipeline.On("ExtractSlice", mock.Anything, "doc-1", domain.PassNormative, domain.ConceptCategory("")).
			Return([]domain.ConceptCandidate{}, nil)

		body := bytes.NewBufferString(`{"document_id": "doc-1", "pass": 2}`)
		req := httptest.NewRequest(http.MethodPost, "/extract", body)
		rec := httptest.NewRecorder()
		extractRouter(new(MockExtractService), pipeline).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data SliceResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Data.Candidates)
	})

	t.Run("pass and category that disagree map to 400", func(t *testing.T) {
		pipeline := new(MockPipelineService)
		pipeline.On("ExtractSlice", mock.Anything, "doc-1", domain.PassTemporal, domain.CategoryRole).
			Return(nil, domain.NewDomainError(domain.ErrCodeValidation, "category role belongs to pass 1, not 3"))

		body := bytes.NewBufferString(`{"document_id": "doc-1", "pass": 3, "category": "role"}`)
		req := httptest.NewRequest(http.MethodPost, "/extract", body)
		rec := httptest.NewRecorder()
		extractRouter(new(MockExtractService), pipeline).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExtractHandler_Job(t *testing.T) {
	t.Run("returns the job by id", func(t *testing.T) {
		svc := new(MockExtractService)
		processed := time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC)
		svc.On("GetRunJob", mock.Anything, "job-1").Return(&domain.RunJob{
			ID:          "job-1",
			DocumentID:  "doc-1",
			Status:      domain.RunJobStatusCompleted,
			CreatedAt:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
			ProcessedAt: &processed,
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/extract/jobs/job-1", nil)
		rec := httptest.NewRecorder()
		extractRouter(svc, new(MockPipelineService)).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data RunJobResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "job-1", resp.Data.ID)
		assert.Equal(t, "completed", resp.Data.Status)
		assert.Equal(t, "2026-03-14T09:05:00Z", resp.Data.ProcessedAt)
	})

	t.Run("unknown job maps to 404", func(t *testing.T) {
		svc := new(MockExtractService)
		svc.On("GetRunJob", mock.Anything, "missing").Return(nil, domain.ErrRunJobNotFound)

		req := httptest.NewRequest(http.MethodGet, "/extract/jobs/missing", nil)
		rec := httptest.NewRecorder()
		extractRouter(svc, new(MockPipelineService)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
