package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethos-works/ethosgraph/internal/api/handlers"
	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/service"
)

type stubDocumentService struct{}

func (stubDocumentService) Ingest(ctx context.Context, input service.IngestInput) (*domain.Document, error) {
	return nil, domain.NewDomainError(domain.ErrCodeValidation, "not under test")
}

func (stubDocumentService) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	return nil, domain.ErrDocumentNotFound
}

func (stubDocumentService) List(ctx context.Context) ([]*domain.Document, error) {
	return []*domain.Document{}, nil
}

func testRouter() http.Handler {
	return NewRouter(RouterConfig{
		AuthValidator:     service.NewAuthService([]string{"alice:sk-test"}),
		DocumentHandler:   handlers.NewDocumentHandler(stubDocumentService{}),
		ExtractHandler:    handlers.NewExtractHandler(nil, nil),
		AnnotationHandler: handlers.NewAnnotationHandler(nil),
		SyncHandler:       handlers.NewSyncHandler(nil),
	})
}

func TestRouter(t *testing.T) {
	router := testRouter()

	t.Run("health endpoint needs no credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Data["status"])
	})

	t.Run("api routes reject missing credentials", func(t *testing.T) {
		for _, route := range []struct{ method, path string }{
			{http.MethodGet, "/documents"},
			{http.MethodPost, "/extract"},
			{http.MethodGet, "/annotations"},
			{http.MethodPost, "/sync/refresh"},
		} {
			req := httptest.NewRequest(route.method, route.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
		}
	})

	t.Run("valid key reaches the handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/documents", nil)
		req.Header.Set("Authorization", "Bearer sk-test")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("every response carries a request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})
}
