package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ethos-works/ethosgraph/internal/api"
	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/service"
)

type DocumentService interface {
	Ingest(ctx context.Context, input service.IngestInput) (*domain.Document, error)
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	List(ctx context.Context) ([]*domain.Document, error)
}

type DocumentHandler struct {
	svc DocumentService
}

func NewDocumentHandler(svc DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type CreateDocumentRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type DocumentResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func documentToResponse(d *domain.Document, includeBody bool) *DocumentResponse {
	resp := &DocumentResponse{
		ID:         d.ID,
		Title:      d.Title,
		StorageKey: d.StorageKey,
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
	}
	if includeBody {
		resp.Body = d.Body
	}
	return resp
}

func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Title == "" {
		api.Error(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Body == "" {
		api.Error(w, http.StatusBadRequest, "body is required")
		return
	}

	doc, err := h.svc.Ingest(r.Context(), service.IngestInput{
		Title: req.Title,
		Body:  req.Body,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, documentToResponse(doc, false))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	doc, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc, true))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.List(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*DocumentResponse, 0, len(docs))
	for _, d := range docs {
		items = append(items, documentToResponse(d, false))
	}
	api.Success(w, http.StatusOK, items)
}
