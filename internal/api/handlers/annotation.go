package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ethos-works/ethosgraph/internal/api"
	"github.com/ethos-works/ethosgraph/internal/api/middleware"
	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/service"
)

type AnnotationService interface {
	Approve(ctx context.Context, lineageID string, expectedVersion int64, actor string) (*domain.Annotation, error)
	Reject(ctx context.Context, lineageID string, expectedVersion int64, actor, reason string) (*domain.Annotation, error)
	Edit(ctx context.Context, lineageID string, expectedVersion int64, actor string, edit service.EditInput) (*domain.Annotation, error)
	Reopen(ctx context.Context, lineageID string, expectedVersion int64, actor string, edit service.EditInput) (*domain.Annotation, error)
	Versions(ctx context.Context, lineageID string) ([]*domain.Annotation, error)
	Queue(ctx context.Context, input service.QueueInput) (*service.AnnotationPageResult, error)
}

type AnnotationHandler struct {
	svc AnnotationService
}

func NewAnnotationHandler(svc AnnotationService) *AnnotationHandler {
	return &AnnotationHandler{svc: svc}
}

type TransitionRequest struct {
	ExpectedVersion int64  `json:"expected_version"`
	Reason          string `json:"reason,omitempty"`
}

type EditRequest struct {
	ExpectedVersion int64    `json:"expected_version"`
	TextSegment     *string  `json:"text_segment,omitempty"`
	SpanStart       *int     `json:"span_start,omitempty"`
	SpanEnd         *int     `json:"span_end,omitempty"`
	Category        *string  `json:"category,omitempty"`
	ConceptURI      *string  `json:"concept_uri,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	Reasoning       *string  `json:"reasoning,omitempty"`
}

type AnnotationResponse struct {
	ID            string  `json:"id"`
	LineageID     string  `json:"lineage_id"`
	VersionNumber int64   `json:"version_number"`
	DocumentID    string  `json:"document_id"`
	TextSegment   string  `json:"text_segment"`
	SpanStart     int     `json:"span_start"`
	SpanEnd       int     `json:"span_end"`
	Category      string  `json:"category"`
	ConceptURI    string  `json:"concept_uri,omitempty"`
	Confidence    float64 `json:"confidence"`
	Stage         string  `json:"stage"`
	Reasoning     string  `json:"reasoning,omitempty"`
	Actor         string  `json:"actor,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

type QueuePageResponse struct {
	Items   []*AnnotationResponse `json:"items"`
	Cursor  string                `json:"cursor,omitempty"`
	HasMore bool                  `json:"has_more"`
}

func annotationToResponse(a *domain.Annotation) *AnnotationResponse {
	return &AnnotationResponse{
		ID:            a.ID,
		LineageID:     a.LineageID,
		VersionNumber: a.VersionNumber,
		DocumentID:    a.DocumentID,
		TextSegment:   a.TextSegment,
		SpanStart:     a.SpanStart,
		SpanEnd:       a.SpanEnd,
		Category:      string(a.Category),
		ConceptURI:    a.ConceptURI,
		Confidence:    a.Confidence,
		Stage:         string(a.Stage),
		Reasoning:     a.Reasoning,
		Actor:         a.Actor,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
}

// Queue handles GET /annotations: the review queue with stage, category and
// document filters plus cursor pagination.
func (h *AnnotationHandler) Queue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			api.Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	page, err := h.svc.Queue(r.Context(), service.QueueInput{
		Filter: service.QueueFilter{
			Stage:      domain.ApprovalStage(q.Get("stage")),
			Category:   domain.ConceptCategory(q.Get("category")),
			DocumentID: q.Get("document_id"),
		},
		Cursor: q.Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*AnnotationResponse, 0, len(page.Items))
	for _, a := range page.Items {
		items = append(items, annotationToResponse(a))
	}
	api.Success(w, http.StatusOK, QueuePageResponse{
		Items:   items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	})
}

func (h *AnnotationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	lineageID, req, ok := h.transitionRequest(w, r)
	if !ok {
		return
	}

	ann, err := h.svc.Approve(r.Context(), lineageID, req.ExpectedVersion, middleware.GetActor(r.Context()))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, annotationToResponse(ann))
}

func (h *AnnotationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	lineageID, req, ok := h.transitionRequest(w, r)
	if !ok {
		return
	}

	ann, err := h.svc.Reject(r.Context(), lineageID, req.ExpectedVersion, middleware.GetActor(r.Context()), req.Reason)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, annotationToResponse(ann))
}

func (h *AnnotationHandler) Edit(w http.ResponseWriter, r *http.Request) {
	lineageID := chi.URLParam(r, "lineage_id")
	if lineageID == "" {
		api.Error(w, http.StatusBadRequest, "lineage_id is required")
		return
	}

	req, edit, ok := h.editRequest(w, r)
	if !ok {
		return
	}

	ann, err := h.svc.Edit(r.Context(), lineageID, req.ExpectedVersion, middleware.GetActor(r.Context()), edit)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, annotationToResponse(ann))
}

func (h *AnnotationHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	lineageID := chi.URLParam(r, "lineage_id")
	if lineageID == "" {
		api.Error(w, http.StatusBadRequest, "lineage_id is required")
		return
	}

	req, edit, ok := h.editRequest(w, r)
	if !ok {
		return
	}

	ann, err := h.svc.Reopen(r.Context(), lineageID, req.ExpectedVersion, middleware.GetActor(r.Context()), edit)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, annotationToResponse(ann))
}

// Versions handles GET /annotations/{lineage_id}/versions: the full audit
// chain, oldest first.
func (h *AnnotationHandler) Versions(w http.ResponseWriter, r *http.Request) {
	lineageID := chi.URLParam(r, "lineage_id")
	if lineageID == "" {
		api.Error(w, http.StatusBadRequest, "lineage_id is required")
		return
	}

	versions, err := h.svc.Versions(r.Context(), lineageID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*AnnotationResponse, 0, len(versions))
	for _, v := range versions {
		items = append(items, annotationToResponse(v))
	}
	api.Success(w, http.StatusOK, items)
}

func (h *AnnotationHandler) transitionRequest(w http.ResponseWriter, r *http.Request) (string, *TransitionRequest, bool) {
	lineageID := chi.URLParam(r, "lineage_id")
	if lineageID == "" {
		api.Error(w, http.StatusBadRequest, "lineage_id is required")
		return "", nil, false
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return "", nil, false
	}
	if req.ExpectedVersion < 1 {
		api.Error(w, http.StatusBadRequest, "expected_version is required")
		return "", nil, false
	}
	return lineageID, &req, true
}

func (h *AnnotationHandler) editRequest(w http.ResponseWriter, r *http.Request) (*EditRequest, service.EditInput, bool) {
	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return nil, service.EditInput{}, false
	}
	if req.ExpectedVersion < 1 {
		api.Error(w, http.StatusBadRequest, "expected_version is required")
		return nil, service.EditInput{}, false
	}

	edit := service.EditInput{
		TextSegment: req.TextSegment,
		SpanStart:   req.SpanStart,
		SpanEnd:     req.SpanEnd,
		ConceptURI:  req.ConceptURI,
		Confidence:  req.Confidence,
		Reasoning:   req.Reasoning,
	}
	if req.Category != nil {
		category := domain.ConceptCategory(*req.Category)
		if !domain.IsValidCategory(category) {
			api.Error(w, http.StatusBadRequest, "invalid category")
			return nil, service.EditInput{}, false
		}
		edit.Category = &category
	}
	return &req, edit, true
}
