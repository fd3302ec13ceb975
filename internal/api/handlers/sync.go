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

type CommitSyncService interface {
	Commit(ctx context.Context, input service.CommitInput) (*domain.CommitRecord, error)
	Refresh(ctx context.Context) (*domain.SyncReport, error)
}

type SyncHandler struct {
	svc CommitSyncService
}

func NewSyncHandler(svc CommitSyncService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

type CommitRequest struct {
	Kind string `json:"kind,omitempty"` // class or individual; derived when empty
}

type CommitRecordResponse struct {
	LineageID       string `json:"lineage_id"`
	ExternalURI     string `json:"external_uri"`
	Kind            string `json:"kind"`
	LastSyncedAt    string `json:"last_synced_at"`
	MissingUpstream bool   `json:"missing_upstream"`
}

func commitRecordToResponse(rec *domain.CommitRecord) *CommitRecordResponse {
	return &CommitRecordResponse{
		LineageID:       rec.LineageID,
		ExternalURI:     rec.ExternalURI,
		Kind:            string(rec.Kind),
		LastSyncedAt:    rec.LastSyncedAt.Format(time.RFC3339),
		MissingUpstream: rec.MissingUpstream,
	}
}

// Commit handles POST /commits/{lineage_id}.
func (h *SyncHandler) Commit(w http.ResponseWriter, r *http.Request) {
	lineageID := chi.URLParam(r, "lineage_id")
	if lineageID == "" {
		api.Error(w, http.StatusBadRequest, "lineage_id is required")
		return
	}

	var req CommitRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	kind := domain.EntityKind(req.Kind)
	if req.Kind != "" && !domain.IsValidEntityKind(kind) {
		api.Error(w, http.StatusBadRequest, "kind must be class or individual")
		return
	}

	rec, err := h.svc.Commit(r.Context(), service.CommitInput{
		LineageID: lineageID,
		Kind:      kind,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, commitRecordToResponse(rec))
}

// Refresh handles POST /sync/refresh.
func (h *SyncHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Refresh(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, report)
}
