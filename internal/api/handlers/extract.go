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

type ExtractService interface {
	QueueRun(ctx context.Context, documentID string) (*domain.RunJob, error)
	GetRunJob(ctx context.Context, id string) (*domain.RunJob, error)
}

type PipelineService interface {
	Run(ctx context.Context, documentID string) (*service.RunReport, error)
	ExtractSlice(ctx context.Context, documentID string, pass domain.Pass, category domain.ConceptCategory) ([]domain.ConceptCandidate, error)
}

// ExtractHandler starts extraction runs. By default the run is enqueued for
// the background worker; synchronous=true executes it inline, which suits
// small narratives and tests. A pass or category in the request runs just
// that slice inline and returns the surfaced candidates.
type ExtractHandler struct {
	svc      ExtractService
	pipeline PipelineService
}

func NewExtractHandler(svc ExtractService, pipeline PipelineService) *ExtractHandler {
	return &ExtractHandler{svc: svc, pipeline: pipeline}
}

type ExtractRequest struct {
	DocumentID  string `json:"document_id"`
	Pass        int    `json:"pass,omitempty"`
	Category    string `json:"category,omitempty"`
	Synchronous bool   `json:"synchronous,omitempty"`
}

type CandidateResponse struct {
	ID             string  `json:"id"`
	SpanStart      int     `json:"span_start"`
	SpanEnd        int     `json:"span_end"`
	Category       string  `json:"category"`
	Label          string  `json:"label"`
	Confidence     float64 `json:"confidence"`
	Pass           int     `json:"pass"`
	SplitMethod    string  `json:"split_method"`
	ParentCompound string  `json:"parent_compound,omitempty"`
	LowContext     bool    `json:"low_context,omitempty"`
}

type SliceResponse struct {
	DocumentID string               `json:"document_id"`
	Candidates []*CandidateResponse `json:"candidates"`
}

func candidateToResponse(c *domain.ConceptCandidate) *CandidateResponse {
	return &CandidateResponse{
		ID:             c.ID,
		SpanStart:      c.Span.Start,
		SpanEnd:        c.Span.End,
		Category:       string(c.Category),
		Label:          c.RawLabel,
		Confidence:     c.Confidence,
		Pass:           int(c.PassNumber),
		SplitMethod:    string(c.SplitMethod),
		ParentCompound: c.ParentCompound,
		LowContext:     c.LowContext,
	}
}

type RunJobResponse struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Status      string `json:"status"`
	Retries     int    `json:"retries"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

func runJobToResponse(j *domain.RunJob) *RunJobResponse {
	resp := &RunJobResponse{
		ID:         j.ID,
		DocumentID: j.DocumentID,
		Status:     string(j.Status),
		Retries:    j.Retries,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
	}
	if j.ProcessedAt != nil {
		resp.ProcessedAt = j.ProcessedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *ExtractHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocumentID == "" {
		api.Error(w, http.StatusBadRequest, "document_id is required")
		return
	}

	if req.Pass != 0 || req.Category != "" {
		candidates, err := h.pipeline.ExtractSlice(r.Context(), req.DocumentID,
			domain.Pass(req.Pass), domain.ConceptCategory(req.Category))
		if err != nil {
			api.HandleError(w, err)
			return
		}
		resp := &SliceResponse{DocumentID: req.DocumentID, Candidates: make([]*CandidateResponse, 0, len(candidates))}
		for i := range candidates {
			resp.Candidates = append(resp.Candidates, candidateToResponse(&candidates[i]))
		}
		api.Success(w, http.StatusOK, resp)
		return
	}

	if req.Synchronous {
		report, err := h.pipeline.Run(r.Context(), req.DocumentID)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		api.Success(w, http.StatusOK, report)
		return
	}

	job, err := h.svc.QueueRun(r.Context(), req.DocumentID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusAccepted, runJobToResponse(job))
}

// Job handles GET /extract/jobs/{id}: poll a queued extraction run.
func (h *ExtractHandler) Job(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "job id is required")
		return
	}

	job, err := h.svc.GetRunJob(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, runJobToResponse(job))
}
