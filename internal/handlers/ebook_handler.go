package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/models"
	"github.com/ternarybob/folio/internal/services/ebooks"
)

// EbookHandler handles ebook and stage HTTP requests
type EbookHandler struct {
	service EbookService
	logger  arbor.ILogger
}

// NewEbookHandler creates a new ebook handler
func NewEbookHandler(service EbookService, logger arbor.ILogger) *EbookHandler {
	return &EbookHandler{
		service: service,
		logger:  logger,
	}
}

// approveRequest carries an optional edited description
type approveRequest struct {
	Description *models.Description `json:"description"`
}

// CreateEbookHandler handles POST /api/ebooks
func (h *EbookHandler) CreateEbookHandler(w http.ResponseWriter, r *http.Request) {
	var req ebooks.CreateRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ebook, err := h.service.Create(r.Context(), req)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to create ebook")
		return
	}
	WriteJSON(w, http.StatusCreated, ebook)
}

// GetEbookHandler handles GET /api/ebooks/{id}?agency_id=
func (h *EbookHandler) GetEbookHandler(w http.ResponseWriter, r *http.Request) {
	ebook, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("agency_id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to get ebook")
		return
	}
	WriteJSON(w, http.StatusOK, ebook)
}

// ListEbooksHandler handles GET /api/ebooks?agency_id=
func (h *EbookHandler) ListEbooksHandler(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), r.URL.Query().Get("agency_id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to list ebooks")
		return
	}
	if list == nil {
		list = []*models.Ebook{}
	}
	WriteJSON(w, http.StatusOK, list)
}

// ApproveDescriptionHandler handles POST /api/ebooks/{id}/approve
func (h *EbookHandler) ApproveDescriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ebook, err := h.service.ApproveDescription(r.Context(), chi.URLParam(r, "id"), req.Description)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to approve description")
		return
	}
	WriteJSON(w, http.StatusOK, ebook)
}

// EnqueueStageHandler handles POST /api/ebooks/{id}/jobs/{step}
func (h *EbookHandler) EnqueueStageHandler(w http.ResponseWriter, r *http.Request) {
	step, err := models.ParseJobStep(chi.URLParam(r, "step"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.service.EnqueueStage(r.Context(), chi.URLParam(r, "id"), step)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to enqueue job")
		return
	}
	WriteJSON(w, http.StatusAccepted, record)
}

// ListJobsHandler handles GET /api/ebooks/{id}/jobs?agency_id=
func (h *EbookHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("agency_id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.JobRecord{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// GetJobHandler handles GET /api/jobs/{id}?agency_id=
func (h *EbookHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.JobStatus(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("agency_id"))
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to get job status")
		return
	}
	WriteJSON(w, http.StatusOK, view)
}
