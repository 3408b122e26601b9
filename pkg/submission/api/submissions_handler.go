package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/osu-cs493-sp23/tarpaulin/pkg/submission"
)

// DefaultMaxUploadBytes caps submission uploads at 32 MiB unless overridden.
const DefaultMaxUploadBytes = 32 << 20

// SubmissionsHandler exposes the submission pipeline over HTTP. Role and
// ownership checks happen upstream in the auth layer; this handler performs
// only the narrower identifier and existence checks the service defines.
type SubmissionsHandler struct {
	service        submission.Service
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewSubmissionsHandler creates a handler around the given service
func NewSubmissionsHandler(service submission.Service, opts ...HandlerOption) *SubmissionsHandler {
	h := &SubmissionsHandler{
		service:        service,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandlerOption represents a functional option for configuring the handler
type HandlerOption func(*SubmissionsHandler)

// WithMaxUploadBytes overrides the upload size cap
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *SubmissionsHandler) { h.maxUploadBytes = n }
}

// WithHandlerLogger sets the structured logger for the handler
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *SubmissionsHandler) { h.logger = logger }
}

// Routes returns the router for submission endpoints
func (h *SubmissionsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/assignments/{assignmentID}/submissions", h.CreateSubmission)
	r.Get("/assignments/{assignmentID}/submissions", h.ListSubmissions)
	r.Delete("/assignments/{assignmentID}/submissions", h.DeleteSubmissions)
	r.Get("/media/submissions/{id}", h.DownloadSubmission)
	r.Patch("/submissions/{id}", h.UpdateSubmission)
	return r
}

// CreateSubmissionResponse is returned after a successful upload
type CreateSubmissionResponse struct {
	ID string `json:"id"`
}

// UpdateSubmissionRequest carries a grade update
type UpdateSubmissionRequest struct {
	Grade *string `json:"grade"`
}

// CascadeDeleteResponse reports the outcome of a bulk delete
type CascadeDeleteResponse struct {
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// CreateSubmission handles POST /assignments/{assignmentID}/submissions.
// The upload is a multipart form with a "file" part and a "studentId" field.
func (h *SubmissionsHandler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := uuid.Parse(chi.URLParam(r, "assignmentID"))
	if err != nil {
		errorResponse(w, r, http.StatusBadRequest, "invalid assignment id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		errorResponse(w, r, http.StatusBadRequest, "request must include a file upload")
		return
	}
	defer file.Close()

	studentID, err := uuid.Parse(r.FormValue("studentId"))
	if err != nil {
		errorResponse(w, r, http.StatusBadRequest, "invalid student id")
		return
	}

	stored, err := h.service.Submit(r.Context(), submission.SubmitRequest{
		AssignmentID: assignmentID,
		StudentID:    studentID,
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Reader:       file,
	})
	if err != nil {
		h.renderServiceError(w, r, err, "submit")
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CreateSubmissionResponse{ID: stored.ID.String()})
}

// ListSubmissions handles GET /assignments/{assignmentID}/submissions with
// optional page and studentId query parameters.
func (h *SubmissionsHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := uuid.Parse(chi.URLParam(r, "assignmentID"))
	if err != nil {
		errorResponse(w, r, http.StatusBadRequest, "invalid assignment id")
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			page = parsed
		}
	}

	var result *submission.FilePage
	if raw := r.URL.Query().Get("studentId"); raw != "" {
		studentID, err := uuid.Parse(raw)
		if err != nil {
			errorResponse(w, r, http.StatusBadRequest, "invalid student id")
			return
		}
		result, err = h.service.ListByAssignmentAndStudent(r.Context(), assignmentID, studentID, page, submission.DefaultPageSize)
		if err != nil {
			h.renderServiceError(w, r, err, "list")
			return
		}
	} else {
		result, err = h.service.ListByAssignment(r.Context(), assignmentID, page, submission.DefaultPageSize)
		if err != nil {
			h.renderServiceError(w, r, err, "list")
			return
		}
	}

	result.Links = pageLinks(fmt.Sprintf("/assignments/%s/submissions", assignmentID), result)

	render.JSON(w, r, result)
}

// DeleteSubmissions handles DELETE /assignments/{assignmentID}/submissions:
// the cascading delete invoked when an assignment itself is removed. The
// assignment record is gone by the time this runs; a partial failure here is
// reported but never rolled back.
func (h *SubmissionsHandler) DeleteSubmissions(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := uuid.Parse(chi.URLParam(r, "assignmentID"))
	if err != nil {
		errorResponse(w, r, http.StatusBadRequest, "invalid assignment id")
		return
	}

	deleted, err := h.service.CascadeDelete(r.Context(), assignmentID)
	if err != nil {
		var partial *submission.PartialCascadeError
		if errors.As(err, &partial) {
			h.logger.Error("partial cascade delete", "assignment_id", assignmentID,
				"deleted", partial.Deleted, "failed", len(partial.Errs))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, CascadeDeleteResponse{
				Deleted: partial.Deleted,
				Error:   "some submissions could not be deleted",
			})
			return
		}
		h.renderServiceError(w, r, err, "cascade_delete")
		return
	}

	render.JSON(w, r, CascadeDeleteResponse{Deleted: deleted})
}

// DownloadSubmission handles GET /media/submissions/{id}, streaming the
// stored file back with its original content type.
func (h *SubmissionsHandler) DownloadSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errorResponse(w, r, http.StatusBadRequest, "invalid submission id")
		return
	}

	reader, file, err := h.service.DownloadFile(r.Context(), id)
	if err != nil {
		h.renderServiceError(w, r, err, "download")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	if file.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	}
	if _, err := io.Copy(w, reader); err != nil {
		// Headers are already written; nothing to do but log.
		h.logger.Error("failed streaming submission", "file_id", id, "err", err)
	}
}

// UpdateSubmission handles PATCH /submissions/{id}. Grade is the only
// mutable field on a committed submission.
func (h *SubmissionsHandler) UpdateSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errorResponse(w, r, http.StatusBadRequest, "invalid submission id")
		return
	}

	var req UpdateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Grade == nil {
		errorResponse(w, r, http.StatusBadRequest, "request body must contain a grade")
		return
	}

	if err := h.service.UpdateGrade(r.Context(), id, *req.Grade); err != nil {
		h.renderServiceError(w, r, err, "update_grade")
		return
	}

	render.JSON(w, r, map[string]string{"message": "submission updated"})
}

// renderServiceError maps service errors onto HTTP statuses
func (h *SubmissionsHandler) renderServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, submission.ErrFileNotFound):
		errorResponse(w, r, http.StatusNotFound, "submission not found")
	case errors.Is(err, submission.ErrAssignmentNotFound):
		errorResponse(w, r, http.StatusNotFound, "assignment not found")
	case errors.Is(err, submission.ErrInvalidIdentifier), errors.Is(err, submission.ErrMissingFile):
		errorResponse(w, r, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("submission operation failed", "op", op, "err", err)
		errorResponse(w, r, http.StatusInternalServerError, "server error, please try again later")
	}
}

func errorResponse(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// pageLinks builds the navigation links for a page of submissions. A self
// link is only emitted when the whole result fits on one page.
func pageLinks(base string, page *submission.FilePage) submission.PageLinks {
	links := submission.PageLinks{}
	if page.TotalPages == 0 {
		return links
	}
	if page.TotalPages == 1 {
		links.Self = fmt.Sprintf("%s?page=1", base)
		return links
	}
	if page.HasNext() {
		links.NextPage = fmt.Sprintf("%s?page=%d", base, page.Page+1)
		links.LastPage = fmt.Sprintf("%s?page=%d", base, page.TotalPages)
	}
	if page.HasPrev() {
		links.PrevPage = fmt.Sprintf("%s?page=%d", base, page.Page-1)
		links.FirstPage = fmt.Sprintf("%s?page=1", base)
	}
	return links
}
