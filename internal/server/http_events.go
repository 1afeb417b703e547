package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/anchord/internal/engine"
	"github.com/alfredjeanlab/anchord/internal/model"
	"github.com/alfredjeanlab/anchord/internal/receipt"
)

// handleSubmitEvent handles POST /v1/events. Intake is synchronous only up to
// receipt creation; the response carries the PENDING (or pre-existing)
// receipt.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.SubmittedAt.IsZero() {
		ev.SubmittedAt = time.Now().UTC()
	}

	rec, err := s.engine.Submit(r.Context(), &ev)
	if err != nil {
		var ve *model.ValidationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Error())
		case errors.Is(err, engine.ErrMalformedEvent):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, engine.ErrUnknownPipeline):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, engine.ErrOverloaded):
			writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			s.logger.Error("intake failed", "pipeline", ev.Pipeline, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to accept event")
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetReceipt handles GET /v1/events/{id}.
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	rec, err := s.engine.Receipt(id)
	if errors.Is(err, receipt.ErrNotFound) {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get receipt")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCancel handles POST /v1/events/{id}/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	rec, err := s.engine.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, receipt.ErrNotFound):
		writeError(w, http.StatusNotFound, "receipt not found")
	case errors.Is(err, engine.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to cancel")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// handlePending handles GET /v1/pipelines/{name}/pending?limit=N.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := s.engine.Pending(name, limit)
	if errors.Is(err, engine.ErrUnknownPipeline) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pending receipts")
		return
	}
	if recs == nil {
		recs = []*model.Receipt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": recs})
}

// handleReconcile handles POST /v1/pipelines/{name}/reconcile.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	n, err := s.engine.Reconcile(name)
	if errors.Is(err, engine.ErrUnknownPipeline) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reconcile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requeued": n})
}
