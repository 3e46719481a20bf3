package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/markdave123-py/dossier/internal/models"
	"github.com/markdave123-py/dossier/internal/services"
	"github.com/ory/herodot"
)

type QueryHandler struct {
	queries *services.QueryService
	writer  *herodot.JSONWriter
}

func NewQueryHandler(queries *services.QueryService) *QueryHandler {
	return &QueryHandler{queries: queries, writer: herodot.NewJSONWriter(nil)}
}

// Ask answers a question from the ingested documents and records the exchange.
func (h *QueryHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid request body"))
		return
	}

	resp, err := h.queries.Answer(r.Context(), req)
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.Write(w, r, resp)
}

func (h *QueryHandler) History(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	out, err := h.queries.History(r.Context(), page)
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.Write(w, r, out)
}

func (h *QueryHandler) UserHistory(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	out, err := h.queries.HistoryByUser(r.Context(), chi.URLParam(r, "userName"), page)
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.Write(w, r, out)
}

func (h *QueryHandler) HistoryDetail(w http.ResponseWriter, r *http.Request) {
	out, err := h.queries.HistoryDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.Write(w, r, out)
}

type healthResponse struct {
	Status     string `json:"status"`
	Generation string `json:"generation"`
}

// Health reports whether the generation model can currently serve answers.
func (h *QueryHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.queries.GenerationAvailable(r.Context()) {
		h.writer.Write(w, r, &healthResponse{Status: "UP", Generation: "available"})
		return
	}
	h.writer.WriteCode(w, r, http.StatusServiceUnavailable, &healthResponse{Status: "DEGRADED", Generation: "unavailable"})
}
