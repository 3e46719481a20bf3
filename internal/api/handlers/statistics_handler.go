package handlers

import (
	"net/http"

	"github.com/markdave123-py/dossier/internal/services"
	"github.com/ory/herodot"
)

type StatisticsHandler struct {
	stats  *services.StatisticsService
	writer *herodot.JSONWriter
}

func NewStatisticsHandler(stats *services.StatisticsService) *StatisticsHandler {
	return &StatisticsHandler{stats: stats, writer: herodot.NewJSONWriter(nil)}
}

func (h *StatisticsHandler) All(w http.ResponseWriter, r *http.Request) {
	out, err := h.stats.All(r.Context())
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.Write(w, r, out)
}

func (h *StatisticsHandler) Documents(w http.ResponseWriter, r *http.Request) {
	out, err := h.stats.Documents(r.Context())
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.Write(w, r, out)
}

func (h *StatisticsHandler) Queries(w http.ResponseWriter, r *http.Request) {
	out, err := h.stats.Queries(r.Context())
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.Write(w, r, out)
}
