package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/markdave123-py/dossier/internal/services"
	"github.com/ory/herodot"
	"github.com/rs/zerolog/log"
)

const maxUploadBytes = 52 << 20

type DocumentHandler struct {
	documents *services.DocumentService
	writer    *herodot.JSONWriter
}

func NewDocumentHandler(documents *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents, writer: herodot.NewJSONWriter(nil)}
}

// UploadDocument stores a multipart PDF and queues it for background processing.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid multipart form: "+err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Could not read file"))
		return
	}

	doc, err := h.documents.Upload(r.Context(), services.UploadInput{
		Data:        data,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		UploadedBy:  r.FormValue("uploadedBy"),
		Description: r.FormValue("description"),
	})
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.WriteCreated(w, r, "/api/documents/"+doc.ID, doc)
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	docs, err := h.documents.List(r.Context(), page)
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.Write(w, r, docs)
}

func (h *DocumentHandler) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	docs, err := h.documents.Search(r.Context(), r.URL.Query().Get("keyword"), page)
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.Write(w, r, docs)
}

func (h *DocumentHandler) FullTextSearch(w http.ResponseWriter, r *http.Request) {
	size := 0
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("size must be an integer"))
			return
		}
		size = n
	}
	hits, err := h.documents.FullTextSearch(r.Context(), r.URL.Query().Get("q"), size)
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.Write(w, r, hits)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.Write(w, r, doc)
}

// DownloadDocument streams the stored PDF back under its original name.
func (h *DocumentHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	doc, rc, err := h.documents.GetFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalFileName}))
	if doc.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.FileSize, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("download interrupted")
	}
}

func (h *DocumentHandler) RetryDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	h.writer.WriteCode(w, r, http.StatusAccepted, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.documents.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(h.writer, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
