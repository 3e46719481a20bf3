package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/core/coretest"
	"github.com/markdave123-py/dossier/internal/models"
	"github.com/markdave123-py/dossier/internal/services"
)

type queueStub struct {
	err    error
	queued []string
}

func (q *queueStub) Enqueue(id string) error {
	if q.err != nil {
		return q.err
	}
	q.queued = append(q.queued, id)
	return nil
}

func (q *queueStub) ProcessOne(context.Context, string) error { return nil }

type env struct {
	db      *coretest.MemoryDB
	obj     *coretest.MemoryObjects
	vectors *coretest.MemoryVectors
	search  *coretest.MemorySearch
	llm     *coretest.StubLLM
	queue   *queueStub
	router  http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		db:      coretest.NewMemoryDB(),
		obj:     coretest.NewMemoryObjects(),
		vectors: coretest.NewMemoryVectors(),
		search:  coretest.NewMemorySearch(),
		llm:     &coretest.StubLLM{Answer: "forty", Available: true},
		queue:   &queueStub{},
	}

	docs := NewDocumentHandler(services.NewDocumentService(e.db, e.obj, e.vectors, e.search, e.queue,
		services.DocumentConfig{Collection: "documents", SearchIndex: "documents"}))
	queries := NewQueryHandler(services.NewQueryService(e.db, e.vectors, e.llm, nil,
		services.QueryConfig{Collection: "documents", Model: "m"}))
	stats := NewStatisticsHandler(services.NewStatisticsService(e.db))

	r := chi.NewRouter()
	r.Get("/health", queries.Health)
	r.Post("/documents", docs.UploadDocument)
	r.Get("/documents", docs.ListDocuments)
	r.Get("/documents/search", docs.SearchDocuments)
	r.Get("/documents/fulltext", docs.FullTextSearch)
	r.Get("/documents/{id}", docs.GetDocument)
	r.Get("/documents/{id}/download", docs.DownloadDocument)
	r.Post("/documents/{id}/retry", docs.RetryDocument)
	r.Delete("/documents/{id}", docs.DeleteDocument)
	r.Post("/queries", queries.Ask)
	r.Get("/queries/history", queries.History)
	r.Get("/queries/history/user/{userName}", queries.UserHistory)
	r.Get("/queries/history/{id}", queries.HistoryDetail)
	r.Get("/statistics", stats.All)
	e.router = r
	return e
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error struct {
		Code   int    `json:"code"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func multipartUpload(t *testing.T, fileName, contentType string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadDocument(t *testing.T) {
	e := newEnv(t)
	rec := e.do(multipartUpload(t, "label.pdf", "application/pdf", []byte("%PDF-1.4"), map[string]string{
		"uploadedBy":  "ada",
		"description": "2024 label",
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var doc models.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc.Status != models.StatusUploading || doc.OriginalFileName != "label.pdf" || doc.UploadedBy != "ada" {
		t.Errorf("doc = %+v", doc)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/documents/"+doc.ID {
		t.Errorf("location = %q", loc)
	}
	if len(e.queue.queued) != 1 {
		t.Errorf("queued = %v", e.queue.queued)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	e := newEnv(t)
	rec := e.do(multipartUpload(t, "notes.txt", "text/plain", []byte("hi"), map[string]string{"uploadedBy": "ada"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeError(t, rec); body.Error.Code != http.StatusBadRequest {
		t.Errorf("error code = %d", body.Error.Code)
	}
}

func TestUploadWithoutFile(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	if rec := e.do(req); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func putCompleted(e *env, id string) {
	ref := id
	_, _ = e.obj.UploadFile(context.Background(), id+"_label.pdf", []byte("%PDF-bytes"), "application/pdf")
	e.db.Put(&models.Document{
		ID:               id,
		FileName:         id + "_label.pdf",
		OriginalFileName: "label.pdf",
		StoragePath:      id + "_label.pdf",
		FileSize:         10,
		ContentType:      "application/pdf",
		Status:           models.StatusCompleted,
		VectorRef:        &ref,
		SearchRef:        &ref,
		CreatedAt:        time.Now(),
	})
}

func TestGetDocument(t *testing.T) {
	e := newEnv(t)
	putCompleted(e, "d1")

	rec := e.do(httptest.NewRequest(http.MethodGet, "/documents/d1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/documents/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decodeError(t, rec); !strings.Contains(body.Error.Reason, "missing") {
		t.Errorf("reason = %q", body.Error.Reason)
	}
}

func TestDownloadDocument(t *testing.T) {
	e := newEnv(t)
	putCompleted(e, "d1")

	rec := e.do(httptest.NewRequest(http.MethodGet, "/documents/d1/download", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "%PDF-bytes" {
		t.Errorf("body = %q", got)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename=label.pdf` {
		t.Errorf("content disposition = %q", cd)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}
}

func TestDeleteDocument(t *testing.T) {
	e := newEnv(t)
	putCompleted(e, "d1")

	rec := e.do(httptest.NewRequest(http.MethodDelete, "/documents/d1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := e.do(httptest.NewRequest(http.MethodGet, "/documents/d1", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
	if rec := e.do(httptest.NewRequest(http.MethodDelete, "/documents/d1", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", rec.Code)
	}
}

func TestRetryDocument(t *testing.T) {
	e := newEnv(t)
	putCompleted(e, "done")
	msg := "boom"
	e.db.Put(&models.Document{ID: "failed", Status: models.StatusFailed, ErrorMessage: &msg, CreatedAt: time.Now()})

	if rec := e.do(httptest.NewRequest(http.MethodPost, "/documents/failed/retry", nil)); rec.Code != http.StatusAccepted {
		t.Errorf("retry failed = %d, want 202", rec.Code)
	}
	if rec := e.do(httptest.NewRequest(http.MethodPost, "/documents/done/retry", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("retry completed = %d, want 400", rec.Code)
	}

	e.queue.err = core.ErrQueueFull
	if rec := e.do(httptest.NewRequest(http.MethodPost, "/documents/failed/retry", nil)); rec.Code != http.StatusConflict {
		t.Errorf("retry with full queue = %d, want 409", rec.Code)
	}
}

func TestListAndSearchDocuments(t *testing.T) {
	e := newEnv(t)
	putCompleted(e, "d1")
	putCompleted(e, "d2")

	rec := e.do(httptest.NewRequest(http.MethodGet, "/documents?page=0&size=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var page models.Page[models.Document]
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || len(page.Items) != 1 || page.Size != 1 {
		t.Errorf("page = %+v", page)
	}

	if rec := e.do(httptest.NewRequest(http.MethodGet, "/documents?size=abc", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad size = %d, want 400", rec.Code)
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/documents/search?keyword=LABEL", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	page = models.Page[models.Document]{}
	_ = json.NewDecoder(rec.Body).Decode(&page)
	if page.Total != 2 {
		t.Errorf("search total = %d", page.Total)
	}
}

func TestFullTextSearch(t *testing.T) {
	e := newEnv(t)
	_, _ = e.search.Index(context.Background(), "documents", "d1", map[string]any{"content": "maximum daily dose"})

	rec := e.do(httptest.NewRequest(http.MethodGet, "/documents/fulltext?q=daily", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var hits []core.SearchHit
	_ = json.NewDecoder(rec.Body).Decode(&hits)
	if len(hits) != 1 || hits[0].ID != "d1" {
		t.Errorf("hits = %+v", hits)
	}

	if rec := e.do(httptest.NewRequest(http.MethodGet, "/documents/fulltext", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("empty query = %d, want 400", rec.Code)
	}
}

func askBody(v any) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func TestAsk(t *testing.T) {
	e := newEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodPost, "/queries", askBody(map[string]any{
		"question":     "What is the dosage limit?",
		"prompt_style": "simple",
		"user_name":    "ada",
	})))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp models.QueryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "forty" || resp.PromptStyle != models.StyleSimple || len(resp.RelevantDocuments) != 0 {
		t.Errorf("resp = %+v", resp)
	}

	rec = e.do(httptest.NewRequest(http.MethodGet, "/queries/history/"+resp.ID, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("history detail = %d", rec.Code)
	}
	rec = e.do(httptest.NewRequest(http.MethodGet, "/queries/history/user/ada", nil))
	var page models.Page[models.QueryResponse]
	_ = json.NewDecoder(rec.Body).Decode(&page)
	if page.Total != 1 {
		t.Errorf("user history total = %d", page.Total)
	}
}

func TestAskErrors(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/queries", strings.NewReader("{"))
	if rec := e.do(req); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", rec.Code)
	}

	rec := e.do(httptest.NewRequest(http.MethodPost, "/queries", askBody(map[string]any{
		"question": "q", "user_name": "ada", "prompt_style": "POETIC",
	})))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown style = %d, want 400", rec.Code)
	}

	e.llm.Err = errors.New("model offline")
	rec = e.do(httptest.NewRequest(http.MethodPost, "/queries", askBody(map[string]any{
		"question": "q", "user_name": "ada",
	})))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("generation failure = %d, want 502", rec.Code)
	}
	if body := decodeError(t, rec); body.Error.Code != http.StatusBadGateway {
		t.Errorf("error code = %d", body.Error.Code)
	}
	if rec := e.do(httptest.NewRequest(http.MethodGet, "/queries/history/missing", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("missing history = %d, want 404", rec.Code)
	}
}

func TestStatisticsAndHealth(t *testing.T) {
	e := newEnv(t)
	putCompleted(e, "d1")

	rec := e.do(httptest.NewRequest(http.MethodGet, "/statistics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics = %d", rec.Code)
	}
	var st models.Statistics
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Documents.Total != 1 || st.Documents.Completed != 1 {
		t.Errorf("documents = %+v", st.Documents)
	}

	if rec := e.do(httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health = %d, want 200", rec.Code)
	}
	e.llm.Available = false
	if rec := e.do(httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health = %d, want 503", rec.Code)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrInvalidInput, http.StatusBadRequest},
		{core.ErrAlreadyClaimed, http.StatusConflict},
		{core.ErrQueueFull, http.StatusConflict},
		{errors.Join(core.ErrQueryProcessing, core.ErrGeneration), http.StatusBadGateway},
		{core.ErrStorage, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := httpError(tc.err).CodeField; got != tc.code {
			t.Errorf("%v -> %d, want %d", tc.err, got, tc.code)
		}
	}
}
