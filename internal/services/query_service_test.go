package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/core/coretest"
	"github.com/markdave123-py/dossier/internal/core/llm"
	"github.com/markdave123-py/dossier/internal/models"
)

type queryFixture struct {
	db      *coretest.MemoryDB
	vectors *coretest.MemoryVectors
	llm     *coretest.StubLLM
	svc     *QueryService
}

func newQueryFixture(cfg QueryConfig) *queryFixture {
	f := &queryFixture{
		db:      coretest.NewMemoryDB(),
		vectors: coretest.NewMemoryVectors(),
		llm:     &coretest.StubLLM{Answer: "The limit is 40 mg.", Available: true},
	}
	cfg.Collection = "documents"
	cfg.Model = "llama3.1:8b"
	f.svc = NewQueryService(f.db, f.vectors, f.llm, nil, cfg)
	return f
}

func TestAnswerWithoutMatchingDocuments(t *testing.T) {
	f := newQueryFixture(QueryConfig{})

	resp, err := f.svc.Answer(context.Background(), models.QueryRequest{
		Question:    "What is the dosage limit?",
		PromptStyle: "SIMPLE",
		UserName:    "ada",
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if resp.RelevantDocuments == nil || len(resp.RelevantDocuments) != 0 {
		t.Errorf("relevant documents = %#v, want empty list", resp.RelevantDocuments)
	}
	if resp.Answer != "The limit is 40 mg." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.PromptStyle != models.StyleSimple {
		t.Errorf("style = %s", resp.PromptStyle)
	}

	h, err := f.db.GetQueryHistory(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("history row missing: %v", err)
	}
	if h.RelevantDocuments != "[]" {
		t.Errorf("stored refs = %q, want []", h.RelevantDocuments)
	}
	if len(f.llm.Prompts) != 1 || strings.Contains(f.llm.Prompts[0], "Reference documents:") {
		t.Errorf("prompt should carry no context block: %q", f.llm.Prompts)
	}
}

func TestAnswerBuildsRefs(t *testing.T) {
	f := newQueryFixture(QueryConfig{})
	long := strings.Repeat("é", 250)
	f.vectors.Hits = []core.VectorHit{
		{ID: "d1_2_0", Text: long, Distance: -0.4, Metadata: map[string]any{"document_id": "d1", "file_name": "a.pdf", "page_number": float64(2)}},
		{ID: "d2_7_1", Text: "short", Distance: 0.25, Metadata: map[string]any{"document_id": "d2", "file_name": "b.pdf", "page_number": int64(7)}},
		{ID: "d3_4_0", Text: "far", Distance: 1.8},
		{ID: "d4_1_0", Text: "x", Distance: 0.1},
		{ID: "d5_1_0", Text: "y", Distance: 0.1},
		{ID: "d6_1_0", Text: "z", Distance: 0.1},
		{ID: "d7_1_0", Text: "w", Distance: 0.1},
	}

	resp, err := f.svc.Answer(context.Background(), models.QueryRequest{Question: "limit?", UserName: "ada"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	refs := resp.RelevantDocuments
	if len(refs) > TopK {
		t.Fatalf("refs = %d, want at most %d", len(refs), TopK)
	}
	for _, r := range refs {
		if r.Similarity < 0 || r.Similarity > 1 {
			t.Errorf("similarity %v out of range", r.Similarity)
		}
	}
	if refs[0].Similarity != 1 || refs[2].Similarity != 0 {
		t.Errorf("clamped similarities = %v, %v", refs[0].Similarity, refs[2].Similarity)
	}
	if refs[1].Similarity != 0.75 {
		t.Errorf("similarity = %v, want 0.75", refs[1].Similarity)
	}
	if got := []rune(refs[0].Excerpt); len(got) != 203 || !strings.HasSuffix(refs[0].Excerpt, "...") {
		t.Errorf("excerpt has %d runes", len(got))
	}
	if refs[1].Excerpt != "short" {
		t.Errorf("excerpt = %q", refs[1].Excerpt)
	}
	if refs[0].PageNumber != 2 || refs[1].PageNumber != 7 || refs[1].FileName != "b.pdf" {
		t.Errorf("refs = %+v", refs[:2])
	}
	if refs[2].DocumentID != "d3" || refs[2].PageNumber != 4 {
		t.Errorf("ref from id = %+v", refs[2])
	}
	if resp.PromptStyle != models.StyleBasic {
		t.Errorf("empty style should default to BASIC, got %s", resp.PromptStyle)
	}
	if !strings.Contains(f.llm.Prompts[0], "Document 1:\n"+long) {
		t.Error("prompt is missing the first passage")
	}

	detail, err := f.svc.HistoryDetail(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("HistoryDetail: %v", err)
	}
	if len(detail.RelevantDocuments) != len(refs) || detail.RelevantDocuments[1].DocumentID != "d2" {
		t.Errorf("detail refs = %+v", detail.RelevantDocuments)
	}
}

func TestAnswerValidation(t *testing.T) {
	cases := map[string]models.QueryRequest{
		"no question":   {UserName: "ada"},
		"no user":       {Question: "q"},
		"unknown style": {Question: "q", UserName: "ada", PromptStyle: "POETIC"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			f := newQueryFixture(QueryConfig{})
			if _, err := f.svc.Answer(context.Background(), req); !errors.Is(err, core.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestAnswerFailuresWriteNoHistory(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*queryFixture)
		class error
	}{
		{"vector store", func(f *queryFixture) { f.vectors.FailQuery = true }, core.ErrVectorStore},
		{"generation", func(f *queryFixture) { f.llm.Err = errors.New("model not loaded") }, core.ErrGeneration},
		{"history", func(f *queryFixture) { f.db.FailCreateHistory = true }, core.ErrQueryProcessing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newQueryFixture(QueryConfig{})
			tc.setup(f)

			_, err := f.svc.Answer(context.Background(), models.QueryRequest{Question: "q", UserName: "ada"})
			if !errors.Is(err, core.ErrQueryProcessing) {
				t.Fatalf("err = %v, want ErrQueryProcessing", err)
			}
			if !errors.Is(err, tc.class) {
				t.Errorf("err = %v, want it to wrap %v", err, tc.class)
			}
			if n := f.db.HistoryCount(); n != 0 {
				t.Errorf("history rows = %d, want 0", n)
			}
		})
	}
}

func TestAnswerGenerationTimeout(t *testing.T) {
	f := newQueryFixture(QueryConfig{GenerationTimeout: 20 * time.Millisecond})
	f.llm.Delay = 2 * time.Second

	_, err := f.svc.Answer(context.Background(), models.QueryRequest{Question: "q", UserName: "ada"})
	if !errors.Is(err, core.ErrQueryProcessing) || !errors.Is(err, core.ErrGeneration) {
		t.Fatalf("err = %v, want a generation query failure", err)
	}
	if f.db.HistoryCount() != 0 {
		t.Error("no history row expected")
	}
}

func TestAnswerSurvivesCallerCancellation(t *testing.T) {
	f := newQueryFixture(QueryConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.svc.Answer(ctx, models.QueryRequest{Question: "q", UserName: "ada"}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if f.db.HistoryCount() != 1 {
		t.Error("history row expected")
	}
}

func TestHistoryListings(t *testing.T) {
	f := newQueryFixture(QueryConfig{})
	dept := "QA"
	base := time.Now()
	for i, user := range []string{"ada", "bob", "ada"} {
		_ = f.db.CreateQueryHistory(context.Background(), &models.QueryHistory{
			ID:             string(rune('a' + i)),
			Question:       "q",
			PromptStyle:    models.StyleBasic,
			UserName:       user,
			UserDepartment: &dept,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
	}

	all, err := f.svc.History(context.Background(), models.PageRequest{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if all.Total != 3 || all.Items[0].ID != "c" {
		t.Errorf("history = %+v", all)
	}
	if all.Items[0].RelevantDocuments == nil {
		t.Error("refs should decode to an empty list")
	}

	ada, err := f.svc.HistoryByUser(context.Background(), "ada", models.PageRequest{})
	if err != nil {
		t.Fatalf("HistoryByUser: %v", err)
	}
	if ada.Total != 2 {
		t.Errorf("ada total = %d, want 2", ada.Total)
	}

	if _, err := f.svc.HistoryDetail(context.Background(), "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSplitChunkID(t *testing.T) {
	id, page := splitChunkID("3f2c-9a_12_4")
	if id != "3f2c-9a" || page != 12 {
		t.Errorf("got %q %d", id, page)
	}
	if id, page := splitChunkID("opaque"); id != "opaque" || page != 0 {
		t.Errorf("got %q %d", id, page)
	}
}

func TestGenerationAvailable(t *testing.T) {
	f := newQueryFixture(QueryConfig{})
	if !f.svc.GenerationAvailable(context.Background()) {
		t.Error("expected available")
	}
	f.llm.Available = false
	if f.svc.GenerationAvailable(context.Background()) {
		t.Error("expected unavailable")
	}
}

func TestGenerationAvailableGivesUpOnHungServer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	svc := NewQueryService(coretest.NewMemoryDB(), coretest.NewMemoryVectors(),
		llm.NewOllamaClient(srv.URL, "nomic-embed-text"), nil,
		QueryConfig{Collection: "documents", Model: "llama3.1:8b", HealthTimeout: 50 * time.Millisecond})

	done := make(chan bool, 1)
	go func() { done <- svc.GenerationAvailable(context.Background()) }()

	select {
	case ok := <-done:
		if ok {
			t.Error("a server that never answers must not be reported available")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("GenerationAvailable did not return")
	}
}
