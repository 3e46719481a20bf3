package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/models"
)

func TestEscapeLike(t *testing.T) {
	cases := map[string]string{
		"label":     "label",
		"100%":      `100\%`,
		"dose_form": `dose\_form`,
		`a\b`:       `a\\b`,
	}
	for in, want := range cases {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDataSourceName(t *testing.T) {
	dsn, err := dataSourceName("postgres://u@h/db", "")
	if err != nil || dsn != "postgres://u@h/db" {
		t.Errorf("expected dsn unchanged, got %q, %v", dsn, err)
	}
	if _, err := dataSourceName("postgres://u@h/db", "/does/not/exist.pem"); err == nil {
		t.Error("expected error for missing certificate")
	}
}

func setupTestClient(t *testing.T) *DatabaseClient {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := EnsureBootstrapped(context.Background(), conn); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := EnsureBootstrapped(context.Background(), conn); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	return NewFromDB(conn)
}

func newTestDocument(name string) *models.Document {
	id := uuid.NewString()
	now := time.Now().UTC()
	return &models.Document{
		ID:               id,
		FileName:         id + "_" + name,
		OriginalFileName: name,
		StoragePath:      id + "_" + name,
		FileSize:         1024,
		ContentType:      "application/pdf",
		UploadedBy:       "tester",
		Status:           models.StatusUploading,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestDocumentLifecycle(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	doc := newTestDocument("lifecycle_label.pdf")
	if err := c.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	t.Cleanup(func() { _ = c.DeleteDocument(context.Background(), doc.ID) })

	claimed, err := c.ClaimDocument(ctx, doc.ID, models.StatusUploading, models.StatusFailed)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	claimed, err = c.ClaimDocument(ctx, doc.ID, models.StatusUploading, models.StatusFailed)
	if err != nil || claimed {
		t.Fatalf("second claim should lose: claimed=%v err=%v", claimed, err)
	}

	if err := c.CompleteDocument(ctx, doc.ID, 3, doc.ID, doc.ID); err != nil {
		t.Fatalf("CompleteDocument failed: %v", err)
	}
	got, err := c.GetDocumentByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocumentByID failed: %v", err)
	}
	if got.Status != models.StatusCompleted || got.PageCount != 3 || got.VectorRef == nil || got.SearchRef == nil {
		t.Errorf("unexpected document after completion: %+v", got)
	}

	page, err := c.SearchDocumentsByName(ctx, "LIFECYCLE", models.PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("SearchDocumentsByName failed: %v", err)
	}
	if page.Total < 1 {
		t.Errorf("expected search to find the document")
	}

	if err := c.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if _, err := c.GetDocumentByID(ctx, doc.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFailDocumentClearsReferences(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	doc := newTestDocument("fail.pdf")
	if err := c.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	t.Cleanup(func() { _ = c.DeleteDocument(context.Background(), doc.ID) })

	if err := c.FailDocument(ctx, doc.ID, "boom"); err == nil {
		t.Error("expected FailDocument to refuse a document that is not processing")
	}
	if _, err := c.ClaimDocument(ctx, doc.ID, models.StatusUploading); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := c.FailDocument(ctx, doc.ID, "boom"); err != nil {
		t.Fatalf("FailDocument failed: %v", err)
	}
	got, _ := c.GetDocumentByID(ctx, doc.ID)
	if got.Status != models.StatusFailed || got.ErrorMessage == nil || *got.ErrorMessage != "boom" {
		t.Errorf("unexpected document after failure: %+v", got)
	}
}

func TestQueryHistory(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	user := "user-" + uuid.NewString()
	dept := "Regulatory"
	for i, style := range []models.PromptStyle{models.StyleSimple, models.StyleSimple, models.StylePoint} {
		h := &models.QueryHistory{
			ID:                uuid.NewString(),
			Question:          "What is the dosage limit?",
			Answer:            "40 mg",
			PromptStyle:       style,
			UserName:          user,
			UserDepartment:    &dept,
			RelevantDocuments: "[]",
			ResponseTimeMs:    int64(100 * (i + 1)),
			CreatedAt:         time.Now().UTC(),
		}
		if err := c.CreateQueryHistory(ctx, h); err != nil {
			t.Fatalf("CreateQueryHistory failed: %v", err)
		}
	}

	page, err := c.ListQueryHistoryByUser(ctx, user, models.PageRequest{Size: 2})
	if err != nil {
		t.Fatalf("ListQueryHistoryByUser failed: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 2 {
		t.Errorf("expected 3 total and 2 items, got %d/%d", page.Total, len(page.Items))
	}

	detail, err := c.GetQueryHistory(ctx, page.Items[0].ID)
	if err != nil {
		t.Fatalf("GetQueryHistory failed: %v", err)
	}
	if detail.UserName != user {
		t.Errorf("unexpected user %q", detail.UserName)
	}
	if _, err := c.GetQueryHistory(ctx, uuid.NewString()); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	since, err := c.CountQueriesSince(ctx, time.Now().Add(-time.Minute))
	if err != nil || since < 3 {
		t.Errorf("CountQueriesSince: %d, %v", since, err)
	}
	avg, err := c.AverageLatencyByStyle(ctx)
	if err != nil {
		t.Fatalf("AverageLatencyByStyle failed: %v", err)
	}
	if _, ok := avg[models.StyleSimple]; !ok {
		t.Error("expected an average for SIMPLE")
	}
}
