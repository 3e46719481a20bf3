package services

import (
	"context"
	"testing"
	"time"

	"github.com/markdave123-py/dossier/internal/core/coretest"
	"github.com/markdave123-py/dossier/internal/models"
)

func TestStatistics(t *testing.T) {
	db := coretest.NewMemoryDB()
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

	docs := []models.Document{
		{ID: "a", Status: models.StatusCompleted, FileSize: 100, PageCount: 3},
		{ID: "b", Status: models.StatusCompleted, FileSize: 50, PageCount: 2},
		{ID: "c", Status: models.StatusFailed, FileSize: 10},
		{ID: "d", Status: models.StatusUploading, FileSize: 5},
	}
	for i := range docs {
		db.Put(&docs[i])
	}

	dept := "Regulatory"
	history := []models.QueryHistory{
		{ID: "1", UserName: "ada", UserDepartment: &dept, PromptStyle: models.StyleBasic, ResponseTimeMs: 100, CreatedAt: now.Add(-time.Hour)},
		{ID: "2", UserName: "ada", PromptStyle: models.StyleBasic, ResponseTimeMs: 300, CreatedAt: now.Add(-3 * 24 * time.Hour)},
		{ID: "3", UserName: "bob", PromptStyle: models.StyleDetailed, ResponseTimeMs: 50, CreatedAt: now.Add(-20 * 24 * time.Hour)},
		{ID: "4", UserName: "cy", PromptStyle: models.StylePoint, ResponseTimeMs: 10, CreatedAt: now.Add(-60 * 24 * time.Hour)},
	}
	for i := range history {
		_ = db.CreateQueryHistory(context.Background(), &history[i])
	}

	svc := NewStatisticsService(db)
	svc.now = func() time.Time { return now }

	st, err := svc.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}

	d := st.Documents
	if d.Total != 4 || d.Completed != 2 || d.Failed != 1 || d.Uploading != 1 || d.Processing != 0 {
		t.Errorf("document counts = %+v", d)
	}
	if d.TotalSize != 165 || d.TotalPages != 5 {
		t.Errorf("totals = %d bytes, %d pages", d.TotalSize, d.TotalPages)
	}

	q := st.Queries
	if q.Total != 4 || q.Today != 1 || q.ThisWeek != 2 || q.ThisMonth != 3 {
		t.Errorf("query windows = %+v", q)
	}
	if q.StyleCounts[models.StyleBasic] != 2 || q.AverageLatencyMs[models.StyleBasic] != 200 {
		t.Errorf("style stats = %v %v", q.StyleCounts, q.AverageLatencyMs)
	}
	if len(q.TopUsers) != 3 || q.TopUsers[0].UserName != "ada" || q.TopUsers[0].Count != 2 {
		t.Fatalf("top users = %+v", q.TopUsers)
	}
	if q.TopUsers[0].UserDepartment == nil || *q.TopUsers[0].UserDepartment != "Regulatory" {
		t.Errorf("department = %v", q.TopUsers[0].UserDepartment)
	}
}
