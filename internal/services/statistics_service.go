package services

import (
	"context"
	"time"

	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/models"
	"golang.org/x/sync/errgroup"
)

const topUsersLimit = 10

// StatisticsService aggregates the document and query tables for the dashboard.
type StatisticsService struct {
	db  core.DbClient
	now func() time.Time
}

func NewStatisticsService(db core.DbClient) *StatisticsService {
	return &StatisticsService{db: db, now: time.Now}
}

func (s *StatisticsService) All(ctx context.Context) (*models.Statistics, error) {
	var out models.Statistics
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Documents, err = s.Documents(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.Queries, err = s.Queries(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *StatisticsService) Documents(ctx context.Context) (*models.DocumentStatistics, error) {
	var (
		counts      map[models.DocumentStatus]int64
		size, pages int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		counts, err = s.db.CountDocumentsByStatus(gctx)
		return err
	})
	g.Go(func() (err error) {
		size, pages, err = s.db.DocumentTotals(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st := &models.DocumentStatistics{
		Uploading:    counts[models.StatusUploading],
		Processing:   counts[models.StatusProcessing],
		Completed:    counts[models.StatusCompleted],
		Failed:       counts[models.StatusFailed],
		TotalSize:    size,
		TotalPages:   pages,
		StatusCounts: counts,
	}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

// Queries counts today from local midnight, the week and month as trailing windows.
func (s *StatisticsService) Queries(ctx context.Context) (*models.QueryStatistics, error) {
	now := s.now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := now.AddDate(0, 0, -7)
	monthStart := now.AddDate(0, -1, 0)

	st := &models.QueryStatistics{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		st.Total, err = s.db.CountQueries(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.Today, err = s.db.CountQueriesSince(gctx, todayStart)
		return err
	})
	g.Go(func() (err error) {
		st.ThisWeek, err = s.db.CountQueriesSince(gctx, weekStart)
		return err
	})
	g.Go(func() (err error) {
		st.ThisMonth, err = s.db.CountQueriesSince(gctx, monthStart)
		return err
	})
	g.Go(func() (err error) {
		st.StyleCounts, err = s.db.CountQueriesByStyle(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.AverageLatencyMs, err = s.db.AverageLatencyByStyle(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.TopUsers, err = s.db.TopUsers(gctx, topUsersLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return st, nil
}
