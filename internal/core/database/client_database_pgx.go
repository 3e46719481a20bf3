package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/dossier/internal/config"
	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn, err := dataSourceName(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return NewFromDB(db), nil
}

// NewFromDB wraps an already opened and bootstrapped pool.
func NewFromDB(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

// dataSourceName appends CA verification parameters when a certificate is configured.
func dataSourceName(databaseURL, sslCertPath string) (string, error) {
	if sslCertPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(sslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", sslCertPath, err)
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", sslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DB exposes the pool for stores that share the database, such as the pgvector backend.
func (c *DatabaseClient) DB() *sql.DB {
	return c.db
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the db interface for Document

const documentColumns = `id, file_name, original_file_name, storage_path, file_size, content_type, description,
	page_count, uploaded_by, status, error_message, vector_ref, search_ref, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner) (*models.Document, error) {
	var d models.Document
	err := s.Scan(
		&d.ID, &d.FileName, &d.OriginalFileName, &d.StoragePath, &d.FileSize, &d.ContentType, &d.Description,
		&d.PageCount, &d.UploadedBy, &d.Status, &d.ErrorMessage, &d.VectorRef, &d.SearchRef, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, file_name, original_file_name, storage_path, file_size, content_type, description,
			 page_count, uploaded_by, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.FileName, doc.OriginalFileName, doc.StoragePath, doc.FileSize, doc.ContentType, doc.Description,
		doc.PageCount, doc.UploadedBy, string(doc.Status), doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *DatabaseClient) ListDocuments(ctx context.Context, page models.PageRequest) (*models.Page[models.Document], error) {
	return c.pageDocuments(ctx, "", page)
}

// SearchDocumentsByName matches the original file name case-insensitively.
func (c *DatabaseClient) SearchDocumentsByName(ctx context.Context, keyword string, page models.PageRequest) (*models.Page[models.Document], error) {
	return c.pageDocuments(ctx, keyword, page)
}

func (c *DatabaseClient) pageDocuments(ctx context.Context, keyword string, page models.PageRequest) (*models.Page[models.Document], error) {
	page = page.Normalize()
	pattern := "%" + escapeLike(keyword) + "%"

	var total int64
	const countQ = `SELECT COUNT(*) FROM documents WHERE original_file_name ILIKE $1`
	if err := c.db.QueryRowContext(ctx, countQ, pattern).Scan(&total); err != nil {
		return nil, err
	}

	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE original_file_name ILIKE $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`
	rows, err := c.db.QueryContext(ctx, q, pattern, page.Size, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Document, 0, page.Size)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &models.Page[models.Document]{Items: out, Total: total, Page: page.Page, Size: page.Size}, nil
}

func (c *DatabaseClient) ListDocumentsByStatus(ctx context.Context, status models.DocumentStatus) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE status = $1 ORDER BY created_at`
	rows, err := c.db.QueryContext(ctx, q, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: document %s", core.ErrNotFound, id)
	}
	return nil
}

// ClaimDocument is the check-and-set guarding entry into PROCESSING.
func (c *DatabaseClient) ClaimDocument(ctx context.Context, id string, from ...models.DocumentStatus) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	const q = `
		UPDATE documents
		SET status = 'PROCESSING', error_message = NULL, updated_at = now()
		WHERE id = $1 AND status = ANY($2)
	`
	res, err := c.db.ExecContext(ctx, q, id, states)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := c.GetDocumentByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (c *DatabaseClient) CompleteDocument(ctx context.Context, id string, pageCount int, vectorRef, searchRef string) error {
	const q = `
		UPDATE documents
		SET status = 'COMPLETED', page_count = $2, vector_ref = $3, search_ref = $4,
		    error_message = NULL, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	res, err := c.db.ExecContext(ctx, q, id, pageCount, vectorRef, searchRef)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s is not processing", id)
	}
	return nil
}

// FailDocument ends a processing attempt. References are cleared because they are only valid when COMPLETED.
func (c *DatabaseClient) FailDocument(ctx context.Context, id string, message string) error {
	const q = `
		UPDATE documents
		SET status = 'FAILED', error_message = $2, vector_ref = NULL, search_ref = NULL, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	res, err := c.db.ExecContext(ctx, q, id, message)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s is not processing", id)
	}
	return nil
}

func (c *DatabaseClient) CountDocumentsByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[models.DocumentStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[models.DocumentStatus(status)] = n
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DocumentTotals(ctx context.Context) (int64, int64, error) {
	var size, pages int64
	const q = `SELECT COALESCE(SUM(file_size), 0), COALESCE(SUM(page_count), 0) FROM documents`
	if err := c.db.QueryRowContext(ctx, q).Scan(&size, &pages); err != nil {
		return 0, 0, err
	}
	return size, pages, nil
}

// Implementing the db interface for QueryHistory

const historyColumns = `id, question, answer, prompt_style, user_name, user_department, relevant_documents,
	response_time_ms, created_at`

func scanHistory(s rowScanner) (*models.QueryHistory, error) {
	var h models.QueryHistory
	err := s.Scan(
		&h.ID, &h.Question, &h.Answer, &h.PromptStyle, &h.UserName, &h.UserDepartment, &h.RelevantDocuments,
		&h.ResponseTimeMs, &h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *DatabaseClient) CreateQueryHistory(ctx context.Context, h *models.QueryHistory) error {
	if h == nil {
		return errors.New("nil query history")
	}
	const q = `
		INSERT INTO query_history
			(id, question, answer, prompt_style, user_name, user_department, relevant_documents, response_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := c.db.ExecContext(ctx, q,
		h.ID, h.Question, h.Answer, string(h.PromptStyle), h.UserName, h.UserDepartment, h.RelevantDocuments,
		h.ResponseTimeMs, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert query history %s: %w", h.ID, err)
	}
	return nil
}

func (c *DatabaseClient) GetQueryHistory(ctx context.Context, id string) (*models.QueryHistory, error) {
	q := `SELECT ` + historyColumns + ` FROM query_history WHERE id = $1`
	h, err := scanHistory(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: query history %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (c *DatabaseClient) ListQueryHistory(ctx context.Context, page models.PageRequest) (*models.Page[models.QueryHistory], error) {
	return c.pageHistory(ctx, "", page)
}

func (c *DatabaseClient) ListQueryHistoryByUser(ctx context.Context, userName string, page models.PageRequest) (*models.Page[models.QueryHistory], error) {
	return c.pageHistory(ctx, userName, page)
}

// pageHistory lists newest first, restricted to one user when userName is set.
func (c *DatabaseClient) pageHistory(ctx context.Context, userName string, page models.PageRequest) (*models.Page[models.QueryHistory], error) {
	page = page.Normalize()

	var total int64
	const countQ = `SELECT COUNT(*) FROM query_history WHERE ($1 = '' OR user_name = $1)`
	if err := c.db.QueryRowContext(ctx, countQ, userName).Scan(&total); err != nil {
		return nil, err
	}

	q := `SELECT ` + historyColumns + `
		FROM query_history
		WHERE ($1 = '' OR user_name = $1)
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`
	rows, err := c.db.QueryContext(ctx, q, userName, page.Size, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.QueryHistory, 0, page.Size)
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &models.Page[models.QueryHistory]{Items: out, Total: total, Page: page.Page, Size: page.Size}, nil
}

func (c *DatabaseClient) CountQueries(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_history`).Scan(&n)
	return n, err
}

func (c *DatabaseClient) CountQueriesSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_history WHERE created_at >= $1`, since).Scan(&n)
	return n, err
}

func (c *DatabaseClient) CountQueriesByStyle(ctx context.Context) (map[models.PromptStyle]int64, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT prompt_style, COUNT(*) FROM query_history GROUP BY prompt_style`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[models.PromptStyle]int64)
	for rows.Next() {
		var (
			style string
			n     int64
		)
		if err := rows.Scan(&style, &n); err != nil {
			return nil, err
		}
		out[models.PromptStyle(style)] = n
	}
	return out, rows.Err()
}

func (c *DatabaseClient) AverageLatencyByStyle(ctx context.Context) (map[models.PromptStyle]float64, error) {
	const q = `SELECT prompt_style, AVG(response_time_ms)::float8 FROM query_history GROUP BY prompt_style`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[models.PromptStyle]float64)
	for rows.Next() {
		var (
			style string
			avg   float64
		)
		if err := rows.Scan(&style, &avg); err != nil {
			return nil, err
		}
		out[models.PromptStyle(style)] = avg
	}
	return out, rows.Err()
}

func (c *DatabaseClient) TopUsers(ctx context.Context, limit int) ([]models.UserQueryCount, error) {
	const q = `
		SELECT user_name, MAX(user_department), COUNT(*) AS n
		FROM query_history
		GROUP BY user_name
		ORDER BY n DESC, user_name
		LIMIT $1
	`
	rows, err := c.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserQueryCount
	for rows.Next() {
		var u models.UserQueryCount
		if err := rows.Scan(&u.UserName, &u.UserDepartment, &u.Count); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// escapeLike makes keyword match literally inside an ILIKE pattern.
func escapeLike(keyword string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(keyword)
}
