package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/dossier/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres so higher layers never depend on a specific DB.
// Lookups of a missing row return an error wrapping ErrNotFound.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, page models.PageRequest) (*models.Page[models.Document], error)
	SearchDocumentsByName(ctx context.Context, keyword string, page models.PageRequest) (*models.Page[models.Document], error)
	ListDocumentsByStatus(ctx context.Context, status models.DocumentStatus) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// ClaimDocument moves a document from one of the given states into PROCESSING.
	// It reports false when the document was in any other state.
	ClaimDocument(ctx context.Context, id string, from ...models.DocumentStatus) (bool, error)
	CompleteDocument(ctx context.Context, id string, pageCount int, vectorRef, searchRef string) error
	FailDocument(ctx context.Context, id string, message string) error

	CountDocumentsByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error)
	DocumentTotals(ctx context.Context) (totalSize int64, totalPages int64, err error)

	CreateQueryHistory(ctx context.Context, h *models.QueryHistory) error
	GetQueryHistory(ctx context.Context, id string) (*models.QueryHistory, error)
	ListQueryHistory(ctx context.Context, page models.PageRequest) (*models.Page[models.QueryHistory], error)
	ListQueryHistoryByUser(ctx context.Context, userName string, page models.PageRequest) (*models.Page[models.QueryHistory], error)

	CountQueries(ctx context.Context) (int64, error)
	CountQueriesSince(ctx context.Context, since time.Time) (int64, error)
	CountQueriesByStyle(ctx context.Context) (map[models.PromptStyle]int64, error)
	AverageLatencyByStyle(ctx context.Context) (map[models.PromptStyle]float64, error)
	TopUsers(ctx context.Context, limit int) ([]models.UserQueryCount, error)

	Close() error
}

// ObjectClient defines interactions with blob storage (local disk or S3).
// Paths returned by UploadFile are what the other methods accept.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (path string, err error)
	DeleteFile(ctx context.Context, path string) error
	GetFile(ctx context.Context, path string) ([]byte, error)

	GetObjectReader(ctx context.Context, path string) (io.ReadCloser, error)
}

// VectorHit is one similarity match. Distance is the store's native metric; 0 is an exact match.
type VectorHit struct {
	ID       string
	Text     string
	Metadata map[string]any
	Distance float64
}

// VectorStore stores chunk texts with embeddings, keyed by collection.
type VectorStore interface {
	EnsureCollection(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, ids []string, texts []string, metadatas []map[string]any) error
	Query(ctx context.Context, collection string, text string, topK int) ([]VectorHit, error)
	Delete(ctx context.Context, collection string, ids []string) error
	// DeleteBatch removes every entry whose document_id metadata equals batchKey.
	DeleteBatch(ctx context.Context, collection string, batchKey string) error
}

// SearchHit is one full-text match.
type SearchHit struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields"`
}

// SearchIndex keeps whole-document text for keyword search.
type SearchIndex interface {
	EnsureIndex(ctx context.Context, index string) error
	Index(ctx context.Context, index string, id string, fields map[string]any) (string, error)
	Delete(ctx context.Context, index string, id string) error
	Search(ctx context.Context, index string, query string, size int) ([]SearchHit, error)
}
