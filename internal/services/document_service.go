package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/core/ingestion_engine"
	"github.com/markdave123-py/dossier/internal/logger"
	"github.com/markdave123-py/dossier/internal/models"
	"github.com/rs/zerolog"
)

const pdfContentType = "application/pdf"

// DocumentConfig names the stores documents are written to and bounds each call.
type DocumentConfig struct {
	Collection     string
	SearchIndex    string
	StorageTimeout time.Duration
	VectorTimeout  time.Duration
	SearchTimeout  time.Duration
}

func (c DocumentConfig) withDefaults() DocumentConfig {
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = 2 * time.Minute
	}
	if c.VectorTimeout <= 0 {
		c.VectorTimeout = 2 * time.Minute
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = time.Minute
	}
	return c
}

type DocumentService struct {
	db       core.DbClient
	storage  core.ObjectClient
	vectors  core.VectorStore
	search   core.SearchIndex
	ingestor ingestion_engine.Ingestor
	cfg      DocumentConfig
	log      zerolog.Logger
}

func NewDocumentService(
	db core.DbClient,
	storage core.ObjectClient,
	vectors core.VectorStore,
	search core.SearchIndex,
	ingestor ingestion_engine.Ingestor,
	cfg DocumentConfig,
) *DocumentService {
	return &DocumentService{
		db: db, storage: storage, vectors: vectors, search: search, ingestor: ingestor,
		cfg: cfg.withDefaults(),
		log: logger.Component("documents"),
	}
}

// UploadInput is one file submitted for ingestion.
type UploadInput struct {
	Data        []byte
	FileName    string
	ContentType string
	UploadedBy  string
	Description string
}

// Upload stores the file, records it as UPLOADING and queues it for processing.
// The row exists before Upload returns; processing happens in the background.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*models.Document, error) {
	original := baseName(in.FileName)
	contentType, err := pdfType(original, in.ContentType)
	if err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", core.ErrInvalidInput)
	}
	uploadedBy := strings.TrimSpace(in.UploadedBy)
	if uploadedBy == "" {
		return nil, fmt.Errorf("%w: uploadedBy is required", core.ErrInvalidInput)
	}

	docID := uuid.NewString()
	storedName := docID + "_" + original

	uctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	storagePath, err := s.storage.UploadFile(uctx, storedName, in.Data, contentType)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:               docID,
		FileName:         storedName,
		OriginalFileName: original,
		StoragePath:      storagePath,
		FileSize:         int64(len(in.Data)),
		ContentType:      contentType,
		UploadedBy:       uploadedBy,
		Status:           models.StatusUploading,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		doc.Description = &d
	}

	if err := s.db.CreateDocument(ctx, doc); err != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StorageTimeout)
		defer cancel()
		if derr := s.storage.DeleteFile(dctx, storagePath); derr != nil {
			s.log.Error().Err(derr).Str("document_id", docID).Str("path", storagePath).Msg("could not remove orphaned file")
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	if err := s.ingestor.Enqueue(doc.ID); err != nil {
		// The recovery sweep picks up documents left UPLOADING.
		s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("document not queued")
	}

	s.log.Info().Str("document_id", doc.ID).Str("file", original).Int64("size", doc.FileSize).Msg("document uploaded")
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.db.GetDocumentByID(ctx, id)
}

// List returns documents newest first.
func (s *DocumentService) List(ctx context.Context, page models.PageRequest) (*models.Page[models.Document], error) {
	return s.db.ListDocuments(ctx, page.Normalize())
}

// Search matches keyword case-insensitively against original file names.
func (s *DocumentService) Search(ctx context.Context, keyword string, page models.PageRequest) (*models.Page[models.Document], error) {
	return s.db.SearchDocumentsByName(ctx, strings.TrimSpace(keyword), page.Normalize())
}

// FullTextSearch queries the search index over content, file name and description.
func (s *DocumentService) FullTextSearch(ctx context.Context, query string, size int) ([]core.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", core.ErrInvalidInput)
	}
	if size <= 0 {
		size = 10
	}
	size = min(size, models.MaxPageSize)

	sctx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
	defer cancel()
	return s.search.Search(sctx, s.cfg.SearchIndex, query, size)
}

// GetFile returns the document and a reader over its stored bytes. The caller closes the reader.
func (s *DocumentService) GetFile(ctx context.Context, id string) (*models.Document, io.ReadCloser, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.storage.GetObjectReader(ctx, doc.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	return doc, rc, nil
}

// Delete removes the file, the vector entries, the search document and the row, in that order.
// Every step but the last is best-effort; only a failure to remove the row is returned.
//
// A document that is UPLOADING or PROCESSING has no refs yet. Its row is removed first and then
// everything keyed by its id is swept: an attempt that completed in the meantime has nothing left
// behind, and one that has not fails at completion and compensates its own writes.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	l := s.log.With().Str("document_id", id).Logger()

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	if err := s.storage.DeleteFile(sctx, doc.StoragePath); err != nil {
		l.Warn().Err(err).Msg("delete: file not removed")
	}
	cancel()

	if doc.VectorRef != nil {
		s.deleteVectors(ctx, l, *doc.VectorRef)
	}
	if doc.SearchRef != nil {
		s.deleteSearchDoc(ctx, l, *doc.SearchRef)
	}

	if err := s.db.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document row: %w", err)
	}

	if doc.Status == models.StatusUploading || doc.Status == models.StatusProcessing {
		s.deleteVectors(ctx, l, doc.ID)
		s.deleteSearchDoc(ctx, l, doc.ID)
	}
	l.Info().Msg("document deleted")
	return nil
}

func (s *DocumentService) deleteVectors(ctx context.Context, l zerolog.Logger, batchKey string) {
	vctx, cancel := context.WithTimeout(ctx, s.cfg.VectorTimeout)
	defer cancel()
	if err := s.vectors.DeleteBatch(vctx, s.cfg.Collection, batchKey); err != nil {
		l.Warn().Err(err).Msg("delete: vector entries not removed")
	}
}

func (s *DocumentService) deleteSearchDoc(ctx context.Context, l zerolog.Logger, searchID string) {
	ictx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
	defer cancel()
	if err := s.search.Delete(ictx, s.cfg.SearchIndex, searchID); err != nil {
		l.Warn().Err(err).Msg("delete: search document not removed")
	}
}

// Retry queues a FAILED document for another processing attempt.
func (s *DocumentService) Retry(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusFailed {
		return nil, fmt.Errorf("%w: document %s is %s, only FAILED documents can be retried", core.ErrInvalidInput, id, doc.Status)
	}
	if err := s.ingestor.Enqueue(id); err != nil {
		return nil, err
	}
	return doc, nil
}

// baseName strips any directory part a client sent with the file name.
func baseName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func pdfType(fileName, contentType string) (string, error) {
	if fileName == "" {
		return "", fmt.Errorf("%w: file name is required", core.ErrInvalidInput)
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	isPDFName := strings.EqualFold(path.Ext(fileName), ".pdf")
	switch {
	case ct == pdfContentType:
		return pdfContentType, nil
	case (ct == "" || ct == "application/octet-stream") && isPDFName:
		return pdfContentType, nil
	default:
		return "", fmt.Errorf("%w: only PDF files are accepted, got %q", core.ErrInvalidInput, contentType)
	}
}
