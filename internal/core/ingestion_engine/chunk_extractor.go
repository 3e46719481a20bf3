package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/core/chunker"
	"github.com/markdave123-py/dossier/internal/models"
)

// chunkPages splits every page into windows. A document with no text at all is an error.
func (i *DocumentIngestor) chunkPages(pages []models.PageText) ([]models.TextChunk, error) {
	chunks, err := chunker.SplitPages(pages, i.cfg.ChunkSize, i.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no extractable text", core.ErrChunking)
	}
	return chunks, nil
}

// ChunkID is the vector store id of one window: "{docID}_{page}_{chunkIndex}".
func ChunkID(docID string, c models.TextChunk) string {
	return fmt.Sprintf("%s_%d_%d", docID, c.PageNumber, c.ChunkIndex)
}

// upsertChunks writes the windows in batches of BatchSize, each under its own timeout.
// Ids of every batch that landed are appended to the attempt before the next batch starts.
func (i *DocumentIngestor) upsertChunks(ctx context.Context, doc *models.Document, chunks []models.TextChunk, at *attempt) error {
	for start := 0; start < len(chunks); start += i.cfg.BatchSize {
		end := min(start+i.cfg.BatchSize, len(chunks))
		batch := chunks[start:end]

		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		metas := make([]map[string]any, len(batch))
		for j, c := range batch {
			ids[j] = ChunkID(doc.ID, c)
			texts[j] = c.Text
			metas[j] = map[string]any{
				"document_id": doc.ID,
				"file_name":   doc.OriginalFileName,
				"page_number": c.PageNumber,
				"chunk_index": c.ChunkIndex,
			}
		}

		bctx, cancel := context.WithTimeout(ctx, i.cfg.VectorTimeout)
		began := time.Now()
		err := i.vectors.Upsert(bctx, i.cfg.Collection, ids, texts, metas)
		cancel()
		i.metrics.RecordDependencyCall("vector_store", "upsert", err, time.Since(began))
		if err != nil {
			return asClass(core.ErrVectorStore, fmt.Sprintf("upsert batch %d-%d", start, end), err)
		}
		at.upserted = append(at.upserted, ids...)

		i.log.Debug().Str("document_id", doc.ID).Int("batch_start", start).Int("batch_size", len(batch)).Msg("upserted chunk batch")
	}
	return nil
}

// indexFullText stores the whole-document text in the search index under the document id.
func (i *DocumentIngestor) indexFullText(ctx context.Context, doc *models.Document, extracted *core.ExtractedDocument, at *attempt) (string, error) {
	fields := map[string]any{
		"documentId": doc.ID,
		"fileName":   doc.OriginalFileName,
		"content":    extracted.FullText,
		"pageCount":  extracted.PageCount,
		"uploadedBy": doc.UploadedBy,
		"createdAt":  doc.CreatedAt.UTC().Format(time.RFC3339),
	}
	if doc.Description != nil {
		fields["description"] = *doc.Description
	}

	sctx, cancel := context.WithTimeout(ctx, i.cfg.SearchTimeout)
	defer cancel()

	began := time.Now()
	id, err := i.search.Index(sctx, i.cfg.SearchIndex, doc.ID, fields)
	i.metrics.RecordDependencyCall("search_index", "index", err, time.Since(began))
	if err != nil {
		return "", asClass(core.ErrSearchIndex, "index full text", err)
	}
	at.searchID = id
	at.indexed = true
	return id, nil
}

// asClass wraps err with context, adding the failure class when the callee did not.
func asClass(class error, op string, err error) error {
	if errors.Is(err, class) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", class, op, err)
}
