package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/logger"
	"github.com/markdave123-py/dossier/internal/metrics"
	"github.com/markdave123-py/dossier/internal/models"
)

// statusTimeout bounds the terminal status write and the compensation calls,
// which run on fresh contexts after the attempt's own context may have expired.
const statusTimeout = 30 * time.Second

// NewDocumentIngestor constructs the ingestor with a bounded job queue.
func NewDocumentIngestor(
	db core.DbClient,
	obj core.ObjectClient,
	vectors core.VectorStore,
	search core.SearchIndex,
	extractor core.DocumentExtractor,
	m *metrics.Metrics,
	cfg *IngestConfig,
) *DocumentIngestor {
	cfg = cfg.withDefaults()
	return &DocumentIngestor{
		db: db, obj: obj, vectors: vectors, search: search, extractor: extractor,
		metrics: m, cfg: cfg,
		log:     logger.Component("ingestor"),
		jobs:    make(chan string, cfg.QueueSize),
		pending: make(map[string]struct{}),
	}
}

// Start runs numWorkers goroutines reading from the jobs channel until ctx is done.
// An attempt already running when ctx ends is finished, not abandoned.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		i.wg.Add(1)
		go func(w int) {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					i.log.Info().Int("worker", w).Msg("worker shutting down")
					return
				case docID := <-i.jobs:
					i.metrics.SetQueueDepth(len(i.jobs))
					i.log.Info().Int("worker", w).Str("document_id", docID).Msg("processing document")

					err := i.process(ctx, docID)
					i.release(docID)
					if err != nil {
						i.log.Error().Err(err).Int("worker", w).Str("document_id", docID).Msg("processing failed")
					}
				}
			}
		}(w)
	}
}

// Wait blocks until every worker started by Start has returned.
func (i *DocumentIngestor) Wait() {
	i.wg.Wait()
}

// Enqueue schedules a document ID for ingestion without blocking.
// It returns ErrQueueFull when the queue has no room and ErrAlreadyClaimed
// when the id is already queued or running in this process.
func (i *DocumentIngestor) Enqueue(docID string) error {
	if !i.acquire(docID) {
		return fmt.Errorf("%w: %s", core.ErrAlreadyClaimed, docID)
	}
	select {
	case i.jobs <- docID:
		i.metrics.SetQueueDepth(len(i.jobs))
		return nil
	default:
		i.release(docID)
		return fmt.Errorf("%w: %s", core.ErrQueueFull, docID)
	}
}

// ProcessOne runs one attempt synchronously on the calling goroutine.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, docID string) error {
	if !i.acquire(docID) {
		return fmt.Errorf("%w: %s", core.ErrAlreadyClaimed, docID)
	}
	defer i.release(docID)
	return i.process(ctx, docID)
}

func (i *DocumentIngestor) acquire(docID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.pending[docID]; ok {
		return false
	}
	i.pending[docID] = struct{}{}
	return true
}

func (i *DocumentIngestor) release(docID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.pending, docID)
}

// Pending returns the sorted ids that are queued or being processed.
func (i *DocumentIngestor) Pending() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	ids := make([]string, 0, len(i.pending))
	for id := range i.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (i *DocumentIngestor) isPending(docID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.pending[docID]
	return ok
}

// process claims the document, then extracts, chunks, upserts, indexes and completes it.
// Any failure triggers compensation and leaves the document FAILED.
func (i *DocumentIngestor) process(ctx context.Context, docID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.ProcessTimeout)
	defer cancel()

	claimed, err := i.db.ClaimDocument(ctx, docID, models.StatusUploading, models.StatusFailed)
	if err != nil {
		return fmt.Errorf("claim document %s: %w", docID, err)
	}
	if !claimed {
		return fmt.Errorf("%w: %s", core.ErrAlreadyClaimed, docID)
	}

	began := time.Now()
	at := &attempt{docID: docID}

	if err := i.run(ctx, at); err != nil {
		i.compensate(at)
		i.markFailed(docID, err)
		i.metrics.RecordDocumentProcessed("failed", time.Since(began))
		return err
	}

	i.metrics.RecordDocumentProcessed("completed", time.Since(began))
	i.log.Info().Str("document_id", docID).Dur("took", time.Since(began)).Msg("document completed")
	return nil
}

func (i *DocumentIngestor) run(ctx context.Context, at *attempt) error {
	doc, err := i.db.GetDocumentByID(ctx, at.docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	data, err := i.readBlob(ctx, doc.StoragePath)
	if err != nil {
		return err
	}

	extracted, err := i.extractor.Extract(ctx, data, doc.ContentType)
	if err != nil {
		return asClass(core.ErrChunking, "extract text", err)
	}

	chunks, err := i.chunkPages(extracted.Pages)
	if err != nil {
		return err
	}
	i.log.Debug().Str("document_id", doc.ID).Int("pages", extracted.PageCount).Int("chunks", len(chunks)).Msg("document chunked")

	if err := i.upsertChunks(ctx, doc, chunks, at); err != nil {
		return err
	}

	searchRef, err := i.indexFullText(ctx, doc, extracted, at)
	if err != nil {
		return err
	}

	if err := i.db.CompleteDocument(ctx, doc.ID, extracted.PageCount, doc.ID, searchRef); err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	return nil
}

func (i *DocumentIngestor) readBlob(ctx context.Context, path string) ([]byte, error) {
	sctx, cancel := context.WithTimeout(ctx, i.cfg.StorageTimeout)
	defer cancel()

	began := time.Now()
	data, err := i.obj.GetFile(sctx, path)
	i.metrics.RecordDependencyCall("file_storage", "get", err, time.Since(began))
	if err != nil {
		return nil, asClass(core.ErrStorage, "read "+path, err)
	}
	return data, nil
}

// compensate removes the side effects recorded in the attempt. Failures are logged only.
func (i *DocumentIngestor) compensate(at *attempt) {
	if len(at.upserted) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), max(i.cfg.VectorTimeout, statusTimeout))
		began := time.Now()
		err := i.vectors.Delete(ctx, i.cfg.Collection, at.upserted)
		cancel()
		i.metrics.RecordDependencyCall("vector_store", "delete", err, time.Since(began))
		if err != nil {
			i.log.Warn().Err(err).Str("document_id", at.docID).Int("ids", len(at.upserted)).Msg("compensation: vector delete failed")
		}
	}
	if at.indexed {
		ctx, cancel := context.WithTimeout(context.Background(), max(i.cfg.SearchTimeout, statusTimeout))
		began := time.Now()
		err := i.search.Delete(ctx, i.cfg.SearchIndex, at.searchID)
		cancel()
		i.metrics.RecordDependencyCall("search_index", "delete", err, time.Since(began))
		if err != nil {
			i.log.Warn().Err(err).Str("document_id", at.docID).Msg("compensation: search delete failed")
		}
	}
}

func (i *DocumentIngestor) markFailed(docID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if err := i.db.FailDocument(ctx, docID, cause.Error()); err != nil {
		i.log.Error().Err(err).Str("document_id", docID).Msg("could not mark document failed")
	}
}

// RecoveryResult counts what Recover changed.
type RecoveryResult struct {
	Interrupted int
	Requeued    int
}

// Recover repairs state left by a previous process. Documents stuck in PROCESSING
// are marked FAILED and documents still UPLOADING are queued again.
// Ids running in this process are left alone.
func (i *DocumentIngestor) Recover(ctx context.Context) (RecoveryResult, error) {
	var res RecoveryResult

	stuck, err := i.db.ListDocumentsByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return res, fmt.Errorf("list processing documents: %w", err)
	}
	for _, d := range stuck {
		if i.isPending(d.ID) {
			continue
		}
		if err := i.db.FailDocument(ctx, d.ID, "processing interrupted"); err != nil {
			i.log.Warn().Err(err).Str("document_id", d.ID).Msg("recover: could not fail interrupted document")
			continue
		}
		res.Interrupted++
	}

	waiting, err := i.db.ListDocumentsByStatus(ctx, models.StatusUploading)
	if err != nil {
		return res, fmt.Errorf("list uploading documents: %w", err)
	}
	for _, d := range waiting {
		err := i.Enqueue(d.ID)
		switch {
		case err == nil:
			res.Requeued++
		case errors.Is(err, core.ErrAlreadyClaimed):
		default:
			i.log.Warn().Err(err).Str("document_id", d.ID).Msg("recover: could not requeue document")
		}
	}

	i.log.Info().Int("interrupted", res.Interrupted).Int("requeued", res.Requeued).Msg("recovery sweep finished")
	return res, nil
}
