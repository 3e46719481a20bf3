package ingestion_engine

import (
	"sync"
	"time"

	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/metrics"
	"github.com/rs/zerolog"
)

// IngestConfig tunes the processing pipeline.
//
// ChunkSize:      characters per chunk window.
// ChunkOverlap:   characters shared by consecutive windows of a page.
// BatchSize:      how many chunks to upsert into the vector store in one call (e.g., 32).
// Collection:     vector store collection every chunk goes to.
// SearchIndex:    search index that receives the full text.
// QueueSize:      capacity of the in-memory job queue.
// *Timeout:       per-call bounds for each external dependency; ProcessTimeout bounds a whole attempt.
type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Collection   string
	SearchIndex  string
	QueueSize    int

	StorageTimeout time.Duration
	VectorTimeout  time.Duration
	SearchTimeout  time.Duration
	ProcessTimeout time.Duration
}

func (c *IngestConfig) withDefaults() *IngestConfig {
	out := *c
	if out.BatchSize <= 0 {
		out.BatchSize = 32
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 64
	}
	if out.StorageTimeout <= 0 {
		out.StorageTimeout = 2 * time.Minute
	}
	if out.VectorTimeout <= 0 {
		out.VectorTimeout = 2 * time.Minute
	}
	if out.SearchTimeout <= 0 {
		out.SearchTimeout = time.Minute
	}
	if out.ProcessTimeout <= 0 {
		out.ProcessTimeout = 30 * time.Minute
	}
	return &out
}

// attempt is the checklist of side effects one processing attempt has made.
// Compensation undoes exactly what it records.
type attempt struct {
	docID    string
	upserted []string
	searchID string
	indexed  bool
}

// DocumentIngestor orchestrates the background ingestion pipeline:
//
// db:        metadata store holding the document lifecycle.
// obj:       blob storage holding the uploaded files.
// vectors:   vector store receiving the chunk windows.
// search:    search index receiving the full text.
// extractor: turns PDF bytes into page texts.
// jobs:      in-memory queue of document IDs to process.
// pending:   ids queued or running in this process; a second entry for the same id is dropped.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	vectors   core.VectorStore
	search    core.SearchIndex
	extractor core.DocumentExtractor
	metrics   *metrics.Metrics
	cfg       *IngestConfig
	log       zerolog.Logger

	jobs    chan string
	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// PDFExtractor implements core.DocumentExtractor with a pure-Go page reader and sajari/docconv.
type PDFExtractor struct {
	useReadability bool
}
