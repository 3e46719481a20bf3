package ingestion_engine

import "context"

// Ingestor is what the document service needs from the background pipeline.
type Ingestor interface {
	Enqueue(docID string) error
	ProcessOne(ctx context.Context, docID string) error
}

var _ Ingestor = (*DocumentIngestor)(nil)
