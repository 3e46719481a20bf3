package core

import "errors"

// Failure classes shared by the pipelines and their collaborators.
// Callers match them with errors.Is; concrete errors wrap them with context.
var (
	ErrStorage         = errors.New("storage error")
	ErrNotFound        = errors.New("not found")
	ErrVectorStore     = errors.New("vector store error")
	ErrSearchIndex     = errors.New("search index error")
	ErrGeneration      = errors.New("generation error")
	ErrQueryProcessing = errors.New("query processing error")
	ErrChunking        = errors.New("chunking error")

	ErrInvalidInput   = errors.New("invalid input")
	ErrAlreadyClaimed = errors.New("document is already being processed or completed")
	ErrQueueFull      = errors.New("ingestion queue is full")
)
