package core

import (
	"context"

	"github.com/markdave123-py/dossier/internal/models"
)

// ExtractedDocument is the text content of a source file, page by page plus as a whole.
type ExtractedDocument struct {
	PageCount int
	Pages     []models.PageText
	FullText  string
}

// DocumentExtractor turns raw file bytes into text.
// The `contentType` hint helps the extractor choose the right parsing strategy.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (*ExtractedDocument, error)
}
