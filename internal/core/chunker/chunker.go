// Package chunker splits page text into overlapping fixed-size windows.
package chunker

import (
	"fmt"

	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/models"
)

// Validate checks that a window of chunkSize advancing by chunkSize-overlap makes progress.
func Validate(chunkSize, overlap int) error {
	if overlap < 0 {
		return fmt.Errorf("%w: overlap %d must not be negative", core.ErrChunking, overlap)
	}
	if chunkSize <= overlap {
		return fmt.Errorf("%w: chunk size %d must exceed overlap %d", core.ErrChunking, chunkSize, overlap)
	}
	return nil
}

// Split cuts one page into windows of at most chunkSize characters.
// Each window starts chunkSize-overlap characters after the previous one and
// splitting stops once the start passes the end of the text. Empty text yields no chunks.
func Split(pageNumber int, text string, chunkSize, overlap int) ([]models.TextChunk, error) {
	if err := Validate(chunkSize, overlap); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	step := chunkSize - overlap
	out := make([]models.TextChunk, 0, (n+step-1)/step)
	for start := 0; start < n; start += step {
		end := min(start+chunkSize, n)
		out = append(out, models.TextChunk{
			PageNumber: pageNumber,
			ChunkIndex: len(out),
			Text:       string(runes[start:end]),
			Start:      start,
			End:        end,
		})
	}
	return out, nil
}

// SplitPages applies Split to every page in order.
func SplitPages(pages []models.PageText, chunkSize, overlap int) ([]models.TextChunk, error) {
	if err := Validate(chunkSize, overlap); err != nil {
		return nil, err
	}
	var out []models.TextChunk
	for _, p := range pages {
		chunks, err := Split(p.Number, p.Text, chunkSize, overlap)
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}
