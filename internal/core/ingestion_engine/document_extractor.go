package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var _ core.DocumentExtractor = (*PDFExtractor)(nil)

func NewPDFExtractor(useReadability bool) *PDFExtractor {
	return &PDFExtractor{useReadability: useReadability}
}

// Extract reads the page texts and the whole-document text concurrently.
// Page text is required; when docconv cannot produce the full text the joined pages stand in.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractedDocument, error) {
	var (
		pages    []models.PageText
		fullText string
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p, err := readPages(gctx, data)
		if err != nil {
			return err
		}
		pages = p
		return nil
	})

	g.Go(func() error {
		res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
		if err != nil {
			log.Warn().Err(err).Str("content_type", contentType).Msg("docconv: full text extraction failed, using page text")
			return nil
		}
		fullText = strings.TrimSpace(res.Body)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if fullText == "" {
		texts := make([]string, 0, len(pages))
		for _, p := range pages {
			if t := strings.TrimSpace(p.Text); t != "" {
				texts = append(texts, t)
			}
		}
		fullText = strings.Join(texts, "\n")
	}

	return &core.ExtractedDocument{
		PageCount: len(pages),
		Pages:     pages,
		FullText:  fullText,
	}, nil
}

// readPages returns the plain text of every page, 1-based and in order.
// The pdf package panics on some malformed inputs, so that is turned into an error.
func readPages(ctx context.Context, data []byte) (pages []models.PageText, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: malformed pdf: %v", core.ErrChunking, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", core.ErrChunking, err)
	}

	n := r.NumPage()
	pages = make([]models.PageText, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, models.PageText{Number: i})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: read page %d: %v", core.ErrChunking, i, err)
		}
		pages = append(pages, models.PageText{Number: i, Text: text})
	}
	return pages, nil
}
