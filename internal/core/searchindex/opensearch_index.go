// Package searchindex keeps whole-document text in OpenSearch for keyword search.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/markdave123-py/dossier/internal/core"
)

var _ core.SearchIndex = (*OpenSearchIndex)(nil)

const indexMapping = `{
  "mappings": {
    "properties": {
      "documentId":  {"type": "keyword"},
      "fileName":    {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "description": {"type": "text"},
      "content":     {"type": "text"},
      "pageCount":   {"type": "integer"},
      "uploadedBy":  {"type": "keyword"},
      "createdAt":   {"type": "date"}
    }
  }
}`

type OpenSearchIndex struct {
	client *opensearch.Client
}

func NewOpenSearchIndex(url, username, password string) (*OpenSearchIndex, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{url},
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}
	return &OpenSearchIndex{client: client}, nil
}

// EnsureIndex creates the index with its mapping unless it exists. A concurrent creator winning the race is not an error.
func (s *OpenSearchIndex) EnsureIndex(ctx context.Context, index string) error {
	res, err := opensearchapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("%w: check index %s: %v", core.ErrSearchIndex, index, err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = opensearchapi.IndicesCreateRequest{
		Index: index,
		Body:  strings.NewReader(indexMapping),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("%w: create index %s: %v", core.ErrSearchIndex, index, err)
	}
	defer drain(res)
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("%w: create index %s: %s", core.ErrSearchIndex, index, res.Status())
	}
	return nil
}

// Index stores fields under id and returns the id assigned by OpenSearch.
func (s *OpenSearchIndex) Index(ctx context.Context, index, id string, fields map[string]any) (string, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("%w: encode document %s: %v", core.ErrSearchIndex, id, err)
	}

	res, err := opensearchapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}.Do(ctx, s.client)
	if err != nil {
		return "", fmt.Errorf("%w: index %s: %v", core.ErrSearchIndex, id, err)
	}
	defer drain(res)
	if res.IsError() {
		return "", fmt.Errorf("%w: index %s: %s", core.ErrSearchIndex, id, res.Status())
	}

	var out struct {
		ID string `json:"_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode index response: %v", core.ErrSearchIndex, err)
	}
	if out.ID == "" {
		out.ID = id
	}
	return out.ID, nil
}

// Delete removes the document. A document that is already gone is not an error.
func (s *OpenSearchIndex) Delete(ctx context.Context, index, id string) error {
	res, err := opensearchapi.DeleteRequest{Index: index, DocumentID: id}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", core.ErrSearchIndex, id, err)
	}
	defer drain(res)
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: delete %s: %s", core.ErrSearchIndex, id, res.Status())
	}
	return nil
}

// Search runs a multi_match over content, file name and description.
func (s *OpenSearchIndex) Search(ctx context.Context, index, query string, size int) ([]core.SearchHit, error) {
	body, err := json.Marshal(map[string]any{
		"size": size,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"content", "fileName^2", "description"},
			},
		},
		"_source": map[string]any{"excludes": []string{"content"}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode query: %v", core.ErrSearchIndex, err)
	}

	res, err := opensearchapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", core.ErrSearchIndex, err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, fmt.Errorf("%w: search: %s", core.ErrSearchIndex, res.Status())
	}

	var out struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Score  float64        `json:"_score"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", core.ErrSearchIndex, err)
	}

	hits := make([]core.SearchHit, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		hits = append(hits, core.SearchHit{ID: h.ID, Score: h.Score, Fields: h.Source})
	}
	return hits, nil
}

func drain(res *opensearchapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}
