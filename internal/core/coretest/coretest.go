// Package coretest provides in-memory implementations of the core collaborators for tests.
// Every fake records its calls and can be told to fail.
package coretest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/models"
)

// MemoryDB is an in-memory core.DbClient.
type MemoryDB struct {
	mu          sync.Mutex
	documents   map[string]*models.Document
	history     map[string]*models.QueryHistory
	transitions map[string][]models.DocumentStatus

	FailCreateDocument bool
	FailCreateHistory  bool
	FailClaim          bool
	// BeforeDelete, when set, runs at the start of DeleteDocument.
	BeforeDelete func(id string)
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		documents:   make(map[string]*models.Document),
		history:     make(map[string]*models.QueryHistory),
		transitions: make(map[string][]models.DocumentStatus),
	}
}

// Transitions returns every status a document has been in, in order.
func (m *MemoryDB) Transitions(id string) []models.DocumentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DocumentStatus(nil), m.transitions[id]...)
}

// HistoryCount returns the number of stored query history rows.
func (m *MemoryDB) HistoryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// Put stores a document as-is, bypassing lifecycle checks.
func (m *MemoryDB) Put(doc *models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	m.documents[doc.ID] = &cp
	m.transitions[doc.ID] = append(m.transitions[doc.ID], doc.Status)
}

func (m *MemoryDB) setStatus(d *models.Document, s models.DocumentStatus) {
	d.Status = s
	d.UpdatedAt = time.Now()
	m.transitions[d.ID] = append(m.transitions[d.ID], s)
}

func (m *MemoryDB) CreateDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateDocument {
		return fmt.Errorf("create document: connection refused")
	}
	if _, ok := m.documents[doc.ID]; ok {
		return fmt.Errorf("duplicate document id %s", doc.ID)
	}
	cp := *doc
	m.documents[doc.ID] = &cp
	m.transitions[doc.ID] = append(m.transitions[doc.ID], doc.Status)
	return nil
}

func (m *MemoryDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", core.ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryDB) sortedDocuments(match func(*models.Document) bool) []models.Document {
	var out []models.Document
	for _, d := range m.documents {
		if match(d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func paginate[T any](items []T, page models.PageRequest) *models.Page[T] {
	page = page.Normalize()
	start := min(page.Offset(), len(items))
	end := min(start+page.Size, len(items))
	out := make([]T, end-start)
	copy(out, items[start:end])
	return &models.Page[T]{Items: out, Total: int64(len(items)), Page: page.Page, Size: page.Size}
}

func (m *MemoryDB) ListDocuments(_ context.Context, page models.PageRequest) (*models.Page[models.Document], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return paginate(m.sortedDocuments(func(*models.Document) bool { return true }), page), nil
}

func (m *MemoryDB) SearchDocumentsByName(_ context.Context, keyword string, page models.PageRequest) (*models.Page[models.Document], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kw := strings.ToLower(keyword)
	return paginate(m.sortedDocuments(func(d *models.Document) bool {
		return strings.Contains(strings.ToLower(d.OriginalFileName), kw)
	}), page), nil
}

func (m *MemoryDB) ListDocumentsByStatus(_ context.Context, status models.DocumentStatus) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedDocuments(func(d *models.Document) bool { return d.Status == status }), nil
}

func (m *MemoryDB) DeleteDocument(_ context.Context, id string) error {
	if m.BeforeDelete != nil {
		m.BeforeDelete(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return fmt.Errorf("%w: document %s", core.ErrNotFound, id)
	}
	delete(m.documents, id)
	return nil
}

func (m *MemoryDB) ClaimDocument(_ context.Context, id string, from ...models.DocumentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailClaim {
		return false, fmt.Errorf("claim: connection refused")
	}
	d, ok := m.documents[id]
	if !ok {
		return false, fmt.Errorf("%w: document %s", core.ErrNotFound, id)
	}
	for _, s := range from {
		if d.Status == s {
			d.ErrorMessage = nil
			m.setStatus(d, models.StatusProcessing)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryDB) CompleteDocument(_ context.Context, id string, pageCount int, vectorRef, searchRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok || d.Status != models.StatusProcessing {
		return fmt.Errorf("document %s is not processing", id)
	}
	d.PageCount = pageCount
	d.VectorRef = &vectorRef
	d.SearchRef = &searchRef
	d.ErrorMessage = nil
	m.setStatus(d, models.StatusCompleted)
	return nil
}

func (m *MemoryDB) FailDocument(_ context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok || d.Status != models.StatusProcessing {
		return fmt.Errorf("document %s is not processing", id)
	}
	d.ErrorMessage = &message
	d.VectorRef = nil
	d.SearchRef = nil
	m.setStatus(d, models.StatusFailed)
	return nil
}

func (m *MemoryDB) CountDocumentsByStatus(_ context.Context) (map[models.DocumentStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.DocumentStatus]int64)
	for _, d := range m.documents {
		out[d.Status]++
	}
	return out, nil
}

func (m *MemoryDB) DocumentTotals(_ context.Context) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var size, pages int64
	for _, d := range m.documents {
		size += d.FileSize
		pages += int64(d.PageCount)
	}
	return size, pages, nil
}

func (m *MemoryDB) CreateQueryHistory(_ context.Context, h *models.QueryHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateHistory {
		return fmt.Errorf("insert query history: connection refused")
	}
	cp := *h
	m.history[h.ID] = &cp
	return nil
}

func (m *MemoryDB) GetQueryHistory(_ context.Context, id string) (*models.QueryHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.history[id]
	if !ok {
		return nil, fmt.Errorf("%w: query history %s", core.ErrNotFound, id)
	}
	cp := *h
	return &cp, nil
}

func (m *MemoryDB) sortedHistory(userName string) []models.QueryHistory {
	var out []models.QueryHistory
	for _, h := range m.history {
		if userName == "" || h.UserName == userName {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryDB) ListQueryHistory(_ context.Context, page models.PageRequest) (*models.Page[models.QueryHistory], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return paginate(m.sortedHistory(""), page), nil
}

func (m *MemoryDB) ListQueryHistoryByUser(_ context.Context, userName string, page models.PageRequest) (*models.Page[models.QueryHistory], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return paginate(m.sortedHistory(userName), page), nil
}

func (m *MemoryDB) CountQueries(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.history)), nil
}

func (m *MemoryDB) CountQueriesSince(_ context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, h := range m.history {
		if !h.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryDB) CountQueriesByStyle(_ context.Context) (map[models.PromptStyle]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.PromptStyle]int64)
	for _, h := range m.history {
		out[h.PromptStyle]++
	}
	return out, nil
}

func (m *MemoryDB) AverageLatencyByStyle(_ context.Context) (map[models.PromptStyle]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sums := make(map[models.PromptStyle]int64)
	counts := make(map[models.PromptStyle]int64)
	for _, h := range m.history {
		sums[h.PromptStyle] += h.ResponseTimeMs
		counts[h.PromptStyle]++
	}
	out := make(map[models.PromptStyle]float64, len(sums))
	for st, sum := range sums {
		out[st] = float64(sum) / float64(counts[st])
	}
	return out, nil
}

func (m *MemoryDB) TopUsers(_ context.Context, limit int) ([]models.UserQueryCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser := make(map[string]*models.UserQueryCount)
	for _, h := range m.history {
		u, ok := byUser[h.UserName]
		if !ok {
			u = &models.UserQueryCount{UserName: h.UserName}
			byUser[h.UserName] = u
		}
		u.Count++
		if h.UserDepartment != nil {
			u.UserDepartment = h.UserDepartment
		}
	}
	out := make([]models.UserQueryCount, 0, len(byUser))
	for _, u := range byUser {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].UserName < out[j].UserName
		}
		return out[i].Count > out[j].Count
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryDB) Close() error { return nil }

// MemoryObjects is an in-memory core.ObjectClient.
type MemoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	Deleted []string

	FailUpload bool
	FailGet    bool
	FailDelete bool
}

func NewMemoryObjects() *MemoryObjects {
	return &MemoryObjects{objects: make(map[string][]byte)}
}

func (m *MemoryObjects) Has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok
}

func (m *MemoryObjects) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpload {
		return "", fmt.Errorf("%w: disk full", core.ErrStorage)
	}
	if _, ok := m.objects[key]; ok {
		return "", fmt.Errorf("%w: %s already exists", core.ErrStorage, key)
	}
	m.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *MemoryObjects) DeleteFile(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, path)
	if m.FailDelete {
		return fmt.Errorf("%w: permission denied", core.ErrStorage)
	}
	delete(m.objects, path)
	return nil
}

func (m *MemoryObjects) GetFile(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGet {
		return nil, fmt.Errorf("%w: i/o error", core.ErrStorage)
	}
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", core.ErrNotFound, path)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryObjects) GetObjectReader(ctx context.Context, path string) (io.ReadCloser, error) {
	data, err := m.GetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type vectorEntry struct {
	text string
	meta map[string]any
}

// MemoryVectors is an in-memory core.VectorStore. Query returns the preset Hits when set,
// otherwise entries whose text shares a word with the query.
type MemoryVectors struct {
	mu           sync.Mutex
	collections  map[string]map[string]vectorEntry
	Ensured      int
	Hits         []core.VectorHit
	Deletes      [][]string
	BatchDeletes []string
	Delay        time.Duration
	upserts      int
	// BeforeUpsert, when set, runs at the start of every Upsert.
	BeforeUpsert func()

	FailUpsert bool
	// FailUpsertAfter makes every Upsert after the first N calls fail. Zero disables it.
	FailUpsertAfter int
	FailQuery       bool
	FailDelete      bool
}

func NewMemoryVectors() *MemoryVectors {
	return &MemoryVectors{collections: make(map[string]map[string]vectorEntry)}
}

// Count returns the number of entries in a collection.
func (m *MemoryVectors) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection])
}

// IDs returns the sorted entry ids in a collection.
func (m *MemoryVectors) IDs(collection string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.collections[collection]))
	for id := range m.collections[collection] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryVectors) EnsureCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ensured++
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string]vectorEntry)
	}
	return nil
}

func (m *MemoryVectors) Upsert(ctx context.Context, collection string, ids, texts []string, metadatas []map[string]any) error {
	if m.BeforeUpsert != nil {
		m.BeforeUpsert()
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", core.ErrVectorStore, ctx.Err())
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpsert || (m.FailUpsertAfter > 0 && m.upserts >= m.FailUpsertAfter) {
		return fmt.Errorf("%w: upsert rejected", core.ErrVectorStore)
	}
	m.upserts++
	c, ok := m.collections[collection]
	if !ok {
		c = make(map[string]vectorEntry)
		m.collections[collection] = c
	}
	for i, id := range ids {
		c[id] = vectorEntry{text: texts[i], meta: metadatas[i]}
	}
	return nil
}

func (m *MemoryVectors) Query(_ context.Context, collection, text string, topK int) ([]core.VectorHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailQuery {
		return nil, fmt.Errorf("%w: query rejected", core.ErrVectorStore)
	}
	if m.Hits != nil {
		return append([]core.VectorHit(nil), m.Hits[:min(topK, len(m.Hits))]...), nil
	}

	words := strings.Fields(strings.ToLower(text))
	var out []core.VectorHit
	ids := make([]string, 0, len(m.collections[collection]))
	for id := range m.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := m.collections[collection][id]
		lower := strings.ToLower(e.text)
		for _, w := range words {
			if strings.Contains(lower, w) {
				out = append(out, core.VectorHit{ID: id, Text: e.text, Metadata: e.meta, Distance: 0.2})
				break
			}
		}
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (m *MemoryVectors) Delete(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletes = append(m.Deletes, append([]string(nil), ids...))
	if m.FailDelete {
		return fmt.Errorf("%w: delete rejected", core.ErrVectorStore)
	}
	for _, id := range ids {
		delete(m.collections[collection], id)
	}
	return nil
}

func (m *MemoryVectors) DeleteBatch(_ context.Context, collection, batchKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchDeletes = append(m.BatchDeletes, batchKey)
	if m.FailDelete {
		return fmt.Errorf("%w: delete rejected", core.ErrVectorStore)
	}
	for id, e := range m.collections[collection] {
		if e.meta["document_id"] == batchKey {
			delete(m.collections[collection], id)
		}
	}
	return nil
}

// MemorySearch is an in-memory core.SearchIndex.
type MemorySearch struct {
	mu      sync.Mutex
	indices map[string]map[string]map[string]any
	Ensured int
	Deleted []string

	FailIndex  bool
	FailDelete bool
}

func NewMemorySearch() *MemorySearch {
	return &MemorySearch{indices: make(map[string]map[string]map[string]any)}
}

// Get returns the fields stored under id.
func (m *MemorySearch) Get(index, id string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.indices[index][id]
	return f, ok
}

func (m *MemorySearch) EnsureIndex(_ context.Context, index string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ensured++
	if _, ok := m.indices[index]; !ok {
		m.indices[index] = make(map[string]map[string]any)
	}
	return nil
}

func (m *MemorySearch) Index(_ context.Context, index, id string, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIndex {
		return "", fmt.Errorf("%w: cluster unavailable", core.ErrSearchIndex)
	}
	if m.indices[index] == nil {
		m.indices[index] = make(map[string]map[string]any)
	}
	m.indices[index][id] = fields
	return id, nil
}

func (m *MemorySearch) Delete(_ context.Context, index, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, id)
	if m.FailDelete {
		return fmt.Errorf("%w: cluster unavailable", core.ErrSearchIndex)
	}
	delete(m.indices[index], id)
	return nil
}

func (m *MemorySearch) Search(_ context.Context, index, query string, size int) ([]core.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	ids := make([]string, 0, len(m.indices[index]))
	for id := range m.indices[index] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []core.SearchHit
	for _, id := range ids {
		f := m.indices[index][id]
		content, _ := f["content"].(string)
		name, _ := f["fileName"].(string)
		if strings.Contains(strings.ToLower(content), q) || strings.Contains(strings.ToLower(name), q) {
			out = append(out, core.SearchHit{ID: id, Score: 1, Fields: f})
		}
		if len(out) == size {
			break
		}
	}
	return out, nil
}

// StubExtractor returns a fixed extraction, or Err when set.
type StubExtractor struct {
	Result *core.ExtractedDocument
	Err    error
}

// Pages builds an extraction with one entry per page text.
func Pages(texts ...string) *core.ExtractedDocument {
	doc := &core.ExtractedDocument{PageCount: len(texts)}
	for i, t := range texts {
		doc.Pages = append(doc.Pages, models.PageText{Number: i + 1, Text: t})
	}
	doc.FullText = strings.Join(texts, "\n")
	return doc
}

func (s *StubExtractor) Extract(_ context.Context, _ []byte, _ string) (*core.ExtractedDocument, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Result, nil
}

// StubLLM answers every prompt with Answer and records the prompts it received.
type StubLLM struct {
	mu        sync.Mutex
	Answer    string
	Err       error
	Available bool
	Delay     time.Duration
	Prompts   []string
}

func (s *StubLLM) Generate(ctx context.Context, _ string, prompt string) (string, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", core.ErrGeneration, ctx.Err())
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prompts = append(s.Prompts, prompt)
	if s.Err != nil {
		return "", s.Err
	}
	return s.Answer, nil
}

func (s *StubLLM) IsAvailable(context.Context, string) bool {
	return s.Available
}

var (
	_ core.DbClient          = (*MemoryDB)(nil)
	_ core.ObjectClient      = (*MemoryObjects)(nil)
	_ core.VectorStore       = (*MemoryVectors)(nil)
	_ core.SearchIndex       = (*MemorySearch)(nil)
	_ core.DocumentExtractor = (*StubExtractor)(nil)
	_ core.LLMProvider       = (*StubLLM)(nil)
)
