package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/core/prompt"
	"github.com/markdave123-py/dossier/internal/logger"
	"github.com/markdave123-py/dossier/internal/metrics"
	"github.com/markdave123-py/dossier/internal/models"
	"github.com/rs/zerolog"
)

const (
	// TopK is how many chunks are retrieved for every question.
	TopK = 5

	excerptRunes = 200
)

// QueryConfig selects the collection and model and bounds each external call.
type QueryConfig struct {
	Collection        string
	Model             string
	VectorTimeout     time.Duration
	GenerationTimeout time.Duration
	StorageTimeout    time.Duration
	HealthTimeout     time.Duration
}

func (c QueryConfig) withDefaults() QueryConfig {
	if c.VectorTimeout <= 0 {
		c.VectorTimeout = 2 * time.Minute
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 10 * time.Minute
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = 30 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
	return c
}

type QueryService struct {
	db      core.DbClient
	vectors core.VectorStore
	llm     core.LLMProvider
	metrics *metrics.Metrics
	cfg     QueryConfig
	log     zerolog.Logger
}

func NewQueryService(db core.DbClient, vectors core.VectorStore, llm core.LLMProvider, m *metrics.Metrics, cfg QueryConfig) *QueryService {
	return &QueryService{
		db: db, vectors: vectors, llm: llm, metrics: m,
		cfg: cfg.withDefaults(),
		log: logger.Component("queries"),
	}
}

// Answer retrieves the closest chunks, asks the model and records the exchange.
// Any failure after validation is returned as ErrQueryProcessing and leaves no history row.
// The work continues even if the caller goes away; the per-call timeouts bound it.
func (s *QueryService) Answer(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", core.ErrInvalidInput)
	}
	userName := strings.TrimSpace(req.UserName)
	if userName == "" {
		return nil, fmt.Errorf("%w: user name is required", core.ErrInvalidInput)
	}
	style, err := models.ParsePromptStyle(req.PromptStyle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}

	ctx = context.WithoutCancel(ctx)
	began := time.Now()

	resp, err := s.answer(ctx, question, style, userName, req.UserDepartment, began)
	status := "ok"
	if err != nil {
		status = "error"
		s.log.Error().Err(err).Str("user", userName).Str("style", string(style)).Msg("query failed")
	}
	s.metrics.RecordQuery(string(style), status, time.Since(began))
	return resp, err
}

func (s *QueryService) answer(ctx context.Context, question string, style models.PromptStyle, userName string, dept *string, began time.Time) (*models.QueryResponse, error) {
	vctx, cancel := context.WithTimeout(ctx, s.cfg.VectorTimeout)
	t := time.Now()
	hits, err := s.vectors.Query(vctx, s.cfg.Collection, question, TopK)
	cancel()
	s.metrics.RecordDependencyCall("vector_store", "query", err, time.Since(t))
	if err != nil {
		return nil, queryError(core.ErrVectorStore, "retrieve", err)
	}
	if len(hits) > TopK {
		hits = hits[:TopK]
	}

	passages := make([]string, len(hits))
	for i, h := range hits {
		passages[i] = h.Text
	}

	p, err := prompt.Compose(question, style, passages)
	if err != nil {
		return nil, fmt.Errorf("%w: compose prompt: %w", core.ErrQueryProcessing, err)
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	t = time.Now()
	answer, err := s.llm.Generate(gctx, s.cfg.Model, p)
	cancel()
	s.metrics.RecordDependencyCall("generation", "generate", err, time.Since(t))
	if err != nil {
		return nil, queryError(core.ErrGeneration, "generate", err)
	}

	refs := buildRefs(hits)
	encoded, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("%w: encode relevant documents: %w", core.ErrQueryProcessing, err)
	}

	h := &models.QueryHistory{
		ID:                uuid.NewString(),
		Question:          question,
		Answer:            answer,
		PromptStyle:       style,
		UserName:          userName,
		UserDepartment:    dept,
		RelevantDocuments: string(encoded),
		ResponseTimeMs:    time.Since(began).Milliseconds(),
		CreatedAt:         time.Now().UTC(),
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	err = s.db.CreateQueryHistory(sctx, h)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: save history: %w", core.ErrQueryProcessing, err)
	}

	return &models.QueryResponse{
		ID:                h.ID,
		Question:          h.Question,
		Answer:            h.Answer,
		PromptStyle:       h.PromptStyle,
		UserName:          h.UserName,
		UserDepartment:    h.UserDepartment,
		RelevantDocuments: refs,
		ResponseTimeMs:    h.ResponseTimeMs,
		CreatedAt:         h.CreatedAt,
	}, nil
}

// History lists answered questions newest first.
func (s *QueryService) History(ctx context.Context, page models.PageRequest) (*models.Page[models.QueryResponse], error) {
	rows, err := s.db.ListQueryHistory(ctx, page.Normalize())
	if err != nil {
		return nil, err
	}
	return toResponses(rows)
}

// HistoryByUser lists one user's questions newest first.
func (s *QueryService) HistoryByUser(ctx context.Context, userName string, page models.PageRequest) (*models.Page[models.QueryResponse], error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return nil, fmt.Errorf("%w: user name is required", core.ErrInvalidInput)
	}
	rows, err := s.db.ListQueryHistoryByUser(ctx, userName, page.Normalize())
	if err != nil {
		return nil, err
	}
	return toResponses(rows)
}

func (s *QueryService) HistoryDetail(ctx context.Context, id string) (*models.QueryResponse, error) {
	h, err := s.db.GetQueryHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return models.NewQueryResponse(h)
}

// GenerationAvailable reports whether the configured model can serve requests.
func (s *QueryService) GenerationAvailable(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	defer cancel()
	return s.llm.IsAvailable(hctx, s.cfg.Model)
}

func toResponses(rows *models.Page[models.QueryHistory]) (*models.Page[models.QueryResponse], error) {
	out := &models.Page[models.QueryResponse]{
		Items: make([]models.QueryResponse, 0, len(rows.Items)),
		Total: rows.Total,
		Page:  rows.Page,
		Size:  rows.Size,
	}
	for i := range rows.Items {
		r, err := models.NewQueryResponse(&rows.Items[i])
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", rows.Items[i].ID, err)
		}
		out.Items = append(out.Items, *r)
	}
	return out, nil
}

// queryError wraps a failed step as ErrQueryProcessing, keeping the step's own class.
func queryError(class error, step string, err error) error {
	if errors.Is(err, class) {
		return fmt.Errorf("%w: %s: %w", core.ErrQueryProcessing, step, err)
	}
	return fmt.Errorf("%w: %s: %w: %w", core.ErrQueryProcessing, step, class, err)
}

func buildRefs(hits []core.VectorHit) []models.RelevantDocument {
	refs := make([]models.RelevantDocument, 0, len(hits))
	for _, h := range hits {
		docID, page := splitChunkID(h.ID)
		if v, ok := h.Metadata["document_id"]; ok {
			docID = metaString(v)
		}
		if v, ok := h.Metadata["page_number"]; ok {
			page = metaInt(v)
		}
		refs = append(refs, models.RelevantDocument{
			DocumentID: docID,
			FileName:   metaString(h.Metadata["file_name"]),
			PageNumber: page,
			Excerpt:    excerpt(h.Text),
			Similarity: similarity(h.Distance),
		})
	}
	return refs
}

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= excerptRunes {
		return text
	}
	return string(r[:excerptRunes]) + "..."
}

func similarity(distance float64) float64 {
	return min(max(1-distance, 0), 1)
}

// splitChunkID recovers the document id and page from "{docID}_{page}_{chunkIndex}".
func splitChunkID(id string) (string, int) {
	last := strings.LastIndexByte(id, '_')
	if last <= 0 {
		return id, 0
	}
	mid := strings.LastIndexByte(id[:last], '_')
	if mid <= 0 {
		return id, 0
	}
	page, err := strconv.Atoi(id[mid+1 : last])
	if err != nil {
		return id, 0
	}
	return id[:mid], page
}

func metaString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// metaInt reads a number that may have come back from JSON, a protobuf payload or memory.
func metaInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float64:
		return int(t)
	case float32:
		return int(t)
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}
