package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DocumentStatus is the lifecycle state of an uploaded document.
type DocumentStatus string

const (
	StatusUploading  DocumentStatus = "UPLOADING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusCompleted  DocumentStatus = "COMPLETED"
	StatusFailed     DocumentStatus = "FAILED"
)

// Document represents an uploaded PDF and the references to its derived indices.
type Document struct {
	ID               string         `db:"id" json:"id"`
	FileName         string         `db:"file_name" json:"file_name"` // stored name, unique
	OriginalFileName string         `db:"original_file_name" json:"original_file_name"`
	StoragePath      string         `db:"storage_path" json:"storage_path"`
	FileSize         int64          `db:"file_size" json:"file_size"`
	ContentType      string         `db:"content_type" json:"content_type"`
	Description      *string        `db:"description" json:"description,omitempty"`
	PageCount        int            `db:"page_count" json:"page_count"`
	UploadedBy       string         `db:"uploaded_by" json:"uploaded_by"`
	Status           DocumentStatus `db:"status" json:"status"`
	ErrorMessage     *string        `db:"error_message" json:"error_message,omitempty"`
	VectorRef        *string        `db:"vector_ref" json:"vector_ref,omitempty"` // vector-store batch key
	SearchRef        *string        `db:"search_ref" json:"search_ref,omitempty"` // search-index document id
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// TextChunk is a page-scoped window of text. Offsets count characters, not bytes.
type TextChunk struct {
	PageNumber int
	ChunkIndex int
	Text       string
	Start      int
	End        int
}

// PageText holds the extracted text of one 1-based page.
type PageText struct {
	Number int
	Text   string
}

// PromptStyle selects the instruction template used to frame an answer.
type PromptStyle string

const (
	StyleBasic      PromptStyle = "BASIC"
	StyleStructured PromptStyle = "STRUCTURED"
	StyleSimple     PromptStyle = "SIMPLE"
	StyleDetailed   PromptStyle = "DETAILED"
	StylePoint      PromptStyle = "POINT"
	StyleFactCheck  PromptStyle = "FACT_CHECK"
	StyleStepByStep PromptStyle = "STEP_BY_STEP"
)

// PromptStyles lists every supported style in declaration order.
var PromptStyles = []PromptStyle{
	StyleBasic, StyleStructured, StyleSimple, StyleDetailed, StylePoint, StyleFactCheck, StyleStepByStep,
}

// ParsePromptStyle resolves a style name case-insensitively. An empty name means BASIC.
func ParsePromptStyle(s string) (PromptStyle, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return StyleBasic, nil
	}
	for _, st := range PromptStyles {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown prompt style %q", s)
}

// RelevantDocument points back at the chunk that supported an answer.
type RelevantDocument struct {
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	PageNumber int     `json:"page_number"`
	Excerpt    string  `json:"excerpt"`
	Similarity float64 `json:"similarity"`
}

// QueryHistory is the immutable record of one answered question.
type QueryHistory struct {
	ID                string      `db:"id" json:"id"`
	Question          string      `db:"question" json:"question"`
	Answer            string      `db:"answer" json:"answer"`
	PromptStyle       PromptStyle `db:"prompt_style" json:"prompt_style"`
	UserName          string      `db:"user_name" json:"user_name"`
	UserDepartment    *string     `db:"user_department" json:"user_department,omitempty"`
	RelevantDocuments string      `db:"relevant_documents" json:"-"` // JSON list of RelevantDocument
	ResponseTimeMs    int64       `db:"response_time_ms" json:"response_time_ms"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
}

// Refs decodes the stored relevant documents.
func (h *QueryHistory) Refs() ([]RelevantDocument, error) {
	if h.RelevantDocuments == "" {
		return []RelevantDocument{}, nil
	}
	var refs []RelevantDocument
	if err := json.Unmarshal([]byte(h.RelevantDocuments), &refs); err != nil {
		return nil, fmt.Errorf("decode relevant documents: %w", err)
	}
	if refs == nil {
		refs = []RelevantDocument{}
	}
	return refs, nil
}

// QueryResponse mirrors a persisted QueryHistory row with its refs decoded.
type QueryResponse struct {
	ID                string             `json:"id"`
	Question          string             `json:"question"`
	Answer            string             `json:"answer"`
	PromptStyle       PromptStyle        `json:"prompt_style"`
	UserName          string             `json:"user_name"`
	UserDepartment    *string            `json:"user_department,omitempty"`
	RelevantDocuments []RelevantDocument `json:"relevant_documents"`
	ResponseTimeMs    int64              `json:"response_time_ms"`
	CreatedAt         time.Time          `json:"created_at"`
}

// NewQueryResponse builds the response view of a history row.
func NewQueryResponse(h *QueryHistory) (*QueryResponse, error) {
	refs, err := h.Refs()
	if err != nil {
		return nil, err
	}
	return &QueryResponse{
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

// PageRequest asks for one zero-based page of results.
type PageRequest struct {
	Page int
	Size int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps the request into a valid range.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// Page is one slice of a paginated listing.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
}

// UserQueryCount is one row of the most-active-users ranking.
type UserQueryCount struct {
	UserName       string  `json:"user_name"`
	UserDepartment *string `json:"user_department,omitempty"`
	Count          int64   `json:"count"`
}

// DocumentStatistics aggregates the document table.
type DocumentStatistics struct {
	Total        int64                    `json:"total"`
	Uploading    int64                    `json:"uploading"`
	Processing   int64                    `json:"processing"`
	Completed    int64                    `json:"completed"`
	Failed       int64                    `json:"failed"`
	TotalSize    int64                    `json:"total_size"`
	TotalPages   int64                    `json:"total_pages"`
	StatusCounts map[DocumentStatus]int64 `json:"status_counts"`
}

// QueryStatistics aggregates the query history table.
type QueryStatistics struct {
	Total            int64                   `json:"total"`
	Today            int64                   `json:"today"`
	ThisWeek         int64                   `json:"this_week"`
	ThisMonth        int64                   `json:"this_month"`
	StyleCounts      map[PromptStyle]int64   `json:"style_counts"`
	AverageLatencyMs map[PromptStyle]float64 `json:"average_latency_ms"`
	TopUsers         []UserQueryCount        `json:"top_users"`
}

// Statistics is the combined dashboard view.
type Statistics struct {
	Documents *DocumentStatistics `json:"documents"`
	Queries   *QueryStatistics    `json:"queries"`
}

// QueryRequest is a question submitted for answering.
type QueryRequest struct {
	Question       string  `json:"question"`
	PromptStyle    string  `json:"prompt_style"`
	UserName       string  `json:"user_name"`
	UserDepartment *string `json:"user_department,omitempty"`
}
