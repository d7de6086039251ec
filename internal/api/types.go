package api

import (
	"spl-copilot/internal/pipeline"
	"spl-copilot/internal/storage"
)

// AskRequest is a natural-language question to translate and run.
type AskRequest struct {
	Question   string `json:"question"`
	MaxResults int    `json:"max_results,omitempty"`
	TimeoutSec int    `json:"timeout_seconds,omitempty"`
}

// SearchRequest runs a caller-supplied SPL query as-is, subject to
// validation.
type SearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	TimeoutSec int    `json:"timeout_seconds,omitempty"`
}

// EnhanceRequest asks for an improved version of an existing query.
type EnhanceRequest struct {
	Query       string `json:"query"`
	Instruction string `json:"instruction"`
}

type EnhanceResponse struct {
	Query   pipeline.StructuredQuery `json:"query"`
	Changes string                   `json:"changes,omitempty"`
}

type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

type HistoryResponse struct {
	Entries []pipeline.Outcome `json:"entries"`
	Count   int                `json:"count"`
}

// AuditHistoryResponse is the filtered, database-backed history shape.
type AuditHistoryResponse struct {
	Entries []*storage.OutcomeRow `json:"entries"`
	Count   int                   `json:"count"`
}

type IndexesResponse struct {
	Indexes []string `json:"indexes"`
}

// ErrorResponse is the wire shape for all error replies.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse reports overall service health plus per-dependency
// detail. Status is "ok" or "degraded".
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}
