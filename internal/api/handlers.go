package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"spl-copilot/internal/pipeline"
	"spl-copilot/internal/storage"
)

// Pipeline is the subset of the orchestrator the HTTP layer needs.
type Pipeline interface {
	ProcessQuestion(ctx context.Context, question string, maxResults int, timeout time.Duration) (*pipeline.Response, error)
	ProcessRaw(ctx context.Context, spl string, maxResults int, timeout time.Duration) (*pipeline.Response, error)
	EnhanceQuery(ctx context.Context, spl, instruction string) (pipeline.StructuredQuery, string, error)
	Suggestions(ctx context.Context, sctx pipeline.SuggestionContext) []string
	Recent(n int) []pipeline.Outcome
}

// Backend is the health and metadata surface of the search backend.
type Backend interface {
	Healthy(ctx context.Context) error
	Indexes(ctx context.Context) ([]string, error)
}

// AuditStore is the durable outcome trail, present only when a
// database is configured.
type AuditStore interface {
	Healthy(ctx context.Context) bool
	ListOutcomes(ctx context.Context, filter storage.OutcomeFilter) ([]*storage.OutcomeRow, error)
}

const maxHistoryLimit = 100

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := s.pipe.ProcessQuestion(r.Context(), req.Question, req.MaxResults, secondsToDuration(req.TimeoutSec))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := s.pipe.ProcessRaw(r.Context(), req.Query, req.MaxResults, secondsToDuration(req.TimeoutSec))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req EnhanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	query, changes, err := s.pipe.EnhanceQuery(r.Context(), req.Query, req.Instruction)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EnhanceResponse{Query: query, Changes: changes})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	sctx := pipeline.SuggestionContext{
		PartialQuestion: r.URL.Query().Get("partial"),
	}
	for _, o := range s.pipe.Recent(5) {
		if o.Question != "" {
			sctx.RecentQuestions = append(sctx.RecentQuestions, o.Question)
		}
	}
	got := s.pipe.Suggestions(r.Context(), sctx)
	writeJSON(w, http.StatusOK, SuggestionsResponse{Suggestions: got})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > maxHistoryLimit {
		writeError(w, r, http.StatusBadRequest, "limit must be 1-100", "INVALID_INPUT")
		return
	}

	filter, filtered, err := historyFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "INVALID_INPUT")
		return
	}
	if filtered {
		s.handleDurableHistory(w, r, filter, limit)
		return
	}

	entries := s.pipe.Recent(limit)
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Count: len(entries)})
}

// handleDurableHistory serves filtered history from the audit database.
// Filters need the durable trail: the in-memory store only supports
// recency.
func (s *Server) handleDurableHistory(w http.ResponseWriter, r *http.Request, filter storage.OutcomeFilter, limit int) {
	if s.audit == nil {
		writeError(w, r, http.StatusBadRequest, "history filters require a configured audit database", "INVALID_INPUT")
		return
	}
	filter.Limit = limit
	rows, err := s.audit.ListOutcomes(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("audit history query failed")
		writeError(w, r, http.StatusInternalServerError, "internal error", "INTERNAL")
		return
	}
	if rows == nil {
		rows = []*storage.OutcomeRow{}
	}
	writeJSON(w, http.StatusOK, AuditHistoryResponse{Entries: rows, Count: len(rows)})
}

// historyFilter parses the optional filter params. The bool reports
// whether any filter was supplied.
func historyFilter(r *http.Request) (storage.OutcomeFilter, bool, error) {
	var filter storage.OutcomeFilter
	filtered := false

	if raw := r.URL.Query().Get("success"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, false, fmt.Errorf("success must be true or false")
		}
		filter.Success = &v
		filtered = true
	}
	if kind := r.URL.Query().Get("error_kind"); kind != "" {
		filter.ErrorKind = kind
		filtered = true
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, false, fmt.Errorf("since must be an RFC3339 timestamp")
		}
		filter.Since = &ts
		filtered = true
	}
	return filter, filtered, nil
}

func (s *Server) handleIndexes(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		writeError(w, r, http.StatusServiceUnavailable, "search backend not configured", "BACKEND_UNREACHABLE")
		return
	}
	names, err := s.backend.Indexes(r.Context())
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IndexesResponse{Indexes: names})
}

// handleHealth reports ok when all dependencies respond, degraded
// otherwise. Degraded still returns 200: the process itself is up and
// some endpoints remain usable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Checks:  map[string]string{},
	}

	if s.backend != nil {
		if err := s.backend.Healthy(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks["splunk"] = pipeline.UserMessage(err)
		} else {
			resp.Checks["splunk"] = "ok"
		}
	} else {
		resp.Status = "degraded"
		resp.Checks["splunk"] = "not configured"
	}

	if s.translatorReady {
		resp.Checks["llm"] = "ok"
	} else {
		resp.Status = "degraded"
		resp.Checks["llm"] = "not configured"
	}

	if s.audit != nil {
		if s.audit.Healthy(ctx) {
			resp.Checks["database"] = "ok"
		} else {
			resp.Status = "degraded"
			resp.Checks["database"] = "unreachable"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// writePipelineError maps a pipeline error kind to an HTTP status and
// emits the caller-safe message.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := pipeline.Kind(err)

	status := http.StatusInternalServerError
	switch kind {
	case pipeline.KindInvalidInput:
		status = http.StatusBadRequest
	case pipeline.KindQueryRejected:
		status = http.StatusUnprocessableEntity
	case pipeline.KindTranslationFailed,
		pipeline.KindBackendAuthFailed,
		pipeline.KindRejectedByBackend:
		status = http.StatusBadGateway
	case pipeline.KindBackendUnreachable:
		status = http.StatusServiceUnavailable
	case pipeline.KindSearchTimedOut:
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Msg("unclassified pipeline error")
	}

	writeError(w, r, status, pipeline.UserMessage(err), kind)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg, code string) {
	writeJSON(w, status, ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

// decodeJSON parses the request body into v, replying with a 400 on
// any decode failure. Returns false when the caller should stop.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large", "INVALID_INPUT")
			return false
		}
		writeError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "INVALID_INPUT")
		return false
	}
	return true
}

func secondsToDuration(sec int) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
