package pipeline

import "time"

// Confidence labels how certain the translation stage is about a
// generated query.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is one of the three recognized labels.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Source tags where a structured query came from.
type Source string

const (
	SourceGenerated    Source = "generated"
	SourceUserSupplied Source = "user-supplied"
	SourceEnhanced     Source = "enhanced"
)

// StructuredQuery is an SPL string plus provenance metadata. Confidence
// and Explanation are only set for generated or enhanced queries.
type StructuredQuery struct {
	SPL         string     `json:"spl"`
	Source      Source     `json:"source"`
	Confidence  Confidence `json:"confidence,omitempty"`
	Explanation string     `json:"explanation,omitempty"`
}

// Verdict is the safety validator's decision. SanitizedSPL is set when
// the validator rewrote the query (e.g. injected a result limit) and is
// the text that must be executed in place of the original.
type Verdict struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	SanitizedSPL string `json:"sanitized_spl,omitempty"`
}

// Record is a single normalized event returned by the search backend.
type Record map[string]any

// ExecutionResult holds records plus backend job statistics.
// ResultCount always equals len(Records); there is no partial delivery.
type ExecutionResult struct {
	Records         []Record `json:"records"`
	ResultCount     int      `json:"result_count"`
	ScanCount       int      `json:"scan_count"`
	DurationSeconds float64  `json:"duration_seconds"`
	JobID           string   `json:"job_id"`
	TimedOut        bool     `json:"timed_out,omitempty"`
}

// Outcome is the unit persisted to the history store, immutable once
// written.
type Outcome struct {
	Timestamp             time.Time  `json:"timestamp"`
	Question              string     `json:"question,omitempty"`
	SPL                   string     `json:"spl"`
	Source                Source     `json:"source,omitempty"`
	Confidence            Confidence `json:"confidence,omitempty"`
	Success               bool       `json:"success"`
	ErrorKind             string     `json:"error_kind,omitempty"`
	ResultCount           int        `json:"result_count"`
	ProcessingTimeSeconds float64    `json:"processing_time_seconds"`
}

// SearchContext is schema context handed to the translator so generated
// queries reference real indexes and fields.
type SearchContext struct {
	Indexes      []string `json:"indexes"`
	CommonFields []string `json:"common_fields"`
}

// SuggestionContext is partial user context for the suggestion engine.
type SuggestionContext struct {
	Indexes         []string `json:"indexes,omitempty"`
	PartialQuestion string   `json:"partial_question,omitempty"`
	RecentQuestions []string `json:"recent_questions,omitempty"`
}
