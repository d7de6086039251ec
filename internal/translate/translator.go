package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"spl-copilot/internal/pipeline"
)

// generated mirrors the JSON contract in the translate prompt.
type generated struct {
	Query       string `json:"query"`
	Explanation string `json:"explanation"`
	Confidence  string `json:"confidence"`
}

var (
	timeBound  = regexp.MustCompile(`(?i)\b(earliest|latest)\s*=`)
	indexTerm  = regexp.MustCompile(`(?i)\bindex\s*=`)
	searchLine = regexp.MustCompile(`(?i)^\s*search\s`)
)

// Translate converts a natural language question into a structured SPL
// query. The question must be non-empty; the model's confidence label
// is kept when well-formed and derived heuristically otherwise. A query
// without an explicit time bound gets the default lookback substituted
// and its confidence capped at medium.
func (c *Client) Translate(ctx context.Context, question string, sctx *pipeline.SearchContext) (pipeline.StructuredQuery, error) {
	if strings.TrimSpace(question) == "" {
		return pipeline.StructuredQuery{}, fmt.Errorf("%w: question is empty", pipeline.ErrInvalidInput)
	}

	start := time.Now()
	raw, err := c.generate(ctx, "translate",
		buildTranslatePrompt(sctx),
		"Convert this question to SPL: "+question,
	)
	if err != nil {
		return pipeline.StructuredQuery{}, &pipeline.StageError{Stage: "translate", Err: err}
	}

	parsed, fallback := parseGenerated(raw)
	if strings.TrimSpace(parsed.Query) == "" {
		log.Warn().Str("response", truncate(raw, 200)).Msg("generation produced no query")
		return pipeline.StructuredQuery{}, &pipeline.StageError{Stage: "translate", Err: pipeline.ErrTranslationFailed}
	}

	query := strings.TrimSpace(parsed.Query)
	confidence := pipeline.Confidence(strings.ToLower(parsed.Confidence))
	if fallback || !confidence.Valid() {
		confidence = deriveConfidence(query)
	}

	if !timeBound.MatchString(query) {
		query = injectLookback(query, c.opts.Lookback)
		if confidence == pipeline.ConfidenceHigh {
			confidence = pipeline.ConfidenceMedium
		}
	}

	if c.metrics != nil {
		c.metrics.RecordTranslation(string(confidence), time.Since(start).Seconds())
	}

	log.Info().
		Str("confidence", string(confidence)).
		Str("spl", truncate(query, 200)).
		Msg("question translated")

	return pipeline.StructuredQuery{
		SPL:         query,
		Source:      pipeline.SourceGenerated,
		Confidence:  confidence,
		Explanation: parsed.Explanation,
	}, nil
}

// parseGenerated extracts the query contract from raw model output.
// The bool return reports whether a lossy fallback parse was used.
func parseGenerated(raw string) (generated, bool) {
	text := stripFences(raw)

	var out generated
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &out); err == nil {
			return out, false
		}
	}

	// Not valid JSON: scan for a line that looks like a query.
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if searchLine.MatchString(line) || strings.HasPrefix(strings.ToLower(line), "index=") {
			return generated{Query: line}, true
		}
	}
	return generated{}, true
}

// deriveConfidence applies the three-level heuristic when the model
// returned no usable label.
func deriveConfidence(query string) pipeline.Confidence {
	hasIndex := indexTerm.MatchString(query)
	hasTime := timeBound.MatchString(query)
	switch {
	case hasIndex && hasTime:
		return pipeline.ConfidenceHigh
	case hasIndex || hasTime:
		return pipeline.ConfidenceMedium
	default:
		return pipeline.ConfidenceLow
	}
}

// injectLookback appends the default time window to the generating
// clause, before the first pipe.
func injectLookback(spl, lookback string) string {
	head, rest, piped := strings.Cut(spl, "|")
	head = strings.TrimSpace(head) + " earliest=" + lookback
	if !piped {
		return head
	}
	return head + " | " + strings.TrimSpace(rest)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
