package translate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"spl-copilot/internal/pipeline"
)

// MaxSuggestions caps the number of candidates returned per call.
const MaxSuggestions = 5

// catalog of fallback questions when the generation service cannot help.
var defaultSuggestions = []string{
	"Show me error logs from the last hour",
	"What are the top source IPs by traffic volume?",
	"Find failed login attempts in the last 24 hours",
	"Show me the most common HTTP status codes",
	"Which users have logged in today?",
	"What are the top 10 processes by CPU usage?",
	"Show me security events from the last week",
	"Find all 404 errors in web logs",
	"What hosts are generating the most events?",
	"Show me database connection errors",
}

// Suggest proposes candidate questions for the given context.
// Suggestions are best-effort: any generation failure degrades to the
// static catalog instead of propagating an error.
func (c *Client) Suggest(ctx context.Context, sctx pipeline.SuggestionContext) []string {
	raw, err := c.generate(ctx, "suggest", suggestSystemPrompt, buildSuggestPrompt(sctx, MaxSuggestions))
	if err != nil {
		log.Debug().Err(err).Msg("suggestion generation failed, using catalog")
		return CatalogSuggestions(sctx.PartialQuestion)
	}

	var candidates []string
	if err := json.Unmarshal([]byte(stripFences(raw)), &candidates); err != nil {
		log.Debug().Err(err).Msg("unparseable suggestion response, using catalog")
		return CatalogSuggestions(sctx.PartialQuestion)
	}

	out := make([]string, 0, MaxSuggestions)
	for _, s := range candidates {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == MaxSuggestions {
			break
		}
	}
	if len(out) == 0 {
		return CatalogSuggestions(sctx.PartialQuestion)
	}
	return out
}

// CatalogSuggestions filters the static catalog by word overlap with
// the partial question; an empty partial returns the catalog head.
// Exported so callers can serve suggestions without a configured model.
func CatalogSuggestions(partial string) []string {
	words := strings.Fields(strings.ToLower(partial))
	if len(words) == 0 {
		return append([]string(nil), defaultSuggestions[:MaxSuggestions]...)
	}

	var matched []string
	for _, s := range defaultSuggestions {
		lower := strings.ToLower(s)
		for _, w := range words {
			if strings.Contains(lower, w) {
				matched = append(matched, s)
				break
			}
		}
		if len(matched) == MaxSuggestions {
			break
		}
	}
	if len(matched) == 0 {
		return append([]string(nil), defaultSuggestions[:MaxSuggestions]...)
	}
	return matched
}
