package translate

import (
	"fmt"
	"strings"

	"spl-copilot/internal/pipeline"
)

const translateSystemPrompt = `You are an expert Splunk SPL (Search Processing Language) query generator. Your task is to convert natural language questions into accurate SPL queries.

SPL Syntax Guidelines:
- Always start with 'search' command
- Use pipe (|) to chain commands
- Common commands: search, stats, eval, where, sort, head, tail, table, fields
- Time ranges: earliest=-1h, latest=now, etc.
- Field operations: field=value, field!="value", field>10
- Statistics: count, sum, avg, max, min, dc (distinct count)
- Grouping: by field_name

Respond with JSON only:
{
    "query": "the SPL query",
    "explanation": "brief explanation of what the query does",
    "confidence": "high|medium|low"
}

Confidence policy: "high" when the question names explicit indexes or time ranges, "medium" when some ambiguity remains, "low" when multiple interpretations are plausible.
`

const enhanceSystemPrompt = `You are an expert at improving Splunk SPL queries. Given an existing SPL query and an instruction, produce a revised query.

Focus on:
- Performance optimization
- Better field selection
- More specific filtering
- Proper time ranges
- Statistical accuracy

Respond with JSON only:
{
    "query": "revised SPL query",
    "changes": "description of changes made",
    "confidence": "high|medium|low"
}`

const suggestSystemPrompt = `You propose natural language questions that a Splunk user could ask about their data. Given available indexes and recent questions, respond with a JSON array of short question strings. No commentary, JSON only.`

func buildTranslatePrompt(sctx *pipeline.SearchContext) string {
	prompt := translateSystemPrompt
	if sctx != nil {
		if len(sctx.Indexes) > 0 {
			prompt += fmt.Sprintf("\nAvailable indexes: %s\n", strings.Join(sctx.Indexes, ", "))
		}
		if len(sctx.CommonFields) > 0 {
			prompt += fmt.Sprintf("\nCommon fields: %s\n", strings.Join(sctx.CommonFields, ", "))
		}
	}
	return prompt
}

func buildSuggestPrompt(sctx pipeline.SuggestionContext, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Propose up to %d questions.\n", count)
	if len(sctx.Indexes) > 0 {
		fmt.Fprintf(&b, "Available indexes: %s\n", strings.Join(sctx.Indexes, ", "))
	}
	if sctx.PartialQuestion != "" {
		fmt.Fprintf(&b, "The user has typed so far: %q\n", sctx.PartialQuestion)
	}
	if len(sctx.RecentQuestions) > 0 {
		fmt.Fprintf(&b, "Recent questions:\n")
		for _, q := range sctx.RecentQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	return b.String()
}
