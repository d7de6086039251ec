package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"spl-copilot/internal/pipeline"
)

// enhanced mirrors the JSON contract in the enhance prompt.
type enhanced struct {
	Query      string `json:"query"`
	Changes    string `json:"changes"`
	Confidence string `json:"confidence"`
}

// Enhance revises an existing SPL query according to an instruction,
// reusing the generation service with a prompt anchored on the query
// text. The revised query carries the enhanced source tag; the second
// return value summarizes what changed.
func (c *Client) Enhance(ctx context.Context, spl, instruction string) (pipeline.StructuredQuery, string, error) {
	if strings.TrimSpace(spl) == "" {
		return pipeline.StructuredQuery{}, "", fmt.Errorf("%w: query is empty", pipeline.ErrInvalidInput)
	}
	if strings.TrimSpace(instruction) == "" {
		return pipeline.StructuredQuery{}, "", fmt.Errorf("%w: instruction is empty", pipeline.ErrInvalidInput)
	}

	user := fmt.Sprintf("Original query: %s\nInstruction: %s\nProvide the revised query.", spl, instruction)
	raw, err := c.generate(ctx, "enhance", enhanceSystemPrompt, user)
	if err != nil {
		return pipeline.StructuredQuery{}, "", &pipeline.StageError{Stage: "enhance", Err: err}
	}

	var out enhanced
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil || strings.TrimSpace(out.Query) == "" {
		return pipeline.StructuredQuery{}, "", &pipeline.StageError{Stage: "enhance", Err: pipeline.ErrTranslationFailed}
	}

	confidence := pipeline.Confidence(strings.ToLower(out.Confidence))
	if !confidence.Valid() {
		confidence = pipeline.ConfidenceMedium
	}

	return pipeline.StructuredQuery{
		SPL:         strings.TrimSpace(out.Query),
		Source:      pipeline.SourceEnhanced,
		Confidence:  confidence,
		Explanation: out.Changes,
	}, out.Changes, nil
}
