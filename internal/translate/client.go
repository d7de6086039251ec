package translate

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"spl-copilot/internal/monitor"
	"spl-copilot/internal/pipeline"
)

// Options bounds the generation-service call policy. Call timeout is
// fixed per invocation and independent of caller-supplied search
// timeouts.
type Options struct {
	MaxRetries  int
	BackoffBase time.Duration
	CallTimeout time.Duration
	Lookback    string // default time window, e.g. "-24h"
}

func (o *Options) applyDefaults() {
	if o.MaxRetries < 1 {
		o.MaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.Lookback == "" {
		o.Lookback = "-24h"
	}
}

// Client turns natural language into SPL via an OpenAI-compatible chat
// model. It owns the retry/backoff policy for transient generation
// failures; policy rejections surface immediately.
type Client struct {
	model   llms.Model
	metrics *monitor.Metrics
	opts    Options
}

// New builds a Client around an already-constructed model. metrics may
// be nil.
func New(model llms.Model, metrics *monitor.Metrics, opts Options) *Client {
	opts.applyDefaults()
	return &Client{model: model, metrics: metrics, opts: opts}
}

// NewOpenAI builds a Client backed by the OpenAI provider.
func NewOpenAI(apiKey, modelName, baseURL string, metrics *monitor.Metrics, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("generation service API key is required")
	}
	provider := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(modelName),
	}
	if baseURL != "" {
		provider = append(provider, openai.WithBaseURL(baseURL))
	}
	model, err := openai.New(provider...)
	if err != nil {
		return nil, err
	}
	return New(model, metrics, opts), nil
}

// policy rejection markers; langchaingo surfaces provider errors as
// opaque strings, so classification is lexical.
var rejectionMarkers = []string{
	"content_policy",
	"content policy",
	"policy violation",
	"refused",
	"invalid_request_error",
}

func isRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// generate performs one prompted chat completion with the retry policy
// applied. The returned string is the raw model output.
func (c *Client) generate(ctx context.Context, operation, systemPrompt, userMessage string) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(userMessage)},
		},
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		start := time.Now()
		response, err := c.model.GenerateContent(callCtx, content,
			llms.WithTemperature(0.1),
			llms.WithMaxTokens(500),
			llms.WithJSONMode(),
		)
		cancel()

		if c.metrics != nil {
			c.metrics.RecordGeneration(operation, time.Since(start).Seconds())
		}

		if err == nil {
			if len(response.Choices) == 0 {
				return "", pipeline.ErrTranslationFailed
			}
			return response.Choices[0].Content, nil
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if isRejection(err) {
			log.Warn().Err(err).Str("operation", operation).Msg("generation service declined the request")
			return "", pipeline.ErrGenerationRejected
		}

		lastErr = err
		if attempt < c.opts.MaxRetries-1 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * c.opts.BackoffBase
			log.Warn().
				Err(err).
				Str("operation", operation).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("generation call failed, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	log.Error().Err(lastErr).Str("operation", operation).Msg("generation failed after retries")
	return "", pipeline.ErrTranslationFailed
}

// stripFences removes markdown code fences some models wrap around JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
