package translate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"

	"spl-copilot/internal/pipeline"
)

// fakeModel plays back canned responses and errors in call order.
type fakeModel struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	idx := i
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.responses[idx]}},
	}, nil
}

func (f *fakeModel) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func testClient(model llms.Model) *Client {
	return New(model, nil, Options{
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		CallTimeout: time.Second,
		Lookback:    "-24h",
	})
}

func TestTranslate_HighConfidenceUnchanged(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"query": "search index=main error earliest=-1h | head 100", "explanation": "errors from the last hour", "confidence": "high"}`,
	}}
	c := testClient(model)

	sq, err := c.Translate(context.Background(), "Show me error logs from the last hour", nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if sq.Confidence != pipeline.ConfidenceHigh {
		t.Errorf("Confidence = %s, want high", sq.Confidence)
	}
	if sq.Source != pipeline.SourceGenerated {
		t.Errorf("Source = %s, want generated", sq.Source)
	}
	if !strings.Contains(sq.SPL, "earliest=-1h") {
		t.Errorf("SPL lost its time bound: %q", sq.SPL)
	}
	if !strings.Contains(sq.SPL, "error") {
		t.Errorf("SPL lost the error filter: %q", sq.SPL)
	}
	if sq.Explanation == "" {
		t.Error("explanation missing")
	}
}

func TestTranslate_MissingTimeBoundGetsLookback(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"query": "search index=web status=404 | stats count by uri_path", "explanation": "404s by path", "confidence": "high"}`,
	}}
	c := testClient(model)

	sq, err := c.Translate(context.Background(), "which pages 404 the most?", nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !strings.Contains(sq.SPL, "earliest=-24h") {
		t.Errorf("default lookback not injected: %q", sq.SPL)
	}
	if !strings.HasPrefix(sq.SPL, "search index=web status=404 earliest=-24h |") {
		t.Errorf("lookback should land in the generating clause: %q", sq.SPL)
	}
	if sq.Confidence != pipeline.ConfidenceMedium {
		t.Errorf("Confidence = %s, want medium after lookback substitution", sq.Confidence)
	}
}

func TestTranslate_InvalidLabelDerivesConfidence(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"query": "search index=main earliest=-1h error", "confidence": "certainly"}`,
	}}
	c := testClient(model)

	sq, err := c.Translate(context.Background(), "errors?", nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	// index + time bound present: heuristic says high.
	if sq.Confidence != pipeline.ConfidenceHigh {
		t.Errorf("Confidence = %s, want high", sq.Confidence)
	}
}

func TestTranslate_FallbackParse(t *testing.T) {
	model := &fakeModel{responses: []string{
		"Here is the query you asked for:\nsearch failed login\nHope that helps!",
	}}
	c := testClient(model)

	sq, err := c.Translate(context.Background(), "failed logins", nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !strings.HasPrefix(sq.SPL, "search failed login") {
		t.Errorf("SPL = %q", sq.SPL)
	}
	// No index, lookback substituted: heuristic lands on medium at best.
	if sq.Confidence == pipeline.ConfidenceHigh {
		t.Errorf("fallback parse must not claim high confidence")
	}
}

func TestTranslate_EmptyQuestion(t *testing.T) {
	c := testClient(&fakeModel{})
	_, err := c.Translate(context.Background(), "   ", nil)
	if !errors.Is(err, pipeline.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestTranslate_EmptyQueryNeverReturned(t *testing.T) {
	model := &fakeModel{responses: []string{`{"query": "", "confidence": "high"}`}}
	c := testClient(model)

	_, err := c.Translate(context.Background(), "anything", nil)
	if !errors.Is(err, pipeline.ErrTranslationFailed) {
		t.Errorf("err = %v, want ErrTranslationFailed", err)
	}
}

func TestTranslate_TransientErrorsRetried(t *testing.T) {
	model := &fakeModel{
		errs: []error{
			errors.New("connection reset"),
			errors.New("i/o timeout"),
			nil,
		},
		responses: []string{
			`{"query": "search index=main earliest=-1h", "confidence": "high"}`,
		},
	}
	c := testClient(model)

	if _, err := c.Translate(context.Background(), "anything", nil); err != nil {
		t.Fatalf("Translate after retries: %v", err)
	}
	if model.calls != 3 {
		t.Errorf("calls = %d, want 3", model.calls)
	}
}

func TestTranslate_RetriesExhausted(t *testing.T) {
	model := &fakeModel{errs: []error{
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
		errors.New("i/o timeout"),
	}}
	c := testClient(model)

	_, err := c.Translate(context.Background(), "anything", nil)
	if !errors.Is(err, pipeline.ErrTranslationFailed) {
		t.Errorf("err = %v, want ErrTranslationFailed", err)
	}
	if model.calls != 3 {
		t.Errorf("calls = %d, want 3", model.calls)
	}
}

func TestTranslate_RejectionNotRetried(t *testing.T) {
	model := &fakeModel{errs: []error{
		errors.New("request blocked by content_policy"),
	}}
	c := testClient(model)

	_, err := c.Translate(context.Background(), "anything", nil)
	if !errors.Is(err, pipeline.ErrGenerationRejected) {
		t.Errorf("err = %v, want ErrGenerationRejected", err)
	}
	if model.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on rejection)", model.calls)
	}
}

func TestTranslate_FenceStripping(t *testing.T) {
	model := &fakeModel{responses: []string{
		"```json\n{\"query\": \"search index=main earliest=-1h\", \"confidence\": \"high\"}\n```",
	}}
	c := testClient(model)

	sq, err := c.Translate(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if sq.SPL != "search index=main earliest=-1h" {
		t.Errorf("SPL = %q", sq.SPL)
	}
}

func TestTranslate_ContextInPrompt(t *testing.T) {
	prompt := buildTranslatePrompt(&pipeline.SearchContext{
		Indexes:      []string{"main", "security"},
		CommonFields: []string{"host", "src_ip"},
	})
	for _, want := range []string{"main, security", "host, src_ip"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestEnhance(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"query": "search index=web status=404 earliest=-7d | stats count by uri_path", "changes": "extended the window to 7 days", "confidence": "high"}`,
	}}
	c := testClient(model)

	sq, changes, err := c.Enhance(context.Background(), "search index=web status=404 | stats count by uri_path", "look at the last week")
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if sq.Source != pipeline.SourceEnhanced {
		t.Errorf("Source = %s, want enhanced", sq.Source)
	}
	if !strings.Contains(sq.SPL, "earliest=-7d") {
		t.Errorf("SPL = %q", sq.SPL)
	}
	if changes == "" {
		t.Error("change summary missing")
	}
}

func TestEnhance_EmptyInputs(t *testing.T) {
	c := testClient(&fakeModel{})
	if _, _, err := c.Enhance(context.Background(), "", "do something"); !errors.Is(err, pipeline.ErrInvalidInput) {
		t.Errorf("empty query: err = %v, want ErrInvalidInput", err)
	}
	if _, _, err := c.Enhance(context.Background(), "search index=main", " "); !errors.Is(err, pipeline.ErrInvalidInput) {
		t.Errorf("empty instruction: err = %v, want ErrInvalidInput", err)
	}
}

func TestEnhance_MalformedResponse(t *testing.T) {
	model := &fakeModel{responses: []string{"not json at all"}}
	c := testClient(model)

	_, _, err := c.Enhance(context.Background(), "search index=main", "speed it up")
	if !errors.Is(err, pipeline.ErrTranslationFailed) {
		t.Errorf("err = %v, want ErrTranslationFailed", err)
	}
}

func TestSuggest_FromModel(t *testing.T) {
	model := &fakeModel{responses: []string{
		`["Show me error logs", "Top hosts by event count", "Failed logins today", "Slowest endpoints", "Recent deploys", "An extra one"]`,
	}}
	c := testClient(model)

	got := c.Suggest(context.Background(), pipeline.SuggestionContext{Indexes: []string{"main"}})
	if len(got) != MaxSuggestions {
		t.Fatalf("len = %d, want %d", len(got), MaxSuggestions)
	}
	if got[0] != "Show me error logs" {
		t.Errorf("got[0] = %q", got[0])
	}
}

func TestSuggest_DegradesToCatalog(t *testing.T) {
	model := &fakeModel{errs: []error{
		errors.New("i/o timeout"), errors.New("i/o timeout"), errors.New("i/o timeout"),
	}}
	c := testClient(model)

	got := c.Suggest(context.Background(), pipeline.SuggestionContext{})
	if len(got) == 0 {
		t.Fatal("suggestions must degrade to the catalog, not fail")
	}
}

func TestSuggest_CatalogFiltering(t *testing.T) {
	got := CatalogSuggestions("error logs")
	if len(got) == 0 {
		t.Fatal("no matches")
	}
	for _, s := range got {
		lower := strings.ToLower(s)
		if !strings.Contains(lower, "error") && !strings.Contains(lower, "logs") {
			t.Errorf("%q does not match any filter word", s)
		}
	}
}

func TestInjectLookback(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"search index=main error", "search index=main error earliest=-24h"},
		{"search index=main | stats count", "search index=main earliest=-24h | stats count"},
		{"search a | stats count | sort -count", "search a earliest=-24h | stats count | sort -count"},
	}
	for _, tt := range tests {
		if got := injectLookback(tt.in, "-24h"); got != tt.want {
			t.Errorf("injectLookback(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
