package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"spl-copilot/internal/monitor"
)

// Translator converts a question into a candidate structured query.
type Translator interface {
	Translate(ctx context.Context, question string, sctx *SearchContext) (StructuredQuery, error)
}

// Enhancer revises an existing query per an instruction.
type Enhancer interface {
	Enhance(ctx context.Context, spl, instruction string) (StructuredQuery, string, error)
}

// Suggester proposes candidate questions; best-effort, never errors.
type Suggester interface {
	Suggest(ctx context.Context, sctx SuggestionContext) []string
}

// Validator inspects a query for safety. Pure and deterministic.
type Validator interface {
	Validate(spl string) Verdict
}

// Executor runs a validated query against the search backend.
type Executor interface {
	Execute(ctx context.Context, spl string, maxResults int, timeout time.Duration) (*ExecutionResult, error)
}

// HistoryStore records outcomes and serves them newest first.
type HistoryStore interface {
	Record(Outcome)
	Recent(n int) []Outcome
}

// ContextProvider supplies backend schema context for prompting.
type ContextProvider interface {
	Indexes(ctx context.Context) ([]string, error)
}

// AuditLogger receives a copy of every recorded outcome for durable
// persistence. Implementations must not block.
type AuditLogger interface {
	LogOutcome(Outcome)
}

// Options carries per-request defaults applied when the caller omits
// bounds.
type Options struct {
	DefaultMaxResults int
	DefaultTimeout    time.Duration
	MaxTimeout        time.Duration
}

func (o *Options) applyDefaults() {
	if o.DefaultMaxResults < 1 {
		o.DefaultMaxResults = 100
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 60 * time.Second
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = 120 * time.Second
	}
	if o.DefaultTimeout > o.MaxTimeout {
		o.DefaultTimeout = o.MaxTimeout
	}
}

var defaultCommonFields = []string{
	"host", "source", "sourcetype", "_time", "index",
	"user", "action", "status", "method", "uri_path",
	"src_ip", "dest_ip", "bytes", "duration",
}

var fallbackIndexes = []string{"main", "_internal"}

// Response is the assembled result of one pipeline request.
type Response struct {
	Question              string           `json:"question,omitempty"`
	Query                 StructuredQuery  `json:"query"`
	Result                *ExecutionResult `json:"result"`
	Warning               string           `json:"warning,omitempty"`
	ProcessingTimeSeconds float64          `json:"processing_time_seconds"`
}

// Orchestrator routes a request through translation, validation and
// execution, and records exactly one outcome per terminal state.
type Orchestrator struct {
	translator Translator
	enhancer   Enhancer
	suggester  Suggester
	validator  Validator
	executor   Executor
	history    HistoryStore
	contexts   ContextProvider
	audit      AuditLogger
	metrics    *monitor.Metrics
	tracer     *monitor.Tracer
	opts       Options
}

// NewOrchestrator wires the pipeline. audit, metrics and contexts may
// be nil.
func NewOrchestrator(
	translator Translator,
	enhancer Enhancer,
	suggester Suggester,
	validator Validator,
	executor Executor,
	history HistoryStore,
	contexts ContextProvider,
	audit AuditLogger,
	metrics *monitor.Metrics,
	opts Options,
) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		translator: translator,
		enhancer:   enhancer,
		suggester:  suggester,
		validator:  validator,
		executor:   executor,
		history:    history,
		contexts:   contexts,
		audit:      audit,
		metrics:    metrics,
		tracer:     monitor.NewTracer(),
		opts:       opts,
	}
}

// ProcessQuestion runs the full natural-language pipeline:
// translate, validate, execute.
func (o *Orchestrator) ProcessQuestion(ctx context.Context, question string, maxResults int, timeout time.Duration) (*Response, error) {
	start := time.Now()
	maxResults, timeout = o.bounds(maxResults, timeout)
	defer o.trackActive()()

	state := requestState{mode: "natural", question: question, start: start}

	if err := ValidateQuestion(question); err != nil {
		return nil, o.fail(ctx, &state, err)
	}

	tctx, span := o.tracer.StartSpan(ctx, "translate")
	sq, err := o.translator.Translate(tctx, question, o.searchContext(tctx))
	span.End()
	if err != nil {
		return nil, o.fail(ctx, &state, err)
	}
	state.query = sq

	return o.validateAndExecute(ctx, &state, maxResults, timeout)
}

// ProcessRaw validates and executes a user-supplied query, skipping
// translation.
func (o *Orchestrator) ProcessRaw(ctx context.Context, spl string, maxResults int, timeout time.Duration) (*Response, error) {
	start := time.Now()
	maxResults, timeout = o.bounds(maxResults, timeout)
	defer o.trackActive()()

	state := requestState{
		mode:  "raw",
		start: start,
		query: StructuredQuery{SPL: spl, Source: SourceUserSupplied},
	}
	return o.validateAndExecute(ctx, &state, maxResults, timeout)
}

// EnhanceQuery revises an existing query. No execution and no history
// write: the caller decides whether to run the result.
func (o *Orchestrator) EnhanceQuery(ctx context.Context, spl, instruction string) (StructuredQuery, string, error) {
	ectx, span := o.tracer.StartSpan(ctx, "enhance")
	defer span.End()

	sq, changes, err := o.enhancer.Enhance(ectx, spl, instruction)
	if err != nil {
		return StructuredQuery{}, "", normalize(err)
	}
	return sq, changes, nil
}

// Suggestions proposes candidate questions. Best-effort by contract.
func (o *Orchestrator) Suggestions(ctx context.Context, sctx SuggestionContext) []string {
	if len(sctx.Indexes) == 0 && o.contexts != nil {
		if names, err := o.contexts.Indexes(ctx); err == nil {
			sctx.Indexes = names
		}
	}
	return o.suggester.Suggest(ctx, sctx)
}

// Recent returns up to n outcomes from the history store, newest first.
func (o *Orchestrator) Recent(n int) []Outcome {
	return o.history.Recent(n)
}

// requestState tracks one request through the state machine.
type requestState struct {
	mode     string
	question string
	query    StructuredQuery
	start    time.Time
}

func (o *Orchestrator) validateAndExecute(ctx context.Context, state *requestState, maxResults int, timeout time.Duration) (*Response, error) {
	_, span := o.tracer.StartSpan(ctx, "validate")
	verdict := o.validator.Validate(state.query.SPL)
	span.End()

	if o.metrics != nil {
		o.metrics.RecordVerdict(verdict.Allowed)
	}
	if !verdict.Allowed {
		return nil, o.fail(ctx, state, fmt.Errorf("%w: %s", ErrQueryRejected, verdict.Reason))
	}

	execSPL := state.query.SPL
	if verdict.SanitizedSPL != "" {
		execSPL = verdict.SanitizedSPL
	}

	ectx, span := o.tracer.StartSpan(ctx, "execute",
		monitor.AttrMode.String(state.mode),
		monitor.AttrConfidence.String(string(state.query.Confidence)),
	)
	result, err := o.executor.Execute(ectx, execSPL, maxResults, timeout)
	if err != nil {
		span.End()
		return nil, o.fail(ctx, state, err)
	}
	span.SetAttributes(
		monitor.AttrJobID.String(result.JobID),
		monitor.AttrResultCount.Int(result.ResultCount),
	)
	span.End()

	resp := &Response{
		Question:              state.question,
		Query:                 state.query,
		Result:                result,
		ProcessingTimeSeconds: time.Since(state.start).Seconds(),
	}
	if result.TimedOut {
		resp.Warning = "search timed out before completion; no records returned"
	}

	o.complete(ctx, state, resp)
	return resp, nil
}

// complete records the terminal Completed state. The TimedOut partial
// case still counts as completed, with its kind noted in the outcome.
func (o *Orchestrator) complete(ctx context.Context, state *requestState, resp *Response) {
	if ctx.Err() != nil {
		return // cancelled: no partial outcome
	}

	outcome := Outcome{
		Timestamp:             time.Now(),
		Question:              state.question,
		SPL:                   state.query.SPL,
		Source:                state.query.Source,
		Confidence:            state.query.Confidence,
		Success:               true,
		ResultCount:           resp.Result.ResultCount,
		ProcessingTimeSeconds: resp.ProcessingTimeSeconds,
	}
	if resp.Result.TimedOut {
		outcome.ErrorKind = KindSearchTimedOut
	}
	o.record(state.mode, "success", outcome)
}

// fail records the terminal Failed state and returns the normalized
// error.
func (o *Orchestrator) fail(ctx context.Context, state *requestState, err error) error {
	err = normalize(err)
	kind := Kind(err)
	monitor.SpanFromContext(ctx).SetAttributes(monitor.AttrErrorKind.String(kind))

	if o.metrics != nil {
		o.metrics.RecordError(kind)
	}
	log.Warn().
		Str("mode", state.mode).
		Str("kind", kind).
		Err(err).
		Msg("pipeline request failed")

	if ctx.Err() != nil {
		return err // cancelled: no partial outcome
	}

	o.record(state.mode, "failure", Outcome{
		Timestamp:             time.Now(),
		Question:              state.question,
		SPL:                   state.query.SPL,
		Source:                state.query.Source,
		Confidence:            state.query.Confidence,
		Success:               false,
		ErrorKind:             kind,
		ProcessingTimeSeconds: time.Since(state.start).Seconds(),
	})
	return err
}

// record performs the unconditional history write. It must never fail
// the request: panics from the store are swallowed with a log entry.
func (o *Orchestrator) record(mode, status string, outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("history write failed")
		}
	}()

	if o.metrics != nil {
		o.metrics.RecordRequest(mode, status, outcome.ProcessingTimeSeconds)
	}
	o.history.Record(outcome)
	if o.audit != nil {
		o.audit.LogOutcome(outcome)
	}
}

func (o *Orchestrator) trackActive() func() {
	if o.metrics == nil {
		return func() {}
	}
	o.metrics.ActiveRequests.Inc()
	return o.metrics.ActiveRequests.Dec
}

// bounds substitutes defaults for omitted caller values and clamps the
// timeout to the configured maximum.
func (o *Orchestrator) bounds(maxResults int, timeout time.Duration) (int, time.Duration) {
	if maxResults < 1 {
		maxResults = o.opts.DefaultMaxResults
	}
	if timeout <= 0 {
		timeout = o.opts.DefaultTimeout
	}
	if timeout > o.opts.MaxTimeout {
		timeout = o.opts.MaxTimeout
	}
	return maxResults, timeout
}

// searchContext assembles prompting context, degrading to static
// defaults when the backend cannot be asked.
func (o *Orchestrator) searchContext(ctx context.Context) *SearchContext {
	sctx := &SearchContext{
		Indexes:      fallbackIndexes,
		CommonFields: defaultCommonFields,
	}
	if o.contexts == nil {
		return sctx
	}
	names, err := o.contexts.Indexes(ctx)
	if err != nil || len(names) == 0 {
		log.Debug().Err(err).Msg("using fallback search context")
		return sctx
	}
	sctx.Indexes = names
	return sctx
}

// normalize guarantees no unmapped error escapes the pipeline boundary.
func normalize(err error) error {
	if Kind(err) != KindInternal || errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}
