package splunk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"spl-copilot/internal/monitor"
	"spl-copilot/internal/pipeline"
)

// AbsoluteResultCeiling is the system-wide cap on requested results.
// Requests above it are clamped, not rejected.
const AbsoluteResultCeiling = 10000

var connectRetryDelay = 2 * time.Second

// Executor submits validated queries to the search backend, polls until
// completion or timeout, and normalizes records plus job statistics.
type Executor struct {
	client  *Client
	metrics *monitor.Metrics
}

// NewExecutor wraps a backend client. metrics may be nil.
func NewExecutor(client *Client, metrics *monitor.Metrics) *Executor {
	return &Executor{client: client, metrics: metrics}
}

// Execute runs spl and returns at most maxResults records.
//
// maxResults must be positive (clamped to the absolute ceiling);
// timeout must be positive. On timeout the job is cancelled best-effort
// and a partial result with TimedOut set is returned instead of an
// error, so the caller can treat it as a completed-with-warning case.
// Connection-level submit failures are retried once after a short
// delay; auth failures and backend rejections are fatal immediately.
func (e *Executor) Execute(ctx context.Context, spl string, maxResults int, timeout time.Duration) (*pipeline.ExecutionResult, error) {
	if maxResults < 1 {
		return nil, fmt.Errorf("%w: max_results must be positive", pipeline.ErrInvalidInput)
	}
	if maxResults > AbsoluteResultCeiling {
		maxResults = AbsoluteResultCeiling
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", pipeline.ErrInvalidInput)
	}

	sid, err := e.submitWithRetry(ctx, spl, maxResults)
	if err != nil {
		return nil, &pipeline.StageError{Stage: "execute", Err: err}
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(e.client.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := e.client.pollJob(ctx, sid)
		if err != nil {
			return nil, &pipeline.StageError{Stage: "execute", Err: err}
		}
		if status.Failed {
			detail := status.Message
			if detail == "" {
				detail = "search job failed"
			}
			return nil, &pipeline.StageError{
				Stage: "execute",
				Err:   fmt.Errorf("%w: %s", pipeline.ErrRejectedByBackend, detail),
			}
		}
		if status.Done {
			return e.collect(ctx, sid, maxResults, status)
		}

		if time.Now().After(deadline) {
			e.client.cancelJob(sid)
			log.Warn().
				Str("sid", sid).
				Dur("timeout", timeout).
				Msg("search timed out, returning partial result")
			return &pipeline.ExecutionResult{
				Records:         []pipeline.Record{},
				ResultCount:     0,
				ScanCount:       status.ScanCount,
				DurationSeconds: timeout.Seconds(),
				JobID:           sid,
				TimedOut:        true,
			}, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			e.client.cancelJob(sid)
			return nil, ctx.Err()
		}
	}
}

func (e *Executor) submitWithRetry(ctx context.Context, spl string, maxResults int) (string, error) {
	sid, err := e.client.submitJob(ctx, spl, maxResults)
	if err == nil {
		return sid, nil
	}
	if !errors.Is(err, pipeline.ErrBackendUnreachable) {
		return "", err
	}

	log.Warn().Err(err).Msg("backend unreachable, retrying once")
	select {
	case <-time.After(connectRetryDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return e.client.submitJob(ctx, spl, maxResults)
}

func (e *Executor) collect(ctx context.Context, sid string, maxResults int, status jobStatus) (*pipeline.ExecutionResult, error) {
	records, err := e.client.fetchResults(ctx, sid, maxResults)
	if err != nil {
		return nil, &pipeline.StageError{Stage: "execute", Err: err}
	}
	if len(records) > maxResults {
		records = records[:maxResults]
	}
	if records == nil {
		records = []pipeline.Record{}
	}

	result := &pipeline.ExecutionResult{
		Records:         records,
		ResultCount:     len(records),
		ScanCount:       status.ScanCount,
		DurationSeconds: status.RunDuration,
		JobID:           sid,
	}

	if e.metrics != nil {
		e.metrics.RecordSearch(result.DurationSeconds, result.ResultCount)
	}

	log.Info().
		Str("sid", sid).
		Int("results", result.ResultCount).
		Int("scanned", result.ScanCount).
		Float64("duration_s", result.DurationSeconds).
		Msg("search completed")

	return result, nil
}
