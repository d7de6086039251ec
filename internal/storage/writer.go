package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"spl-copilot/internal/pipeline"
)

// AuditWriter buffers outcome rows and writes them to the database in
// the background so a slow or flapping database never blocks a request.
type AuditWriter struct {
	db   *DB
	ch   chan *OutcomeRow
	wg   sync.WaitGroup
	done chan struct{}
}

func NewAuditWriter(db *DB, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		db:   db,
		ch:   make(chan *OutcomeRow, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log enqueues a row; it never blocks. A full buffer drops the entry
// with a warning.
func (w *AuditWriter) Log(row *OutcomeRow) {
	select {
	case w.ch <- row:
	default:
		log.Warn().Str("outcome_id", row.ID).Msg("audit buffer full, dropping entry")
	}
}

// LogOutcome adapts a pipeline outcome into a persisted row. Satisfies
// the orchestrator's audit hook.
func (w *AuditWriter) LogOutcome(o pipeline.Outcome) {
	w.Log(&OutcomeRow{
		Question:         o.Question,
		SPL:              o.SPL,
		Source:           string(o.Source),
		Confidence:       string(o.Confidence),
		Success:          o.Success,
		ErrorKind:        o.ErrorKind,
		ResultCount:      o.ResultCount,
		ProcessingTimeMS: int64(o.ProcessingTimeSeconds * 1000),
		CreatedAt:        o.Timestamp,
	})
}

// Flush drains the buffer, waiting at most timeout.
func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case row := <-w.ch:
			w.writeWithRetry(row)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case row := <-w.ch:
					w.writeWithRetry(row)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(row *OutcomeRow) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.InsertOutcome(ctx, row)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Str("outcome_id", row.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("outcome_id", row.ID).
				Msg("audit write failed permanently after retries")
		}
	}
}
