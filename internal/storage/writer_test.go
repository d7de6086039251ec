package storage

import (
	"testing"
	"time"

	"spl-copilot/internal/pipeline"
)

func TestLogOutcomeMapsAllFields(t *testing.T) {
	w := NewAuditWriter(nil, 4)

	ts := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	w.LogOutcome(pipeline.Outcome{
		Timestamp:             ts,
		Question:              "failed logins today",
		SPL:                   `search index=main "failed login" | head 100`,
		Source:                pipeline.SourceGenerated,
		Confidence:            pipeline.ConfidenceHigh,
		Success:               true,
		ErrorKind:             pipeline.KindSearchTimedOut,
		ResultCount:           7,
		ProcessingTimeSeconds: 1.25,
	})

	var row *OutcomeRow
	select {
	case row = <-w.ch:
	default:
		t.Fatal("no row enqueued")
	}

	if row.Question != "failed logins today" {
		t.Errorf("Question = %q", row.Question)
	}
	if row.Source != string(pipeline.SourceGenerated) {
		t.Errorf("Source = %q, want %q", row.Source, pipeline.SourceGenerated)
	}
	if row.Confidence != string(pipeline.ConfidenceHigh) {
		t.Errorf("Confidence = %q, want high", row.Confidence)
	}
	if !row.Success || row.ErrorKind != pipeline.KindSearchTimedOut {
		t.Errorf("Success/ErrorKind = %v/%q", row.Success, row.ErrorKind)
	}
	if row.ResultCount != 7 {
		t.Errorf("ResultCount = %d, want 7", row.ResultCount)
	}
	if row.ProcessingTimeMS != 1250 {
		t.Errorf("ProcessingTimeMS = %d, want 1250", row.ProcessingTimeMS)
	}
	if !row.CreatedAt.Equal(ts) {
		t.Errorf("CreatedAt = %v, want %v", row.CreatedAt, ts)
	}
}

func TestLogDropsWhenBufferFull(t *testing.T) {
	w := NewAuditWriter(nil, 1)

	w.Log(&OutcomeRow{ID: "first"})
	w.Log(&OutcomeRow{ID: "second"}) // buffer full, dropped

	row := <-w.ch
	if row.ID != "first" {
		t.Errorf("kept row = %q, want first", row.ID)
	}
	select {
	case row := <-w.ch:
		t.Errorf("unexpected second row %q", row.ID)
	default:
	}
}
