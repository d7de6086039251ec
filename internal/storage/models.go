package storage

import "time"

// OutcomeRow is a persisted query outcome in the audit table.
type OutcomeRow struct {
	ID               string    `json:"id" db:"id"`
	Question         string    `json:"question,omitempty" db:"question"`
	SPL              string    `json:"spl" db:"spl"`
	Source           string    `json:"source" db:"source"`
	Confidence       string    `json:"confidence,omitempty" db:"confidence"`
	Success          bool      `json:"success" db:"success"`
	ErrorKind        string    `json:"error_kind,omitempty" db:"error_kind"`
	ResultCount      int       `json:"result_count" db:"result_count"`
	ProcessingTimeMS int64     `json:"processing_time_ms" db:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// OutcomeFilter provides criteria for querying persisted outcomes.
type OutcomeFilter struct {
	Success   *bool
	ErrorKind string
	Since     *time.Time
	Limit     int
}
