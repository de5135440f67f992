package domain

import "time"

// FailureRecord is a journal entry for a scrape that failed after retries.
type FailureRecord struct {
	ID            string    `json:"id"            db:"id"`
	Kind          ErrorKind `json:"kind"          db:"kind"`
	Message       string    `json:"message"       db:"message"`
	Domain        string    `json:"domain"        db:"domain"`
	URL           string    `json:"url"           db:"url"`
	CorrelationID string    `json:"correlation_id" db:"correlation_id"`
	Attempts      int       `json:"attempts"      db:"attempts"`
	CauseName     string    `json:"cause_name"    db:"cause_name"`
	CauseMessage  string    `json:"cause_message" db:"cause_message"`
	OccurredAt    time.Time `json:"occurred_at"   db:"occurred_at"`
}

// NewFailureRecord flattens a StructuredError into a journal entry.
func NewFailureRecord(id string, e *StructuredError, attempts int) *FailureRecord {
	meta := e.Metadata()
	rec := &FailureRecord{
		ID:            id,
		Kind:          e.Kind(),
		Message:       e.Message(),
		Domain:        meta.Domain,
		URL:           meta.URL,
		CorrelationID: meta.CorrelationID,
		Attempts:      attempts,
		OccurredAt:    meta.Timestamp,
	}
	if c := e.Cause(); c != nil {
		rec.CauseName = c.Name
		rec.CauseMessage = c.Message
	}
	return rec
}
