package domain

import "time"

// EnvelopeMetadata accompanies every Envelope.
type EnvelopeMetadata struct {
	Domain        string    `json:"domain"`
	URL           string    `json:"url"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	Attempts      int       `json:"attempts"`
	DurationMS    int64     `json:"duration_ms"`
}

// Envelope is the uniform outcome of a wrapped operation. Exactly one of Data
// or Error is meaningful, selected by Success.
type Envelope struct {
	Success  bool             `json:"success"`
	Data     any              `json:"data,omitempty"`
	Error    *ErrorObject     `json:"error,omitempty"`
	Metadata EnvelopeMetadata `json:"metadata"`
}

// Kind returns the failure kind, or "" for a successful envelope.
func (e Envelope) Kind() ErrorKind {
	if e.Success || e.Error == nil {
		return ""
	}
	return e.Error.Kind
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// NewBatchSummary computes the rate; an empty batch has rate 0.
func NewBatchSummary(succeeded, failed int) BatchSummary {
	total := succeeded + failed
	s := BatchSummary{Total: total, Succeeded: succeeded, Failed: failed}
	if total > 0 {
		s.SuccessRate = float64(succeeded) / float64(total)
	}
	return s
}
