package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// ErrorCause captures the originating error by name and message only.
type ErrorCause struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ErrorMetadata is the context attached to a StructuredError.
type ErrorMetadata struct {
	Timestamp     time.Time     `json:"timestamp"`
	Domain        string        `json:"domain"`
	URL           string        `json:"url"`
	CorrelationID string        `json:"correlation_id"`
	Attempt       int           `json:"attempt,omitempty"`
	RetryAfter    time.Duration `json:"-"`
}

// StructuredError is a classified scrape failure. It is immutable once built;
// accessors return copies.
type StructuredError struct {
	kind    ErrorKind
	message string
	cause   *ErrorCause
	meta    ErrorMetadata

	// original is kept for errors.Is/As inside the call that built it.
	original error
}

// NewStructuredError builds a StructuredError. An invalid kind becomes KindUnknown.
func NewStructuredError(kind ErrorKind, message string, cause error, meta ErrorMetadata) *StructuredError {
	if !kind.Valid() {
		kind = KindUnknown
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	e := &StructuredError{
		kind:     kind,
		message:  message,
		meta:     meta,
		original: cause,
	}
	if cause != nil {
		e.cause = &ErrorCause{
			Name:    fmt.Sprintf("%T", cause),
			Message: errorText(cause),
		}
	}
	return e
}

// errorText calls err.Error, which may panic on a typed-nil receiver.
func errorText(err error) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprintf("%T", err)
		}
	}()
	return err.Error()
}

// Error implements error.
func (e *StructuredError) Error() string {
	if e.meta.Domain != "" {
		return fmt.Sprintf("%s: %s (%s)", e.kind, e.message, e.meta.Domain)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *StructuredError) Unwrap() error { return e.original }

// Retryable is consulted by the retry scheduler.
func (e *StructuredError) Retryable() bool { return e.kind.Retryable() }

func (e *StructuredError) Kind() ErrorKind { return e.kind }

func (e *StructuredError) Message() string { return e.message }

func (e *StructuredError) CanRetry() bool { return e.kind.Retryable() }

// Cause returns a copy of the captured cause, or nil.
func (e *StructuredError) Cause() *ErrorCause {
	if e.cause == nil {
		return nil
	}
	c := *e.cause
	return &c
}

func (e *StructuredError) Metadata() ErrorMetadata { return e.meta }

// WithAttempt returns a copy stamped with the attempt number.
func (e *StructuredError) WithAttempt(attempt int) *StructuredError {
	cp := *e
	cp.meta.Attempt = attempt
	return &cp
}

// ErrorObject is the plain serializable form of a StructuredError.
type ErrorObject struct {
	Kind     ErrorKind     `json:"type"`
	Message  string        `json:"message"`
	CanRetry bool          `json:"can_retry"`
	Cause    *ErrorCause   `json:"cause,omitempty"`
	Metadata ErrorMetadata `json:"metadata"`
}

// Object returns the plain form used in envelopes and logs.
func (e *StructuredError) Object() *ErrorObject {
	return &ErrorObject{
		Kind:     e.kind,
		Message:  e.message,
		CanRetry: e.kind.Retryable(),
		Cause:    e.Cause(),
		Metadata: e.meta,
	}
}

func (e *StructuredError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Object())
}

// GRPCStatus lets status.FromError turn a StructuredError into a gRPC status.
func (e *StructuredError) GRPCStatus() *status.Status {
	st := status.New(e.kind.GRPCCode(), e.message)

	info := &errdetails.ErrorInfo{
		Reason: string(e.kind),
		Domain: e.meta.Domain,
		Metadata: map[string]string{
			"url":            e.meta.URL,
			"correlation_id": e.meta.CorrelationID,
		},
	}

	var (
		detailed *status.Status
		err      error
	)
	if e.kind.Retryable() {
		detailed, err = st.WithDetails(info, &errdetails.RetryInfo{
			RetryDelay: durationpb.New(e.meta.RetryAfter),
		})
	} else {
		detailed, err = st.WithDetails(info)
	}
	if err != nil {
		return st
	}
	return detailed
}
