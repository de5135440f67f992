package classify

import (
	"errors"
	"fmt"
	"time"
)

// ErrParsing marks failures raised while extracting content from a fetched page.
var ErrParsing = errors.New("parsing failed")

// StatusCoder is implemented by errors that carry an HTTP response status.
type StatusCoder interface {
	StatusCode() int
}

// ContentCarrier is implemented by errors that carry the fetched body.
type ContentCarrier interface {
	Content() string
}

// ErrorCoder is implemented by errors that carry a system-style code such as ENOTFOUND.
type ErrorCoder interface {
	ErrorCode() string
}

// Signal is everything the classifier may look at. Zero fields mean "no signal".
type Signal struct {
	Err     error
	Status  int
	Content string
}

// FromError extracts status, content and code from anywhere in the error chain.
func FromError(err error) Signal {
	s := Signal{Err: err}
	if err == nil {
		return s
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		s.Status = sc.StatusCode()
	}
	var cc ContentCarrier
	if errors.As(err, &cc) {
		s.Content = cc.Content()
	}
	return s
}

// FetchError is the failure shape operations are expected to return when
// they have response metadata. All fields are optional.
type FetchError struct {
	URL        string
	Status     int
	Body       string
	Code       string
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "fetch failed"
	}
	switch {
	case e.Status > 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	case e.Status > 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	case e.Code != "" && e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Code, e.Err)
	case e.Code != "":
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s failed", e.URL)
}

// The accessors tolerate a nil receiver so a typed-nil *FetchError returned
// as an error still classifies.

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *FetchError) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}

func (e *FetchError) Content() string {
	if e == nil {
		return ""
	}
	return e.Body
}

func (e *FetchError) ErrorCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// ParseError wraps a content extraction failure. It matches ErrParsing.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParsing }
