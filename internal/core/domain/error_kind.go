package domain

import (
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// ErrorKind is the closed set of scrape failure categories.
type ErrorKind string

const (
	KindHTTPError          ErrorKind = "HttpError"
	KindPaywall            ErrorKind = "Paywall"
	KindJavaScriptRequired ErrorKind = "JavaScriptRequired"
	KindNetworkError       ErrorKind = "NetworkError"
	KindDNSError           ErrorKind = "DnsError"
	KindTimeout            ErrorKind = "Timeout"
	KindParsingError       ErrorKind = "ParsingError"
	KindRateLimited        ErrorKind = "RateLimited"
	KindUnknown            ErrorKind = "Unknown"
)

type kindTraits struct {
	retryable    bool
	tripsBreaker bool
	httpStatus   int
	grpcCode     codes.Code
}

var kindTable = map[ErrorKind]kindTraits{
	KindHTTPError:          {retryable: false, tripsBreaker: true, httpStatus: http.StatusBadGateway, grpcCode: codes.Unavailable},
	KindPaywall:            {retryable: false, tripsBreaker: false, httpStatus: http.StatusPaymentRequired, grpcCode: codes.PermissionDenied},
	KindJavaScriptRequired: {retryable: false, tripsBreaker: false, httpStatus: http.StatusUnprocessableEntity, grpcCode: codes.FailedPrecondition},
	KindNetworkError:       {retryable: true, tripsBreaker: true, httpStatus: http.StatusServiceUnavailable, grpcCode: codes.Unavailable},
	KindDNSError:           {retryable: false, tripsBreaker: true, httpStatus: http.StatusServiceUnavailable, grpcCode: codes.Unavailable},
	KindTimeout:            {retryable: true, tripsBreaker: false, httpStatus: http.StatusGatewayTimeout, grpcCode: codes.DeadlineExceeded},
	KindParsingError:       {retryable: false, tripsBreaker: false, httpStatus: http.StatusBadGateway, grpcCode: codes.Internal},
	KindRateLimited:        {retryable: true, tripsBreaker: false, httpStatus: http.StatusTooManyRequests, grpcCode: codes.ResourceExhausted},
	KindUnknown:            {retryable: false, tripsBreaker: false, httpStatus: http.StatusInternalServerError, grpcCode: codes.Unknown},
}

// AllKinds lists every ErrorKind in declaration order.
var AllKinds = []ErrorKind{
	KindHTTPError,
	KindPaywall,
	KindJavaScriptRequired,
	KindNetworkError,
	KindDNSError,
	KindTimeout,
	KindParsingError,
	KindRateLimited,
	KindUnknown,
}

// Valid reports whether k is one of the declared kinds.
func (k ErrorKind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}

// Retryable reports whether a failure of this kind may be retried.
func (k ErrorKind) Retryable() bool {
	return kindTable[k].retryable
}

// TripsBreaker reports whether a failure of this kind counts against the domain's circuit.
func (k ErrorKind) TripsBreaker() bool {
	return kindTable[k].tripsBreaker
}

// HTTPStatus is the status code an HTTP caller should answer with for this kind.
func (k ErrorKind) HTTPStatus() int {
	if t, ok := kindTable[k]; ok {
		return t.httpStatus
	}
	return http.StatusInternalServerError
}

// GRPCCode is the gRPC code equivalent of this kind.
func (k ErrorKind) GRPCCode() codes.Code {
	if t, ok := kindTable[k]; ok {
		return t.grpcCode
	}
	return codes.Unknown
}

func (k ErrorKind) String() string {
	return string(k)
}

// ParseErrorKind converts a stored or wire value back into an ErrorKind.
func ParseErrorKind(s string) (ErrorKind, error) {
	k := ErrorKind(s)
	if !k.Valid() {
		return KindUnknown, fmt.Errorf("unknown error kind %q", s)
	}
	return k, nil
}
