package entity

import (
	"fmt"
	"strings"
)

// FailureReason classifies a failed media fetch.
type FailureReason string

const (
	FailureTimeout          FailureReason = "timeout"
	FailureNetworkError     FailureReason = "network_error"
	FailureTooManyRedirects FailureReason = "too_many_redirects"

	failureHTTPStatusPrefix = "http_status:"
)

func FailureHTTPStatus(code int) FailureReason {
	return FailureReason(fmt.Sprintf("%s%d", failureHTTPStatusPrefix, code))
}

// Class drops the status code so metrics labels stay bounded.
func (r FailureReason) Class() string {
	if strings.HasPrefix(string(r), failureHTTPStatusPrefix) {
		return strings.TrimSuffix(failureHTTPStatusPrefix, ":")
	}

	return string(r)
}

// FetchOutcome is the result of one media fetch. Failure is nil on success.
type FetchOutcome struct {
	Body          []byte
	ContentLength int64
	ContentType   string
	Failure       *FetchFailure
}

type FetchFailure struct {
	Reason FailureReason
	Err    error
}

func (f *FetchFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s", f.Reason, f.Err)
	}

	return string(f.Reason)
}

func (f *FetchFailure) Unwrap() error {
	return f.Err
}

func FetchSucceeded(body []byte, contentType string) FetchOutcome {
	return FetchOutcome{
		Body:          body,
		ContentLength: int64(len(body)),
		ContentType:   contentType,
	}
}

func FetchFailed(reason FailureReason, err error) FetchOutcome {
	return FetchOutcome{Failure: &FetchFailure{Reason: reason, Err: err}}
}

func (o FetchOutcome) OK() bool {
	return o.Failure == nil
}
