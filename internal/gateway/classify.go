package gateway

import (
	"context"
	"errors"
	"net"
	"time"
)

// Classification buckets a failed send for retry decisions and reporting.
type Classification string

const (
	ClassInvalidDestination  Classification = "invalid_destination"
	ClassProviderRejected    Classification = "provider_rejected"
	ClassProviderUnavailable Classification = "provider_unavailable"
	ClassTimeout             Classification = "timeout"
	ClassRateLimited         Classification = "rate_limited"
	ClassSendError           Classification = "send_error"
)

// Transient reports whether a failure with this classification is worth
// retrying.
func (c Classification) Transient() bool {
	switch c {
	case ClassTimeout, ClassProviderUnavailable, ClassRateLimited:
		return true
	}
	return false
}

// SendError is the classified outcome of a failed send attempt.
type SendError struct {
	Class      Classification
	Message    string
	HTTPStatus int
	cause      error
}

func (e *SendError) Error() string {
	if e.Message != "" {
		return string(e.Class) + ": " + e.Message
	}
	return string(e.Class)
}

func (e *SendError) Unwrap() error { return e.cause }

// Classify maps a transport error or provider HTTP status to a
// classification.
func Classify(err error, httpStatus int, providerCode string) Classification {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ClassTimeout
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return ClassTimeout
		}
		return ClassProviderUnavailable
	}
	switch {
	case httpStatus == 408:
		return ClassTimeout
	case httpStatus == 429:
		return ClassRateLimited
	case httpStatus >= 500:
		return ClassProviderUnavailable
	case httpStatus == 400, httpStatus == 404, httpStatus == 410:
		return ClassInvalidDestination
	case httpStatus >= 400:
		if providerCode == "invalid_destination" {
			return ClassInvalidDestination
		}
		return ClassProviderRejected
	}
	return ClassSendError
}

// RetrySchedule is the backoff applied before each transient retry of one
// recipient: the initial attempt plus one retry per entry.
var RetrySchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// MaxAttempts is the total number of send attempts per recipient before a
// transient failure is recorded as a permanent per-recipient failure.
const MaxAttempts = 4

func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return RetrySchedule[0]
	}
	if attempt >= len(RetrySchedule) {
		return RetrySchedule[len(RetrySchedule)-1]
	}
	return RetrySchedule[attempt]
}
