package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"
)

// EC2 error codes worth retrying beyond the SDK's throttle and retryable sets.
var transientCodes = map[string]bool{
	"InternalError":      true,
	"InternalFailure":    true,
	"ServiceUnavailable": true,
	"Unavailable":        true,
}

// providerError carries the API error code and whether a retry may succeed.
type providerError struct {
	op        string
	id        string
	code      string
	transient bool
	err       error
}

func (e *providerError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.op, e.id, e.err)
}

func (e *providerError) Unwrap() error { return e.err }

// Transient reports whether the call may succeed if repeated.
func (e *providerError) Transient() bool { return e.transient }

// Reason returns the API error code, or the error text when there is none.
func (e *providerError) Reason() string {
	if e.code != "" {
		return e.code
	}
	return e.err.Error()
}

func classify(op, id string, err error) *providerError {
	pe := &providerError{op: op, id: id, err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe.code = apiErr.ErrorCode()
		if apiErr.ErrorFault() == smithy.FaultServer || transientCodes[pe.code] {
			pe.transient = true
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		pe.transient = true
	case retry.IsErrorThrottles(retry.DefaultThrottles).IsErrorThrottle(err) == aws.TrueTernary:
		pe.transient = true
	case retry.IsErrorRetryables(retry.DefaultRetryables).IsErrorRetryable(err) == aws.TrueTernary:
		pe.transient = true
	}
	return pe
}
