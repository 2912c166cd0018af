package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// ClassifyDomain is the classifier for adapters that already translate
// upstream failures into domain error kinds. Only ErrTemporary is retried in
// place; rate limits and exhausted quotas go back to the queue's own retry
// policy and never trip the breaker.
func ClassifyDomain(err error) ErrorClassification {
	switch {
	case err == nil:
		return ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{}
	case IsCircuitOpen(err):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	case errors.Is(err, domain.ErrTemporary):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	case errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrQuotaExceeded),
		errors.Is(err, domain.ErrUnusableInput),
		errors.Is(err, domain.ErrInvalidInput):
		return ErrorClassification{}
	default:
		return ErrorClassification{RecordFailure: true}
	}
}

// TemporaryIfOpen marks a circuit-open rejection as temporary so callers see a
// domain kind instead of a breaker error.
func TemporaryIfOpen(operation string, err error) error {
	if err != nil && IsCircuitOpen(err) && !domain.IsKind(err, domain.ErrTemporary) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
