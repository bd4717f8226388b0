package recovery

import (
	"context"
	"errors"
)

// Kind classifies a failure for retry decisions.
type Kind string

const (
	// KindTransient failures (timeouts, rate limits, 5xx-equivalents) may
	// succeed on retry.
	KindTransient Kind = "transient"

	// KindFatal failures (auth, malformed request, quota) are never retried.
	KindFatal Kind = "fatal"

	// KindCancelled means the context was cancelled; not treated as an
	// operation failure.
	KindCancelled Kind = "cancelled"
)

// Classifier maps an error to a failure Kind.
type Classifier func(error) Kind

// Status describes how an attempted operation concluded.
type Status int

const (
	// StatusSuccess means the first attempt succeeded.
	StatusSuccess Status = iota
	// StatusRecovered means a retry succeeded after transient failures.
	StatusRecovered
	// StatusFailed means the operation failed terminally.
	StatusFailed
)

// Outcome is the uniform result of a recovery-wrapped operation.
type Outcome[T any] struct {
	Status Status
	Value  T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// Kind is the classification of the final error, set when Status is
	// StatusFailed.
	Kind Kind
	// Err is the last error encountered.
	Err error
}

// OK reports whether the operation produced a usable value.
func (o Outcome[T]) OK() bool {
	return o.Status == StatusSuccess || o.Status == StatusRecovered
}

// ErrBudgetExhausted is returned inside a failed Outcome when the elapsed-time
// budget ran out before the attempt cap.
var ErrBudgetExhausted = errors.New("retry time budget exhausted")

// Attempt executes op under the given policy, retrying transient failures
// with exponential backoff. Fatal failures surface immediately. The elapsed
// budget in the policy bounds total retry time even when attempts remain.
//
// Context cancellation is checked before each attempt and during backoff
// sleeps; a cancelled operation yields StatusFailed with KindCancelled.
func Attempt[T any](ctx context.Context, policy Policy, classify Classifier, op func(ctx context.Context) (T, error)) Outcome[T] {
	var out Outcome[T]

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var deadline <-chan struct{}
	if policy.MaxElapsed > 0 {
		budgetCtx, cancel := context.WithTimeout(context.Background(), policy.MaxElapsed)
		defer cancel()
		deadline = budgetCtx.Done()
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt

		if err := ctx.Err(); err != nil {
			out.Status = StatusFailed
			out.Kind = KindCancelled
			if out.Err == nil {
				out.Err = err
			}
			return out
		}

		value, err := op(ctx)
		if err == nil {
			out.Value = value
			if attempt == 1 {
				out.Status = StatusSuccess
			} else {
				out.Status = StatusRecovered
			}
			return out
		}
		out.Err = err

		kind := KindFatal
		if classify != nil {
			kind = classify(err)
		}
		if errors.Is(err, context.Canceled) {
			kind = KindCancelled
		}
		out.Kind = kind

		if kind != KindTransient {
			out.Status = StatusFailed
			return out
		}
		if attempt >= maxAttempts {
			break
		}

		select {
		case <-deadline:
			out.Status = StatusFailed
			out.Err = errors.Join(ErrBudgetExhausted, err)
			return out
		default:
		}

		if err := policy.sleep(ctx, attempt); err != nil {
			out.Status = StatusFailed
			out.Kind = KindCancelled
			out.Err = err
			return out
		}
	}

	out.Status = StatusFailed
	return out
}
