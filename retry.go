package mentatsync

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff up to maxRetries attempts.
// task signals a retryable failure by returning RetryableError(err);
// any other error aborts the retry loop immediately. If retries are
// exhausted, the final error is returned. Logging is left to the caller,
// which knows whether the error is an engine failure or ordinary flow.
func Retry(ctx context.Context, maxRetries uint64, task func(ctx context.Context) error) error {
	b := retry.NewFibonacci(50 * time.Millisecond)
	return retry.Do(ctx, retry.WithMaxRetries(maxRetries, b), task)
}

// RetryableError marks err as retryable for Retry.
func RetryableError(err error) error {
	return retry.RetryableError(err)
}
