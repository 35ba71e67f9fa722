package common

import (
	"context"
	"errors"
	"time"
)

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, RetryWithContext returns it unwrapped right away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return permanentError{err: err}
}

func RetryWithContext(ctx context.Context, operation func(attempt int, retryIn time.Duration) error, maxRetries int,
	delay time.Duration,
) error {
	err := operation(1, delay)

	for attempt := 1; err != nil && attempt < maxRetries; attempt++ {
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}

		err = operation(attempt+1, delay)
	}

	var perm permanentError
	if errors.As(err, &perm) {
		return perm.err
	}

	return err
}
