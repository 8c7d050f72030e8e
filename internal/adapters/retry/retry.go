/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package retry wraps upstream calls in exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Source string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api status=%d body=%s", e.Source, e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func newBackoff(maxElapsed time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	// zero means "retry forever" to backoff
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	bo.MaxElapsedTime = maxElapsed
	return bo
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// backoff budget is spent. Transport errors and retryable StatusErrors are
// retried; everything else stops immediately.
func Do(ctx context.Context, maxElapsed time.Duration, op func() error) error {
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return backoff.Permanent(err)
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return backoff.Permanent(perm.Err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(newBackoff(maxElapsed), ctx))
	return err
}

// PermanentError marks an error that must not be retried.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do returns it without retrying.
func Permanent(err error) error { return &PermanentError{Err: err} }
