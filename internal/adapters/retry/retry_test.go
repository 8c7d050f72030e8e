package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5*time.Second, func() error {
		calls++
		if calls < 3 {
			return &StatusError{Source: "toggl", Status: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnClientError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5*time.Second, func() error {
		calls++
		return &StatusError{Source: "toggl", Status: 401, Body: "nope"}
	})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 401, se.Status)
	assert.Equal(t, 1, calls)
}

func TestDo_Permanent(t *testing.T) {
	sentinel := errors.New("graphql says no")
	calls := 0
	err := Do(context.Background(), 5*time.Second, func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestStatusError_Retryable(t *testing.T) {
	assert.True(t, (&StatusError{Status: 429}).Retryable())
	assert.True(t, (&StatusError{Status: 502}).Retryable())
	assert.False(t, (&StatusError{Status: 404}).Retryable())
}
