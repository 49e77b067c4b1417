package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dentalsrs/internal/errs"
)

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.InitialWait = time.Millisecond
	p.MaxWait = 2 * time.Millisecond
	return p
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	retried := 0
	p := fastPolicy()
	p.OnRetry = func(string, error) { retried++ }

	v, err := Do(context.Background(), p, "get card", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &errs.TransientStoreError{Op: "get card", Err: errors.New("busy")}
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retried)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Exec(context.Background(), fastPolicy(), "put card", func(context.Context) error {
		calls++
		return errs.ErrInvalidInput
	})

	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Exec(context.Background(), fastPolicy(), "query", func(context.Context) error {
		calls++
		return &errs.TransientStoreError{Op: "query", Err: errors.New("timeout")}
	})

	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, 4, calls)
}

func TestDo_AttemptTimeoutApplied(t *testing.T) {
	p := fastPolicy()
	p.AttemptTimeout = 50 * time.Millisecond

	err := Exec(context.Background(), p, "slow", func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
		return nil
	})
	assert.NoError(t, err)
}
