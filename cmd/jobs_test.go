package cmd

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dentalsrs/internal/errs"
)

func TestWeekFlag(t *testing.T) {
	now := time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)

	got, err := weekFlag("", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), got)

	got, err = weekFlag("2024-03-24", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), got)

	_, err = weekFlag("24/03/2024", now)
	assert.Error(t, err)
}

func TestResumeHint(t *testing.T) {
	partial := &errs.PartialBatchFailure{Job: "recompute", Cursor: "u42", Err: errors.New("busy")}
	err := resumeHint(partial)
	assert.Contains(t, err.Error(), `"u42"`)
	assert.ErrorAs(t, err, &partial)

	plain := errors.New("boom")
	assert.Equal(t, plain, resumeHint(plain))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "recompute", "reset-weekly", "snapshot", "audit", "import-questions", "export-ranking"} {
		assert.True(t, names[want], want)
	}
}
