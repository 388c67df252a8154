//go:build unit

package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ---------------------------------------------------------------------------
// Status graph -- exhaustive matrix
// ---------------------------------------------------------------------------

func TestStatus_CanTransitionTo(t *testing.T) {
	t.Parallel()

	all := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying, StatusCancelled}

	allowed := map[Status]map[Status]bool{
		StatusPending:    {StatusProcessing: true, StatusCancelled: true, StatusFailed: true},
		StatusProcessing: {StatusCompleted: true, StatusFailed: true, StatusRetrying: true},
		StatusRetrying:   {StatusProcessing: true},
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[from][to], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestStatus_NeverReentersPending(t *testing.T) {
	t.Parallel()

	for _, from := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying, StatusCancelled} {
		assert.False(t, from.CanTransitionTo(StatusPending), from)
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, StatusRetrying.IsTerminal())
}

func TestStatus_IsValid(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusRetrying.IsValid())
	assert.False(t, Status("UNKNOWN").IsValid())
}
