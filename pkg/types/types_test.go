package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduceContext_Clone(t *testing.T) {
	t.Run("nil receiver", func(t *testing.T) {
		var c *ProduceContext
		clone := c.Clone()
		require.NotNil(t, clone)
		assert.Empty(t, clone.Hints)
	})

	t.Run("slices are independent", func(t *testing.T) {
		original := &ProduceContext{
			Domain:         "电商",
			Hints:          []string{"h1"},
			PriorArtifacts: []*Artifact{{ID: "a-1"}},
		}

		clone := original.Clone()
		clone.Hints = append(clone.Hints, "h2")
		clone.PriorArtifacts = append(clone.PriorArtifacts, &Artifact{ID: "a-2"})

		assert.Equal(t, []string{"h1"}, original.Hints)
		assert.Len(t, original.PriorArtifacts, 1)
		assert.Equal(t, "电商", clone.Domain)
	})
}

func TestSessionResult_RoundsUsed(t *testing.T) {
	r := &SessionResult{}
	assert.Equal(t, 0, r.RoundsUsed())

	r.Rounds = append(r.Rounds, SessionRound{Round: 1}, SessionRound{Round: 2})
	assert.Equal(t, 2, r.RoundsUsed())
}

func TestTaskStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{TaskStatusPending, TaskStatusRunning, true},
		{TaskStatusRunning, TaskStatusCompleted, true},
		{TaskStatusRunning, TaskStatusFailed, true},
		{TaskStatusRunning, TaskStatusRetrying, true},
		{TaskStatusRetrying, TaskStatusRunning, true},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusCompleted, TaskStatusRunning, false},
		{TaskStatusFailed, TaskStatusRetrying, false},
		{TaskStatusCompleted, TaskStatusFailed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusRunning.Terminal())
	assert.False(t, TaskStatusRetrying.Terminal())
}

func TestDefaultConfigs(t *testing.T) {
	h := DefaultHarnessConfig()
	assert.Equal(t, 4, h.Parallelism)
	assert.Equal(t, 2, h.MaxRetries)

	s := DefaultSessionConfig()
	assert.Equal(t, 3, s.MaxRounds)
	assert.InDelta(t, 0.85, s.ConvergenceThreshold, 1e-9)

	o := DefaultOptimizerConfig()
	assert.Equal(t, 5, o.WindowSize)

	p := DefaultProcessorConfig()
	assert.Equal(t, 4, p.NumWorkers)
	assert.True(t, p.EnableFaultTolerance)
}
