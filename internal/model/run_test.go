package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.True(t, RunStatusCancelled.Terminal())
}

func TestCurrentStage(t *testing.T) {
	tests := []struct {
		name string
		logs []RunLogEntry
		want string
	}{
		{
			name: "empty history",
			logs: nil,
			want: "",
		},
		{
			name: "latest staged entry wins",
			logs: []RunLogEntry{
				{Stage: StageDiscovery},
				{Stage: StageContactFinding},
				{Stage: StagePersistence},
			},
			want: StagePersistence,
		},
		{
			name: "incidental lines do not regress the stage",
			logs: []RunLogEntry{
				{Stage: StageContactFinding},
				{Stage: ""},
				{Stage: "not-a-stage"},
			},
			want: StageContactFinding,
		},
		{
			name: "only unknown stages",
			logs: []RunLogEntry{{Stage: "bogus"}},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CurrentStage(tt.logs))
		})
	}
}

func TestRunCounters_Add(t *testing.T) {
	c := RunCounters{Submitted: 10, Accepted: 7, Rejected: 2, Duplicate: 1}
	c.Add(RunCounters{Submitted: 3, Accepted: 1, Errored: 1})

	assert.Equal(t, RunCounters{Submitted: 13, Accepted: 8, Rejected: 2, Duplicate: 1, Errored: 1}, c)
}
