package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadgen-cli/internal/model"
)

func TestComputeRunStats(t *testing.T) {
	now := time.Now()
	ended := now.Add(90 * time.Second)

	runs := []model.Run{
		{
			Status:    model.RunStatusCompleted,
			Counters:  model.RunCounters{Submitted: 10, Accepted: 7, Rejected: 2, Duplicate: 1},
			StartedAt: now,
			EndedAt:   &ended,
		},
		{
			Status:   model.RunStatusFailed,
			Counters: model.RunCounters{Submitted: 3, Errored: 1},
		},
		{Status: model.RunStatusCancelled},
		{Status: model.RunStatusRunning},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Cancelled)
	assert.Equal(t, 1, s.Other)
	assert.Equal(t, 13, s.Counters.Submitted)
	assert.Equal(t, 7, s.Counters.Accepted)
	assert.InDelta(t, 90.0, s.AvgDurSecs, 0.001)
}

func TestFormatRunsList(t *testing.T) {
	ended := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "0d9c5f2e-1111-2222-3333-444455556666",
			Owner:     "acme-team",
			Status:    model.RunStatusCompleted,
			Counters:  model.RunCounters{Accepted: 7},
			Targets:   model.TargetSpec{Organizations: makeTestTargets(3)},
			StartedAt: ended.Add(-2 * time.Minute),
			EndedAt:   &ended,
			CreatedAt: ended.Add(-2 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "0d9c5f2e")
	assert.NotContains(t, out, "444455556666")
	assert.Contains(t, out, "acme-team")
	assert.Contains(t, out, "3 orgs")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "2m0s")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a very ...", truncate("a very long string", 10))
	assert.Equal(t, "12345678", truncateID("123456789abc"))
	assert.Equal(t, "short", truncateID("short"))
}

func makeTestTargets(n int) []model.TargetOrganization {
	out := make([]model.TargetOrganization, n)
	for i := range out {
		out[i] = model.TargetOrganization{Name: "Org"}
	}
	return out
}
