package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadgen-cli/internal/model"
)

func TestRunFilterFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/runs?status=running&owner=acme-team&limit=25", nil)
	f := runFilterFromQuery(r)
	assert.Equal(t, model.RunStatusRunning, f.Status)
	assert.Equal(t, "acme-team", f.Owner)
	assert.Equal(t, 25, f.Limit)

	r = httptest.NewRequest(http.MethodGet, "/runs", nil)
	f = runFilterFromQuery(r)
	assert.Empty(t, f.Owner)
	assert.Zero(t, f.Limit)
}

func TestRunFilterFromQuery_BadLimit(t *testing.T) {
	for _, limit := range []string{"10abc", "abc", "-5", "0"} {
		r := httptest.NewRequest(http.MethodGet, "/runs?limit="+limit, nil)
		f := runFilterFromQuery(r)
		assert.Zero(t, f.Limit, "limit %q must not half-parse", limit)
	}
}
