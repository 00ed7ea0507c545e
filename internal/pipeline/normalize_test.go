package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/pkg/wiza"
)

func TestNormalizeRecords_NameSplitting(t *testing.T) {
	tests := []struct {
		name      string
		record    wiza.ContactRecord
		wantFirst string
		wantLast  string
	}{
		{
			name:      "explicit parts preferred",
			record:    wiza.ContactRecord{FirstName: "Jane", LastName: "Doe", FullName: "Ignored Name"},
			wantFirst: "Jane",
			wantLast:  "Doe",
		},
		{
			name:      "full name split on whitespace",
			record:    wiza.ContactRecord{FullName: "Sam Smith"},
			wantFirst: "Sam",
			wantLast:  "Smith",
		},
		{
			name:      "multi-word remainder becomes last name",
			record:    wiza.ContactRecord{FullName: "Ana de la Cruz"},
			wantFirst: "Ana",
			wantLast:  "de la Cruz",
		},
		{
			name:      "single token is first name only",
			record:    wiza.ContactRecord{FullName: "Cher"},
			wantFirst: "Cher",
			wantLast:  "",
		},
		{
			name:      "all lowercase gets title cased",
			record:    wiza.ContactRecord{FirstName: "jane", LastName: "doe"},
			wantFirst: "Jane",
			wantLast:  "Doe",
		},
		{
			name:      "mixed case preserved",
			record:    wiza.ContactRecord{FirstName: "Mary", LastName: "McAllister"},
			wantFirst: "Mary",
			wantLast:  "McAllister",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NormalizeRecords([]wiza.ContactRecord{tt.record}, nil)
			require.Len(t, out, 1)
			assert.Equal(t, tt.wantFirst, out[0].FirstName)
			assert.Equal(t, tt.wantLast, out[0].LastName)
		})
	}
}

func TestNormalizeRecords_TargetResolution(t *testing.T) {
	targets := []model.TargetOrganization{
		{Name: "Acme Corp", Domain: "acme.com", Profile: "Makes anvils", FitScore: 0.9},
		{Name: "Globex", Domain: "globex.io", Profile: "Does everything", FitScore: 0.4},
	}

	t.Run("domain match wins over name", func(t *testing.T) {
		out := NormalizeRecords([]wiza.ContactRecord{
			{Email: "j@x.com", CompanyName: "Globex", CompanyDomain: "www.acme.com"},
		}, targets)
		require.Len(t, out, 1)
		assert.Equal(t, "Acme Corp", out[0].CompanyName)
		assert.Equal(t, "acme.com", out[0].CompanyDomain)
		assert.Equal(t, "Makes anvils", out[0].CompanyProfile)
		assert.InDelta(t, 0.9, out[0].FitScore, 0.001)
	})

	t.Run("name substring match either direction", func(t *testing.T) {
		out := NormalizeRecords([]wiza.ContactRecord{
			{Email: "s@globex.example", CompanyName: "globex inc"},
		}, targets)
		require.Len(t, out, 1)
		assert.Equal(t, "Globex", out[0].CompanyName)
		assert.Equal(t, "Does everything", out[0].CompanyProfile)
	})

	t.Run("no match keeps raw name without context", func(t *testing.T) {
		out := NormalizeRecords([]wiza.ContactRecord{
			{Email: "x@other.com", CompanyName: "Initech", CompanyDomain: "initech.com"},
		}, targets)
		require.Len(t, out, 1)
		assert.Equal(t, "Initech", out[0].CompanyName)
		assert.Empty(t, out[0].CompanyProfile)
		assert.Zero(t, out[0].FitScore)
	})
}

func TestNormalizeRecords_LowercasesEmailAndDomain(t *testing.T) {
	out := NormalizeRecords([]wiza.ContactRecord{
		{Email: " Jane.Doe@ACME.com ", CompanyDomain: "ACME.com", CompanyName: "Acme"},
	}, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "jane.doe@acme.com", out[0].Email)
	assert.Equal(t, "acme.com", out[0].CompanyDomain)
}
