package pipeline

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/pkg/wiza"
)

var titleCaser = cases.Title(language.English, cases.NoLower)

// NormalizeRecords maps raw provider records onto canonical contacts and
// resolves each back to its originating target so that carried context
// (profile, fit score) survives the provider round trip. Records that match
// no target keep the provider-reported company name and carry no context.
func NormalizeRecords(records []wiza.ContactRecord, targets []model.TargetOrganization) []model.CanonicalContact {
	out := make([]model.CanonicalContact, 0, len(records))
	for _, rec := range records {
		first, last := splitName(rec)
		c := model.CanonicalContact{
			FirstName:     personName(first),
			LastName:      personName(last),
			Email:         strings.ToLower(strings.TrimSpace(rec.Email)),
			Title:         strings.TrimSpace(rec.Title),
			LinkedInURL:   strings.TrimSpace(rec.LinkedInURL),
			CompanyName:   strings.TrimSpace(rec.CompanyName),
			CompanyDomain: strings.ToLower(strings.TrimSpace(rec.CompanyDomain)),
		}
		if target := matchTarget(c, targets); target != nil {
			c.CompanyName = target.Name
			if target.Domain != "" {
				c.CompanyDomain = strings.ToLower(target.Domain)
			}
			c.CompanyProfile = target.Profile
			c.FitScore = target.FitScore
		}
		out = append(out, c)
	}
	return out
}

// splitName prefers the provider's explicit first/last parts and falls back
// to splitting the full name on whitespace: first token and remainder.
func splitName(rec wiza.ContactRecord) (first, last string) {
	first = strings.TrimSpace(rec.FirstName)
	last = strings.TrimSpace(rec.LastName)
	if first != "" || last != "" {
		return first, last
	}

	parts := strings.Fields(rec.FullName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// personName title-cases names the provider reports in a single case
// (all lower or all upper) and leaves mixed-case names untouched, so
// spellings like "McAllister" survive.
func personName(s string) string {
	if s == "" {
		return s
	}
	if s == strings.ToLower(s) || s == strings.ToUpper(s) {
		return titleCaser.String(strings.ToLower(s))
	}
	return s
}

// matchTarget resolves a contact to its originating target. Domain evidence
// wins over name evidence; both compare case-insensitively and accept a
// substring match in either direction to absorb provider rewrites like
// "acme.com" vs "www.acme.com" or "Acme" vs "Acme Corp".
func matchTarget(c model.CanonicalContact, targets []model.TargetOrganization) *model.TargetOrganization {
	if d := c.CompanyDomain; d != "" {
		for i := range targets {
			td := strings.ToLower(strings.TrimSpace(targets[i].Domain))
			if td != "" && (strings.Contains(td, d) || strings.Contains(d, td)) {
				return &targets[i]
			}
		}
	}
	if n := strings.ToLower(c.CompanyName); n != "" {
		for i := range targets {
			tn := strings.ToLower(strings.TrimSpace(targets[i].Name))
			if tn != "" && (strings.Contains(tn, n) || strings.Contains(n, tn)) {
				return &targets[i]
			}
		}
	}
	return nil
}
