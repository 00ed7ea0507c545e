package model

import (
	"strings"
	"time"
)

// TargetOrganization is one company to search contacts for. Profile and
// FitScore are carried context the provider does not return; the normalizer
// reattaches them after matching results back to their target.
type TargetOrganization struct {
	Name     string  `json:"name" yaml:"name"`
	Domain   string  `json:"domain,omitempty" yaml:"domain"`
	Profile  string  `json:"profile,omitempty" yaml:"profile"`
	FitScore float64 `json:"fit_score,omitempty" yaml:"fit_score"`
}

// CanonicalContact is the normalized shape of one provider record. It either
// becomes exactly one Lead or is discarded at the gate.
type CanonicalContact struct {
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Email          string  `json:"email"`
	Title          string  `json:"title,omitempty"`
	LinkedInURL    string  `json:"linkedin_url,omitempty"`
	CompanyName    string  `json:"company_name"`
	CompanyDomain  string  `json:"company_domain,omitempty"`
	CompanyProfile string  `json:"company_profile,omitempty"`
	FitScore       float64 `json:"fit_score,omitempty"`
}

// EmailDomain returns the part of the contact's email after '@', lowercased.
// Returns "" if the email is missing or malformed.
func (c CanonicalContact) EmailDomain() string {
	at := strings.LastIndex(c.Email, "@")
	if at < 0 || at == len(c.Email)-1 {
		return ""
	}
	return strings.ToLower(c.Email[at+1:])
}

// Lead is a persisted accepted contact. At most one lead exists per
// (email, owner) pair; the storage layer enforces this with a uniqueness
// constraint and conflict-ignore inserts.
type Lead struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	RunID          string    `json:"run_id,omitempty"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	Title          string    `json:"title,omitempty"`
	LinkedInURL    string    `json:"linkedin_url,omitempty"`
	CompanyName    string    `json:"company_name"`
	CompanyDomain  string    `json:"company_domain,omitempty"`
	CompanyProfile string    `json:"company_profile,omitempty"`
	FitScore       float64   `json:"fit_score,omitempty"`
	Draft          string    `json:"draft,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LeadFromContact builds a Lead row from an accepted canonical contact.
func LeadFromContact(c CanonicalContact, owner, runID string) Lead {
	return Lead{
		Owner:          owner,
		RunID:          runID,
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		Email:          strings.ToLower(strings.TrimSpace(c.Email)),
		Title:          c.Title,
		LinkedInURL:    c.LinkedInURL,
		CompanyName:    c.CompanyName,
		CompanyDomain:  c.CompanyDomain,
		CompanyProfile: c.CompanyProfile,
		FitScore:       c.FitScore,
	}
}
