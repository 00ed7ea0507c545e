package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// Gate outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
)

// Rejection reasons, in rule order.
const (
	ReasonNoContactChannel = "no contact channel"
	ReasonBlockedDomain    = "blocked email domain"
	ReasonNoOrganization   = "no organization"
)

// Decision is the gate's verdict on one contact.
type Decision struct {
	Outcome string
	Reason  string
}

// placeholderOrgs are company values providers emit when they found nothing.
var placeholderOrgs = map[string]struct{}{
	"unknown": {},
	"n/a":     {},
	"na":      {},
	"none":    {},
	"null":    {},
	"-":       {},
}

// Gate applies the validation and dedup rules to normalized contacts. One
// Gate serves one run: the seen set carries within-run dedup state across
// chunks, while cross-run dedup goes through the store. A Gate is not safe
// for concurrent use; the scheduler feeds it from a single goroutine.
type Gate struct {
	store   store.Store
	owner   string
	blocked map[string]struct{}
	seen    map[string]struct{}
}

// NewGate creates a gate for one run.
func NewGate(st store.Store, owner string, blockedDomains []string) *Gate {
	blocked := make(map[string]struct{}, len(blockedDomains))
	for _, d := range blockedDomains {
		blocked[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return &Gate{
		store:   st,
		owner:   owner,
		blocked: blocked,
		seen:    make(map[string]struct{}),
	}
}

// Check runs the rules in order and returns the first verdict that applies.
// A bad record is a rejection, never an error; the error return is reserved
// for store failures during the duplicate check.
func (g *Gate) Check(ctx context.Context, c model.CanonicalContact) (Decision, error) {
	// Rule 1: an email contact channel. Leads are keyed by (email, owner),
	// so a record without an email can be neither deduplicated nor
	// persisted; a LinkedIn URL alone is profile data, not a channel.
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if email == "" {
		return Decision{Outcome: OutcomeRejected, Reason: ReasonNoContactChannel}, nil
	}

	// Rule 2: email domain not on the blocklist.
	if domain := c.EmailDomain(); domain != "" {
		if _, ok := g.blocked[domain]; ok {
			return Decision{Outcome: OutcomeRejected, Reason: ReasonBlockedDomain}, nil
		}
	}

	// Rule 3: a real organization attribution.
	org := strings.ToLower(strings.TrimSpace(c.CompanyName))
	if _, placeholder := placeholderOrgs[org]; org == "" || placeholder {
		return Decision{Outcome: OutcomeRejected, Reason: ReasonNoOrganization}, nil
	}

	// Rule 4: not already seen, in this run or in the store. The seen set
	// uses the same (email, owner) key the storage uniqueness constraint
	// enforces.
	if _, ok := g.seen[email]; ok {
		return Decision{Outcome: OutcomeDuplicate}, nil
	}
	exists, err := g.store.LeadExists(ctx, g.owner, email)
	if err != nil {
		return Decision{}, eris.Wrap(err, "gate: lead lookup")
	}
	if exists {
		g.seen[email] = struct{}{}
		return Decision{Outcome: OutcomeDuplicate}, nil
	}

	g.seen[email] = struct{}{}
	return Decision{Outcome: OutcomeAccepted}, nil
}
