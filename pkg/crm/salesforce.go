// Package crm pushes accepted leads to the downstream CRM.
package crm

import (
	"context"
	"fmt"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// Collections API caps record batches at 200.
const maxBatchSize = 200

// ExportResult summarizes one export call.
type ExportResult struct {
	Exported int      `json:"exported"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Exporter pushes leads to a CRM. Consumed through this contract only; the
// CRM's internals are not this system's concern.
type Exporter interface {
	ExportLeads(ctx context.Context, leads []model.Lead) (*ExportResult, error)
}

// inserter is the slice of go-salesforce the exporter needs; tests provide
// a fake.
type inserter interface {
	InsertCollection(sObjectName string, records any, batchSize int) (salesforce.SalesforceResults, error)
}

// Option configures the Salesforce exporter.
type Option func(*sfExporter)

// WithRateLimit sets a per-second rate limit for SF API calls.
func WithRateLimit(rps float64) Option {
	return func(e *sfExporter) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// sfExporter implements Exporter against the Salesforce collections API.
type sfExporter struct {
	sf      inserter
	limiter *rate.Limiter
}

// NewSalesforce creates an Exporter wrapping the given go-salesforce instance.
func NewSalesforce(sf *salesforce.Salesforce, opts ...Option) Exporter {
	e := &sfExporter{sf: sf}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *sfExporter) ExportLeads(ctx context.Context, leads []model.Lead) (*ExportResult, error) {
	if len(leads) == 0 {
		return &ExportResult{}, nil
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "crm: rate limit")
		}
	}

	records := make([]map[string]any, len(leads))
	for i, l := range leads {
		records[i] = leadRecord(l)
	}

	results, err := e.sf.InsertCollection("Lead", records, maxBatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "crm: insert lead collection")
	}

	out := &ExportResult{}
	for _, r := range results.Results {
		if r.Success {
			out.Exported++
			continue
		}
		out.Failed++
		for _, msg := range r.Errors {
			out.Errors = append(out.Errors, msg.Message)
		}
	}
	return out, nil
}

// leadRecord maps a lead row onto standard SF Lead fields.
func leadRecord(l model.Lead) map[string]any {
	rec := map[string]any{
		"FirstName": l.FirstName,
		"LastName":  l.LastName,
		"Email":     l.Email,
		"Company":   l.CompanyName,
	}
	if l.Title != "" {
		rec["Title"] = l.Title
	}
	if l.CompanyDomain != "" {
		rec["Website"] = l.CompanyDomain
	}
	if l.Draft != "" {
		rec["Description"] = l.Draft
	}
	if l.FitScore > 0 {
		rec["Rating"] = fmt.Sprintf("%.2f", l.FitScore)
	}
	return rec
}
