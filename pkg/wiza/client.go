// Package wiza provides a client for the Wiza contact-scraping API.
// Jobs are asynchronous: submit a target list, poll for a terminal state,
// then fetch the result set.
package wiza

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Default base URL for the Wiza API.
const defaultBaseURL = "https://wiza.co/api/v1"

// Job states reported by GetJobStatus.
const (
	StateSubmitted = "submitted"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateAborted   = "aborted"
)

// Client defines the Wiza API operations.
type Client interface {
	SubmitJob(ctx context.Context, req JobRequest) (*JobResponse, error)
	GetJobStatus(ctx context.Context, jobID string) (*JobStatusResponse, error)
	GetJobResults(ctx context.Context, resultHandle string) ([]ContactRecord, error)
}

// JobRequest is the body for POST /jobs.
type JobRequest struct {
	Companies []string      `json:"companies"`
	Filters   FilterPayload `json:"filters,omitempty"`
}

// FilterPayload narrows which contacts a job returns.
type FilterPayload struct {
	JobTitles   []string `json:"job_titles,omitempty"`
	Seniorities []string `json:"seniorities,omitempty"`
	Locations   []string `json:"locations,omitempty"`
	MaxProfiles int      `json:"max_profiles,omitempty"`
}

// JobResponse is the response from POST /jobs.
type JobResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
}

// JobStatusResponse is the response from GET /jobs/{id}.
type JobStatusResponse struct {
	Status       string `json:"status"`
	ResultHandle string `json:"result_handle,omitempty"`
	FailureCode  string `json:"failure_code,omitempty"`
}

// jobResultsResponse is the response from GET /results/{handle}.
type jobResultsResponse struct {
	Success  bool            `json:"success"`
	Total    int             `json:"total"`
	Contacts []ContactRecord `json:"contacts"`
}

// ContactRecord is one raw contact as reported by the provider. Field names
// are pinned to the provider's wire spellings here, at the adapter boundary,
// so a renamed upstream field breaks decoding visibly instead of silently
// producing empty values.
type ContactRecord struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	FullName      string `json:"full_name"`
	Email         string `json:"email"`
	Title         string `json:"title"`
	LinkedInURL   string `json:"linkedin_url"`
	CompanyName   string `json:"company_name"`
	CompanyDomain string `json:"company_domain"`
}

// APIError is returned when Wiza responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wiza: HTTP %d: %s", e.StatusCode, e.Body)
}

// JobFailedError is returned when the provider reports a job as failed or
// aborted. It is scoped to one acquire call; callers treat it as non-fatal
// to the surrounding run.
type JobFailedError struct {
	JobID       string
	Status      string
	FailureCode string
}

func (e *JobFailedError) Error() string {
	if e.FailureCode != "" {
		return fmt.Sprintf("wiza: job %s %s (%s)", e.JobID, e.Status, e.FailureCode)
	}
	return fmt.Sprintf("wiza: job %s %s", e.JobID, e.Status)
}

// PollTimeoutError is returned when the poll budget is exhausted without the
// job reaching a terminal state.
type PollTimeoutError struct {
	JobID    string
	Attempts int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("wiza: job %s not terminal after %d poll attempts", e.JobID, e.Attempts)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Wiza client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SubmitJob(ctx context.Context, req JobRequest) (*JobResponse, error) {
	var resp JobResponse
	if err := c.post(ctx, "/jobs", req, &resp); err != nil {
		return nil, eris.Wrap(err, "wiza: submit job")
	}
	return &resp, nil
}

func (c *httpClient) GetJobStatus(ctx context.Context, jobID string) (*JobStatusResponse, error) {
	var resp JobStatusResponse
	if err := c.get(ctx, fmt.Sprintf("/jobs/%s", jobID), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("wiza: get job status %s", jobID))
	}
	return &resp, nil
}

func (c *httpClient) GetJobResults(ctx context.Context, resultHandle string) ([]ContactRecord, error) {
	var resp jobResultsResponse
	if err := c.get(ctx, fmt.Sprintf("/results/%s", resultHandle), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("wiza: get job results %s", resultHandle))
	}
	return resp.Contacts, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
