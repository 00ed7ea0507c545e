// Package draft generates outreach message drafts for accepted leads.
package draft

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Request describes the contact an outreach draft is written for.
type Request struct {
	FirstName      string
	LastName       string
	Title          string
	CompanyName    string
	CompanyProfile string
}

// Drafter produces one outreach draft per request. Implementations must be
// safe for concurrent use.
type Drafter interface {
	Draft(ctx context.Context, req Request) (string, error)
}

// Config holds model settings for the Anthropic-backed drafter.
type Config struct {
	Model     string
	MaxTokens int64
}

const systemPrompt = `You write short, specific B2B outreach emails. ` +
	`Two or three sentences, no subject line, no placeholders, no sign-off. ` +
	`Reference what the recipient's company does when context is provided.`

// anthropicDrafter implements Drafter using the official anthropic-sdk-go.
type anthropicDrafter struct {
	client sdk.Client
	cfg    Config
}

// NewAnthropic creates a Drafter backed by the Anthropic Messages API.
func NewAnthropic(apiKey string, cfg Config, opts ...option.RequestOption) Drafter {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &anthropicDrafter{
		client: sdk.NewClient(opts...),
		cfg:    cfg,
	}
}

func (d *anthropicDrafter) Draft(ctx context.Context, req Request) (string, error) {
	msg, err := d.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(d.cfg.Model),
		MaxTokens: d.cfg.MaxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(req))),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "draft: create message")
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", eris.New("draft: empty response")
	}
	return text, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft an outreach email to %s %s", req.FirstName, req.LastName)
	if req.Title != "" {
		fmt.Fprintf(&b, ", %s", req.Title)
	}
	if req.CompanyName != "" {
		fmt.Fprintf(&b, " at %s", req.CompanyName)
	}
	b.WriteString(".")
	if req.CompanyProfile != "" {
		fmt.Fprintf(&b, "\n\nAbout the company: %s", req.CompanyProfile)
	}
	return b.String()
}
