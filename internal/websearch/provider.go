// Package websearch enriches foreign supplier rows that the national
// registry cannot resolve, by asking a model for the supplier's public
// contact details.
package websearch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/groupe-vauban/sirene-cli/internal/model"
	"github.com/groupe-vauban/sirene-cli/pkg/anthropic"
)

// Finding is one provider answer.
type Finding struct {
	Website      string  `json:"website"`
	Address      string  `json:"address"`
	Phone        string  `json:"phone"`
	Email        string  `json:"email"`
	Confidence   float64 `json:"confidence"`
	SearchMethod string  `json:"search_method"`
}

// Provider looks up one supplier's public details.
type Provider interface {
	Search(ctx context.Context, raw model.Raw) (Finding, error)
}

// NewProvider returns the Claude-backed provider, or a disabled one
// when no API key is configured. The disabled provider fails every
// row; the runner turns those into error records.
func NewProvider(apiKey, modelID string, timeout time.Duration) Provider {
	if apiKey == "" {
		return disabledProvider{}
	}
	return &claudeProvider{
		client:  anthropic.NewClient(apiKey),
		model:   modelID,
		timeout: timeout,
		memo:    make(map[string]Finding),
	}
}

type disabledProvider struct{}

func (disabledProvider) Search(context.Context, model.Raw) (Finding, error) {
	return Finding{}, eris.New("websearch: no API key configured")
}

// claudeProvider is shared by all search workers; the memo is guarded.
type claudeProvider struct {
	client  anthropic.Client
	model   string
	timeout time.Duration

	mu   sync.Mutex
	memo map[string]Finding
}

const searchSystemPrompt = `You are a business research assistant.
Given a company name and location, report its public website, address,
phone and email. Always answer with a single JSON object and nothing else.`

func (p *claudeProvider) Search(ctx context.Context, raw model.Raw) (Finding, error) {
	name := raw.String(model.ColName)
	city := raw.String(model.ColCity)
	country := raw.String(model.ColCountry)

	key := strings.ToUpper(name + "|" + city + "|" + country)
	p.mu.Lock()
	if f, ok := p.memo[key]; ok {
		p.mu.Unlock()
		return f, nil
	}
	p.mu.Unlock()

	prompt := fmt.Sprintf(`Find public contact details for this company.
Return JSON with keys: website, address, phone, email, confidence (0..1), search_method.
Use empty strings for unknown fields and "llm_knowledge" as search_method.

Company: %s
City: %s
Country: %s`, name, city, country)

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: 1024,
		System:    searchSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return Finding{}, eris.Wrap(err, "websearch: create message")
	}

	var f Finding
	if err := anthropic.ExtractJSON(resp.Text, &f); err != nil {
		return Finding{}, eris.Wrap(err, "websearch: parse reply")
	}
	if f.SearchMethod == "" {
		f.SearchMethod = "llm_knowledge"
	}
	if f.Confidence < 0 {
		f.Confidence = 0
	}
	if f.Confidence > 1 {
		f.Confidence = 1
	}

	p.mu.Lock()
	p.memo[key] = f
	p.mu.Unlock()
	return f, nil
}
