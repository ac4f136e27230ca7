package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/groupe-vauban/sirene-cli/internal/model"
	"github.com/groupe-vauban/sirene-cli/pkg/anthropic"
)

const remoteMaxTokens = 1024

// New returns a fresh oracle instance for one worker: Claude-backed
// when an API key is configured, offline otherwise. Memoization lives
// in the instance, so instances must not be shared across workers.
func New(apiKey, modelID string, timeout time.Duration) Oracle {
	if apiKey == "" {
		return NewOffline()
	}
	return NewRemote(anthropic.NewClient(apiKey), modelID, timeout)
}

// Remote is the Claude-backed oracle. Every call has a per-call
// timeout and degrades to the offline heuristic on any error; the
// degradation is per row, not for the remainder of the run.
type Remote struct {
	client  anthropic.Client
	model   string
	timeout time.Duration

	fallback      *Offline
	cleanMemo     map[string]model.CleanedSupplier
	arbitrateMemo map[string]Choice
}

// NewRemote creates a remote oracle around an Anthropic client.
func NewRemote(client anthropic.Client, modelID string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Remote{
		client:        client,
		model:         modelID,
		timeout:       timeout,
		fallback:      NewOffline(),
		cleanMemo:     make(map[string]model.CleanedSupplier),
		arbitrateMemo: make(map[string]Choice),
	}
}

const cleanSystemPrompt = `You are a French business data cleaning expert.
Clean and correct supplier records. Fix spelling errors in company names.
Always answer with a single JSON object and nothing else.`

// Clean asks the model for a cleaned supplier, enforcing the offline
// postconditions on the reply, and falls back to the heuristic when the
// call or the reply fails.
func (r *Remote) Clean(ctx context.Context, raw model.Raw) (model.CleanedSupplier, error) {
	key := cleanKey(raw)
	if c, ok := r.cleanMemo[key]; ok {
		return c, nil
	}

	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return r.degradeClean(ctx, raw, key, err)
	}

	prompt := fmt.Sprintf(`Return JSON with keys: clean_name, search_token, clean_cp, clean_city.

Instructions:
- clean_name: CORRECT spelling errors (e.g. 'Goggle' -> 'GOOGLE', 'Carfour' -> 'CARREFOUR'), convert to UPPERCASE and remove legal suffixes (SAS, SARL, EURL, SA, ...)
- search_token: the most distinctive brand token of clean_name (e.g. 'CARREFOUR' from 'CARREFOUR MARKET')
- clean_cp: the normalized 5-digit postal code, or null if invalid/missing
- clean_city: the corrected city name in UPPERCASE, or null if missing

Input: %s`, rawJSON)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: remoteMaxTokens,
		System:    cleanSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return r.degradeClean(ctx, raw, key, err)
	}

	var out struct {
		CleanName   string `json:"clean_name"`
		SearchToken string `json:"search_token"`
		CleanCP     string `json:"clean_cp"`
		CleanCity   string `json:"clean_city"`
	}
	if err := anthropic.ExtractJSON(resp.Text, &out); err != nil {
		return r.degradeClean(ctx, raw, key, err)
	}

	c := model.CleanedSupplier{
		CleanName:   NormalizeUpper(out.CleanName),
		SearchToken: NormalizeUpper(out.SearchToken),
		CleanPostal: ExtractPostal(out.CleanCP),
	}
	if out.CleanCity != "" {
		c.CleanCity = NormalizeUpper(out.CleanCity)
	}
	if c.CleanName == "" || c.SearchToken == "" {
		return r.degradeClean(ctx, raw, key, fmt.Errorf("empty clean_name or search_token"))
	}

	r.cleanMemo[key] = c
	return c, nil
}

func (r *Remote) degradeClean(ctx context.Context, raw model.Raw, key string, cause error) (model.CleanedSupplier, error) {
	zap.L().Warn("remote oracle clean failed, degrading to offline heuristic", zap.Error(cause))
	c, err := r.fallback.Clean(ctx, raw)
	if err != nil {
		return model.CleanedSupplier{}, err
	}
	r.cleanMemo[key] = c
	return c, nil
}

// Arbitrate asks the model to choose between two candidates; on any
// failure the offline rule decides.
func (r *Remote) Arbitrate(ctx context.Context, question string, a, b model.Establishment) (Choice, error) {
	key := arbitrateKey(question, a, b)
	if c, ok := r.arbitrateMemo[key]; ok {
		return c, nil
	}

	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	prompt := fmt.Sprintf(`You must choose A or B. Return JSON: {"choice": "A"} or {"choice": "B"}.
Question: %s
A: %s
B: %s
Return ONLY the JSON object.`, question, aJSON, bJSON)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: 64,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return r.degradeArbitrate(ctx, question, a, b, key, err)
	}

	var out struct {
		Choice string `json:"choice"`
	}
	if err := anthropic.ExtractJSON(resp.Text, &out); err != nil {
		return r.degradeArbitrate(ctx, question, a, b, key, err)
	}

	choice := ChoiceA
	if NormalizeUpper(out.Choice) == string(ChoiceB) {
		choice = ChoiceB
	}
	r.arbitrateMemo[key] = choice
	return choice, nil
}

func (r *Remote) degradeArbitrate(ctx context.Context, question string, a, b model.Establishment, key string, cause error) (Choice, error) {
	zap.L().Warn("remote oracle arbitrate failed, degrading to offline heuristic", zap.Error(cause))
	c, err := r.fallback.Arbitrate(ctx, question, a, b)
	if err != nil {
		return ChoiceA, err
	}
	r.arbitrateMemo[key] = c
	return c, nil
}
