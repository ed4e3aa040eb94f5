package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AssistedClient calls an LLM chat-completion gateway for the matching and
// extraction tasks local heuristics cannot settle. Every method is
// best-effort: on any transport, timeout, or parse failure it returns an
// error the caller downgrades to "no answer" — assisted calls must never be
// fatal for a document.
type AssistedClient struct {
	apiURL  string
	apiKey  string
	model   string
	http    *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// AssistedConfig configures the client.
type AssistedConfig struct {
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewAssistedClient creates the client. Returns nil when no API URL is
// configured so callers can wire the absence of the capability directly.
func NewAssistedClient(cfg AssistedConfig, log zerolog.Logger) *AssistedClient {
	if cfg.APIURL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	return &AssistedClient{
		apiURL:  cfg.APIURL,
		apiKey:  cfg.APIKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log,
	}
}

// IdentifyVendor asks the model which ledger vendor issued the document.
// Returns "" when there is no confident answer.
func (c *AssistedClient) IdentifyVendor(ctx context.Context, text string, vendors []string) (string, error) {
	vendorJSON, _ := json.Marshal(vendors)
	prompt := fmt.Sprintf(`You are an expert at identifying company names in invoices and matching them to a supplier database.

TASK: Identify which supplier from the list issued this document. Ignore punctuation, word order, legal suffixes (Inc, LLC, Corp) and articles. Only match if confident.

DOCUMENT TEXT:
%s

SUPPLIER LIST:
%s

Return ONLY valid JSON: {"vendor": "Exact Name From Supplier List"} or {"vendor": null}`, clip(text), vendorJSON)

	var out struct {
		Vendor *string `json:"vendor"`
	}
	if err := c.complete(ctx, prompt, &out); err != nil {
		return "", err
	}
	if out.Vendor == nil {
		return "", nil
	}
	return strings.TrimSpace(*out.Vendor), nil
}

// ExtractAmounts asks the model for every billed amount in the document.
func (c *AssistedClient) ExtractAmounts(ctx context.Context, text string, expected float64) ([]float64, error) {
	prompt := fmt.Sprintf(`You are an expert at extracting billing amounts from invoice documents.

TASK: Extract every numeric amount (totals, line items, rates, fees) from this document. The expected billed amount is roughly %.2f; include any amount you find regardless.

DOCUMENT TEXT:
%s

Return ONLY valid JSON: {"amounts": [123.45, 678.90]}`, expected, clip(text))

	var out struct {
		Amounts []float64 `json:"amounts"`
	}
	if err := c.complete(ctx, prompt, &out); err != nil {
		return nil, err
	}
	return out.Amounts, nil
}

// ExtractDates asks the model for every date in the document, normalized to
// YYYY-MM-DD.
func (c *AssistedClient) ExtractDates(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf(`You are an expert at extracting dates from invoice documents.

TASK: Extract ALL dates from this document (invoice date, service dates, billing periods) and convert each to YYYY-MM-DD.

DOCUMENT TEXT:
%s

Return ONLY valid JSON: {"dates": ["2025-08-15"]}`, clip(text))

	var out struct {
		Dates []string `json:"dates"`
	}
	if err := c.complete(ctx, prompt, &out); err != nil {
		return nil, err
	}
	return out.Dates, nil
}

// ── transport ─────────────────────────────────────────────────────────────────

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Data    string `json:"data"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *AssistedClient) complete(ctx context.Context, prompt string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: 0.3,
		MaxTokens:   2000,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("assisted API call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read assisted API response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("assisted API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return fmt.Errorf("parse assisted API response: %w", err)
	}
	content := chat.Data
	if content == "" && len(chat.Choices) > 0 {
		content = chat.Choices[0].Message.Content
	}
	if content == "" {
		return fmt.Errorf("empty assisted API response")
	}

	return decodeModelJSON(content, out)
}

var fencedJSON = regexp.MustCompile("```(?:json)?\\s*(\\{[^`]+\\})\\s*```")

// decodeModelJSON parses a model answer that is either bare JSON or JSON
// inside a fenced code block.
func decodeModelJSON(content string, out any) error {
	content = strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		if err := json.Unmarshal([]byte(m[1]), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("model response is not valid JSON")
}

// clip bounds prompt size; invoices are short, anything beyond this is noise.
func clip(text string) string {
	const maxPromptText = 12000
	if len(text) > maxPromptText {
		return text[:maxPromptText]
	}
	return text
}
