package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// TextExtractor converts document bytes to text. The heavy lifting (PDF
// parsing, OCR) lives in an external service; the engine only consumes the
// result.
type TextExtractor interface {
	ExtractText(ctx context.Context, filename string, content []byte) (string, error)
}

// HTTPExtractor posts document bytes to an extraction service and returns
// the plain-text body of the response.
type HTTPExtractor struct {
	baseURL string
	http    *http.Client
}

// NewHTTPExtractor creates an extractor client.
func NewHTTPExtractor(baseURL string) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *HTTPExtractor) ExtractText(ctx context.Context, filename string, content []byte) (string, error) {
	endpoint := e.baseURL + "/extract?filename=" + url.QueryEscape(filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("extraction service call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read extraction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("extraction service status %d", resp.StatusCode)
	}
	return string(body), nil
}

// PlainTextExtractor treats the document bytes as UTF-8 text. Used by the
// one-shot CLI and as a fallback when no extraction service is configured;
// it refuses binary content rather than producing garbage.
type PlainTextExtractor struct{}

func (PlainTextExtractor) ExtractText(ctx context.Context, filename string, content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", fmt.Errorf("document %s is not plain text and no extraction service is configured", filename)
	}
	return string(content), nil
}
