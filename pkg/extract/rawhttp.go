package extract

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

// RawHTTPStrategy is the last-resort extractor: plain GET plus a crude tag
// strip. It produces noisy text but needs no services and no browser.
type RawHTTPStrategy struct {
	httpClient *http.Client
}

// NewRawHTTPStrategy creates the strategy.
func NewRawHTTPStrategy() *RawHTTPStrategy {
	return &RawHTTPStrategy{httpClient: &http.Client{}}
}

func (s *RawHTTPStrategy) Name() string { return "raw_http" }

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// Extract implements Strategy.
func (s *RawHTTPStrategy) Extract(ctx context.Context, url string) (string, error) {
	body, err := fetchHTML(ctx, s.httpClient, url)
	if err != nil {
		return "", err
	}

	text := scriptBlockRe.ReplaceAllString(body, " ")
	text = tagRe.ReplaceAllString(text, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), nil
}
