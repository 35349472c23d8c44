package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// DOMTextStrategy fetches the page and extracts readable text from the
// parsed DOM, preferring content containers and skipping script/style/nav
// chrome.
type DOMTextStrategy struct {
	httpClient *http.Client
}

// NewDOMTextStrategy creates the strategy.
func NewDOMTextStrategy() *DOMTextStrategy {
	return &DOMTextStrategy{httpClient: &http.Client{}}
}

func (s *DOMTextStrategy) Name() string { return "dom_text" }

// Extract implements Strategy.
func (s *DOMTextStrategy) Extract(ctx context.Context, url string) (string, error) {
	body, err := fetchHTML(ctx, s.httpClient, url)
	if err != nil {
		return "", err
	}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	// Content containers first; fall back to the whole body text.
	if text := containerText(doc); len(text) >= MinValidChars {
		return text, nil
	}
	return documentText(doc), nil
}

var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"nav": true, "header": true, "footer": true, "aside": true,
}

var contentElements = map[string]bool{
	"article": true, "main": true,
}

// containerText returns the text of the largest article/main container.
func containerText(doc *html.Node) string {
	var best string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && contentElements[n.Data] {
			if text := collectText(n); len(text) > len(best) {
				best = text
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return best
}

// documentText returns all readable text in the document.
func documentText(doc *html.Node) string {
	return collectText(doc)
}

func collectText(root *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				sb.WriteString(trimmed)
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.TrimSpace(sb.String())
}

func fetchHTML(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", extractUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
