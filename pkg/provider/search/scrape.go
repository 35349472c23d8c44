package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/provider"
)

const defaultScrapeEndpoint = "https://html.duckduckgo.com/html/"

const scrapeUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// ScrapeAdapter is the keyless last-resort search engine: it fetches the
// HTML results page of a DuckDuckGo-style endpoint and parses result links
// out of the DOM.
type ScrapeAdapter struct {
	httpClient *http.Client
}

// NewScrapeAdapter creates the adapter.
func NewScrapeAdapter() *ScrapeAdapter {
	return &ScrapeAdapter{httpClient: &http.Client{}}
}

// Invoke implements provider.Adapter.
func (a *ScrapeAdapter) Invoke(ctx context.Context, cred config.ProviderCredential, req provider.Request) (*provider.Response, error) {
	endpoint := cred.Endpoint
	if endpoint == "" {
		endpoint = defaultScrapeEndpoint
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		endpoint+"?"+url.Values{"q": {req.Query}}.Encode(), nil)
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindProtocol, err)
	}
	httpReq.Header.Set("User-Agent", scrapeUserAgent)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(cred.Name, err)
	}
	defer resp.Body.Close()

	if kind, bad := classifyStatus(resp.StatusCode); bad {
		return nil, provider.NewCallError(cred.Name, kind, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindServerError, err)
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindServerError, fmt.Errorf("parsing results page: %w", err))
	}

	results := extractResultLinks(doc, limit)
	if len(results) == 0 {
		return nil, provider.NewCallError(cred.Name, provider.KindEmptyResponse, fmt.Errorf("no result links found"))
	}
	return &provider.Response{Results: results}, nil
}

// extractResultLinks walks the DOM collecting anchors that look like
// organic result links (class contains "result", http(s) href, non-empty
// anchor text).
func extractResultLinks(doc *html.Node, limit int) []provider.SearchResult {
	var results []provider.SearchResult
	seen := make(map[string]bool)

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			href, class := attrs(n)
			if strings.Contains(class, "result") && strings.HasPrefix(href, "http") && !seen[href] {
				title := strings.TrimSpace(nodeText(n))
				if title != "" {
					seen[href] = true
					results = append(results, provider.SearchResult{
						Title:  title,
						URL:    cleanRedirect(href),
						Source: "scrape",
					})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return results
}

func attrs(n *html.Node) (href, class string) {
	for _, a := range n.Attr {
		switch a.Key {
		case "href":
			href = a.Val
		case "class":
			class = a.Val
		}
	}
	return href, class
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// cleanRedirect unwraps engine redirect URLs (uddg-style) to the target.
func cleanRedirect(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	return raw
}
