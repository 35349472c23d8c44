package provider

import (
	"context"

	"github.com/insightlabs/marketscope/pkg/config"
)

// Request is the class-specific call payload. LLM calls use Prompt and
// MaxTokens; search and social calls use Query and Limit; extractor calls
// use URL.
type Request struct {
	Prompt    string
	System    string
	MaxTokens int

	Query string
	Limit int

	URL string
}

// SearchResult is one hit from a search or social provider.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Response is the class-specific call result. LLM and extractor calls fill
// Text; search and social calls fill Results.
type Response struct {
	Provider string
	Text     string
	Results  []SearchResult
}

// Adapter performs exactly one attempt against one provider. Adapters never
// retry or sleep; rotation and backoff live in the dispatcher. Failures are
// reported as *CallError so the dispatcher can classify them.
type Adapter interface {
	Invoke(ctx context.Context, cred config.ProviderCredential, req Request) (*Response, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, cred config.ProviderCredential, req Request) (*Response, error)

// Invoke implements Adapter.
func (f AdapterFunc) Invoke(ctx context.Context, cred config.ProviderCredential, req Request) (*Response, error) {
	return f(ctx, cred, req)
}
