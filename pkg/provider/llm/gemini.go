// Package llm contains LLM provider adapters. Each adapter performs one
// attempt and returns; rotation and retries belong to the dispatcher.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/provider"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiAdapter calls the Gemini API through the official SDK.
type GeminiAdapter struct {
	// newClient is swapped in tests.
	newClient func(ctx context.Context, apiKey string) (geminiModels, error)
}

// geminiModels is the slice of the SDK surface the adapter uses.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type sdkModels struct{ client *genai.Client }

func (s sdkModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return s.client.Models.GenerateContent(ctx, model, contents, cfg)
}

// NewGeminiAdapter creates the Gemini adapter.
func NewGeminiAdapter() *GeminiAdapter {
	return &GeminiAdapter{
		newClient: func(ctx context.Context, apiKey string) (geminiModels, error) {
			client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
			if err != nil {
				return nil, err
			}
			return sdkModels{client: client}, nil
		},
	}
}

// Invoke implements provider.Adapter.
func (a *GeminiAdapter) Invoke(ctx context.Context, cred config.ProviderCredential, req provider.Request) (*provider.Response, error) {
	models, err := a.newClient(ctx, cred.APIKey)
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindAuth, fmt.Errorf("creating client: %w", err))
	}

	model := cred.Model
	if model == "" {
		model = defaultGeminiModel
	}

	genCfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := models.GenerateContent(ctx, model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		return nil, classifyGeminiError(cred.Name, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, provider.NewCallError(cred.Name, provider.KindEmptyResponse, fmt.Errorf("empty completion"))
	}
	return &provider.Response{Text: text}, nil
}

func classifyGeminiError(name string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return provider.NewCallError(name, provider.KindRateLimited, err)
		case apiErr.Code == 401 || apiErr.Code == 403:
			return provider.NewCallError(name, provider.KindAuth, err)
		case apiErr.Code >= 500:
			return provider.NewCallError(name, provider.KindServerError, err)
		default:
			return provider.NewCallError(name, provider.KindProtocol, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewCallError(name, provider.KindTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return provider.NewCallError(name, provider.KindCancelled, err)
	}
	return provider.NewCallError(name, provider.KindServerError, err)
}
