package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/provider"
)

// OpenAICompatAdapter calls any chat-completions endpoint that speaks the
// OpenAI wire format (OpenAI, Groq, DeepSeek, local gateways). The endpoint
// comes from the credential so one adapter covers the whole family.
type OpenAICompatAdapter struct {
	httpClient *http.Client
}

// NewOpenAICompatAdapter creates the adapter. Per-call deadlines come from
// the dispatcher's context; the client itself has no timeout.
func NewOpenAICompatAdapter() *OpenAICompatAdapter {
	return &OpenAICompatAdapter{
		httpClient: &http.Client{Timeout: 0},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke implements provider.Adapter.
func (a *OpenAICompatAdapter) Invoke(ctx context.Context, cred config.ProviderCredential, req provider.Request) (*provider.Response, error) {
	endpoint := cred.Endpoint
	if endpoint == "" {
		return nil, provider.NewCallError(cred.Name, provider.KindProtocol, fmt.Errorf("openai_compat credential has no endpoint"))
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:     cred.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindProtocol, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(cred.Name, err)
	}
	defer resp.Body.Close()

	if kind, bad := classifyHTTPStatus(resp.StatusCode); bad {
		return nil, provider.NewCallError(cred.Name, kind, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindServerError, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindServerError, fmt.Errorf("malformed response: %w", err))
	}
	if parsed.Error != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindServerError, fmt.Errorf("API error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, provider.NewCallError(cred.Name, provider.KindEmptyResponse, fmt.Errorf("no completion choices"))
	}

	return &provider.Response{Text: parsed.Choices[0].Message.Content}, nil
}

// classifyHTTPStatus maps a status code to an error kind; ok statuses
// return bad=false.
func classifyHTTPStatus(status int) (provider.ErrorKind, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusTooManyRequests:
		return provider.KindRateLimited, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return provider.KindAuth, true
	case status >= 500:
		return provider.KindServerError, true
	default:
		return provider.KindProtocol, true
	}
}

func classifyTransportError(name string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return provider.NewCallError(name, provider.KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return provider.NewCallError(name, provider.KindCancelled, err)
	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return provider.NewCallError(name, provider.KindTimeout, err)
		}
		return provider.NewCallError(name, provider.KindServerError, err)
	}
}
