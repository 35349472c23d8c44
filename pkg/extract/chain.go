// Package extract implements the ordered content-extraction chain for URLs.
// Strategies run in a fixed order; the first one producing at least
// MinValidChars of text wins. A failing strategy never aborts the chain.
package extract

import (
	"context"
	"log/slog"
	"time"
)

// MinValidChars is the minimum extracted length considered a valid result.
const MinValidChars = 100

// maxExtractChars caps stored extraction output.
const maxExtractChars = 10000

// Strategy is one way of turning a URL into text.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, url string) (string, error)
}

// Chain runs strategies in order with a per-strategy timeout.
type Chain struct {
	strategies []Strategy
	timeout    time.Duration
}

// NewChain builds a chain. Strategies run in the given order.
func NewChain(timeout time.Duration, strategies ...Strategy) *Chain {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Chain{strategies: strategies, timeout: timeout}
}

// Extract tries each strategy until one yields valid content. Returns
// ("", false) when every strategy failed or produced too little text.
func (c *Chain) Extract(ctx context.Context, url string) (string, bool) {
	log := slog.With("url", url)

	for _, strategy := range c.strategies {
		if ctx.Err() != nil {
			return "", false
		}

		strategyCtx, cancel := context.WithTimeout(ctx, c.timeout)
		content, err := strategy.Extract(strategyCtx, url)
		cancel()

		if err != nil {
			log.Debug("Extraction strategy failed", "strategy", strategy.Name(), "error", err)
			continue
		}
		if len(content) < MinValidChars {
			log.Debug("Extraction strategy returned too little content",
				"strategy", strategy.Name(), "chars", len(content))
			continue
		}

		if len(content) > maxExtractChars {
			content = content[:maxExtractChars]
		}
		log.Debug("Extraction succeeded", "strategy", strategy.Name(), "chars", len(content))
		return content, true
	}
	return "", false
}

// Strategies returns the configured strategy names in order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}
