package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/models"
	"github.com/insightlabs/marketscope/pkg/provider"
)

// Invoker is the slice of the dispatcher the executors need. Satisfied by
// *provider.Dispatcher; tests substitute scripted fakes.
type Invoker interface {
	Invoke(ctx context.Context, class config.ProviderClass, req provider.Request) (*provider.Response, error)
}

// Extractor turns a URL into text, or reports that no strategy could.
// Satisfied by *extract.Chain.
type Extractor interface {
	Extract(ctx context.Context, url string) (string, bool)
}

// Pipeline builds the built-in component set over the shared provider
// layer. Executors are plain closures: they build prompts from the job and
// predecessor outputs and call the dispatcher or the extraction chain.
type Pipeline struct {
	invoker   Invoker
	extractor Extractor

	extractTopResults int
	parallelPrompts   int
	allowSynthetic    bool
}

// NewPipeline creates the pipeline factory.
func NewPipeline(invoker Invoker, extractor Extractor, engine *config.EngineConfig) *Pipeline {
	return &Pipeline{
		invoker:           invoker,
		extractor:         extractor,
		extractTopResults: engine.ExtractTopResults,
		parallelPrompts:   engine.ParallelPrompts,
		allowSynthetic:    engine.AllowSyntheticFallback,
	}
}

// RegisterAll registers the twelve analytical components with their
// dependency edges. web_search, avatar, and mental_drivers are required;
// everything else is best-effort.
func (p *Pipeline) RegisterAll(registry *ComponentRegistry) error {
	components := []Component{
		{
			Name:      "web_search",
			Required:  true,
			Executor:  p.webSearch,
			Validator: hasKey("results"),
		},
		{
			Name:         "social_analysis",
			Dependencies: []string{"web_search"},
			Executor:     p.socialAnalysis,
		},
		{
			Name:         "avatar",
			Dependencies: []string{"web_search", "social_analysis"},
			Required:     true,
			Executor: p.llmComponent("avatar",
				"Build a detailed customer avatar for this market: demographics, psychographics, pains, desires, objections, and buying triggers."),
		},
		{
			Name:         "mental_drivers",
			Dependencies: []string{"avatar"},
			Required:     true,
			Executor: p.llmComponent("mental_drivers",
				"Identify the dominant mental drivers for this avatar: emotional triggers, status dynamics, fears, and aspirations that move purchase decisions."),
		},
		{
			Name:         "future_predictions",
			Dependencies: []string{"avatar"},
			Executor: p.llmComponent("future_predictions",
				"Project how this market evolves over the next 3 years: demand shifts, emerging channels, pricing pressure, and positioning windows."),
		},
		{
			Name:         "competition",
			Dependencies: []string{"web_search"},
			Executor: p.llmComponent("competition",
				"Map the competitive landscape from the research: main players, their offers, pricing, weaknesses, and the gaps left open."),
		},
		{
			Name:         "visual_proofs",
			Dependencies: []string{"avatar", "mental_drivers"},
			Executor:     p.visualProofs,
		},
		{
			Name:         "anti_objection",
			Dependencies: []string{"mental_drivers"},
			Executor: p.llmComponent("anti_objection",
				"List the strongest purchase objections for this avatar and, for each, a concrete neutralization argument grounded in the drivers."),
		},
		{
			Name:         "pre_pitch",
			Dependencies: []string{"mental_drivers", "anti_objection"},
			Executor: p.llmComponent("pre_pitch",
				"Design the pre-pitch sequence: the beliefs to install before the offer, ordered, with the psychological lever each step pulls."),
		},
		{
			Name:         "sales_funnel",
			Dependencies: []string{"mental_drivers", "anti_objection"},
			Executor: p.llmComponent("sales_funnel",
				"Design a sales funnel for this offer: stages, conversion goals per stage, message per stage, and the metrics to watch."),
		},
		{
			Name:         "action_plan",
			Dependencies: []string{"mental_drivers", "future_predictions"},
			Executor: p.llmComponent("action_plan",
				"Produce a 90-day action plan: prioritized initiatives, owners, effort estimates, and expected impact, grounded in the analysis so far."),
		},
		{
			Name:         "positioning",
			Dependencies: []string{"competition", "avatar"},
			Executor: p.llmComponent("positioning",
				"Define the positioning statement: the unique mechanism, the enemy narrative, and the one-sentence promise that separates this offer from the mapped competitors."),
		},
	}

	for _, c := range components {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("registering %s: %w", c.Name, err)
		}
	}
	return nil
}

// webSearch queries the search class and harvests page text from the top
// results through the extraction chain.
func (p *Pipeline) webSearch(ctx context.Context, input Input) (any, error) {
	query := input.Job.SearchQuery()

	resp, err := p.invoker.Invoke(ctx, config.ClassSearch, provider.Request{Query: query, Limit: 10})
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]any{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Snippet,
			"source":  r.Source,
		})
	}

	extracted := p.extractTop(ctx, resp.Results)

	return map[string]any{
		"query":     query,
		"provider":  resp.Provider,
		"results":   results,
		"extracted": extracted,
		"total":     len(results),
	}, nil
}

// extractTop runs the first N result URLs through the extraction chain.
// Extraction failures are recorded, not fatal: the search results alone are
// still a usable artifact.
func (p *Pipeline) extractTop(ctx context.Context, results []provider.SearchResult) []any {
	limit := p.extractTopResults
	if limit > len(results) {
		limit = len(results)
	}

	extracted := make([]any, 0, limit)
	for _, r := range results[:limit] {
		if ctx.Err() != nil {
			break
		}
		text, ok := p.extractor.Extract(ctx, r.URL)
		entry := map[string]any{"url": r.URL, "ok": ok}
		if ok {
			entry["chars"] = len(text)
			entry["text"] = text
		}
		extracted = append(extracted, entry)
	}
	return extracted
}

// socialAnalysis queries the social class. With no configured provider the
// component errors explicitly; fabricated placeholder data is produced only
// when the synthetic-fallback policy is switched on.
func (p *Pipeline) socialAnalysis(ctx context.Context, input Input) (any, error) {
	query := input.Job.SearchQuery()

	resp, err := p.invoker.Invoke(ctx, config.ClassSocial, provider.Request{Query: query, Limit: 20})
	if err != nil {
		var exhausted *provider.ExhaustedError
		if p.allowSynthetic && errors.As(err, &exhausted) {
			return map[string]any{
				"synthetic": true,
				"query":     query,
				"platforms": map[string]any{},
				"note":      "no social provider available; placeholder produced by policy",
			}, nil
		}
		return nil, err
	}

	byPlatform := make(map[string][]any)
	for _, r := range resp.Results {
		platform := r.Source
		if platform == "" {
			platform = "unknown"
		}
		byPlatform[platform] = append(byPlatform[platform], map[string]any{
			"title": r.Title,
			"url":   r.URL,
			"text":  r.Snippet,
		})
	}

	platforms := make(map[string]any, len(byPlatform))
	for platform, posts := range byPlatform {
		platforms[platform] = posts
	}

	return map[string]any{
		"query":     query,
		"provider":  resp.Provider,
		"platforms": platforms,
		"total":     len(resp.Results),
	}, nil
}

// visualProofs fans several independent prompts out in parallel, bounded by
// the configured prompt concurrency.
func (p *Pipeline) visualProofs(ctx context.Context, input Input) (any, error) {
	angles := []string{
		"before/after transformations that make the promise tangible",
		"social proof formats (testimonials, numbers, authority markers) ranked by credibility for this avatar",
		"live demonstrations or experiments that prove the mechanism works",
	}

	proofs := make([]any, len(angles))
	g, gctx := errgroup.WithContext(ctx)
	if p.parallelPrompts > 0 {
		g.SetLimit(p.parallelPrompts)
	}

	for i, angle := range angles {
		g.Go(func() error {
			prompt := p.buildPrompt(input,
				"Propose visual proof concepts: "+angle+". Return concrete, producible ideas.")
			resp, err := p.invoker.Invoke(gctx, config.ClassLLM, provider.Request{Prompt: prompt})
			if err != nil {
				return err
			}
			proofs[i] = map[string]any{"angle": angle, "concepts": parseDocument(resp.Text)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return map[string]any{"proofs": proofs, "total": len(proofs)}, nil
}

// llmComponent builds a standard single-prompt LLM executor.
func (p *Pipeline) llmComponent(name, task string) Executor {
	return func(ctx context.Context, input Input) (any, error) {
		prompt := p.buildPrompt(input, task)
		resp, err := p.invoker.Invoke(ctx, config.ClassLLM, provider.Request{Prompt: prompt})
		if err != nil {
			return nil, err
		}
		return parseDocument(resp.Text), nil
	}
}

// promptContextChars caps how much predecessor output is quoted back into
// a prompt.
const promptContextChars = 4000

// buildPrompt assembles the component prompt: job description, predecessor
// context, then the task. Errored predecessors are mentioned, not quoted.
func (p *Pipeline) buildPrompt(input Input, task string) string {
	var sb strings.Builder

	sb.WriteString("You are a market analyst. Job under analysis:\n")
	if input.Job.Segment != "" {
		fmt.Fprintf(&sb, "- segment: %s\n", input.Job.Segment)
	}
	if input.Job.Product != "" {
		fmt.Fprintf(&sb, "- product: %s\n", input.Job.Product)
	}
	if input.Job.Audience != "" {
		fmt.Fprintf(&sb, "- audience: %s\n", input.Job.Audience)
	}
	if input.Job.Objectives != "" {
		fmt.Fprintf(&sb, "- objectives: %s\n", input.Job.Objectives)
	}
	if input.Job.Context != "" {
		fmt.Fprintf(&sb, "- context: %s\n", input.Job.Context)
	}

	// Stable iteration order keeps the prompt reproducible for a given job.
	names := make([]string, 0, len(input.Previous))
	for name := range input.Previous {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result := input.Previous[name]
		if !result.OK() {
			fmt.Fprintf(&sb, "\n(Upstream analysis %q failed: %s. Work with what is available.)\n", name, result.ErrorKind)
			continue
		}
		data, err := json.Marshal(result.Data)
		if err != nil {
			continue
		}
		quoted := truncateRunes(string(data), promptContextChars)
		fmt.Fprintf(&sb, "\nUpstream analysis %q:\n%s\n", name, quoted)
	}

	sb.WriteString("\nTask: ")
	sb.WriteString(task)
	sb.WriteString("\nAnswer with a single JSON object.")
	return sb.String()
}

// truncateRunes caps s at max bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// parseDocument interprets the model's reply as JSON when possible,
// unwrapping markdown fences; free text is kept under an "analysis" key.
func parseDocument(text string) map[string]any {
	trimmed := strings.TrimSpace(text)
	if fenced := strings.TrimPrefix(trimmed, "```json"); fenced != trimmed {
		trimmed = strings.TrimSuffix(strings.TrimSpace(fenced), "```")
	} else if fenced := strings.TrimPrefix(trimmed, "```"); fenced != trimmed {
		trimmed = strings.TrimSuffix(strings.TrimSpace(fenced), "```")
	}
	trimmed = strings.TrimSpace(trimmed)

	var doc map[string]any
	if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
		return doc
	}
	return map[string]any{"analysis": text}
}

// hasKey validates that an ok result document carries a given key.
func hasKey(key string) Validator {
	return func(result models.ComponentResult) bool {
		if result.Data == nil {
			return false
		}
		_, ok := result.Data[key]
		return ok
	}
}
