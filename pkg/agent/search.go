package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WebResult is one hit from the web-search provider.
type WebResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ChartResult is one hit from the chart-search provider.
type ChartResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// WebSearcher is the web evidence provider.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]WebResult, error)
}

// ChartProvider is the chart evidence provider plus the dependent render
// fetch for embeddable fragments.
type ChartProvider interface {
	Search(ctx context.Context, query string) ([]ChartResult, error)
	Render(ctx context.Context, id string) (string, error)
}

// FanoutConfig bounds the retrieval fan-out.
type FanoutConfig struct {
	// SearchTimeout applies per provider call.
	SearchTimeout time.Duration
	// RenderTimeout applies per chart render fetch; shorter than
	// SearchTimeout by default.
	RenderTimeout time.Duration
	// Concurrency caps simultaneous provider calls. 0 means unbounded.
	Concurrency int
	// MaxResources caps the total resource count per state. 0 means no cap.
	MaxResources int
}

func (c FanoutConfig) withDefaults() FanoutConfig {
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 30 * time.Second
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 10 * time.Second
	}
	return c
}

// FanoutNode runs every data question against both evidence providers
// concurrently, merges the results deterministically, and selects the most
// relevant web items with one extra model round trip.
type FanoutNode struct {
	Web    WebSearcher
	Charts ChartProvider
	// Model drives the best-web-items selection step. Optional: when nil,
	// all web results are kept.
	Model  ModelClient
	Config FanoutConfig
	Logger *slog.Logger
}

type pairResult struct {
	web      []WebResult
	webErr   error
	charts   []ChartResult
	chartErr error
}

// Run executes the fan-out for the current data questions. Intermediate
// progress (the initial search log list, per-question done flips) is
// committed through emit so the UI sees it before the final delta lands;
// emit is called only from this goroutine, never from the per-question
// workers. An error from emit is a reducer contract violation and is
// returned as fatal. Provider failures never are: they degrade into empty
// results plus log entries.
func (n *FanoutNode) Run(ctx context.Context, s State, emit func(Delta) error) (Delta, error) {
	if emit == nil {
		emit = func(Delta) error { return nil }
	}
	logger := n.logger()
	cfg := n.Config.withDefaults()

	questions := s.DataQuestions
	if len(questions) == 0 {
		return Delta{}, nil
	}

	// Register the full progress list before any network call.
	logBase := len(s.Logs)
	initial := Delta{Logs: make([]LogEntry, 0, len(questions))}
	for _, q := range questions {
		initial.Logs = append(initial.Logs, LogEntry{Message: "Search for " + q})
	}
	if err := emit(initial); err != nil {
		return Delta{}, err
	}
	nextLog := logBase + len(questions)

	var sem chan struct{}
	if cfg.Concurrency > 0 {
		sem = make(chan struct{}, cfg.Concurrency)
	}
	acquire := func() {
		if sem != nil {
			sem <- struct{}{}
		}
	}
	release := func() {
		if sem != nil {
			<-sem
		}
	}

	results := make([]pairResult, len(questions))
	completed := make(chan int, len(questions))

	for i, q := range questions {
		go func(i int, q string) {
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				acquire()
				defer release()
				results[i].charts, results[i].chartErr = n.chartSearch(ctx, cfg, q)
			}()
			go func() {
				defer wg.Done()
				acquire()
				defer release()
				results[i].web, results[i].webErr = n.webSearch(ctx, cfg, q)
			}()
			wg.Wait()
			completed <- i
		}(i, q)
	}

	// Flip done flags in arrival order, matched by stored index.
	for range questions {
		i := <-completed
		flip := Delta{DoneIndexes: []int{logBase + i}}
		if results[i].webErr != nil {
			logger.Warn("Web search failed", "question", questions[i], "error", results[i].webErr)
			flip.Logs = append(flip.Logs, LogEntry{
				Message: fmt.Sprintf("Web search failed for %q: %v", questions[i], results[i].webErr),
				Done:    true,
			})
			nextLog++
		}
		if results[i].chartErr != nil {
			logger.Warn("Chart search failed", "question", questions[i], "error", results[i].chartErr)
			flip.Logs = append(flip.Logs, LogEntry{
				Message: fmt.Sprintf("Chart search failed for %q: %v", questions[i], results[i].chartErr),
				Done:    true,
			})
			nextLog++
		}
		if err := emit(flip); err != nil {
			return Delta{}, err
		}
	}

	// Rebuild in input-question order for deterministic resource ordering,
	// deduplicating against prior evidence by identity key and, for charts,
	// case-insensitively by title within the pass.
	seen := make(map[string]bool, len(s.Resources))
	chartTitles := make(map[string]bool)
	for _, r := range s.Resources {
		seen[r.IdentityKey()] = true
		if r.Kind == ResourceChart {
			chartTitles[strings.ToLower(r.Title)] = true
		}
	}

	var candidates []Resource
	webCount := 0
	for i := range questions {
		for _, c := range results[i].charts {
			key := (Resource{Kind: ResourceChart, CardID: c.ID}).IdentityKey()
			titleKey := strings.ToLower(c.Title)
			if key == "" || seen[key] || (titleKey != "" && chartTitles[titleKey]) {
				continue
			}
			seen[key] = true
			chartTitles[titleKey] = true
			candidates = append(candidates, Resource{
				URL:         c.URL,
				Kind:        ResourceChart,
				Title:       c.Title,
				Description: c.Description,
				Source:      "Charts",
				CardID:      c.ID,
			})
		}
		for _, w := range results[i].web {
			if w.URL == "" || seen[w.URL] {
				continue
			}
			seen[w.URL] = true
			webCount++
			candidates = append(candidates, Resource{
				URL:         w.URL,
				Kind:        ResourceWeb,
				Title:       w.Title,
				Description: w.Description,
				Source:      "Web Search",
			})
		}
	}

	final := Delta{}

	// Dependent render fetch per chart. A failed render keeps the chart's
	// metadata; only the fragment stays empty.
	for i := range candidates {
		if candidates[i].Kind != ResourceChart {
			continue
		}
		html, err := n.render(ctx, cfg, candidates[i].CardID)
		if err != nil {
			logger.Warn("Chart render failed", "chart", candidates[i].Title, "error", err)
			final.Logs = append(final.Logs, LogEntry{
				Message: fmt.Sprintf("Chart render failed for %q, keeping metadata only", candidates[i].Title),
				Done:    true,
			})
			continue
		}
		candidates[i].EmbedHTML = html
	}

	// Select the most relevant web items. Charts are kept unfiltered; they
	// arrive pre-scored by the provider. Any failure degrades to keep-all.
	if webCount > 0 && n.Model != nil {
		if err := emit(Delta{Logs: []LogEntry{{Message: "Selecting most relevant resources..."}}}); err != nil {
			return Delta{}, err
		}
		selected, err := n.selectWebResources(ctx, s, candidates)
		if err != nil {
			logger.Warn("Resource selection failed, keeping all web results", "error", err)
			final.Logs = append(final.Logs, LogEntry{Message: "Resource selection failed, keeping all web results", Done: true})
		} else {
			kept := candidates[:0]
			for _, r := range candidates {
				if r.Kind == ResourceChart || selected[r.URL] {
					kept = append(kept, r)
				}
			}
			candidates = kept
		}
		final.DoneIndexes = append(final.DoneIndexes, nextLog)
		nextLog++
	}

	if cfg.MaxResources > 0 {
		remaining := cfg.MaxResources - len(s.Resources)
		if remaining < 0 {
			remaining = 0
		}
		if len(candidates) > remaining {
			logger.Info("Resource cap reached", "cap", cfg.MaxResources, "dropped", len(candidates)-remaining)
			candidates = candidates[:remaining]
		}
	}

	final.Resources = candidates
	final.Messages = []Message{toolResult(
		pendingDataQuestionsCall(s),
		fmt.Sprintf("Search completed. %d new resources gathered; %d total available.",
			len(candidates), len(s.Resources)+len(candidates)),
	)}
	logger.Info("Retrieval fan-out finished", "questions", len(questions), "new_resources", len(candidates))
	return final, nil
}

func (n *FanoutNode) webSearch(ctx context.Context, cfg FanoutConfig, query string) ([]WebResult, error) {
	if n.Web == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.SearchTimeout)
	defer cancel()
	return n.Web.Search(ctx, query)
}

func (n *FanoutNode) chartSearch(ctx context.Context, cfg FanoutConfig, query string) ([]ChartResult, error) {
	if n.Charts == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.SearchTimeout)
	defer cancel()
	return n.Charts.Search(ctx, query)
}

func (n *FanoutNode) render(ctx context.Context, cfg FanoutConfig, id string) (string, error) {
	if n.Charts == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.RenderTimeout)
	defer cancel()
	return n.Charts.Render(ctx, id)
}

// selectWebResources asks the model to pick the 3-5 most relevant web items
// out of this pass's candidates. Returns the set of selected URLs.
func (n *FanoutNode) selectWebResources(ctx context.Context, s State, candidates []Resource) (map[string]bool, error) {
	var b strings.Builder
	b.WriteString("Search results:\n")
	for _, r := range candidates {
		b.WriteString(fmt.Sprintf("- [%s] %s (%s): %s\n", r.Kind, r.Title, r.URL, r.Description))
	}

	messages := append([]Message{{
		Role: RoleSystem,
		Content: "Extract the 3-5 most relevant web resources from the search results below. " +
			"Chart visualizations are handled separately; only select web resources.",
	}}, s.Messages...)
	messages = append(messages, Message{ID: uuid.NewString(), Role: RoleUser, Content: b.String()})

	ctx, cancel := context.WithTimeout(ctx, defaultModelTimeout)
	defer cancel()
	reply, err := n.Model.Invoke(ctx, messages, []ToolSpec{ExtractResourcesTool()})
	if err != nil {
		return nil, err
	}

	for _, call := range reply.ToolCalls {
		if call.Name != ToolExtractResources {
			continue
		}
		items, _ := call.Args["resources"].([]any)
		if len(items) == 0 {
			return nil, fmt.Errorf("extraction returned no resources")
		}
		selected := make(map[string]bool, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				if url, _ := m["url"].(string); url != "" {
					selected[url] = true
				}
			}
		}
		return selected, nil
	}
	return nil, fmt.Errorf("extraction reply carried no %s call", ToolExtractResources)
}

// pendingDataQuestionsCall finds the tool-call id of the most recent
// GenerateDataQuestions call that has not been answered yet, so the search
// outcome can be attached as its tool result.
func pendingDataQuestionsCall(s State) string {
	answered := make(map[string]bool)
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role == RoleTool && m.ToolCallID != "" {
			answered[m.ToolCallID] = true
			continue
		}
		if m.Role != RoleAssistant {
			continue
		}
		for _, call := range m.ToolCalls {
			if call.Name == ToolGenerateDataQuestions && !answered[call.ID] {
				return call.ID
			}
		}
	}
	return ""
}

func (n *FanoutNode) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}
