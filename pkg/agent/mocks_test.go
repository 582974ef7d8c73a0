package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// scriptedModel replays a fixed sequence of model replies.
type scriptedModel struct {
	mu    sync.Mutex
	turns []ModelReply
	errs  []error
	// repeatLast keeps returning the final turn once the script runs out,
	// for tests that need an assistant stuck in a loop.
	repeatLast bool
	calls      int
}

func (m *scriptedModel) Invoke(ctx context.Context, messages []Message, tools []ToolSpec) (ModelReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i >= len(m.turns) {
		if m.repeatLast && len(m.turns) > 0 {
			i = len(m.turns) - 1
		} else {
			return ModelReply{Content: "Anything else?"}, nil
		}
	}
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	return m.turns[i], err
}

// modelFunc adapts a function to the ModelClient interface.
type modelFunc func(ctx context.Context, messages []Message, tools []ToolSpec) (ModelReply, error)

func (f modelFunc) Invoke(ctx context.Context, messages []Message, tools []ToolSpec) (ModelReply, error) {
	return f(ctx, messages, tools)
}

// retrievalFunc adapts a function to the RetrievalNode interface.
type retrievalFunc func(ctx context.Context, s State, emit func(Delta) error) (Delta, error)

func (f retrievalFunc) Run(ctx context.Context, s State, emit func(Delta) error) (Delta, error) {
	return f(ctx, s, emit)
}

func call(name string, args map[string]any) ToolCall {
	return ToolCall{ID: "call-" + name, Name: name, Args: args}
}

// fakeWeb serves canned web results with optional per-query latency and
// failures.
type fakeWeb struct {
	results map[string][]WebResult
	errs    map[string]error
	delays  map[string]time.Duration
}

func (f *fakeWeb) Search(ctx context.Context, query string) ([]WebResult, error) {
	if d := f.delays[query]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return f.results[query], nil
}

// fakeCharts serves canned chart results and render fragments.
type fakeCharts struct {
	results    map[string][]ChartResult
	errs       map[string]error
	delays     map[string]time.Duration
	html       map[string]string
	renderErrs map[string]error
}

func (f *fakeCharts) Search(ctx context.Context, query string) ([]ChartResult, error) {
	if d := f.delays[query]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return f.results[query], nil
}

func (f *fakeCharts) Render(ctx context.Context, id string) (string, error) {
	if err := f.renderErrs[id]; err != nil {
		return "", err
	}
	if f.html == nil {
		return "<iframe src=\"https://charts.example/embed/" + id + "\"></iframe>", nil
	}
	return f.html[id], nil
}

// countingWeb tracks the peak number of simultaneous Search calls.
type countingWeb struct {
	inner    WebSearcher
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingWeb) Search(ctx context.Context, query string) ([]WebResult, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return c.inner.Search(ctx, query)
}
