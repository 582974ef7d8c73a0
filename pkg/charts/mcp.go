// Package charts provides the chart evidence provider, an MCP client for a
// knowledge-search server that serves interactive data visualizations.
package charts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/research-canvas/pkg/agent"
)

const defaultSearchCount = 5

// Client implements agent.ChartProvider over an MCP session. The session is
// established lazily and re-established after a dropped connection.
type Client struct {
	serverURL string
	apiToken  string
	// dataURL is the human-facing host used to derive card and embed links
	// when the server omits them.
	dataURL string
	count   int
	logger  *slog.Logger

	mu      sync.Mutex
	session *mcp.ClientSession
}

type ClientOption func(*Client)

// WithSearchCount sets the result count per query.
func WithSearchCount(n int) ClientOption {
	return func(c *Client) { c.count = n }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a chart provider against the given MCP server. No network
// traffic happens until the first call.
func NewClient(serverURL, apiToken, dataURL string, opts ...ClientOption) (*Client, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("chart mcp server url is empty")
	}
	c := &Client{
		serverURL: serverURL,
		apiToken:  apiToken,
		dataURL:   dataURL,
		count:     defaultSearchCount,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "research-canvas", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, &mcp.SSEClientTransport{Endpoint: c.serverURL + "/sse"}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to chart mcp server: %w", err)
	}
	c.session = session
	c.logger.Info("Chart MCP session established", "server", c.serverURL)
	return session, nil
}

// dropSession forgets the current session so the next call reconnects.
func (c *Client) dropSession(s *mcp.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		c.session = nil
	}
	s.Close()
}

// Close terminates the MCP session if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

type knowledgeSearchResponse struct {
	Results []struct {
		ID          string `json:"id"`
		CardID      string `json:"card_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		OpenUIArgs  struct {
			PubID string `json:"pub_id"`
		} `json:"open_ui_args"`
	} `json:"results"`
}

// Search queries the knowledge base for chart cards matching the query.
func (c *Client) Search(ctx context.Context, query string) ([]agent.ChartResult, error) {
	res, err := c.callTool(ctx, "knowledge_search", map[string]any{
		"query":         query,
		"api_token":     c.apiToken,
		"count":         c.count,
		"search_effort": "fast",
		"country_code":  "US",
		"locale":        "en-US",
	})
	if err != nil {
		return nil, err
	}

	text := firstText(res)
	if text == "" {
		return nil, nil
	}
	var parsed knowledgeSearchResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("decoding knowledge_search result: %w", err)
	}

	out := make([]agent.ChartResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		id := r.OpenUIArgs.PubID
		if id == "" {
			id = r.CardID
		}
		if id == "" {
			id = r.ID
		}
		if id == "" {
			continue
		}
		url := r.URL
		if url == "" && c.dataURL != "" {
			url = c.dataURL + "/card/" + id
		}
		out = append(out, agent.ChartResult{
			ID:          id,
			Title:       r.Title,
			Description: r.Description,
			URL:         url,
		})
	}
	return out, nil
}

// Render fetches the embeddable iframe fragment for one chart card. When the
// server returns nothing usable it falls back to a plain embed-URL iframe.
func (c *Client) Render(ctx context.Context, id string) (string, error) {
	res, err := c.callTool(ctx, "open_chart_ui", map[string]any{
		"pub_id":    id,
		"dark_mode": true,
		"width":     900,
		"height":    600,
	})
	if err != nil {
		return "", err
	}

	for _, content := range res.Content {
		switch v := content.(type) {
		case *mcp.EmbeddedResource:
			if v.Resource != nil && v.Resource.Text != "" {
				return v.Resource.Text, nil
			}
		case *mcp.TextContent:
			if v.Text != "" {
				return v.Text, nil
			}
		}
	}

	if c.dataURL != "" {
		return fmt.Sprintf(
			`<iframe src="%s/embed/%s/?theme=dark" width="100%%" height="600" frameborder="0"></iframe>`,
			c.dataURL, id), nil
	}
	return "", fmt.Errorf("open_chart_ui returned no embeddable content for %s", id)
}

func (c *Client) callTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		// One reconnect attempt covers expired sessions.
		c.dropSession(session)
		session, cerr := c.connect(ctx)
		if cerr != nil {
			return nil, fmt.Errorf("calling %s: %w", name, err)
		}
		res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			return nil, fmt.Errorf("calling %s: %w", name, err)
		}
	}
	if res.IsError {
		return nil, fmt.Errorf("%s failed: %s", name, firstText(res))
	}
	return res, nil
}

func firstText(res *mcp.CallToolResult) string {
	for _, content := range res.Content {
		if t, ok := content.(*mcp.TextContent); ok {
			return t.Text
		}
	}
	return ""
}
