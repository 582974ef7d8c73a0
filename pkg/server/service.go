package server

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/mikeboe/research-canvas/pkg/agent"
	"github.com/mikeboe/research-canvas/pkg/config"
	"github.com/mikeboe/research-canvas/pkg/database"
	"github.com/mikeboe/research-canvas/pkg/evidence"
)

type Service struct {
	DB  *database.PostgresDB
	Cfg *config.Config

	// Model drives the assistant, FastModel the auxiliary selection step.
	Model     agent.ModelClient
	FastModel agent.ModelClient
	Web       agent.WebSearcher
	Charts    agent.ChartProvider

	// Evidence is optional; when nil, archiving and evidence search are off.
	Evidence *evidence.Store
	// Client is optional and used for conversation title generation.
	Client *genai.Client

	Logger *slog.Logger
}

func NewService(db *database.PostgresDB, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{DB: db, Cfg: cfg, Logger: logger}
}

type Conversation struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StreamEvent is a single SSE frame during a research turn.
type StreamEvent struct {
	Type    string      `json:"type"` // "snapshot", "error", "done"
	Payload interface{} `json:"payload"`
}

func (s *Service) CreateConversation(ctx context.Context) (*Conversation, error) {
	id := uuid.New()
	query := `INSERT INTO conversations (id) VALUES ($1) RETURNING id, title, created_at, updated_at`

	conv := &Conversation{}
	err := s.DB.Pool.QueryRow(ctx, query, id).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context) ([]Conversation, error) {
	query := `SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// GetState loads a conversation's research state. A conversation that has
// never run a turn gets a zero state.
func (s *Service) GetState(ctx context.Context, conversationID uuid.UUID) (agent.State, error) {
	var raw []byte
	err := s.DB.Pool.QueryRow(ctx,
		`SELECT state FROM conversations WHERE id = $1`, conversationID).Scan(&raw)
	if err != nil {
		return agent.State{}, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	if len(raw) == 0 {
		return agent.State{}, nil
	}
	var state agent.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return agent.State{}, fmt.Errorf("failed to decode state for %s: %w", conversationID, err)
	}
	return state, nil
}

// RunTurn executes one research turn and streams post-merge state snapshots.
// The iterator must be fully consumed; persistence happens as part of it.
func (s *Service) RunTurn(ctx context.Context, conversationID uuid.UUID, content string) (iter.Seq2[StreamEvent, error], error) {
	initial, err := s.GetState(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return func(yield func(StreamEvent, error) bool) {
		s.Logger.Info("Starting research turn", "conversation_id", conversationID)

		stopped := false
		runner := &agent.Runner{
			Assistant: &agent.AssistantNode{Model: s.Model, Logger: s.Logger},
			Retrieval: &agent.FanoutNode{
				Web:    s.Web,
				Charts: s.Charts,
				Model:  s.FastModel,
				Config: agent.FanoutConfig{
					Concurrency:  s.Cfg.SearchConcurrency,
					MaxResources: s.Cfg.MaxResources,
				},
				Logger: s.Logger,
			},
			MaxSteps: s.Cfg.MaxSteps,
			Logger:   s.Logger,
			OnSnapshot: func(st agent.State) {
				if stopped {
					return
				}
				if !yield(StreamEvent{Type: "snapshot", Payload: st}, nil) {
					stopped = true
				}
			},
		}

		final, runErr := runner.Run(ctx, initial, content)

		// Persist whatever we have, including the last good state of a
		// failed run.
		if err := s.persistState(ctx, conversationID, initial, final); err != nil {
			s.Logger.Error("Failed to persist state", "conversation_id", conversationID, "error", err)
			if runErr == nil {
				runErr = err
			}
		}

		if runErr != nil {
			yield(StreamEvent{Type: "error", Payload: runErr.Error()}, runErr)
			return
		}
		if stopped {
			return
		}
		yield(StreamEvent{Type: "done", Payload: "done"}, nil)

		if s.Evidence != nil && len(final.Resources) > len(initial.Resources) {
			go s.archiveEvidence(conversationID, final.Resources[len(initial.Resources):])
		}
		if s.Client != nil && len(initial.Messages) == 0 {
			go s.generateTitle(conversationID, content, final)
		}
	}, nil
}

// persistState writes the state JSONB plus the denormalized message,
// resource, and run-log rows.
func (s *Service) persistState(ctx context.Context, conversationID uuid.UUID, before, after agent.State) error {
	stateJSON, err := json.Marshal(after)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if _, err := s.DB.Pool.Exec(ctx,
		`UPDATE conversations SET state = $2, updated_at = NOW() WHERE id = $1`,
		conversationID, stateJSON); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	for _, m := range after.Messages[len(before.Messages):] {
		var toolCalls []byte
		if len(m.ToolCalls) > 0 {
			toolCalls, err = json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to marshal tool calls: %w", err)
			}
		}
		if _, err := s.DB.Pool.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			m.ID, conversationID, m.Role, m.Content, toolCalls, m.ToolCallID); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	for _, r := range after.Resources[len(before.Resources):] {
		if _, err := s.DB.Pool.Exec(ctx,
			`INSERT INTO resources (conversation_id, url, kind, title, description, source, card_id, embed_html)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (conversation_id, url) DO NOTHING`,
			conversationID, r.URL, r.Kind, r.Title, r.Description, r.Source, r.CardID, r.EmbedHTML); err != nil {
			return fmt.Errorf("failed to save resource: %w", err)
		}
	}

	if err := NewRunLogStore(s.DB).Replace(ctx, conversationID, after.Logs); err != nil {
		return err
	}
	return nil
}

func (s *Service) archiveEvidence(conversationID uuid.UUID, resources []agent.Resource) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.Evidence.Archive(ctx, conversationID.String(), resources); err != nil {
		s.Logger.Error("Failed to archive evidence", "conversation_id", conversationID, "error", err)
	}
}

func (s *Service) generateTitle(convID uuid.UUID, userMsg string, final agent.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summary := final.ResearchQuestion
	if summary == "" {
		for i := len(final.Messages) - 1; i >= 0; i-- {
			if final.Messages[i].Role == agent.RoleAssistant && final.Messages[i].Content != "" {
				summary = final.Messages[i].Content
				break
			}
		}
	}
	prompt := fmt.Sprintf("Generate a short, concise title (max 5 words) for this research conversation:\nUser: %s\nTopic: %s", userMsg, summary)

	returnSchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title": {
				Type: genai.TypeString,
			},
		},
		Required: []string{"title"},
	}

	resp, err := s.Client.Models.GenerateContent(ctx, s.Cfg.FastModel, []*genai.Content{
		{Parts: []*genai.Part{{Text: prompt}}},
	}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   returnSchema,
	})
	if err != nil || len(resp.Candidates) == 0 {
		return
	}

	var respData struct {
		Title string `json:"title"`
	}
	rawJSON := ""
	for _, p := range resp.Candidates[0].Content.Parts {
		rawJSON += p.Text
	}
	if err := json.Unmarshal([]byte(rawJSON), &respData); err != nil {
		s.Logger.Error("Failed to unmarshal title generation response", "error", err, "raw_json", rawJSON)
		return
	}

	if respData.Title != "" {
		if _, err := s.DB.Pool.Exec(ctx, `UPDATE conversations SET title = $2 WHERE id = $1`, convID, respData.Title); err != nil {
			s.Logger.Error("Failed to update conversation title", "error", err)
		}
	}
}
