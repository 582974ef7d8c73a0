// Package evidence archives gathered research resources into a pgvector
// index so past evidence stays searchable across conversations.
package evidence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mikeboe/research-canvas/pkg/agent"
	"github.com/mikeboe/research-canvas/pkg/splitter"
)

// Embedder turns text into vectors. Satisfied by embeddings.GoogleEmbedder.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Store indexes evidence chunks in the evidence_index table.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	splitter *splitter.TextSplitter
	dim      int
	logger   *slog.Logger
}

func NewStore(pool *pgxpool.Pool, embedder Embedder, split *splitter.TextSplitter, dimension int, logger *slog.Logger) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:     pool,
		embedder: embedder,
		splitter: split,
		dim:      dimension,
		logger:   logger,
	}, nil
}

// Init creates the index table. The pgvector extension must already exist.
func (s *Store) Init(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS evidence_index (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			conversation_id UUID NOT NULL,
			url TEXT NOT NULL,
			title TEXT,
			content TEXT NOT NULL,
			chunk_index INT NOT NULL DEFAULT 0,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE (conversation_id, url, chunk_index)
		)
	`, s.dim)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create evidence_index table: %w", err)
	}

	if s.dim <= 2000 {
		indexQuery := `
			CREATE INDEX IF NOT EXISTS evidence_index_embedding_idx
			ON evidence_index USING hnsw (embedding vector_cosine_ops)
		`
		if _, err := s.pool.Exec(ctx, indexQuery); err != nil {
			return fmt.Errorf("failed to create evidence_index index: %w", err)
		}
	}
	return nil
}

// Archive chunks, embeds, and stores the given resources. Resources without
// descriptive text are skipped; already-archived chunks are left untouched.
func (s *Store) Archive(ctx context.Context, conversationID string, resources []agent.Resource) error {
	query := `
		INSERT INTO evidence_index (conversation_id, url, title, content, chunk_index, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id, url, chunk_index) DO NOTHING
	`

	batch := &pgx.Batch{}
	queued := 0
	for _, r := range resources {
		text := r.Description
		if r.Title != "" {
			text = r.Title + "\n" + text
		}
		if text == "" || r.URL == "" {
			continue
		}

		chunks := []string{text}
		if s.splitter != nil {
			split, err := s.splitter.SplitText(text)
			if err != nil {
				return fmt.Errorf("splitting evidence for %s: %w", r.URL, err)
			}
			if len(split) > 0 {
				chunks = split
			}
		}

		vectors, err := s.embedder.EmbedTexts(ctx, chunks)
		if err != nil {
			return fmt.Errorf("embedding evidence for %s: %w", r.URL, err)
		}
		for i, chunk := range chunks {
			batch.Queue(query, conversationID, r.URL, r.Title, chunk, i, pgvector.NewVector(vectors[i]))
			queued++
		}
	}
	if queued == 0 {
		return nil
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert evidence chunk: %w", err)
		}
	}

	s.logger.Info("Evidence archived", "conversation_id", conversationID, "chunks", queued)
	return nil
}

// Hit is one evidence chunk matching a search query.
type Hit struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Search runs a cosine-similarity search over archived evidence. An empty
// conversationID searches across all conversations.
func (s *Store) Search(ctx context.Context, conversationID, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	embedding := pgvector.NewVector(vec)

	var rows pgx.Rows
	if conversationID != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT url, title, content, 1 - (embedding <=> $1) AS similarity
			FROM evidence_index
			WHERE conversation_id = $2
			ORDER BY embedding <=> $1
			LIMIT $3
		`, embedding, conversationID, topK)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT url, title, content, 1 - (embedding <=> $1) AS similarity
			FROM evidence_index
			ORDER BY embedding <=> $1
			LIMIT $2
		`, embedding, topK)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.URL, &h.Title, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return hits, nil
}
