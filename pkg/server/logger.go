package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/research-canvas/pkg/agent"
	"github.com/mikeboe/research-canvas/pkg/database"
)

// RunLogStore persists the progress log feed so clients reconnecting
// mid-turn or after a crash can still render it.
type RunLogStore struct {
	DB *database.PostgresDB
}

func NewRunLogStore(db *database.PostgresDB) *RunLogStore {
	return &RunLogStore{DB: db}
}

// Replace swaps the stored feed for the given conversation with the current
// one. The feed resets on every user turn, so replace matches the semantics.
func (s *RunLogStore) Replace(ctx context.Context, conversationID uuid.UUID, logs []agent.LogEntry) error {
	tx, err := s.DB.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin log transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM run_logs WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to clear run logs: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range logs {
		batch.Queue(
			`INSERT INTO run_logs (conversation_id, message, done) VALUES ($1, $2, $3)`,
			conversationID, l.Message, l.Done)
	}
	br := tx.SendBatch(ctx, batch)
	for range logs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert run log: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to flush run logs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run logs: %w", err)
	}
	return nil
}

// List returns the stored feed in insertion order.
func (s *RunLogStore) List(ctx context.Context, conversationID uuid.UUID) ([]agent.LogEntry, error) {
	rows, err := s.DB.Pool.Query(ctx,
		`SELECT message, done FROM run_logs WHERE conversation_id = $1 ORDER BY id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run logs: %w", err)
	}
	defer rows.Close()

	var logs []agent.LogEntry
	for rows.Next() {
		var l agent.LogEntry
		if err := rows.Scan(&l.Message, &l.Done); err != nil {
			return nil, fmt.Errorf("failed to scan run log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
