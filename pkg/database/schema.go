package database

import (
	"context"
	"fmt"

	"github.com/mikeboe/frontier-scout/pkg/embeddings"
)

func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// paper_library carries a vector column, so the extension goes first.
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return fmt.Errorf("failed to ensure vector extension: %w", err)
	}

	// 1. Explorations Table
	explorationsQuery := `
		CREATE TABLE IF NOT EXISTS explorations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			topic TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'science',
			status TEXT NOT NULL DEFAULT 'pending',
			prior_context TEXT NOT NULL DEFAULT '',
			max_iterations INT NOT NULL DEFAULT 10,
			content JSONB,
			classification JSONB,
			state JSONB,
			error TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, explorationsQuery); err != nil {
		return fmt.Errorf("failed to create explorations table: %w", err)
	}

	// 2. Exploration Logs Table
	logsQuery := `
		CREATE TABLE IF NOT EXISTS exploration_logs (
			id SERIAL PRIMARY KEY,
			exploration_id UUID NOT NULL REFERENCES explorations(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create exploration_logs table: %w", err)
	}

	// Indexes for faster querying
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_exploration_logs_exploration_id ON exploration_logs(exploration_id)"); err != nil {
		return fmt.Errorf("failed to create index on exploration_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_explorations_created_at ON explorations(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on explorations: %w", err)
	}

	// 3. Paper Library Table
	libraryQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS paper_library (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			paper_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			authors JSONB NOT NULL DEFAULT '[]',
			year INT NOT NULL DEFAULT 0,
			citation_count INT NOT NULL DEFAULT 0,
			venue TEXT NOT NULL DEFAULT '',
			abstract TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			first_topic TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`, embeddings.Dimensions)
	if _, err := db.Pool.Exec(ctx, libraryQuery); err != nil {
		return fmt.Errorf("failed to create paper_library table: %w", err)
	}

	// HNSW cosine index; 1536 dimensions is within the 2000 pgvector allows.
	indexQuery := `
		CREATE INDEX IF NOT EXISTS paper_library_embedding_idx
		ON paper_library USING hnsw (embedding vector_cosine_ops)
	`
	if _, err := db.Pool.Exec(ctx, indexQuery); err != nil {
		return fmt.Errorf("failed to create index on paper_library: %w", err)
	}

	return nil
}
