package library

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mikeboe/frontier-scout/pkg/sources"
)

// Embedder is the vectorization capability the library needs.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Entry is one library record: the paper, the topic that first surfaced it
// and, on search results, the cosine similarity to the query.
type Entry struct {
	Paper      sources.Paper `json:"paper"`
	FirstTopic string        `json:"firstTopic,omitempty"`
	Similarity float64       `json:"similarity,omitempty"`
}

// Store is the persistent paper library. Every completed exploration feeds
// its papers in; paper ids already present keep their first-seen record.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   *slog.Logger
}

func NewStore(pool *pgxpool.Pool, embedder Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}
}

const insertPaperQuery = `
	INSERT INTO paper_library (paper_id, title, authors, year, citation_count, venue, abstract, url, first_topic, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (paper_id) DO NOTHING
`

// IndexPapers embeds and stores papers that are not in the library yet.
// Returns how many rows were actually inserted. A paper whose embedding
// fails is skipped with a warning; one bad abstract does not lose the batch.
func (s *Store) IndexPapers(ctx context.Context, topic string, papers []sources.Paper) (int, error) {
	if len(papers) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(papers))
	for _, p := range papers {
		if p.PaperID != "" {
			ids = append(ids, p.PaperID)
		}
	}
	existing, err := s.existingIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	queued := 0
	for _, p := range papers {
		if p.PaperID == "" || existing[p.PaperID] {
			continue
		}

		vec, err := s.embedder.EmbedText(ctx, embeddingText(p))
		if err != nil {
			s.logger.Warn("Skipping paper, embedding failed", "paperId", p.PaperID, "error", err)
			continue
		}

		authors := p.Authors
		if authors == nil {
			authors = []string{}
		}
		authorsJSON, err := json.Marshal(authors)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal authors: %w", err)
		}

		batch.Queue(insertPaperQuery,
			p.PaperID, p.Title, authorsJSON, p.Year, p.CitationCount,
			p.Venue, p.Abstract, p.URL, topic, pgvector.NewVector(vec))
		queued++
	}
	if queued == 0 {
		return 0, nil
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := 0; i < queued; i++ {
		ct, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to index paper: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}

	return inserted, nil
}

func (s *Store) existingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT paper_id FROM paper_library WHERE paper_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing papers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan paper id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return existing, nil
}

const searchQuery = `
	SELECT paper_id, title, authors, year, citation_count, venue, abstract, url, first_topic,
	       1 - (embedding <=> $1) AS similarity
	FROM paper_library
	ORDER BY embedding <=> $1
	LIMIT $2
`

// Search embeds the query and returns the closest library entries by cosine
// similarity, best match first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if query == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}

	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search query: %w", err)
	}

	rows, err := s.pool.Query(ctx, searchQuery, pgvector.NewVector(vec), normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to execute library search: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var authorsJSON []byte

		if err := rows.Scan(
			&entry.Paper.PaperID, &entry.Paper.Title, &authorsJSON, &entry.Paper.Year,
			&entry.Paper.CitationCount, &entry.Paper.Venue, &entry.Paper.Abstract,
			&entry.Paper.URL, &entry.FirstTopic, &entry.Similarity,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal(authorsJSON, &entry.Paper.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

// Size reports how many papers the library holds.
func (s *Store) Size(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM paper_library`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count papers: %w", err)
	}
	return count, nil
}

// Search limits protect the index scan; explorers paging deeper than this
// should refine the query instead.
const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

// embedAbstractLen bounds the text sent to the embedding model; abstracts
// beyond it add cost without improving retrieval much.
const embedAbstractLen = 2000

func embeddingText(p sources.Paper) string {
	if p.Abstract == "" {
		return p.Title
	}
	abstract := p.Abstract
	if runes := []rune(abstract); len(runes) > embedAbstractLen {
		abstract = string(runes[:embedAbstractLen])
	}
	return p.Title + "\n\n" + abstract
}
