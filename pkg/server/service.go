package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/frontier-scout/pkg/database"
	"github.com/mikeboe/frontier-scout/pkg/exploration"
	"github.com/mikeboe/frontier-scout/pkg/library"
)

// ErrExplorationNotFound marks lookups for ids that do not exist; handlers
// turn it into a 404.
var ErrExplorationNotFound = errors.New("exploration not found")

type Service struct {
	DB      *database.PostgresDB
	Engine  *exploration.Engine
	Library *library.Store
	Logger  *slog.Logger
}

func NewService(db *database.PostgresDB, engine *exploration.Engine, lib *library.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		DB:      db,
		Engine:  engine,
		Library: lib,
		Logger:  logger,
	}
}

// Job is one persisted exploration, queued or finished.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	Topic          string          `json:"topic"`
	Mode           string          `json:"mode"`
	Status         string          `json:"status"`
	Content        json.RawMessage `json:"content,omitempty"`
	Classification json.RawMessage `json:"classification,omitempty"`
	State          json.RawMessage `json:"state,omitempty"`
	Error          *string         `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type CreateExplorationRequest struct {
	Topic         string `json:"topic"`
	Mode          string `json:"mode"`
	PriorContext  string `json:"priorContext"`
	MaxIterations int    `json:"maxIterations"`
}

func (r CreateExplorationRequest) toLoopRequest(mode exploration.Mode) exploration.Request {
	return exploration.Request{
		Topic:         strings.TrimSpace(r.Topic),
		Mode:          mode,
		PriorContext:  r.PriorContext,
		MaxIterations: r.MaxIterations,
	}
}

// CreateExploration persists the job and starts the research in the
// background; the returned record is still pending.
func (s *Service) CreateExploration(ctx context.Context, req CreateExplorationRequest) (*Job, error) {
	mode, err := exploration.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Topic) == "" {
		return nil, fmt.Errorf("topic is required")
	}

	job, err := s.insertExploration(ctx, req, mode)
	if err != nil {
		return nil, err
	}

	go s.runWorker(job.ID, req.toLoopRequest(mode))

	return job, nil
}

// BeginExploration persists the job without starting a worker; the streaming
// handler drives the run itself and saves the outcome when it ends.
func (s *Service) BeginExploration(ctx context.Context, req CreateExplorationRequest) (*Job, exploration.Request, error) {
	mode, err := exploration.ParseMode(req.Mode)
	if err != nil {
		return nil, exploration.Request{}, err
	}
	if strings.TrimSpace(req.Topic) == "" {
		return nil, exploration.Request{}, fmt.Errorf("topic is required")
	}

	job, err := s.insertExploration(ctx, req, mode)
	if err != nil {
		return nil, exploration.Request{}, err
	}
	s.setStatus(ctx, job.ID, "running")

	return job, req.toLoopRequest(mode), nil
}

func (s *Service) insertExploration(ctx context.Context, req CreateExplorationRequest, mode exploration.Mode) (*Job, error) {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = exploration.DefaultMaxIterations
	}

	query := `
		INSERT INTO explorations (id, topic, mode, status, prior_context, max_iterations)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		RETURNING id, topic, mode, status, created_at, updated_at
	`

	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query,
		uuid.New(), strings.TrimSpace(req.Topic), string(mode), req.PriorContext, maxIter,
	).Scan(&job.ID, &job.Topic, &job.Mode, &job.Status, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create exploration: %w", err)
	}

	return job, nil
}

func (s *Service) GetExploration(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `
		SELECT id, topic, mode, status, content, classification, state, error, created_at, updated_at
		FROM explorations
		WHERE id = $1
	`
	job := &Job{}
	err := s.DB.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.Topic, &job.Mode, &job.Status,
		&job.Content, &job.Classification, &job.State, &job.Error,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExplorationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exploration: %w", err)
	}
	return job, nil
}

// ListExplorations returns recent jobs without their bulky state payloads.
func (s *Service) ListExplorations(ctx context.Context) ([]Job, error) {
	query := `
		SELECT id, topic, mode, status, error, created_at, updated_at
		FROM explorations
		ORDER BY created_at DESC
		LIMIT 50
	`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list explorations: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.Topic, &job.Mode, &job.Status, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (s *Service) GetExplorationLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM exploration_logs
		WHERE exploration_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

func (s *Service) runWorker(id uuid.UUID, req exploration.Request) {
	ctx := context.Background()

	s.setStatus(ctx, id, "running")

	// Per-job engine copy so loop logs land in this exploration's trail.
	dbLogger := slog.New(NewDBLogHandler(s.DB, id))
	engine := *s.Engine
	engine.Logger = dbLogger

	ex, err := engine.Explore(ctx, req, nil)
	if err != nil {
		s.failExploration(ctx, id, fmt.Sprintf("Research failed: %v", err))
		return
	}

	s.finishExploration(ctx, id, ex, dbLogger)
}

// finishExploration persists the outcome and feeds the collected papers into
// the library. Indexing failures are logged, never fatal; the exploration
// result is already safe at that point.
func (s *Service) finishExploration(ctx context.Context, id uuid.UUID, ex *exploration.Exploration, logger *slog.Logger) {
	contentJSON, _ := json.Marshal(ex.Content)
	clsJSON, _ := json.Marshal(ex.Classification)
	stateJSON, err := json.Marshal(ex.Context)
	if err != nil {
		logger.Error("Failed to marshal exploration state", "error", err)
		stateJSON = []byte("{}")
	}

	_, err = s.DB.Pool.Exec(ctx, `
		UPDATE explorations
		SET status = $2, content = $3, classification = $4, state = $5, updated_at = NOW()
		WHERE id = $1
	`, id, string(ex.Context.Status), contentJSON, clsJSON, stateJSON)
	if err != nil {
		logger.Error("Failed to save exploration result", "error", err)
	}

	if s.Library != nil && len(ex.Context.Papers) > 0 {
		indexed, err := s.Library.IndexPapers(ctx, ex.Topic, ex.Context.PaperList())
		if err != nil {
			logger.Error("Failed to index papers into the library", "error", err)
		} else if indexed > 0 {
			logger.Info("Indexed papers into the library", "count", indexed)
		}
	}
}

func (s *Service) failExploration(ctx context.Context, id uuid.UUID, reason string) {
	dbLogger := slog.New(NewDBLogHandler(s.DB, id))
	dbLogger.Error(reason)

	_, _ = s.DB.Pool.Exec(ctx,
		"UPDATE explorations SET status = 'failed', error = $2, updated_at = NOW() WHERE id = $1",
		id, reason)
}

func (s *Service) setStatus(ctx context.Context, id uuid.UUID, status string) {
	_, _ = s.DB.Pool.Exec(ctx,
		"UPDATE explorations SET status = $2, updated_at = NOW() WHERE id = $1",
		id, status)
}
