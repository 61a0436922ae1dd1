package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mikeboe/frontier-scout/pkg/database"
)

// DBLogHandler is a slog.Handler that writes records to the exploration's
// log trail in the database.
type DBLogHandler struct {
	DB            *database.PostgresDB
	ExplorationID uuid.UUID
}

func NewDBLogHandler(db *database.PostgresDB, explorationID uuid.UUID) *DBLogHandler {
	return &DBLogHandler{
		DB:            db,
		ExplorationID: explorationID,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true // Log everything
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	// Extract attributes to JSON
	attrs := make(map[string]interface{})
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO exploration_logs (exploration_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`

	// Use background context so log rows persist even if the request context
	// that produced them has already been canceled.
	_, err = h.DB.Pool.Exec(context.Background(), query, h.ExplorationID, r.Time, r.Level.String(), r.Message, metaJSON)
	return err
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Attribute chaining is not needed for the trail; records carry their own
	// attributes already.
	return h
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	return h
}
