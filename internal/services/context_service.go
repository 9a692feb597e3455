// Package services – ContextService
//
// This file implements the bounded conversational context store. Turns are
// append-only with server-assigned timestamps; reads return the most recent
// window in chronological order for prompt assembly; the reset command
// deletes a user's history in bulk.
//
// The window bound is purely a read-time truncation — older turns remain
// stored indefinitely. Storage growth is therefore unbounded per user; a
// retention sweep would be a separate operational concern.
package services

import (
	"context"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
	"github.com/tbourn/go-telegram-llm-bot/internal/repo"
)

// DefaultContextWindow is the number of most recent turns used when no
// window is configured.
const DefaultContextWindow = 8

// ContextService owns per-user conversation history.
type ContextService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Window caps how many recent turns Load returns.
	Window int
}

// NewContextService constructs a ContextService with the default window.
func NewContextService(db *gorm.DB) *ContextService {
	return &ContextService{DB: db, Window: DefaultContextWindow}
}

// Append stores one turn for the user. The timestamp is server-assigned.
func (s *ContextService) Append(ctx context.Context, userID int64, role, content string) error {
	_, err := repo.CreateTurn(ctx, s.DB, userID, role, content)
	return err
}

// Load returns the user's most recent turns, oldest first — fewer if the
// history is shorter, empty if there is none.
func (s *ContextService) Load(ctx context.Context, userID int64) ([]domain.ChatTurn, error) {
	tr := otel.Tracer("services/ContextService")
	ctx, span := tr.Start(ctx, "Load",
		trace.WithAttributes(attribute.Int64("user.id", userID)),
	)
	defer span.End()

	window := s.Window
	if window <= 0 {
		window = DefaultContextWindow
	}
	return repo.ListRecentTurns(ctx, s.DB, userID, window)
}

// Clear deletes all turns for the user. Clearing an already-empty history
// succeeds (the reset command is idempotent).
func (s *ContextService) Clear(ctx context.Context, userID int64) error {
	return repo.DeleteTurns(ctx, s.DB, userID)
}
