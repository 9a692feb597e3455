// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ChatTurn
// model (append-only conversation history).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
)

// CreateTurn appends a turn with a server-assigned UTC timestamp.
func CreateTurn(ctx context.Context, db *gorm.DB, userID int64, role, content string) (*domain.ChatTurn, error) {
	t := &domain.ChatTurn{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	return t, db.WithContext(ctx).Create(t).Error
}

// ListRecentTurns returns up to limit of the user's most recent turns in
// chronological (oldest-first) order. The query runs newest-first with a
// LIMIT, then the slice is reversed, so the window is a read-time
// truncation rather than a retention policy.
func ListRecentTurns(ctx context.Context, db *gorm.DB, userID int64, limit int) ([]domain.ChatTurn, error) {
	var out []domain.ChatTurn
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DeleteTurns removes all turns for a user. Deleting an empty history is not
// an error (the reset command is idempotent).
func DeleteTurns(ctx context.Context, db *gorm.DB, userID int64) error {
	return db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.ChatTurn{}).Error
}

// CountTurns returns the total stored turns for a user (history is retained
// beyond the read window, so this can exceed the window size).
func CountTurns(ctx context.Context, db *gorm.DB, userID int64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.ChatTurn{}).Where("user_id = ?", userID).Count(&total).Error
	return total, err
}
