// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the UsageStats aggregate: per-user
// lifetime token counters incremented after each completed response.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
)

// AddUsage increments the lifetime input/output token counters for a user,
// inserting the row on first use. The increment is a single upsert so
// concurrent responses cannot lose counts.
func AddUsage(ctx context.Context, db *gorm.DB, userID int64, inputTokens, outputTokens int64) error {
	row := &domain.UsageStats{
		UserID:       userID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		UpdatedAt:    time.Now().UTC(),
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"input_tokens":  gorm.Expr("input_tokens + ?", inputTokens),
			"output_tokens": gorm.Expr("output_tokens + ?", outputTokens),
			"updated_at":    row.UpdatedAt,
		}),
	}).Create(row).Error
}

// GetUsage returns the lifetime counters for a user; a user with no recorded
// usage yields a zero-valued row rather than an error.
func GetUsage(ctx context.Context, db *gorm.DB, userID int64) (*domain.UsageStats, error) {
	var s domain.UsageStats
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.UsageStats{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
