// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the UserProfile
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a profile is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
//
// It aliases gorm.ErrRecordNotFound so callers can use errors.Is either way.
var ErrNotFound = gorm.ErrRecordNotFound

// GetProfile fetches a profile by user ID, or ErrNotFound if missing.
func GetProfile(ctx context.Context, db *gorm.DB, userID int64) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrCreateProfile fetches the profile for userID, inserting a default
// free/zero-counter row if none exists. This is the sole creation path for
// profiles. The handle is refreshed on existing rows when it changed.
func GetOrCreateProfile(ctx context.Context, db *gorm.DB, userID int64, handle string) (*domain.UserProfile, error) {
	p, err := GetProfile(ctx, db, userID)
	if err == nil {
		if handle != "" && p.Handle != handle {
			if uerr := db.WithContext(ctx).Model(p).Update("handle", handle).Error; uerr == nil {
				p.Handle = handle
			}
		}
		return p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	p = &domain.UserProfile{
		UserID:        userID,
		Handle:        handle,
		Tier:          domain.TierFree,
		DailyRequests: 0,
		LastResetDate: now,
		CreatedAt:     now,
	}
	// Another concurrent first contact may have won the insert; fall back to a read.
	if cerr := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p).Error; cerr != nil {
		return nil, cerr
	}
	return GetProfile(ctx, db, userID)
}

// UpdateQuota sets the daily counter and reset timestamp for a profile.
func UpdateQuota(ctx context.Context, db *gorm.DB, userID int64, dailyRequests int, lastReset time.Time) error {
	return db.WithContext(ctx).Model(&domain.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"daily_requests":  dailyRequests,
			"last_reset_date": lastReset,
		}).Error
}

// IncrementQuota bumps the daily counter by one without touching the reset
// timestamp. The increment happens in SQL so concurrent writers cannot
// clobber each other's value.
func IncrementQuota(ctx context.Context, db *gorm.DB, userID int64) error {
	return db.WithContext(ctx).Model(&domain.UserProfile{}).
		Where("user_id = ?", userID).
		UpdateColumn("daily_requests", gorm.Expr("daily_requests + 1")).Error
}

// SetSubscription writes the tier and expiry for a profile. Pass a nil expiry
// to clear it (free tier).
func SetSubscription(ctx context.Context, db *gorm.DB, userID int64, tier string, expiry *time.Time) error {
	return db.WithContext(ctx).Model(&domain.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"tier":                tier,
			"subscription_expiry": expiry,
		}).Error
}
