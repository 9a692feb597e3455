// Package services – QuotaService
//
// This file implements the quota ledger: the admit/deny decision for each
// inbound request given a user's entitlement and rolling daily counter.
//
// Two reset-window calibrations exist in the wild and both are supported
// behind an explicit configuration choice rather than a silent pick:
//
//   - ResetRolling:  the counter resets once 24h have elapsed since
//     LastResetDate.
//   - ResetCalendar: the counter resets when the calendar day of
//     LastResetDate differs from today in a fixed reference timezone.
//
// The check-then-increment is made atomic per user by a KeyedMutex held only
// for the read-modify-write of the counter — never across the response
// pipeline. Requests from different users never contend.
package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-telegram-llm-bot/internal/metrics"
	"github.com/tbourn/go-telegram-llm-bot/internal/repo"
)

// Reset-window strategies. See the package comment for the difference.
const (
	ResetRolling  = "rolling"
	ResetCalendar = "calendar"
)

// QuotaService decides whether a request is admitted under the user's daily
// quota, mutating the counter on admission.
type QuotaService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Entitlements resolves tier and limit before every decision.
	Entitlements *EntitlementService

	// Locks serializes per-user read-modify-writes.
	Locks *KeyedMutex

	// ResetMode selects the reset-window strategy (ResetRolling or
	// ResetCalendar). Invalid values behave as ResetRolling.
	ResetMode string

	// ResetLocation is the fixed reference timezone for ResetCalendar.
	// Nil means UTC.
	ResetLocation *time.Location

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewQuotaService constructs a QuotaService with the rolling reset strategy.
func NewQuotaService(db *gorm.DB, ents *EntitlementService, locks *KeyedMutex) *QuotaService {
	return &QuotaService{
		DB:           db,
		Entitlements: ents,
		Locks:        locks,
		ResetMode:    ResetRolling,
		Now:          time.Now,
	}
}

// Admit decides whether one more request from userID is permitted.
//
// It resolves the entitlement first (which may lazily downgrade an expired
// premium profile), then atomically applies the quota state machine:
//
//   - at/after the reset boundary: counter=1, LastResetDate=now, admit
//   - counter >= tier limit: deny, no mutation
//   - otherwise: increment counter, admit
//
// The returned Entitlement reflects the state the decision was made under,
// so callers can select model capability without a second resolution.
func (s *QuotaService) Admit(ctx context.Context, userID int64, handle string) (bool, Entitlement, error) {
	tr := otel.Tracer("services/QuotaService")
	ctx, span := tr.Start(ctx, "Admit",
		trace.WithAttributes(attribute.Int64("user.id", userID)),
	)
	defer span.End()

	unlock := s.Locks.Lock(userID)
	defer unlock()

	ent, err := s.Entitlements.Resolve(ctx, userID, handle)
	if err != nil {
		return false, Entitlement{}, err
	}

	p, err := repo.GetProfile(ctx, s.DB, userID)
	if err != nil {
		return false, ent, err
	}

	now := s.nowUTC()

	if s.shouldReset(p.LastResetDate, now) {
		if err := repo.UpdateQuota(ctx, s.DB, userID, 1, now); err != nil {
			return false, ent, fmt.Errorf("reset quota: %w", err)
		}
		metrics.RequestsAdmitted.WithLabelValues(ent.Tier).Inc()
		return true, ent, nil
	}

	if p.DailyRequests >= ent.DailyLimit {
		metrics.RequestsDenied.WithLabelValues(ent.Tier, "quota").Inc()
		return false, ent, nil
	}

	if err := repo.IncrementQuota(ctx, s.DB, userID); err != nil {
		return false, ent, fmt.Errorf("increment quota: %w", err)
	}
	metrics.RequestsAdmitted.WithLabelValues(ent.Tier).Inc()
	return true, ent, nil
}

// Remaining reports how many requests the user has left in the current
// window (used by the /status command). Never mutates state.
func (s *QuotaService) Remaining(ctx context.Context, userID int64, handle string) (int, Entitlement, error) {
	ent, err := s.Entitlements.Resolve(ctx, userID, handle)
	if err != nil {
		return 0, Entitlement{}, err
	}
	p, err := repo.GetProfile(ctx, s.DB, userID)
	if err != nil {
		return 0, ent, err
	}
	if s.shouldReset(p.LastResetDate, s.nowUTC()) {
		return ent.DailyLimit, ent, nil
	}
	left := ent.DailyLimit - p.DailyRequests
	if left < 0 {
		left = 0
	}
	return left, ent, nil
}

// shouldReset reports whether the reset boundary has been crossed for a
// window that started at lastReset.
func (s *QuotaService) shouldReset(lastReset, now time.Time) bool {
	if s.ResetMode == ResetCalendar {
		loc := s.ResetLocation
		if loc == nil {
			loc = time.UTC
		}
		ly, lm, ld := lastReset.In(loc).Date()
		ny, nm, nd := now.In(loc).Date()
		return ly != ny || lm != nm || ld != nd
	}
	return !now.Before(lastReset.Add(24 * time.Hour))
}

func (s *QuotaService) nowUTC() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
