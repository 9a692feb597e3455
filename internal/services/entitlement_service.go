// Package services – EntitlementService
//
// This file implements the subscription state manager. It resolves a user's
// current entitlement (tier, daily limit, expiry), creating a default free
// profile on first contact — the sole creation path for a UserProfile — and
// lazily downgrading premium profiles whose paid period has ended.
//
// Expiry is detected on read rather than by a background sweep: the check is
// idempotent and runs before any quota or streaming decision on every turn,
// so premium access cannot outlive its paid period by more than one
// resolution. The downgrade's user notification is best-effort; a failed
// notice never blocks the downgrade from being observed by the caller.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
	"github.com/tbourn/go-telegram-llm-bot/internal/repo"
)

// Entitlement is a user's current subscription tier plus its associated
// daily request limit and expiry.
type Entitlement struct {
	Tier       string
	DailyLimit int
	Expiry     *time.Time
}

// ExpiryNotifier delivers the one-time premium-expired notice with a
// re-subscribe affordance. Implemented by the bot transport.
type ExpiryNotifier interface {
	NotifyExpired(ctx context.Context, userID int64) error
}

// EntitlementService resolves and maintains subscription state.
type EntitlementService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// FreeLimit and PremiumLimit are the per-tier daily request limits.
	FreeLimit    int
	PremiumLimit int

	// Notifier, when set, receives best-effort expiry notices.
	Notifier ExpiryNotifier

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewEntitlementService constructs an EntitlementService with the given
// per-tier limits.
func NewEntitlementService(db *gorm.DB, freeLimit, premiumLimit int) *EntitlementService {
	return &EntitlementService{
		DB:           db,
		FreeLimit:    freeLimit,
		PremiumLimit: premiumLimit,
		Now:          time.Now,
	}
}

// Resolve loads (or creates) the profile for userID and returns the current
// entitlement. A premium profile whose expiry is in the past is atomically
// downgraded to free with its expiry cleared before the entitlement is
// returned.
func (s *EntitlementService) Resolve(ctx context.Context, userID int64, handle string) (Entitlement, error) {
	tr := otel.Tracer("services/EntitlementService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.Int64("user.id", userID)),
	)
	defer span.End()

	p, err := repo.GetOrCreateProfile(ctx, s.DB, userID, handle)
	if err != nil {
		return Entitlement{}, err
	}

	if p.IsPremium() && p.SubscriptionExpiry != nil && p.SubscriptionExpiry.Before(s.now()) {
		if err := repo.SetSubscription(ctx, s.DB, userID, domain.TierFree, nil); err != nil {
			return Entitlement{}, err
		}
		p.Tier = domain.TierFree
		p.SubscriptionExpiry = nil

		if s.Notifier != nil {
			if nerr := s.Notifier.NotifyExpired(ctx, userID); nerr != nil {
				log.Warn().Err(nerr).Int64("user_id", userID).Msg("expiry notice failed")
			}
		}
	}

	return Entitlement{
		Tier:       p.Tier,
		DailyLimit: s.limitFor(p.Tier),
		Expiry:     p.SubscriptionExpiry,
	}, nil
}

// limitFor maps a tier to its daily request limit.
func (s *EntitlementService) limitFor(tier string) int {
	if tier == domain.TierPremium {
		return s.PremiumLimit
	}
	return s.FreeLimit
}

func (s *EntitlementService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
