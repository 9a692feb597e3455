// Package services – BillingService
//
// This file implements the billing bridge: invoice creation, pre-checkout
// validation by opaque payload, payment recording, and entitlement
// activation/cancellation. The core pipeline never initiates billing — it
// only reads entitlement — so this service is driven entirely by platform
// payment events arriving at the bot layer.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
	"github.com/tbourn/go-telegram-llm-bot/internal/repo"
)

// BillingService issues invoices and converts confirmed payments into
// premium entitlements.
type BillingService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// PriceCents and Currency describe the premium product in the smallest
	// currency unit.
	PriceCents int64
	Currency   string

	// DurationDays is how long one purchase extends premium.
	DurationDays int

	// Title and Description appear on the invoice.
	Title       string
	Description string

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewBillingService constructs a BillingService for the premium product.
func NewBillingService(db *gorm.DB, priceCents int64, currency string, durationDays int) *BillingService {
	return &BillingService{
		DB:           db,
		PriceCents:   priceCents,
		Currency:     currency,
		DurationDays: durationDays,
		Title:        "Premium subscription",
		Description:  fmt.Sprintf("%d days of premium access", durationDays),
		Now:          time.Now,
	}
}

// IssueInvoice creates an immutable invoice for one purchase attempt and
// returns it, payload included, for the transport to send.
func (s *BillingService) IssueInvoice(ctx context.Context, userID int64) (*domain.Invoice, error) {
	return repo.CreateInvoice(ctx, s.DB, userID, s.PriceCents, s.Currency, s.Title, s.Description)
}

// ValidatePreCheckout looks up the invoice referenced by a pre-checkout
// payload. An unknown payload yields ErrUnknownInvoice and the payment must
// be rejected.
func (s *BillingService) ValidatePreCheckout(ctx context.Context, payload string) (*domain.Invoice, error) {
	inv, err := repo.GetInvoiceByPayload(ctx, s.DB, payload)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnknownInvoice
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// RecordPayment stores the completed transaction referenced by payload and
// grants premium in the same database transaction. A payload that matches no
// invoice yields ErrUnknownInvoice and records nothing.
func (s *BillingService) RecordPayment(ctx context.Context, payload, chargeID string) error {
	inv, err := s.ValidatePreCheckout(ctx, payload)
	if err != nil {
		return err
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CreatePayment(ctx, tx, inv.ID, inv.UserID, inv.Amount, domain.PaymentCompleted, chargeID); err != nil {
			return err
		}
		return s.grantPremium(ctx, tx, inv.UserID)
	})
}

// grantPremium moves the profile to premium, extending from the later of now
// and the current expiry so stacked purchases accumulate.
func (s *BillingService) grantPremium(ctx context.Context, tx *gorm.DB, userID int64) error {
	p, err := repo.GetProfile(ctx, tx, userID)
	if err != nil {
		return err
	}

	now := s.now()
	base := now
	if p.IsPremium() && p.SubscriptionExpiry != nil && p.SubscriptionExpiry.After(now) {
		base = *p.SubscriptionExpiry
	}
	expiry := base.AddDate(0, 0, s.DurationDays)
	return repo.SetSubscription(ctx, tx, userID, domain.TierPremium, &expiry)
}

// CancelPremium revokes a premium subscription immediately. Cancelling a
// free profile is a no-op: it reports false and mutates nothing.
func (s *BillingService) CancelPremium(ctx context.Context, userID int64) (bool, error) {
	p, err := repo.GetProfile(ctx, s.DB, userID)
	if err != nil {
		return false, err
	}
	if !p.IsPremium() {
		return false, nil
	}
	if err := repo.SetSubscription(ctx, s.DB, userID, domain.TierFree, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (s *BillingService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
