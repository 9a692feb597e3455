package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
	"github.com/tbourn/go-telegram-llm-bot/internal/repo"
)

func newBillingFixture(t *testing.T) (*BillingService, *EntitlementService) {
	t.Helper()
	db := newServicesDB(t)
	billing := NewBillingService(db, 499, "USD", 30)
	ents := NewEntitlementService(db, 10, 100)
	return billing, ents
}

func TestIssueInvoice_CarriesProduct(t *testing.T) {
	billing, ents := newBillingFixture(t)
	ctx := context.Background()

	if _, err := ents.Resolve(ctx, 42, "alice"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	inv, err := billing.IssueInvoice(ctx, 42)
	if err != nil {
		t.Fatalf("IssueInvoice: %v", err)
	}
	if inv.Amount != 499 || inv.Currency != "USD" || inv.Payload == "" {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
}

func TestValidatePreCheckout_UnknownPayload(t *testing.T) {
	billing, _ := newBillingFixture(t)

	_, err := billing.ValidatePreCheckout(context.Background(), "forged-payload")
	if !errors.Is(err, ErrUnknownInvoice) {
		t.Fatalf("expected ErrUnknownInvoice, got %v", err)
	}
}

func TestRecordPayment_GrantsPremium(t *testing.T) {
	billing, ents := newBillingFixture(t)
	ctx := context.Background()

	if _, err := ents.Resolve(ctx, 42, "alice"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	billing.Now = func() time.Time { return now }

	inv, err := billing.IssueInvoice(ctx, 42)
	if err != nil {
		t.Fatalf("IssueInvoice: %v", err)
	}
	if err := billing.RecordPayment(ctx, inv.Payload, "charge-1"); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	p, err := repo.GetProfile(ctx, billing.DB, 42)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !p.IsPremium() || p.SubscriptionExpiry == nil {
		t.Fatalf("premium not granted: %+v", p)
	}
	want := now.AddDate(0, 0, 30)
	if !p.SubscriptionExpiry.Equal(want) {
		t.Fatalf("expiry: want %v, got %v", want, p.SubscriptionExpiry)
	}
}

func TestRecordPayment_StackedPurchaseExtendsExpiry(t *testing.T) {
	billing, ents := newBillingFixture(t)
	ctx := context.Background()

	if _, err := ents.Resolve(ctx, 42, "alice"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	billing.Now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		inv, err := billing.IssueInvoice(ctx, 42)
		if err != nil {
			t.Fatalf("IssueInvoice #%d: %v", i, err)
		}
		if err := billing.RecordPayment(ctx, inv.Payload, "charge"); err != nil {
			t.Fatalf("RecordPayment #%d: %v", i, err)
		}
	}

	p, err := repo.GetProfile(ctx, billing.DB, 42)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	want := now.AddDate(0, 0, 60)
	if p.SubscriptionExpiry == nil || !p.SubscriptionExpiry.Equal(want) {
		t.Fatalf("stacked purchases must accumulate: want %v, got %v", want, p.SubscriptionExpiry)
	}
}

func TestRecordPayment_UnknownPayloadRecordsNothing(t *testing.T) {
	billing, ents := newBillingFixture(t)
	ctx := context.Background()

	if _, err := ents.Resolve(ctx, 42, "alice"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	err := billing.RecordPayment(ctx, "forged", "charge-1")
	if !errors.Is(err, ErrUnknownInvoice) {
		t.Fatalf("expected ErrUnknownInvoice, got %v", err)
	}

	p, err := repo.GetProfile(ctx, billing.DB, 42)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.IsPremium() {
		t.Fatal("forged payment must not grant premium")
	}
}

func TestCancelPremium(t *testing.T) {
	billing, ents := newBillingFixture(t)
	ctx := context.Background()

	if _, err := ents.Resolve(ctx, 42, "alice"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	// Cancelling a free profile is a reported no-op.
	cancelled, err := billing.CancelPremium(ctx, 42)
	if err != nil {
		t.Fatalf("CancelPremium free: %v", err)
	}
	if cancelled {
		t.Fatal("free profile reported as cancelled")
	}

	expiry := time.Now().UTC().Add(720 * time.Hour)
	if err := repo.SetSubscription(ctx, billing.DB, 42, domain.TierPremium, &expiry); err != nil {
		t.Fatalf("SetSubscription: %v", err)
	}

	cancelled, err = billing.CancelPremium(ctx, 42)
	if err != nil || !cancelled {
		t.Fatalf("CancelPremium premium: cancelled=%v err=%v", cancelled, err)
	}
	p, err := repo.GetProfile(ctx, billing.DB, 42)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.IsPremium() || p.SubscriptionExpiry != nil {
		t.Fatalf("revocation not persisted: %+v", p)
	}
}
