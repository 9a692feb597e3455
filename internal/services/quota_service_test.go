package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
	"github.com/tbourn/go-telegram-llm-bot/internal/repo"
)

func newQuotaService(t *testing.T, freeLimit int) *QuotaService {
	t.Helper()
	db := newServicesDB(t)
	ents := NewEntitlementService(db, freeLimit, 100)
	return NewQuotaService(db, ents, NewKeyedMutex())
}

func TestAdmit_UpToLimitThenDeny(t *testing.T) {
	svc := newQuotaService(t, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, ent, err := svc.Admit(ctx, 42, "alice")
		if err != nil {
			t.Fatalf("Admit #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d within limit was denied", i)
		}
		if ent.DailyLimit != 3 {
			t.Fatalf("unexpected entitlement: %+v", ent)
		}
	}

	ok, _, err := svc.Admit(ctx, 42, "alice")
	if err != nil {
		t.Fatalf("Admit over limit: %v", err)
	}
	if ok {
		t.Fatal("request beyond the daily limit was admitted")
	}

	// Denial must not mutate the counter.
	p, err := repo.GetProfile(ctx, svc.DB, 42)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.DailyRequests != 3 {
		t.Fatalf("denied request mutated counter: %d", p.DailyRequests)
	}
}

func TestAdmit_BoundaryAdmitsLastSlot(t *testing.T) {
	svc := newQuotaService(t, 10)
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		if ok, _, err := svc.Admit(ctx, 42, "alice"); err != nil || !ok {
			t.Fatalf("Admit #%d: ok=%v err=%v", i, ok, err)
		}
	}
	// Tenth request fills the limit exactly.
	if ok, _, err := svc.Admit(ctx, 42, "alice"); err != nil || !ok {
		t.Fatalf("10th request must be admitted: ok=%v err=%v", ok, err)
	}
	if ok, _, err := svc.Admit(ctx, 42, "alice"); err != nil || ok {
		t.Fatalf("11th request must be denied: ok=%v err=%v", ok, err)
	}
}

func TestAdmit_RollingResetStartsFreshWindow(t *testing.T) {
	svc := newQuotaService(t, 2)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }
	svc.Entitlements.Now = svc.Now

	for i := 0; i < 2; i++ {
		if ok, _, err := svc.Admit(ctx, 42, "alice"); err != nil || !ok {
			t.Fatalf("seed admit: ok=%v err=%v", ok, err)
		}
	}
	if ok, _, _ := svc.Admit(ctx, 42, "alice"); ok {
		t.Fatal("limit not enforced before reset")
	}

	// Cross the 24h boundary: the stale counter must not deny the request.
	now = now.Add(24*time.Hour + time.Minute)
	ok, _, err := svc.Admit(ctx, 42, "alice")
	if err != nil || !ok {
		t.Fatalf("post-reset admit: ok=%v err=%v", ok, err)
	}

	p, err := repo.GetProfile(ctx, svc.DB, 42)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.DailyRequests != 1 {
		t.Fatalf("reset must count the admitted request, got %d", p.DailyRequests)
	}
	if !p.LastResetDate.Equal(now.UTC()) {
		t.Fatalf("LastResetDate not advanced: %v", p.LastResetDate)
	}
}

func TestAdmit_CalendarResetUsesReferenceZone(t *testing.T) {
	svc := newQuotaService(t, 1)
	svc.ResetMode = ResetCalendar
	svc.ResetLocation = time.UTC
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }
	svc.Entitlements.Now = svc.Now

	if ok, _, err := svc.Admit(ctx, 42, "alice"); err != nil || !ok {
		t.Fatalf("seed admit: ok=%v err=%v", ok, err)
	}
	if ok, _, _ := svc.Admit(ctx, 42, "alice"); ok {
		t.Fatal("limit not enforced within the day")
	}

	// Only 20 minutes later, but the calendar day flipped.
	now = time.Date(2026, 3, 2, 0, 10, 0, 0, time.UTC)
	if ok, _, err := svc.Admit(ctx, 42, "alice"); err != nil || !ok {
		t.Fatalf("midnight rollover admit: ok=%v err=%v", ok, err)
	}
}

func TestAdmit_ExpiredPremiumDecidedUnderFreeLimit(t *testing.T) {
	svc := newQuotaService(t, 1)
	ctx := context.Background()

	if ok, _, err := svc.Admit(ctx, 42, "alice"); err != nil || !ok {
		t.Fatalf("bootstrap admit: ok=%v err=%v", ok, err)
	}
	expired := time.Now().UTC().Add(-time.Hour)
	if err := repo.SetSubscription(ctx, svc.DB, 42, domain.TierPremium, &expired); err != nil {
		t.Fatalf("SetSubscription: %v", err)
	}

	// The lazy downgrade runs before the quota decision, so the free limit
	// of 1 (already spent) applies, not the premium one.
	ok, ent, err := svc.Admit(ctx, 42, "alice")
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if ok {
		t.Fatal("expired premium admitted under the premium limit")
	}
	if ent.DailyLimit != 1 {
		t.Fatalf("decision must observe the downgraded limit: %+v", ent)
	}
}

func TestAdmit_ConcurrentRequestsNeverExceedLimit(t *testing.T) {
	svc := newQuotaService(t, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := svc.Admit(ctx, 42, "alice")
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			if ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 5 {
		t.Fatalf("expected exactly 5 admissions, got %d", admitted)
	}
	p, err := repo.GetProfile(ctx, svc.DB, 42)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.DailyRequests != 5 {
		t.Fatalf("counter drifted under concurrency: %d", p.DailyRequests)
	}
}

func TestRemaining_ReportsWithoutMutating(t *testing.T) {
	svc := newQuotaService(t, 3)
	ctx := context.Background()

	if ok, _, err := svc.Admit(ctx, 42, "alice"); err != nil || !ok {
		t.Fatalf("seed admit: ok=%v err=%v", ok, err)
	}

	left, ent, err := svc.Remaining(ctx, 42, "alice")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if left != 2 || ent.DailyLimit != 3 {
		t.Fatalf("expected 2 of 3 left, got %d of %d", left, ent.DailyLimit)
	}

	// A second read returns the same number.
	left, _, err = svc.Remaining(ctx, 42, "alice")
	if err != nil || left != 2 {
		t.Fatalf("Remaining mutated state: left=%d err=%v", left, err)
	}
}
