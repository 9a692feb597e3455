package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
	"github.com/tbourn/go-telegram-llm-bot/internal/repo"
)

func TestContext_LoadReturnsWindowChronologically(t *testing.T) {
	db := newServicesDB(t)
	svc := NewContextService(db)
	svc.Window = 4
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		role := domain.RoleUser
		if i%2 == 0 {
			role = domain.RoleAssistant
		}
		if err := svc.Append(ctx, 42, role, fmt.Sprintf("turn-%d", i)); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}

	turns, err := svc.Load(ctx, 42)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("expected window of 4, got %d", len(turns))
	}
	for i, want := range []string{"turn-3", "turn-4", "turn-5", "turn-6"} {
		if turns[i].Content != want {
			t.Fatalf("position %d: want %q, got %q", i, want, turns[i].Content)
		}
	}
}

func TestContext_OlderTurnsRemainStored(t *testing.T) {
	db := newServicesDB(t)
	svc := NewContextService(db)
	svc.Window = 2
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := svc.Append(ctx, 42, domain.RoleUser, fmt.Sprintf("turn-%d", i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	total, err := repo.CountTurns(ctx, db, 42)
	if err != nil {
		t.Fatalf("CountTurns: %v", err)
	}
	if total != 5 {
		t.Fatalf("window must truncate reads only, stored=%d", total)
	}
}

func TestContext_ClearIsIdempotent(t *testing.T) {
	db := newServicesDB(t)
	svc := NewContextService(db)
	ctx := context.Background()

	if err := svc.Append(ctx, 42, domain.RoleUser, "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := svc.Clear(ctx, 42); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	turns, err := svc.Load(ctx, 42)
	if err != nil || len(turns) != 0 {
		t.Fatalf("history not cleared: n=%d err=%v", len(turns), err)
	}

	if err := svc.Clear(ctx, 42); err != nil {
		t.Fatalf("clearing an empty history must succeed: %v", err)
	}
}
