package bot

import (
	"context"
	"strings"
	"testing"
)

func TestSender_SendTextReturnsHandle(t *testing.T) {
	fx := newFixture(t, nil)
	s := NewSender(fx.bot.api)

	id, err := s.SendText(context.Background(), 42, "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a message handle")
	}
	if got := fx.rec.lastText(t, "sendMessage"); got != "hello" {
		t.Fatalf("wrong payload: %q", got)
	}
}

func TestSender_EditTextTargetsMessage(t *testing.T) {
	fx := newFixture(t, nil)
	s := NewSender(fx.bot.api)
	ctx := context.Background()

	id, err := s.SendText(ctx, 42, "first")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := s.EditText(ctx, 42, id, "first and more"); err != nil {
		t.Fatalf("EditText: %v", err)
	}

	calls := fx.rec.callsTo("editMessageText")
	if len(calls) != 1 {
		t.Fatalf("expected one edit, got %d", len(calls))
	}
	if calls[0].Params.Get("text") != "first and more" {
		t.Fatalf("edit payload wrong: %v", calls[0].Params)
	}
}

func TestSender_HonorsCancelledContext(t *testing.T) {
	fx := newFixture(t, nil)
	s := NewSender(fx.bot.api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.SendText(ctx, 42, "late"); err == nil {
		t.Fatal("expected context error")
	}
	if err := s.EditText(ctx, 42, 1, "late"); err == nil {
		t.Fatal("expected context error")
	}
	if calls := fx.rec.callsTo("sendMessage"); len(calls) != 0 {
		t.Fatal("nothing may be sent after cancellation")
	}
}

func TestSender_NotifyExpiredCarriesResubscribe(t *testing.T) {
	fx := newFixture(t, nil)
	s := NewSender(fx.bot.api)

	if err := s.NotifyExpired(context.Background(), 42); err != nil {
		t.Fatalf("NotifyExpired: %v", err)
	}

	calls := fx.rec.callsTo("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("expected one notice, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Params.Get("text"), "expired") {
		t.Fatalf("notice text wrong: %q", calls[0].Params.Get("text"))
	}
	if !strings.Contains(calls[0].Params.Get("reply_markup"), callbackBuyPremium) {
		t.Fatal("notice must carry the re-subscribe affordance")
	}
}
