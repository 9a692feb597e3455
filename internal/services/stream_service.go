// Package services – StreamService
//
// This file implements the streaming response engine: it drives the model
// completion call, coalesces incremental deltas into live-edited outbound
// messages under a chunking policy, persists the assistant turn, and
// reconciles token accounting afterward.
//
// The flush policy is an explicit accumulator+flush state machine with two
// states: no message sent yet, and message sent (handle + committed text).
// A flush either sends the first message or edits the existing one to
// committed+buffer. Edits amortize transport calls — the platform cannot
// cheaply resend a finished message per token — while still giving the user
// live-updating output.
//
// Failure handling: any error before the first flush surfaces to the caller
// with nothing sent. After a partial flush, the already-sent message stands
// as-is (no corrective edit), the committed text is persisted as the
// assistant turn, and the error still surfaces so the handler can send the
// generic apology.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
	"github.com/tbourn/go-telegram-llm-bot/internal/llm"
	"github.com/tbourn/go-telegram-llm-bot/internal/metrics"
	"github.com/tbourn/go-telegram-llm-bot/internal/repo"
)

// DefaultChunkThreshold is the buffer size that forces a flush when no
// newline arrives first.
const DefaultChunkThreshold = 100

// Outbound is the messaging transport contract required by StreamService:
// send a new message (returning its handle) or replace the text of a
// previously sent one.
type Outbound interface {
	SendText(ctx context.Context, chatID int64, text string) (messageID int, err error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
}

// Completer opens streaming completion requests. *llm.Client satisfies it.
type Completer interface {
	StreamChat(ctx context.Context, req llm.Request) (llm.Stream, error)
}

// StreamService streams model output into edited outbound messages.
type StreamService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Context supplies and stores conversation turns.
	Context *ContextService

	// LLM opens the completion stream.
	LLM Completer

	// Out delivers send/edit operations to the messaging platform.
	Out Outbound

	// Model capability and budget per tier.
	FreeModel        string
	PremiumModel     string
	FreeMaxTokens    int
	PremiumMaxTokens int

	// Temperature for every completion call.
	Temperature float64

	// SystemPrompt, when non-empty, is prepended to every completion call.
	// It is never stored in history.
	SystemPrompt string

	// ChunkThreshold is the flush threshold in characters; <= 0 uses
	// DefaultChunkThreshold.
	ChunkThreshold int

	// StreamTimeout bounds the completion call; <= 0 means no bound beyond
	// the caller's context.
	StreamTimeout time.Duration
}

// flusher is the accumulator+flush state machine. committed is the text the
// outbound message currently shows; messageID is zero until the first flush.
type flusher struct {
	out       Outbound
	chatID    int64
	messageID int
	committed string
	buf       strings.Builder
}

// flush commits the buffer: first flush sends, later flushes edit. The
// buffer is cleared only on success, so a failed flush leaves state intact
// for the caller to abandon.
func (f *flusher) flush(ctx context.Context) error {
	if f.buf.Len() == 0 {
		return nil
	}
	if f.messageID == 0 {
		id, err := f.out.SendText(ctx, f.chatID, f.buf.String())
		if err != nil {
			return err
		}
		f.messageID = id
		f.committed = f.buf.String()
		metrics.StreamFlushes.WithLabelValues("send").Inc()
	} else {
		next := f.committed + f.buf.String()
		if err := f.out.EditText(ctx, f.chatID, f.messageID, next); err != nil {
			return err
		}
		f.committed = next
		metrics.StreamFlushes.WithLabelValues("edit").Inc()
	}
	f.buf.Reset()
	return nil
}

// Respond runs one full streamed response for an admitted request.
//
// Steps: select model/budget from the entitlement, load the bounded context,
// persist the user turn, stream the completion into flushes, persist the
// assistant turn, and record token usage (best-effort). The entitlement is
// passed in by the caller so admission and capability selection observe the
// same state.
func (s *StreamService) Respond(ctx context.Context, ent Entitlement, userID, chatID int64, prompt string) error {
	tr := otel.Tracer("services/StreamService")
	ctx, span := tr.Start(ctx, "Respond",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.String("tier", ent.Tier),
		),
	)
	defer span.End()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}

	history, err := s.Context.Load(ctx, userID)
	if err != nil {
		metrics.StreamFailures.WithLabelValues("context").Inc()
		return fmt.Errorf("load context: %w", err)
	}
	if err := s.Context.Append(ctx, userID, domain.RoleUser, prompt); err != nil {
		metrics.StreamFailures.WithLabelValues("context").Inc()
		return fmt.Errorf("append user turn: %w", err)
	}

	req := s.buildRequest(ent, history, prompt)

	if s.StreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.StreamTimeout)
		defer cancel()
	}

	started := time.Now()
	stream, err := s.LLM.StreamChat(ctx, req)
	if err != nil {
		metrics.StreamFailures.WithLabelValues("open").Inc()
		return fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	threshold := s.ChunkThreshold
	if threshold <= 0 {
		threshold = DefaultChunkThreshold
	}

	f := &flusher{out: s.Out, chatID: chatID}
	var full strings.Builder
	var streamErr error

	for {
		d, rerr := stream.Recv()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			streamErr = rerr
			break
		}
		if d.Content == "" {
			continue
		}

		f.buf.WriteString(d.Content)
		full.WriteString(d.Content)

		if f.buf.Len() >= threshold || strings.Contains(d.Content, "\n") {
			if ferr := f.flush(ctx); ferr != nil {
				streamErr = ferr
				break
			}
		}
	}

	if streamErr != nil {
		metrics.StreamFailures.WithLabelValues("stream").Inc()
		// Partial output is accepted as final: whatever was flushed stands,
		// and only the committed text is persisted.
		if f.committed != "" {
			if perr := s.Context.Append(ctx, userID, domain.RoleAssistant, f.committed); perr != nil {
				log.Error().Err(perr).Int64("user_id", userID).Msg("persist partial assistant turn")
			}
		}
		return fmt.Errorf("stream response: %w", streamErr)
	}

	if err := f.flush(ctx); err != nil {
		metrics.StreamFailures.WithLabelValues("flush").Inc()
		if f.committed != "" {
			if perr := s.Context.Append(ctx, userID, domain.RoleAssistant, f.committed); perr != nil {
				log.Error().Err(perr).Int64("user_id", userID).Msg("persist partial assistant turn")
			}
		}
		return fmt.Errorf("final flush: %w", err)
	}

	response := full.String()
	if response != "" {
		if err := s.Context.Append(ctx, userID, domain.RoleAssistant, response); err != nil {
			metrics.StreamFailures.WithLabelValues("context").Inc()
			return fmt.Errorf("append assistant turn: %w", err)
		}
	}

	s.recordUsage(ctx, userID, req, response, stream.Usage())
	metrics.StreamDuration.Observe(time.Since(started).Seconds())
	return nil
}

// buildRequest assembles the ordered message list: optional system prompt,
// bounded history, then the new prompt as the final message.
func (s *StreamService) buildRequest(ent Entitlement, history []domain.ChatTurn, prompt string) llm.Request {
	msgs := make([]llm.Message, 0, len(history)+2)
	if s.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: domain.RoleSystem, Content: s.SystemPrompt})
	}
	for _, t := range history {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: domain.RoleUser, Content: prompt})

	model := s.FreeModel
	budget := s.FreeMaxTokens
	if ent.Tier == domain.TierPremium {
		model = s.PremiumModel
		budget = s.PremiumMaxTokens
	}

	temp := s.Temperature
	req := llm.Request{
		Model:       model,
		Messages:    msgs,
		Temperature: &temp,
	}
	if budget > 0 {
		req.MaxTokens = &budget
	}
	return req
}

// recordUsage reconciles token accounting. Provider-reported usage wins;
// otherwise tokens are estimated as ceil(runeLength/4). The increment is
// best-effort — a failed write never fails the response.
func (s *StreamService) recordUsage(ctx context.Context, userID int64, req llm.Request, response string, u *llm.Usage) {
	var in, out int64
	if u != nil && (u.PromptTokens > 0 || u.CompletionTokens > 0) {
		in, out = u.PromptTokens, u.CompletionTokens
	} else {
		var promptChars int
		for _, m := range req.Messages {
			promptChars += utf8.RuneCountInString(m.Content)
		}
		in = estimateTokens(promptChars)
		out = estimateTokens(utf8.RuneCountInString(response))
	}

	if err := repo.AddUsage(ctx, s.DB, userID, in, out); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("usage stats increment failed")
	}
	metrics.Tokens.WithLabelValues("input").Add(float64(in))
	metrics.Tokens.WithLabelValues("output").Add(float64(out))
}

// estimateTokens approximates token count as ceil(chars/4).
func estimateTokens(chars int) int64 {
	return int64((chars + 3) / 4)
}
